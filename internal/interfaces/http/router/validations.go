package router

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shiplabel/backend/internal/domain/shipping"
)

// RegisterValidations installs the label-specific binding rules on gin's
// validator engine. Safe to call more than once.
func RegisterValidations() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("papersize", func(fl validator.FieldLevel) bool {
		return shipping.IsValidPaperSize(fl.Field().String())
	})
}
