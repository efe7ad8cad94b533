package persistence

import (
	"github.com/shiplabel/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// AutoMigrate creates or updates the label purchase schema
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.OrderModel{},
		&models.LabelModel{},
		&models.CustomsModel{},
		&models.PackageTemplateModel{},
		&models.PredefinedPackageModel{},
		&models.OriginAddressModel{},
	)
}
