package models

import (
	"encoding/json"
	"time"

	"github.com/shiplabel/backend/internal/domain/shipping"
)

// LabelModel persists one purchased label together with the address
// snapshots frozen at purchase time
type LabelModel struct {
	ID              uint   `gorm:"primaryKey"`
	OrderID         int64  `gorm:"index:idx_labels_order_shipment;not null"`
	ShipmentID      string `gorm:"index:idx_labels_order_shipment;not null"`
	LabelID         int64  `gorm:"uniqueIndex;not null"`
	Status          string `gorm:"not null"`
	Error           string
	RefundJSON      []byte
	ProductIDsJSON  []byte
	CarrierID       string
	ServiceName     string
	Rate            float64
	Currency        string
	OriginJSON      []byte
	DestinationJSON []byte
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

// TableName overrides the table name
func (LabelModel) TableName() string {
	return "shipping_labels"
}

// ToDomain converts the model to a domain label
func (m *LabelModel) ToDomain() *shipping.Label {
	label := &shipping.Label{
		LabelID:   m.LabelID,
		Status:    shipping.LabelStatus(m.Status),
		Error:     m.Error,
		Carrier:   m.CarrierID,
		Service:   m.ServiceName,
		Rate:      m.Rate,
		Currency:  m.Currency,
		CreatedAt: m.CreatedAt,
	}
	if len(m.RefundJSON) > 0 {
		var refund shipping.Refund
		if err := json.Unmarshal(m.RefundJSON, &refund); err == nil {
			label.Refund = &refund
		}
	}
	if len(m.ProductIDsJSON) > 0 {
		_ = json.Unmarshal(m.ProductIDsJSON, &label.ProductIDs)
	}
	return label
}

// FromDomain populates the model from a domain label
func (m *LabelModel) FromDomain(orderID int64, shipmentID shipping.ShipmentID, label *shipping.Label) {
	m.OrderID = orderID
	m.ShipmentID = string(shipmentID)
	m.LabelID = label.LabelID
	m.Status = string(label.Status)
	m.Error = label.Error
	m.CarrierID = label.Carrier
	m.ServiceName = label.Service
	m.Rate = label.Rate
	m.Currency = label.Currency
	if label.Refund != nil {
		m.RefundJSON, _ = json.Marshal(label.Refund)
	} else {
		m.RefundJSON = nil
	}
	m.ProductIDsJSON, _ = json.Marshal(label.ProductIDs)
}

// Origin decodes the frozen purchase-time origin address
func (m *LabelModel) Origin() *shipping.Address {
	return decodeAddress(m.OriginJSON)
}

// Destination decodes the frozen purchase-time destination address
func (m *LabelModel) Destination() *shipping.Address {
	return decodeAddress(m.DestinationJSON)
}

func decodeAddress(data []byte) *shipping.Address {
	if len(data) == 0 {
		return nil
	}
	var address shipping.Address
	if err := json.Unmarshal(data, &address); err != nil {
		return nil
	}
	return &address
}

// CustomsModel persists the saved customs declaration for a shipment
type CustomsModel struct {
	ID         uint   `gorm:"primaryKey"`
	OrderID    int64  `gorm:"uniqueIndex:idx_customs_order_shipment;not null"`
	ShipmentID string `gorm:"uniqueIndex:idx_customs_order_shipment;not null"`
	StateJSON  []byte `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName overrides the table name
func (CustomsModel) TableName() string {
	return "shipping_customs_information"
}

// ToDomain decodes the stored customs declaration
func (m *CustomsModel) ToDomain() *shipping.CustomsState {
	var state shipping.CustomsState
	if err := json.Unmarshal(m.StateJSON, &state); err != nil {
		return nil
	}
	return &state
}

// PackageTemplateModel persists a merchant-defined package template
type PackageTemplateModel struct {
	ID         string `gorm:"primaryKey"`
	Name       string `gorm:"not null"`
	BoxWeight  string
	Length     string
	Width      string
	Height     string
	IsLetter   bool
	IsFavorite bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName overrides the table name
func (PackageTemplateModel) TableName() string {
	return "shipping_package_templates"
}

// ToDomain converts the model to a domain custom package
func (m *PackageTemplateModel) ToDomain() shipping.CustomPackage {
	return shipping.CustomPackage{
		ID:         m.ID,
		Name:       m.Name,
		BoxWeight:  m.BoxWeight,
		Length:     m.Length,
		Width:      m.Width,
		Height:     m.Height,
		IsLetter:   m.IsLetter,
		IsFavorite: m.IsFavorite,
	}
}

// PredefinedPackageModel persists a carrier-provided flat-rate package
// template synced from the carrier catalog
type PredefinedPackageModel struct {
	ID        string `gorm:"primaryKey"`
	CarrierID string `gorm:"index;not null"`
	Name      string `gorm:"not null"`
	Length    string
	Width     string
	Height    string
	IsLetter  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName overrides the table name
func (PredefinedPackageModel) TableName() string {
	return "shipping_predefined_packages"
}

// ToDomain converts the model to a domain predefined package
func (m *PredefinedPackageModel) ToDomain() shipping.PredefinedPackage {
	return shipping.PredefinedPackage{
		ID:        m.ID,
		CarrierID: m.CarrierID,
		Name:      m.Name,
		Length:    m.Length,
		Width:     m.Width,
		Height:    m.Height,
		IsLetter:  m.IsLetter,
	}
}

// OriginAddressModel persists a selectable origin address. Position
// orders the list; the first entry is the platform default.
type OriginAddressModel struct {
	ID          string `gorm:"primaryKey"`
	Position    int    `gorm:"index;not null"`
	AddressJSON []byte `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName overrides the table name
func (OriginAddressModel) TableName() string {
	return "shipping_origin_addresses"
}

// ToDomain decodes the stored address
func (m *OriginAddressModel) ToDomain() *shipping.Address {
	return decodeAddress(m.AddressJSON)
}

// OrderModel persists the order context the label workspace is built
// from: destination, shipment items and account meta
type OrderModel struct {
	OrderID            int64  `gorm:"primaryKey"`
	DestinationJSON    []byte `gorm:"not null"`
	ShipmentsJSON      []byte `gorm:"not null"`
	LastOrderCompleted bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TableName overrides the table name
func (OrderModel) TableName() string {
	return "shipping_orders"
}
