package shipping

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShipmentID identifies a purchasable subdivision of an order's items.
// The order's sole/default shipment is always "0"; additional ids are
// assigned when an order is split.
type ShipmentID = string

// DefaultShipmentID is the id of the order's default shipment
const DefaultShipmentID ShipmentID = "0"

// CustomsInfo holds per-item customs metadata carried on shipment items
type CustomsInfo struct {
	Description    string `json:"description,omitempty"`
	HSTariffNumber string `json:"hs_tariff_number,omitempty"`
	OriginCountry  string `json:"origin_country,omitempty"`
}

// ItemMeta holds optional metadata attached to a shipment item
type ItemMeta struct {
	CustomsInfo *CustomsInfo `json:"customs_info,omitempty"`
}

// ShipmentItem is a single order line assigned to a shipment.
// Weight and Price arrive as strings from the order payload and are
// coerced, not validated, wherever numbers are needed.
type ShipmentItem struct {
	ProductID int64    `json:"product_id"`
	Name      string   `json:"name"`
	Quantity  int      `json:"quantity"`
	Weight    string   `json:"weight"`
	Price     string   `json:"price"`
	Meta      ItemMeta `json:"meta"`
}

// Address is a normalized origin or destination address
type Address struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Address1  string `json:"address_1"`
	Address2  string `json:"address_2"`
	City      string `json:"city"`
	State     string `json:"state"`
	PostCode  string `json:"postcode"`
	Country   string `json:"country"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	IsDefault bool   `json:"default_address"`
}

// Rate is a priced carrier service option quoted for a shipment.
// ShipmentID here is the carrier-side shipment identifier returned with
// the quote; it is consumed server-side when a purchase is attempted.
type Rate struct {
	RateID     string          `json:"rate_id"`
	ShipmentID string          `json:"shipment_id"`
	ServiceID  string          `json:"service_id"`
	CarrierID  string          `json:"carrier_id"`
	Title      string          `json:"title"`
	Rate       decimal.Decimal `json:"rate"`
	Currency   string          `json:"currency"`
	Delivery   int             `json:"delivery_days"`
}

// SelectedRate pairs a chosen rate with its parent quote when the
// selection is a signature-required variant of a base service
type SelectedRate struct {
	Rate   Rate  `json:"rate"`
	Parent *Rate `json:"parent,omitempty"`
}

// HazmatState is the per-shipment hazardous-materials declaration
type HazmatState struct {
	IsHazmat bool   `json:"is_hazmat"`
	Category string `json:"category,omitempty"`
}

// LabelStatus is the lifecycle status of a purchased label
type LabelStatus string

// Label purchase statuses. Refund is not a status: it is a terminal
// annotation carried on the label record.
const (
	PurchaseInProgress LabelStatus = "PURCHASE_IN_PROGRESS"
	Purchased          LabelStatus = "PURCHASED"
	PurchaseErrored    LabelStatus = "PURCHASE_ERROR"
)

// Refund records a refund request made against a purchased label
type Refund struct {
	RefundID    string    `json:"refund_id"`
	Status      string    `json:"status"`
	RequestedAt time.Time `json:"requested_at"`
}

// Label is a purchased carrier shipping document plus lifecycle state
type Label struct {
	LabelID    int64       `json:"label_id"`
	Status     LabelStatus `json:"status"`
	Error      string      `json:"error,omitempty"`
	Refund     *Refund     `json:"refund,omitempty"`
	ProductIDs []int64     `json:"product_ids"`
	Carrier    string      `json:"carrier_id"`
	Service    string      `json:"service_name"`
	Rate       float64     `json:"rate"`
	Currency   string      `json:"currency"`
	CreatedAt  time.Time   `json:"created_date"`
}

// CustomPackage is a merchant-defined box or envelope template
type CustomPackage struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	BoxWeight  string `json:"box_weight"`
	Length     string `json:"length"`
	Width      string `json:"width"`
	Height     string `json:"height"`
	IsLetter   bool   `json:"is_letter"`
	IsFavorite bool   `json:"is_favorite"`
}

// PredefinedPackage is a carrier-provided flat-rate package template
type PredefinedPackage struct {
	ID        string `json:"id"`
	CarrierID string `json:"carrier_id"`
	Name      string `json:"name"`
	Length    string `json:"length"`
	Width     string `json:"width"`
	Height    string `json:"height"`
	IsLetter  bool   `json:"is_letter"`
}

// PackageSpec is the package selection a purchase request is built from
type PackageSpec struct {
	ID       string `json:"id"`
	BoxID    string `json:"box_id"`
	Length   string `json:"length"`
	Width    string `json:"width"`
	Height   string `json:"height"`
	IsLetter bool   `json:"is_letter"`
}

// PurchaseMeta is account metadata attached to a purchase submission
type PurchaseMeta struct {
	LastOrderCompleted bool `json:"last_order_completed"`
}

// PrintDocument is a print-ready label document fetched from the
// carrier at a chosen paper size
type PrintDocument struct {
	MimeType string `json:"mimeType"`
	B64      string `json:"b64Content"`
	FileName string `json:"fileName,omitempty"`
}

// ShipmentIDMap maps old shipment ids to new ones when a purchase
// renumbers shipments
type ShipmentIDMap map[ShipmentID]ShipmentID

// Invert returns the reverse mapping, used to undo a staged rename
func (m ShipmentIDMap) Invert() ShipmentIDMap {
	inverted := make(ShipmentIDMap, len(m))
	for from, to := range m {
		inverted[to] = from
	}
	return inverted
}
