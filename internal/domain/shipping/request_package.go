package shipping

// PackageCustomsItem is a customs line item projected onto an outbound
// package request. Weight and value are parsed to floats and the HS
// tariff number is sanitized before transmission.
type PackageCustomsItem struct {
	Description    string  `json:"description"`
	Quantity       int     `json:"quantity"`
	Weight         float64 `json:"weight"`
	HSTariffNumber string  `json:"hs_tariff_number"`
	OriginCountry  string  `json:"origin_country"`
	ProductID      int64   `json:"product_id"`
	Value          float64 `json:"value"`
}

// PackageCustoms is the customs declaration projected onto an outbound
// package request. ContentsExplanation and RestrictionComments are only
// present when the corresponding type is "other".
type PackageCustoms struct {
	ContentsType        string               `json:"contents_type"`
	ContentsExplanation string               `json:"contents_explanation,omitempty"`
	RestrictionType     string               `json:"restriction_type"`
	RestrictionComments string               `json:"restriction_comments,omitempty"`
	NonDeliveryOption   string               `json:"non_delivery_option"`
	ITN                 string               `json:"itn"`
	Items               []PackageCustomsItem `json:"items"`
}

// RequestPackage is the composed, immutable snapshot submitted with a
// label purchase. It is built once at purchase time and never mutated
// after submission.
type RequestPackage struct {
	ID          string  `json:"id"`
	BoxID       string  `json:"box_id"`
	Length      float64 `json:"length"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	IsLetter    bool    `json:"is_letter"`
	ShipmentID  string  `json:"shipment_id"`
	ServiceID   string  `json:"service_id"`
	CarrierID   string  `json:"carrier_id"`
	ServiceName string  `json:"service_name"`
	Products    []int64 `json:"products"`
	Weight      float64 `json:"weight"`
	RateID      string  `json:"rate_id"`

	Hazmat *HazmatState `json:"hazmat,omitempty"`
	*PackageCustoms
}
