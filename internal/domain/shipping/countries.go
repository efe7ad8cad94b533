package shipping

import "regexp"

// euCountries is the EU customs-union membership set (ISO 3166-1 alpha-2)
var euCountries = map[string]struct{}{
	"AT": {}, "BE": {}, "BG": {}, "HR": {}, "CY": {}, "CZ": {}, "DK": {},
	"EE": {}, "FI": {}, "FR": {}, "DE": {}, "GR": {}, "HU": {}, "IE": {},
	"IT": {}, "LV": {}, "LT": {}, "LU": {}, "MT": {}, "NL": {}, "PL": {},
	"PT": {}, "RO": {}, "SK": {}, "SI": {}, "ES": {}, "SE": {},
}

// IsCountryInEU reports whether the country code belongs to the EU
// customs union
func IsCountryInEU(country string) bool {
	_, ok := euCountries[country]
	return ok
}

// IsCustomsRequired reports whether a shipment between the two addresses
// needs a customs declaration. Shipments within one country never do;
// cross-border shipments do unless both ends are inside the EU customs
// union.
func IsCustomsRequired(origin, destination *Address) bool {
	if origin == nil || destination == nil {
		return false
	}
	if origin.Country == "" || destination.Country == "" {
		return false
	}
	if origin.Country == destination.Country {
		return false
	}
	if IsCountryInEU(origin.Country) && IsCountryInEU(destination.Country) {
		return false
	}
	return true
}

var (
	hsTariffPattern  = regexp.MustCompile(`^\d{6}(?:\d{2}){0,2}$`)
	nonDigitsPattern = regexp.MustCompile(`\D`)
)

// IsHSTariffNumberValid reports whether the HS tariff number is a
// 6, 8 or 10 digit code
func IsHSTariffNumberValid(number string) bool {
	return hsTariffPattern.MatchString(number)
}

// SanitizeHSTariffNumber strips formatting (dots, spaces, dashes) from
// an HS tariff number before transmission
func SanitizeHSTariffNumber(number string) string {
	return nonDigitsPattern.ReplaceAllString(number, "")
}
