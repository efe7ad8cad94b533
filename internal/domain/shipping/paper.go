package shipping

// PaperSize is a selectable label paper size
type PaperSize struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Paper size keys
const (
	PaperSizeLabel  = "label"
	PaperSizeLetter = "letter"
	PaperSizeLegal  = "legal"
	PaperSizeA4     = "a4"
)

// PaperSizes returns the label paper sizes available for an origin
// country. Label and letter are always offered; US origins add legal,
// everywhere else adds A4.
func PaperSizes(country string) []PaperSize {
	sizes := []PaperSize{
		{Key: PaperSizeLabel, Name: "Label (4\"x6\")"},
		{Key: PaperSizeLetter, Name: "Letter"},
	}
	if country == "US" {
		return append(sizes, PaperSize{Key: PaperSizeLegal, Name: "Legal"})
	}
	return append(sizes, PaperSize{Key: PaperSizeA4, Name: "A4"})
}

// IsValidPaperSize reports whether the key names a known paper size
func IsValidPaperSize(key string) bool {
	switch key {
	case PaperSizeLabel, PaperSizeLetter, PaperSizeLegal, PaperSizeA4:
		return true
	}
	return false
}

// FindPaperSize resolves a stored paper-size key against the available
// sizes, falling back to the first available size when the key is no
// longer offered
func FindPaperSize(sizes []PaperSize, key string) PaperSize {
	for _, size := range sizes {
		if size.Key == key {
			return size
		}
	}
	return sizes[0]
}
