package models

// ProductRecord is the unit of crawler output: one validated, normalized
// product row destined for the external sink.
type ProductRecord struct {
	Category   string `json:"category,omitempty"`
	Collection string `json:"collection,omitempty"`
	SKU        string `json:"sku,omitempty"`
	FullName   string `json:"full_name"`
	ShortName  string `json:"short_name,omitempty"`

	// Prices are whole currency units; nil when the source text was absent
	// or failed range validation.
	ListPrice   *int `json:"list_price,omitempty"`
	RetailPrice *int `json:"retail_price,omitempty"`

	SourceURL string `json:"source_url"`
}

// RawFields is the untyped output of detail-page extraction, before
// validation. Every field is best-effort: absence of one never aborts
// extraction of the others. Brand and the promotional fields exist only as
// extraction intermediates; the validator drops them from the final record.
type RawFields struct {
	Collection string
	ShortName  string
	FullName   string
	SKU        string
	Category   string
	Brand      string

	OriginalPrice string // list price as shown (locale-formatted text)
	DiscountPrice string // discounted price as shown
	Price         string // effective price text (discounted if present, else original)

	DiscountPercent string
	Campaign        string
	BasketDiscount  string
	Profit          string

	SourceURL string
}
