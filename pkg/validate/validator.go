package validate

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"catalog-crawler/pkg/models"
)

// Rejection sentinels. A rejected record is dropped and logged; it is never
// a fatal condition for the crawl.
var (
	ErrEmptyName     = errors.New("record has empty product name")
	ErrBadIdentifier = errors.New("identifier failed validation")
)

// Accepted price range in whole currency units.
const (
	minPrice = 10
	maxPrice = 1_000_000
)

var (
	nonPriceRe      = regexp.MustCompile(`[^\d.,]`)
	badIdentifierRe = regexp.MustCompile(`[^A-Za-z0-9_-]`)
	percentRe       = regexp.MustCompile(`(?i)(?:%|yüzde|yuzde)\s*(\d+)`)
)

// ParsePrice normalizes locale-formatted currency text to a numeric value.
//
//	"12.500 TL"    -> 12500.0
//	"12.500,50 TL" -> 12500.50
//
// When both separators appear, the later one is the decimal separator and the
// earlier one a thousands separator. A lone comma is always decimal; a lone
// dot is decimal only when exactly two digits follow it. Values outside
// [10, 1_000_000] are rejected.
func ParsePrice(text string) (float64, bool) {
	clean := nonPriceRe.ReplaceAllString(text, "")
	if clean == "" {
		return 0, false
	}

	hasComma := strings.Contains(clean, ",")
	hasDot := strings.Contains(clean, ".")
	switch {
	case hasComma && hasDot:
		if strings.LastIndex(clean, ".") < strings.LastIndex(clean, ",") {
			clean = strings.ReplaceAll(clean, ".", "")
			clean = strings.ReplaceAll(clean, ",", ".")
		} else {
			clean = strings.ReplaceAll(clean, ",", "")
		}
	case hasComma:
		clean = strings.ReplaceAll(clean, ",", ".")
	case hasDot:
		parts := strings.Split(clean, ".")
		if len(parts[len(parts)-1]) != 2 {
			clean = strings.ReplaceAll(clean, ".", "")
		}
	}

	price, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, false
	}
	if price < minPrice || price > maxPrice {
		return 0, false
	}
	return price, true
}

// CleanIdentifier strips an identifier to [A-Za-z0-9_-] and requires at
// least 3 characters.
func CleanIdentifier(text string) (string, bool) {
	id := badIdentifierRe.ReplaceAllString(strings.TrimSpace(text), "")
	if len(id) < 3 {
		return "", false
	}
	return id, true
}

// ParsePercent extracts a discount percentage from text such as "%50" or
// "% 30 İndirim". Only values in (0, 99] are accepted.
func ParsePercent(text string) (int, bool) {
	m := percentRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	percent, err := strconv.Atoi(m[1])
	if err != nil || percent <= 0 || percent > 99 {
		return 0, false
	}
	return percent, true
}

// Record normalizes a raw field set into a ProductRecord, dropping the
// extraction intermediates (brand, promotional annotations, raw price text).
// Returns ErrEmptyName when the final full name trims to empty and
// ErrBadIdentifier when an identifier was present but failed cleaning.
func Record(raw *models.RawFields) (*models.ProductRecord, error) {
	rec := &models.ProductRecord{
		Category:   strings.TrimSpace(raw.Category),
		Collection: strings.TrimSpace(raw.Collection),
		ShortName:  strings.TrimSpace(raw.ShortName),
		FullName:   strings.TrimSpace(raw.FullName),
		SourceURL:  raw.SourceURL,
	}

	if rec.FullName == "" {
		return nil, ErrEmptyName
	}

	if sku := strings.TrimSpace(raw.SKU); sku != "" {
		cleaned, ok := CleanIdentifier(sku)
		if !ok {
			return nil, ErrBadIdentifier
		}
		rec.SKU = cleaned
	}

	// The promo intermediates never reach the record, but the percent is
	// still normalized in place to the canonical "%N" form (cleared when it
	// fails range validation) for anything logging the raw fields.
	if raw.DiscountPercent != "" {
		if percent, ok := ParsePercent(raw.DiscountPercent); ok {
			raw.DiscountPercent = "%" + strconv.Itoa(percent)
		} else {
			raw.DiscountPercent = ""
		}
	}

	if raw.OriginalPrice != "" {
		if v, ok := ParsePrice(raw.OriginalPrice); ok {
			price := int(v)
			rec.ListPrice = &price
		}
	}
	if raw.Price != "" {
		if v, ok := ParsePrice(raw.Price); ok {
			price := int(v)
			rec.RetailPrice = &price
		}
	}

	return rec, nil
}
