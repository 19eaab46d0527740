package extract

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"catalog-crawler/pkg/config"
	"catalog-crawler/pkg/models"
)

// ErrNoRecord means the document is not a product page: typically a category
// landing page whose title carries a collection label but no product name.
var ErrNoRecord = errors.New("document yields no product record")

var (
	digitRunRe = regexp.MustCompile(`\d+`)
	percentRe  = regexp.MustCompile(`%\s*(\d+)`)
	campaignRe = regexp.MustCompile(`(?i)Her\s+[\d.,]+\s*TL[^\n]*?ndirim`)
	basketRe   = regexp.MustCompile(`(?i)Sepette\s*%?\s*\d+\s*[İi]ndirim`)
)

// DetailExtractor parses a product detail document into a raw field set.
// Every field derivation is independently best-effort: a missing field is
// left empty, never an error.
type DetailExtractor struct {
	sel            config.DetailSelectors
	breadcrumbSkip []string
	currencyMarker string
	log            *logrus.Entry
}

// NewDetailExtractor builds an extractor from the site configuration.
func NewDetailExtractor(siteCfg config.SiteConfig, log *logrus.Logger) *DetailExtractor {
	return &DetailExtractor{
		sel:            siteCfg.Selectors,
		breadcrumbSkip: siteCfg.BreadcrumbSkip,
		currencyMarker: siteCfg.CurrencyMarker,
		log:            log.WithField("component", "detail_extractor"),
	}
}

// Extract derives the raw fields of a product detail document.
// Returns ErrNoRecord when the title block resolves to a collection label
// with no product name, which marks a misidentified category page.
func (de *DetailExtractor) Extract(doc *goquery.Document, sourceURL string) (*models.RawFields, error) {
	raw := &models.RawFields{SourceURL: sourceURL}

	de.extractTitle(doc, raw)
	if raw.Collection != "" && raw.ShortName == "" {
		de.log.WithField("url", sourceURL).Debug("Collection-only title, not a product page")
		return nil, ErrNoRecord
	}

	de.extractSKU(doc, raw)
	de.extractCategory(doc, raw)
	de.extractBrand(doc, raw)
	de.extractPrices(doc, raw)
	de.extractPromotions(doc, raw)

	return raw, nil
}

// extractTitle splits the title block into the leading collection label
// (an inline span) and the product name (the text following it). A title
// without a label-remainder split falls back to the full title text.
func (de *DetailExtractor) extractTitle(doc *goquery.Document, raw *models.RawFields) {
	title := doc.Find(de.sel.Title).First()
	if title.Length() == 0 {
		return
	}

	span := title.Find("span").First()
	split := false
	if span.Length() > 0 {
		raw.Collection = strings.TrimSpace(span.Text())
		if sib := span.Nodes[0].NextSibling; sib != nil && sib.Type == html.TextNode {
			split = true
			raw.ShortName = strings.TrimSpace(sib.Data)
		}
	}
	if !split {
		// No label-remainder split possible: the full title text is the name
		raw.ShortName = strings.TrimSpace(title.Text())
	}

	if raw.Collection != "" && raw.ShortName != "" {
		raw.FullName = raw.Collection + " " + raw.ShortName
	} else {
		raw.FullName = raw.ShortName
	}
}

// extractSKU takes the first contiguous digit run in the SKU element text.
func (de *DetailExtractor) extractSKU(doc *goquery.Document, raw *models.RawFields) {
	text := strings.TrimSpace(doc.Find(de.sel.SKU).First().Text())
	if text == "" {
		return
	}
	raw.SKU = digitRunRe.FindString(text)
}

// extractCategory takes the first breadcrumb entry that is not a generic
// home label.
func (de *DetailExtractor) extractCategory(doc *goquery.Document, raw *models.RawFields) {
	doc.Find(de.sel.Breadcrumb).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if text == "" || de.isGenericCrumb(text) {
			return true
		}
		raw.Category = text
		return false
	})
}

func (de *DetailExtractor) isGenericCrumb(text string) bool {
	for _, skip := range de.breadcrumbSkip {
		if text == skip {
			return true
		}
	}
	return false
}

// extractBrand reads the brand from the first JSON-LD block declaring a
// Product type. Both the nested-object and bare-string brand forms occur in
// the wild.
func (de *DetailExtractor) extractBrand(doc *goquery.Document, raw *models.RawFields) {
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var data map[string]any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return true
		}
		if data["@type"] != "Product" {
			return true
		}
		switch brand := data["brand"].(type) {
		case map[string]any:
			if name, ok := brand["name"].(string); ok {
				raw.Brand = name
			}
		case string:
			raw.Brand = brand
		}
		return false
	})
}

// extractPrices resolves the price fields through the ordered selector
// fallbacks: the original-price selector, then the discounted-price selector
// (which also becomes the effective price), and only if neither matched, a
// generic scan of elements whose class mentions "price" and whose text
// carries both the currency marker and a digit.
func (de *DetailExtractor) extractPrices(doc *goquery.Document, raw *models.RawFields) {
	if de.sel.OriginalPrice != "" {
		raw.OriginalPrice = strings.TrimSpace(doc.Find(de.sel.OriginalPrice).First().Text())
	}
	if de.sel.DiscountPrice != "" {
		raw.DiscountPrice = strings.TrimSpace(doc.Find(de.sel.DiscountPrice).First().Text())
		raw.Price = raw.DiscountPrice
	}
	if raw.Price == "" && raw.OriginalPrice != "" {
		raw.Price = raw.OriginalPrice
	}
	if raw.Price == "" {
		raw.Price = de.scanAnyPrice(doc)
	}
}

// scanAnyPrice is the last-resort price lookup.
func (de *DetailExtractor) scanAnyPrice(doc *goquery.Document) string {
	var found string
	doc.Find(`[class*="price"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if strings.Contains(text, de.currencyMarker) && containsDigit(text) {
			found = text
			return false
		}
		return true
	})
	return found
}

// extractPromotions pulls the discount annotations: the percent badge, the
// per-amount campaign line, the basket-discount label, and the profit text.
func (de *DetailExtractor) extractPromotions(doc *goquery.Document, raw *models.RawFields) {
	text := doc.Text()

	if m := percentRe.FindStringSubmatch(text); m != nil {
		raw.DiscountPercent = "%" + m[1]
	}
	if m := campaignRe.FindString(text); m != "" {
		raw.Campaign = strings.TrimSpace(m)
	}
	if de.sel.DiscountName != "" {
		discountText := strings.TrimSpace(doc.Find(de.sel.DiscountName).First().Text())
		if m := basketRe.FindString(discountText); m != "" {
			raw.BasketDiscount = m
		}
	}
	if de.sel.Profit != "" {
		raw.Profit = strings.TrimSpace(doc.Find(de.sel.Profit).First().Text())
	}
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
