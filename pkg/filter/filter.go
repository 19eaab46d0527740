package filter

import (
	"strings"

	"github.com/sirupsen/logrus"

	"catalog-crawler/pkg/config"
	"catalog-crawler/pkg/models"
)

// Filter applies the business exclusion rules and the category-duplication
// expansion. All rule data (category names, keyword lists) is retailer
// taxonomy configuration, never hardcoded here.
type Filter struct {
	cfg config.FilterConfig
	log *logrus.Entry
}

// New creates a Filter from the configured rules.
func New(cfg config.FilterConfig, log *logrus.Logger) *Filter {
	return &Filter{
		cfg: cfg,
		log: log.WithField("component", "filter"),
	}
}

// ShouldExclude reports whether a record is dropped before persistence:
// either its category is the designated excluded category, or its category is
// empty and its combined name contains one of the exclusion keywords.
func (f *Filter) ShouldExclude(rec *models.ProductRecord) bool {
	if f.cfg.ExcludedCategory != "" && rec.Category == f.cfg.ExcludedCategory {
		f.log.WithField("name", rec.FullName).Debug("Excluded by category")
		return true
	}

	if rec.Category == "" {
		combined := strings.ToLower(rec.ShortName + " " + rec.FullName)
		for _, keyword := range f.cfg.Keywords {
			if strings.Contains(combined, strings.ToLower(keyword)) {
				f.log.WithFields(logrus.Fields{"name": rec.FullName, "keyword": keyword}).
					Debug("Excluded by keyword")
				return true
			}
		}
	}

	return false
}

// ExpandDuplicates applies the duplication rule: every record in the rule's
// source category whose name contains one of the rule keywords is emitted
// twice, the copy carrying the target category and following its source
// immediately. All other records pass through unchanged, order preserved.
func (f *Filter) ExpandDuplicates(records []models.ProductRecord) []models.ProductRecord {
	rule := f.cfg.Duplication
	if rule.Category == "" || rule.TargetCategory == "" || len(rule.Keywords) == 0 {
		return records
	}

	result := make([]models.ProductRecord, 0, len(records))
	for _, rec := range records {
		result = append(result, rec)

		if rec.Category != rule.Category {
			continue
		}
		name := strings.ToLower(rec.ShortName + " " + rec.FullName)
		for _, keyword := range rule.Keywords {
			if strings.Contains(name, strings.ToLower(keyword)) {
				dup := rec
				dup.Category = rule.TargetCategory
				result = append(result, dup)
				f.log.WithFields(logrus.Fields{
					"name": rec.FullName,
					"from": rule.Category,
					"to":   rule.TargetCategory,
				}).Debug("Duplicated record into target category")
				break
			}
		}
	}
	return result
}
