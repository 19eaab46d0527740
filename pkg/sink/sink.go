package sink

import (
	"context"
	"sort"
	"strconv"

	"catalog-crawler/pkg/models"
)

// Columns is the fixed output column order shared by every sink backend.
// Consumers of the exported tables rely on this order staying stable.
var Columns = []string{
	"category",
	"collection",
	"sku",
	"full_name",
	"short_name",
	"list_price",
	"retail_price",
	"source_url",
}

// Sink persists named tables of product records. Every write replaces the
// table wholesale; there are no incremental appends. This matches the
// crawl checkpoint model, where each flush is a full snapshot of the run so
// far and an interrupted run leaves the last complete snapshot behind.
type Sink interface {
	// ReplaceTable atomically overwrites the named table with rows.
	// Passing an empty slice clears the table.
	ReplaceTable(ctx context.Context, table string, rows []models.ProductRecord) error

	// ReadIdentifiers returns the identifier (sku) column of the named
	// table. A missing table reads as empty, not as an error.
	ReadIdentifiers(ctx context.Context, table string) ([]string, error)

	Close() error
}

// sortRows returns a copy of rows ordered by full product name, the order
// every table is written in.
func sortRows(rows []models.ProductRecord) []models.ProductRecord {
	sorted := make([]models.ProductRecord, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].FullName < sorted[j].FullName
	})
	return sorted
}

// rowValues renders one record in Columns order. Absent prices render as
// empty cells rather than zeros.
func rowValues(rec *models.ProductRecord) []string {
	listPrice := ""
	if rec.ListPrice != nil {
		listPrice = strconv.Itoa(*rec.ListPrice)
	}
	retailPrice := ""
	if rec.RetailPrice != nil {
		retailPrice = strconv.Itoa(*rec.RetailPrice)
	}
	return []string{
		rec.Category,
		rec.Collection,
		rec.SKU,
		rec.FullName,
		rec.ShortName,
		listPrice,
		retailPrice,
		rec.SourceURL,
	}
}
