package sink

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-crawler/pkg/config"
	"catalog-crawler/pkg/models"
)

func testBacklogConfig() config.BacklogConfig {
	return config.BacklogConfig{Table: "Other", ErrorTable: "Hata", Prefix: "3", Length: 10}
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func intPtr(v int) *int { return &v }

func sampleRecords() []models.ProductRecord {
	return []models.ProductRecord{
		{Category: "Salon", Collection: "Roma", SKU: "3002222222", FullName: "Roma Koltuk", ShortName: "Koltuk", RetailPrice: intPtr(30000), SourceURL: "https://e.com/2"},
		{Category: "Yatak Odası", Collection: "Lizbon", SKU: "3001111111", FullName: "Lizbon Yatak", ShortName: "Yatak", ListPrice: intPtr(45000), RetailPrice: intPtr(32500), SourceURL: "https://e.com/1"},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVSink_ReplaceTableWritesSortedRows(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(dir, testLogger())
	require.NoError(t, err)

	require.NoError(t, s.ReplaceTable(context.Background(), "products", sampleRecords()))

	rows := readCSV(t, filepath.Join(dir, "products.csv"))
	require.Len(t, rows, 3)
	assert.Equal(t, Columns, rows[0])

	// Sorted by full name: Lizbon before Roma
	assert.Equal(t, "Lizbon Yatak", rows[1][3])
	assert.Equal(t, "45000", rows[1][5])
	assert.Equal(t, "32500", rows[1][6])
	assert.Equal(t, "Roma Koltuk", rows[2][3])
	assert.Equal(t, "", rows[2][5]) // absent list price is an empty cell
}

func TestCSVSink_ReplaceTableOverwrites(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(dir, testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.ReplaceTable(ctx, "products", sampleRecords()))
	require.NoError(t, s.ReplaceTable(ctx, "products", sampleRecords()[:1]))

	rows := readCSV(t, filepath.Join(dir, "products.csv"))
	assert.Len(t, rows, 2) // header plus the single remaining row
}

func TestCSVSink_ClearTable(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(dir, testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.ReplaceTable(ctx, "Hata", sampleRecords()))
	require.NoError(t, s.ReplaceTable(ctx, "Hata", nil))

	ids, err := s.ReadIdentifiers(ctx, "Hata")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCSVSink_ReadIdentifiers(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(dir, testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.ReplaceTable(ctx, "Other", sampleRecords()))

	ids, err := s.ReadIdentifiers(ctx, "Other")
	require.NoError(t, err)
	assert.Equal(t, []string{"3001111111", "3002222222"}, ids)
}

func TestCSVSink_ReadMissingTableIsEmpty(t *testing.T) {
	s, err := NewCSVSink(t.TempDir(), testLogger())
	require.NoError(t, err)

	ids, err := s.ReadIdentifiers(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestBadgerSink_RoundTrip(t *testing.T) {
	logger := testLogger().WithField("component", "test")
	s, err := NewBadgerSink(t.TempDir(), "www.example.com", logger)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.ReplaceTable(ctx, "products", sampleRecords()))

	rows, err := s.Rows(ctx, "products")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Lizbon Yatak", rows[0].FullName)
	assert.Equal(t, "Roma Koltuk", rows[1].FullName)

	ids, err := s.ReadIdentifiers(ctx, "products")
	require.NoError(t, err)
	assert.Equal(t, []string{"3001111111", "3002222222"}, ids)

	// Overwrite shrinks the table, stale keys are gone
	require.NoError(t, s.ReplaceTable(ctx, "products", sampleRecords()[:1]))
	rows, err = s.Rows(ctx, "products")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestFilterIdentifiers(t *testing.T) {
	cfg := testBacklogConfig()

	in := []string{
		"3001234567",  // valid
		" 3001234567", // valid after trim, but duplicate
		"3007654321",  // valid
		"4001234567",  // wrong prefix
		"300123456",   // too short
		"30012345678", // too long
		"30012345ab",  // non-digit
		"",
	}

	got := FilterIdentifiers(in, cfg)
	assert.Equal(t, []string{"3001234567", "3007654321"}, got)
}
