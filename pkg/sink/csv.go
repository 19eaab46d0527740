package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"catalog-crawler/pkg/models"
	"catalog-crawler/pkg/utils"
)

// CSVSink stores each table as one CSV file under a base directory. Table
// replacement writes a temp file and renames it over the old one, so readers
// never observe a half-written table.
type CSVSink struct {
	dir string
	log *logrus.Entry
}

// NewCSVSink creates the output directory if needed and returns a sink over it.
func NewCSVSink(dir string, log *logrus.Logger) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create output directory %s: %w", dir, err)
	}
	return &CSVSink{
		dir: dir,
		log: log.WithField("component", "csv_sink"),
	}, nil
}

func (s *CSVSink) tablePath(table string) string {
	return filepath.Join(s.dir, utils.SanitizeFilename(table)+".csv")
}

// ReplaceTable implements the Sink interface.
func (s *CSVSink) ReplaceTable(ctx context.Context, table string, rows []models.ProductRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+utils.SanitizeFilename(table)+"-*.csv")
	if err != nil {
		return fmt.Errorf("%w: creating temp file for table %s: %v", utils.ErrDatabase, table, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after successful rename

	writer := csv.NewWriter(tmp)
	writeErr := writer.Write(Columns)
	if writeErr == nil {
		for _, rec := range sortRows(rows) {
			if writeErr = writer.Write(rowValues(&rec)); writeErr != nil {
				break
			}
		}
	}
	writer.Flush()
	if writeErr == nil {
		writeErr = writer.Error()
	}
	if closeErr := tmp.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		return fmt.Errorf("%w: writing table %s: %v", utils.ErrDatabase, table, writeErr)
	}

	if err := os.Rename(tmpPath, s.tablePath(table)); err != nil {
		return fmt.Errorf("%w: replacing table %s: %v", utils.ErrDatabase, table, err)
	}

	s.log.WithFields(logrus.Fields{"table": table, "rows": len(rows)}).Debug("Replaced CSV table")
	return nil
}

// ReadIdentifiers implements the Sink interface.
func (s *CSVSink) ReadIdentifiers(ctx context.Context, table string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.tablePath(table))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: opening table %s: %v", utils.ErrDatabase, table, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: reading table %s: %v", utils.ErrDatabase, table, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	skuIdx := -1
	for i, col := range records[0] {
		if col == "sku" {
			skuIdx = i
			break
		}
	}
	if skuIdx < 0 {
		return nil, fmt.Errorf("%w: table %s has no sku column", utils.ErrDatabase, table)
	}

	var ids []string
	for _, row := range records[1:] {
		if skuIdx < len(row) && row[skuIdx] != "" {
			ids = append(ids, row[skuIdx])
		}
	}
	return ids, nil
}

// Close implements the Sink interface. CSV files are closed per write.
func (s *CSVSink) Close() error { return nil }
