package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"catalog-crawler/pkg/log"
	"catalog-crawler/pkg/models"
	"catalog-crawler/pkg/utils"
)

const tablesDBDir = "tables_db" // Subdirectory name within stateDir for Badger DB files

// BadgerSink stores tables in a per-site BadgerDB. Each row is one JSON
// value under "table:<name>:<index>", index preserving the sorted write
// order. Used as the crash-tolerant checkpoint backend: a killed run can be
// inspected or resumed from whatever the last ReplaceTable committed.
type BadgerSink struct {
	db  *badger.DB
	log *logrus.Entry
}

// NewBadgerSink opens (creating if needed) the table database for one site.
func NewBadgerSink(stateDir, siteDomain string, logger *logrus.Entry) (*BadgerSink, error) {
	dbDirName := utils.SanitizeFilename(siteDomain) + "_" + tablesDBDir
	dbPath := filepath.Join(stateDir, dbDirName)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("cannot create state directory %s: %w", dbPath, err)
	}

	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1) // Only the latest snapshot of each row matters

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", dbPath, err)
	}

	logger.Infof("Table database initialized at: %s", dbPath)
	return &BadgerSink{db: db, log: logger}, nil
}

func tableKeyPrefix(table string) []byte {
	return []byte("table:" + table + ":")
}

// ReplaceTable implements the Sink interface.
func (s *BadgerSink) ReplaceTable(ctx context.Context, table string, rows []models.ProductRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	prefix := tableKeyPrefix(table)
	err := s.db.Update(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.PrefetchValues = false
		it := txn.NewIterator(itOpts)
		var stale [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}

		for i, rec := range sortRows(rows) {
			value, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			key := fmt.Appendf(nil, "%s%08d", prefix, i)
			if err := txn.SetEntry(badger.NewEntry(key, value)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: replacing table %s: %v", utils.ErrDatabase, table, err)
	}

	s.log.WithFields(logrus.Fields{"table": table, "rows": len(rows)}).Debug("Replaced badger table")
	return nil
}

// ReadIdentifiers implements the Sink interface.
func (s *BadgerSink) ReadIdentifiers(ctx context.Context, table string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := tableKeyPrefix(table)
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var rec models.ProductRecord
				if err := json.Unmarshal(value, &rec); err != nil {
					return err
				}
				if rec.SKU != "" {
					ids = append(ids, rec.SKU)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: reading table %s: %v", utils.ErrDatabase, table, err)
	}
	return ids, nil
}

// Rows returns the full contents of a table in stored order. Exposed for
// snapshot inspection and tests.
func (s *BadgerSink) Rows(ctx context.Context, table string) ([]models.ProductRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := tableKeyPrefix(table)
	var rows []models.ProductRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var rec models.ProductRecord
				if err := json.Unmarshal(value, &rec); err != nil {
					return err
				}
				rows = append(rows, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: reading table %s: %v", utils.ErrDatabase, table, err)
	}
	return rows, nil
}

// Close flushes and closes the underlying database.
func (s *BadgerSink) Close() error {
	if s.db == nil {
		return nil
	}
	s.log.Info("Closing table database...")
	return s.db.Close()
}
