// Package store persists evaluation reports and alerts in BadgerDB.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/chosenoffset/spcwatch/pkg/spcwatch/rules"
)

const (
	reportPrefix = "report/"
	alertPrefix  = "alert/"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("not found")

type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	// ReportTTL expires reports after the given age; zero keeps them forever.
	ReportTTL time.Duration
	Logger    *slog.Logger
}

// ReportRecord is one persisted chart evaluation.
type ReportRecord struct {
	Chart     string                  `json:"chart"`
	At        time.Time               `json:"at"`
	Limits    rules.ControlLimits     `json:"limits"`
	Samples   int                     `json:"samples"`
	Report    *rules.EvaluationReport `json:"report"`
	NewEvents int                     `json:"newEvents"`
}

type Store struct {
	db        *badger.DB
	reportTTL time.Duration
}

func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db, reportTTL: cfg.ReportTTL}, nil
}

// OpenInMemory opens a throwaway store, mainly for tests.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

func (s *Store) Close() error {
	return s.db.Close()
}

// reportKey sorts by chart, then chronologically.
func reportKey(chart string, at time.Time) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", reportPrefix, chart, at.UnixNano()))
}

func (s *Store) SaveReport(ctx context.Context, rec ReportRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Chart == "" || strings.Contains(rec.Chart, "/") {
		return fmt.Errorf("invalid chart name %q", rec.Chart)
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(reportKey(rec.Chart, rec.At), data)
		if s.reportTTL > 0 {
			e = e.WithTTL(s.reportTTL)
		}
		return txn.SetEntry(e)
	})
}

// RecentReports returns up to n reports for chart, newest first.
func (s *Store) RecentReports(ctx context.Context, chart string, n int) ([]ReportRecord, error) {
	prefix := []byte(reportPrefix + chart + "/")
	var out []ReportRecord

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if n > 0 && len(out) >= n {
				break
			}
			var rec ReportRecord
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			}); err != nil {
				return fmt.Errorf("decode report: %w", err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// SaveAlert stores any JSON-encodable alert under id, replacing an
// existing alert with the same id.
func (s *Store) SaveAlert(ctx context.Context, id string, alert any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return errors.New("alert id is required")
	}
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(alertPrefix+id), data)
	})
}

// DeleteAlert removes an alert; deleting an unknown id is not an error.
func (s *Store) DeleteAlert(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(alertPrefix + id))
	})
}

// LoadAlerts decodes every stored alert into T.
func LoadAlerts[T any](ctx context.Context, s *Store) ([]T, error) {
	var out []T
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(alertPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var v T
			if err := it.Item().Value(func(b []byte) error {
				return json.Unmarshal(b, &v)
			}); err != nil {
				return fmt.Errorf("decode alert %s: %w", it.Item().Key(), err)
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

// LoadAlert decodes one alert.
func LoadAlert[T any](s *Store, id string) (T, error) {
	var v T
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(alertPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("alert %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(b []byte) error {
			return json.Unmarshal(b, &v)
		})
	})
	return v, err
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
