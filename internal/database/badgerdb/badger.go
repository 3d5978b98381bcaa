// Package badgerdb implements database.ReportStore on an embedded BadgerDB.
// Records are stored as JSON values under role-prefixed keys.
package badgerdb

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/tether/internal/database"
)

const (
	reportPrefix = "report/"
	childPrefix  = "child/"

	// maxConflictRetries bounds retries of a transaction that lost to a concurrent writer.
	maxConflictRetries = 8
)

// Options configures the Badger store.
type Options struct {
	// Dir is the data directory. Required unless InMemory is set.
	Dir string

	// InMemory runs BadgerDB without disk persistence.
	InMemory bool

	// Logger receives badger's warnings and errors. Nil silences them.
	Logger logrus.FieldLogger
}

// Store is a database.ReportStore backed by BadgerDB.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a Badger store.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badgerdb: Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	dbOpts = dbOpts.WithLogger(quietLogger{opts.Logger})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("opening badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func reportKey(role database.Role, id string) []byte {
	return []byte(reportPrefix + string(role) + "/" + id)
}

func rolePrefix(role database.Role) []byte {
	return []byte(reportPrefix + string(role) + "/")
}

func childKey(id string) []byte {
	return []byte(childPrefix + id)
}

// update runs fn in a read-write transaction, retrying when badger reports a conflict.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range maxConflictRetries {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getJSON(txn *badger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
	if err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, data)
}

// InsertReport stores a new report.
func (s *Store) InsertReport(_ context.Context, report *database.Report) error {
	if err := database.ValidateReport(report); err != nil {
		return err
	}
	key := reportKey(report.Role, report.ID)
	return s.update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return fmt.Errorf("report %s already exists", report.ID)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, key, report)
	})
}

// GetReport retrieves a report by ID, returns nil if not found.
func (s *Store) GetReport(_ context.Context, role database.Role, id string) (*database.Report, error) {
	var (
		rep   database.Report
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, reportKey(role, id), &rep)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &rep, nil
}

func (s *Store) iterate(prefix []byte, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return fmt.Errorf("read %s: %w", it.Item().Key(), err)
			}
		}
		return nil
	})
}

// ScanReports returns every report of a role ordered by creation time, then ID.
func (s *Store) ScanReports(_ context.Context, role database.Role) ([]database.Report, error) {
	var reports []database.Report
	err := s.iterate(rolePrefix(role), func(val []byte) error {
		var rep database.Report
		if err := json.Unmarshal(val, &rep); err != nil {
			return err
		}
		reports = append(reports, rep)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan reports: %w", err)
	}
	database.SortReports(reports)
	return reports, nil
}

// CountReports returns the number of reports of a role.
func (s *Store) CountReports(_ context.Context, role database.Role) (int, error) {
	prefix := rolePrefix(role)
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count reports: %w", err)
	}
	return count, nil
}

// CompareAndSetMatch replaces the match state inside one transaction when the
// stored link equals expectLinkedID. Badger's conflict detection aborts the
// transaction if another writer touched the key in between.
func (s *Store) CompareAndSetMatch(_ context.Context, role database.Role, id, expectLinkedID string, state database.MatchState) (bool, error) {
	key := reportKey(role, id)
	var swapped bool
	err := s.update(func(txn *badger.Txn) error {
		swapped = false
		var rep database.Report
		found, err := getJSON(txn, key, &rep)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%s report %s: %w", role, id, database.ErrNotFound)
		}
		if err := database.ValidateMatchState(state, rep.HasEmbedding()); err != nil {
			return err
		}
		if rep.Match.LinkedID != expectLinkedID {
			return nil
		}
		rep.Match = state
		if err := setJSON(txn, key, &rep); err != nil {
			return err
		}
		swapped = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return swapped, nil
}

// InsertResolvedChild appends a resolved child record.
func (s *Store) InsertResolvedChild(_ context.Context, child *database.ResolvedChild) error {
	if err := database.ValidateResolvedChild(child); err != nil {
		return err
	}
	key := childKey(child.ID)
	return s.update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return fmt.Errorf("resolved child %s already exists", child.ID)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, key, child)
	})
}

// GetResolvedChild retrieves a resolved child by ID, returns nil if not found.
func (s *Store) GetResolvedChild(_ context.Context, id string) (*database.ResolvedChild, error) {
	var (
		c     database.ResolvedChild
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, childKey(id), &c)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get resolved child: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &c, nil
}

// ListResolvedChildren returns all resolved children, newest first.
func (s *Store) ListResolvedChildren(_ context.Context) ([]database.ResolvedChild, error) {
	var children []database.ResolvedChild
	err := s.iterate([]byte(childPrefix), func(val []byte) error {
		var c database.ResolvedChild
		if err := json.Unmarshal(val, &c); err != nil {
			return err
		}
		children = append(children, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list resolved children: %w", err)
	}
	slices.SortStableFunc(children, func(a, b database.ResolvedChild) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return children, nil
}

// FindResolvedChildByPair returns the most recent resolved child created from the pair, or nil.
func (s *Store) FindResolvedChildByPair(ctx context.Context, parentID, volunteerID string) (*database.ResolvedChild, error) {
	children, err := s.ListResolvedChildren(ctx)
	if err != nil {
		return nil, err
	}
	for i := range children {
		if children[i].ParentReportID == parentID && children[i].VolunteerReportID == volunteerID {
			return &children[i], nil
		}
	}
	return nil, nil
}

// quietLogger forwards badger's warnings and errors to logrus and drops the rest.
type quietLogger struct {
	log logrus.FieldLogger
}

func (l quietLogger) Errorf(f string, v ...any) {
	if l.log != nil {
		l.log.Errorf("badger: "+f, v...)
	}
}

func (l quietLogger) Warningf(f string, v ...any) {
	if l.log != nil {
		l.log.Warnf("badger: "+f, v...)
	}
}

func (quietLogger) Infof(string, ...any)  {}
func (quietLogger) Debugf(string, ...any) {}

var _ database.ReportStore = (*Store)(nil)
