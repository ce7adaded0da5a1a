// ABOUTME: Badger key-value storage implementation for geofences and visits
// ABOUTME: Embedded alternative backend with transactional cascade deletes

package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/harper/geotrack/internal/models"
)

// Key prefixes for type-based organization.
const (
	geofencePrefix   = "geofence:"
	visitPrefix      = "visit:"
	visitIndexPrefix = "visit_by_geofence:"
	seqGeofenceKey   = "seq:geofence"
	seqVisitKey      = "seq:visit"
)

// maxTxnRetries bounds retries of a write transaction after a conflict.
const maxTxnRetries = 3

// BadgerDB implements Repository on top of an embedded Badger database.
type BadgerDB struct {
	db *badger.DB
}

var (
	_ Repository = (*BadgerDB)(nil)
	_ Importer   = (*BadgerDB)(nil)
)

// visitRecord is the stored form of a visit. Times are Unix milliseconds to
// match the SQLite backend's precision.
type visitRecord struct {
	ID         int64  `json:"id"`
	GeofenceID int64  `json:"geofence_id"`
	EnterTime  int64  `json:"enter_time"`
	ExitTime   *int64 `json:"exit_time,omitempty"`
	Duration   *int64 `json:"total_duration,omitempty"`
}

// NewBadgerDB opens (or creates) a Badger database in dir.
func NewBadgerDB(dir string) (*BadgerDB, error) {
	if err := os.MkdirAll(dir, 0750); err != nil { //nolint:gosec // 0750 is appropriate for user data directory
		return nil, fmt.Errorf("create directory: %w", err)
	}
	return openBadger(badger.DefaultOptions(dir).WithLogger(nil))
}

// NewInMemoryBadgerDB opens a Badger database that lives only in memory.
func NewInMemoryBadgerDB() (*BadgerDB, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func openBadger(opts badger.Options) (*BadgerDB, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerDB{db: db}, nil
}

// Close closes the database.
func (b *BadgerDB) Close() error {
	return b.db.Close()
}

// Reset clears all data from the database.
func (b *BadgerDB) Reset(_ context.Context) error {
	return b.db.DropAll()
}

func geofenceKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", geofencePrefix, id))
}

func visitKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", visitPrefix, id))
}

func visitIndexPrefixFor(geofenceID int64) []byte {
	return []byte(fmt.Sprintf("%s%020d:", visitIndexPrefix, geofenceID))
}

func visitIndexKey(geofenceID, visitID int64) []byte {
	return []byte(fmt.Sprintf("%s%020d:%020d", visitIndexPrefix, geofenceID, visitID))
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (b *BadgerDB) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// nextID increments the counter at key and returns the new value.
func nextID(txn *badger.Txn, key string) (int64, error) {
	current, err := readCounter(txn, key)
	if err != nil {
		return 0, err
	}
	next := current + 1
	if err := writeCounter(txn, key, next); err != nil {
		return 0, err
	}
	return next, nil
}

// bumpCounter raises the counter at key to at least id.
func bumpCounter(txn *badger.Txn, key string, id int64) error {
	current, err := readCounter(txn, key)
	if err != nil {
		return err
	}
	if id > current {
		return writeCounter(txn, key, id)
	}
	return nil
}

func readCounter(txn *badger.Txn, key string) (int64, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter: %w", err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return 0, fmt.Errorf("read counter: %w", err)
	}
	if len(val) != 8 {
		return 0, fmt.Errorf("corrupt counter %q", key)
	}
	return int64(binary.BigEndian.Uint64(val)), nil //nolint:gosec // counters never exceed int64
}

func writeCounter(txn *badger.Txn, key string, v int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v)) //nolint:gosec // counters are positive
	return txn.Set([]byte(key), buf)
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return txn.Set(key, data)
}

// CreateGeofence inserts a geofence and assigns its ID.
func (b *BadgerDB) CreateGeofence(ctx context.Context, g *models.Geofence) error {
	var id int64
	err := b.update(ctx, func(txn *badger.Txn) error {
		var err error
		id, err = nextID(txn, seqGeofenceKey)
		if err != nil {
			return err
		}
		stored := *g
		stored.ID = id
		return setJSON(txn, geofenceKey(id), &stored)
	})
	if err != nil {
		return fmt.Errorf("insert geofence: %w", err)
	}
	g.ID = id
	return nil
}

// ImportGeofence inserts a geofence keeping its ID.
func (b *BadgerDB) ImportGeofence(ctx context.Context, g *models.Geofence) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		if err := bumpCounter(txn, seqGeofenceKey, g.ID); err != nil {
			return err
		}
		return setJSON(txn, geofenceKey(g.ID), g)
	})
}

// GetGeofence retrieves a geofence by ID.
func (b *BadgerDB) GetGeofence(_ context.Context, id int64) (*models.Geofence, error) {
	var g models.Geofence
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, geofenceKey(id), &g)
	})
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGeofences returns all geofences in ID order.
func (b *BadgerDB) ListGeofences(_ context.Context) ([]*models.Geofence, error) {
	var geofences []*models.Geofence
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte(geofencePrefix)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 64})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var g models.Geofence
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &g)
			}); err != nil {
				return fmt.Errorf("decode geofence: %w", err)
			}
			geofences = append(geofences, &g)
		}
		return nil
	})
	return geofences, err
}

// DeleteGeofence removes a geofence and its visits in one transaction.
func (b *BadgerDB) DeleteGeofence(ctx context.Context, id int64) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(geofenceKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}

		visitIDs, err := indexedVisitIDs(txn, id)
		if err != nil {
			return err
		}
		for _, visitID := range visitIDs {
			if err := txn.Delete(visitKey(visitID)); err != nil {
				return err
			}
			if err := txn.Delete(visitIndexKey(id, visitID)); err != nil {
				return err
			}
		}
		return txn.Delete(geofenceKey(id))
	})
}

// indexedVisitIDs reads the visit index of a geofence.
func indexedVisitIDs(txn *badger.Txn, geofenceID int64) ([]int64, error) {
	prefix := visitIndexPrefixFor(geofenceID)
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()

	var ids []int64
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		var visitID int64
		if _, err := fmt.Sscanf(string(key[len(prefix):]), "%d", &visitID); err != nil {
			return nil, fmt.Errorf("corrupt visit index key %q: %w", key, err)
		}
		ids = append(ids, visitID)
	}
	return ids, nil
}

func toRecord(v *models.Visit) visitRecord {
	rec := visitRecord{
		ID:         v.ID,
		GeofenceID: v.GeofenceID,
		EnterTime:  v.EnterTime.UnixMilli(),
	}
	if v.ExitTime != nil && v.Duration != nil {
		exit := v.ExitTime.UnixMilli()
		dur := v.Duration.Milliseconds()
		rec.ExitTime = &exit
		rec.Duration = &dur
	}
	return rec
}

func (r visitRecord) toVisit() *models.Visit {
	v := &models.Visit{
		ID:         r.ID,
		GeofenceID: r.GeofenceID,
		EnterTime:  time.UnixMilli(r.EnterTime),
	}
	if r.ExitTime != nil && r.Duration != nil {
		v.Close(time.UnixMilli(*r.ExitTime), time.Duration(*r.Duration)*time.Millisecond)
	}
	return v
}

func putVisit(txn *badger.Txn, rec visitRecord) error {
	if err := setJSON(txn, visitKey(rec.ID), rec); err != nil {
		return err
	}
	return txn.Set(visitIndexKey(rec.GeofenceID, rec.ID), nil)
}

// CreateVisit inserts an open visit for an existing geofence.
func (b *BadgerDB) CreateVisit(ctx context.Context, v *models.Visit) error {
	var id int64
	err := b.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(geofenceKey(v.GeofenceID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		var err error
		id, err = nextID(txn, seqVisitKey)
		if err != nil {
			return err
		}
		rec := toRecord(v)
		rec.ID = id
		return putVisit(txn, rec)
	})
	if err != nil {
		return err
	}
	v.ID = id
	return nil
}

// ImportVisit inserts a visit keeping its ID.
func (b *BadgerDB) ImportVisit(ctx context.Context, v *models.Visit) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(geofenceKey(v.GeofenceID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := bumpCounter(txn, seqVisitKey, v.ID); err != nil {
			return err
		}
		return putVisit(txn, toRecord(v))
	})
}

// CloseVisit records the exit of an open visit.
func (b *BadgerDB) CloseVisit(ctx context.Context, id int64, exit time.Time, d time.Duration) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		var rec visitRecord
		if err := getJSON(txn, visitKey(id), &rec); err != nil {
			return err
		}
		if rec.ExitTime != nil {
			return ErrAlreadyClosed
		}
		exitMs := exit.UnixMilli()
		durMs := d.Milliseconds()
		rec.ExitTime = &exitMs
		rec.Duration = &durMs
		return setJSON(txn, visitKey(id), rec)
	})
}

// GetVisit retrieves a visit by ID.
func (b *BadgerDB) GetVisit(_ context.Context, id int64) (*models.Visit, error) {
	var rec visitRecord
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, visitKey(id), &rec)
	})
	if err != nil {
		return nil, err
	}
	return rec.toVisit(), nil
}

// ListVisits returns a geofence's visits, newest first.
func (b *BadgerDB) ListVisits(_ context.Context, geofenceID int64) ([]*models.Visit, error) {
	visits, err := b.visitsFor(geofenceID)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(visits)
	return visits, nil
}

// OpenVisitsFor returns a geofence's open visits, most recently opened first.
func (b *BadgerDB) OpenVisitsFor(_ context.Context, geofenceID int64) ([]*models.Visit, error) {
	visits, err := b.visitsFor(geofenceID)
	if err != nil {
		return nil, err
	}
	open := filterOpen(visits)
	sortNewestFirst(open)
	return open, nil
}

// ListOpenVisits returns every open visit across all geofences.
func (b *BadgerDB) ListOpenVisits(ctx context.Context) ([]*models.Visit, error) {
	all, err := b.ListAllVisits(ctx)
	if err != nil {
		return nil, err
	}
	open := filterOpen(all)
	sortNewestFirst(open)
	return open, nil
}

// ListAllVisits returns every visit in ID order.
func (b *BadgerDB) ListAllVisits(_ context.Context) ([]*models.Visit, error) {
	var visits []*models.Visit
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte(visitPrefix)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 64})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec visitRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode visit: %w", err)
			}
			visits = append(visits, rec.toVisit())
		}
		return nil
	})
	return visits, err
}

// TotalDuration sums the durations of a geofence's closed visits.
func (b *BadgerDB) TotalDuration(_ context.Context, geofenceID int64) (time.Duration, error) {
	visits, err := b.visitsFor(geofenceID)
	if err != nil {
		return 0, err
	}
	var total time.Duration
	for _, v := range visits {
		if v.Duration != nil {
			total += *v.Duration
		}
	}
	return total, nil
}

func (b *BadgerDB) visitsFor(geofenceID int64) ([]*models.Visit, error) {
	var visits []*models.Visit
	err := b.db.View(func(txn *badger.Txn) error {
		ids, err := indexedVisitIDs(txn, geofenceID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			var rec visitRecord
			if err := getJSON(txn, visitKey(id), &rec); err != nil {
				return err
			}
			visits = append(visits, rec.toVisit())
		}
		return nil
	})
	return visits, err
}

func filterOpen(visits []*models.Visit) []*models.Visit {
	var open []*models.Visit
	for _, v := range visits {
		if v.IsOpen() {
			open = append(open, v)
		}
	}
	return open
}

// sortNewestFirst orders by enter time descending, then ID descending.
func sortNewestFirst(visits []*models.Visit) {
	sort.SliceStable(visits, func(i, j int) bool {
		if !visits[i].EnterTime.Equal(visits[j].EnterTime) {
			return visits[i].EnterTime.After(visits[j].EnterTime)
		}
		return visits[i].ID > visits[j].ID
	})
}
