package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/threadctl/threadctl/internal/history"
)

// badgerStore persists each relation as JSON blobs under a namespaced key
// prefix, following the keyed-JSON-blob pattern used elsewhere in the
// corpus for lightweight embedded persistence: "scaling:<unixnano>",
// "usage:<unixnano>", "profile:<operationType>".
type badgerStore struct {
	db *badger.DB
}

func openBadgerStore(path string) (*badgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger at %q: %w", path, err)
	}
	return &badgerStore{db: db}, nil
}

func (s *badgerStore) PersistScaling(d history.ScalingDecision) error {
	key := []byte(fmt.Sprintf("scaling:%020d", d.Timestamp.UnixNano()))
	buf, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	})
}

func (s *badgerStore) PersistUsage(row UsageRow) error {
	key := []byte(fmt.Sprintf("usage:%020d", row.Timestamp.UnixNano()))
	buf, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	})
}

func (s *badgerStore) UpsertOperationProfile(opType string, cpu, gpu, mem, temp, duration float64) error {
	key := []byte("profile:" + opType)
	return s.db.Update(func(txn *badger.Txn) error {
		var p OperationProfile
		item, err := txn.Get(key)
		switch {
		case err == nil:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return err
			}
		case err == badger.ErrKeyNotFound:
			p = OperationProfile{OperationType: opType}
		default:
			return err
		}

		n := float64(p.Count)
		p.CPUAvg = runningAvg(p.CPUAvg, n, cpu)
		p.GPUAvg = runningAvg(p.GPUAvg, n, gpu)
		p.MemoryAvg = runningAvg(p.MemoryAvg, n, mem)
		p.TemperatureAvg = runningAvg(p.TemperatureAvg, n, temp)
		p.DurationAvg = runningAvg(p.DurationAvg, n, duration)
		p.Count++
		p.LastUpdated = time.Now()

		buf, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return txn.Set(key, buf)
	})
}

func (s *badgerStore) PruneOlderThan(cutoff time.Time) error {
	return s.pruneByPrefix("scaling:", cutoff, func(buf []byte) (time.Time, error) {
		var d history.ScalingDecision
		if err := json.Unmarshal(buf, &d); err != nil {
			return time.Time{}, err
		}
		return d.Timestamp, nil
	}, func() error {
		return s.pruneByPrefix("usage:", cutoff, func(buf []byte) (time.Time, error) {
			var u UsageRow
			if err := json.Unmarshal(buf, &u); err != nil {
				return time.Time{}, err
			}
			return u.Timestamp, nil
		}, func() error { return nil })
	})
}

func (s *badgerStore) pruneByPrefix(prefix string, cutoff time.Time, ts func([]byte) (time.Time, error), then func() error) error {
	var staleKeys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			var when time.Time
			if err := item.Value(func(val []byte) error {
				t, err := ts(val)
				when = t
				return err
			}); err != nil {
				return err
			}
			if when.Before(cutoff) {
				staleKeys = append(staleKeys, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		for _, k := range staleKeys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}
	return then()
}

func (s *badgerStore) Close() error { return s.db.Close() }
