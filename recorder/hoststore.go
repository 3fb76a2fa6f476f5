package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"sentinelqa/errcode"
	"sentinelqa/trajectory"
)

const (
	bucketKV         = "kv"
	bucketRecordings = "recordings"
)

var ErrKeyNotFound = errors.New("key not found")

// Recording is the durable state of one recording session.
type Recording struct {
	ID        string
	Active    bool
	Actions   []trajectory.Action
	UpdatedAt time.Time
}

type recordingJSON struct {
	ID        string            `json:"id"`
	Active    bool              `json:"active"`
	Actions   []json.RawMessage `json:"actions"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (r *Recording) MarshalJSON() ([]byte, error) {
	actions := make([]json.RawMessage, 0, len(r.Actions))
	for _, action := range r.Actions {
		b, err := trajectory.MarshalAction(action)
		if err != nil {
			return nil, err
		}
		actions = append(actions, b)
	}
	return json.Marshal(&recordingJSON{ID: r.ID, Active: r.Active, Actions: actions, UpdatedAt: r.UpdatedAt})
}

func (r *Recording) UnmarshalJSON(data []byte) error {
	var rj recordingJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return err
	}
	actions := make([]trajectory.Action, 0, len(rj.Actions))
	for i, raw := range rj.Actions {
		action, err := trajectory.UnmarshalAction(raw)
		if err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
		actions = append(actions, action)
	}
	r.ID, r.Active, r.Actions, r.UpdatedAt = rj.ID, rj.Active, actions, rj.UpdatedAt
	return nil
}

// HostStore is the durable storage the recorder shares with its UI. It
// outlives both, so a reopened UI can resync from it.
type HostStore struct {
	db       *bolt.DB
	notifier Notifier
}

func OpenHostStore(path string, notifier Notifier) (*HostStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errcode.Wrap(err, errcode.StorageWrite, "failed to create host store directory")
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errcode.Wrap(err, errcode.StorageRead, "open bolt db")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{bucketKV, bucketRecordings} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errcode.Wrap(err, errcode.StorageWrite, "init buckets")
	}
	if notifier == nil {
		notifier = NewMemoryNotifier()
	}
	return &HostStore{db: db, notifier: notifier}, nil
}

func (s *HostStore) Notifier() Notifier {
	return s.notifier
}

func (s *HostStore) Close() error {
	return s.db.Close()
}

func (s *HostStore) Get(key string) (string, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(bucketKV)).Get([]byte(key)); v != nil {
			value = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil {
		return "", errcode.Wrap(err, errcode.StorageRead, "read key").WithContext("key", key)
	} else if value == nil {
		return "", ErrKeyNotFound
	}
	return string(value), nil
}

func (s *HostStore) Set(ctx context.Context, key string, value string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketKV)).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return errcode.Wrap(err, errcode.StorageWrite, "write key").WithContext("key", key)
	}
	return s.notifier.Publish(ctx, Change{Kind: ChangeKey, Key: key})
}

// Keys lists the key/value entries in key order.
func (s *HostStore) Keys() (map[string]string, error) {
	entries := map[string]string{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketKV)).ForEach(func(k, v []byte) error {
			entries[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, errcode.Wrap(err, errcode.StorageRead, "list keys")
	}
	return entries, nil
}

// LoadRecording returns an empty inactive recording for unknown ids.
func (s *HostStore) LoadRecording(id string) (*Recording, error) {
	rec := &Recording{ID: id}
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketRecordings)).Get([]byte(id))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, errcode.Wrap(err, errcode.StorageRead, "read recording").WithContext("recording_id", id)
	}
	return rec, nil
}

// SaveRecording replaces the stored recording and notifies subscribers.
func (s *HostStore) SaveRecording(ctx context.Context, rec *Recording, kind ChangeKind) error {
	rec.UpdatedAt = time.Now()
	data, err := json.Marshal(rec)
	if err != nil {
		return errcode.Wrap(err, errcode.StorageWrite, "encode recording").WithContext("recording_id", rec.ID)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketRecordings)).Put([]byte(rec.ID), data)
	})
	if err != nil {
		return errcode.Wrap(err, errcode.StorageWrite, "write recording").WithContext("recording_id", rec.ID)
	}
	return s.notifier.Publish(ctx, Change{
		Kind:        kind,
		RecordingID: rec.ID,
		Recording:   rec.Active,
		NumActions:  len(rec.Actions),
		At:          rec.UpdatedAt,
	})
}

func (s *HostStore) ListRecordings() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketRecordings)).ForEach(func(k, v []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, errcode.Wrap(err, errcode.StorageRead, "list recordings")
	}
	sort.Strings(ids)
	return ids, nil
}
