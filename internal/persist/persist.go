// Package persist keeps the upload manager's resume state in the durable
// store. Every operation degrades to a false result when the store is
// unavailable; nothing here returns an error.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/rescale/upsess/internal/durable"
	"github.com/rescale/upsess/internal/logging"
)

const (
	recordPrefix = "record/"
	uploadsOwner = "device"
	deviceIDKey  = "device_id"
)

// Record is one upload's state. Payload is opaque.
type Record struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Snapshot is the saved record set and the device it was saved for.
type Snapshot struct {
	Records  []Record `json:"records"`
	DeviceID string   `json:"deviceId"`
}

// Store reads and writes the uploads bucket. A nil KV means no durable store.
type Store struct {
	kv     durable.KV
	logger *logging.Logger

	mu          sync.Mutex
	ephemeralID string
}

func New(kv durable.KV, logger *logging.Logger) *Store {
	return &Store{kv: kv, logger: logger.Component("persist")}
}

func recordKey(i int) string {
	return fmt.Sprintf("%s%08d", recordPrefix, i)
}

// Save replaces the stored set with records in one transaction.
func (s *Store) Save(ctx context.Context, records []Record, deviceID string) bool {
	if s.kv == nil {
		s.logger.Debug().Msg("No durable store; upload state not saved")
		return false
	}

	entries := make([]durable.Entry, 0, len(records)+1)
	for i, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			s.logger.Error().Err(err).Str("record", rec.ID).Msg("Failed to encode upload record")
			return false
		}
		entries = append(entries, durable.Entry{Key: recordKey(i), Value: data})
	}
	if deviceID != "" {
		entries = append(entries, durable.Entry{Key: uploadsOwner, Value: []byte(deviceID)})
	}

	if err := s.kv.Replace(durable.Replacement{Bucket: durable.BucketUploads, Entries: entries}); err != nil {
		s.logger.Error().Err(err).Msg("Failed to save upload state")
		return false
	}
	s.logger.Debug().Int("records", len(records)).Msg("Upload state saved")
	return true
}

// Load returns the saved set, or false when nothing is stored or the store
// is unavailable.
func (s *Store) Load(ctx context.Context) (*Snapshot, bool) {
	if s.kv == nil {
		return nil, false
	}

	snap := &Snapshot{Records: []Record{}}
	found := false
	err := s.kv.ForEach(durable.BucketUploads, func(key string, value []byte) error {
		switch {
		case key == uploadsOwner:
			snap.DeviceID = string(value)
		case strings.HasPrefix(key, recordPrefix):
			var rec Record
			if err := json.Unmarshal(value, &rec); err != nil {
				return fmt.Errorf("record %s: %w", key, err)
			}
			snap.Records = append(snap.Records, rec)
		default:
			return nil
		}
		found = true
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load upload state")
		return nil, false
	}
	if !found {
		return nil, false
	}
	return snap, true
}

// Clear removes the saved set.
func (s *Store) Clear(ctx context.Context) bool {
	if s.kv == nil {
		return false
	}
	if err := s.kv.Clear(durable.BucketUploads); err != nil {
		s.logger.Error().Err(err).Msg("Failed to clear upload state")
		return false
	}
	return true
}

// DeviceID returns this installation's id, creating it on first use. Without
// a durable store the id lasts for the life of the process.
func (s *Store) DeviceID(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kv != nil {
		data, err := s.kv.Get(durable.BucketMeta, deviceIDKey)
		if err == nil && len(data) > 0 {
			return string(data)
		}
		if err != nil && !errors.Is(err, durable.ErrNotFound) {
			s.logger.Warn().Err(err).Msg("Failed to read device id")
		} else {
			id := uuid.NewString()
			if err := s.kv.Put(durable.BucketMeta, deviceIDKey, []byte(id)); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to store device id")
			} else {
				return id
			}
		}
	}

	if s.ephemeralID == "" {
		s.ephemeralID = uuid.NewString()
	}
	return s.ephemeralID
}
