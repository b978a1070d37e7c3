package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/upsess/internal/durable"
	"github.com/rescale/upsess/internal/logging"
)

func sampleRecords(n int) []Record {
	out := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		payload, _ := json.Marshal(map[string]interface{}{"offset": i * 512, "name": "file"})
		out = append(out, Record{ID: fmt.Sprintf("upload-%d", i), Payload: payload})
	}
	return out
}

func TestSaveLoadAcrossReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	kv, err := durable.Open(path, time.Second)
	require.NoError(t, err)
	s := New(kv, logging.NewNopLogger())

	// More than ten records so key order matters.
	records := sampleRecords(12)
	require.True(t, s.Save(ctx, records, "device-1"))
	require.NoError(t, kv.Close())

	kv, err = durable.Open(path, time.Second)
	require.NoError(t, err)
	defer kv.Close()
	reloaded := New(kv, logging.NewNopLogger())

	snap, ok := reloaded.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, "device-1", snap.DeviceID)
	require.Len(t, snap.Records, len(records))
	for i := range records {
		assert.Equal(t, records[i].ID, snap.Records[i].ID)
		assert.JSONEq(t, string(records[i].Payload), string(snap.Records[i].Payload))
	}
}

func TestSaveReplacesWholeSet(t *testing.T) {
	ctx := context.Background()
	s := New(durable.NewMemory(), logging.NewNopLogger())

	require.True(t, s.Save(ctx, sampleRecords(5), "d"))
	require.True(t, s.Save(ctx, sampleRecords(2), "d2"))

	snap, ok := s.Load(ctx)
	require.True(t, ok)
	assert.Len(t, snap.Records, 2)
	assert.Equal(t, "d2", snap.DeviceID)
}

func TestLoadNothingStored(t *testing.T) {
	s := New(durable.NewMemory(), logging.NewNopLogger())
	snap, ok := s.Load(context.Background())
	assert.False(t, ok)
	assert.Nil(t, snap)
}

func TestSaveEmptySetKeepsDevice(t *testing.T) {
	ctx := context.Background()
	s := New(durable.NewMemory(), logging.NewNopLogger())

	require.True(t, s.Save(ctx, nil, "d"))
	snap, ok := s.Load(ctx)
	require.True(t, ok)
	assert.Empty(t, snap.Records)
	assert.Equal(t, "d", snap.DeviceID)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	s := New(durable.NewMemory(), logging.NewNopLogger())
	require.True(t, s.Save(ctx, sampleRecords(3), "d"))

	require.True(t, s.Clear(ctx))
	_, ok := s.Load(ctx)
	assert.False(t, ok)
}

func TestUnavailableStoreDegrades(t *testing.T) {
	ctx := context.Background()
	s := New(nil, logging.NewNopLogger())

	assert.False(t, s.Save(ctx, sampleRecords(1), "d"))
	_, ok := s.Load(ctx)
	assert.False(t, ok)
	assert.False(t, s.Clear(ctx))

	id := s.DeviceID(ctx)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, s.DeviceID(ctx), "stable for the life of the process")
}

func TestClosedStoreDegrades(t *testing.T) {
	ctx := context.Background()
	kv := durable.NewMemory()
	s := New(kv, logging.NewNopLogger())
	require.NoError(t, kv.Close())

	assert.False(t, s.Save(ctx, sampleRecords(1), "d"))
	_, ok := s.Load(ctx)
	assert.False(t, ok)
	assert.False(t, s.Clear(ctx))
	assert.NotEmpty(t, s.DeviceID(ctx))
}

func TestDeviceIDStable(t *testing.T) {
	ctx := context.Background()
	kv := durable.NewMemory()

	id := New(kv, logging.NewNopLogger()).DeviceID(ctx)
	require.NotEmpty(t, id)
	assert.Equal(t, id, New(kv, logging.NewNopLogger()).DeviceID(ctx))

	// The device id survives clearing upload state.
	s := New(kv, logging.NewNopLogger())
	require.True(t, s.Save(ctx, sampleRecords(1), "other"))
	require.True(t, s.Clear(ctx))
	assert.Equal(t, id, s.DeviceID(ctx))
}
