package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/snuffle/internal/core/ports"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCatalog_RecordAndList(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := c.RecordCapture(ctx, ports.CaptureRecord{
			SessionID: "session-1",
			Kind:      "handshake",
			SSID:      "testnet",
			BSSID:     "AABBCC112233",
			Station:   "DDEEFF445566",
			Channel:   6,
			Messages:  0b0011,
			SavedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	recs, err := c.ListCaptures(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].SavedAt.After(recs[1].SavedAt), "newest first")
	assert.Equal(t, "testnet", recs[0].SSID)
	assert.NotEmpty(t, recs[0].ID, "row ids assigned")
}

func TestCatalog_WatermarkRoundTrip(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	// Empty catalog yields zeros, not an error
	minFree, minLargest, err := c.LoadWatermarks(ctx)
	require.NoError(t, err)
	assert.Zero(t, minFree)
	assert.Zero(t, minLargest)

	require.NoError(t, c.SaveWatermarks(ctx, 42000, 31000))
	require.NoError(t, c.SaveWatermarks(ctx, 40000, 30000)) // upsert

	minFree, minLargest, err = c.LoadWatermarks(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(40000), minFree)
	assert.Equal(t, uint32(30000), minLargest)
}
