package events_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/deepcite/internal/config"
	"github.com/codeready-toolchain/deepcite/internal/events"
	"github.com/codeready-toolchain/deepcite/internal/models"
	"github.com/codeready-toolchain/deepcite/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(context.Background(), config.DatabaseConfig{Path: dbPath, WALMode: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestPhaseChangedPersistsAndPaginates guards the durability half of the
// Run Event contract (spec §3): every emitted event survives in the store
// and is retrievable through the same keyset pagination the service facade
// exposes.
func TestPhaseChangedPersistsAndPaginates(t *testing.T) {
	s := openTestStore(t)
	rec := events.NewRecorder(s)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "events test")
	require.NoError(t, err)

	require.NoError(t, rec.PhaseChanged(ctx, sess.ID, models.PhasePrePlanning))
	require.NoError(t, rec.PhaseChanged(ctx, sess.ID, models.PhaseOutlineDesign))

	page, next, err := rec.Page(ctx, sess.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, models.EventPhaseChanged, page[0].EventType)
	assert.Equal(t, string(models.PhasePrePlanning), page[0].Phase)
	assert.Equal(t, string(models.PhaseOutlineDesign), page[1].Phase)
	assert.Equal(t, "", next)
}

// TestSubscribeReceivesBroadcastEvents guards the in-process fan-out: a live
// subscriber observes an event emitted after it subscribed, without
// needing to poll the store.
func TestSubscribeReceivesBroadcastEvents(t *testing.T) {
	s := openTestStore(t)
	rec := events.NewRecorder(s)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "subscribe test")
	require.NoError(t, err)

	ch, unsubscribe := rec.Subscribe(sess.ID)
	defer unsubscribe()

	require.NoError(t, rec.CancellationRequested(ctx, sess.ID))

	select {
	case ev := <-ch:
		assert.Equal(t, models.EventCancellationRequested, ev.EventType)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast event")
	}
}

// TestWaitForQuietReturnsAfterInactivity guards the idle-detection helper
// the CLI's watch mode relies on.
func TestWaitForQuietReturnsAfterInactivity(t *testing.T) {
	s := openTestStore(t)
	rec := events.NewRecorder(s)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "quiet test")
	require.NoError(t, err)

	start := time.Now()
	err = rec.WaitForQuiet(ctx, sess.ID, 100*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}
