package storage

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fiatreserve/core/types"
)

func openTest(t *testing.T) *Storage {
	t.Helper()
	store, err := Open(MemoryDSN())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func record(seq uint64, eventType string, attrs map[string]string) types.EventRecord {
	return types.EventRecord{
		ID:          "id-" + big.NewInt(int64(seq)).String(),
		Sequence:    seq,
		Operation:   "mint",
		Event:       &types.Event{Type: eventType, Attributes: attrs},
		CommittedAt: time.Unix(1_700_000_000+int64(seq), 0).UTC(),
	}
}

func TestPublishAndListEvents(t *testing.T) {
	store := openTest(t)
	ctx := context.Background()

	batch := []types.EventRecord{
		record(1, "token.transfer", map[string]string{"amount": "5"}),
		record(2, "reserve.mint", map[string]string{"caller": "0xa1"}),
		record(3, "token.transfer", map[string]string{"amount": "7"}),
	}
	require.NoError(t, store.Publish(ctx, batch))
	// Replays are ignored.
	require.NoError(t, store.Publish(ctx, batch[:1]))

	all, err := store.Events(ctx, EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "5", all[0].Event.Attr("amount"))
	require.True(t, all[2].CommittedAt.Equal(batch[2].CommittedAt))

	after, err := store.Events(ctx, EventFilter{After: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.Equal(t, uint64(2), after[0].Sequence)

	transfers, err := store.Events(ctx, EventFilter{Type: "token.transfer"})
	require.NoError(t, err)
	require.Len(t, transfers, 2)

	latest, err := store.LatestSequence(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), latest)
}

func TestLatestSequenceEmpty(t *testing.T) {
	latest, err := openTest(t).LatestSequence(context.Background())
	require.NoError(t, err)
	require.Zero(t, latest)
}

func TestSnapshots(t *testing.T) {
	store := openTest(t)
	ctx := context.Background()

	_, err := store.LatestSnapshot(ctx)
	require.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, store.RecordSnapshot(ctx, Snapshot{Idle: big.NewInt(1), Assets: big.NewInt(1)}))
	require.NoError(t, store.RecordSnapshot(ctx, Snapshot{
		Idle:       big.NewInt(505),
		Deployed:   big.NewInt(495),
		Assets:     big.NewInt(1000),
		Supply:     big.NewInt(990),
		Allocation: big.NewInt(5),
	}))

	latest, err := store.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, "495", latest.Deployed.String())
	require.Equal(t, "990", latest.Supply.String())

	snaps, err := store.Snapshots(ctx, 10)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, 0, snaps[1].Deployed.Sign())
}

func TestFileDSN(t *testing.T) {
	_, err := FileDSN("  ")
	require.ErrorIs(t, err, ErrPathRequired)

	dsn, err := FileDSN(filepath.Join(t.TempDir(), "reserved.sqlite"))
	require.NoError(t, err)
	store, err := Open(dsn)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestDialectorSelection(t *testing.T) {
	require.Equal(t, "postgres", dialector("postgres://reserved@localhost/reserved").Name())
	require.Equal(t, "postgres", dialector("host=localhost user=reserved dbname=reserved").Name())
	require.Equal(t, "sqlite", dialector(MemoryDSN()).Name())
}

func TestResolveDSN(t *testing.T) {
	dsn, err := ResolveDSN("postgres://reserved@db/reserved")
	require.NoError(t, err)
	require.Equal(t, "postgres://reserved@db/reserved", dsn)

	mem := MemoryDSN()
	dsn, err = ResolveDSN(mem)
	require.NoError(t, err)
	require.Equal(t, mem, dsn)

	dsn, err = ResolveDSN("data/reserved.sqlite")
	require.NoError(t, err)
	require.Contains(t, dsn, "reserved.sqlite?mode=rwc")

	_, err = ResolveDSN("")
	require.ErrorIs(t, err, ErrPathRequired)
}
