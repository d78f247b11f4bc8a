package kvstore

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/r2kv/kvserver/db/snapshotdb"
	"github.com/r2kv/kvserver/pkg/aof"
	"github.com/r2kv/kvserver/pkg/store"
)

// snapshotter periodically records the store's cardinality into a sqlite3
// database, independent of the append-only log. It is a diagnostic aid
// only: nothing reads it back on startup, and its failures are logged, not
// fatal.
type snapshotter struct {
	db       *snapshotdb.DB
	store    *store.Store
	log      *aof.AOF
	interval time.Duration
	logger   zerolog.Logger
}

func (sn *snapshotter) run(ctx context.Context) {
	tk := time.NewTicker(sn.interval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			sn.takeSnapshot(ctx)
		}
	}
}

func (sn *snapshotter) takeSnapshot(ctx context.Context) {
	c := sn.store.Cardinality()
	offset, err := sn.log.Size()
	if err != nil {
		sn.logger.Warn().Err(err).Msg("snapshot: failed to read append-only log size")
	}
	if err := sn.db.Insert(ctx, time.Now(), offset, c.Values, c.Sets, c.SetMembers); err != nil {
		sn.logger.Warn().Err(err).Msg("snapshot: failed to write cardinality snapshot")
		return
	}
	if err := sn.db.Prune(ctx, 100); err != nil {
		sn.logger.Warn().Err(err).Msg("snapshot: failed to prune old snapshots")
	}
}
