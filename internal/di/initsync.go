package di

import (
	"github.com/alpacahq/seriesdb/initsync"
)

func (c *Container) GetScheduler() *initsync.Scheduler {
	if c.scheduler != nil {
		return c.scheduler
	}
	c.scheduler = initsync.NewScheduler(nil, c.cfg.Replication.InitSync.TickInterval)
	return c.scheduler
}

// GetInitSyncManager returns the manager of the initial sync sessions of every database.
func (c *Container) GetInitSyncManager() *initsync.Manager {
	if c.manager != nil {
		return c.manager
	}
	s := c.cfg.Replication.InitSync
	template := initsync.Config{
		ExchangeTimeout: s.ExchangeTimeout,
		BatchSeries:     s.BatchSeries,
		BatchBytes:      s.BatchBytes,
	}
	catalogs := make(map[string]initsync.Catalog, len(c.GetCatalogs()))
	for name, store := range c.GetCatalogs() {
		catalogs[name] = store
	}

	// a nil *GRPCInitSyncClient must not become a non-nil Peer
	var peer initsync.Peer
	if cli := c.GetPeerClient(); cli != nil {
		peer = cli
	}
	c.manager = initsync.NewManager(c.GetAbsRootDir(), template, catalogs, peer, c.GetScheduler())
	return c.manager
}
