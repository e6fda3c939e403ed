package di

import (
	"fmt"
	"os"

	"github.com/alpacahq/seriesdb/catalog"
	"github.com/alpacahq/seriesdb/utils/log"
)

// OpenCatalogs opens the series catalog of every configured database.
func (c *Container) OpenCatalogs() error {
	if c.catalogs != nil {
		return nil
	}
	catalogs := make(map[string]catalog.Store, len(c.cfg.Databases))
	for _, db := range c.cfg.Databases {
		dir := c.DatabaseDir(db.Name)
		const ownerGroupAll = 0o770
		if err := os.Mkdir(dir, ownerGroupAll); err != nil && !os.IsExist(err) {
			closeAll(catalogs)
			return fmt.Errorf("create database directory %s: %w", dir, err)
		}
		store, err := catalog.Open(db.CatalogBackend, dir)
		if err != nil {
			closeAll(catalogs)
			return fmt.Errorf("open catalog of %s: %w", db.Name, err)
		}
		highest, err := store.HighestAllocatedID()
		if err != nil {
			closeAll(catalogs)
			_ = store.Close()
			return fmt.Errorf("read catalog of %s: %w", db.Name, err)
		}
		log.Info("opened %s catalog of %s (highest series id %d)", db.CatalogBackend, db.Name, highest)
		catalogs[db.Name] = store
	}
	c.catalogs = catalogs
	return nil
}

func closeAll(catalogs map[string]catalog.Store) {
	for _, s := range catalogs {
		_ = s.Close()
	}
}

// GetCatalogs returns the catalogs opened by OpenCatalogs.
func (c *Container) GetCatalogs() map[string]catalog.Store {
	if c.catalogs == nil {
		panic("catalogs are not opened yet")
	}
	return c.catalogs
}
