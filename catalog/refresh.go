package catalog

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/greenbone/nvt-launcher/internal/logger"
)

// Loader fetches a full snapshot of routine metadata, keyed by OID.
type Loader func() (map[string]Entry, error)

// CachedCatalog is a MapCatalog kept fresh by a periodic reload, the way
// LXD's task.Group periodically prunes images or sends cluster heartbeats:
// a long-lived background schedule wrapping a point-in-time reload.
type CachedCatalog struct {
	*MapCatalog

	loader Loader
	cron   *cron.Cron
}

// NewCachedCatalog loads once synchronously, then schedules loader to run
// again on the given standard 5-field cron schedule.
func NewCachedCatalog(loader Loader, schedule string) (*CachedCatalog, error) {
	c := &CachedCatalog{
		MapCatalog: NewMapCatalog(),
		loader:     loader,
		cron:       cron.New(),
	}

	if err := c.refresh(); err != nil {
		return nil, fmt.Errorf("catalog: initial load: %w", err)
	}

	if _, err := c.cron.AddFunc(schedule, func() { _ = c.refresh() }); err != nil {
		return nil, fmt.Errorf("catalog: schedule refresh %q: %w", schedule, err)
	}

	return c, nil
}

// Start begins the periodic refresh schedule.
func (c *CachedCatalog) Start() {
	c.cron.Start()
}

// Stop halts the periodic refresh schedule and waits for any in-flight
// refresh to finish.
func (c *CachedCatalog) Stop() {
	<-c.cron.Stop().Done()
}

func (c *CachedCatalog) refresh() error {
	entries, err := c.loader()
	if err != nil {
		logger.Warn("catalog refresh failed; keeping previous snapshot", logger.Ctx{"err": err})
		return err
	}

	c.MapCatalog.Replace(entries)

	return nil
}
