package session

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultRetention     = 30 * 24 * time.Hour
	defaultSweepInterval = time.Hour
)

// Cleanup deletes transcripts that have not been touched within the
// retention window.
type Cleanup struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
	log       zerolog.Logger
	stopCh    chan struct{}
	running   bool
}

// NewCleanup creates a cleanup sweeper. A zero retention uses the default.
func NewCleanup(store *Store, retention time.Duration, logger zerolog.Logger) *Cleanup {
	if retention == 0 {
		retention = DefaultRetention
	}
	return &Cleanup{
		store:     store,
		retention: retention,
		interval:  defaultSweepInterval,
		log:       logger,
		stopCh:    make(chan struct{}),
	}
}

// Start begins periodic sweeping.
func (c *Cleanup) Start() error {
	if c.running {
		return fmt.Errorf("cleanup is already running")
	}
	c.running = true
	go c.run()

	c.log.Info().Dur("retention", c.retention).Msg("Transcript cleanup started")
	return nil
}

// Stop halts the sweeper.
func (c *Cleanup) Stop() error {
	if !c.running {
		return fmt.Errorf("cleanup is not running")
	}
	close(c.stopCh)
	c.running = false

	c.log.Info().Msg("Transcript cleanup stopped")
	return nil
}

func (c *Cleanup) run() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := c.SweepOnce(); err != nil {
				c.log.Error().Err(err).Msg("Transcript sweep failed")
			}
		case <-c.stopCh:
			return
		}
	}
}

// SweepOnce deletes every transcript older than the retention window and
// returns how many were removed.
func (c *Cleanup) SweepOnce() (int, error) {
	keys, err := c.store.List()
	if err != nil {
		return 0, fmt.Errorf("failed to list transcripts: %w", err)
	}

	now := time.Now()
	removed := 0
	for _, key := range keys {
		info, err := c.store.Stat(key)
		if err != nil {
			c.log.Warn().Str("session_key", key).Err(err).Msg("Failed to stat transcript")
			continue
		}
		if now.Sub(info.LastModified) < c.retention {
			continue
		}
		if err := c.store.Delete(key); err != nil {
			c.log.Error().Str("session_key", key).Err(err).Msg("Failed to delete expired transcript")
			continue
		}
		removed++
	}

	if removed > 0 {
		c.log.Info().Int("removed", removed).Msg("Expired transcripts removed")
	}
	return removed, nil
}
