package monitoring

import (
	"fmt"
	"time"

	"github.com/isdelr/folio-vault-be/internal/services"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/disk"
)

// alertCooldown throttles repeated low-disk alerts.
const alertCooldown = 6 * time.Hour

// DiskWatcher periodically samples usage of the volume holding the database.
// Backups are bulky rows; a full disk turns every snapshot into a failed one,
// so the operator gets warned ahead of time.
type DiskWatcher struct {
	eventSvc     services.EventServiceProvider
	path         string
	alertPercent float64
	ticker       *time.Ticker
	done         chan bool
	lastAlert    time.Time
}

// NewDiskWatcher creates a new DiskWatcher for the given path.
func NewDiskWatcher(eventSvc services.EventServiceProvider, path string, alertPercent float64) *DiskWatcher {
	return &DiskWatcher{
		eventSvc:     eventSvc,
		path:         path,
		alertPercent: alertPercent,
		done:         make(chan bool),
	}
}

// Run starts the periodic sampling loop.
func (w *DiskWatcher) Run() {
	log.Info().Str("path", w.path).Msg("Starting disk usage watcher...")
	w.ticker = time.NewTicker(5 * time.Minute)
	defer w.ticker.Stop()

	// Sample once immediately on start
	w.sample()

	for {
		select {
		case <-w.done:
			log.Info().Msg("Stopping disk usage watcher.")
			return
		case <-w.ticker.C:
			w.sample()
		}
	}
}

// Stop halts the watcher.
func (w *DiskWatcher) Stop() {
	w.done <- true
}

func (w *DiskWatcher) sample() {
	usage, err := disk.Usage(w.path)
	if err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("DiskWatcher: could not read disk usage")
		return
	}

	log.Debug().Float64("used_percent", usage.UsedPercent).Str("path", w.path).Msg("DiskWatcher: sampled disk usage")
	if usage.UsedPercent < w.alertPercent {
		return
	}
	if time.Since(w.lastAlert) < alertCooldown {
		return
	}

	msg := fmt.Sprintf("Disk holding the backup database is %.1f%% full (threshold %.0f%%).", usage.UsedPercent, w.alertPercent)
	if err := w.eventSvc.CreateEvent("system.alert.disk", "warn", msg, nil); err != nil {
		log.Error().Err(err).Msg("DiskWatcher: failed to record disk alert event")
		return
	}
	w.lastAlert = time.Now()
}
