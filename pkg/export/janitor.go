package export

import (
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Janitor prunes export artifacts older than the configured retention on a
// cron schedule.
type Janitor struct {
	log  logrus.FieldLogger
	cfg  *Config
	cron *cron.Cron
	now  func() time.Time
}

// NewJanitor creates an export-directory janitor
func NewJanitor(logger logrus.FieldLogger, cfg *Config) *Janitor {
	return &Janitor{
		log: logger.WithField("service", "export-janitor"),
		cfg: cfg,
		now: time.Now,
	}
}

// Start schedules the cleanup job
func (j *Janitor) Start() error {
	j.cron = cron.New()

	if _, err := j.cron.AddFunc(j.cfg.CleanupSchedule, func() {
		if removed, err := j.Sweep(); err != nil {
			j.log.WithError(err).Warn("Export cleanup failed")
		} else if removed > 0 {
			j.log.WithField("removed", removed).Info("Pruned expired export artifacts")
		}
	}); err != nil {
		return err
	}

	j.cron.Start()
	j.log.WithField("schedule", j.cfg.CleanupSchedule).Info("Started export janitor")

	return nil
}

// Stop halts the schedule, waiting for a running sweep to finish
func (j *Janitor) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}

	j.log.Info("Stopped export janitor")
}

// Sweep removes artifacts older than the retention window and reports how
// many files were deleted.
func (j *Janitor) Sweep() (int, error) {
	entries, err := os.ReadDir(j.cfg.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, err
	}

	cutoff := j.now().Add(-j.cfg.Retention)
	removed := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		switch filepath.Ext(entry.Name()) {
		case ".csv", ".json":
		default:
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(j.cfg.Directory, entry.Name())
		if err := os.Remove(path); err != nil {
			j.log.WithError(err).WithField("file", path).Warn("Failed to remove expired artifact")
			continue
		}

		removed++
	}

	return removed, nil
}
