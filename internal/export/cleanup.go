package export

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"catalogexport/internal/config"
	"catalogexport/internal/logging"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Janitor removes export files left behind by attempts that never reached
// their cleanup step, e.g. a worker killed by the task timeout.
type Janitor struct {
	cfg    config.ExportConfig
	clock  clockwork.Clock
	logger zerolog.Logger
}

func NewJanitor(cfg config.ExportConfig, clock clockwork.Clock, logger *zerolog.Logger) *Janitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Janitor{
		cfg:    cfg,
		clock:  clock,
		logger: logging.Component(logger, "export_janitor"),
	}
}

func (j *Janitor) Start(ctx context.Context) {
	if j.cfg.CleanupRetention <= 0 || j.cfg.CleanupInterval <= 0 {
		j.logger.Info().Msg("export janitor is disabled")
		return
	}

	j.logger.Info().
		Dur("interval", j.cfg.CleanupInterval).
		Dur("retention", j.cfg.CleanupRetention).
		Msg("export janitor started")

	ticker := j.clock.NewTicker(j.cfg.CleanupInterval)
	defer ticker.Stop()

	j.Sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			j.Sweep()
		}
	}
}

// Sweep deletes prefixed export files older than the retention window and
// returns how many were removed.
func (j *Janitor) Sweep() int {
	files, err := os.ReadDir(j.cfg.Directory)
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.Error().Err(err).Msg("failed to read export directory for cleanup")
		}
		return 0
	}

	cutoff := j.clock.Now().Add(-j.cfg.CleanupRetention)
	removed := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), j.cfg.FilePrefix) {
			continue
		}

		info, err := file.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			path := filepath.Join(j.cfg.Directory, file.Name())
			if err := os.Remove(path); err != nil {
				j.logger.Warn().Err(err).Str("file", file.Name()).Msg("failed to delete stale export")
				continue
			}
			j.logger.Info().Str("file", file.Name()).Msg("deleted stale export")
			removed++
		}
	}
	return removed
}
