// Package supervisor runs every enabled configured directory's reconciler
// concurrently, the C7 component. Grounded on the teacher's cmd/client
// main() (one Watcher per configured note directory) generalized to
// golang.org/x/sync/errgroup so a configuration with many directories gets
// one supervised goroutine each with coordinated shutdown.
package supervisor

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/abuss/syncpair/internal/config"
	"github.com/abuss/syncpair/internal/protocol"
	"github.com/abuss/syncpair/internal/reconciler"
)

// Supervisor owns one reconciler+watcher pair per enabled directory entry.
type Supervisor struct {
	cfg    *config.ParticipantConfig
	client *protocol.Client
	logger *slog.Logger
}

func New(cfg *config.ParticipantConfig, client *protocol.Client, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{cfg: cfg, client: client, logger: logger}
}

// Run starts one reconciler per enabled directory and blocks until ctx is
// canceled or any directory's goroutine returns an unrecoverable error.
// Disabled directories (spec.md §6, settings.enabled=false) are skipped
// entirely — never scanned, never negotiated.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	started := 0
	for _, dir := range s.cfg.Directories {
		if !dir.Enabled {
			s.logger.Info("directory disabled, skipping", "directory", dir.Name)
			continue
		}
		dir := dir
		started++

		rec, err := reconciler.New(s.cfg.ParticipantID, dir, s.client, s.logger)
		if err != nil {
			return err
		}

		watcher, err := reconciler.NewWatcher(rec, s.logger)
		if err != nil {
			s.logger.Warn("filesystem watch unavailable, falling back to interval-only sync",
				"directory", dir.Name, "error", err)
			g.Go(func() error { return rec.Run(ctx) })
			continue
		}

		g.Go(func() error { return rec.Run(ctx) })
		g.Go(func() error { return watcher.Run(ctx) })
	}

	if started == 0 {
		s.logger.Warn("no enabled directories configured, nothing to do")
		<-ctx.Done()
		return nil
	}

	return g.Wait()
}
