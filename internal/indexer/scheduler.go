package indexer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs retries and expiry once a minute.
const DefaultSchedule = "@every 1m"

// cronLogger routes cron's own messages to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron_"+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron_"+msg, append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)...)
}

// scheduler drives the periodic retry and expiry pass.
type scheduler struct {
	cron *cron.Cron
}

// newScheduler registers tick on spec. Overlapping ticks are skipped.
func newScheduler(spec string, tick func()) (*scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})))
	if _, err := c.AddFunc(spec, tick); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return &scheduler{cron: c}, nil
}

func (s *scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running tick to finish.
func (s *scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// ValidateSchedule reports whether spec is a schedule the scheduler accepts.
func ValidateSchedule(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// tick runs one retry pass followed by one expiry pass.
func (m *Manager) tick() {
	ctx := m.workerContext()
	if ctx == nil {
		ctx = context.Background()
	}
	summary := m.ReIndex(ctx)
	expired := m.ExpireOldEntries()
	if summary.Attempted > 0 || expired > 0 {
		slog.Info("reindex_tick",
			slog.Int("attempted", summary.Attempted),
			slog.Int("succeeded", summary.Succeeded),
			slog.Int("failed", summary.Failed),
			slog.Int("dropped", summary.Dropped),
			slog.Int("expired", expired))
	}
}
