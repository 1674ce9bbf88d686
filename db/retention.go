package db

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// RetentionPolicy defines which stored chat messages are pruned.
type RetentionPolicy struct {
	// KeepDays: messages older than this many days are deleted (0 = disabled)
	KeepDays int
	// KeepCount: keep only the N most recent messages (0 = disabled)
	KeepCount int
	// DryRun: count what would be deleted without deleting
	DryRun bool
	// Interval: how often the job runs
	Interval time.Duration
}

// Enabled reports whether any limit is configured.
func (p RetentionPolicy) Enabled() bool { return p.KeepDays > 0 || p.KeepCount > 0 }

// LoadRetentionPolicy reads HISTORY_RETENTION_DAYS, HISTORY_RETENTION_COUNT,
// HISTORY_RETENTION_DRY_RUN and HISTORY_RETENTION_INTERVAL. Invalid values
// fall back to the defaults (disabled, every 6h).
func LoadRetentionPolicy() RetentionPolicy {
	policy := RetentionPolicy{Interval: 6 * time.Hour}
	if s := os.Getenv("HISTORY_RETENTION_DAYS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			policy.KeepDays = n
		}
	}
	if s := os.Getenv("HISTORY_RETENTION_COUNT"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			policy.KeepCount = n
		}
	}
	policy.DryRun = os.Getenv("HISTORY_RETENTION_DRY_RUN") == "1"
	if s := os.Getenv("HISTORY_RETENTION_INTERVAL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			policy.Interval = d
		}
	}
	return policy
}

// PruneMessages deletes messages outside the policy and returns how many
// rows were (or in dry-run mode, would be) removed. A message is kept if
// either limit retains it.
func (s *Store) PruneMessages(ctx context.Context, policy RetentionPolicy, now time.Time) (int64, error) {
	if !policy.Enabled() {
		return 0, nil
	}
	// Start from "everything" and narrow by each enabled limit.
	where := `TRUE`
	args := []any{}
	if policy.KeepDays > 0 {
		args = append(args, now.Add(-time.Duration(policy.KeepDays)*24*time.Hour).UTC())
		where += fmt.Sprintf(` AND sent_at < $%d`, len(args))
	}
	if policy.KeepCount > 0 {
		args = append(args, policy.KeepCount)
		where += fmt.Sprintf(` AND id NOT IN (SELECT id FROM chat_messages ORDER BY sent_at DESC, received_at DESC LIMIT $%d)`, len(args))
	}

	if policy.DryRun {
		var n int64
		err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_messages WHERE `+where, args...).Scan(&n)
		return n, err
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM chat_messages WHERE `+where, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StartRetentionJob prunes message history on policy.Interval until ctx is
// done. It returns immediately when no limit is configured.
func StartRetentionJob(ctx context.Context, store *Store, policy RetentionPolicy) {
	logger := slog.Default().With(slog.String("component", "history_retention"), slog.Bool("dry_run", policy.DryRun))
	if !policy.Enabled() {
		logger.Info("retention job disabled (no policy configured)")
		return
	}
	logger.Info("retention job starting",
		slog.Int("keep_days", policy.KeepDays),
		slog.Int("keep_count", policy.KeepCount),
		slog.Duration("interval", policy.Interval))

	run := func() {
		n, err := store.PruneMessages(ctx, policy, time.Now())
		if err != nil {
			logger.Warn("retention cleanup failed", slog.Any("err", err))
			return
		}
		logger.Info("retention cleanup finished", slog.Int64("pruned", n))
	}
	run()

	ticker := time.NewTicker(policy.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention job stopped")
			return
		case <-ticker.C:
			run()
		}
	}
}
