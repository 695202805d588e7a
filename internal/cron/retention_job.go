package cron

import (
	"context"
	"errors"
	"time"

	"github.com/natalfamilia/natal-backend/pkg/logger"
)

const defaultRetentionDays = 30

// PruneFunc deletes rows older than cutoff and reports how many went.
type PruneFunc func(ctx context.Context, cutoff time.Time) (int64, error)

// RetentionJob runs once a day and prunes rows older than Days. It only ever
// sees rows its PruneFunc considers finished; the order tables have no
// retention job.
type RetentionJob struct {
	name  string
	prune PruneFunc
	days  int
	logg  *logger.Logger
	now   func() time.Time
}

// NewRetentionJob builds a job called name. days <= 0 means 30.
func NewRetentionJob(name string, prune PruneFunc, days int, logg *logger.Logger) (*RetentionJob, error) {
	switch {
	case name == "":
		return nil, errors.New("retention job needs a name")
	case prune == nil:
		return nil, errors.New("retention job needs a prune func")
	case logg == nil:
		return nil, errors.New("logger required")
	}
	if days <= 0 {
		days = defaultRetentionDays
	}
	return &RetentionJob{name: name, prune: prune, days: days, logg: logg, now: time.Now}, nil
}

func (j *RetentionJob) Name() string         { return j.name }
func (j *RetentionJob) Every() time.Duration { return 24 * time.Hour }

func (j *RetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().AddDate(0, 0, -j.days)
	deleted, err := j.prune(ctx, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"cutoff":       cutoff.Format(time.RFC3339),
			"rows_deleted": deleted,
		}), "retention pruned rows")
	}
	return nil
}
