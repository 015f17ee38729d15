// Package jobs runs periodic maintenance tasks.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/business-manager/internal/metrics"
)

// ExpiredTokenPurger deletes refresh tokens past their expiry.
type ExpiredTokenPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper deletes expired refresh tokens on a cron schedule.
type Sweeper struct {
	tokens  ExpiredTokenPurger
	metrics *metrics.Auth
	log     *logrus.Entry
	cron    *cron.Cron
	timeout time.Duration
	now     func() time.Time
}

func NewSweeper(tokens ExpiredTokenPurger, m *metrics.Auth, log *logrus.Entry) *Sweeper {
	return &Sweeper{
		tokens:  tokens,
		metrics: m,
		log:     log,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		timeout: 30 * time.Second,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules RunOnce with a standard cron spec or descriptor such as
// "@hourly" and starts the scheduler.
func (s *Sweeper) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, func() { _, _ = s.RunOnce(context.Background()) }); err != nil {
		return err
	}
	s.cron.Start()
	s.log.WithField("schedule", schedule).Info("token sweeper started")
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish or ctx
// to end.
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// RunOnce performs a single sweep and returns the number of deleted rows.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.tokens.PurgeExpired(ctx, s.now())
	if err != nil {
		s.log.WithError(err).Error("token sweep failed")
		return 0, err
	}
	if n > 0 {
		s.metrics.SweptTokensTotal.Add(float64(n))
		s.log.WithField("deleted", n).Info("expired refresh tokens purged")
	}
	return n, nil
}
