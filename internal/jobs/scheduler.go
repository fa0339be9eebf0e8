package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"tokengate/api/internal/repository"
)

// Scheduler runs the periodic session maintenance. Its only job today is
// the expiry sweep: rotation and termination delete rows synchronously, so
// the sweep just reclaims sessions that lapsed without being used again.
type Scheduler struct {
	cron     *cron.Cron
	sessions *repository.SessionRepository
	schedule string
	log      zerolog.Logger
}

func NewScheduler(sessions *repository.SessionRepository, schedule string, log zerolog.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds())
	return &Scheduler{
		cron:     c,
		sessions: sessions,
		schedule: schedule,
		log:      log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.sweepExpiredSessions); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() context.CancelFunc {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	go func() {
		defer cancel()
		select {
		case <-s.cron.Stop().Done():
		case <-ctx.Done():
		}
	}()
	return cancel
}

func (s *Scheduler) sweepExpiredSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := s.sessions.DeleteExpired(ctx, time.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("expired session sweep failed")
		return
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted", deleted).Msg("expired sessions swept")
	}
}
