package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper drops tabs whose observer stopped answering.
type Sweeper interface {
	SweepActive(ctx context.Context) []int
}

// LivenessService runs the sweep on a cron schedule so a dead observer is
// noticed even when no tab event touches it.
type LivenessService struct {
	cron    *cron.Cron
	sweeper Sweeper
	logger  *zap.Logger
	timeout time.Duration

	mutex   sync.Mutex
	entryID cron.EntryID
	running bool
	sweeps  int
}

func NewLivenessService(sweeper Sweeper, logger *zap.Logger, timeout time.Duration) *LivenessService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LivenessService{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		sweeper: sweeper,
		logger:  logger.Named("liveness"),
		timeout: timeout,
	}
}

// Start schedules the sweep. An empty spec leaves the service idle.
func (s *LivenessService) Start(spec string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running || spec == "" {
		return nil
	}
	entryID, err := s.cron.AddFunc(spec, s.Sweep)
	if err != nil {
		return fmt.Errorf("invalid liveness schedule %q: %w", spec, err)
	}
	s.entryID = entryID
	s.running = true
	s.cron.Start()
	s.logger.Info("liveness sweep scheduled", zap.String("spec", spec), zap.Int("entry_id", int(entryID)))
	return nil
}

// Stop unschedules the sweep and waits for a running one to finish.
func (s *LivenessService) Stop() {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return
	}
	s.running = false
	s.cron.Remove(s.entryID)
	s.mutex.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("liveness sweep stopped")
}

func (s *LivenessService) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	dropped := s.sweeper.SweepActive(ctx)

	s.mutex.Lock()
	s.sweeps++
	s.mutex.Unlock()
	if len(dropped) > 0 {
		s.logger.Info("liveness sweep dropped tabs", zap.Ints("tab_ids", dropped))
	}
}

func (s *LivenessService) Sweeps() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.sweeps
}
