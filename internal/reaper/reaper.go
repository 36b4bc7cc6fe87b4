package reaper

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"range-instance-backend/config"
	"range-instance-backend/internal/store"
)

// Terminator is the slice of the orchestrator the reaper drives. Expired
// instances are torn down through the same pipeline as user-triggered
// terminates, so the owning user still sees the progress events.
type Terminator interface {
	Terminate(ctx context.Context, opID, instanceID string) error
}

// Service periodically terminates instances whose expiry has passed.
type Service struct {
	cfg   config.ReaperConfig
	store store.Store
	term  Terminator
}

// NewService creates a reaper over the given store and terminator.
func NewService(cfg config.ReaperConfig, s store.Store, term Terminator) *Service {
	return &Service{cfg: cfg, store: s, term: term}
}

// Run starts the sweep loop. It returns when ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		log.Println("Reaper is disabled. Not starting.")
		return
	}
	log.Println("Starting reaper service...")

	s.SweepOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Reaper service shutting down.")
			return
		case <-timer.C:
			s.SweepOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// SweepOnce terminates every instance whose expiry has passed.
func (s *Service) SweepOnce(ctx context.Context) {
	now := time.Now().UTC()

	expired, err := s.store.ListExpiredInstances(ctx, now)
	if err != nil {
		log.Printf("reaper: failed to list expired instances: %v", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	log.Printf("reaper: terminating %d expired instances", len(expired))
	for _, inst := range expired {
		opID := uuid.NewString()
		if err := s.term.Terminate(ctx, opID, inst.ID); err != nil {
			log.Printf("reaper: op=%s instance=%s terminate failed: %v", opID, inst.ID, err)
		}
	}
}
