package orchestration

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agentkernel/agentkernel/internal/domain/orchestration"
)

// TimeoutSweeper closes out groups whose timeout_s elapsed while no join
// caller was waiting on them — a join call observes its own deadline, but a
// group whose orchestrator crashed (or never joined) would otherwise sit in
// running forever with its members still holding capacity. The sweep reuses
// finishJoin so stragglers are cancelled with the same join_timed_out
// reason a live join would have used.
type TimeoutSweeper struct {
	kernel *Kernel
	groups orchestration.GroupRepository
	cron   *cron.Cron
}

// NewTimeoutSweeper creates a sweeper over the same repositories the Kernel
// uses.
func NewTimeoutSweeper(kernel *Kernel, groups orchestration.GroupRepository) *TimeoutSweeper {
	return &TimeoutSweeper{kernel: kernel, groups: groups, cron: cron.New()}
}

// Start schedules the sweep on the given cron spec (e.g. "@every 30s") and
// starts the scheduler.
func (s *TimeoutSweeper) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop stops the scheduler, waiting for an in-flight sweep to finish.
func (s *TimeoutSweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *TimeoutSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	expired, err := s.groups.FindOpenWithExpiredTimeout(ctx, time.Now().Unix())
	if err != nil {
		log.Printf("orchestration: timeout sweep failed to list groups: %v", err)
		return
	}

	for _, g := range expired {
		members, err := s.groups.Members(ctx, g.ID())
		if err != nil {
			log.Printf("orchestration: timeout sweep failed to list members of group %s: %v", g.ID(), err)
			continue
		}
		if _, err := s.kernel.finishJoin(ctx, g, members, orchestration.GroupStatusTimedOut); err != nil {
			log.Printf("orchestration: timeout sweep failed to close group %s: %v", g.ID(), err)
		}
	}
}
