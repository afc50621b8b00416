package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"pricetrail/config"
	"pricetrail/models"
)

// CommandQueue is the operator command inbox.
type CommandQueue interface {
	PendingCommands(ctx context.Context) ([]models.Command, error)
	MarkCommandProcessed(ctx context.Context, id int64) error
}

// Scheduler is the external clock: it fires the gate on a cron expression
// or a fixed interval and applies queued operator commands.
type Scheduler struct {
	cfg      config.SchedulerConfig
	gate     *Gate
	commands CommandQueue
	logger   *zap.Logger

	cron   *cron.Cron
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	now func() time.Time
}

func New(cfg config.SchedulerConfig, gate *Gate, commands CommandQueue, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		gate:     gate,
		commands: commands,
		logger:   logger.Named("scheduler"),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.commands != nil && s.cfg.CommandPoll > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.pollCommands(ctx)
		}()
	}

	switch {
	case s.cfg.Cron != "":
		s.cron = cron.New(cron.WithLocation(s.gate.window.Loc))
		_, err := s.cron.AddFunc(s.cfg.Cron, func() { s.tick(ctx) })
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.logger.Info("Starting scheduler", zap.String("cron", s.cfg.Cron))
		s.cron.Start()
	case s.cfg.Interval > 0:
		s.logger.Info("Starting scheduler", zap.Duration("interval", s.cfg.Interval))
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ticker := time.NewTicker(s.cfg.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.tick(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	default:
		s.logger.Info("No schedule configured, daemon will only respond to commands")
	}
	return nil
}

// Stop halts the triggers and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		close(s.stopCh)
		if s.cron != nil {
			<-s.cron.Stop().Done()
		}
		s.wg.Wait()
	})
}

func (s *Scheduler) tick(ctx context.Context) {
	out := s.gate.MaybeRun(ctx, s.now())
	if out.Started() {
		s.logger.Info("Scheduled run finished", zap.String("run_id", out.RunID), zap.String("status", string(out.Status)))
	}
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CommandPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.drainCommands(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) drainCommands(ctx context.Context) {
	cmds, err := s.commands.PendingCommands(ctx)
	if err != nil {
		s.logger.Warn("Error getting commands", zap.Error(err))
		return
	}
	for i := range cmds {
		cmd := &cmds[i]
		s.logger.Info("Processing command", zap.String("command", string(cmd.Command)), zap.Int64("id", cmd.ID))
		if err := s.HandleCommand(ctx, cmd); err != nil {
			s.logger.Warn("Command error", zap.String("command", string(cmd.Command)), zap.Error(err))
		}
		if err := s.commands.MarkCommandProcessed(ctx, cmd.ID); err != nil {
			s.logger.Warn("Error marking command processed", zap.Error(err))
		}
	}
}

// HandleCommand applies one operator command.
func (s *Scheduler) HandleCommand(ctx context.Context, cmd *models.Command) error {
	var params models.CommandParams
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, &params); err != nil {
			return fmt.Errorf("command %d params: %w", cmd.ID, err)
		}
	}

	switch cmd.Command {
	case models.CmdScrapeNow:
		out := s.gate.RunNow(ctx, s.now(), params.Force)
		return outcomeErr(out)
	case models.CmdScrapeTarget:
		if params.TargetID == 0 {
			return fmt.Errorf("command %d: target_id is required", cmd.ID)
		}
		out := s.gate.RunTarget(ctx, s.now(), params.TargetID, params.Force)
		return outcomeErr(out)
	case models.CmdPause:
		s.gate.Pause()
		s.logger.Info("Scraper paused")
	case models.CmdResume:
		s.gate.Resume()
		s.logger.Info("Scraper resumed")
	case models.CmdReconcile:
		n, err := s.gate.Reconcile(ctx, s.now())
		if err != nil {
			return err
		}
		s.logger.Info("Reconciled stale entries", zap.Int("count", n))
	default:
		return fmt.Errorf("unknown command %q", cmd.Command)
	}
	return nil
}

func outcomeErr(out RunOutcome) error {
	if out.Status == Aborted {
		return fmt.Errorf("run %s aborted: %w", out.RunID, out.Err)
	}
	return nil
}
