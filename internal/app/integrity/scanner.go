// Package integrity runs the constraint scan on a cron schedule and
// publishes the result.
package integrity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/program_portal/internal/app/domain/archive"
	"github.com/R3E-Network/program_portal/internal/app/metrics"
	"github.com/R3E-Network/program_portal/internal/app/system"
	"github.com/R3E-Network/program_portal/pkg/logger"
)

// DefaultSchedule runs the scan every fifteen minutes.
const DefaultSchedule = "*/15 * * * *"

// Source performs one scan.
type Source interface {
	Scan(ctx context.Context) ([]archive.Issue, error)
}

var _ system.Service = (*Scanner)(nil)

// Scanner is a lifecycle-managed periodic constraint scan.
type Scanner struct {
	source   Source
	schedule cron.Schedule
	expr     string
	timeout  time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	last    []archive.Issue
	lastRun time.Time
}

// NewScanner parses expr (standard five-field cron syntax or a descriptor
// such as "@hourly"). An empty expr uses DefaultSchedule.
func NewScanner(source Source, expr string, log *logger.Logger) (*Scanner, error) {
	if log == nil {
		log = logger.NewDefault("integrity-scanner")
	}
	if expr == "" {
		expr = DefaultSchedule
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse integrity schedule %q: %w", expr, err)
	}
	return &Scanner{
		source:   source,
		schedule: schedule,
		expr:     expr,
		timeout:  time.Minute,
		log:      log,
	}, nil
}

func (s *Scanner) Name() string { return "integrity-scanner" }

func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New()
	c.Schedule(s.schedule, cron.FuncJob(func() {
		if _, err := s.RunOnce(runCtx); err != nil {
			s.log.WithError(err).Warn("integrity scan failed")
		}
	}))
	c.Start()
	s.cron = c
	s.cancel = cancel

	s.log.WithField("schedule", s.expr).Info("integrity scanner started")
	return nil
}

func (s *Scanner) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	cancel()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("integrity scanner stopped")
	return nil
}

// RunOnce scans immediately, updates the gauge and logs every issue found.
func (s *Scanner) RunOnce(ctx context.Context) ([]archive.Issue, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	issues, err := s.source.Scan(ctx)
	if err != nil {
		return nil, err
	}
	metrics.SetConstraintIssues(len(issues))

	s.mu.Lock()
	s.last = issues
	s.lastRun = time.Now().UTC()
	s.mu.Unlock()

	for _, issue := range issues {
		s.log.WithField("entity", issue.Entity.String()).
			WithField("references", issue.References.String()).
			WithField("problem", issue.Problem).
			Warn("dangling reference")
	}
	s.log.WithField("issues", len(issues)).Debug("integrity scan complete")
	return issues, nil
}

// Last returns the issues from the most recent scan and when it ran.
func (s *Scanner) Last() ([]archive.Issue, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]archive.Issue(nil), s.last...), s.lastRun
}
