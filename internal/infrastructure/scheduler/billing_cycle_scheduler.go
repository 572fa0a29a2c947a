package scheduler

import (
	"context"
	"time"

	"github.com/fleetbill/backend/internal/application/billing"
	"github.com/fleetbill/backend/internal/domain/invoice"
	"github.com/fleetbill/backend/internal/infrastructure/config"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// TenantLister enumerates the tenants that have billing accounts, so cycle
// runs know which tenants to process.
type TenantLister interface {
	TenantIDs(ctx context.Context) ([]uuid.UUID, error)
}

// CycleRunner runs one billing cycle for one tenant. Implemented by
// billing.BillingCycleService.
type CycleRunner interface {
	RunCycle(ctx context.Context, tenantID uuid.UUID, frequency invoice.BillingFrequency) (*billing.CycleResult, error)
}

// BillingCycleScheduler triggers daily, weekly and monthly invoice
// generation runs on cron schedules. Runs are idempotent, so an overlapping
// or repeated trigger only skips already-covered accounts.
type BillingCycleScheduler struct {
	cron    *cron.Cron
	runner  CycleRunner
	tenants TenantLister
	cfg     config.BillingConfig
	logger  *zap.Logger
}

// NewBillingCycleScheduler creates a new BillingCycleScheduler. Schedules are
// standard five-field cron expressions evaluated in UTC, matching the UTC
// billing period boundaries.
func NewBillingCycleScheduler(
	runner CycleRunner,
	tenants TenantLister,
	cfg config.BillingConfig,
	logger *zap.Logger,
) *BillingCycleScheduler {
	return &BillingCycleScheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		runner:  runner,
		tenants: tenants,
		cfg:     cfg,
		logger:  logger.Named("billing-cycle-scheduler"),
	}
}

// Start registers the cycle jobs and starts the cron loop
func (s *BillingCycleScheduler) Start() error {
	jobs := []struct {
		schedule  string
		frequency invoice.BillingFrequency
	}{
		{s.cfg.DailyCronSchedule, invoice.FrequencyDaily},
		{s.cfg.WeeklyCronSchedule, invoice.FrequencyWeekly},
		{s.cfg.MonthlyCronSchedule, invoice.FrequencyMonthly},
	}

	for _, job := range jobs {
		frequency := job.frequency
		if _, err := s.cron.AddFunc(job.schedule, func() {
			s.runAllTenants(frequency)
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("billing cycle scheduler started",
		zap.String("daily", s.cfg.DailyCronSchedule),
		zap.String("weekly", s.cfg.WeeklyCronSchedule),
		zap.String("monthly", s.cfg.MonthlyCronSchedule),
	)
	return nil
}

// Stop stops the cron loop and waits for running jobs to finish
func (s *BillingCycleScheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.logger.Info("billing cycle scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runAllTenants runs one billing cycle for every tenant. A failure in one
// tenant does not stop the others.
func (s *BillingCycleScheduler) runAllTenants(frequency invoice.BillingFrequency) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CycleTimeout)
	defer cancel()

	tenantIDs, err := s.tenants.TenantIDs(ctx)
	if err != nil {
		s.logger.Error("failed to list tenants for billing cycle",
			zap.String("frequency", string(frequency)),
			zap.Error(err),
		)
		return
	}

	for _, tenantID := range tenantIDs {
		result, err := s.runner.RunCycle(ctx, tenantID, frequency)
		if err != nil {
			s.logger.Error("billing cycle run failed",
				zap.String("tenant_id", tenantID.String()),
				zap.String("frequency", string(frequency)),
				zap.Error(err),
			)
			continue
		}
		s.logger.Info("billing cycle run finished",
			zap.String("tenant_id", tenantID.String()),
			zap.String("frequency", string(frequency)),
			zap.Int("generated", result.Generated),
			zap.Int("skipped", result.Skipped),
			zap.Int("failed", result.Failed),
		)
	}
}
