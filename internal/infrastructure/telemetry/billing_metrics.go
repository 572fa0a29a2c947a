// Package telemetry provides OpenTelemetry integration for metrics collection.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// BillingMetrics provides business metrics for the billing system.
// It tracks posting activity, invoice generation, and receivables health.
type BillingMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	// Counter metrics (monotonically increasing)
	chargeRecordedTotal   *Counter
	paymentReceivedTotal  *Counter
	postingAmountTotal    *Counter
	invoiceGeneratedTotal *Counter
	invoiceVoidedTotal    *Counter
	cycleRunTotal         *Counter

	// Histogram metrics
	cycleDuration *Histogram

	// Gauge metrics (point-in-time values)
	outstandingReceivables *FloatGauge

	// Periodic collector
	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once

	// Data provider for periodic collection
	receivablesProvider ReceivablesMetricsProvider
}

// ReceivablesMetricsProvider provides receivables data for periodic metrics
// collection. The interface lets the telemetry layer query ledger state
// without depending on the ledger domain directly.
type ReceivablesMetricsProvider interface {
	// OutstandingReceivables returns the net accounts-receivable balance per
	// currency for a tenant.
	OutstandingReceivables(ctx context.Context, tenantID uuid.UUID) (map[string]decimal.Decimal, error)
}

// BillingMetricsConfig holds configuration for billing metrics.
type BillingMetricsConfig struct {
	Meter               metric.Meter
	Logger              *zap.Logger
	CollectInterval     time.Duration // Default: 5 minutes
	ReceivablesProvider ReceivablesMetricsProvider
}

// NewBillingMetrics creates a new BillingMetrics instance.
func NewBillingMetrics(cfg BillingMetricsConfig) (*BillingMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	bm := &BillingMetrics{
		meter:               cfg.Meter,
		logger:              logger,
		stopChan:            make(chan struct{}),
		receivablesProvider: cfg.ReceivablesProvider,
	}

	var err error

	bm.chargeRecordedTotal, err = NewCounter(
		cfg.Meter,
		"fleetbill_charge_recorded_total",
		"Total number of charges recorded against billing accounts",
		"{charges}",
	)
	if err != nil {
		return nil, err
	}

	bm.paymentReceivedTotal, err = NewCounter(
		cfg.Meter,
		"fleetbill_payment_received_total",
		"Total number of payments applied to billing accounts",
		"{payments}",
	)
	if err != nil {
		return nil, err
	}

	bm.postingAmountTotal, err = NewCounter(
		cfg.Meter,
		"fleetbill_posting_amount_total",
		"Total posted amount in minor currency units",
		"{minor_units}",
	)
	if err != nil {
		return nil, err
	}

	bm.invoiceGeneratedTotal, err = NewCounter(
		cfg.Meter,
		"fleetbill_invoice_generated_total",
		"Total number of invoices generated",
		"{invoices}",
	)
	if err != nil {
		return nil, err
	}

	bm.invoiceVoidedTotal, err = NewCounter(
		cfg.Meter,
		"fleetbill_invoice_voided_total",
		"Total number of invoices voided",
		"{invoices}",
	)
	if err != nil {
		return nil, err
	}

	bm.cycleRunTotal, err = NewCounter(
		cfg.Meter,
		"fleetbill_billing_cycle_run_total",
		"Total number of billing cycle runs per tenant",
		"{runs}",
	)
	if err != nil {
		return nil, err
	}

	bm.cycleDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "fleetbill_billing_cycle_duration_seconds",
		Description: "Duration of billing cycle runs",
		Unit:        "s",
	})
	if err != nil {
		return nil, err
	}

	bm.outstandingReceivables, err = NewFloatGauge(
		cfg.Meter,
		"fleetbill_outstanding_receivables",
		"Net accounts-receivable balance per tenant and currency",
		"{major_units}",
	)
	if err != nil {
		return nil, err
	}

	return bm, nil
}

// =============================================================================
// Posting Metrics
// =============================================================================

// RecordCharge records a charge posting event.
// Amount should be in the smallest currency unit.
func (bm *BillingMetrics) RecordCharge(ctx context.Context, tenantID uuid.UUID, sourceKind, currency string, amountMinor int64) {
	bm.chargeRecordedTotal.Inc(ctx,
		AttrTenantID.String(tenantID.String()),
		AttrSourceKind.String(sourceKind),
		AttrCurrency.String(currency),
	)
	bm.postingAmountTotal.Add(ctx, amountMinor,
		AttrTenantID.String(tenantID.String()),
		AttrSourceKind.String(sourceKind),
		AttrCurrency.String(currency),
	)
}

// RecordPayment records a payment posting event.
// Amount should be in the smallest currency unit.
func (bm *BillingMetrics) RecordPayment(ctx context.Context, tenantID uuid.UUID, sourceKind, currency string, amountMinor int64) {
	bm.paymentReceivedTotal.Inc(ctx,
		AttrTenantID.String(tenantID.String()),
		AttrSourceKind.String(sourceKind),
		AttrCurrency.String(currency),
	)
	bm.postingAmountTotal.Add(ctx, amountMinor,
		AttrTenantID.String(tenantID.String()),
		AttrSourceKind.String(sourceKind),
		AttrCurrency.String(currency),
	)
}

// =============================================================================
// Invoice Metrics
// =============================================================================

// RecordInvoiceGenerated records an invoice generation event.
func (bm *BillingMetrics) RecordInvoiceGenerated(ctx context.Context, tenantID uuid.UUID, frequency string) {
	bm.invoiceGeneratedTotal.Inc(ctx,
		AttrTenantID.String(tenantID.String()),
		AttrFrequency.String(frequency),
	)
}

// RecordInvoiceVoided records an invoice void event.
func (bm *BillingMetrics) RecordInvoiceVoided(ctx context.Context, tenantID uuid.UUID) {
	bm.invoiceVoidedTotal.Inc(ctx,
		AttrTenantID.String(tenantID.String()),
	)
}

// =============================================================================
// Billing Cycle Metrics
// =============================================================================

// CycleOutcome represents the outcome of a billing cycle run for metrics labeling.
type CycleOutcome string

const (
	CycleOutcomeSuccess CycleOutcome = "success"
	CycleOutcomePartial CycleOutcome = "partial"
	CycleOutcomeFailed  CycleOutcome = "failed"
)

// RecordCycleRun records a billing cycle run with its duration and outcome.
func (bm *BillingMetrics) RecordCycleRun(ctx context.Context, tenantID uuid.UUID, frequency string, outcome CycleOutcome, duration time.Duration) {
	bm.cycleRunTotal.Inc(ctx,
		AttrTenantID.String(tenantID.String()),
		AttrFrequency.String(frequency),
		AttrCycleOutcome.String(string(outcome)),
	)
	bm.cycleDuration.RecordDuration(ctx, duration,
		AttrTenantID.String(tenantID.String()),
		AttrFrequency.String(frequency),
	)
}

// =============================================================================
// Receivables Metrics
// =============================================================================

// RecordOutstandingReceivables records the current net AR balance for a tenant.
// This is a gauge metric that should be updated periodically.
func (bm *BillingMetrics) RecordOutstandingReceivables(ctx context.Context, tenantID uuid.UUID, currency string, balance decimal.Decimal) {
	value, _ := balance.Float64()
	bm.outstandingReceivables.Record(ctx, value,
		AttrTenantID.String(tenantID.String()),
		AttrCurrency.String(currency),
	)
}

// =============================================================================
// Periodic Collection
// =============================================================================

// TenantProvider provides tenant IDs for periodic metrics collection.
type TenantProvider interface {
	TenantIDs(ctx context.Context) ([]uuid.UUID, error)
}

// StartPeriodicCollection starts periodic collection of gauge metrics.
// It collects receivables metrics every interval (default: 5 minutes).
// This is non-blocking - use Stop() to stop collection.
func (bm *BillingMetrics) StartPeriodicCollection(ctx context.Context, tenantProvider TenantProvider, interval time.Duration) {
	bm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = 5 * time.Minute
		}

		go bm.runPeriodicCollection(ctx, tenantProvider, interval)
	})
}

func (bm *BillingMetrics) runPeriodicCollection(ctx context.Context, tenantProvider TenantProvider, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect immediately on start
	bm.collectReceivablesMetrics(ctx, tenantProvider)

	for {
		select {
		case <-bm.stopChan:
			bm.logger.Info("Stopping periodic billing metrics collection")
			return
		case <-ctx.Done():
			bm.logger.Info("Context cancelled, stopping periodic billing metrics collection")
			return
		case <-ticker.C:
			bm.collectReceivablesMetrics(ctx, tenantProvider)
		}
	}
}

func (bm *BillingMetrics) collectReceivablesMetrics(ctx context.Context, tenantProvider TenantProvider) {
	if bm.receivablesProvider == nil {
		bm.logger.Debug("No receivables provider configured, skipping receivables metrics collection")
		return
	}

	tenantIDs, err := tenantProvider.TenantIDs(ctx)
	if err != nil {
		bm.logger.Error("Failed to get tenant IDs for metrics collection", zap.Error(err))
		return
	}

	for _, tenantID := range tenantIDs {
		balances, err := bm.receivablesProvider.OutstandingReceivables(ctx, tenantID)
		if err != nil {
			bm.logger.Warn("Failed to get outstanding receivables for tenant",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err),
			)
			continue
		}
		for currency, balance := range balances {
			bm.RecordOutstandingReceivables(ctx, tenantID, currency, balance)
		}
	}
}

// Stop stops the periodic collection.
func (bm *BillingMetrics) Stop() {
	bm.stopOnce.Do(func() {
		close(bm.stopChan)
	})
}

// =============================================================================
// Error Types
// =============================================================================

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewBillingMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
