package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig configures gorm query tracing.
type DBTracingConfig struct {
	Enabled bool
	// LogFullSQL includes query parameters in spans. Parameter values can
	// carry account and payment data, so this stays off outside dev.
	LogFullSQL bool
	// SlowQueryThresh marks spans slower than this (default 200ms).
	SlowQueryThresh time.Duration
	// DBSystem is the database name reported on spans (default "postgresql").
	DBSystem string
}

// DefaultDBTracingConfig returns the default tracing configuration, disabled
// and with parameters redacted.
func DefaultDBTracingConfig() DBTracingConfig {
	return DBTracingConfig{
		Enabled:         false,
		LogFullSQL:      false,
		SlowQueryThresh: 200 * time.Millisecond,
		DBSystem:        "postgresql",
	}
}

// DBTracingPlugin layers slow query detection and error marking on top of the
// otelgorm spans.
type DBTracingPlugin struct {
	config DBTracingConfig
	logger *zap.Logger
}

// NewDBTracingPlugin creates a database tracing plugin.
func NewDBTracingPlugin(cfg DBTracingConfig, logger *zap.Logger) *DBTracingPlugin {
	return &DBTracingPlugin{config: cfg, logger: logger}
}

// RegisterOtelGorm installs otelgorm on the DB plus the timing callbacks that
// annotate its spans with row counts, slow query events, and errors.
func (p *DBTracingPlugin) RegisterOtelGorm(db *gorm.DB) error {
	if !p.config.Enabled {
		p.logger.Debug("Database tracing disabled, skipping otelgorm registration")
		return nil
	}

	opts := []otelgorm.Option{
		otelgorm.WithDBName(p.config.DBSystem),
	}
	if !p.config.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}

	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	cb := db.Callback()
	for _, err := range []error{
		cb.Create().Before("gorm:create").Register("otel_timing:before_create", p.markStart),
		cb.Query().Before("gorm:query").Register("otel_timing:before_query", p.markStart),
		cb.Update().Before("gorm:update").Register("otel_timing:before_update", p.markStart),
		cb.Delete().Before("gorm:delete").Register("otel_timing:before_delete", p.markStart),
		cb.Row().Before("gorm:row").Register("otel_timing:before_row", p.markStart),
		cb.Raw().Before("gorm:raw").Register("otel_timing:before_raw", p.markStart),

		cb.Create().After("gorm:create").Register("otel_slow_query:create", p.annotateSpan),
		cb.Query().After("gorm:query").Register("otel_slow_query:query", p.annotateSpan),
		cb.Update().After("gorm:update").Register("otel_slow_query:update", p.annotateSpan),
		cb.Delete().After("gorm:delete").Register("otel_slow_query:delete", p.annotateSpan),
		cb.Row().After("gorm:row").Register("otel_slow_query:row", p.annotateSpan),
		cb.Raw().After("gorm:raw").Register("otel_slow_query:raw", p.annotateSpan),
	} {
		if err != nil {
			return err
		}
	}

	p.logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", p.config.LogFullSQL),
		zap.Duration("slow_query_threshold", p.config.SlowQueryThresh),
		zap.String("db_system", p.config.DBSystem),
	)

	return nil
}

func (p *DBTracingPlugin) markStart(db *gorm.DB) {
	if db.Statement.Context != nil {
		db.Statement.Context = context.WithValue(db.Statement.Context, queryStartTimeKey, time.Now())
	}
}

// annotateSpan runs after each gorm operation. It enriches the otelgorm span
// with the affected row count and table, flags slow queries, and marks span
// errors. gorm.ErrRecordNotFound is an expected outcome and is not an error.
func (p *DBTracingPlugin) annotateSpan(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}

	if db.Statement.RowsAffected >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	}
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}

	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.SetStatus(codes.Error, db.Error.Error())
		span.RecordError(db.Error)
	}

	if startTime, ok := ctx.Value(queryStartTimeKey).(time.Time); ok {
		elapsed := time.Since(startTime)
		if elapsed > p.config.SlowQueryThresh {
			span.SetAttributes(
				attribute.Bool("db.slow_query", true),
				attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
			)
			span.AddEvent("slow_query_warning", trace.WithAttributes(
				attribute.Int64("duration_ms", elapsed.Milliseconds()),
				attribute.Int64("threshold_ms", p.config.SlowQueryThresh.Milliseconds()),
			))
		}
	}
}

type contextKey string

const queryStartTimeKey contextKey = "otel_query_start_time"
