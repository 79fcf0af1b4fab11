package telemetry

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// BusinessMetrics provides business metrics for the academy.
// It tracks gateway traffic, payments, contract allocation and gate decisions.
type BusinessMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	// Counter metrics (monotonically increasing)
	gatewayCallTotal  *Counter
	paymentTotal      *Counter
	allocationTotal   *Counter
	gateDecisionTotal *Counter

	// Gauge metrics (point-in-time values)
	activeContracts     *Gauge
	pendingTransactions *Gauge
	dbConnections       *Gauge

	// Periodic collector
	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once

	statsProvider StatsProvider
	poolStats     func() (sql.DBStats, error)
}

// StatsProvider provides ledger state for periodic gauge collection without
// tying the telemetry layer to the persistence models.
type StatsProvider interface {
	// CountActiveContracts returns the number of ACTIVE contracts
	CountActiveContracts(ctx context.Context) (int64, error)

	// CountPendingTransactions returns gateway transactions still waiting for perform, per source
	CountPendingTransactions(ctx context.Context) (map[string]int64, error)
}

// BusinessMetricsConfig holds configuration for business metrics.
type BusinessMetricsConfig struct {
	Meter           metric.Meter
	Logger          *zap.Logger
	CollectInterval time.Duration // Default: 5 minutes
	StatsProvider   StatsProvider
	// PoolStats reports the database connection pool; optional
	PoolStats func() (sql.DBStats, error)
}

// NewBusinessMetrics creates a new BusinessMetrics instance.
func NewBusinessMetrics(cfg BusinessMetricsConfig) (*BusinessMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	bm := &BusinessMetrics{
		meter:         cfg.Meter,
		logger:        logger,
		stopChan:      make(chan struct{}),
		statsProvider: cfg.StatsProvider,
		poolStats:     cfg.PoolStats,
	}

	var err error

	bm.gatewayCallTotal, err = NewCounter(
		cfg.Meter,
		"academy_gateway_call_total",
		"Total number of payment gateway callbacks by method and result code",
		"{calls}",
	)
	if err != nil {
		return nil, err
	}

	bm.paymentTotal, err = NewCounter(
		cfg.Meter,
		"academy_payment_total",
		"Total number of payment outcomes by source",
		"{payments}",
	)
	if err != nil {
		return nil, err
	}

	bm.allocationTotal, err = NewCounter(
		cfg.Meter,
		"academy_contract_allocation_total",
		"Total number of contract number allocations by outcome",
		"{allocations}",
	)
	if err != nil {
		return nil, err
	}

	bm.gateDecisionTotal, err = NewCounter(
		cfg.Meter,
		"academy_gate_decision_total",
		"Total number of turnstile decisions by reason",
		"{decisions}",
	)
	if err != nil {
		return nil, err
	}

	bm.activeContracts, err = NewGauge(
		cfg.Meter,
		"academy_active_contracts",
		"Current number of ACTIVE contracts",
		"{contracts}",
	)
	if err != nil {
		return nil, err
	}

	bm.pendingTransactions, err = NewGauge(
		cfg.Meter,
		"academy_pending_transactions",
		"Gateway transactions created but not yet performed",
		"{transactions}",
	)
	if err != nil {
		return nil, err
	}

	bm.dbConnections, err = NewGauge(
		cfg.Meter,
		"academy_db_connections",
		"Database pool connections by state",
		"{connections}",
	)
	if err != nil {
		return nil, err
	}

	return bm, nil
}

// RecordGatewayCall records one Payme or Click callback. code is the
// protocol result code, 0 for success.
func (bm *BusinessMetrics) RecordGatewayCall(ctx context.Context, provider, method string, code int) {
	bm.gatewayCallTotal.Inc(ctx,
		AttrProvider.String(provider),
		AttrGatewayMethod.String(method),
		AttrResultCode.Int(code),
	)
}

// RecordPayment records a payment outcome such as success, duplicate or cancelled.
func (bm *BusinessMetrics) RecordPayment(ctx context.Context, source, outcome string) {
	bm.paymentTotal.Inc(ctx,
		AttrPaymentSource.String(source),
		AttrOutcome.String(outcome),
	)
}

// RecordAllocation records a contract number allocation attempt.
func (bm *BusinessMetrics) RecordAllocation(ctx context.Context, outcome string) {
	bm.allocationTotal.Inc(ctx, AttrOutcome.String(outcome))
}

// RecordGateDecision records a turnstile decision.
func (bm *BusinessMetrics) RecordGateDecision(ctx context.Context, reason string) {
	bm.gateDecisionTotal.Inc(ctx, AttrGateReason.String(reason))
}

// RecordActiveContracts records the current number of ACTIVE contracts.
func (bm *BusinessMetrics) RecordActiveContracts(ctx context.Context, count int64) {
	bm.activeContracts.Record(ctx, count)
}

// RecordPendingTransactions records the pending transaction count of one source.
func (bm *BusinessMetrics) RecordPendingTransactions(ctx context.Context, source string, count int64) {
	bm.pendingTransactions.Record(ctx, count, AttrPaymentSource.String(source))
}

// =============================================================================
// Periodic Collection
// =============================================================================

// StartPeriodicCollection starts periodic collection of gauge metrics.
// This is non-blocking - use Stop() to stop collection.
func (bm *BusinessMetrics) StartPeriodicCollection(ctx context.Context, interval time.Duration) {
	bm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = 5 * time.Minute
		}

		go bm.runPeriodicCollection(ctx, interval)
	})
}

func (bm *BusinessMetrics) runPeriodicCollection(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect immediately on start
	bm.collectGauges(ctx)

	for {
		select {
		case <-bm.stopChan:
			bm.logger.Info("Stopping periodic business metrics collection")
			return
		case <-ctx.Done():
			bm.logger.Info("Context cancelled, stopping periodic business metrics collection")
			return
		case <-ticker.C:
			bm.collectGauges(ctx)
		}
	}
}

func (bm *BusinessMetrics) collectGauges(ctx context.Context) {
	bm.collectPool(ctx)
	if bm.statsProvider == nil {
		bm.logger.Debug("No stats provider configured, skipping gauge collection")
		return
	}

	active, err := bm.statsProvider.CountActiveContracts(ctx)
	if err != nil {
		bm.logger.Warn("Failed to count active contracts", zap.Error(err))
	} else {
		bm.RecordActiveContracts(ctx, active)
	}

	pending, err := bm.statsProvider.CountPendingTransactions(ctx)
	if err != nil {
		bm.logger.Warn("Failed to count pending transactions", zap.Error(err))
		return
	}
	for source, count := range pending {
		bm.RecordPendingTransactions(ctx, source, count)
	}
}

func (bm *BusinessMetrics) collectPool(ctx context.Context) {
	if bm.poolStats == nil {
		return
	}
	stats, err := bm.poolStats()
	if err != nil {
		bm.logger.Warn("Failed to read connection pool stats", zap.Error(err))
		return
	}
	bm.dbConnections.Record(ctx, int64(stats.InUse), AttrDBPoolState.String("in_use"))
	bm.dbConnections.Record(ctx, int64(stats.Idle), AttrDBPoolState.String("idle"))
	bm.dbConnections.Record(ctx, stats.WaitCount, AttrDBPoolState.String("waited"))
}

// Stop stops the periodic collection.
func (bm *BusinessMetrics) Stop() {
	bm.stopOnce.Do(func() {
		close(bm.stopChan)
	})
}

// =============================================================================
// Error Types
// =============================================================================

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewBusinessMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}

// Business attribute keys
var (
	AttrProvider      = attribute.Key("provider")
	AttrGatewayMethod = attribute.Key("gateway_method")
	AttrResultCode    = attribute.Key("result_code")
	AttrPaymentSource = attribute.Key("payment_source")
	AttrOutcome       = attribute.Key("outcome")
	AttrGateReason    = attribute.Key("gate_reason")
	AttrDBPoolState   = attribute.Key("db.pool.state")
)
