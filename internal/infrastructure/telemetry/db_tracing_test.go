package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type probeRow struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"size:100"`
}

func setupProbeDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&probeRow{}))
	return db
}

func setupRecorder(t *testing.T) (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, recorder
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[string]any {
	out := make(map[string]any)
	for _, kv := range span.Attributes() {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func TestDefaultDBTracingConfig(t *testing.T) {
	cfg := DefaultDBTracingConfig()

	assert.False(t, cfg.Enabled)
	assert.False(t, cfg.LogFullSQL, "query variables stay out of spans by default")
	assert.Equal(t, 200*time.Millisecond, cfg.SlowQueryThresh)
	assert.Equal(t, "postgresql", cfg.DBSystem)
}

func TestNewDBTracingPlugin_Defaults(t *testing.T) {
	plugin := NewDBTracingPlugin(DBTracingConfig{Enabled: true}, nil)

	assert.Equal(t, 200*time.Millisecond, plugin.config.SlowQueryThresh)
	assert.NotNil(t, plugin.logger)
}

func TestDBTracingPlugin_RegisterOtelGorm(t *testing.T) {
	t.Run("disabled registers nothing", func(t *testing.T) {
		db := setupProbeDB(t)
		require.NoError(t, NewDBTracingPlugin(DefaultDBTracingConfig(), zap.NewNop()).RegisterOtelGorm(db))
		assert.Nil(t, db.Callback().Query().Get("otel_slow_query:query"))
	})

	t.Run("enabled traces statements", func(t *testing.T) {
		tp, recorder := setupRecorder(t)
		previous := otel.GetTracerProvider()
		otel.SetTracerProvider(tp)
		t.Cleanup(func() { otel.SetTracerProvider(previous) })

		db := setupProbeDB(t)
		cfg := DBTracingConfig{Enabled: true, SlowQueryThresh: time.Second, DBSystem: "sqlite"}
		require.NoError(t, NewDBTracingPlugin(cfg, zap.NewNop()).RegisterOtelGorm(db))
		assert.NotNil(t, db.Callback().Query().Get("otel_slow_query:query"))
		assert.NotNil(t, db.Callback().Create().Get("otel_timing:before_create"))

		ctx, parent := tp.Tracer("test").Start(context.Background(), "gate.admit")
		require.NoError(t, db.WithContext(ctx).Create(&probeRow{Name: "ali"}).Error)
		var found probeRow
		require.NoError(t, db.WithContext(ctx).First(&found, "name = ?", "ali").Error)
		parent.End()

		assert.Greater(t, len(recorder.Ended()), 1, "expected statement spans under the parent")
	})

	t.Run("registering twice fails", func(t *testing.T) {
		db := setupProbeDB(t)
		plugin := NewDBTracingPlugin(DBTracingConfig{Enabled: true, DBSystem: "sqlite"}, zap.NewNop())
		require.NoError(t, plugin.RegisterOtelGorm(db))
		assert.Error(t, plugin.RegisterOtelGorm(db))
	})
}

func TestDBTracingPlugin_AfterQuery(t *testing.T) {
	plugin := NewDBTracingPlugin(DBTracingConfig{Enabled: true, SlowQueryThresh: 50 * time.Millisecond}, zap.NewNop())

	t.Run("slow statement is flagged", func(t *testing.T) {
		tp, recorder := setupRecorder(t)
		db := setupProbeDB(t)
		require.NoError(t, db.Create(&probeRow{Name: "ali"}).Error)

		ctx, span := tp.Tracer("test").Start(context.Background(), "ledger.report")
		ctx = context.WithValue(ctx, queryStartTimeKey, time.Now().Add(-time.Second))

		var rows []probeRow
		tx := db.WithContext(ctx).Find(&rows)
		require.NoError(t, tx.Error)
		plugin.afterQuery(tx)
		span.End()

		ended := recorder.Ended()
		require.Len(t, ended, 1)
		attrs := spanAttrs(ended[0])
		assert.Equal(t, true, attrs["db.slow_query"])
		assert.Equal(t, "probe_rows", attrs["db.sql.table"])
		assert.Equal(t, int64(1), attrs["db.rows_affected"])

		require.Len(t, ended[0].Events(), 1)
		assert.Equal(t, "slow_query_warning", ended[0].Events()[0].Name)
	})

	t.Run("fast statement is not flagged", func(t *testing.T) {
		tp, recorder := setupRecorder(t)
		db := setupProbeDB(t)

		ctx, span := tp.Tracer("test").Start(context.Background(), "ledger.report")
		ctx = context.WithValue(ctx, queryStartTimeKey, time.Now())

		var rows []probeRow
		tx := db.WithContext(ctx).Find(&rows)
		plugin.afterQuery(tx)
		span.End()

		attrs := spanAttrs(recorder.Ended()[0])
		assert.NotContains(t, attrs, "db.slow_query")
	})

	t.Run("errors mark the span", func(t *testing.T) {
		tp, recorder := setupRecorder(t)
		db := setupProbeDB(t)

		ctx, span := tp.Tracer("test").Start(context.Background(), "ledger.report")
		var rows []probeRow
		tx := db.WithContext(ctx).Table("missing_table").Find(&rows)
		require.Error(t, tx.Error)
		plugin.afterQuery(tx)
		span.End()

		assert.Equal(t, codes.Error, recorder.Ended()[0].Status().Code)
	})

	t.Run("record not found is not an error", func(t *testing.T) {
		tp, recorder := setupRecorder(t)
		db := setupProbeDB(t)

		ctx, span := tp.Tracer("test").Start(context.Background(), "gate.admit")
		var row probeRow
		tx := db.WithContext(ctx).First(&row, "name = ?", "nobody")
		require.ErrorIs(t, tx.Error, gorm.ErrRecordNotFound)
		plugin.afterQuery(tx)
		span.End()

		assert.NotEqual(t, codes.Error, recorder.Ended()[0].Status().Code)
	})

	t.Run("no span is a no-op", func(t *testing.T) {
		db := setupProbeDB(t)
		var rows []probeRow
		tx := db.WithContext(context.Background()).Find(&rows)
		assert.NotPanics(t, func() { plugin.afterQuery(tx) })
	})
}
