package observability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Mindburn-Labs/progression/pkg/availability"
	"github.com/Mindburn-Labs/progression/pkg/catalog"
	"github.com/Mindburn-Labs/progression/pkg/progression"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "svt-progression", cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.InDelta(t, 1.0, cfg.SampleRate, 1e-9)
	assert.False(t, cfg.Enabled)
}

func TestNew_Disabled(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Meter())

	// Instruments are absent; tracking must still work.
	_, finish := p.TrackOperation(ctx, "noop")
	finish(errors.New("boom"))
	assert.NoError(t, p.Shutdown(ctx))
}

func TestNew_NilConfig(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, p.config.Enabled)
}

type testTelemetry struct {
	provider *Provider
	reader   *sdkmetric.ManualReader
	spans    *tracetest.SpanRecorder
}

func newTestTelemetry(t *testing.T) *testTelemetry {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		_ = tp.Shutdown(context.Background())
	})

	p, err := NewWithProviders(tp, mp)
	require.NoError(t, err)
	return &testTelemetry{provider: p, reader: reader, spans: spans}
}

// total sums every data point of the named counter.
func (tt *testTelemetry) total(t *testing.T, name string) float64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, tt.reader.Collect(context.Background(), &rm))

	var sum float64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					sum += float64(dp.Value)
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					sum += dp.Value
				}
			}
		}
	}
	return sum
}

func TestTrackOperation(t *testing.T) {
	tt := newTestTelemetry(t)
	ctx := context.Background()

	_, finish := tt.provider.TrackOperation(ctx, "GetBalance")
	finish(nil)
	_, finish = tt.provider.TrackOperation(ctx, "GetBalance")
	finish(progression.ErrStatsUnavailable)

	assert.InDelta(t, 2, tt.total(t, "svt.requests.total"), 1e-9)
	assert.InDelta(t, 1, tt.total(t, "svt.errors.total"), 1e-9)
	assert.InDelta(t, 0, tt.total(t, "svt.operations.active"), 1e-9)

	ended := tt.spans.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "GetBalance", ended[0].Name())
	assert.Len(t, ended[1].Events(), 1, "error recorded on span")
}

func TestErrorType(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: timeout", progression.ErrStatsUnavailable), "stats_unavailable"},
		{&progression.RequirementsNotMetError{MissionID: "M1"}, "requirements_not_met"},
		{&availability.PrerequisitesNotMetError{Missing: []string{"M1"}}, "prerequisites_not_met"},
		{context.DeadlineExceeded, "cancelled"},
		{errors.New("disk full"), "internal"},
	}
	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, errorType(tc.err))
		})
	}
}

// stubService answers the operations under test; the rest panic via the nil
// embedded interface.
type stubService struct {
	progression.Service
	receipt  *progression.RewardReceipt
	unlocked []progression.AchievementReceipt
	err      error
}

func (s *stubService) CompleteMission(context.Context, string, string) (*progression.RewardReceipt, error) {
	return s.receipt, s.err
}

func (s *stubService) EvaluateAchievements(context.Context, string) ([]progression.AchievementReceipt, error) {
	return s.unlocked, s.err
}

func (s *stubService) GetBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, s.err
}

func TestInstrument_CompleteMission(t *testing.T) {
	tt := newTestTelemetry(t)
	ctx := context.Background()
	stub := &stubService{receipt: &progression.RewardReceipt{
		CustomerID: "c1", MissionID: "M1", EntryID: "e1",
		Amount: decimal.NewFromInt(100), Balance: decimal.NewFromInt(100),
		CompletedAt: time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC),
	}}
	svc := Instrument(stub, tt.provider)

	r, err := svc.CompleteMission(ctx, "c1", "M1")
	require.NoError(t, err)
	assert.Equal(t, "e1", r.EntryID)
	assert.InDelta(t, 100, tt.total(t, "svt.tokens.granted"), 1e-9)
	assert.InDelta(t, 0, tt.total(t, "svt.completions.deduplicated"), 1e-9)

	stub.receipt.Deduplicated = true
	_, err = svc.CompleteMission(ctx, "c1", "M1")
	require.NoError(t, err)
	assert.InDelta(t, 100, tt.total(t, "svt.tokens.granted"), 1e-9, "retries grant nothing")
	assert.InDelta(t, 1, tt.total(t, "svt.completions.deduplicated"), 1e-9)
}

func TestInstrument_ErrorsPassThrough(t *testing.T) {
	tt := newTestTelemetry(t)
	stub := &stubService{err: fmt.Errorf("%w: provider down", progression.ErrStatsUnavailable)}
	svc := Instrument(stub, tt.provider)

	_, err := svc.GetBalance(context.Background(), "c1")
	require.ErrorIs(t, err, progression.ErrStatsUnavailable)
	assert.InDelta(t, 1, tt.total(t, "svt.errors.total"), 1e-9)
	assert.InDelta(t, 1, tt.total(t, "svt.stats.failures"), 1e-9)
}

func TestInstrument_EvaluateAchievements(t *testing.T) {
	tt := newTestTelemetry(t)
	stub := &stubService{unlocked: []progression.AchievementReceipt{
		{AchievementID: "high_roller", Rank: catalog.Gold, Amount: decimal.NewFromInt(5000)},
		{AchievementID: "frequent_flyer", Rank: catalog.Silver, Amount: decimal.NewFromInt(250)},
	}}
	svc := Instrument(stub, tt.provider)

	got, err := svc.EvaluateAchievements(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.InDelta(t, 2, tt.total(t, "svt.achievements.unlocked"), 1e-9)
	assert.InDelta(t, 5250, tt.total(t, "svt.tokens.granted"), 1e-9)
}
