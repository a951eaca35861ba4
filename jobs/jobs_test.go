package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/storefront/storefront/internal/identity"
	"github.com/storefront/storefront/internal/inventory"
	jobmetrics "github.com/storefront/storefront/internal/jobs"
	"github.com/storefront/storefront/internal/shared"
)

type stubLister struct {
	threshold int
	limit     int
	variants  []inventory.Variant
	err       error
}

func (s *stubLister) ListLowStock(_ context.Context, threshold, limit int) ([]inventory.Variant, error) {
	s.threshold = threshold
	s.limit = limit
	return s.variants, s.err
}

type stubGauge struct {
	value int
	calls int
}

func (g *stubGauge) SetLowStock(n int) {
	g.value = n
	g.calls++
}

type stubCleaner struct {
	olderThan time.Duration
	removed   int64
	err       error
}

func (c *stubCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	c.olderThan = olderThan
	return c.removed, c.err
}

func TestLowStockScanSetsGauge(t *testing.T) {
	lister := &stubLister{variants: []inventory.Variant{
		{ID: 1, ProductID: 9, SKU: "TEE-S", StockQuantity: 0},
		{ID: 2, ProductID: 9, SKU: "TEE-M", StockQuantity: 3},
	}}
	gauge := &stubGauge{}
	job := NewLowStockScanJob(lister, gauge, slog.Default(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewLowStockScanTask(4)
	require.NoError(t, err)
	require.Equal(t, TaskLowStockScan, task.Type())

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 4, lister.threshold)
	require.Positive(t, lister.limit)
	require.Equal(t, 2, gauge.value)
}

func TestLowStockScanFailureLeavesGauge(t *testing.T) {
	lister := &stubLister{err: errors.New("db down")}
	gauge := &stubGauge{}
	job := NewLowStockScanJob(lister, gauge, nil, nil)

	task, err := NewLowStockScanTask(0)
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))
	require.Zero(t, gauge.calls)
}

func TestLowStockScanRejectsBadPayload(t *testing.T) {
	job := NewLowStockScanJob(&stubLister{}, nil, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskLowStockScan, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestIdempotencyCleanupUsesRetention(t *testing.T) {
	cleaner := &stubCleaner{removed: 7}
	job := NewIdempotencyCleanupJob(cleaner, nil, nil)

	task, err := NewIdempotencyCleanupTask(24 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 24*time.Hour, cleaner.olderThan)

	task, err = NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, defaultIdempotencyRetention, cleaner.olderThan)

	cleaner.err = errors.New("db down")
	require.Error(t, job.Handle(context.Background(), task))
}

func TestHandlerHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil, slog.Default(), identity.Middleware{}).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, QueueDefault, body.Queue)
}

func TestHandlerScanRequiresStaff(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil, slog.Default(), identity.Middleware{}).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/low-stock-scan", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlerEnqueuesForStaff(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	verifier, err := identity.NewVerifier("jobs-secret", "", 0)
	require.NoError(t, err)
	auth := identity.Middleware{Verifier: verifier}
	r := chi.NewRouter()
	r.Use(auth.Authenticate)
	NewHandler(nil, client, slog.Default(), auth).MountRoutes(r)

	staff, err := verifier.Issue(shared.Actor{ID: 1, Role: shared.RoleStaff}, time.Hour)
	require.NoError(t, err)
	customer, err := verifier.Issue(shared.Actor{ID: 2, Role: shared.RoleCustomer}, time.Hour)
	require.NoError(t, err)
	post := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusForbidden, post("/low-stock-scan", customer).Code)
	require.Equal(t, http.StatusBadRequest, post("/low-stock-scan?threshold=-1", staff).Code)
	require.Equal(t, http.StatusBadRequest, post("/idempotency-cleanup?retention=soon", staff).Code)

	rec := post("/low-stock-scan?threshold=3", staff)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, QueueDefault, body["queue"])
	require.NotEmpty(t, body["task_id"])

	require.Equal(t, http.StatusAccepted, post("/idempotency-cleanup?retention=48h", staff).Code)
}
