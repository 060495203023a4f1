package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentscope/internal/bus"
	"github.com/nextlevelbuilder/agentscope/internal/cache"
	"github.com/nextlevelbuilder/agentscope/internal/hookstats"
	"github.com/nextlevelbuilder/agentscope/internal/ingest"
	"github.com/nextlevelbuilder/agentscope/internal/metrics"
	"github.com/nextlevelbuilder/agentscope/internal/relationships"
	"github.com/nextlevelbuilder/agentscope/internal/store/sqlite"
	"github.com/nextlevelbuilder/agentscope/internal/syncqueue"
)

// nullCache accepts every cache call and holds nothing.
type nullCache struct{}

func (nullCache) Ping(context.Context) error                                  { return nil }
func (nullCache) Set(context.Context, string, string) error                   { return nil }
func (nullCache) SetEx(context.Context, string, string, time.Duration) error  { return nil }
func (nullCache) Get(context.Context, string) (string, bool, error)           { return "", false, nil }
func (nullCache) Del(context.Context, ...string) error                        { return nil }
func (nullCache) HSet(context.Context, string, string, string) error          { return nil }
func (nullCache) HGetAll(context.Context, string) (map[string]string, error)  { return nil, nil }
func (nullCache) HIncrBy(context.Context, string, string, int64) error        { return nil }
func (nullCache) HIncrByFloat(context.Context, string, string, float64) error { return nil }
func (nullCache) SAdd(context.Context, string, ...string) error               { return nil }
func (nullCache) SRem(context.Context, string, ...string) error               { return nil }
func (nullCache) SMembers(context.Context, string) ([]string, error)          { return nil, nil }
func (nullCache) ZAdd(context.Context, string, float64, string) error         { return nil }
func (nullCache) ZIncrBy(context.Context, string, float64, string) error      { return nil }
func (nullCache) LPush(context.Context, string, ...string) error              { return nil }
func (nullCache) LTrim(context.Context, string, int64, int64) error           { return nil }
func (nullCache) Expire(context.Context, string, time.Duration) error         { return nil }
func (nullCache) Close() error                                                { return nil }

// downCache refuses pings so the monitor observes a dead cache.
type downCache struct{ nullCache }

func (downCache) Ping(context.Context) error { return errors.New("connection refused") }

// writeFailCache refuses pings and writes so cache mutations are deferred.
type writeFailCache struct{ downCache }

func (writeFailCache) SetEx(context.Context, string, string, time.Duration) error {
	return errors.New("connection refused")
}

// recordingCache remembers SetEx writes.
type recordingCache struct {
	nullCache
	setex map[string]string
}

func (c *recordingCache) SetEx(_ context.Context, key, value string, _ time.Duration) error {
	if c.setex == nil {
		c.setex = map[string]string{}
	}
	c.setex[key] = value
	return nil
}

type frameRecorder struct {
	frames []bus.Frame
}

func (r *frameRecorder) Subscribe(id string, send bus.SendFunc) {}
func (r *frameRecorder) Unsubscribe(id string)                  {}
func (r *frameRecorder) Broadcast(f bus.Frame)                  { r.frames = append(r.frames, f) }

// env wires every handler onto one mux, backed by a real store and a null
// cache that the monitor sees as connected.
type env struct {
	db      *sqlite.Store
	mux     *http.ServeMux
	metrics *metrics.Service
	monitor *cache.Monitor
}

func newTestEnv(t *testing.T) *env {
	return newTestEnvWith(t, nullCache{})
}

func newTestEnvWith(t *testing.T, nc cache.Client) *env {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	monitor := cache.NewMonitor(nc, 0)
	monitor.Check(context.Background())

	metricsService := metrics.New(db, db, db, nc, monitor, nil)
	rels := relationships.New(db, db, &frameRecorder{})
	coverage := hookstats.New(db)
	ingestor := ingest.New(db, db, db, metricsService, rels, coverage, &frameRecorder{})
	worker := syncqueue.NewWorker(db, nc, monitor, syncqueue.Config{})

	mux := http.NewServeMux()
	NewEventsHandler(ingestor, db, 0).RegisterRoutes(mux)
	NewMetricsHandler(metricsService).RegisterRoutes(mux)
	NewHooksHandler(coverage, db).RegisterRoutes(mux)
	NewSessionsHandler(rels, db).RegisterRoutes(mux)
	NewFallbackHandler(monitor, func() string { return "closed" }, metricsService, worker, db,
		func() error { return db.Ping(context.Background()) }).RegisterRoutes(mux)

	return &env{db: db, mux: mux, metrics: metricsService, monitor: monitor}
}

func (e *env) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, httptest.NewRequest(method, target, rd))
	return w
}

func formatMillis(ms int64) string { return strconv.FormatInt(ms, 10) }

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}
