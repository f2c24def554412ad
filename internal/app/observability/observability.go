package observability

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"quizlms/internal/auth"

	"github.com/go-chi/chi/v5/middleware"
)

type key struct {
	Method string
	Path   string
	Status int
}

type stat struct {
	Count     int64
	LatencyMS float64
}

type Collector struct {
	db     *sql.DB
	logger *slog.Logger

	mu           sync.RWMutex
	requestStats map[key]stat
	startedAt    time.Time
}

func NewCollector(db *sql.DB, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		db:           db,
		logger:       logger,
		requestStats: make(map[key]stat),
		startedAt:    time.Now(),
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency, and writes one access log
// line per request. Mount it after authentication so user_id is known.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		latencyMS := float64(time.Since(start).Microseconds()) / 1000.0
		path := normalizedPath(r.URL.Path)

		c.mu.Lock()
		k := key{Method: r.Method, Path: path, Status: rec.status}
		s := c.requestStats[k]
		s.Count++
		s.LatencyMS += latencyMS
		c.requestStats[k] = s
		c.mu.Unlock()

		userID := int64(0)
		if p, ok := auth.CurrentPrincipal(r.Context()); ok {
			userID = p.UserID
		}

		level := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		c.logger.Log(r.Context(), level, "http request",
			"request_id", middleware.GetReqID(r.Context()),
			"user_id", userID,
			"session_id", extractID(r.URL.Path, "sessions"),
			"result_id", extractID(r.URL.Path, "results"),
			"method", r.Method,
			"path", path,
			"status", rec.status,
			"latency_ms", latencyMS,
			"remote_ip", strings.TrimSpace(r.RemoteAddr),
		)
	})
}

// MetricsHandler renders request counters, pool stats and the number of
// sessions and results per status in the Prometheus text format.
func (c *Collector) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	snapshot := make(map[key]stat, len(c.requestStats))
	for k, v := range c.requestStats {
		snapshot[k] = v
	}
	c.mu.RUnlock()

	keys := make([]key, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		if keys[i].Method != keys[j].Method {
			return keys[i].Method < keys[j].Method
		}
		return keys[i].Status < keys[j].Status
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "# TYPE quizlms_uptime_seconds gauge\nquizlms_uptime_seconds %.0f\n", time.Since(c.startedAt).Seconds())

	sb.WriteString("# TYPE quizlms_http_requests_total counter\n")
	sb.WriteString("# TYPE quizlms_http_request_latency_ms_sum counter\n")
	for _, k := range keys {
		s := snapshot[k]
		labels := fmt.Sprintf(`method=%q,path=%q,status="%d"`, k.Method, k.Path, k.Status)
		fmt.Fprintf(&sb, "quizlms_http_requests_total{%s} %d\n", labels, s.Count)
		fmt.Fprintf(&sb, "quizlms_http_request_latency_ms_sum{%s} %.3f\n", labels, s.LatencyMS)
	}

	if c.db != nil {
		dbs := c.db.Stats()
		fmt.Fprintf(&sb, "# TYPE quizlms_db_open_connections gauge\nquizlms_db_open_connections %d\n", dbs.OpenConnections)
		fmt.Fprintf(&sb, "# TYPE quizlms_db_in_use_connections gauge\nquizlms_db_in_use_connections %d\n", dbs.InUse)
		fmt.Fprintf(&sb, "# TYPE quizlms_db_wait_count counter\nquizlms_db_wait_count %d\n", dbs.WaitCount)

		c.writeStatusGauge(r.Context(), &sb, "quizlms_sessions", "quiz_sessions")
		c.writeStatusGauge(r.Context(), &sb, "quizlms_results", "results")
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, sb.String())
}

// writeStatusGauge emits one sample per status found in table. Query
// failures are logged and the gauge is skipped.
func (c *Collector) writeStatusGauge(ctx context.Context, sb *strings.Builder, metric, table string) {
	rows, err := c.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM `+table+` GROUP BY status ORDER BY status`)
	if err != nil {
		c.logger.WarnContext(ctx, "metrics status query failed", "table", table, "err", err)
		return
	}
	defer rows.Close()

	fmt.Fprintf(sb, "# TYPE %s gauge\n", metric)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			c.logger.WarnContext(ctx, "metrics status scan failed", "table", table, "err", err)
			return
		}
		fmt.Fprintf(sb, "%s{status=%q} %d\n", metric, status, n)
	}
	if err := rows.Err(); err != nil {
		c.logger.WarnContext(ctx, "metrics status rows failed", "table", table, "err", err)
	}
}

func normalizedPath(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

// extractID returns the numeric id following the given collection segment.
func extractID(path, collection string) int64 {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == collection {
			if id, err := strconv.ParseInt(parts[i+1], 10, 64); err == nil {
				return id
			}
		}
	}
	return 0
}
