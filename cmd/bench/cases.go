// README: Benchmark test cases for the safety service; includes HTTP, DB, Redis, and performance checks.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name  string
	Focus string
	Run   func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) cases() []TestCase {
	base := r.cfg.BaseURL
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "DB connectivity",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Name: "db", Status: "FAIL", Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Env: Redis connect",
			Focus: "Redis connectivity",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "FAIL", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: apply (optional)",
			Focus: "Optionally apply migration SQL",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: "SKIP", Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				stmts := splitSQL(string(sql))
				for _, s := range stmts {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: tables exist",
			Focus: "Check tables against migrations/0001_init.sql",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
					if !exists {
						return Result{Status: "FAIL", Note: "missing table: " + t}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "API: server reachable",
			Focus: "API responds to requests",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				resp, err := r.httpc.Get(base + "/health")
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				_ = resp.Body.Close()
				return Result{Status: "PASS", Latency: time.Since(start), Note: fmt.Sprintf("status=%d", resp.StatusCode)}
			},
		},
		httpCaseMethod("API: metrics exposed", http.MethodGet, base+"/metrics", nil, []int{200}, []int{404}),

		// Safety-check flow
		httpCaseMethod("Safety: get unknown event -> 404", http.MethodGet, base+"/api/safety/events/bench_missing", nil, []int{404}, []int{501}),

		httpCase("Safety: respond unknown event -> 404", base+"/api/safety/events/bench_missing/respond", map[string]any{
			"response": "safe",
		}, []int{404}, []int{501}),

		httpCase("Safety: respond invalid action -> 400", base+"/api/safety/events/bench_missing/respond", map[string]any{
			"response": "later",
		}, []int{400}, []int{501, 404}),

		httpCase("Safety: end trip without open episode", base+"/api/safety/trips/bench_trip_none/end", nil, []int{200, 204}, []int{501, 404}),

		manualCase("Safety: stationary promotion", "seed a monitoring episode older than the window and watch the sweep send the push"),
		manualCase("Safety: escalation after timeout", "leave an alert unanswered past the deadline and verify call + ticket"),

		// SOS flow
		httpCase("SOS: trigger (valid)", base+"/api/sos/alerts", map[string]any{
			"tripId":   "bench_trip_sos",
			"userType": "passenger",
			"lat":      12.9716,
			"lng":      77.5946,
		}, []int{200, 201}, []int{501, 404}),

		httpCase("SOS: trigger duplicate for live trip -> 409", base+"/api/sos/alerts", map[string]any{
			"tripId":   "bench_trip_sos",
			"userType": "passenger",
			"lat":      12.9716,
			"lng":      77.5946,
		}, []int{409}, []int{501, 404}),

		httpCase("SOS: trigger missing fields -> 400", base+"/api/sos/alerts", map[string]any{}, []int{400}, []int{501, 404}),

		httpCase("SOS: trigger invalid coords -> 400", base+"/api/sos/alerts", map[string]any{
			"tripId":   "bench_trip_sos2",
			"userType": "passenger",
			"lat":      123.0,
			"lng":      456.0,
		}, []int{400}, []int{501, 404}),

		httpCaseMethod("SOS: alert by trip", http.MethodGet, base+"/api/sos/trips/bench_trip_sos", nil, []int{200, 404}, []int{501}),

		httpCase("SOS: tracking update unknown alert -> 404", base+"/api/sos/alerts/bench_missing/location", map[string]any{
			"lat": 12.9716,
			"lng": 77.5946,
		}, []int{404}, []int{501}),

		manualCase("SOS: tracking buffer cap", "push >100 tracking points and verify only the newest 100 are returned"),
		manualCase("SOS: dashboard fan-out", "attach a websocket dashboard client and verify alert broadcasts arrive"),

		// Share flow
		httpCase("Share: start session (valid)", base+"/api/share/sessions", map[string]any{
			"tripId":   "bench_trip_share",
			"userType": "passenger",
			"contacts": []map[string]string{{"name": "Bench Contact", "phone": "+15550000001"}},
		}, []int{200, 201}, []int{501, 404}),

		httpCase("Share: start session too many contacts -> 400", base+"/api/share/sessions", map[string]any{
			"tripId":   "bench_trip_share6",
			"userType": "passenger",
			"contacts": []map[string]string{
				{"name": "c1", "phone": "+15550000001"},
				{"name": "c2", "phone": "+15550000002"},
				{"name": "c3", "phone": "+15550000003"},
				{"name": "c4", "phone": "+15550000004"},
				{"name": "c5", "phone": "+15550000005"},
				{"name": "c6", "phone": "+15550000006"},
			},
		}, []int{400}, []int{501, 404}),

		httpCase("Share: stop all for trip", base+"/api/share/trips/bench_trip_share/stop_all", nil, []int{200}, []int{501, 404}),

		manualCase("Share: contact page location feed", "open the contact websocket room and verify live positions stream"),

		// Ingest
		manualCase("Ingest: NATS location subject", "publish location updates on the configured subject and verify episodes anchor"),
		manualCase("Ingest: malformed payload dropped", "publish junk on the subject and check the rejected counter"),

		// Data consistency
		manualCase("Consistency: one open episode per trip", "query stationary_events for overlapping open rows per trip"),
		manualCase("Consistency: status_version monotonic", "verify version increments once per transition"),

		// Concurrency
		{
			Name:  "Concurrency: multi respond same event",
			Focus: "Only the first response settles the check",
			Run: func(ctx context.Context, r *Runner) Result {
				return concurrentRespond(ctx, r, base+"/api/safety/events/bench_race/respond")
			},
		},
		manualCase("Concurrency: respond vs escalation sweep", "fire a response at the deadline boundary and verify a single outcome"),

		// Error handling
		manualCase("Error: DB down -> 500", "stop postgres and observe responses"),
		manualCase("Error: Redis down -> cache degraded only", "stop redis and verify location updates still process"),
		manualCase("Error: restart recovers deadlines", "restart the service and verify overdue episodes still escalate"),

		// Performance
		{
			Name:  "Perf: SOS trigger throughput",
			Focus: "burst of alert triggers",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, base+"/api/sos/alerts", map[string]any{
					"tripId":   "bench_trip_perf",
					"userType": "passenger",
					"lat":      12.9716,
					"lng":      77.5946,
				})
			},
		},
		{
			Name:  "Perf: safety respond throughput",
			Focus: "response endpoint under load",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, base+"/api/safety/events/bench_perf/respond", map[string]any{
					"response": "safe",
				})
			},
		},
	}
}

func httpCase(name, url string, body any, okStatuses, pendingStatuses []int) TestCase {
	return httpCaseMethod(name, http.MethodPost, url, body, okStatuses, pendingStatuses)
}

func httpCaseMethod(name, method, url string, body any, okStatuses, pendingStatuses []int) TestCase {
	return TestCase{
		Name:  name,
		Focus: "HTTP API",
		Run: func(ctx context.Context, r *Runner) Result {
			var reader io.Reader
			if body != nil {
				b, _ := json.Marshal(body)
				reader = strings.NewReader(string(b))
			}
			req, _ := http.NewRequestWithContext(ctx, method, url, reader)
			req.Header.Set("Content-Type", "application/json")
			start := time.Now()
			resp, err := r.httpc.Do(req)
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			latency := time.Since(start)

			if contains(okStatuses, resp.StatusCode) {
				return Result{Status: "PASS", Latency: latency, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
			}
			if contains(pendingStatuses, resp.StatusCode) {
				return Result{Status: "PENDING", Latency: latency, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
			}
			return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
		},
	}
}

func manualCase(name, note string) TestCase {
	return TestCase{
		Name:  name,
		Focus: "Manual",
		Run: func(ctx context.Context, r *Runner) Result {
			return Result{Status: "SKIP", Note: note}
		},
	}
}

func concurrentRespond(ctx context.Context, r *Runner, url string) Result {
	payload := map[string]any{
		"response": "safe",
	}
	b, _ := json.Marshal(payload)
	wg := sync.WaitGroup{}
	succ := 0
	pend := 0
	mu := sync.Mutex{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(b)))
			req.Header.Set("Content-Type", "application/json")
			resp, err := r.httpc.Do(req)
			if err != nil {
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			mu.Lock()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				succ++
			} else if resp.StatusCode == 501 {
				pend++
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if pend == r.cfg.Concurrency {
		return Result{Status: "PENDING", Note: "not implemented"}
	}
	if succ <= 1 {
		return Result{Status: "PASS", Note: fmt.Sprintf("success=%d", succ)}
	}
	return Result{Status: "FAIL", Note: fmt.Sprintf("success=%d", succ)}
}

func perfLoad(ctx context.Context, r *Runner, url string, payload any) Result {
	b, _ := json.Marshal(payload)
	end := time.Now().Add(r.cfg.Duration)
	var count int64
	var errCount int64
	var mu sync.Mutex
	wg := sync.WaitGroup{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) {
				req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(b)))
				req.Header.Set("Content-Type", "application/json")
				resp, err := r.httpc.Do(req)
				if err != nil {
					mu.Lock()
					errCount++
					mu.Unlock()
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				mu.Lock()
				count++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: "FAIL", Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func contains(list []int, v int) bool {
	for _, i := range list {
		if i == v {
			return true
		}
	}
	return false
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	cleaned := strings.Join(filtered, "\n")
	parts := strings.Split(cleaned, ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
