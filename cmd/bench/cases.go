// README: Smoke-test cases; ride lifecycle, auth rejections, rate limiting, and a race check.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	opsToken    string
	driverToken string
	ownerToken  string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
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

	suffix := time.Now().UnixNano()
	r.opsToken = r.mintToken("staff-bench", "ops")
	r.driverToken = r.mintToken(fmt.Sprintf("driver-bench-%d", suffix), "driver")
	r.ownerToken = r.mintToken(fmt.Sprintf("passenger-bench-%d", suffix), "passenger")

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
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

// mintToken signs a short-lived HS256 token the server's verifier will
// accept when both sides share DISPATCH_JWT_SECRET.
func (r *Runner) mintToken(sub, role string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  sub,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(r.cfg.JWTSecret))
	if err != nil {
		return ""
	}
	return signed
}

func (r *Runner) cases() []TestCase {
	base := r.cfg.BaseURL
	// lifecycle state shared across ordered cases
	var rideID, driverID string
	driverSubject := claimsSub(r.driverToken)

	return []TestCase{
		{
			Name: "Env: Postgres connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "SKIP", Note: "dsn not configured"}
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
			Name: "Env: Redis connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "SKIP", Note: "redis not configured"}
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
			Name: "API: health",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				resp, err := r.httpc.Get(base + "/health")
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				_ = resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d", resp.StatusCode)}
				}
				return Result{Status: "PASS", Latency: time.Since(start)}
			},
		},
		{
			Name: "Auth: request without token rejected",
			Run: func(ctx context.Context, r *Runner) Result {
				status, _, err := r.doJSON(http.MethodPost, base+"/api/rides", "", map[string]any{})
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return expectStatus(status, http.StatusUnauthorized)
			},
		},
		{
			Name: "Driver: create and link",
			Run: func(ctx context.Context, r *Runner) Result {
				status, body, err := r.doJSON(http.MethodPost, base+"/api/drivers", r.opsToken, map[string]any{
					"display_name": "Bench Driver",
					"subject_uid":  driverSubject,
				})
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != http.StatusCreated {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d body=%s", status, body)}
				}
				driverID = jsonField(body, "driver_id")
				if driverID == "" {
					return Result{Status: "FAIL", Note: "no driver_id in response"}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Ride: create",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				status, body, err := r.doJSON(http.MethodPost, base+"/api/rides", r.ownerToken, map[string]any{
					"pickup":  map[string]any{"address": "Union Station", "lat": 41.878, "lng": -87.639},
					"dropoff": map[string]any{"address": "O'Hare", "lat": 41.978, "lng": -87.904},
				})
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != http.StatusCreated {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d body=%s", status, body)}
				}
				rideID = jsonField(body, "ride_id")
				if rideID == "" {
					return Result{Status: "FAIL", Note: "no ride_id in response"}
				}
				return Result{Status: "PASS", Latency: time.Since(start)}
			},
		},
		{
			Name: "Ride: assign by non-ops rejected",
			Run: func(ctx context.Context, r *Runner) Result {
				status, _, err := r.doJSON(http.MethodPost, base+"/api/rides/"+rideID+"/assign", r.driverToken,
					map[string]any{"driver_id": driverID})
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return expectStatus(status, http.StatusForbidden)
			},
		},
		{
			Name: "Ride: assign linked driver",
			Run: func(ctx context.Context, r *Runner) Result {
				status, body, err := r.doJSON(http.MethodPost, base+"/api/rides/"+rideID+"/assign", r.opsToken,
					map[string]any{"driver_id": driverID})
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != http.StatusOK {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d body=%s", status, body)}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Ride: start by driver",
			Run: func(ctx context.Context, r *Runner) Result {
				status, body, err := r.doJSON(http.MethodPost, base+"/api/rides/"+rideID+"/status", r.driverToken,
					map[string]any{"event": "start"})
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != http.StatusOK {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d body=%s", status, body)}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Location: first report accepted, immediate second rate-limited",
			Run: func(ctx context.Context, r *Runner) Result {
				report := map[string]any{"lat": 41.88, "lng": -87.63, "client_ts": time.Now().UTC().Format(time.RFC3339)}
				status, body, err := r.doJSON(http.MethodPost, base+"/api/rides/"+rideID+"/location", r.driverToken, report)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != http.StatusOK {
					return Result{Status: "FAIL", Note: fmt.Sprintf("first report status=%d body=%s", status, body)}
				}
				report["client_ts"] = time.Now().UTC().Format(time.RFC3339)
				status, _, err = r.doJSON(http.MethodPost, base+"/api/rides/"+rideID+"/location", r.driverToken, report)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return expectStatus(status, http.StatusTooManyRequests)
			},
		},
		{
			Name: "Ride: invalid event rejected",
			Run: func(ctx context.Context, r *Runner) Result {
				status, _, err := r.doJSON(http.MethodPost, base+"/api/rides/"+rideID+"/status", r.driverToken,
					map[string]any{"event": "finish"})
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return expectStatus(status, http.StatusConflict)
			},
		},
		{
			Name: "Race: concurrent cancels yield one winner",
			Run: func(ctx context.Context, r *Runner) Result {
				// Fresh ride; every cancel but the first must conflict.
				status, body, err := r.doJSON(http.MethodPost, base+"/api/rides", r.ownerToken, map[string]any{
					"pickup": map[string]any{"lat": 41.88, "lng": -87.63},
				})
				if err != nil || status != http.StatusCreated {
					return Result{Status: "FAIL", Note: fmt.Sprintf("setup status=%d err=%v", status, err)}
				}
				id := jsonField(body, "ride_id")

				n := r.cfg.Concurrency
				var wg sync.WaitGroup
				statuses := make(chan int, n)
				for i := 0; i < n; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						s, _, err := r.doJSON(http.MethodPost, base+"/api/rides/"+id+"/cancel", r.opsToken, nil)
						if err != nil {
							s = 0
						}
						statuses <- s
					}()
				}
				wg.Wait()
				close(statuses)

				ok, conflict, other := 0, 0, 0
				for s := range statuses {
					switch s {
					case http.StatusOK:
						ok++
					case http.StatusConflict:
						conflict++
					default:
						other++
					}
				}
				if ok != 1 || other != 0 {
					return Result{Status: "FAIL", Note: fmt.Sprintf("ok=%d conflict=%d other=%d", ok, conflict, other)}
				}
				return Result{Status: "PASS", Note: fmt.Sprintf("ok=1 conflict=%d", conflict)}
			},
		},
		{
			Name: "DB: transition log populated",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "SKIP", Note: "dsn not configured"}
				}
				var count int
				err := r.db.QueryRow(ctx,
					"SELECT count(*) FROM ride_status_events WHERE ride_id=$1", rideID).Scan(&count)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if count == 0 {
					return Result{Status: "FAIL", Note: "no transitions recorded"}
				}
				return Result{Status: "PASS", Note: fmt.Sprintf("transitions=%d", count)}
			},
		},
		{
			Name: "Redis: driver position mirrored",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "SKIP", Note: "redis not configured"}
				}
				pos, err := r.redis.GeoPos(ctx, "dispatch:drivers", driverID).Result()
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if len(pos) == 0 || pos[0] == nil {
					return Result{Status: "FAIL", Note: "driver not in geo index"}
				}
				return Result{Status: "PASS"}
			},
		},
	}
}

func (r *Runner) doJSON(method, url, token string, body any) (int, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, nil, err
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data, nil
}

func expectStatus(got, want int) Result {
	if got != want {
		return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d want=%d", got, want)}
	}
	return Result{Status: "PASS"}
}

func jsonField(body []byte, key string) string {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// claimsSub extracts the sub claim without verifying; the runner minted
// the token itself.
func claimsSub(token string) string {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return sub
}
