package services

import (
	"context"
	"time"
)

// Pinger is anything the API depends on that can report its reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type HealthService struct {
	checks  map[string]Pinger
	timeout time.Duration
}

func NewHealthService(timeout time.Duration) *HealthService {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthService{checks: make(map[string]Pinger), timeout: timeout}
}

// Register adds a named dependency. It is not safe to call once the server is
// serving requests.
func (s *HealthService) Register(name string, p Pinger) {
	s.checks[name] = p
}

// Get pings every dependency. Status is "ok" only when all of them answer.
func (s *HealthService) Get(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out := HealthStatus{Status: "ok", Checks: make(map[string]string, len(s.checks))}
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			out.Checks[name] = err.Error()
			out.Status = "degraded"
			continue
		}
		out.Checks[name] = "ok"
	}
	return out
}
