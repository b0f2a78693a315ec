package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/territorios-app/territorios/internal/model"
	"github.com/territorios-app/territorios/pkg/logger"
	"github.com/valyala/fasthttp"
)

var (
	ErrNoAvailableProviders = errors.New("no available identity providers")
	ErrTokenRejected        = errors.New("identity token rejected")
)

const (
	verifyPath = "/api/v1/tokens/verify"
	healthPath = "/health"
)

type Config struct {
	Providers               []ProviderConfig
	Timeout                 time.Duration
	MaxRetries              int
	RetryDelay              time.Duration
	MaxConns                int
	HealthCheckInterval     time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration

	// Dial replaces the TCP dialer, mostly for in-memory listeners in tests.
	Dial fasthttp.DialFunc
}

type ProviderConfig struct {
	Name     string
	URL      string
	Priority int
}

type verifyRequest struct {
	Token string `json:"token"`
}

// Client verifies sign-in tokens against the first healthy identity provider
// and fails over to the next one on transport or server errors.
type Client struct {
	config    Config
	providers []*Provider
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if len(config.Providers) == 0 {
		return nil, errors.New("at least one provider is required")
	}

	cfg := *config
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CircuitBreakerThreshold <= 0 {
		cfg.CircuitBreakerThreshold = 5
	}
	if cfg.CircuitBreakerTimeout <= 0 {
		cfg.CircuitBreakerTimeout = 30 * time.Second
	}

	c := &Client{
		config: cfg,
		stopCh: make(chan struct{}),
	}
	for _, pc := range cfg.Providers {
		hc := &fasthttp.Client{
			MaxConnsPerHost:     cfg.MaxConns,
			ReadTimeout:         cfg.Timeout,
			WriteTimeout:        cfg.Timeout,
			MaxIdleConnDuration: time.Minute,
			Dial:                cfg.Dial,
		}
		c.providers = append(c.providers, NewProvider(pc.Name, pc.URL, pc.Priority, hc))
		logger.Info("identity provider registered", "name", pc.Name, "url", pc.URL)
	}

	if cfg.HealthCheckInterval > 0 {
		c.wg.Add(1)
		go c.healthChecker()
	}
	return c, nil
}

// SelectBestProvider returns the available provider with the highest score.
func (c *Client) SelectBestProvider() (*Provider, error) {
	var best *Provider
	var bestScore float64
	for _, p := range c.providers {
		if score := p.Score(); score > bestScore {
			best, bestScore = p, score
		}
	}
	if best == nil {
		return nil, ErrNoAvailableProviders
	}
	return best, nil
}

// VerifyToken exchanges a provider sign-in token for the identity it proves.
// A token the provider refuses yields ErrTokenRejected without failover.
func (c *Client) VerifyToken(ctx context.Context, token string) (*model.Identity, error) {
	body, err := json.Marshal(verifyRequest{Token: token})
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 && c.config.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		p, err := c.SelectBestProvider()
		if err != nil {
			lastErr = err
			continue
		}

		started := time.Now()
		status, resp, err := c.doRequest(ctx, p, fasthttp.MethodPost, verifyPath, body)
		if err == nil && status >= fasthttp.StatusInternalServerError {
			err = fmt.Errorf("unexpected status code: %d", status)
		}
		if err != nil {
			p.metrics.RecordFailure()
			c.checkCircuitBreaker(p)
			logger.Warn("identity verification failed, retrying", "provider", p.name, "attempt", attempt+1, "error", err)
			lastErr = err
			continue
		}
		p.metrics.RecordSuccess(time.Since(started).Milliseconds())

		if status != fasthttp.StatusOK {
			return nil, fmt.Errorf("%w: status %d", ErrTokenRejected, status)
		}
		var id model.Identity
		if err := json.Unmarshal(resp, &id); err != nil {
			return nil, fmt.Errorf("failed to unmarshal identity: %w", err)
		}
		if id.UID == "" {
			return nil, fmt.Errorf("%w: provider returned no uid", ErrTokenRejected)
		}
		return &id, nil
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// Ping succeeds when at least one provider is available.
func (c *Client) Ping(context.Context) error {
	_, err := c.SelectBestProvider()
	return err
}

func (c *Client) doRequest(ctx context.Context, p *Provider, method, path string, body []byte) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.url + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}
	if err := p.client.DoDeadline(req, resp, deadline); err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}

	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return resp.StatusCode(), out, nil
}

func (c *Client) checkCircuitBreaker(p *Provider) {
	fails := p.metrics.ConsecutiveFails.Load()
	if fails < int32(c.config.CircuitBreakerThreshold) {
		return
	}
	p.openCircuit(c.config.CircuitBreakerTimeout)
	logger.Warn("identity provider circuit opened", "provider", p.name, "consecutive_fails", fails)
}

func (c *Client) healthChecker() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.performHealthChecks()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Client) performHealthChecks() {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	for _, p := range c.providers {
		old := p.GetState()
		if old == StateCircuitOpen {
			continue
		}
		next := StateUnhealthy
		if c.checkProviderHealth(ctx, p) {
			next = StateHealthy
		}
		if next != old {
			p.SetState(next)
			logger.Info("identity provider state changed", "provider", p.name, "old_state", old.String(), "new_state", next.String())
		}
	}
}

func (c *Client) checkProviderHealth(ctx context.Context, p *Provider) bool {
	status, body, err := c.doRequest(ctx, p, fasthttp.MethodGet, healthPath, nil)
	if err != nil || status != fasthttp.StatusOK {
		return false
	}
	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &health); err != nil {
		return false
	}
	return health.Status == "healthy"
}

type ProviderStats struct {
	Name             string  `json:"name"`
	State            string  `json:"state"`
	Score            float64 `json:"score"`
	Requests         int64   `json:"requests"`
	Failures         int64   `json:"failures"`
	SuccessRate      float64 `json:"success_rate"`
	AvgLatencyMs     int64   `json:"avg_latency_ms"`
	P95LatencyMs     int64   `json:"p95_latency_ms"`
	ConsecutiveFails int32   `json:"consecutive_fails"`
}

// GetProviderStats returns a snapshot of every provider, best first.
func (c *Client) GetProviderStats() []ProviderStats {
	stats := make([]ProviderStats, 0, len(c.providers))
	for _, p := range c.providers {
		stats = append(stats, ProviderStats{
			Name:             p.name,
			State:            p.GetState().String(),
			Score:            p.Score(),
			Requests:         p.metrics.Requests.Load(),
			Failures:         p.metrics.Failures.Load(),
			SuccessRate:      p.metrics.SuccessRate(),
			AvgLatencyMs:     p.metrics.AvgLatencyMs(),
			P95LatencyMs:     p.metrics.P95LatencyMs(),
			ConsecutiveFails: p.metrics.ConsecutiveFails.Load(),
		})
	}
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].Score > stats[j].Score })
	return stats
}

func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return nil
}
