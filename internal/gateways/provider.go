package gateway

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
)

type ProviderState int32

const (
	StateHealthy ProviderState = iota
	StateDegraded
	StateUnhealthy
	StateCircuitOpen
)

func (s ProviderState) String() string {
	switch s {
	case StateHealthy:
		return "HEALTHY"
	case StateDegraded:
		return "DEGRADED"
	case StateUnhealthy:
		return "UNHEALTHY"
	case StateCircuitOpen:
		return "CIRCUIT_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ProviderMetrics tracks the outcome of calls made to one identity provider.
type ProviderMetrics struct {
	Requests         atomic.Int64
	Failures         atomic.Int64
	TotalLatencyMs   atomic.Int64
	ConsecutiveFails atomic.Int32

	mu      sync.Mutex
	window  []int64
	maxSize int
}

func NewProviderMetrics() *ProviderMetrics {
	return &ProviderMetrics{maxSize: 50}
}

func (m *ProviderMetrics) RecordSuccess(latencyMs int64) {
	m.Requests.Add(1)
	m.TotalLatencyMs.Add(latencyMs)
	m.ConsecutiveFails.Store(0)

	m.mu.Lock()
	if len(m.window) >= m.maxSize {
		m.window = m.window[1:]
	}
	m.window = append(m.window, latencyMs)
	m.mu.Unlock()
}

func (m *ProviderMetrics) RecordFailure() {
	m.Requests.Add(1)
	m.Failures.Add(1)
	m.ConsecutiveFails.Add(1)
}

func (m *ProviderMetrics) SuccessRate() float64 {
	total := m.Requests.Load()
	if total == 0 {
		return 1
	}
	return float64(total-m.Failures.Load()) / float64(total)
}

func (m *ProviderMetrics) AvgLatencyMs() int64 {
	ok := m.Requests.Load() - m.Failures.Load()
	if ok <= 0 {
		return 0
	}
	return m.TotalLatencyMs.Load() / ok
}

// P95LatencyMs is computed over the most recent successful calls.
func (m *ProviderMetrics) P95LatencyMs() int64 {
	m.mu.Lock()
	sorted := slices.Clone(m.window)
	m.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	slices.Sort(sorted)
	return sorted[min(len(sorted)*95/100, len(sorted)-1)]
}

type Provider struct {
	name     string
	url      string
	priority int
	client   *fasthttp.Client
	metrics  *ProviderMetrics

	state     atomic.Int32
	openUntil atomic.Int64
}

func NewProvider(name, url string, priority int, client *fasthttp.Client) *Provider {
	p := &Provider{
		name:     name,
		url:      url,
		priority: priority,
		client:   client,
		metrics:  NewProviderMetrics(),
	}
	p.SetState(StateHealthy)
	return p
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) GetState() ProviderState {
	return ProviderState(p.state.Load())
}

func (p *Provider) SetState(s ProviderState) {
	p.state.Store(int32(s))
}

// IsAvailable reports whether calls may be sent. An open circuit half-opens
// into the degraded state once its timeout has passed.
func (p *Provider) IsAvailable() bool {
	switch p.GetState() {
	case StateUnhealthy:
		return false
	case StateCircuitOpen:
		if time.Now().UnixMilli() < p.openUntil.Load() {
			return false
		}
		p.SetState(StateDegraded)
	}
	return true
}

func (p *Provider) openCircuit(d time.Duration) {
	p.openUntil.Store(time.Now().Add(d).UnixMilli())
	p.SetState(StateCircuitOpen)
}

// Score ranks available providers; higher is better.
func (p *Provider) Score() float64 {
	if !p.IsAvailable() {
		return 0
	}

	latency := 1.0
	if avg := p.metrics.AvgLatencyMs(); avg > 0 {
		latency = max(0, 1-float64(avg)/3000)
	}
	penalty := max(0.1, 1-0.2*float64(p.metrics.ConsecutiveFails.Load()))

	score := (p.metrics.SuccessRate()*60 + latency*20 + float64(p.priority)*0.2) * penalty
	if p.GetState() == StateDegraded {
		score /= 2
	}
	return score
}
