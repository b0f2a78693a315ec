package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/territorios-app/territorios/internal/model"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

// fakeProvider serves the identity provider API on an in-memory listener.
type fakeProvider struct {
	ln      *fasthttputil.InmemoryListener
	status  atomic.Int32
	healthy atomic.Bool
	calls   atomic.Int32
}

func startFakeProvider(t *testing.T) *fakeProvider {
	f := &fakeProvider{ln: fasthttputil.NewInmemoryListener()}
	f.status.Store(fasthttp.StatusOK)
	f.healthy.Store(true)

	srv := &fasthttp.Server{Handler: func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case healthPath:
			status := "healthy"
			if !f.healthy.Load() {
				status = "down"
			}
			fmt.Fprintf(ctx, `{"status":%q}`, status)
		case verifyPath:
			f.calls.Add(1)
			var req verifyRequest
			_ = json.Unmarshal(ctx.PostBody(), &req)
			ctx.SetStatusCode(int(f.status.Load()))
			if f.status.Load() == fasthttp.StatusOK {
				body, _ := json.Marshal(model.Identity{UID: "uid-" + req.Token, Phone: "5551234567", Provider: "phone"})
				ctx.SetBody(body)
			}
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}}
	go func() { _ = srv.Serve(f.ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })
	return f
}

func newTestClient(t *testing.T, providers map[string]*fakeProvider, names ...string) *Client {
	cfg := &Config{
		Timeout:                 time.Second,
		MaxRetries:              len(names),
		CircuitBreakerThreshold: 2,
		CircuitBreakerTimeout:   time.Minute,
		Dial: func(addr string) (net.Conn, error) {
			host, _, _ := net.SplitHostPort(addr)
			if p, ok := providers[host]; ok {
				return p.ln.Dial()
			}
			return nil, fmt.Errorf("no route to %s", addr)
		},
	}
	for i, name := range names {
		cfg.Providers = append(cfg.Providers, ProviderConfig{Name: name, URL: "http://" + name, Priority: 100 - i*10})
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_VerifyToken(t *testing.T) {
	primary := startFakeProvider(t)
	c := newTestClient(t, map[string]*fakeProvider{"primary": primary}, "primary")

	id, err := c.VerifyToken(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, &model.Identity{UID: "uid-abc", Phone: "5551234567", Provider: "phone"}, id)
}

func TestClient_VerifyToken_Rejected(t *testing.T) {
	primary := startFakeProvider(t)
	primary.status.Store(fasthttp.StatusUnauthorized)
	secondary := startFakeProvider(t)
	c := newTestClient(t, map[string]*fakeProvider{"primary": primary, "secondary": secondary}, "primary", "secondary")

	_, err := c.VerifyToken(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrTokenRejected)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, int32(0), secondary.calls.Load(), "a refused token is not retried elsewhere")
}

func TestClient_VerifyToken_Failover(t *testing.T) {
	primary := startFakeProvider(t)
	primary.status.Store(fasthttp.StatusBadGateway)
	secondary := startFakeProvider(t)
	c := newTestClient(t, map[string]*fakeProvider{"primary": primary, "secondary": secondary}, "primary", "secondary")

	id, err := c.VerifyToken(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "uid-abc", id.UID)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, int32(1), secondary.calls.Load())
}

func TestClient_VerifyToken_AllDown(t *testing.T) {
	c := newTestClient(t, map[string]*fakeProvider{}, "primary")

	_, err := c.VerifyToken(context.Background(), "abc")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTokenRejected)
	assert.Equal(t, StateCircuitOpen, c.providers[0].GetState())
	assert.ErrorIs(t, c.Ping(context.Background()), ErrNoAvailableProviders)
}

func TestClient_HealthChecks(t *testing.T) {
	primary := startFakeProvider(t)
	c := newTestClient(t, map[string]*fakeProvider{"primary": primary}, "primary")

	primary.healthy.Store(false)
	c.performHealthChecks()
	assert.Equal(t, StateUnhealthy, c.providers[0].GetState())

	primary.healthy.Store(true)
	c.performHealthChecks()
	assert.Equal(t, StateHealthy, c.providers[0].GetState())
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil)
	assert.ErrorContains(t, err, "config is required")

	_, err = NewClient(&Config{})
	assert.ErrorContains(t, err, "at least one provider is required")
}

func TestProvider_IsAvailable(t *testing.T) {
	p := NewProvider("test", "http://localhost", 100, &fasthttp.Client{})

	p.SetState(StateDegraded)
	assert.True(t, p.IsAvailable())

	p.SetState(StateUnhealthy)
	assert.False(t, p.IsAvailable())

	p.openCircuit(time.Minute)
	assert.False(t, p.IsAvailable())

	p.openCircuit(-time.Second)
	assert.True(t, p.IsAvailable())
	assert.Equal(t, StateDegraded, p.GetState())
}

func TestProvider_Score(t *testing.T) {
	good := NewProvider("good", "http://a", 50, &fasthttp.Client{})
	flaky := NewProvider("flaky", "http://b", 50, &fasthttp.Client{})
	for i := 0; i < 5; i++ {
		good.metrics.RecordSuccess(50)
		flaky.metrics.RecordSuccess(50)
	}
	flaky.metrics.RecordFailure()
	flaky.metrics.RecordFailure()

	assert.Greater(t, good.Score(), flaky.Score())

	good.SetState(StateUnhealthy)
	assert.Zero(t, good.Score())
}

func TestProviderMetrics(t *testing.T) {
	m := NewProviderMetrics()
	for i := int64(1); i <= 100; i++ {
		m.RecordSuccess(i)
	}
	m.RecordFailure()

	assert.Equal(t, int64(101), m.Requests.Load())
	assert.InDelta(t, 100.0/101, m.SuccessRate(), 0.0001)
	assert.Equal(t, int32(1), m.ConsecutiveFails.Load())
	assert.Equal(t, int64(50), m.AvgLatencyMs())
	assert.Equal(t, int64(98), m.P95LatencyMs())
}

func TestProviderState_String(t *testing.T) {
	assert.Equal(t, "CIRCUIT_OPEN", StateCircuitOpen.String())
	assert.Equal(t, "UNKNOWN", ProviderState(42).String())
}
