// Command identity-stub is a development identity provider. It accepts
// tokens of the form "stub:<uid>:<phone>[:<email>]" and answers the verify
// endpoint the api calls during sign-in.
package main

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const tokenPrefix = "stub:"

type settings struct {
	Port        string        `env:"PORT,default=8081"`
	Provider    string        `env:"PROVIDER_NAME,default=phone"`
	FailureRate float64       `env:"FAILURE_RATE,default=0"`
	MinDelay    time.Duration `env:"MIN_DELAY,default=0s"`
	MaxDelay    time.Duration `env:"MAX_DELAY,default=0s"`
}

type VerifyRequest struct {
	Token string `json:"token" binding:"required"`
}

type VerifyResponse struct {
	UID      string `json:"uid"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	Provider string `json:"provider"`
}

// Stub verifies tokens and can be told to fail a share of requests so the
// api's failover can be exercised.
type Stub struct {
	mu          sync.RWMutex
	provider    string
	failureRate float64
	minDelay    time.Duration
	maxDelay    time.Duration
}

func NewStub(s settings) *Stub {
	return &Stub{
		provider:    s.Provider,
		failureRate: s.FailureRate,
		minDelay:    s.MinDelay,
		maxDelay:    s.MaxDelay,
	}
}

var errMalformedToken = errors.New("malformed token")

func parseToken(token string) (*VerifyResponse, error) {
	rest, ok := strings.CutPrefix(token, tokenPrefix)
	if !ok {
		return nil, errMalformedToken
	}
	parts := strings.Split(rest, ":")
	if len(parts) < 2 || parts[0] == "" {
		return nil, errMalformedToken
	}
	out := &VerifyResponse{UID: parts[0], Phone: parts[1]}
	if len(parts) > 2 {
		out.Email = parts[2]
	}
	return out, nil
}

func (s *Stub) delay() {
	s.mu.RLock()
	lo, hi := s.minDelay, s.maxDelay
	s.mu.RUnlock()
	if hi <= lo {
		time.Sleep(lo)
		return
	}
	time.Sleep(lo + time.Duration(rand.Int64N(int64(hi-lo))))
}

func (s *Stub) shouldFail() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failureRate > 0 && rand.Float64() < s.failureRate
}

func (s *Stub) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	s.delay()
	if s.shouldFail() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "provider temporarily unavailable"})
		return
	}

	id, err := parseToken(req.Token)
	if err != nil {
		log.Warn().Err(err).Msg("token rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	id.Provider = s.provider

	log.Info().Str("uid", id.UID).Str("phone", id.Phone).Msg("token verified")
	c.JSON(http.StatusOK, id)
}

func (s *Stub) Health(c *gin.Context) {
	if s.shouldFail() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "provider": s.provider, "timestamp": time.Now().UTC()})
}

// UpdateConfig changes the failure rate at runtime.
func (s *Stub) UpdateConfig(c *gin.Context) {
	var body struct {
		FailureRate *float64 `json:"failure_rate"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	s.mu.Lock()
	if body.FailureRate != nil && *body.FailureRate >= 0 && *body.FailureRate <= 1 {
		s.failureRate = *body.FailureRate
		log.Info().Float64("rate", s.failureRate).Msg("updated failure rate")
	}
	rate := s.failureRate
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"failure_rate": rate})
}

func SetupRouter(stub *Stub) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request processed")
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/tokens/verify", stub.Verify)
		v1.PUT("/config", stub.UpdateConfig)
	}
	router.GET("/health", stub.Health)

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var cfg settings
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid environment")
	}

	log.Info().
		Str("port", cfg.Port).
		Str("provider", cfg.Provider).
		Float64("failure_rate", cfg.FailureRate).
		Msg("starting identity stub")

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      SetupRouter(NewStub(cfg)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited")
}
