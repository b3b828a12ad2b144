package ratecontrol

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimit is a requests-per-minute / tokens-per-minute budget
type RateLimit struct {
	RPM int `mapstructure:"rpm" yaml:"rpm"`
	TPM int `mapstructure:"tpm" yaml:"tpm"`
}

// Config is the rate_limits section
type Config struct {
	DefaultRPM int                  `mapstructure:"default_rpm" yaml:"default_rpm"`
	DefaultTPM int                  `mapstructure:"default_tpm" yaml:"default_tpm"`
	Providers  map[string]RateLimit `mapstructure:"providers" yaml:"providers"`
}

var builtInProviderLimits = map[string]RateLimit{
	"openai":    {RPM: 30, TPM: 60000},
	"anthropic": {RPM: 20, TPM: 40000},
	"google":    {RPM: 40, TPM: 80000},
	"mistral":   {RPM: 50, TPM: 100000},
	"unknown":   {RPM: 45, TPM: 90000},
}

// LimitForProvider resolves the configured limit for a provider, falling
// back to built-in values and then the defaults.
func (c Config) LimitForProvider(provider string) RateLimit {
	key := strings.ToLower(strings.TrimSpace(provider))
	defaults := RateLimit{RPM: c.DefaultRPM, TPM: c.DefaultTPM}
	if override, ok := c.Providers[key]; ok {
		return CombineLimits(override, defaults)
	}
	if limit, ok := builtInProviderLimits[key]; ok {
		return CombineLimits(limit, defaults)
	}
	return defaults
}

// Limiter paces outbound model calls with one token bucket per provider.
// The request bucket refills at RPM/60 per second with a burst of 1; token
// usage adds a proportional delay on top.
type Limiter struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewLimiter(cfg Config, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{cfg: cfg, logger: logger, limiters: make(map[string]*rate.Limiter)}
}

func (l *Limiter) limiterFor(provider string) (*rate.Limiter, RateLimit) {
	limit := l.cfg.LimitForProvider(provider)
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[provider]; ok {
		return lim, limit
	}
	var lim *rate.Limiter
	if limit.RPM > 0 {
		lim = rate.NewLimiter(rate.Limit(float64(limit.RPM)/60.0), 1)
	} else {
		lim = rate.NewLimiter(rate.Inf, 1)
	}
	l.limiters[provider] = lim
	return lim, limit
}

// Wait blocks until a request for provider is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, provider string, estimatedTokens int) error {
	if l == nil {
		return nil
	}
	lim, limit := l.limiterFor(provider)
	if err := lim.Wait(ctx); err != nil {
		return err
	}
	tokenDelay := delayForLimit(RateLimit{TPM: limit.TPM}, estimatedTokens)
	if tokenDelay <= 0 {
		return nil
	}
	l.logger.Debug("Pacing model request",
		zap.String("provider", provider),
		zap.Int("estimated_tokens", estimatedTokens),
		zap.Duration("delay", tokenDelay),
	)
	t := time.NewTimer(tokenDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CombineLimits takes the stricter positive value of each dimension.
func CombineLimits(a, b RateLimit) RateLimit {
	limit := RateLimit{
		RPM: minPositive(a.RPM, b.RPM),
		TPM: minPositive(a.TPM, b.TPM),
	}
	return limit
}

// DelayForRequest is the minimum spacing a single request of estimatedTokens needs.
func DelayForRequest(limit RateLimit, estimatedTokens int) time.Duration {
	return delayForLimit(limit, estimatedTokens)
}

func delayForLimit(limit RateLimit, estimatedTokens int) time.Duration {
	if (limit.RPM <= 0 && limit.TPM <= 0) || estimatedTokens < 0 {
		return 0
	}
	var delayMs float64
	if limit.RPM > 0 {
		delayMs = math.Max(delayMs, 60000.0/float64(limit.RPM))
	}
	if limit.TPM > 0 && estimatedTokens > 0 {
		perToken := 60000.0 / float64(limit.TPM)
		delayMs = math.Max(delayMs, perToken*float64(estimatedTokens))
	}
	if delayMs <= 0 {
		return 0
	}
	if delayMs > 60000 {
		delayMs = 60000
	}
	return time.Duration(math.Ceil(delayMs)) * time.Millisecond
}

func minPositive(a, b int) int {
	switch {
	case a <= 0 && b <= 0:
		return 0
	case a <= 0:
		return b
	case b <= 0:
		return a
	default:
		if a < b {
			return a
		}
		return b
	}
}
