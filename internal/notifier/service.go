package notifier

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"prionotify/internal/clock"
	logx "prionotify/pkg/logx"
)

// Client is safe for concurrent use, though the pipeline drives it from a single worker.
type Client struct {
	mu sync.Mutex

	sender Sender
	clock  clock.Clock
	log    logx.Logger

	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config, sender Sender, clk clock.Clock, log logx.Logger) *Client {
	if clk == nil {
		clk = clock.Real{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{sender: sender, clock: clk, log: log}
	c.applyLocked(cfg)
	return c
}

func (c *Client) Apply(cfg Config) {
	c.mu.Lock()
	c.applyLocked(cfg)
	c.mu.Unlock()
}

func (c *Client) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func (c *Client) applyLocked(cfg Config) {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.DefaultRetryAfter <= 0 {
		cfg.DefaultRetryAfter = 5 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	c.cfg = cfg
	// One token, refilled every MinInterval: at most one successful send per interval.
	if c.limiter == nil {
		c.limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	} else {
		c.limiter.SetLimitAt(c.clock.Now(), rate.Every(cfg.MinInterval))
	}
}

// Send delivers a, trying the media variant first when present.
// It reports whether any variant reached the platform.
func (c *Client) Send(ctx context.Context, a Alert) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	cfg := c.cfg
	sender := c.sender
	c.mu.Unlock()
	if sender == nil {
		c.log.Error("alert dropped: no sender configured")
		return false
	}

	if a.Media != nil {
		if ms, ok := sender.(MediaSender); ok {
			err := c.attempt(ctx, cfg, func(cctx context.Context) error { return ms.SendMedia(cctx, a.Body, *a.Media) })
			if err == nil {
				return true
			}
			c.log.Warn("media alert failed; falling back to text", logx.String("kind", string(a.Media.Kind)), logx.Err(err))
			var rl *RateLimitError
			if errors.As(err, &rl) {
				if c.clock.Sleep(ctx, c.retryAfter(cfg, rl)) != nil {
					return false
				}
			}
		}
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err := c.attempt(ctx, cfg, func(cctx context.Context) error { return sender.SendText(cctx, a.Body) })
		if err == nil {
			if attempt > 0 {
				c.log.Info("alert delivered after retry", logx.Int("attempt", attempt+1))
			}
			return true
		}
		if ctx.Err() != nil {
			c.log.Warn("alert send aborted", logx.Err(ctx.Err()), logx.Int("attempt", attempt+1))
			return false
		}
		lastErr = err
		c.log.Warn("alert send failed",
			logx.Err(err),
			logx.String("kind", failureKind(err)),
			logx.Int("attempt", attempt+1),
			logx.Int("max", cfg.MaxAttempts),
		)
		if attempt+1 >= cfg.MaxAttempts {
			break
		}
		if c.clock.Sleep(ctx, c.retryDelay(cfg, err, attempt)) != nil {
			return false
		}
	}
	c.log.Error("alert delivery failed; attempts exhausted", logx.Err(lastErr), logx.Int("attempts", cfg.MaxAttempts))
	return false
}

// attempt waits out the send interval, performs one bounded call and, on
// success, consumes the interval token.
func (c *Client) attempt(ctx context.Context, cfg Config, call func(context.Context) error) error {
	if err := c.clock.Sleep(ctx, c.pace(cfg)); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	err := call(cctx)
	cancel()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.limiter.ReserveN(c.clock.Now(), 1)
	c.mu.Unlock()
	return nil
}

// pace is the time left until MinInterval has passed since the last success.
func (c *Client) pace(cfg Config) time.Duration {
	c.mu.Lock()
	tokens := c.limiter.TokensAt(c.clock.Now())
	c.mu.Unlock()
	if tokens >= 1 {
		return 0
	}
	return time.Duration(math.Ceil((1 - tokens) * float64(cfg.MinInterval)))
}

func (c *Client) retryDelay(cfg Config, err error, attempt int) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return c.retryAfter(cfg, rl)
	}
	// BackoffBase * 2^attempt, attempt counted from zero.
	return cfg.BackoffBase << attempt
}

func (c *Client) retryAfter(cfg Config, rl *RateLimitError) time.Duration {
	if rl.RetryAfter > 0 {
		return rl.RetryAfter
	}
	return cfg.DefaultRetryAfter
}

func failureKind(err error) string {
	var (
		rl  *RateLimitError
		api *APIError
	)
	switch {
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.As(err, &api):
		return "api"
	default:
		return "network"
	}
}
