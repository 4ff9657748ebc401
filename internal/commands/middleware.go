package commands

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"prionotify/internal/clock"
	"prionotify/internal/storage"
	logx "prionotify/pkg/logx"
)

type Middleware func(next HandlerFunc) HandlerFunc

var errInternal = errors.New("internal error")

// Chain wraps h so that m[0] runs outermost.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// MWTimeout bounds each handler run; d <= 0 leaves ctx alone.
func MWTimeout(d time.Duration) Middleware {
	if d <= 0 {
		return func(next HandlerFunc) HandlerFunc { return next }
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("command panicked", logx.String("cmd", req.Command), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = errInternal
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			l := log.With(
				logx.String("cmd", req.Command),
				logx.Int("args", len(req.Args)),
				logx.Int64("chat_id", req.ChatID),
				logx.Duration("took", time.Since(start)),
			)
			if err != nil {
				l.Warn("command failed", logx.Err(err))
				return err
			}
			l.Info("command handled")
			return nil
		}
	}
}

// MWAudit appends one audit entry per command. Audit failures are logged, never surfaced.
func MWAudit(st storage.Store, clk clock.Clock, log logx.Logger) Middleware {
	if clk == nil {
		clk = clock.Real{}
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if st == nil {
				return err
			}
			e := storage.AuditEntry{
				ID:        uuid.NewString(),
				At:        clk.Now(),
				Kind:      "command",
				ActorID:   req.FromID,
				ChatID:    req.ChatID,
				MessageID: req.MessageID,
				Action:    req.Command,
				Target:    strings.Join(req.Args, " "),
				OK:        err == nil,
			}
			if err != nil {
				e.Error = err.Error()
			}
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if aerr := st.AppendAudit(actx, e); aerr != nil {
				log.Warn("audit append failed", logx.String("cmd", req.Command), logx.Err(aerr))
			}
			return err
		}
	}
}
