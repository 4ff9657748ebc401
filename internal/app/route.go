package app

import (
	"context"
	"errors"
	"time"

	"prionotify/internal/commands"
	"prionotify/internal/pipeline"
	"prionotify/internal/transport"
	logx "prionotify/pkg/logx"
)

const replyTimeout = 10 * time.Second

type intake interface {
	Handle(ctx context.Context, m *transport.Message) error
}

type replier interface {
	Reply(ctx context.Context, chatID int64, text string) error
}

// dispatcher sends owner commands to the router and everything else into the pipeline.
type dispatcher struct {
	router *commands.Router
	intake intake
	reply  replier
	log    logx.Logger
}

func (d *dispatcher) loop(ctx context.Context, updates <-chan transport.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			d.route(ctx, up)
		}
	}
}

func (d *dispatcher) route(ctx context.Context, up transport.Update) {
	m := up.Message
	if up.Kind != transport.UpdateMessage || m == nil {
		return
	}
	// Commands only come from chats with the bot itself; the owner typing a
	// slash in a business chat is talking to someone else.
	if d.router != nil && m.BusinessConnection == "" && d.router.Dispatch(ctx, m, d.replyTo(ctx, m.Chat.ID)) {
		return
	}
	if err := d.intake.Handle(ctx, m); err != nil {
		if errors.Is(err, pipeline.ErrStopped) || ctx.Err() != nil {
			d.log.Debug("message dropped during shutdown", logx.Int64("chat_id", m.Chat.ID), logx.Int("message_id", m.ID))
			return
		}
		d.log.Warn("pipeline intake failed", logx.Int64("chat_id", m.Chat.ID), logx.Int("message_id", m.ID), logx.Err(err))
	}
}

// replyTo answers in the chat the command came from. Replies may fire after the
// command returned (flush completion), so they do not inherit its cancellation.
func (d *dispatcher) replyTo(ctx context.Context, chatID int64) func(string) {
	base := context.WithoutCancel(ctx)
	return func(text string) {
		if d.reply == nil {
			return
		}
		rctx, cancel := context.WithTimeout(base, replyTimeout)
		defer cancel()
		if err := d.reply.Reply(rctx, chatID, text); err != nil {
			d.log.Warn("command reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
		}
	}
}
