// Package commands implements the owner's control surface: filter mode,
// priority and mute lists, snooze, timezone and status.
//
// Commands are registered on a Router and run through a middleware chain
// (owner gate, panic recovery, timeout, audit, request log). Handlers reply
// through Request.Reply; a handler may reply later, as /unsnooze does once its
// queued alerts have been delivered.
package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"prionotify/internal/transport"
	logx "prionotify/pkg/logx"
)

// Prefix marks every bot-authored reply.
const Prefix = "🤖 "

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string // without the leading slash
	Description string
	Usage       string
	Timeout     time.Duration
	Handle      HandlerFunc
}

// Request is one parsed command invocation.
type Request struct {
	FromID    int64
	ChatID    int64
	MessageID int
	Command   string
	Args      []string
	Raw       string

	Reply func(text string)
}

func (r *Request) reply(text string) {
	if r.Reply != nil {
		r.Reply(text)
	}
}

// Say replies with the bot prefix.
func (r *Request) Say(format string, args ...any) {
	r.reply(Prefix + fmt.Sprintf(format, args...))
}

// SayRaw replies without adding the prefix.
func (r *Request) SayRaw(text string) { r.reply(text) }

// Arg returns the i-th argument or "".
func (r *Request) Arg(i int) string {
	if i < 0 || i >= len(r.Args) {
		return ""
	}
	return r.Args[i]
}

type Router struct {
	mu       sync.RWMutex
	cmds     map[string]Command
	mw       []Middleware
	ownerID  int64
	log      logx.Logger
	fallback time.Duration
}

func NewRouter(ownerID int64, log logx.Logger, mw ...Middleware) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{cmds: map[string]Command{}, mw: mw, ownerID: ownerID, log: log, fallback: 15 * time.Second}
}

func (r *Router) SetOwner(id int64) {
	r.mu.Lock()
	r.ownerID = id
	r.mu.Unlock()
}

func (r *Router) Register(c Command) {
	name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Name), "/"))
	if name == "" || c.Handle == nil {
		return
	}
	c.Name = name
	r.mu.Lock()
	r.cmds[name] = c
	r.mu.Unlock()
}

// Menu lists registered commands for the platform command menu, sorted by name.
func (r *Router) Menu() []transport.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]transport.BotCommand, 0, len(r.cmds))
	for _, c := range r.cmds {
		if c.Description == "" {
			continue
		}
		out = append(out, transport.BotCommand{Command: c.Name, Description: c.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// Parse splits "/cmd@bot a b" into ("cmd", ["a", "b"]). ok is false for non-commands.
func Parse(text string) (cmd string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	f := strings.Fields(text)
	cmd = strings.ToLower(strings.TrimPrefix(f[0], "/"))
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	if cmd == "" {
		return "", nil, false
	}
	return cmd, f[1:], true
}

// IsOwner reports whether id may issue commands.
func (r *Router) IsOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ownerID != 0 && id == r.ownerID
}

// Dispatch runs the command in m if it is one and the sender is the owner.
// It reports whether the message was consumed as a command.
func (r *Router) Dispatch(ctx context.Context, m *transport.Message, reply func(string)) bool {
	if m == nil {
		return false
	}
	name, args, ok := Parse(m.Text)
	if !ok || !r.IsOwner(m.SenderID()) {
		return false
	}
	r.mu.RLock()
	c, found := r.cmds[name]
	mw := r.mw
	r.mu.RUnlock()
	if !found {
		r.log.Debug("unknown command", logx.String("cmd", name))
		return true
	}

	req := &Request{
		FromID:    m.SenderID(),
		ChatID:    m.Chat.ID,
		MessageID: m.ID,
		Command:   name,
		Args:      args,
		Raw:       m.Text,
		Reply:     reply,
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = r.fallback
	}
	h := Chain(c.Handle, append([]Middleware{MWTimeout(timeout)}, mw...)...)
	if err := h(ctx, req); err != nil {
		req.Say("❌ Error: %s", err.Error())
	}
	return true
}
