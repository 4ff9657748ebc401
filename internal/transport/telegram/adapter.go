// Package telegram is the telebot long-poll adapter: inbound updates become
// transport messages, outbound alerts and replies go through the Bot API.
package telegram

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "prionotify/internal/runtime/supervisor"
	"prionotify/internal/transport"
	logx "prionotify/pkg/logx"
)

var (
	_ transport.Adapter            = (*Adapter)(nil)
	_ transport.CommandMenuUpdater = (*Adapter)(nil)
	_ logx.Sender                  = (*Adapter)(nil)
)

const (
	dropReportEvery = 5 * time.Second
	stopGrace       = 2 * time.Second
)

// allowedUpdates asks for business messages explicitly; a previous
// allowed_updates setting on the token would otherwise persist.
var allowedUpdates = []string{"message", "business_message"}

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // chan<- transport.Update
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	// updates dropped because the consumer lagged; reported periodically
	droppedUpdates atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout, AllowedUpdates: allowedUpdates},
		OnError: func(err error, _ tele.Context) {
			a.log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a.bot = b
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

// Identity returns the bot account the session authenticated as.
func (a *Adapter) Identity() (id int64, username string) {
	if a.bot == nil || a.bot.Me == nil {
		return 0, ""
	}
	return a.bot.Me.ID, a.bot.Me.Username
}

func (a *Adapter) registerHandlers() {
	forward := func(c tele.Context) error {
		if m := toMessage(c.Message()); m != nil {
			a.sendUpdate(transport.Update{Kind: transport.UpdateMessage, Message: m})
		}
		return nil
	}
	for _, ep := range []string{
		tele.OnText, tele.OnPhoto, tele.OnVideo, tele.OnDocument,
		tele.OnAnimation, tele.OnVoice, tele.OnAudio, tele.OnSticker,
	} {
		a.bot.Handle(ep, forward)
	}
	// Context.Message does not cover business updates.
	a.bot.Handle(tele.OnBusinessMessage, func(c tele.Context) error {
		if m := businessMessage(c.Update()); m != nil {
			a.sendUpdate(transport.Update{Kind: transport.UpdateMessage, Message: m})
		}
		return nil
	})
}

// businessMessage maps a message from a chat of the connected business
// account. Those are the owner's own private chats.
func businessMessage(u tele.Update) *transport.Message {
	m := toMessage(u.BusinessMessage)
	if m != nil && m.BusinessConnection == "" {
		m.BusinessConnection = "unknown"
	}
	return m
}

func (a *Adapter) sendUpdate(up transport.Update) {
	out, _ := a.out.Load().(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.sup"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	// bot.Stop must run on cancel or Start below never returns.
	sup.Go0("telebot.housekeeping", func(c context.Context) {
		ticker := time.NewTicker(dropReportEvery)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.bot.Stop()
				a.reportDrops(cap(out))
				return
			case <-ticker.C:
				a.reportDrops(cap(out))
			}
		}
	})

	// bot.Start blocks until Stop; restart it if it returns while still running.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

// Stop cancels polling and waits a short grace period. It never fails shutdown.
func (a *Adapter) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", a.droppedUpdates.Load()))
	sup.Cancel()

	wctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	switch err := sup.Wait(wctx); {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		a.log.Warn("telegram stop timed out", logx.Err(err))
	default:
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) reportDrops(capacity int) {
	if n := a.droppedUpdates.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

// call runs a Bot API request that takes no context and abandons it when ctx ends.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (a *Adapter) send(ctx context.Context, to tele.Recipient, what any, opt *tele.SendOptions) (*tele.Message, error) {
	return call(ctx, func() (*tele.Message, error) { return a.bot.Send(to, what, opt) })
}

// SendText sends text, split into chunks under the platform limit. The returned
// ref points at the first chunk. Once the first chunk is out, a later failure
// is logged and not returned, so callers that retry do not repeat delivered chunks.
func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}
	sopt := &tele.SendOptions{ParseMode: opt.ParseMode, DisableWebPagePreview: opt.DisablePreview, ThreadID: to.ThreadID}
	chunks := splitText(text, textLimit, opt.ParseMode)
	id, sent, err := sendChunks(chunks, func(chunk string) (*tele.Message, error) {
		return a.send(ctx, chat, chunk, sopt)
	})
	if err != nil && sent > 0 {
		a.log.Warn("message truncated; later chunks not sent",
			logx.Int64("chat_id", to.ChatID), logx.Int("sent", sent), logx.Int("chunks", len(chunks)), logx.Err(err))
		err = nil
	}
	if sent == 0 {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: id}, nil
}

// sendChunks sends in order and stops at the first error. It returns the id of
// the first sent message and how many chunks went out.
func sendChunks(chunks []string, send func(string) (*tele.Message, error)) (firstID, sent int, err error) {
	for _, chunk := range chunks {
		msg, err := send(chunk)
		if err != nil {
			return firstID, sent, err
		}
		if sent == 0 && msg != nil {
			firstID = msg.ID
		}
		sent++
	}
	return firstID, sent, nil
}

// Reply answers an operator command in HTML.
func (a *Adapter) Reply(ctx context.Context, chatID int64, text string) error {
	_, err := a.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, &transport.SendOptions{ParseMode: tele.ModeHTML, DisablePreview: true})
	return err
}

// SendLog implements logx.Sender for the warn+ log mirror.
func (a *Adapter) SendLog(ctx context.Context, chatID int64, text string) error {
	_, err := a.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, &transport.SendOptions{DisablePreview: true})
	return err
}

// Resolve looks up "@username" or a numeric chat id.
func (a *Adapter) Resolve(ctx context.Context, handle string) (transport.Contact, bool) {
	handle = strings.TrimSpace(handle)
	name := strings.TrimPrefix(handle, "@")
	if name == "" {
		return transport.Contact{}, false
	}
	chat, err := call(ctx, func() (*tele.Chat, error) {
		if id, perr := strconv.ParseInt(name, 10, 64); perr == nil {
			return a.bot.ChatByID(id)
		}
		return a.bot.ChatByUsername("@" + name)
	})
	if err != nil || chat == nil {
		a.log.Warn("failed to resolve handle", logx.String("handle", handle), logx.Err(err))
		return transport.Contact{}, false
	}
	return transport.Contact{ID: chat.ID, Name: displayName(chat, name)}, true
}

// UpdateMenuCommands publishes the command menu. It only calls the API when the list changed.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []transport.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	sum := menuHash(cmds)
	if sum == a.menuHash {
		return nil
	}
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > 256 {
			d = d[:256]
		}
		out = append(out, tele.Command{Text: c.Command, Description: d})
		if len(out) >= 100 {
			break
		}
	}
	if _, err := call(ctx, func() (struct{}, error) { return struct{}{}, a.bot.SetCommands(out) }); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(out)))
	return nil
}

func menuHash(cmds []transport.BotCommand) uint64 {
	h := fnv.New64a()
	for _, c := range cmds {
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(c.Description))
		h.Write([]byte{0})
	}
	return h.Sum64()
}
