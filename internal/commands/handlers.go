package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"prionotify/internal/clock"
	"prionotify/internal/metrics"
	"prionotify/internal/render"
	"prionotify/internal/snooze"
	"prionotify/internal/state"
	"prionotify/internal/transport"
)

// Resolver turns "@handle" or a numeric id into a contact.
type Resolver interface {
	Resolve(ctx context.Context, handle string) (transport.Contact, bool)
}

// Flusher delivers alerts returned by a manual unsnooze.
type Flusher interface {
	Flush(ctx context.Context, alerts []state.QueuedAlert, done func(delivered, total int)) error
}

type Deps struct {
	Store    *state.Store
	Snooze   *snooze.Controller
	Resolver Resolver
	Flusher  Flusher
	Metrics  *metrics.Metrics // optional
	Clock    clock.Clock
}

type Handlers struct {
	d Deps
}

func NewHandlers(d Deps) *Handlers {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	return &Handlers{d: d}
}

// Register installs every operator command on r.
func (h *Handlers) Register(r *Router) {
	r.Register(Command{Name: "start", Description: "About this bot", Handle: h.start})
	r.Register(Command{Name: "help", Description: "List commands", Handle: h.help})
	r.Register(Command{Name: "status", Description: "Show notifier status", Handle: h.status})
	r.Register(Command{Name: "priority", Description: "Priority mode and list", Usage: "/priority mode|add|remove|list", Handle: h.priority})
	r.Register(Command{Name: "mute", Description: "Mute a chat or user", Usage: "/mute @username", Handle: h.mute})
	r.Register(Command{Name: "unmute", Description: "Unmute a chat or user", Usage: "/unmute @username", Handle: h.unmute})
	r.Register(Command{Name: "listmuted", Description: "Show muted list", Handle: h.listMuted})
	r.Register(Command{Name: "snooze", Description: "Snooze alerts", Usage: "/snooze [--queue] <duration>|status", Handle: h.snooze})
	r.Register(Command{Name: "unsnooze", Description: "End snooze", Handle: h.unsnooze})
	r.Register(Command{Name: "timezone", Description: "Show or set the UTC offset for alert times", Usage: "/timezone [offset]", Handle: h.timezone})
}

const startText = `<b>Priority Notifier Bot</b>

Welcome! This bot monitors your Telegram for important messages and sends you alerts for:
• Direct messages (DMs)
• Mentions (@username)
• Replies to your messages

Direct messages to your own account are seen once this bot is connected under Settings → Telegram Business → Chatbots. Without that, only chats with the bot and groups it is in are watched.

Use /help to see all available commands.`

const helpText = `<b>Available Commands</b>

<b>Status</b>
/status - Show current notifier status

<b>Snooze</b>
/snooze &lt;duration&gt; - Snooze alerts (e.g., 30m, 2h, 1d)
/snooze --queue &lt;duration&gt; - Snooze with queueing
/snooze status - Check snooze status
/unsnooze - End snooze and deliver queued alerts

<b>Priority Contacts</b>
/priority mode &lt;whitelist|blacklist|off&gt; - Set filter mode
/priority add @user - Add to priority list
/priority remove @user - Remove from priority list
/priority list - Show priority list

<b>Mute List</b>
/mute @chat - Mute a chat/user
/unmute @chat - Unmute a chat/user
/listmuted - Show muted list

<b>Settings</b>
/timezone [offset] - Show or set the UTC offset used for alert times`

const snoozeCommandsText = `<b>Snooze Commands</b>

/snooze &lt;duration&gt; - Snooze alerts (e.g., 30m, 2h, 1d)
/snooze --queue &lt;duration&gt; - Snooze with queueing
/snooze status - Check snooze status
/unsnooze - End snooze and deliver queued alerts

`

func (h *Handlers) start(_ context.Context, req *Request) error {
	req.Say(startText)
	return nil
}

func (h *Handlers) help(_ context.Context, req *Request) error {
	req.Say(helpText)
	return nil
}

func (h *Handlers) status(_ context.Context, req *Request) error {
	st := h.d.Store
	mode := st.FilterMode()
	lines := []string{Prefix + "<b>Notifier Status</b>", "", "<b>Priority Mode:</b> " + string(mode)}
	switch mode {
	case state.ModeWhitelist:
		lines = append(lines, fmt.Sprintf("  Priority contacts: %d", len(st.PriorityContacts())))
	case state.ModeBlacklist:
		lines = append(lines, fmt.Sprintf("  Muted contacts: %d", len(st.MutedContacts())))
	}
	lines = append(lines, "", h.snoozeStatus())
	if m := h.d.Metrics; m != nil {
		s := m.Snapshot()
		lines = append(lines, "",
			"<b>Uptime:</b> "+metrics.FormatUptime(s.Uptime),
			fmt.Sprintf("<b>Alerts sent:</b> %d", s.AlertsSent()),
			fmt.Sprintf("<b>Tracked messages:</b> %d", st.ProcessedCount()),
		)
	}
	req.SayRaw(strings.Join(lines, "\n"))
	return nil
}

// snoozeStatus is the status line without the bot prefix.
func (h *Handlers) snoozeStatus() string {
	s := h.d.Snooze.Status()
	if !s.Active() {
		return "Snooze: <b>Inactive</b>"
	}
	if s.Remaining <= 0 {
		return "Snooze: <b>Expired</b>"
	}
	out := fmt.Sprintf("Snooze: <b>Active</b> (%s remaining)", snooze.FormatRemaining(s.Remaining))
	if s.Mode == snooze.ActiveQueue {
		out += "\nBehavior: " + string(state.BehaviorQueue)
		out += fmt.Sprintf("\nQueued alerts: %d/%d", s.Queued, s.Capacity)
	} else {
		out += "\nBehavior: " + string(state.BehaviorDrop)
	}
	return out
}

func (h *Handlers) priority(ctx context.Context, req *Request) error {
	st := h.d.Store
	switch strings.ToLower(req.Arg(0)) {
	case "mode":
		if req.Arg(1) == "" {
			req.SayRaw(fmt.Sprintf("Current mode: %s\n\nUsage: /priority mode &lt;whitelist|blacklist|off&gt;", st.FilterMode()))
			return nil
		}
		mode, err := state.ParseFilterMode(req.Arg(1))
		if err != nil {
			req.Say("Invalid mode. Use: whitelist, blacklist, or off")
			return nil
		}
		advisory, err := st.SetFilterMode(mode)
		if err != nil {
			return err
		}
		out := fmt.Sprintf("Priority mode set to: <b>%s</b>", mode)
		switch mode {
		case state.ModeWhitelist:
			out += "\n\nOnly contacts in the priority list will trigger alerts."
		case state.ModeBlacklist:
			out += "\n\nAll contacts except muted ones will trigger alerts."
		default:
			out += "\n\nAll qualifying messages will trigger alerts."
		}
		if advisory != "" {
			out += "\n\n⚠️ " + advisory
		}
		req.Say("%s", out)
		return nil

	case "add":
		c, ok := h.resolveArg(ctx, req, 1, "/priority add @username")
		if !ok {
			return nil
		}
		if st.AddPriorityContact(c.ID, c.Name) {
			req.Say("Added <b>%s</b> to priority list", render.Escape(c.Name))
		} else {
			req.Say("%s is already in the priority list", render.Escape(c.Name))
		}
		return nil

	case "remove":
		c, ok := h.resolveArg(ctx, req, 1, "/priority remove @username")
		if !ok {
			return nil
		}
		if st.RemovePriorityContact(c.ID) {
			req.Say("Removed <b>%s</b> from priority list", render.Escape(c.Name))
		} else {
			req.Say("%s was not in the priority list", render.Escape(c.Name))
		}
		return nil

	case "list":
		mode := st.FilterMode()
		var b strings.Builder
		fmt.Fprintf(&b, "<b>Priority List</b>\n\nMode: %s\n\n", mode)
		writeContacts(&b, "Contacts:", st.PriorityContacts())
		switch mode {
		case state.ModeWhitelist:
			b.WriteString("\nOnly these contacts will trigger alerts.")
		case state.ModeDisabled:
			b.WriteString("\nFiltering is disabled. All qualifying messages trigger alerts.")
		}
		req.Say("%s", b.String())
		return nil

	default:
		req.Say(`<b>Priority Commands</b>

/priority mode &lt;whitelist|blacklist|off&gt;
/priority add @user - Add to priority list
/priority remove @user - Remove from priority list
/priority list - Show priority list

Current mode: %s`, st.FilterMode())
		return nil
	}
}

func (h *Handlers) mute(ctx context.Context, req *Request) error {
	c, ok := h.resolveArg(ctx, req, 0, "/mute @username or @groupname")
	if !ok {
		return nil
	}
	st := h.d.Store
	if !st.AddMutedContact(c.ID, c.Name) {
		req.Say("%s is already muted", render.Escape(c.Name))
		return nil
	}
	out := fmt.Sprintf("Muted <b>%s</b>", render.Escape(c.Name))
	if mode := st.FilterMode(); mode != state.ModeBlacklist {
		out += "\n\n⚠️ Note: Mute list only applies when mode is 'blacklist'. Current mode: " + string(mode)
	}
	req.Say("%s", out)
	return nil
}

func (h *Handlers) unmute(ctx context.Context, req *Request) error {
	c, ok := h.resolveArg(ctx, req, 0, "/unmute @username or @groupname")
	if !ok {
		return nil
	}
	if h.d.Store.RemoveMutedContact(c.ID) {
		req.Say("Unmuted <b>%s</b>", render.Escape(c.Name))
	} else {
		req.Say("%s was not muted", render.Escape(c.Name))
	}
	return nil
}

func (h *Handlers) listMuted(_ context.Context, req *Request) error {
	st := h.d.Store
	mode := st.FilterMode()
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Muted List</b>\n\nMode: %s\n\n", mode)
	writeContacts(&b, "Muted:", st.MutedContacts())
	switch mode {
	case state.ModeBlacklist:
		b.WriteString("\nThese contacts will NOT trigger alerts.")
	case state.ModeDisabled:
		b.WriteString("\nFiltering is disabled. Mute list is inactive.")
	default:
		fmt.Fprintf(&b, "\nMute list is inactive in %s mode.", mode)
	}
	req.Say("%s", b.String())
	return nil
}

func (h *Handlers) snooze(_ context.Context, req *Request) error {
	arg := strings.ToLower(req.Arg(0))
	switch arg {
	case "":
		req.Say("%s", snoozeCommandsText+h.snoozeStatus())
		return nil
	case "status":
		req.Say("%s", h.snoozeStatus())
		return nil
	}

	queue := false
	durText := arg
	if arg == "--queue" {
		queue = true
		if req.Arg(1) == "" {
			req.SayRaw("Usage: /snooze --queue &lt;duration&gt;\nExample: /snooze --queue 2h")
			return nil
		}
		durText = req.Arg(1)
	}
	d, err := snooze.ParseDuration(durText)
	if err != nil {
		req.SayRaw(fmt.Sprintf("Invalid duration format: %s\n\nValid formats: 30m, 2h, 1d", render.Escape(durText)))
		return nil
	}
	until, err := h.d.Snooze.Activate(d, queue)
	if err != nil {
		return err
	}
	out := "<b>Snooze Activated</b>\n\nUntil: " + until.In(h.zone()).Format("2006-01-02 15:04:05")
	if queue {
		out += "\n\nAlerts will be queued and delivered when you unsnooze."
	} else {
		out += "\n\nAlerts will be silently dropped."
	}
	req.Say("%s", out)
	return nil
}

func (h *Handlers) unsnooze(ctx context.Context, req *Request) error {
	if !h.d.Snooze.IsSnoozed() {
		req.Say("Snooze is not active.")
		return nil
	}
	alerts := h.d.Snooze.Deactivate()
	if len(alerts) == 0 {
		req.Say("<b>Snooze Deactivated</b>\n\nNo queued alerts.")
		return nil
	}
	if h.d.Flusher == nil {
		return fmt.Errorf("no delivery worker for %d queued alerts", len(alerts))
	}
	err := h.d.Flusher.Flush(ctx, alerts, func(delivered, total int) {
		req.Say("<b>Snooze Deactivated</b>\n\nDelivered %d/%d queued alerts.", delivered, total)
	})
	if err != nil {
		return fmt.Errorf("queued alerts not delivered: %w", err)
	}
	return nil
}

func (h *Handlers) timezone(_ context.Context, req *Request) error {
	st := h.d.Store
	if req.Arg(0) == "" {
		req.Say("Timezone: <b>%s</b>\n\nUsage: /timezone &lt;offset&gt; (e.g. 5.5, -3)", FormatOffset(st.TimezoneOffset()))
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimSpace(req.Arg(0)), "+"), 64)
	if err == nil {
		err = st.SetTimezoneOffset(v)
	}
	if err != nil {
		req.Say("Invalid offset: %s\n\nUse hours between -12 and +14, e.g. 5.5 or -3", render.Escape(req.Arg(0)))
		return nil
	}
	req.Say("Timezone set to <b>%s</b>", FormatOffset(v))
	return nil
}

func (h *Handlers) resolveArg(ctx context.Context, req *Request, i int, usage string) (transport.Contact, bool) {
	handle := req.Arg(i)
	if handle == "" {
		req.Say("Usage: %s", usage)
		return transport.Contact{}, false
	}
	if h.d.Resolver == nil {
		req.Say("Could not resolve: %s", render.Escape(handle))
		return transport.Contact{}, false
	}
	c, ok := h.d.Resolver.Resolve(ctx, handle)
	if !ok {
		req.Say("Could not resolve: %s", render.Escape(handle))
		return transport.Contact{}, false
	}
	return c, true
}

func (h *Handlers) zone() *time.Location {
	off := h.d.Store.TimezoneOffset()
	return time.FixedZone(FormatOffset(off), int(off*3600))
}

// FormatOffset renders an hour offset as UTC+5.5 or UTC-3.
func FormatOffset(hours float64) string {
	sign := "+"
	if hours < 0 {
		sign = "-"
		hours = -hours
	}
	return "UTC" + sign + strconv.FormatFloat(hours, 'f', -1, 64)
}

func writeContacts(b *strings.Builder, title string, list []state.ContactEntry) {
	if len(list) == 0 {
		b.WriteString("List is empty.\n")
		return
	}
	b.WriteString(title + "\n")
	for _, c := range list {
		b.WriteString("  • " + render.Escape(c.Name) + "\n")
	}
}
