// Package render turns a qualifying message into the HTML alert body sent to
// the operator: a header line, a preview, the local time and a deep link.
package render

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"prionotify/internal/trigger"
)

const (
	previewLimit = 200
	fallbackLink = "tg://resolve?domain=telegram"
)

// ChatType mirrors the platform's chat types; deep links differ per type.
type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSupergroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

type Chat struct {
	ID        int64
	Type      ChatType
	Title     string
	FirstName string
	LastName  string
	Username  string
}

type Sender struct {
	FirstName string
	LastName  string
	Title     string
}

// Source is everything the renderer needs about one message.
type Source struct {
	Category  trigger.Category
	Chat      *Chat
	Sender    *Sender
	MessageID int
	Text      string
	HasMedia  bool
	SentAt    time.Time
}

// Renderer formats alerts in the operator's timezone.
type Renderer struct {
	// Offset returns the timezone offset in hours; nil means UTC.
	Offset func() float64
}

var headerEmoji = map[trigger.Category]string{
	trigger.DM:      "🔔",
	trigger.Mention: "💬",
	trigger.Reply:   "💬",
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func Escape(s string) string { return htmlEscaper.Replace(s) }

func (r Renderer) Render(src Source) string {
	ts := r.clock(src.SentAt)
	link := DeepLink(src.Chat, src.MessageID)
	sender := Escape(SenderName(src.Sender))
	preview := ""
	if !src.HasMedia {
		preview = Escape(Preview(src.Text, false))
	}

	var b strings.Builder
	if src.Category == trigger.DM {
		fmt.Fprintf(&b, "🔔 <b>%s</b>\n", sender)
		switch {
		case src.HasMedia:
			fmt.Fprintf(&b, "\n%s • <a href=\"%s\">View →</a>", ts, link)
		default:
			fmt.Fprintf(&b, "   %s\n\n   %s • <a href=\"%s\">View →</a>", preview, ts, link)
		}
		return b.String()
	}

	emoji, ok := headerEmoji[src.Category]
	if !ok {
		emoji = "💬"
	}
	fmt.Fprintf(&b, "%s <b>%s</b>\n%s", emoji, Escape(ChatName(src.Chat)), sender)
	if preview != "" {
		b.WriteString(": " + preview)
	}
	fmt.Fprintf(&b, "\n\n%s • <a href=\"%s\">View group →</a>", ts, link)
	return b.String()
}

func (r Renderer) clock(t time.Time) string {
	off := 0.0
	if r.Offset != nil {
		off = r.Offset()
	}
	if t.IsZero() {
		t = time.Now()
	}
	return t.In(time.FixedZone("", int(off*3600))).Format("15:04")
}

// Preview truncates text to 200 characters. Empty text without media becomes "[No content]".
func Preview(text string, hasMedia bool) string {
	if text == "" {
		if hasMedia {
			return ""
		}
		return "[No content]"
	}
	rs := []rune(text)
	if len(rs) > previewLimit {
		return string(rs[:previewLimit]) + "..."
	}
	return text
}

func ChatName(c *Chat) string {
	switch {
	case c == nil:
		return "Unknown Chat"
	case c.Title != "":
		return c.Title
	case c.FirstName != "":
		return strings.TrimSpace(c.FirstName + " " + c.LastName)
	case c.Username != "":
		return "@" + c.Username
	}
	return "Unknown Chat"
}

func SenderName(s *Sender) string {
	switch {
	case s == nil:
		return "Unknown"
	case s.FirstName != "":
		return strings.TrimSpace(s.FirstName + " " + s.LastName)
	case s.Title != "":
		return s.Title
	}
	return "Unknown"
}

// DeepLink points at the message (groups, channels) or the conversation (private chats).
func DeepLink(c *Chat, messageID int) string {
	if c == nil {
		return fallbackLink
	}
	msg := strconv.Itoa(messageID)
	switch c.Type {
	case ChatPrivate:
		if c.Username != "" {
			return "https://t.me/" + c.Username
		}
		return "tg://user?id=" + strconv.FormatInt(c.ID, 10)
	case ChatSupergroup, ChatChannel:
		if c.Username != "" {
			return "https://t.me/" + c.Username + "/" + msg
		}
		return "https://t.me/c/" + internalID(c.ID) + "/" + msg
	case ChatGroup:
		if c.Username != "" {
			return "https://t.me/" + c.Username
		}
		return "tg://openmessage?chat_id=" + internalID(c.ID) + "&message_id=" + msg
	}
	return fallbackLink
}

// internalID strips the Bot API sign and "-100" channel prefix.
func internalID(id int64) string {
	s := strconv.FormatInt(id, 10)
	if strings.HasPrefix(s, "-100") && len(s) > 4 {
		return s[4:]
	}
	return strings.TrimPrefix(s, "-")
}
