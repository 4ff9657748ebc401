// Package trigger decides whether an inbound message warrants an alert.
//
// The classifier works on a narrow, adapter-supplied view of the message
// and never touches platform objects directly.
package trigger

import (
	"context"
	"strings"
)

// Category explains why a message qualifies.
type Category string

const (
	None    Category = ""
	DM      Category = "DM"
	Mention Category = "Mention"
	Reply   Category = "Reply"
)

// ChatKind is the shape of the conversation a message arrived in.
type ChatKind int

const (
	ChatUnknown ChatKind = iota
	ChatPrivate
	ChatGroup
	ChatChannel
)

// ReplyRef points at the message being replied to. AuthorID is zero when
// the adapter could not determine the author up front.
type ReplyRef struct {
	MessageID int
	AuthorID  int64
}

// Message is the classifier's input.
type Message struct {
	ID          int
	ChatID      int64
	Chat        ChatKind
	SenderID    int64
	SenderIsBot bool
	Service     bool
	Text        string
	// MentionIDs holds user ids carried by structured mention entities.
	MentionIDs []int64
	ReplyTo    *ReplyRef
}

// ReplyResolver fetches the author of a replied-to message on demand.
// ok=false means the original could not be resolved (deleted, inaccessible).
type ReplyResolver interface {
	ReplyAuthor(ctx context.Context, chatID int64, messageID int) (authorID int64, ok bool)
}

// Classifier holds the monitored account's identity.
type Classifier struct {
	SelfID   int64
	Username string // without the leading @
	Replies  ReplyResolver
}

// Classify returns the trigger category, or None when the message does not qualify.
func (c Classifier) Classify(ctx context.Context, m Message) (Category, bool) {
	switch {
	case m.Service:
		return None, false
	case c.SelfID != 0 && m.SenderID == c.SelfID:
		return None, false
	case m.SenderIsBot:
		return None, false
	}

	if m.Chat == ChatPrivate {
		return DM, true
	}
	if c.mentioned(m) {
		return Mention, true
	}
	if c.repliedTo(ctx, m) {
		return Reply, true
	}
	return None, false
}

func (c Classifier) mentioned(m Message) bool {
	if c.SelfID != 0 {
		for _, id := range m.MentionIDs {
			if id == c.SelfID {
				return true
			}
		}
	}
	u := strings.TrimPrefix(strings.TrimSpace(c.Username), "@")
	if u == "" || m.Text == "" {
		return false
	}
	return containsHandle(m.Text, u)
}

func (c Classifier) repliedTo(ctx context.Context, m Message) bool {
	if m.ReplyTo == nil || c.SelfID == 0 {
		return false
	}
	author := m.ReplyTo.AuthorID
	if author == 0 && c.Replies != nil {
		id, ok := c.Replies.ReplyAuthor(ctx, m.ChatID, m.ReplyTo.MessageID)
		if !ok {
			return false
		}
		author = id
	}
	return author == c.SelfID
}

// containsHandle reports whether text has "@handle" as a whole token,
// matching case-insensitively. "@alice" does not match "@alice_bot".
func containsHandle(text, handle string) bool {
	lt := strings.ToLower(text)
	needle := "@" + strings.ToLower(handle)
	for i := 0; ; {
		j := strings.Index(lt[i:], needle)
		if j < 0 {
			return false
		}
		end := i + j + len(needle)
		if end == len(lt) || !isHandleByte(lt[end]) {
			return true
		}
		i = end
	}
}

func isHandleByte(b byte) bool {
	return b == '_' || ('a' <= b && b <= 'z') || ('0' <= b && b <= '9')
}
