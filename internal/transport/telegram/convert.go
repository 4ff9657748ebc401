package telegram

import (
	"strings"

	tele "gopkg.in/telebot.v4"

	"prionotify/internal/transport"
)

// toMessage maps a telebot message to the platform-neutral model. It returns nil for nil input.
func toMessage(m *tele.Message) *transport.Message {
	if m == nil || m.Chat == nil {
		return nil
	}
	out := &transport.Message{
		ID:       m.ID,
		ThreadID: m.ThreadID,
		Chat:     toChat(m.Chat),
		Text:     m.Text,
		Service:  m.IsService(),
		SentAt:   m.Time(),

		BusinessConnection: m.BusinessConnectionID,
	}
	entities := m.Entities
	if out.Text == "" {
		out.Text = m.Caption
		entities = m.CaptionEntities
	}
	if m.Sender != nil {
		out.Sender = &transport.User{
			ID:        m.Sender.ID,
			FirstName: m.Sender.FirstName,
			LastName:  m.Sender.LastName,
			Username:  m.Sender.Username,
			IsBot:     m.Sender.IsBot,
		}
	}
	for _, e := range entities {
		if e.User != nil {
			out.MentionIDs = append(out.MentionIDs, e.User.ID)
		}
	}
	if r := m.ReplyTo; r != nil {
		out.ReplyTo = &transport.Reply{MessageID: r.ID}
		if r.Sender != nil {
			out.ReplyTo.AuthorID = r.Sender.ID
		}
	}
	out.Media = mediaOf(m)
	return out
}

func toChat(c *tele.Chat) transport.Chat {
	return transport.Chat{
		ID:        c.ID,
		Type:      chatType(c.Type),
		Title:     c.Title,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Username:  c.Username,
	}
}

func chatType(t tele.ChatType) transport.ChatType {
	switch string(t) {
	case "private":
		return transport.ChatPrivate
	case "group":
		return transport.ChatGroup
	case "supergroup":
		return transport.ChatSupergroup
	case "channel", "privatechannel":
		return transport.ChatChannel
	default:
		return transport.ChatType(t)
	}
}

func mediaOf(m *tele.Message) *transport.Media {
	var kind, id string
	switch {
	case m.Photo != nil:
		kind, id = "photo", m.Photo.FileID
	case m.Video != nil:
		kind, id = "video", m.Video.FileID
	case m.Animation != nil:
		kind, id = "animation", m.Animation.FileID
	case m.Document != nil:
		kind, id = "document", m.Document.FileID
	case m.Voice != nil:
		kind, id = "voice", m.Voice.FileID
	case m.Audio != nil:
		kind, id = "audio", m.Audio.FileID
	case m.Sticker != nil:
		kind, id = "sticker", m.Sticker.FileID
	default:
		return nil
	}
	return &transport.Media{Kind: kind, FileID: id}
}

// displayName is "Title" or "First Last", with " (@username)" when the chat has one.
func displayName(c *tele.Chat, fallback string) string {
	name := c.Title
	if name == "" {
		name = strings.TrimSpace(c.FirstName + " " + c.LastName)
	}
	if name == "" {
		name = fallback
	}
	if c.Username != "" {
		name += " (@" + c.Username + ")"
	}
	return name
}
