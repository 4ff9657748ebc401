package pipeline

import (
	"prionotify/internal/notifier"
	"prionotify/internal/render"
	"prionotify/internal/transport"
	"prionotify/internal/trigger"
)

func classifierView(m *transport.Message) trigger.Message {
	v := trigger.Message{
		ID:         m.ID,
		ChatID:     m.Chat.ID,
		Chat:       chatKind(m.Chat.Type),
		Service:    m.Service,
		Text:       m.Text,
		MentionIDs: m.MentionIDs,
	}
	if m.Sender != nil {
		v.SenderID = m.Sender.ID
		v.SenderIsBot = m.Sender.IsBot
	}
	if m.ReplyTo != nil {
		v.ReplyTo = &trigger.ReplyRef{MessageID: m.ReplyTo.MessageID, AuthorID: m.ReplyTo.AuthorID}
	}
	return v
}

func chatKind(t transport.ChatType) trigger.ChatKind {
	switch t {
	case transport.ChatPrivate:
		return trigger.ChatPrivate
	case transport.ChatGroup, transport.ChatSupergroup:
		return trigger.ChatGroup
	case transport.ChatChannel:
		return trigger.ChatChannel
	}
	return trigger.ChatUnknown
}

func renderSource(m *transport.Message, cat trigger.Category) render.Source {
	src := render.Source{
		Category:  cat,
		MessageID: m.ID,
		Text:      m.Text,
		HasMedia:  m.Media != nil,
		SentAt:    m.SentAt,
		Chat: &render.Chat{
			ID:        m.Chat.ID,
			Type:      render.ChatType(m.Chat.Type),
			Title:     m.Chat.Title,
			FirstName: m.Chat.FirstName,
			LastName:  m.Chat.LastName,
			Username:  m.Chat.Username,
		},
	}
	if m.Sender != nil {
		src.Sender = &render.Sender{FirstName: m.Sender.FirstName, LastName: m.Sender.LastName}
	} else if m.Chat.Title != "" {
		// Anonymous admins and channel posts speak as the chat.
		src.Sender = &render.Sender{Title: m.Chat.Title}
	}
	return src
}

func alertMedia(m *transport.Message) *notifier.Media {
	if m.Media == nil || m.Media.FileID == "" {
		return nil
	}
	return &notifier.Media{Kind: notifier.MediaKind(m.Media.Kind), FileID: m.Media.FileID}
}
