package telegram

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"prionotify/internal/notifier"
	"prionotify/internal/transport"
)

const captionLimit = 1024

// AlertSink delivers alerts into one chat. It implements notifier.Sender and notifier.MediaSender.
type AlertSink struct {
	a      *Adapter
	chatID int64
}

var (
	_ notifier.Sender      = (*AlertSink)(nil)
	_ notifier.MediaSender = (*AlertSink)(nil)
)

func (a *Adapter) AlertSink(chatID int64) *AlertSink { return &AlertSink{a: a, chatID: chatID} }

func (s *AlertSink) SendText(ctx context.Context, body string) error {
	_, err := s.a.SendText(ctx, transport.ChatTarget{ChatID: s.chatID}, body, &transport.SendOptions{ParseMode: tele.ModeHTML, DisablePreview: true})
	return classify(err)
}

// SendMedia re-sends the original file with the alert body as its caption.
func (s *AlertSink) SendMedia(ctx context.Context, body string, m notifier.Media) error {
	what, err := mediaPayload(m, body)
	if err != nil {
		return err
	}
	_, err = s.a.send(ctx, &tele.Chat{ID: s.chatID}, what, &tele.SendOptions{ParseMode: tele.ModeHTML})
	return classify(err)
}

func mediaPayload(m notifier.Media, caption string) (any, error) {
	if m.FileID == "" || utf8.RuneCountInString(caption) > captionLimit {
		return nil, notifier.ErrUnsupportedMedia
	}
	f := tele.File{FileID: m.FileID}
	switch m.Kind {
	case notifier.MediaPhoto:
		return &tele.Photo{File: f, Caption: caption}, nil
	case notifier.MediaVideo:
		return &tele.Video{File: f, Caption: caption}, nil
	case notifier.MediaDocument:
		return &tele.Document{File: f, Caption: caption}, nil
	case notifier.MediaAnimation:
		return &tele.Animation{File: f, Caption: caption}, nil
	case notifier.MediaVoice:
		return &tele.Voice{File: f, Caption: caption}, nil
	case notifier.MediaAudio:
		return &tele.Audio{File: f, Caption: caption}, nil
	default:
		return nil, notifier.ErrUnsupportedMedia
	}
}

// classify maps telebot failures onto the notifier's error kinds.
func classify(err error) error {
	if err == nil || errors.Is(err, notifier.ErrUnsupportedMedia) {
		return err
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &notifier.RateLimitError{RetryAfter: time.Duration(flood.RetryAfter) * time.Second}
	}
	var floodPtr *tele.FloodError
	if errors.As(err, &floodPtr) && floodPtr != nil {
		return &notifier.RateLimitError{RetryAfter: time.Duration(floodPtr.RetryAfter) * time.Second}
	}
	var api *tele.Error
	if errors.As(err, &api) && api != nil {
		return &notifier.APIError{Code: api.Code, Description: api.Description}
	}
	return &notifier.NetworkError{Err: err}
}
