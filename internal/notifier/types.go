package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrUnsupportedMedia = errors.New("notifier: media variant not supported")

// Config controls pacing and retries. Zero values take defaults.
type Config struct {
	MinInterval       time.Duration
	MaxAttempts       int
	DefaultRetryAfter time.Duration
	BackoffBase       time.Duration
	SendTimeout       time.Duration
}

// MediaKind names a rich variant the sender may deliver instead of plain text.
type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaDocument  MediaKind = "document"
	MediaAnimation MediaKind = "animation"
	MediaVoice     MediaKind = "voice"
	MediaAudio     MediaKind = "audio"
	MediaSticker   MediaKind = "sticker"
)

type Media struct {
	Kind   MediaKind
	FileID string
}

// Alert is one rendered notification.
type Alert struct {
	Body  string
	Media *Media
}

// Sender is the minimum outbound contract.
type Sender interface {
	SendText(ctx context.Context, body string) error
}

// MediaSender is implemented by senders that can attach media.
type MediaSender interface {
	SendMedia(ctx context.Context, body string, m Media) error
}

type NetworkError struct{ Err error }

func (e *NetworkError) Error() string { return "network: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// RateLimitError is a platform throttle. RetryAfter is zero when the platform gave no hint.
type RateLimitError struct{ RetryAfter time.Duration }

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
}

type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string { return fmt.Sprintf("api error %d: %s", e.Code, e.Description) }
