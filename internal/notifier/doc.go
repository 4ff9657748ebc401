// Package notifier delivers rendered alerts to the operator's notification chat.
//
// A Client wraps a Sender (usually the Telegram adapter) with a minimum
// interval between successful sends, a bounded retry loop, and a media to
// plain-text fallback. Send never returns an error: callers get a boolean
// and decide on their own whether the alert counts as delivered.
//
// # Failure taxonomy
//
// Senders report failures as *NetworkError, *RateLimitError, or *APIError.
// Any other error is treated like a network failure.
package notifier
