// Package logx is the structured logger used across prionotify.
//
// It wraps zerolog to keep:
//   - Console output short (timestamp + file:line caller)
//   - File output as JSON lines
//   - An optional Telegram mirror of warnings for the operator chat (min-level + rate limited)
package logx
