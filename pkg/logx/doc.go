// Package logx configures tgsbot's structured logging.
//
// A small value-type Logger wraps zerolog so that:
//   - console output stays readable (short timestamp + short caller)
//   - file output is JSON lines
//   - warnings and errors can optionally be mirrored to an admin Telegram chat
//     (min-level + rate limiting)
package logx
