// Package tgui builds Telegram message text.
//
// The Builder defaults to ParseMode="HTML" and escapes everything passed
// through Line, KV and friends, so user-supplied values (usernames, file
// names) can be embedded safely.
package tgui
