// Package convert turns SVG documents into Telegram animated stickers (TGS).
//
// A TGS file is gzip-compressed Lottie JSON. Conversion runs in two tiers:
// an external converter first, then a built-in synthesis that always yields a
// minimal valid sticker. Temp files are handed out as paired scopes that are
// released exactly once.
package convert
