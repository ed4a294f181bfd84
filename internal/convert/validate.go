package convert

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxInputBytes is the default cap on a single SVG upload.
const MaxInputBytes int64 = 5 << 20

const svgMime = "image/svg+xml"

type ValidationKind int

const (
	KindFormat ValidationKind = iota + 1
	KindTooLarge
	KindEncoding
	KindNoRoot
	KindRead
)

// ValidationError rejects a single document. The rest of the batch continues.
type ValidationError struct {
	Kind   ValidationKind
	Size   int64
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a *ValidationError of the given kind
// (any kind when kind is 0).
func IsValidation(err error, kind ValidationKind) bool {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return false
	}
	return kind == 0 || ve.Kind == kind
}

// FormatMB renders a byte count the way user-facing messages show it ("5.3MB").
func FormatMB(size int64) string {
	return fmt.Sprintf("%.1fMB", float64(size)/1024/1024)
}

// LooksLikeSVG accepts a ".svg" name (any case) or the SVG mime type.
func LooksLikeSVG(name, mime string) bool {
	if strings.EqualFold(filepath.Ext(name), ".svg") {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(mime), svgMime)
}

// CheckDeclared is the submission-time check on client-declared metadata.
func CheckDeclared(name, mime string, size, max int64) error {
	if !LooksLikeSVG(name, mime) {
		return &ValidationError{Kind: KindFormat, Reason: "not an svg file"}
	}
	if max > 0 && size > max {
		return &ValidationError{Kind: KindTooLarge, Size: size, Reason: fmt.Sprintf("file too large: %s (max %s)", FormatMB(size), FormatMB(max))}
	}
	return nil
}

// ValidateFile re-checks the downloaded bytes: real size, UTF-8 text, and an
// <svg root marker.
func ValidateFile(path string, max int64) error {
	st, err := os.Stat(path)
	if err != nil {
		return &ValidationError{Kind: KindRead, Reason: "cannot stat input", Err: err}
	}
	if max > 0 && st.Size() > max {
		return &ValidationError{Kind: KindTooLarge, Size: st.Size(), Reason: fmt.Sprintf("file too large: %s (max %s)", FormatMB(st.Size()), FormatMB(max))}
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return &ValidationError{Kind: KindRead, Reason: "cannot read input", Err: err}
	}
	return ValidateContent(b)
}

func ValidateContent(b []byte) error {
	if !utf8.Valid(b) {
		return &ValidationError{Kind: KindEncoding, Size: int64(len(b)), Reason: "file is not valid UTF-8 text"}
	}
	if !bytes.Contains(bytes.ToLower(b), []byte("<svg")) {
		return &ValidationError{Kind: KindNoRoot, Size: int64(len(b)), Reason: "invalid SVG format"}
	}
	return nil
}
