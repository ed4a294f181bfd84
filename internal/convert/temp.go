package convert

import (
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// TempPrefix marks every temp file this package creates; the sweep relies on it.
const TempPrefix = "tgsbot-"

// TempDir hands out input/output file pairs under Dir (os.TempDir when empty).
type TempDir struct {
	Dir string
	// OnRelease runs once per scope, after its files are removed.
	OnRelease func(*Scope)
}

// Scope is one document's temp file pair.
type Scope struct {
	In  string
	Out string

	once      sync.Once
	released  atomic.Bool
	onRelease func(*Scope)
	err       error
}

// Acquire creates an empty .svg/.tgs pair. stem only decorates the names.
func (t TempDir) Acquire(stem string) (*Scope, error) {
	dir := t.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	pattern := TempPrefix + cleanStem(stem) + "-*"

	in, err := os.CreateTemp(dir, pattern+".svg")
	if err != nil {
		return nil, err
	}
	_ = in.Close()
	out, err := os.CreateTemp(dir, pattern+".tgs")
	if err != nil {
		_ = os.Remove(in.Name())
		return nil, err
	}
	_ = out.Close()
	return &Scope{In: in.Name(), Out: out.Name(), onRelease: t.OnRelease}, nil
}

// Release removes both files. Only the first call does anything; later
// calls return the first result.
func (s *Scope) Release() error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		var errs []error
		for _, p := range []string{s.In, s.Out} {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
		s.err = errors.Join(errs...)
		s.released.Store(true)
		if s.onRelease != nil {
			s.onRelease(s)
		}
	})
	return s.err
}

func (s *Scope) Released() bool { return s != nil && s.released.Load() }

func cleanStem(s string) string {
	s = strings.TrimSuffix(s, ".svg")
	s = strings.TrimSuffix(s, ".SVG")
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
		if b.Len() >= 32 {
			break
		}
	}
	if b.Len() == 0 {
		return "doc"
	}
	return b.String()
}
