package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"tgsbot/pkg/logx"
)

// AdvisoryOutputBytes is Telegram's documented TGS ceiling. Larger outputs
// are still delivered; only a warning is logged.
const AdvisoryOutputBytes int64 = 64 << 10

const reasonNoOutput = "no output produced"

type Tier string

const (
	TierPrimary  Tier = "primary"
	TierFallback Tier = "fallback"
)

// Outcome is the result of converting one document.
type Outcome struct {
	OK         bool
	OutputPath string
	Reason     string // set when !OK
	Tier       Tier
	Size       int64
	Oversize   bool  // Size above the advisory ceiling
	PrimaryErr error // why the primary tier was skipped, if it was
}

// ConversionError describes a document that neither tier could convert.
type ConversionError struct {
	Reason string
	Err    error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return "conversion failed: " + e.Reason + ": " + e.Err.Error()
	}
	return "conversion failed: " + e.Reason
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Err returns nil on success and a *ConversionError otherwise.
func (o Outcome) Err() error {
	if o.OK {
		return nil
	}
	return &ConversionError{Reason: o.Reason, Err: o.PrimaryErr}
}

// Pipeline runs the two conversion tiers. Runner and advisory size may be
// swapped while conversions are in flight.
type Pipeline struct {
	mu       sync.RWMutex
	runner   Runner
	advisory int64

	log logx.Logger
}

func NewPipeline(runner Runner, log logx.Logger) *Pipeline {
	return &Pipeline{runner: runner, advisory: AdvisoryOutputBytes, log: log}
}

// Update replaces the primary runner and the advisory ceiling (<=0 keeps the default).
func (p *Pipeline) Update(runner Runner, advisory int64) {
	if advisory <= 0 {
		advisory = AdvisoryOutputBytes
	}
	p.mu.Lock()
	p.runner = runner
	p.advisory = advisory
	p.mu.Unlock()
}

func (p *Pipeline) snapshot() (Runner, int64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.runner, p.advisory
}

// Convert turns the SVG at in into a TGS at out. It never returns an error;
// failures are reported in the Outcome.
func (p *Pipeline) Convert(ctx context.Context, in, out string) Outcome {
	runner, advisory := p.snapshot()
	log := p.log.With(logx.String("input", in))

	tier := TierPrimary
	primaryErr := p.runPrimary(ctx, runner, in, out)
	if primaryErr != nil {
		if errors.Is(primaryErr, ErrToolUnavailable) {
			log.Debug("primary converter unavailable, using fallback", logx.Err(primaryErr))
		} else {
			log.Warn("primary conversion failed, using fallback", logx.Err(primaryErr))
		}
		tier = TierFallback
		if err := WriteFallback(out, TargetWidth, TargetHeight, TargetFPS); err != nil {
			log.Error("fallback synthesis failed", logx.Err(err))
			return Outcome{Reason: err.Error(), Tier: tier, PrimaryErr: primaryErr}
		}
	}

	size := fileSize(out)
	if size <= 0 {
		return Outcome{Reason: reasonNoOutput, Tier: tier, PrimaryErr: primaryErr}
	}
	o := Outcome{OK: true, OutputPath: out, Tier: tier, Size: size, PrimaryErr: primaryErr}
	if size > advisory {
		o.Oversize = true
		log.Warn("output exceeds advisory size",
			logx.Int64("size", size),
			logx.Int64("limit", advisory),
			logx.String("tier", string(tier)),
		)
	}
	log.Debug("converted", logx.String("tier", string(tier)), logx.Int64("size", size))
	return o
}

// runPrimary returns nil only when the tool exited cleanly and left a
// non-empty, structurally valid sticker at out.
func (p *Pipeline) runPrimary(ctx context.Context, runner Runner, in, out string) error {
	if runner == nil {
		return ErrToolUnavailable
	}
	res, err := runner.Run(ctx, DefaultParams(in, out))
	if err != nil {
		return err
	}
	if res.ExitStatus != 0 {
		return fmt.Errorf("exit status %d: %s", res.ExitStatus, firstLine(res.Stderr))
	}
	if fileSize(out) <= 0 {
		return errors.New(reasonNoOutput)
	}
	if _, err := Inspect(out); err != nil {
		return fmt.Errorf("malformed output: %w", err)
	}
	return nil
}

func fileSize(path string) int64 {
	st, err := os.Stat(path)
	if err != nil || !st.Mode().IsRegular() {
		return 0
	}
	return st.Size()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
