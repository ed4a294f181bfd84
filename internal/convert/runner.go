package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// Fixed sticker target.
const (
	TargetWidth  = 512
	TargetHeight = 512
	TargetFPS    = 30
)

// ErrToolUnavailable means the primary converter could not be started at all.
var ErrToolUnavailable = errors.New("conversion tool unavailable")

type Params struct {
	InputPath  string
	OutputPath string
	Width      int
	Height     int
	FPS        int
	Sanitize   bool
}

// DefaultParams returns the sticker target for the given paths.
func DefaultParams(in, out string) Params {
	return Params{InputPath: in, OutputPath: out, Width: TargetWidth, Height: TargetHeight, FPS: TargetFPS, Sanitize: true}
}

type RunResult struct {
	ExitStatus int
	Stdout     string
	Stderr     string
}

// Runner is the primary conversion tier.
type Runner interface {
	Run(ctx context.Context, p Params) (RunResult, error)
}

const maxCapturedOutput = 8 << 10

// ExecRunner invokes an external converter:
//
//	<Command...> <input> <output> --sanitize --width W --height H --fps F
type ExecRunner struct {
	Command []string
	Timeout time.Duration
}

func (r *ExecRunner) Run(ctx context.Context, p Params) (RunResult, error) {
	if len(r.Command) == 0 || r.Command[0] == "" {
		return RunResult{}, ErrToolUnavailable
	}
	bin, err := exec.LookPath(r.Command[0])
	if err != nil {
		return RunResult{}, fmt.Errorf("%w: %v", ErrToolUnavailable, err)
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	args := append([]string(nil), r.Command[1:]...)
	args = append(args, p.InputPath, p.OutputPath)
	if p.Sanitize {
		args = append(args, "--sanitize")
	}
	args = append(args,
		"--width", strconv.Itoa(p.Width),
		"--height", strconv.Itoa(p.Height),
		"--fps", strconv.Itoa(p.FPS),
	)

	var stdout, stderr cappedBuffer
	stdout.max, stderr.max = maxCapturedOutput, maxCapturedOutput
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	err = cmd.Run()
	res := RunResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr) && ctx.Err() == nil:
		res.ExitStatus = exitErr.ExitCode()
		return res, nil
	default:
		res.ExitStatus = -1
		return res, err
	}
}

// cappedBuffer keeps the first max bytes and silently drops the rest.
type cappedBuffer struct {
	bytes.Buffer
	max int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.Len(); room > 0 {
		if len(p) > room {
			b.Buffer.Write(p[:room])
		} else {
			b.Buffer.Write(p)
		}
	}
	return len(p), nil
}
