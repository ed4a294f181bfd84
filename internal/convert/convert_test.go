package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"tgsbot/pkg/logx"
)

const sampleSVG = `<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"><rect width="10" height="10"/></svg>`

func TestCheckDeclared(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		file string
		mime string
		size int64
		kind ValidationKind
	}{
		{"svg ext", "logo.svg", "", 100, 0},
		{"upper ext", "LOGO.SVG", "application/octet-stream", 100, 0},
		{"mime only", "logo", "image/svg+xml", 100, 0},
		{"png", "logo.png", "image/png", 100, KindFormat},
		{"too large", "big.svg", "", MaxInputBytes + 1, KindTooLarge},
		{"at cap", "cap.svg", "", MaxInputBytes, 0},
	}
	for _, tc := range cases {
		err := CheckDeclared(tc.file, tc.mime, tc.size, MaxInputBytes)
		if tc.kind == 0 {
			if err != nil {
				t.Fatalf("%s: unexpected %v", tc.name, err)
			}
			continue
		}
		if !IsValidation(err, tc.kind) {
			t.Fatalf("%s: got %v want kind %d", tc.name, err, tc.kind)
		}
	}
}

func TestValidateFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	write := func(name string, b []byte) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, b, 0o600); err != nil {
			t.Fatal(err)
		}
		return p
	}
	if err := ValidateFile(write("ok.svg", []byte(sampleSVG)), MaxInputBytes); err != nil {
		t.Fatalf("valid svg rejected: %v", err)
	}
	if err := ValidateFile(write("upper.svg", []byte("<SVG></SVG>")), MaxInputBytes); err != nil {
		t.Fatalf("uppercase root rejected: %v", err)
	}
	if err := ValidateFile(write("noroot.svg", []byte("<html></html>")), MaxInputBytes); !IsValidation(err, KindNoRoot) {
		t.Fatalf("no root: %v", err)
	}
	if err := ValidateFile(write("bin.svg", []byte{0xff, 0xfe, '<', 's', 'v', 'g'}), MaxInputBytes); !IsValidation(err, KindEncoding) {
		t.Fatalf("binary: %v", err)
	}
	if err := ValidateFile(write("big.svg", []byte(sampleSVG)), 10); !IsValidation(err, KindTooLarge) {
		t.Fatalf("size: %v", err)
	}
	if err := ValidateFile(filepath.Join(dir, "missing.svg"), MaxInputBytes); !IsValidation(err, KindRead) {
		t.Fatalf("missing: %v", err)
	}
}

func TestFormatMB(t *testing.T) {
	if got := FormatMB(6 << 20); got != "6.0MB" {
		t.Fatalf("got %q", got)
	}
	if got := FormatMB(5767168); got != "5.5MB" {
		t.Fatalf("got %q", got)
	}
}

func TestScopeReleasedOnce(t *testing.T) {
	t.Parallel()
	var hooks atomic.Int32
	td := TempDir{Dir: t.TempDir(), OnRelease: func(*Scope) { hooks.Add(1) }}
	s, err := td.Acquire("my logo!.svg")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(filepath.Base(s.In), TempPrefix+"mylogo-") || !strings.HasSuffix(s.In, ".svg") {
		t.Fatalf("in=%q", s.In)
	}
	if !strings.HasSuffix(s.Out, ".tgs") {
		t.Fatalf("out=%q", s.Out)
	}
	if s.Released() {
		t.Fatalf("released before Release")
	}
	for i := 0; i < 3; i++ {
		if err := s.Release(); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}
	if hooks.Load() != 1 || !s.Released() {
		t.Fatalf("hooks=%d released=%v", hooks.Load(), s.Released())
	}
	for _, p := range []string{s.In, s.Out} {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("%s still present", p)
		}
	}
}

func TestFallbackDeterministic(t *testing.T) {
	t.Parallel()
	a, err := FallbackTGS(TargetWidth, TargetHeight, TargetFPS)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := FallbackTGS(TargetWidth, TargetHeight, TargetFPS)
	if !bytes.Equal(a, b) {
		t.Fatalf("fallback bytes differ between runs")
	}
	if len(a) > int(AdvisoryOutputBytes) {
		t.Fatalf("fallback size %d above advisory ceiling", len(a))
	}

	art, err := InspectBytes(a)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if art.Width != 512 || art.Height != 512 || art.FrameRate != 30 || art.InPoint != 0 || art.OutPoint != 30 || art.Layers != 1 {
		t.Fatalf("artifact=%+v", art)
	}

	var doc map[string]any
	if err := json.Unmarshal(art.JSON, &doc); err != nil {
		t.Fatal(err)
	}
	layer := doc["layers"].([]any)[0].(map[string]any)
	shapes := layer["shapes"].([]any)
	if shapes[0].(map[string]any)["ty"] != "rc" || shapes[1].(map[string]any)["ty"] != "fl" {
		t.Fatalf("shapes=%v", shapes)
	}
}

func TestFallbackJSONMatchesReferenceLayout(t *testing.T) {
	t.Parallel()
	got, err := FallbackJSON(512, 512, 30)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"v":"5.5.2","fr":30,"ip":0,"op":30,"w":512,"h":512,"nm":"SVG Animation","ddd":0,"assets":[],` +
		`"layers":[{"ddd":0,"ind":1,"ty":4,"nm":"SVG Layer","sr":1,` +
		`"ks":{"o":{"a":0,"k":100},"r":{"a":0,"k":0},"p":{"a":0,"k":[256,256,0]},"a":{"a":0,"k":[0,0,0]},"s":{"a":0,"k":[100,100,100]}},` +
		`"ao":0,"shapes":[{"ty":"rc","d":1,"s":{"a":0,"k":[400,400]},"p":{"a":0,"k":[0,0]},"r":{"a":0,"k":10}},` +
		`{"ty":"fl","c":{"a":0,"k":[0.2,0.7,1,1]},"o":{"a":0,"k":100}}],"ip":0,"op":30,"st":0,"bm":0}]}`
	if string(got) != want {
		t.Fatalf("fallback json mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestInspectRejectsMalformed(t *testing.T) {
	t.Parallel()
	if _, err := InspectBytes([]byte("plain")); err == nil {
		t.Fatalf("non-gzip accepted")
	}
	if _, err := InspectBytes(gz(t, `{"v":"5","fr":30}`)); err == nil {
		t.Fatalf("missing keys accepted")
	}
	if _, err := InspectBytes(gz(t, `{"v":"5","fr":30,"ip":0,"op":30,"w":512,"h":512,"layers":[]}`)); err == nil {
		t.Fatalf("empty layers accepted")
	}
}

// fakeRunner writes body to the output path and reports status.
type fakeRunner struct {
	body   []byte
	status int
	err    error
	calls  atomic.Int32
	params Params
}

func (f *fakeRunner) Run(_ context.Context, p Params) (RunResult, error) {
	f.calls.Add(1)
	f.params = p
	if f.err != nil {
		return RunResult{ExitStatus: -1}, f.err
	}
	if f.body != nil {
		if err := os.WriteFile(p.OutputPath, f.body, 0o600); err != nil {
			return RunResult{}, err
		}
	}
	return RunResult{ExitStatus: f.status, Stderr: "boom\ntrace"}, nil
}

func newScope(t *testing.T) *Scope {
	t.Helper()
	s, err := TempDir{Dir: t.TempDir()}.Acquire("x")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.In, []byte(sampleSVG), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Release() })
	return s
}

func TestPipelineTiers(t *testing.T) {
	t.Parallel()
	fallback, _ := FallbackTGS(512, 512, 30)

	cases := []struct {
		name   string
		runner Runner
		tier   Tier
	}{
		{"primary ok", &fakeRunner{body: gz(t, `{"v":"5.7","fr":30,"ip":0,"op":30,"w":512,"h":512,"layers":[{}]}`)}, TierPrimary},
		{"non-zero exit", &fakeRunner{body: gz(t, `{"v":"5.7"}`), status: 1}, TierFallback},
		{"empty output", &fakeRunner{body: []byte{}}, TierFallback},
		{"malformed output", &fakeRunner{body: []byte("<svg/>")}, TierFallback},
		{"unavailable", &fakeRunner{err: ErrToolUnavailable}, TierFallback},
		{"nil runner", nil, TierFallback},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newScope(t)
			p := NewPipeline(tc.runner, logx.Nop())
			o := p.Convert(context.Background(), s.In, s.Out)
			if !o.OK || o.Tier != tc.tier || o.OutputPath != s.Out || o.Size <= 0 {
				t.Fatalf("outcome=%+v", o)
			}
			if o.Err() != nil {
				t.Fatalf("Err()=%v", o.Err())
			}
			if tc.tier == TierFallback {
				got, _ := os.ReadFile(s.Out)
				if !bytes.Equal(got, fallback) {
					t.Fatalf("fallback output differs from reference")
				}
			}
		})
	}
}

func TestPipelinePassesStickerParams(t *testing.T) {
	t.Parallel()
	s := newScope(t)
	fr := &fakeRunner{status: 1}
	NewPipeline(fr, logx.Nop()).Convert(context.Background(), s.In, s.Out)
	want := Params{InputPath: s.In, OutputPath: s.Out, Width: 512, Height: 512, FPS: 30, Sanitize: true}
	if !reflect.DeepEqual(fr.params, want) {
		t.Fatalf("params=%+v", fr.params)
	}
}

func TestPipelineAdvisoryIsWarningOnly(t *testing.T) {
	t.Parallel()
	s := newScope(t)
	p := NewPipeline(nil, logx.Nop())
	p.Update(nil, 16)
	o := p.Convert(context.Background(), s.In, s.Out)
	if !o.OK || !o.Oversize {
		t.Fatalf("outcome=%+v", o)
	}
}

func TestPipelineNoOutput(t *testing.T) {
	t.Parallel()
	// output path inside a missing directory: both tiers fail to write
	out := filepath.Join(t.TempDir(), "missing", "out.tgs")
	o := NewPipeline(nil, logx.Nop()).Convert(context.Background(), "in.svg", out)
	var ce *ConversionError
	if o.OK || !errors.As(o.Err(), &ce) {
		t.Fatalf("outcome=%+v", o)
	}
}

func TestExecRunnerMissingTool(t *testing.T) {
	t.Parallel()
	r := &ExecRunner{Command: []string{"definitely-not-a-converter-binary"}}
	_, err := r.Run(context.Background(), DefaultParams("a", "b"))
	if !errors.Is(err, ErrToolUnavailable) {
		t.Fatalf("err=%v", err)
	}
}

func TestExecRunnerArgsAndExitStatus(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	r := &ExecRunner{Command: []string{"sh", "-c", `echo "$@" >&2; exit 3`, "conv"}, Timeout: 5 * time.Second}
	res, err := r.Run(context.Background(), DefaultParams("in.svg", "out.tgs"))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if res.ExitStatus != 3 {
		t.Fatalf("status=%d", res.ExitStatus)
	}
	if got := strings.TrimSpace(res.Stderr); got != "in.svg out.tgs --sanitize --width 512 --height 512 --fps 30" {
		t.Fatalf("stderr=%q", got)
	}
}

func TestSweepStale(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	old := filepath.Join(dir, TempPrefix+"old.svg")
	fresh := filepath.Join(dir, TempPrefix+"fresh.svg")
	other := filepath.Join(dir, "keep.txt")
	for _, p := range []string{old, fresh, other} {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	now := time.Now()
	past := now.Add(-2 * time.Hour)
	_ = os.Chtimes(old, past, past)
	_ = os.Chtimes(other, past, past)

	n, err := SweepStale(dir, time.Hour, now)
	if err != nil || n != 1 {
		t.Fatalf("removed=%d err=%v", n, err)
	}
	if _, err := os.Stat(old); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("stale file kept")
	}
	for _, p := range []string{fresh, other} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("%s removed", p)
		}
	}
}
