package batch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"

	"tgsbot/internal/convert"
	"tgsbot/internal/eventbus"
	"tgsbot/internal/progress"
	"tgsbot/internal/storage"
	"tgsbot/internal/transport"
	"tgsbot/internal/transport/transporttest"
	"tgsbot/pkg/logx"
)

const validSVG = `<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg" width="512" height="512"><rect width="10" height="10"/></svg>`

const primarySticker = `{"v":"5.7.0","fr":30,"ip":0,"op":30,"w":512,"h":512,"nm":"primary","layers":[{"ty":4}]}`

// stubRunner writes a fixed sticker, or fails every call when err is set.
type stubRunner struct {
	err   error
	mu    sync.Mutex
	calls []string
}

func (r *stubRunner) Run(_ context.Context, p convert.Params) (convert.RunResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, p.InputPath)
	r.mu.Unlock()
	if r.err != nil {
		return convert.RunResult{}, r.err
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(primarySticker))
	_ = zw.Close()
	return convert.RunResult{}, os.WriteFile(p.OutputPath, buf.Bytes(), 0o600)
}

type captureSink struct {
	mu        sync.Mutex
	errs      []error
	recovered []any
}

func (c *captureSink) Capture(err error, _ map[string]string) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
}

func (c *captureSink) Recovered(v any, _ map[string]string) {
	c.mu.Lock()
	c.recovered = append(c.recovered, v)
	c.mu.Unlock()
}

type fixture struct {
	tr       *transporttest.Adapter
	reg      *storage.Memory
	bus      eventbus.Bus
	sink     *captureSink
	tempDir  string
	released int
	mu       sync.Mutex
	proc     *Processor
}

func newFixture(t *testing.T, runner convert.Runner) *fixture {
	t.Helper()
	fx := &fixture{
		tr:      transporttest.New(),
		reg:     storage.NewMemory(),
		bus:     eventbus.New(),
		sink:    &captureSink{},
		tempDir: t.TempDir(),
	}
	fx.proc = NewProcessor(ProcessorDeps{
		Transport: fx.tr,
		Pipeline:  convert.NewPipeline(runner, logx.Nop()),
		Temp: convert.TempDir{Dir: fx.tempDir, OnRelease: func(*convert.Scope) {
			fx.mu.Lock()
			fx.released++
			fx.mu.Unlock()
		}},
		Registry: fx.reg,
		Bus:      fx.bus,
		Errors:   fx.sink,
		Log:      logx.Nop(),
	})
	return fx
}

func (fx *fixture) flush(docs ...Document) Flush {
	chat := transport.ChatTarget{ChatID: 42}
	return Flush{
		ID:       "01TEST",
		UserID:   42,
		Chat:     chat,
		Docs:     docs,
		Reporter: progress.New(fx.tr, chat, 1, logx.Nop()),
	}
}

func (fx *fixture) assertClean(t *testing.T, want int) {
	t.Helper()
	fx.mu.Lock()
	released := fx.released
	fx.mu.Unlock()
	if released != want {
		t.Fatalf("scopes released=%d want %d", released, want)
	}
	left, _ := filepath.Glob(filepath.Join(fx.tempDir, convert.TempPrefix+"*"))
	if len(left) != 0 {
		t.Fatalf("temp files left behind: %v", left)
	}
}

func svgDoc(fx *fixture, name string, body string, msg int) Document {
	fx.tr.SetFile("id-"+name, []byte(body))
	return Document{FileID: "id-" + name, FileName: name, MessageID: msg}
}

func TestProcessDeliversEveryConvertedFile(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{}
	fx := newFixture(t, runner)
	ctx := context.Background()
	f := fx.flush(
		svgDoc(fx, "a.svg", validSVG, 1),
		svgDoc(fx, "b.svg", validSVG, 2),
		svgDoc(fx, "c.SVG", validSVG, 3),
	)
	_ = f.Reporter.AnnounceWaiting(ctx)

	res := fx.proc.Process(ctx, f)
	if res.Err != nil || res.Converted != 3 || res.Delivered != 3 || res.Fallbacks != 0 {
		t.Fatalf("result=%+v", res)
	}

	want := []string{
		"send:" + progress.TextWaiting,
		"edit:🔄 Converting 1/3: a.svg",
		"edit:🔄 Converting 2/3: b.svg",
		"edit:🔄 Converting 3/3: c.SVG",
		"edit:" + progress.TextDone,
		"file:a.tgs",
		"file:b.tgs",
		"file:c.tgs",
	}
	got := fx.tr.Events()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("events:\n got %q\nwant %q", got, want)
	}
	for _, file := range fx.tr.Files() {
		if file.Caption != "✅ "+file.FileName {
			t.Fatalf("caption=%q for %s", file.Caption, file.FileName)
		}
		a, err := convert.InspectBytes(file.Data)
		if err != nil {
			t.Fatalf("delivered file %s: %v", file.FileName, err)
		}
		if a.Width != 512 || a.Height != 512 {
			t.Fatalf("size %dx%d", a.Width, a.Height)
		}
	}

	st, _ := fx.reg.Stats(ctx)
	if st.TotalConversions != 1 || st.TotalFiles != 3 {
		t.Fatalf("stats=%+v", st)
	}
	fx.assertClean(t, 3)
}

func TestProcessSkipsInvalidAndContinues(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &stubRunner{})
	ctx := context.Background()
	f := fx.flush(
		svgDoc(fx, "good.svg", validSVG, 1),
		svgDoc(fx, "bad.svg", "just some text", 2),
		svgDoc(fx, "binary.svg", "\xff\xfe\x00<svg", 3),
		Document{FileID: "missing", FileName: "gone.svg", MessageID: 4},
	)

	res := fx.proc.Process(ctx, f)
	if res.Converted != 1 || res.Skipped != 3 || res.Delivered != 1 {
		t.Fatalf("result=%+v", res)
	}
	files := fx.tr.Files()
	if len(files) != 1 || files[0].FileName != "good.tgs" {
		t.Fatalf("files=%+v", files)
	}
	st, _ := fx.reg.Stats(ctx)
	if st.TotalFiles != 1 {
		t.Fatalf("files recorded=%d want 1", st.TotalFiles)
	}
	fx.assertClean(t, 4)
}

func TestProcessFallsBackWhenToolMissing(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &stubRunner{err: convert.ErrToolUnavailable})
	ctx := context.Background()
	f := fx.flush(svgDoc(fx, "one.svg", validSVG, 1), svgDoc(fx, "two.svg", validSVG, 2))

	res := fx.proc.Process(ctx, f)
	if res.Converted != 2 || res.Fallbacks != 2 {
		t.Fatalf("result=%+v", res)
	}
	want, err := convert.FallbackTGS(convert.TargetWidth, convert.TargetHeight, convert.TargetFPS)
	if err != nil {
		t.Fatal(err)
	}
	for _, file := range fx.tr.Files() {
		if !bytes.Equal(file.Data, want) {
			t.Fatalf("%s is not the fallback sticker", file.FileName)
		}
	}
	fx.assertClean(t, 2)
}

func TestProcessNothingConverted(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &stubRunner{})
	ctx := context.Background()
	f := fx.flush(svgDoc(fx, "x.svg", "nope", 1))

	res := fx.proc.Process(ctx, f)
	if res.Converted != 0 || res.Skipped != 1 {
		t.Fatalf("result=%+v", res)
	}
	texts := fx.tr.Texts()
	if len(texts) != 1 || texts[0] != TextNoneConverted {
		t.Fatalf("texts=%q", texts)
	}
	if len(fx.tr.Files()) != 0 {
		t.Fatalf("files sent for empty batch")
	}
	st, _ := fx.reg.Stats(ctx)
	if st.TotalConversions != 0 {
		t.Fatalf("conversion recorded for empty batch")
	}
	fx.assertClean(t, 1)
}

func TestProcessSingleDocumentHasNoProgress(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &stubRunner{})
	ctx := context.Background()
	f := fx.flush(svgDoc(fx, "solo.svg", validSVG, 1))
	_ = f.Reporter.AnnounceWaiting(ctx)

	fx.proc.Process(ctx, f)
	for _, txt := range fx.tr.Texts() {
		if strings.HasPrefix(txt, "🔄") {
			t.Fatalf("progress shown for a single document: %q", txt)
		}
	}
}

func TestProcessDeliveryFailureIsIsolated(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &stubRunner{})
	fx.tr.FileHook = func(_ transport.ChatTarget, name string) error {
		if name == "a.tgs" {
			return errors.New("telegram: 400")
		}
		return nil
	}
	f := fx.flush(svgDoc(fx, "a.svg", validSVG, 1), svgDoc(fx, "b.svg", validSVG, 2))

	res := fx.proc.Process(context.Background(), f)
	if res.Converted != 2 || res.Delivered != 1 || res.Err != nil {
		t.Fatalf("result=%+v", res)
	}
	fx.assertClean(t, 2)
}

type panicRunner struct{}

func (panicRunner) Run(context.Context, convert.Params) (convert.RunResult, error) {
	panic("converter exploded")
}

func TestProcessRecoversPanicAndCleansUp(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, panicRunner{})
	events, unsub := fx.bus.Subscribe(8)
	defer unsub()

	f := fx.flush(svgDoc(fx, "a.svg", validSVG, 1), svgDoc(fx, "b.svg", validSVG, 2))
	res := fx.proc.Process(context.Background(), f)
	if res.Err == nil {
		t.Fatalf("expected an error result")
	}
	texts := fx.tr.Texts()
	if last := texts[len(texts)-1]; last != TextProcessingError {
		t.Fatalf("final status=%q", last)
	}
	if len(fx.sink.recovered) != 1 {
		t.Fatalf("panic not reported")
	}
	fx.assertClean(t, 2)

	var sawFailed bool
	for len(events) > 0 {
		if ev := <-events; ev.Type == eventbus.TypeBatchFailed {
			sawFailed = true
		}
	}
	if !sawFailed {
		t.Fatalf("batch.failed not published")
	}
}

func TestProcessIgnoresCancellation(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &stubRunner{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := fx.proc.Process(ctx, fx.flush(svgDoc(fx, "a.svg", validSVG, 1)))
	if res.Delivered != 1 {
		t.Fatalf("cancelled flush did not finish: %+v", res)
	}
}

func TestStickerName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"cat.svg":     "cat.tgs",
		"Cat.SVG":     "Cat.tgs",
		"a.svg.svg":   "a.svg.tgs",
		"noext":       "noext.tgs",
		"":            "sticker.tgs",
		"  dog.svg  ": "dog.tgs",
	}
	for in, want := range cases {
		if got := StickerName(in); got != want {
			t.Fatalf("StickerName(%q)=%q want %q", in, got, want)
		}
	}
}
