package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"tgsbot/internal/convert"
	"tgsbot/internal/eventbus"
	"tgsbot/internal/storage"
	"tgsbot/internal/transport"
	"tgsbot/pkg/logx"
)

const (
	TextNoneConverted   = "❌ No files could be converted."
	TextProcessingError = "❌ An error occurred during processing."

	defaultDownloadConcurrency = 4
	downloadTimeout            = 2 * time.Minute
	deliveryTimeout            = time.Minute
)

// Transport is what the processor needs from the platform adapter.
type Transport interface {
	Download(ctx context.Context, fileID, dst string) error
	SendFile(ctx context.Context, to transport.ChatTarget, f transport.OutboundFile) (transport.MessageRef, error)
}

// ErrorSink receives unexpected failures caught at the batch boundary.
type ErrorSink interface {
	Capture(err error, tags map[string]string)
	Recovered(v any, tags map[string]string)
}

type ProcessorDeps struct {
	Transport Transport
	Pipeline  *convert.Pipeline
	Temp      convert.TempDir
	Registry  storage.Registry
	Bus       eventbus.Bus
	Errors    ErrorSink
	Log       logx.Logger
}

// Processor turns a flushed batch into delivered stickers.
type Processor struct {
	deps ProcessorDeps
	log  logx.Logger

	maxInput    atomic.Int64
	concurrency atomic.Int32
}

// Result summarizes one processed batch.
type Result struct {
	Docs      int
	Converted int
	Fallbacks int
	Skipped   int // validation or download rejects
	Failed    int // conversion failures
	Delivered int
	Err       error // unexpected failure, if any
}

func NewProcessor(deps ProcessorDeps) *Processor {
	p := &Processor{deps: deps, log: deps.Log.With(logx.String("comp", "batch"))}
	p.maxInput.Store(convert.MaxInputBytes)
	p.concurrency.Store(defaultDownloadConcurrency)
	return p
}

// SetLimits updates the input cap and download fan-out. Non-positive values are ignored.
func (p *Processor) SetLimits(maxInput int64, concurrency int) {
	if maxInput > 0 {
		p.maxInput.Store(maxInput)
	}
	if concurrency > 0 {
		p.concurrency.Store(int32(concurrency))
	}
}

// converted pairs a document with the sticker made from it.
type converted struct {
	doc     Document
	outcome convert.Outcome
}

// Process runs a flushed batch to completion. It ignores cancellation of
// ctx: once flushed, a batch always finishes and always releases its
// temp files.
func (p *Processor) Process(ctx context.Context, f Flush) (res Result) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	log := p.log.With(logx.String("batch", f.ID), logx.Int64("user", f.UserID))
	res.Docs = len(f.Docs)

	p.publish(eventbus.TypeBatchFlushed, eventbus.BatchFlushed{BatchID: f.ID, UserID: f.UserID, Docs: len(f.Docs)})
	log.Info("batch flushed", logx.Int("docs", len(f.Docs)), logx.Duration("open_for", start.Sub(f.Opened)))

	scopes := make([]*convert.Scope, len(f.Docs))
	defer func() {
		for _, s := range scopes {
			if err := s.Release(); err != nil {
				log.Warn("temp cleanup failed", logx.Err(err))
			}
		}
	}()

	defer func() {
		if rec := recover(); rec != nil {
			res.Err = fmt.Errorf("panic: %v", rec)
			log.Error("batch panic", logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
			if p.deps.Errors != nil {
				p.deps.Errors.Recovered(rec, p.tags(f))
			}
			p.fail(ctx, f, res.Err)
		}
	}()

	if err := p.run(ctx, f, scopes, &res, log); err != nil {
		res.Err = err
		log.Error("batch failed", logx.Err(err))
		if p.deps.Errors != nil {
			p.deps.Errors.Capture(err, p.tags(f))
		}
		p.fail(ctx, f, err)
		return res
	}

	dur := time.Since(start)
	log.Info("batch processed",
		logx.Int("converted", res.Converted),
		logx.Int("fallbacks", res.Fallbacks),
		logx.Int("skipped", res.Skipped),
		logx.Int("failed", res.Failed),
		logx.Int("delivered", res.Delivered),
		logx.Duration("took", dur),
	)
	p.publish(eventbus.TypeBatchProcessed, eventbus.BatchProcessed{
		BatchID:   f.ID,
		UserID:    f.UserID,
		Docs:      res.Docs,
		Converted: res.Converted,
		Fallbacks: res.Fallbacks,
		Failed:    res.Failed + res.Skipped,
		Duration:  dur,
	})
	return res
}

func (p *Processor) run(ctx context.Context, f Flush, scopes []*convert.Scope, res *Result, log logx.Logger) error {
	for i, d := range f.Docs {
		s, err := p.deps.Temp.Acquire(strings.TrimSuffix(d.FileName, filepath.Ext(d.FileName)))
		if err != nil {
			return fmt.Errorf("acquire temp files: %w", err)
		}
		scopes[i] = s
	}

	dlErrs := p.prefetch(ctx, f.Docs, scopes)

	maxInput := p.maxInput.Load()
	var done []converted
	total := len(f.Docs)
	for i, d := range f.Docs {
		if f.Reporter != nil {
			_ = f.Reporter.AnnounceProgress(ctx, i+1, total, d.FileName)
		}
		dlog := log.With(logx.String("file", d.FileName))

		if err := dlErrs[i]; err != nil {
			dlog.Warn("download failed, skipping", logx.Err(err))
			res.Skipped++
			continue
		}
		if err := convert.ValidateFile(scopes[i].In, maxInput); err != nil {
			dlog.Info("invalid document, skipping", logx.Err(err))
			res.Skipped++
			continue
		}
		out := p.deps.Pipeline.Convert(ctx, scopes[i].In, scopes[i].Out)
		if !out.OK {
			dlog.Warn("conversion failed", logx.Err(out.Err()))
			res.Failed++
			continue
		}
		if out.Tier == convert.TierFallback {
			res.Fallbacks++
		}
		done = append(done, converted{doc: d, outcome: out})
	}
	res.Converted = len(done)

	if f.Reporter != nil {
		if len(done) == 0 {
			_ = f.Reporter.AnnounceFailure(ctx, TextNoneConverted)
		} else {
			_ = f.Reporter.AnnounceDone(ctx)
		}
	}

	for _, c := range done {
		name := StickerName(c.doc.FileName)
		sctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
		_, err := p.deps.Transport.SendFile(sctx, f.Chat, transport.OutboundFile{
			Path:     c.outcome.OutputPath,
			FileName: name,
			Caption:  "✅ " + name,
		})
		cancel()
		if err != nil {
			derr := &transport.DeliveryError{To: f.Chat, Err: err}
			log.Warn("sticker delivery failed", logx.String("file", name), logx.Err(derr))
			continue
		}
		res.Delivered++
	}

	if len(done) > 0 && p.deps.Registry != nil {
		if err := p.deps.Registry.RecordConversion(ctx, f.UserID, len(done)); err != nil {
			log.Warn("record conversion failed", logx.Err(err))
		}
	}
	return nil
}

// prefetch downloads every document into its scope with bounded fan-out.
// Per-document errors are returned by index; one failure does not stop the rest.
func (p *Processor) prefetch(ctx context.Context, docs []Document, scopes []*convert.Scope) []error {
	errs := make([]error, len(docs))
	var g errgroup.Group
	g.SetLimit(int(p.concurrency.Load()))
	for i, d := range docs {
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(ctx, downloadTimeout)
			defer cancel()
			if err := p.deps.Transport.Download(dctx, d.FileID, scopes[i].In); err != nil {
				errs[i] = fmt.Errorf("download %s: %w", d.FileID, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (p *Processor) fail(ctx context.Context, f Flush, err error) {
	if f.Reporter != nil {
		_ = f.Reporter.AnnounceFailure(ctx, TextProcessingError)
	}
	p.publish(eventbus.TypeBatchFailed, eventbus.BatchFailed{BatchID: f.ID, UserID: f.UserID, Reason: err.Error()})
}

func (p *Processor) publish(typ string, data any) {
	if p.deps.Bus == nil {
		return
	}
	p.deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func (p *Processor) tags(f Flush) map[string]string {
	return map[string]string{
		"batch": f.ID,
		"user":  fmt.Sprint(f.UserID),
	}
}

// StickerName maps "cat.svg" to "cat.tgs". Names without an .svg suffix
// just gain ".tgs".
func StickerName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "sticker.tgs"
	}
	if ext := filepath.Ext(name); strings.EqualFold(ext, ".svg") {
		return strings.TrimSuffix(name, ext) + ".tgs"
	}
	return name + ".tgs"
}

// IsClosed reports whether err came from a drained accumulator.
func IsClosed(err error) bool { return errors.Is(err, ErrClosed) }
