package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"tgsbot/internal/eventbus"
	"tgsbot/internal/transport"
	"tgsbot/pkg/logx"
)

const (
	DefaultRatePerSec    = 20
	DefaultRetryMax      = 2
	DefaultProgressEvery = 10

	queueLen = 16

	// maxFloodWait caps how long one flood-wait may pause a job.
	maxFloodWait = 30 * time.Second
)

var ErrQueueFull = errors.New("broadcast queue full")

type Config struct {
	RatePerSec int
	// RetryMax is how many times a send refused with a flood-wait is
	// repeated. Other failures are never retried. 0 disables retries.
	RetryMax      int
	ProgressEvery int
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = DefaultRatePerSec
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = DefaultProgressEvery
	}
	return c
}

// Payload is what every recipient receives: plain text, or a stored
// attachment with Text as its caption.
type Payload struct {
	Text  string
	Media *transport.Media
}

// StatusSink shows the running and final state of a job, usually one
// editable message in the admin's chat.
type StatusSink interface {
	Update(ctx context.Context, text string) error
	Finish(ctx context.Context, text string) error
}

type Job struct {
	ID         string
	Recipients []int64
	Payload    Payload
	Status     StatusSink
	CreatedAt  time.Time
}

// Tally is the outcome of a job. Sent+Failed always equals Total.
type Tally struct {
	Sent   int
	Failed int
	Total  int
}

// NewJob snapshots recipients; later registry changes do not affect the job.
func NewJob(recipients []int64, p Payload, status StatusSink) Job {
	return Job{
		ID:         ulid.Make().String(),
		Recipients: append([]int64(nil), recipients...),
		Payload:    p,
		Status:     status,
		CreatedAt:  time.Now(),
	}
}

// Sender is the subset of transport.Adapter used for delivery.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
	SendMedia(ctx context.Context, to transport.ChatTarget, m transport.Media, caption string, opt *transport.SendOptions) (transport.MessageRef, error)
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sender Sender
	bus    eventbus.Bus
	log    logx.Logger
	queue  chan Job
	sleep  func(time.Duration)

	// guarded by mu
	active   bool
	stopping bool
	idle     chan struct{}
}

// StartingText is the first status of a job.
func StartingText(total int) string {
	return fmt.Sprintf("📡 Broadcasting to %d users...", total)
}

// ProgressText is a running status after processed recipients.
func ProgressText(processed int, t Tally) string {
	return fmt.Sprintf("📡 Broadcasting... %d/%d (✅ %d, ❌ %d)", processed, t.Total, t.Sent, t.Failed)
}

// FinalText is the tally shown when a job ends.
func FinalText(t Tally) string {
	return fmt.Sprintf("📡 Broadcast Complete!\n✅ Successfully sent: %d\n❌ Failed: %d\n📊 Total users: %d", t.Sent, t.Failed, t.Total)
}
