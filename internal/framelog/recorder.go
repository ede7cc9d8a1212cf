package framelog

import (
	"context"
	"database/sql"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/lorahop/sx127xd/internal/bus"
	"github.com/lorahop/sx127xd/internal/events"
	"github.com/lorahop/sx127xd/internal/mac"
)

const (
	queueCapacity = 256
	writeAttempts = 3
	retryDelay    = 300 * time.Millisecond
	flushTimeout  = 2 * time.Second
)

type writeCmd struct {
	name string
	fn   func(context.Context) error
}

// Recorder subscribes to driver and link-layer topics and writes what it
// hears to the frame log. Writes pass through a bounded queue so a slow
// disk never backs up the bus; when the queue is full the oldest pending
// write is dropped.
//
// NewRecorder registers the bus subscription, so Run must be started
// promptly or publishers will stall once the subscriber buffer fills.
type Recorder struct {
	logger *slog.Logger
	bus    bus.MessageBus
	sub    bus.Subscription
	frames *FrameRepo
	events *EventRepo
	queue  chan writeCmd
}

func NewRecorder(logger *slog.Logger, b bus.MessageBus, db *sql.DB) *Recorder {
	return &Recorder{
		logger: logger,
		bus:    b,
		sub: b.Subscribe(
			events.TopicRxResult,
			events.TopicRawFrameOut,
			events.TopicTxResult,
			events.TopicHwFault,
			events.TopicSettingsRejected,
		),
		frames: NewFrameRepo(db),
		events: NewEventRepo(db),
		queue:  make(chan writeCmd, queueCapacity),
	}
}

// Frames exposes the frame table for read-side queries.
func (r *Recorder) Frames() *FrameRepo { return r.frames }

// Events exposes the event table for read-side queries.
func (r *Recorder) Events() *EventRepo { return r.events }

// Run consumes bus traffic until ctx is cancelled, then flushes whatever
// writes are still queued before returning.
func (r *Recorder) Run(ctx context.Context) {
	defer r.bus.Unsubscribe(r.sub)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		r.runWriter(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			<-writerDone
			return
		case msg := <-r.sub:
			switch ev := msg.(type) {
			case events.RxResult:
				r.onRxResult(ev)
			case events.RawFrame:
				r.onFrameOut(ev)
			case events.TxResult:
				if !ev.OK {
					r.onEvent("tx_error", ev.Err)
				}
			case events.HwFault:
				r.onEvent("hw_fault", ev.Op+": "+ev.Detail)
			case events.SettingsRejected:
				r.onEvent("settings_rejected", ev.Category+": "+ev.Reason)
			}
		}
	}
}

func (r *Recorder) onRxResult(ev events.RxResult) {
	if ev.Err != "" {
		// Expired listen windows are routine, only hard failures are
		// worth a row.
		if !ev.TimedOut {
			r.onEvent("rx_error", ev.Err)
		}
		return
	}

	rec := FrameRecord{
		Direction: DirectionIn,
		Payload:   append([]byte(nil), ev.Data...),
		Rssi:      ev.Rssi,
		Snr:       ev.Snr,
		CreatedAt: time.Now(),
	}
	annotate(&rec)
	r.enqueue("insert rx frame", func(ctx context.Context) error {
		_, err := r.frames.Insert(ctx, rec)
		return err
	})
}

func (r *Recorder) onFrameOut(ev events.RawFrame) {
	data, err := hex.DecodeString(ev.Hex)
	if err != nil {
		r.logger.Warn("undecodable outbound frame hex", "error", err)
		return
	}

	rec := FrameRecord{
		Direction: DirectionOut,
		Payload:   data,
		CreatedAt: time.Now(),
	}
	annotate(&rec)
	r.enqueue("insert tx frame", func(ctx context.Context) error {
		_, err := r.frames.Insert(ctx, rec)
		return err
	})
}

func (r *Recorder) onEvent(kind, detail string) {
	rec := EventRecord{Kind: kind, Detail: detail, CreatedAt: time.Now()}
	r.enqueue("insert "+kind+" event", func(ctx context.Context) error {
		_, err := r.events.Insert(ctx, rec)
		return err
	})
}

// annotate fills in link-layer addressing when the payload carries a
// parseable header. Bare payloads are stored as-is.
func annotate(rec *FrameRecord) {
	f, err := mac.Decode(rec.Payload)
	if err != nil {
		return
	}
	rec.Protocol = f.Proto.String()
	rec.Src = f.Src
	rec.Dst = f.Dst
	rec.Seq = f.Seq
}

func (r *Recorder) enqueue(name string, fn func(context.Context) error) {
	cmd := writeCmd{name: name, fn: fn}
	for {
		select {
		case r.queue <- cmd:
			return
		default:
		}
		select {
		case dropped := <-r.queue:
			r.logger.Warn("frame log queue full, dropping oldest write", "op", dropped.name)
		default:
		}
	}
}

func (r *Recorder) runWriter(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return
		case cmd := <-r.queue:
			r.write(ctx, cmd)
		}
	}
}

// flush drains writes queued before shutdown under a fresh deadline.
func (r *Recorder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	for {
		select {
		case cmd := <-r.queue:
			r.write(ctx, cmd)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, cmd writeCmd) {
	var err error
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		if err = cmd.fn(ctx); err == nil {
			return
		}
		if ctx.Err() != nil {
			break
		}
		if !sleepWithContext(ctx, time.Duration(attempt)*retryDelay) {
			break
		}
	}
	r.logger.Error("frame log write failed", "op", cmd.name, "error", err)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
