// Package mac layers thin multi-hop link protocols over the radio driver's
// signal interface. Three interchangeable disciplines share one frame codec
// and one receive path: CSMA senses the channel before talking, TDMA
// transmits only inside its calendar slot, Flood transmits immediately and
// rebroadcasts what it hears. The protocols never touch hardware; they only
// request transmits and listen windows and consume the result events.
package mac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lorahop/sx127xd/internal/bus"
	"github.com/lorahop/sx127xd/internal/events"
)

// Radio is the slice of the driver the link protocols consume.
type Radio interface {
	BeginTx(payload []byte)
	BeginRx(timeout time.Duration)
}

// SendResult resolves one Send call.
type SendResult struct {
	Seq uint16
	Err error
}

// Protocol is one link discipline. Run owns the radio: it alternates
// between serving queued sends and keeping the channel in receive.
type Protocol interface {
	Name() string
	Run(ctx context.Context)
	Send(dst uint16, payload []byte) <-chan SendResult
}

// ErrChannelBusy reports a transmit abandoned after every sense attempt
// heard traffic.
var ErrChannelBusy = errors.New("channel busy")

// Options tunes the link protocols. Zero values take the defaults.
type Options struct {
	// NodeAddr is this node's link address. Broadcast is reserved.
	NodeAddr uint16
	// TTL is the hop budget stamped on locally originated frames.
	TTL byte
	// IdleWindow is one listen period between transmits.
	IdleWindow time.Duration

	// SenseWindow is the CSMA listen-before-talk period.
	SenseWindow time.Duration
	// MaxAttempts bounds CSMA sense/backoff rounds per frame.
	MaxAttempts int
	// BackoffBase and BackoffMax bound the CSMA retry delay.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// SlotCount, SlotLen and OwnSlot define the TDMA calendar.
	SlotCount int
	SlotLen   time.Duration
	OwnSlot   int
	// Epoch aligns the calendar across nodes. Zero means the Unix epoch.
	Epoch time.Time
}

const (
	defaultTTL         = 3
	defaultIdleWindow  = 250 * time.Millisecond
	defaultSenseWindow = 5 * time.Millisecond
	defaultAttempts    = 5
	defaultBackoffBase = 20 * time.Millisecond
	defaultBackoffMax  = 500 * time.Millisecond
	defaultSlotCount   = 8
	defaultSlotLen     = 100 * time.Millisecond

	// resultWait bounds the wait for a driver result event.
	resultWait = 5 * time.Second
	// errorPause throttles the loop when the radio refuses a listen.
	errorPause = 250 * time.Millisecond

	outboxCapacity  = 128
	forwardCapacity = 32
	dedupeCapacity  = 1024
)

func (o *Options) fillDefaults() {
	if o.TTL == 0 {
		o.TTL = defaultTTL
	}
	if o.IdleWindow <= 0 {
		o.IdleWindow = defaultIdleWindow
	}
	if o.SenseWindow <= 0 {
		o.SenseWindow = defaultSenseWindow
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = defaultBackoffBase
	}
	if o.BackoffMax < o.BackoffBase {
		o.BackoffMax = defaultBackoffMax
	}
	if o.SlotCount <= 0 {
		o.SlotCount = defaultSlotCount
	}
	if o.SlotLen <= 0 {
		o.SlotLen = defaultSlotLen
	}
	if o.Epoch.IsZero() {
		o.Epoch = time.Unix(0, 0)
	}
}

// NewProtocol selects a link discipline by name.
func NewProtocol(name string, logger *slog.Logger, b bus.MessageBus, r Radio, opts Options) (Protocol, error) {
	opts.fillDefaults()
	if opts.NodeAddr == Broadcast {
		return nil, fmt.Errorf("node address 0x%04X is the broadcast address", opts.NodeAddr)
	}

	switch name {
	case "csma":
		return NewCSMA(logger, b, r, opts), nil
	case "tdma":
		return NewTDMA(logger, b, r, opts)
	case "flood":
		return NewFlood(logger, b, r, opts), nil
	default:
		return nil, fmt.Errorf("unknown link protocol %q", name)
	}
}

type sendRequest struct {
	dst     uint16
	payload []byte
	result  chan SendResult
}

// txGate blocks until the discipline clears the frame for air.
type txGate func(ctx context.Context, sub bus.Subscription) error

// link carries the state every protocol variant shares. All mutable fields
// are owned by the Run goroutine; Send only feeds the outbox.
type link struct {
	logger *slog.Logger
	bus    bus.MessageBus
	radio  Radio
	proto  ProtoID
	addr   uint16
	ttl    byte

	idleWindow time.Duration

	seq      uint16
	outbox   chan sendRequest
	forwards []Frame

	seenSet  map[uint32]struct{}
	seenRing []uint32
	seenNext int
}

func newLink(logger *slog.Logger, b bus.MessageBus, r Radio, proto ProtoID, opts Options) link {
	return link{
		logger:     logger,
		bus:        b,
		radio:      r,
		proto:      proto,
		addr:       opts.NodeAddr,
		ttl:        opts.TTL,
		idleWindow: opts.IdleWindow,
		outbox:     make(chan sendRequest, outboxCapacity),
		seenSet:    make(map[uint32]struct{}, dedupeCapacity),
		seenRing:   make([]uint32, 0, dedupeCapacity),
	}
}

// Send queues one payload for transmission. The returned channel resolves
// with the assigned sequence number once the frame is on the air or the
// discipline gave up.
func (l *link) Send(dst uint16, payload []byte) <-chan SendResult {
	resCh := make(chan SendResult, 1)
	if len(payload) == 0 {
		resCh <- SendResult{Err: errors.New("payload is empty")}
		close(resCh)

		return resCh
	}
	if len(payload) > MaxPayload {
		resCh <- SendResult{Err: fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))}
		close(resCh)

		return resCh
	}

	buf := append([]byte(nil), payload...)
	l.outbox <- sendRequest{dst: dst, payload: buf, result: resCh}

	return resCh
}

// run alternates between serving queued sends, relaying forwards and
// keeping the channel in receive. Exactly one radio operation is in flight
// at a time and every operation is consumed to its terminal result event.
func (l *link) run(ctx context.Context, gate txGate) {
	sub := l.bus.Subscribe(events.TopicTxResult, events.TopicRxResult)
	defer l.bus.Unsubscribe(sub)

	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case req := <-l.outbox:
			l.handleSend(ctx, sub, req, gate)

			continue
		default:
		}
		if len(l.forwards) > 0 {
			f := l.forwards[0]
			l.forwards = l.forwards[1:]
			l.handleForward(ctx, sub, f, gate)

			continue
		}
		l.listenFor(ctx, sub, l.idleWindow)
	}
}

func (l *link) handleSend(ctx context.Context, sub bus.Subscription, req sendRequest, gate txGate) {
	f := Frame{
		Proto:   l.proto,
		TTL:     l.ttl,
		Seq:     l.nextSeq(),
		Src:     l.addr,
		Dst:     req.dst,
		Payload: req.payload,
	}
	err := l.sendFrame(ctx, sub, f, gate)

	req.result <- SendResult{Seq: f.Seq, Err: err}
	close(req.result)

	ev := events.MacSendResult{Seq: f.Seq, OK: err == nil}
	if err != nil {
		ev.Err = err.Error()
	}
	l.bus.Publish(events.TopicMacSendResult, ev)
}

func (l *link) sendFrame(ctx context.Context, sub bus.Subscription, f Frame, gate txGate) error {
	raw, err := f.Encode()
	if err != nil {
		return err
	}
	if err := gate(ctx, sub); err != nil {
		return err
	}
	// Own frames count as seen so an echoed copy is never rebroadcast.
	l.markSeen(f.Src, f.Seq)

	return l.transmit(ctx, sub, raw)
}

func (l *link) handleForward(ctx context.Context, sub bus.Subscription, f Frame, gate txGate) {
	raw, err := f.Encode()
	if err != nil {
		l.logger.Debug("forward dropped", "error", err)

		return
	}
	if err := gate(ctx, sub); err != nil {
		l.logger.Debug("forward abandoned", "src", f.Src, "seq", f.Seq, "error", err)

		return
	}
	if err := l.transmit(ctx, sub, raw); err != nil {
		l.logger.Debug("forward transmit failed", "src", f.Src, "seq", f.Seq, "error", err)
	}
}

// transmit starts one transmission and waits for its result event.
func (l *link) transmit(ctx context.Context, sub bus.Subscription, raw []byte) error {
	l.radio.BeginTx(raw)
	deadline := time.After(resultWait)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return errors.New("no transmit result")
		case msg := <-sub:
			switch ev := msg.(type) {
			case events.TxResult:
				if ev.OK {
					return nil
				}

				return errors.New(ev.Err)
			case events.RxResult:
				l.handleRx(ev)
			}
		}
	}
}

// listenFor opens one receive window and consumes its result.
func (l *link) listenFor(ctx context.Context, sub bus.Subscription, window time.Duration) {
	l.radio.BeginRx(window)
	deadline := time.After(window + resultWait)
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			l.logger.Warn("no receive result", "window", window)

			return
		case msg := <-sub:
			switch ev := msg.(type) {
			case events.RxResult:
				l.handleRx(ev)
				if ev.Err != "" && !ev.TimedOut {
					sleepWithContext(ctx, errorPause)
				}

				return
			case events.TxResult:
				l.logger.Debug("stray tx result", "ok", ev.OK)
			}
		}
	}
}

// handleRx decodes one reception, delivers it upward and queues a relay
// when hops remain. It never touches the radio.
func (l *link) handleRx(ev events.RxResult) {
	if ev.Err != "" {
		if !ev.TimedOut {
			l.logger.Debug("receive failed", "error", ev.Err)
		}

		return
	}

	f, err := Decode(ev.Data)
	if err != nil {
		l.logger.Debug("undecodable frame dropped", "len", len(ev.Data), "error", err)

		return
	}
	if l.seen(f.Src, f.Seq) {
		return
	}
	l.markSeen(f.Src, f.Seq)

	if f.Dst == l.addr || f.Dst == Broadcast {
		l.bus.Publish(events.TopicMacDelivery, events.MacDelivery{
			Src:     f.Src,
			Dst:     f.Dst,
			Seq:     f.Seq,
			Payload: f.Payload,
		})
	}

	if f.TTL > 1 && f.Src != l.addr && f.Dst != l.addr {
		if len(l.forwards) >= forwardCapacity {
			l.logger.Warn("forward queue full, dropping relay", "src", f.Src, "seq", f.Seq)

			return
		}
		relay := f
		relay.TTL--
		l.forwards = append(l.forwards, relay)
	}
}

func (l *link) nextSeq() uint16 {
	l.seq++

	return l.seq
}

func dedupeKey(src, seq uint16) uint32 {
	return uint32(src)<<16 | uint32(seq)
}

func (l *link) seen(src, seq uint16) bool {
	_, ok := l.seenSet[dedupeKey(src, seq)]

	return ok
}

// markSeen records one (src, seq) pair, evicting the oldest entry once the
// cache is full.
func (l *link) markSeen(src, seq uint16) {
	key := dedupeKey(src, seq)
	if _, ok := l.seenSet[key]; ok {
		return
	}
	if len(l.seenRing) == cap(l.seenRing) {
		delete(l.seenSet, l.seenRing[l.seenNext])
		l.seenRing[l.seenNext] = key
		l.seenNext = (l.seenNext + 1) % len(l.seenRing)
	} else {
		l.seenRing = append(l.seenRing, key)
	}
	l.seenSet[key] = struct{}{}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
