package mac

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lorahop/sx127xd/internal/bus"
)

// slotPrepMargin is how early a node wakes ahead of its slot so the
// transmit starts at the slot boundary.
const slotPrepMargin = 5 * time.Millisecond

// TDMA divides time into an epoch-aligned calendar of equal slots and
// transmits only inside its own. The other slots are spent listening.
type TDMA struct {
	link

	slotCount int
	slotLen   time.Duration
	ownSlot   int
	epoch     time.Time
}

func NewTDMA(logger *slog.Logger, b bus.MessageBus, r Radio, opts Options) (*TDMA, error) {
	opts.fillDefaults()
	if opts.OwnSlot < 0 || opts.OwnSlot >= opts.SlotCount {
		return nil, fmt.Errorf("own slot %d outside calendar of %d slots", opts.OwnSlot, opts.SlotCount)
	}
	if opts.SlotLen <= 2*slotPrepMargin {
		return nil, fmt.Errorf("slot length %s too short", opts.SlotLen)
	}

	return &TDMA{
		link:      newLink(logger, b, r, ProtoTDMA, opts),
		slotCount: opts.SlotCount,
		slotLen:   opts.SlotLen,
		ownSlot:   opts.OwnSlot,
		epoch:     opts.Epoch,
	}, nil
}

func (t *TDMA) Name() string { return "tdma" }

func (t *TDMA) Run(ctx context.Context) {
	t.run(ctx, t.awaitSlot)
}

// awaitSlot blocks until the calendar reaches this node's slot, listening
// through the foreign slots when the wait is long enough.
func (t *TDMA) awaitSlot(ctx context.Context, sub bus.Subscription) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait := t.slotWait(time.Now())
		if wait <= 0 {
			return nil
		}
		if wait > t.idleWindow+slotPrepMargin {
			t.listenFor(ctx, sub, t.idleWindow)

			continue
		}
		if !sleepWithContext(ctx, wait) {
			return ctx.Err()
		}

		return nil
	}
}

// slotWait returns how long until the transmit window opens, or zero when
// now is already inside it. The window runs from the prep margin before
// the slot boundary to the margin before the slot's end.
func (t *TDMA) slotWait(now time.Time) time.Duration {
	cycle := t.slotLen * time.Duration(t.slotCount)
	pos := now.Sub(t.epoch) % cycle
	if pos < 0 {
		pos += cycle
	}

	windowStart := t.slotLen*time.Duration(t.ownSlot) - slotPrepMargin
	rel := pos - windowStart
	if rel < 0 {
		rel += cycle
	}
	if rel >= cycle {
		rel -= cycle
	}
	if rel < t.slotLen {
		return 0
	}

	return cycle - rel
}
