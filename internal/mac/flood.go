package mac

import (
	"context"
	"log/slog"

	"github.com/lorahop/sx127xd/internal/bus"
)

// Flood transmits immediately and relays everything it hears while the hop
// budget lasts. Duplicate suppression is the only thing standing between
// this and a broadcast storm.
type Flood struct {
	link
}

func NewFlood(logger *slog.Logger, b bus.MessageBus, r Radio, opts Options) *Flood {
	opts.fillDefaults()

	return &Flood{link: newLink(logger, b, r, ProtoFlood, opts)}
}

func (f *Flood) Name() string { return "flood" }

func (f *Flood) Run(ctx context.Context) {
	f.run(ctx, f.immediate)
}

func (f *Flood) immediate(ctx context.Context, _ bus.Subscription) error {
	return ctx.Err()
}
