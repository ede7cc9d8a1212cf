package mac

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mazen160/go-random"

	"github.com/lorahop/sx127xd/internal/bus"
	"github.com/lorahop/sx127xd/internal/events"
)

// CSMA is the listen-before-talk discipline: every transmit is preceded by
// a short sense window, and a busy channel triggers a jittered exponential
// backoff before the next attempt.
type CSMA struct {
	link

	senseWindow time.Duration
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
}

func NewCSMA(logger *slog.Logger, b bus.MessageBus, r Radio, opts Options) *CSMA {
	opts.fillDefaults()

	return &CSMA{
		link:        newLink(logger, b, r, ProtoCSMA, opts),
		senseWindow: opts.SenseWindow,
		maxAttempts: opts.MaxAttempts,
		backoffBase: opts.BackoffBase,
		backoffMax:  opts.BackoffMax,
	}
}

func (c *CSMA) Name() string { return "csma" }

func (c *CSMA) Run(ctx context.Context) {
	c.run(ctx, c.clearChannel)
}

// clearChannel senses until a window passes in silence. Traffic heard
// during a sense is still decoded and delivered.
func (c *CSMA) clearChannel(ctx context.Context, sub bus.Subscription) error {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		quiet, err := c.sense(ctx, sub)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			lastErr = err
		}
		if quiet {
			return nil
		}
		if !sleepWithContext(ctx, c.backoff(attempt)) {
			return ctx.Err()
		}
	}
	if lastErr != nil {
		return lastErr
	}

	return ErrChannelBusy
}

func (c *CSMA) sense(ctx context.Context, sub bus.Subscription) (bool, error) {
	c.radio.BeginRx(c.senseWindow)
	deadline := time.After(c.senseWindow + resultWait)
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline:
			return false, errors.New("no sense result")
		case msg := <-sub:
			switch ev := msg.(type) {
			case events.RxResult:
				if ev.TimedOut {
					return true, nil
				}
				c.handleRx(ev)
				if ev.Err != "" {
					return false, errors.New(ev.Err)
				}

				return false, nil
			case events.TxResult:
				c.logger.Debug("stray tx result during sense", "ok", ev.OK)
			}
		}
	}
}

// backoff returns a jittered delay in [0, base<<attempt], capped.
func (c *CSMA) backoff(attempt int) time.Duration {
	window := c.backoffBase << attempt
	if window <= 0 || window > c.backoffMax {
		window = c.backoffMax
	}
	n, err := random.IntRange(0, int(window/time.Millisecond)+1)
	if err != nil {
		return window
	}

	return time.Duration(n) * time.Millisecond
}
