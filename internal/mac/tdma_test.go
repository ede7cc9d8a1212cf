package mac

import (
	"testing"
	"time"
)

func newTestTDMA(t *testing.T, ownSlot int) *TDMA {
	t.Helper()
	opts := testOptions()
	opts.SlotCount = 4
	opts.SlotLen = 100 * time.Millisecond
	opts.OwnSlot = ownSlot
	opts.Epoch = time.Unix(1000, 0)

	td, err := NewTDMA(testLogger(), nil, nil, opts)
	if err != nil {
		t.Fatalf("new tdma: %v", err)
	}

	return td
}

func TestSlotWaitCalendar(t *testing.T) {
	td := newTestTDMA(t, 2)

	// Slot 2 of 4 at 100ms each: the transmit window runs from 195ms
	// (prep margin before the boundary) to 295ms within the 400ms cycle.
	cases := []struct {
		name string
		pos  time.Duration
		want time.Duration
	}{
		{"inside own slot", 200 * time.Millisecond, 0},
		{"margin lead", 196 * time.Millisecond, 0},
		{"end of window", 294 * time.Millisecond, 0},
		{"just past window", 295 * time.Millisecond, 300 * time.Millisecond},
		{"cycle start", 0, 195 * time.Millisecond},
		{"after own slot", 350 * time.Millisecond, 245 * time.Millisecond},
		{"next cycle", 596 * time.Millisecond, 0},
		{"before epoch", -30 * time.Millisecond, 225 * time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			now := td.epoch.Add(tc.pos)
			if got := td.slotWait(now); got != tc.want {
				t.Fatalf("slotWait(%s) = %s, want %s", tc.pos, got, tc.want)
			}
		})
	}
}

func TestSlotWaitWrapsAroundForSlotZero(t *testing.T) {
	td := newTestTDMA(t, 0)

	cases := []struct {
		name string
		pos  time.Duration
		want time.Duration
	}{
		{"margin before cycle wrap", 398 * time.Millisecond, 0},
		{"inside slot zero", 50 * time.Millisecond, 0},
		{"just past window", 96 * time.Millisecond, 299 * time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			now := td.epoch.Add(tc.pos)
			if got := td.slotWait(now); got != tc.want {
				t.Fatalf("slotWait(%s) = %s, want %s", tc.pos, got, tc.want)
			}
		})
	}
}

func TestTDMATransmitsOnlyInsideOwnSlot(t *testing.T) {
	b := newTestBus(t)
	f := newFakeRadio(b)

	opts := testOptions()
	opts.SlotCount = 4
	opts.SlotLen = 100 * time.Millisecond
	opts.OwnSlot = 2
	opts.Epoch = time.Now()

	td, err := NewTDMA(testLogger(), b, f, opts)
	if err != nil {
		t.Fatalf("new tdma: %v", err)
	}

	resCh := td.Send(7, []byte("slotted"))
	startProtocol(t, td)

	res := awaitSend(t, resCh)
	if res.Err != nil {
		t.Fatalf("send failed: %v", res.Err)
	}

	windowStart := 2*opts.SlotLen - slotPrepMargin
	elapsed := f.txTime(t, 0).Sub(opts.Epoch)
	if elapsed < windowStart {
		t.Fatalf("transmitted %s after epoch, before own window at %s", elapsed, windowStart)
	}
	if elapsed >= 3*opts.SlotLen {
		t.Fatalf("transmitted %s after epoch, past own slot", elapsed)
	}

	fr := f.txFrame(t, 0)
	if fr.Proto != ProtoTDMA || fr.Dst != 7 {
		t.Fatalf("transmitted header: %+v", fr)
	}
}
