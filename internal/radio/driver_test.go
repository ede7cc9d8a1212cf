package radio

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/lorahop/sx127xd/internal/bus"
	"github.com/lorahop/sx127xd/internal/events"
)

type regWrite struct {
	addr byte
	data []byte
}

// fakePort records register writes and serves scripted register reads.
// Reads never see written data, so tests stay in control of both sides.
type fakePort struct {
	opened        int
	closedCount   int
	writes        []regWrite
	writeAttempts map[byte]int
	regs          map[byte][]byte
	failOpen      error
	failWrite     map[byte]error
	failRead      map[byte]error
}

func newFakePort() *fakePort {
	return &fakePort{
		writeAttempts: map[byte]int{},
		regs: map[byte][]byte{
			RegVersion: {ChipVersion},
			RegOpMode:  {0x09},
		},
		failWrite: map[byte]error{},
		failRead:  map[byte]error{},
	}
}

func (p *fakePort) Open() error {
	if p.failOpen != nil {
		return p.failOpen
	}
	p.opened++

	return nil
}

func (p *fakePort) WriteRegister(addr byte, data []byte) error {
	p.writeAttempts[addr]++
	if err := p.failWrite[addr]; err != nil {
		return err
	}
	p.writes = append(p.writes, regWrite{addr: addr, data: append([]byte(nil), data...)})

	return nil
}

func (p *fakePort) ReadRegister(addr byte, n int) ([]byte, error) {
	if err := p.failRead[addr]; err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, p.regs[addr])

	return out, nil
}

func (p *fakePort) Close() error {
	p.closedCount++

	return nil
}

func (p *fakePort) setReg(addr byte, data ...byte) {
	p.regs[addr] = data
}

func (p *fakePort) opModeWrites() []byte {
	var out []byte
	for _, w := range p.writes {
		if w.addr == RegOpMode && len(w.data) == 1 {
			out = append(out, w.data[0])
		}
	}

	return out
}

type busEvent struct {
	topic   string
	payload any
}

// recordingBus captures published events synchronously in order.
type recordingBus struct {
	events []busEvent
}

func (b *recordingBus) Publish(topic string, msg any) {
	b.events = append(b.events, busEvent{topic: topic, payload: msg})
}

func (b *recordingBus) Subscribe(topics ...string) bus.Subscription { return nil }

func (b *recordingBus) Unsubscribe(ch bus.Subscription, topics ...string) {}

func (b *recordingBus) Close() {}

func (b *recordingBus) byTopic(topic string) []any {
	var out []any
	for _, e := range b.events {
		if e.topic == topic {
			out = append(out, e.payload)
		}
	}

	return out
}

func (b *recordingBus) modes() []string {
	var out []string
	for _, e := range b.byTopic(events.TopicMode) {
		out = append(out, e.(events.ModeChanged).Mode)
	}

	return out
}

func (b *recordingBus) txResults() []events.TxResult {
	var out []events.TxResult
	for _, e := range b.byTopic(events.TopicTxResult) {
		out = append(out, e.(events.TxResult))
	}

	return out
}

func (b *recordingBus) rxResults() []events.RxResult {
	var out []events.RxResult
	for _, e := range b.byTopic(events.TopicRxResult) {
		out = append(out, e.(events.RxResult))
	}

	return out
}

func (b *recordingBus) appliedCategories() []string {
	var out []string
	for _, e := range b.byTopic(events.TopicSettingsApplied) {
		out = append(out, e.(events.SettingsApplied).Category)
	}

	return out
}

func (b *recordingBus) rejections() []events.SettingsRejected {
	var out []events.SettingsRejected
	for _, e := range b.byTopic(events.TopicSettingsRejected) {
		out = append(out, e.(events.SettingsRejected))
	}

	return out
}

func newTestDriver(t *testing.T, port *fakePort, opts Options) (*Driver, *recordingBus) {
	t.Helper()
	rb := &recordingBus{}
	d, err := New(slog.New(slog.NewTextHandler(io.Discard, nil)), rb, port, opts)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}

	return d, rb
}

// settle processes queued signals until the machine is quiescent.
func settle(d *Driver) {
	for d.machine.Step() {
	}
}

// stepUntil keeps stepping while events remain until cond holds.
func stepUntil(t *testing.T, d *Driver, cond func() bool) {
	t.Helper()
	for !cond() {
		if !d.machine.Step() {
			t.Fatalf("queue drained before condition held")
		}
	}
}

func modemLoRaHF() map[Category]map[string]any {
	return map[Category]map[string]any{
		CategoryModem: {"modulation": ModulationLoRa, "lf_mode": BandHF},
	}
}

func TestStartupAppliesInitialModemSettings(t *testing.T) {
	port := newFakePort()
	d, rb := newTestDriver(t, port, Options{Initial: modemLoRaHF()})
	d.Start()
	settle(d)

	want := []string{ModeSleep, ModeStandby, ModeIdling, ModeStandby}
	got := rb.modes()
	if len(got) != len(want) {
		t.Fatalf("mode sequence: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("mode sequence: got %v want %v", got, want)
		}
	}

	applied := rb.appliedCategories()
	if len(applied) != 1 || applied[0] != "modem" {
		t.Fatalf("applied categories: got %v want [modem]", applied)
	}

	for _, m := range port.opModeWrites() {
		switch m & OpModeMask {
		case DevModeFsTx, DevModeTx, DevModeFsRx, DevModeRxCont, DevModeRxOnce:
			t.Fatalf("unexpected tx/rx activity: op-mode write 0x%02X", m)
		}
	}

	modes := port.opModeWrites()
	last := modes[len(modes)-1]
	if last != OpModeLongRange|DevModeStandby {
		t.Fatalf("final op-mode: got 0x%02X want 0x%02X", last, OpModeLongRange|DevModeStandby)
	}
}

func TestStartupWithCleanStoreSkipsIdling(t *testing.T) {
	port := newFakePort()
	d, rb := newTestDriver(t, port, Options{})
	d.Start()
	settle(d)

	got := rb.modes()
	if len(got) != 2 || got[0] != ModeSleep || got[1] != ModeStandby {
		t.Fatalf("mode sequence: got %v want [sleep standby]", got)
	}
	if d.machine.Current() != d.standby {
		t.Fatalf("expected standby, got %s", d.machine.Current().Name())
	}
}

func TestBeginTxRefusedWhileDirty(t *testing.T) {
	port := newFakePort()
	port.failWrite[RegCarrierFreq] = errors.New("bus glitch")
	d, rb := newTestDriver(t, port, Options{
		Initial: map[Category]map[string]any{
			CategoryRF: {"frequency": 915e6},
		},
	})
	d.Start()
	settle(d)

	if d.machine.Current() != d.idling {
		t.Fatalf("expected idling after failed apply, got %s", d.machine.Current().Name())
	}

	before := len(port.writes)
	d.BeginTx([]byte{0x01})
	d.BeginRx(0)
	settle(d)

	results := rb.txResults()
	if len(results) != 1 || results[0].OK || results[0].Err != ErrNotIdleSafe.Error() {
		t.Fatalf("tx results: got %+v", results)
	}
	rx := rb.rxResults()
	if len(rx) != 1 || rx[0].Err != ErrNotIdleSafe.Error() {
		t.Fatalf("rx results: got %+v", rx)
	}

	for _, w := range port.writes[before:] {
		if w.addr == RegOpMode {
			switch w.data[0] & OpModeMask {
			case DevModeFsTx, DevModeFsRx:
				t.Fatalf("frequency synthesis write despite dirty settings")
			}
		}
	}
}

func TestIdlingDrainsInPriorityOrder(t *testing.T) {
	port := newFakePort()
	d, rb := newTestDriver(t, port, Options{
		Initial: map[Category]map[string]any{
			CategoryModem:      {"modulation": ModulationLoRa, "lf_mode": BandHF},
			CategoryRF:         {"frequency": 868e6, "output_power": 10},
			CategoryModulation: {"spread_factor": 9, "crc": true},
		},
	})
	d.Start()
	settle(d)

	applied := rb.appliedCategories()
	want := []string{"modem", "rf", "modulation"}
	if len(applied) != len(want) {
		t.Fatalf("applied: got %v want %v", applied, want)
	}
	for i := range want {
		if applied[i] != want[i] {
			t.Fatalf("applied: got %v want %v", applied, want)
		}
	}

	idxFreq, idxMC2, idxModem := -1, -1, -1
	for i, w := range port.writes {
		switch {
		case w.addr == RegCarrierFreq && idxFreq < 0:
			idxFreq = i
		case w.addr == RegModemConfig2 && idxMC2 < 0:
			idxMC2 = i
		case w.addr == RegOpMode && w.data[0] == OpModeLongRange|DevModeStandby && idxModem < 0:
			idxModem = i
		}
	}
	if idxModem < 0 || idxFreq < 0 || idxMC2 < 0 {
		t.Fatalf("missing writes: modem=%d freq=%d mc2=%d", idxModem, idxFreq, idxMC2)
	}
	if !(idxModem < idxFreq && idxFreq < idxMC2) {
		t.Fatalf("write order: modem=%d freq=%d mc2=%d", idxModem, idxFreq, idxMC2)
	}
}

func TestExternalSignalInterleavesDrainPasses(t *testing.T) {
	port := newFakePort()
	d, rb := newTestDriver(t, port, Options{
		Initial: map[Category]map[string]any{
			CategoryModem:      {"modulation": ModulationLoRa},
			CategoryRF:         {"frequency": 868e6},
			CategoryModulation: {"spread_factor": 9},
		},
	})
	d.Start()
	stepUntil(t, d, func() bool { return len(rb.appliedCategories()) == 1 })

	// Posted between drain passes; must be examined before the drain
	// finishes, and refused because modulation is still dirty.
	d.BeginRx(0)
	settle(d)

	rx := rb.rxResults()
	if len(rx) != 1 || rx[0].Err != ErrNotIdleSafe.Error() {
		t.Fatalf("rx results: got %+v", rx)
	}
	if len(rb.appliedCategories()) != 3 {
		t.Fatalf("applied categories: got %v", rb.appliedCategories())
	}

	rxIdx, modulationIdx := -1, -1
	for i, e := range rb.events {
		switch p := e.payload.(type) {
		case events.RxResult:
			rxIdx = i
		case events.SettingsApplied:
			if p.Category == "modulation" {
				modulationIdx = i
			}
		}
	}
	if rxIdx < 0 || modulationIdx < 0 || rxIdx > modulationIdx {
		t.Fatalf("refusal at %d must precede modulation apply at %d", rxIdx, modulationIdx)
	}
}

func TestReapplyingSameValueDoesNothing(t *testing.T) {
	port := newFakePort()
	d, rb := newTestDriver(t, port, Options{
		Initial: map[Category]map[string]any{
			CategoryRF: {"frequency": 915e6},
		},
	})
	d.Start()
	settle(d)

	if got := rb.appliedCategories(); len(got) != 1 || got[0] != "rf" {
		t.Fatalf("applied: got %v", got)
	}
	before := len(port.writes)

	d.RequestSetting(CategoryRF, "frequency", 915e6)
	settle(d)

	if got := rb.appliedCategories(); len(got) != 1 {
		t.Fatalf("re-requesting an applied value must not re-apply: %v", got)
	}
	if len(port.writes) != before {
		t.Fatalf("unexpected writes: %v", port.writes[before:])
	}
	if n := len(rb.rejections()); n != 0 {
		t.Fatalf("unexpected rejections: %d", n)
	}
}

func TestFailedApplyLeavesCategoryDirtyWithoutRetry(t *testing.T) {
	port := newFakePort()
	port.failWrite[RegCarrierFreq] = errors.New("bus glitch")
	d, rb := newTestDriver(t, port, Options{
		Initial: map[Category]map[string]any{
			CategoryRF: {"frequency": 915e6},
		},
	})
	d.Start()
	settle(d)

	rejected := rb.rejections()
	if len(rejected) != 1 || !strings.Contains(rejected[0].Reason, "bus glitch") {
		t.Fatalf("rejections: got %+v", rejected)
	}
	if len(rb.appliedCategories()) != 0 {
		t.Fatalf("nothing must be marked applied after a failed write")
	}
	if got := port.writeAttempts[RegCarrierFreq]; got != 1 {
		t.Fatalf("carrier write attempts: got %d want 1", got)
	}
	if d.machine.Current() != d.idling {
		t.Fatalf("expected idling, got %s", d.machine.Current().Name())
	}

	// The next external trigger re-attempts the write.
	delete(port.failWrite, RegCarrierFreq)
	d.RequestSetting(CategoryRF, "frequency", 915e6)
	settle(d)

	if got := rb.appliedCategories(); len(got) != 1 || got[0] != "rf" {
		t.Fatalf("applied after retry: got %v", got)
	}
	if d.machine.Current() != d.standby {
		t.Fatalf("expected standby after drain, got %s", d.machine.Current().Name())
	}
}

func driveToTx(t *testing.T, d *Driver, payload []byte) {
	t.Helper()
	d.BeginTx(payload)
	settle(d)
	if d.machine.Current() != d.txing {
		t.Fatalf("expected tx, got %s", d.machine.Current().Name())
	}
}

func driveToRx(t *testing.T, d *Driver, timeout time.Duration) {
	t.Helper()
	d.BeginRx(timeout)
	settle(d)
	if d.machine.Current() != d.rxing {
		t.Fatalf("expected rx, got %s", d.machine.Current().Name())
	}
}

func TestShutdownClosesPortExactlyOnce(t *testing.T) {
	t.Run("from standby", func(t *testing.T) {
		port := newFakePort()
		d, rb := newTestDriver(t, port, Options{})
		d.Start()
		settle(d)

		d.Shutdown()
		settle(d)

		if port.closedCount != 1 {
			t.Fatalf("close calls: got %d want 1", port.closedCount)
		}
		modes := rb.modes()
		if modes[len(modes)-1] != ModeClosed {
			t.Fatalf("final mode: got %v", modes)
		}
		select {
		case <-d.Done():
		default:
			t.Fatalf("done channel not closed")
		}
	})

	t.Run("twice", func(t *testing.T) {
		port := newFakePort()
		d, _ := newTestDriver(t, port, Options{})
		d.Start()
		settle(d)

		d.Shutdown()
		d.Shutdown()
		settle(d)

		if port.closedCount != 1 {
			t.Fatalf("close calls: got %d want 1", port.closedCount)
		}
	})

	t.Run("from tx aborts the transmission", func(t *testing.T) {
		port := newFakePort()
		d, rb := newTestDriver(t, port, Options{})
		d.Start()
		settle(d)
		driveToTx(t, d, []byte{0x01, 0x02})

		d.Shutdown()
		settle(d)

		results := rb.txResults()
		if len(results) != 1 || results[0].OK || !strings.Contains(results[0].Err, "shutdown") {
			t.Fatalf("tx results: got %+v", results)
		}
		if port.closedCount != 1 {
			t.Fatalf("close calls: got %d want 1", port.closedCount)
		}
	})

	t.Run("from rx aborts the receive", func(t *testing.T) {
		port := newFakePort()
		d, rb := newTestDriver(t, port, Options{})
		d.Start()
		settle(d)
		driveToRx(t, d, -1)

		d.Shutdown()
		settle(d)

		rx := rb.rxResults()
		if len(rx) != 1 || !strings.Contains(rx[0].Err, "shutdown") {
			t.Fatalf("rx results: got %+v", rx)
		}
		if port.closedCount != 1 {
			t.Fatalf("close calls: got %d want 1", port.closedCount)
		}
	})

	t.Run("after failed probe", func(t *testing.T) {
		port := newFakePort()
		port.setReg(RegVersion, 0x00)
		d, _ := newTestDriver(t, port, Options{})
		d.Start()
		settle(d)

		if port.closedCount != 1 {
			t.Fatalf("close calls after probe failure: got %d want 1", port.closedCount)
		}
		d.Shutdown()
		settle(d)
		if port.closedCount != 1 {
			t.Fatalf("close calls after shutdown: got %d want 1", port.closedCount)
		}
	})
}

func TestSettingRequestDuringTxStaysDirtyUntilAfterTx(t *testing.T) {
	port := newFakePort()
	d, rb := newTestDriver(t, port, Options{})
	d.Start()
	settle(d)
	driveToTx(t, d, []byte{0xAA})

	before := len(port.writes)
	d.RequestSetting(CategoryRF, "frequency", 915e6)
	settle(d)

	if d.machine.Current() != d.txing {
		t.Fatalf("request must not leave tx, got %s", d.machine.Current().Name())
	}
	if !d.store.IsDirty(CategoryRF) {
		t.Fatalf("rf must stay dirty during tx")
	}
	for _, w := range port.writes[before:] {
		if w.addr == RegCarrierFreq {
			t.Fatalf("carrier frequency written during tx")
		}
	}

	d.PostDIO(0)
	settle(d)

	results := rb.txResults()
	if len(results) != 1 || !results[0].OK {
		t.Fatalf("tx result affected by pending setting: %+v", results)
	}
	if got := rb.appliedCategories(); len(got) != 1 || got[0] != "rf" {
		t.Fatalf("rf must be applied after tx: %v", got)
	}
	found := false
	for _, w := range port.writes {
		if w.addr == RegCarrierFreq {
			found = true
		}
	}
	if !found {
		t.Fatalf("carrier frequency never written")
	}
}

func TestTransmitWritesFifoAndReportsResult(t *testing.T) {
	port := newFakePort()
	d, rb := newTestDriver(t, port, Options{})
	d.Start()
	settle(d)

	payload := []byte{0xDE, 0xAD, 0xBF}
	driveToTx(t, d, payload)

	var gotLen, gotFifo, gotMapping bool
	for _, w := range port.writes {
		switch w.addr {
		case RegPayloadLength:
			gotLen = w.data[0] == byte(len(payload))
		case RegFifo:
			gotFifo = string(w.data) == string(payload)
		case RegDioMapping1:
			gotMapping = w.data[0] == DioMapDio0TxDone
		}
	}
	if !gotLen || !gotFifo || !gotMapping {
		t.Fatalf("tx setup incomplete: len=%t fifo=%t mapping=%t", gotLen, gotFifo, gotMapping)
	}

	raw := rb.byTopic(events.TopicRawFrameOut)
	if len(raw) != 1 || raw[0].(events.RawFrame).Hex != "deadbf" {
		t.Fatalf("raw frame out: got %+v", raw)
	}

	d.PostDIO(0)
	settle(d)

	results := rb.txResults()
	if len(results) != 1 || !results[0].OK {
		t.Fatalf("tx results: got %+v", results)
	}
	if d.machine.Current() != d.standby {
		t.Fatalf("expected standby after tx, got %s", d.machine.Current().Name())
	}
}

func TestBeginTxRejectsInvalidPayload(t *testing.T) {
	port := newFakePort()
	d, rb := newTestDriver(t, port, Options{})
	d.Start()
	settle(d)

	d.BeginTx(nil)
	d.BeginTx(make([]byte, MaxPayload+1))
	settle(d)

	results := rb.txResults()
	if len(results) != 2 {
		t.Fatalf("tx results: got %+v", results)
	}
	for _, r := range results {
		if r.OK || !strings.Contains(r.Err, "invalid payload length") {
			t.Fatalf("tx result: got %+v", r)
		}
	}
	if d.machine.Current() != d.standby {
		t.Fatalf("expected standby, got %s", d.machine.Current().Name())
	}
}

func TestTransmitTimesOutWithoutTxDone(t *testing.T) {
	port := newFakePort()
	d, rb := newTestDriver(t, port, Options{TxTimeout: 30 * time.Millisecond})
	d.Start()
	settle(d)
	driveToTx(t, d, []byte{0x01})

	deadline := time.Now().Add(2 * time.Second)
	for len(rb.txResults()) == 0 && time.Now().Before(deadline) {
		if !d.machine.Step() {
			time.Sleep(time.Millisecond)
		}
	}

	results := rb.txResults()
	if len(results) != 1 || results[0].OK || results[0].Err != "tx timeout" {
		t.Fatalf("tx results: got %+v", results)
	}
	if d.machine.Current() != d.standby {
		t.Fatalf("expected standby after timeout, got %s", d.machine.Current().Name())
	}
}

func TestTransmitCompletesViaIrqPolling(t *testing.T) {
	port := newFakePort()
	d, rb := newTestDriver(t, port, Options{PollInterval: 5 * time.Millisecond})
	d.Start()
	settle(d)
	driveToTx(t, d, []byte{0x01})

	port.setReg(RegIrqFlags, IrqTxDone)

	deadline := time.Now().Add(2 * time.Second)
	for len(rb.txResults()) == 0 && time.Now().Before(deadline) {
		if !d.machine.Step() {
			time.Sleep(time.Millisecond)
		}
	}

	results := rb.txResults()
	if len(results) != 1 || !results[0].OK {
		t.Fatalf("tx results: got %+v", results)
	}
}

func TestReceiveReadsFrameAndSignalQuality(t *testing.T) {
	port := newFakePort()
	d, rb := newTestDriver(t, port, Options{})
	d.Start()
	settle(d)
	driveToRx(t, d, -1)

	port.setReg(RegIrqFlags, IrqRxDone|IrqValidHeader)
	port.setReg(RegRxNbBytes, 3)
	port.setReg(RegFifoRxCurrent, 0x00)
	port.setReg(RegFifo, 0x01, 0x02, 0x03)
	port.setReg(RegPktRssiValue, 57)
	port.setReg(RegPktSnrValue, 0x28)

	d.PostDIO(0)
	settle(d)

	rx := rb.rxResults()
	if len(rx) != 1 {
		t.Fatalf("rx results: got %+v", rx)
	}
	got := rx[0]
	if got.Err != "" {
		t.Fatalf("rx error: %s", got.Err)
	}
	if string(got.Data) != string([]byte{0x01, 0x02, 0x03}) {
		t.Fatalf("rx data: got %x", got.Data)
	}
	if got.Rssi != -100 {
		t.Fatalf("rssi: got %d want -100", got.Rssi)
	}
	if got.Snr != 10 {
		t.Fatalf("snr: got %g want 10", got.Snr)
	}
	if d.machine.Current() != d.standby {
		t.Fatalf("expected standby after rx, got %s", d.machine.Current().Name())
	}
}

func TestReceiveRejectsCrcError(t *testing.T) {
	port := newFakePort()
	d, rb := newTestDriver(t, port, Options{})
	d.Start()
	settle(d)
	driveToRx(t, d, -1)

	port.setReg(RegIrqFlags, IrqRxDone|IrqPayloadCrcErr)

	d.PostDIO(0)
	settle(d)

	rx := rb.rxResults()
	if len(rx) != 1 || !strings.Contains(rx[0].Err, "crc") {
		t.Fatalf("rx results: got %+v", rx)
	}
	if rx[0].Data != nil {
		t.Fatalf("crc failure must not deliver data")
	}
}

func TestReceiveTimesOut(t *testing.T) {
	port := newFakePort()
	d, rb := newTestDriver(t, port, Options{})
	d.Start()
	settle(d)
	driveToRx(t, d, 30*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for len(rb.rxResults()) == 0 && time.Now().Before(deadline) {
		if !d.machine.Step() {
			time.Sleep(time.Millisecond)
		}
	}

	rx := rb.rxResults()
	if len(rx) != 1 || rx[0].Err != "rx timeout" {
		t.Fatalf("rx results: got %+v", rx)
	}
	if !rx[0].TimedOut {
		t.Fatal("timeout result not flagged as timed out")
	}
	if d.machine.Current() != d.standby {
		t.Fatalf("expected standby after timeout, got %s", d.machine.Current().Name())
	}
}

func TestOutOfBandRxDoneDeliversPayload(t *testing.T) {
	port := newFakePort()
	d, rb := newTestDriver(t, port, Options{})
	d.Start()
	settle(d)
	driveToRx(t, d, -1)

	d.NotifyRxDone([]byte{0x0A, 0x0B})
	settle(d)

	rx := rb.rxResults()
	if len(rx) != 1 || rx[0].Err != "" || string(rx[0].Data) != string([]byte{0x0A, 0x0B}) {
		t.Fatalf("rx results: got %+v", rx)
	}
}

func TestProbeRejectsWrongChipVersion(t *testing.T) {
	port := newFakePort()
	port.setReg(RegVersion, 0x13)
	d, rb := newTestDriver(t, port, Options{})
	d.Start()
	settle(d)

	faults := rb.byTopic(events.TopicHwFault)
	if len(faults) != 1 {
		t.Fatalf("faults: got %+v", faults)
	}
	fault := faults[0].(events.HwFault)
	if fault.Op != "probe" || !strings.Contains(fault.Detail, "0x13") {
		t.Fatalf("fault: got %+v", fault)
	}
	if port.closedCount != 1 {
		t.Fatalf("port must be closed after probe failure, close calls %d", port.closedCount)
	}
	if d.machine.Current() != d.sleep {
		t.Fatalf("expected sleep, got %s", d.machine.Current().Name())
	}

	d.BeginTx([]byte{0x01})
	settle(d)
	results := rb.txResults()
	if len(results) != 1 || results[0].OK {
		t.Fatalf("tx must fail fast after probe failure: %+v", results)
	}
}

func TestClosedRejectsAllRequests(t *testing.T) {
	port := newFakePort()
	d, rb := newTestDriver(t, port, Options{})
	d.Start()
	settle(d)
	d.Shutdown()
	settle(d)

	d.RequestSetting(CategoryModem, "modulation", ModulationLoRa)
	d.BeginTx([]byte{0x01})
	d.BeginRx(0)
	settle(d)

	rejected := rb.rejections()
	if len(rejected) != 1 || rejected[0].Reason != ErrClosed.Error() {
		t.Fatalf("rejections: got %+v", rejected)
	}
	results := rb.txResults()
	if len(results) != 1 || results[0].Err != ErrClosed.Error() {
		t.Fatalf("tx results: got %+v", results)
	}
	rx := rb.rxResults()
	if len(rx) != 1 || rx[0].Err != ErrClosed.Error() {
		t.Fatalf("rx results: got %+v", rx)
	}
	if port.closedCount != 1 {
		t.Fatalf("close calls: got %d want 1", port.closedCount)
	}
}

func TestRequestSettingRejectsUnknownKey(t *testing.T) {
	port := newFakePort()
	d, rb := newTestDriver(t, port, Options{})
	d.Start()
	settle(d)

	d.RequestSetting(CategoryRF, "antenna_gain", 3)
	settle(d)

	rejected := rb.rejections()
	if len(rejected) != 1 || !strings.Contains(rejected[0].Reason, "unknown key") {
		t.Fatalf("rejections: got %+v", rejected)
	}
	for _, m := range rb.modes() {
		if m == ModeIdling {
			t.Fatalf("rejected request must not trigger a drain: %v", rb.modes())
		}
	}
}

func TestNewRejectsInvalidInitialSettings(t *testing.T) {
	rb := &recordingBus{}
	_, err := New(slog.New(slog.NewTextHandler(io.Discard, nil)), rb, newFakePort(), Options{
		Initial: map[Category]map[string]any{
			CategoryRF: {"output_power": 99},
		},
	})
	if !errors.Is(err, ErrInvalidSetting) {
		t.Fatalf("expected ErrInvalidSetting, got %v", err)
	}
}
