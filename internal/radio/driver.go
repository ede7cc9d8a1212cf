// Package radio drives an SX127x-family chip through a hierarchical state
// machine. All hardware access goes through a hwport.Port; all outcomes are
// published on the notification bus. The driver owns the settings store and
// writes pending settings to hardware only from the idle-safe drain state.
package radio

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lorahop/sx127xd/internal/bus"
	"github.com/lorahop/sx127xd/internal/events"
	"github.com/lorahop/sx127xd/internal/hsm"
	"github.com/lorahop/sx127xd/internal/hwport"
)

// Operating mode names as published in ModeChanged events.
const (
	ModeSleep   = "sleep"
	ModeStandby = "standby"
	ModeIdling  = "idling"
	ModeFsTx    = "fstx"
	ModeTx      = "tx"
	ModeFsRx    = "fsrx"
	ModeRx      = "rx"
	ModeClosed  = "closed"
)

// MaxPayload is the largest transmit payload one FIFO transaction carries.
const MaxPayload = 255

const defaultTxTimeout = time.Second

var (
	// ErrNotIdleSafe refuses transmit and receive requests while settings
	// are still pending a hardware write.
	ErrNotIdleSafe = errors.New("settings pending, not idle-safe")
	// ErrClosed refuses any operation after shutdown.
	ErrClosed = errors.New("radio closed")
)

// Options configures a Driver.
type Options struct {
	// Initial desired settings per category, validated at construction.
	Initial map[Category]map[string]any
	// TxTimeout bounds one transmission. Defaults to one second.
	TxTimeout time.Duration
	// RxTimeout bounds one receive when BeginRx passes no deadline. Zero
	// listens until a frame arrives.
	RxTimeout time.Duration
	// PollInterval enables IRQ-flag polling for ports without DIO lines
	// (the TCP bridge). Zero disables polling.
	PollInterval time.Duration
}

// Driver is the radio state machine. External callers post signals through
// the public methods; all state, including the settings store, is mutated
// only on the dispatch goroutine.
type Driver struct {
	logger *slog.Logger
	bus    bus.MessageBus
	port   hwport.Port
	store  *Store

	machine   *hsm.Machine
	opTimeout *hsm.TimeEvent
	pollEvent *hsm.TimeEvent

	running *hsm.State
	sleep   *hsm.State
	standby *hsm.State
	idling  *hsm.State
	fsTx    *hsm.State
	txing   *hsm.State
	fsRx    *hsm.State
	rxing   *hsm.State
	closed  *hsm.State

	txTimeout    time.Duration
	rxTimeout    time.Duration
	pollInterval time.Duration

	started    bool
	opFlags    byte
	portOpen   bool
	portClosed bool
	txPayload  []byte
	rxDeadline time.Duration

	done     chan struct{}
	doneOnce sync.Once
}

func New(logger *slog.Logger, eventBus bus.MessageBus, port hwport.Port, opts Options) (*Driver, error) {
	d := &Driver{
		logger:       logger,
		bus:          eventBus,
		port:         port,
		store:        NewStore(),
		txTimeout:    opts.TxTimeout,
		rxTimeout:    opts.RxTimeout,
		pollInterval: opts.PollInterval,
		done:         make(chan struct{}),
	}
	if d.txTimeout <= 0 {
		d.txTimeout = defaultTxTimeout
	}
	for _, cat := range categoryOrder {
		for key, value := range opts.Initial[cat] {
			if err := d.store.Request(cat, key, value); err != nil {
				return nil, fmt.Errorf("initial settings: %w", err)
			}
		}
	}

	d.machine = hsm.New("radio", logger)
	d.opTimeout = hsm.NewTimeEvent(d.machine, sigOpTimeout)
	d.pollEvent = hsm.NewTimeEvent(d.machine, sigPoll)

	d.running = hsm.NewState("running", nil, d.onRunning)
	d.sleep = hsm.NewState("sleep", d.running, d.onSleep)
	d.standby = hsm.NewState("standby", d.running, d.onStandby)
	d.idling = hsm.NewState("idling", d.standby, d.onIdling)
	d.fsTx = hsm.NewState("fstx", d.running, d.onFsTx)
	d.txing = hsm.NewState("tx", d.running, d.onTx)
	d.fsRx = hsm.NewState("fsrx", d.running, d.onFsRx)
	d.rxing = hsm.NewState("rx", d.running, d.onRx)
	d.closed = hsm.NewState("closed", nil, d.onClosed)

	return d, nil
}

// Start performs the initial transition into Sleep. Run calls it; tests may
// call it directly and then drive the machine stepwise.
func (d *Driver) Start() {
	if d.started {
		return
	}
	d.started = true
	d.machine.Init(d.sleep)
}

// Run drives the state machine until the context is cancelled.
func (d *Driver) Run(ctx context.Context) {
	d.Start()
	d.machine.Run(ctx)
}

// Done is closed once the driver has reached its terminal state with the
// port closed.
func (d *Driver) Done() <-chan struct{} { return d.done }

// RequestSetting posts one settings merge. The outcome arrives on the bus
// as SettingsApplied or SettingsRejected.
func (d *Driver) RequestSetting(cat Category, key string, value any) {
	d.machine.Post(hsm.Event{Sig: SigRequestSetting, Data: SettingRequest{Category: cat, Key: key, Value: value}})
}

// BeginTx posts a transmit request for one payload.
func (d *Driver) BeginTx(payload []byte) {
	buf := append([]byte(nil), payload...)
	d.machine.Post(hsm.Event{Sig: SigBeginTx, Data: TxRequest{Payload: buf}})
}

// BeginRx posts a receive request. See RxRequest for timeout semantics.
func (d *Driver) BeginRx(timeout time.Duration) {
	d.machine.Post(hsm.Event{Sig: SigBeginRx, Data: RxRequest{Timeout: timeout}})
}

// Shutdown posts the terminal signal. The port is closed exactly once.
func (d *Driver) Shutdown() {
	d.machine.Post(hsm.Event{Sig: SigShutdown})
}

// PostDIO forwards a rising edge on a DIO pin into the state machine.
func (d *Driver) PostDIO(pin int) {
	switch pin {
	case 0:
		d.machine.Post(hsm.Event{Sig: SigDIO0})
	case 1:
		d.machine.Post(hsm.Event{Sig: SigDIO1})
	case 3:
		d.machine.Post(hsm.Event{Sig: SigDIO3})
	}
}

// NotifyTxDone posts the abstract transmit-complete signal for integrations
// that learn about completion without a DIO edge.
func (d *Driver) NotifyTxDone() {
	d.machine.Post(hsm.Event{Sig: SigTxDone})
}

// NotifyRxDone posts a received payload directly, bypassing the FIFO read.
func (d *Driver) NotifyRxDone(data []byte) {
	buf := append([]byte(nil), data...)
	d.machine.Post(hsm.Event{Sig: SigRxDone, Data: buf})
}

// NotifyHwError surfaces an externally detected hardware failure.
func (d *Driver) NotifyHwError(detail string) {
	d.machine.Post(hsm.Event{Sig: SigHwError, Data: detail})
}

// --- state handlers ---

func (d *Driver) onRunning(e hsm.Event) hsm.Outcome {
	switch e.Sig {
	case hsm.SigEntry, hsm.SigExit, hsm.SigInit:
		return hsm.Handled()
	case SigRequestSetting:
		d.mergeSetting(e)

		return hsm.Handled()
	case SigBeginTx:
		d.publishTxResult(false, fmt.Sprintf("radio busy in %s", d.machine.Current().Name()))

		return hsm.Handled()
	case SigBeginRx:
		d.publishRxError(fmt.Sprintf("radio busy in %s", d.machine.Current().Name()))

		return hsm.Handled()
	case SigHwError:
		detail, _ := e.Data.(string)
		d.publishFault("external", detail)

		return hsm.Handled()
	case SigShutdown:
		switch d.machine.Current() {
		case d.txing:
			d.publishTxResult(false, "aborted by shutdown")
		case d.rxing:
			d.publishRxError("aborted by shutdown")
		}

		return hsm.Tran(d.closed)
	}
	d.logger.Debug("signal ignored", "state", d.machine.Current().Name(), "signal", e.Sig)

	return hsm.Handled()
}

func (d *Driver) onSleep(e hsm.Event) hsm.Outcome {
	switch e.Sig {
	case hsm.SigEntry:
		d.openAndVerify()

		return hsm.Handled()
	case sigWake:
		if !d.portOpen {
			return hsm.Handled()
		}

		return hsm.Tran(d.standby)
	}

	return hsm.Super()
}

// openAndVerify opens the port, checks the silicon version and learns the
// modem flag bits currently in the op-mode register. On a failed probe the
// port is closed again and the machine stays in Sleep, failing all radio
// operations fast.
func (d *Driver) openAndVerify() {
	if err := d.port.Open(); err != nil {
		d.publishFault("open", err.Error())

		return
	}
	d.portOpen = true

	version, err := d.readReg(RegVersion)
	if err == nil && version != ChipVersion {
		err = fmt.Errorf("unexpected chip version 0x%02X", version)
	}
	var opMode byte
	if err == nil {
		opMode, err = d.readReg(RegOpMode)
	}
	if err != nil {
		d.publishFault("probe", err.Error())
		d.closePort()

		return
	}

	d.opFlags = opMode &^ OpModeMask
	if err := d.writeReg(RegOpMode, d.opFlags|DevModeSleep); err != nil {
		d.publishFault("write", err.Error())
	}
	d.logger.Info("radio port open", "version", fmt.Sprintf("0x%02X", version))
	d.publishMode(ModeSleep)
	d.machine.Post(hsm.Event{Sig: sigWake})
}

func (d *Driver) onStandby(e hsm.Event) hsm.Outcome {
	switch e.Sig {
	case hsm.SigEntry:
		if err := d.writeReg(RegOpMode, d.opFlags|DevModeStandby); err != nil {
			d.publishFault("write", err.Error())
		}
		d.publishMode(ModeStandby)

		return hsm.Handled()
	case hsm.SigInit:
		if len(d.store.DirtyCategories()) > 0 {
			return hsm.Tran(d.idling)
		}

		return hsm.Handled()
	case SigRequestSetting:
		if d.mergeSetting(e) && len(d.store.DirtyCategories()) > 0 {
			return hsm.Tran(d.idling)
		}

		return hsm.Handled()
	case SigBeginTx:
		return d.acceptTx(e)
	case SigBeginRx:
		return d.acceptRx(e)
	}

	return hsm.Super()
}

func (d *Driver) onIdling(e hsm.Event) hsm.Outcome {
	switch e.Sig {
	case hsm.SigEntry:
		d.publishMode(ModeIdling)
		d.machine.Post(hsm.Event{Sig: sigDrain})

		return hsm.Handled()
	case sigDrain:
		return d.drainOne()
	case SigRequestSetting:
		if d.mergeSetting(e) {
			d.machine.Post(hsm.Event{Sig: sigDrain})
		}

		return hsm.Handled()
	}

	return hsm.Super()
}

// drainOne applies at most one dirty category, then yields by posting a
// reminder so queued signals interleave between passes. A failed write
// leaves the category dirty and waits for the next external trigger.
func (d *Driver) drainOne() hsm.Outcome {
	dirty := d.store.DirtyCategories()
	if len(dirty) == 0 {
		d.publishMode(ModeStandby)

		return hsm.Tran(d.standby)
	}

	cat := dirty[0]
	d.logger.Debug("applying settings", "category", cat.String())
	if err := d.applyCategory(cat); err != nil {
		d.logger.Error("settings write failed", "category", cat.String(), "error", err)
		d.publish(events.TopicSettingsRejected, events.SettingsRejected{Category: cat.String(), Reason: err.Error()})

		return hsm.Handled()
	}
	d.store.MarkApplied(cat)
	d.publish(events.TopicSettingsApplied, events.SettingsApplied{Category: cat.String()})

	if len(d.store.DirtyCategories()) > 0 {
		d.machine.Post(hsm.Event{Sig: sigDrain})

		return hsm.Handled()
	}
	d.publishMode(ModeStandby)

	return hsm.Tran(d.standby)
}

func (d *Driver) acceptTx(e hsm.Event) hsm.Outcome {
	req, _ := e.Data.(TxRequest)
	if len(req.Payload) == 0 || len(req.Payload) > MaxPayload {
		d.publishTxResult(false, fmt.Sprintf("invalid payload length %d", len(req.Payload)))

		return hsm.Handled()
	}
	if len(d.store.DirtyCategories()) > 0 {
		d.publishTxResult(false, ErrNotIdleSafe.Error())

		return hsm.Handled()
	}
	d.txPayload = append(d.txPayload[:0], req.Payload...)

	return hsm.Tran(d.fsTx)
}

func (d *Driver) acceptRx(e hsm.Event) hsm.Outcome {
	if len(d.store.DirtyCategories()) > 0 {
		d.publishRxError(ErrNotIdleSafe.Error())

		return hsm.Handled()
	}
	req, _ := e.Data.(RxRequest)
	d.rxDeadline = req.Timeout
	if d.rxDeadline == 0 {
		d.rxDeadline = d.rxTimeout
	}

	return hsm.Tran(d.fsRx)
}

func (d *Driver) onFsTx(e hsm.Event) hsm.Outcome {
	switch e.Sig {
	case hsm.SigEntry:
		d.publishMode(ModeFsTx)
		if err := d.writeReg(RegOpMode, d.opFlags|DevModeFsTx); err != nil {
			d.publishFault("write", err.Error())
		}
		d.machine.Post(hsm.Event{Sig: sigWake})

		return hsm.Handled()
	case sigWake:
		if err := d.loadTxFifo(); err != nil {
			d.publishTxResult(false, err.Error())

			return hsm.Tran(d.standby)
		}

		return hsm.Tran(d.txing)
	}

	return hsm.Super()
}

func (d *Driver) loadTxFifo() error {
	if err := d.writeReg(RegDioMapping1, DioMapDio0TxDone); err != nil {
		return fmt.Errorf("dio mapping: %w", err)
	}
	if err := d.writeReg(RegIrqFlags, 0xFF); err != nil {
		return fmt.Errorf("clear irq flags: %w", err)
	}
	if err := d.writeReg(RegFifoTxBase, fifoTxBase); err != nil {
		return fmt.Errorf("fifo tx base: %w", err)
	}
	if err := d.writeReg(RegFifoAddrPtr, fifoTxBase); err != nil {
		return fmt.Errorf("fifo pointer: %w", err)
	}
	if err := d.writeReg(RegPayloadLength, byte(len(d.txPayload))); err != nil {
		return fmt.Errorf("payload length: %w", err)
	}
	if err := d.port.WriteRegister(RegFifo, d.txPayload); err != nil {
		return fmt.Errorf("fifo load: %w", err)
	}

	return nil
}

func (d *Driver) onTx(e hsm.Event) hsm.Outcome {
	switch e.Sig {
	case hsm.SigEntry:
		d.publishMode(ModeTx)
		d.publishRawFrame(events.TopicRawFrameOut, d.txPayload)
		d.opTimeout.Arm(d.txTimeout)
		if d.pollInterval > 0 {
			d.pollEvent.Arm(d.pollInterval)
		}
		if err := d.writeReg(RegOpMode, d.opFlags|DevModeTx); err != nil {
			d.machine.Post(hsm.Event{Sig: SigHwError, Data: fmt.Sprintf("tx mode write: %s", err)})
		}

		return hsm.Handled()
	case SigDIO0, SigTxDone:
		d.finishTx()

		return hsm.Tran(d.standby)
	case sigPoll:
		flags, err := d.readReg(RegIrqFlags)
		if err != nil {
			d.publishTxResult(false, fmt.Sprintf("irq poll: %s", err))

			return hsm.Tran(d.standby)
		}
		if flags&IrqTxDone == 0 {
			d.pollEvent.Arm(d.pollInterval)

			return hsm.Handled()
		}
		_ = d.writeReg(RegIrqFlags, flags)
		d.publishTxResult(true, "")

		return hsm.Tran(d.standby)
	case sigOpTimeout:
		d.publishTxResult(false, "tx timeout")

		return hsm.Tran(d.standby)
	case SigHwError:
		detail, _ := e.Data.(string)
		d.publishTxResult(false, detail)

		return hsm.Tran(d.standby)
	case hsm.SigExit:
		d.opTimeout.Disarm()
		d.pollEvent.Disarm()

		return hsm.Handled()
	}

	return hsm.Super()
}

// finishTx acknowledges the transmit-complete interrupt and reports success.
func (d *Driver) finishTx() {
	if flags, err := d.readReg(RegIrqFlags); err == nil {
		_ = d.writeReg(RegIrqFlags, flags)
	}
	d.publishTxResult(true, "")
}

func (d *Driver) onFsRx(e hsm.Event) hsm.Outcome {
	switch e.Sig {
	case hsm.SigEntry:
		d.publishMode(ModeFsRx)
		if err := d.writeReg(RegOpMode, d.opFlags|DevModeFsRx); err != nil {
			d.publishFault("write", err.Error())
		}
		d.machine.Post(hsm.Event{Sig: sigWake})

		return hsm.Handled()
	case sigWake:
		if err := d.prepRx(); err != nil {
			d.publishRxError(err.Error())

			return hsm.Tran(d.standby)
		}

		return hsm.Tran(d.rxing)
	}

	return hsm.Super()
}

func (d *Driver) prepRx() error {
	if err := d.writeReg(RegDioMapping1, DioMapDio0RxDone); err != nil {
		return fmt.Errorf("dio mapping: %w", err)
	}
	if err := d.writeReg(RegIrqFlags, 0xFF); err != nil {
		return fmt.Errorf("clear irq flags: %w", err)
	}
	if err := d.writeReg(RegFifoRxBase, fifoRxBase); err != nil {
		return fmt.Errorf("fifo rx base: %w", err)
	}
	if err := d.writeReg(RegFifoAddrPtr, fifoRxBase); err != nil {
		return fmt.Errorf("fifo pointer: %w", err)
	}

	return nil
}

func (d *Driver) onRx(e hsm.Event) hsm.Outcome {
	switch e.Sig {
	case hsm.SigEntry:
		d.publishMode(ModeRx)
		if d.rxDeadline > 0 {
			d.opTimeout.Arm(d.rxDeadline)
		}
		if d.pollInterval > 0 {
			d.pollEvent.Arm(d.pollInterval)
		}
		if err := d.writeReg(RegOpMode, d.opFlags|DevModeRxCont); err != nil {
			d.machine.Post(hsm.Event{Sig: SigHwError, Data: fmt.Sprintf("rx mode write: %s", err)})
		}

		return hsm.Handled()
	case SigDIO0:
		return d.finishRx(nil)
	case SigRxDone:
		data, _ := e.Data.([]byte)

		return d.finishRx(data)
	case sigPoll:
		flags, err := d.readReg(RegIrqFlags)
		if err != nil {
			d.publishRxError(fmt.Sprintf("irq poll: %s", err))

			return hsm.Tran(d.standby)
		}
		if flags&IrqRxDone != 0 {
			return d.finishRx(nil)
		}
		if flags&IrqRxTimeout != 0 {
			_ = d.writeReg(RegIrqFlags, flags)
			d.publishRxTimeout()

			return hsm.Tran(d.standby)
		}
		d.pollEvent.Arm(d.pollInterval)

		return hsm.Handled()
	case SigDIO1, SigRxTimeout, sigOpTimeout:
		d.publishRxTimeout()

		return hsm.Tran(d.standby)
	case SigHwError:
		detail, _ := e.Data.(string)
		d.publishRxError(detail)

		return hsm.Tran(d.standby)
	case hsm.SigExit:
		d.opTimeout.Disarm()
		d.pollEvent.Disarm()

		return hsm.Handled()
	}

	return hsm.Super()
}

// finishRx publishes one received payload. A nil argument reads the frame
// out of the chip FIFO; a non-nil one was delivered out of band.
func (d *Driver) finishRx(data []byte) hsm.Outcome {
	if data != nil {
		d.publishRawFrame(events.TopicRawFrameIn, data)
		d.publish(events.TopicRxResult, events.RxResult{Data: data})

		return hsm.Tran(d.standby)
	}

	frame, rssi, snr, err := d.readRxFrame()
	if err != nil {
		d.publishRxError(err.Error())

		return hsm.Tran(d.standby)
	}
	d.publishRawFrame(events.TopicRawFrameIn, frame)
	d.publish(events.TopicRxResult, events.RxResult{Data: frame, Rssi: rssi, Snr: snr})

	return hsm.Tran(d.standby)
}

// readRxFrame drains one packet from the FIFO along with its signal quality.
func (d *Driver) readRxFrame() ([]byte, int, float64, error) {
	flags, err := d.readReg(RegIrqFlags)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("read irq flags: %w", err)
	}
	if err := d.writeReg(RegIrqFlags, flags); err != nil {
		return nil, 0, 0, fmt.Errorf("clear irq flags: %w", err)
	}
	if flags&IrqPayloadCrcErr != 0 {
		return nil, 0, 0, errors.New("payload crc error")
	}

	n, err := d.readReg(RegRxNbBytes)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("read payload length: %w", err)
	}
	if n == 0 {
		return nil, 0, 0, errors.New("empty rx payload")
	}
	addr, err := d.readReg(RegFifoRxCurrent)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("read fifo address: %w", err)
	}
	if err := d.writeReg(RegFifoAddrPtr, addr); err != nil {
		return nil, 0, 0, fmt.Errorf("set fifo pointer: %w", err)
	}
	frame, err := d.port.ReadRegister(RegFifo, int(n))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("fifo read: %w", err)
	}

	rssiRaw, err := d.readReg(RegPktRssiValue)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("read rssi: %w", err)
	}
	snrRaw, err := d.readReg(RegPktSnrValue)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("read snr: %w", err)
	}

	return frame, pktRssiDBm(rssiRaw), pktSnrDB(snrRaw), nil
}

func (d *Driver) onClosed(e hsm.Event) hsm.Outcome {
	switch e.Sig {
	case hsm.SigEntry:
		if d.portOpen && !d.portClosed {
			// best-effort abort of any in-flight radio activity
			_ = d.writeReg(RegOpMode, d.opFlags|DevModeStandby)
		}
		d.closePort()
		d.publishMode(ModeClosed)
		d.doneOnce.Do(func() { close(d.done) })

		return hsm.Handled()
	case SigRequestSetting:
		category := ""
		if req, ok := e.Data.(SettingRequest); ok {
			category = req.Category.String()
		}
		d.publish(events.TopicSettingsRejected, events.SettingsRejected{Category: category, Reason: ErrClosed.Error()})

		return hsm.Handled()
	case SigBeginTx:
		d.publishTxResult(false, ErrClosed.Error())

		return hsm.Handled()
	case SigBeginRx:
		d.publishRxError(ErrClosed.Error())

		return hsm.Handled()
	}

	return hsm.Handled()
}

// --- helpers ---

func (d *Driver) mergeSetting(e hsm.Event) bool {
	req, ok := e.Data.(SettingRequest)
	if !ok {
		return false
	}
	if err := d.store.Request(req.Category, req.Key, req.Value); err != nil {
		d.logger.Warn("setting rejected", "category", req.Category.String(), "key", req.Key, "error", err)
		d.publish(events.TopicSettingsRejected, events.SettingsRejected{Category: req.Category.String(), Reason: err.Error()})

		return false
	}

	return true
}

func (d *Driver) closePort() {
	if d.portClosed {
		return
	}
	d.portClosed = true
	d.portOpen = false
	if err := d.port.Close(); err != nil {
		d.publishFault("close", err.Error())

		return
	}
	d.logger.Info("radio port closed")
}

func (d *Driver) writeReg(addr byte, data ...byte) error {
	return d.port.WriteRegister(addr, data)
}

func (d *Driver) readReg(addr byte) (byte, error) {
	buf, err := d.port.ReadRegister(addr, 1)
	if err != nil {
		return 0, err
	}
	if len(buf) != 1 {
		return 0, fmt.Errorf("register 0x%02X: short read", addr)
	}

	return buf[0], nil
}

func (d *Driver) publish(topic string, payload any) {
	d.bus.Publish(topic, payload)
}

func (d *Driver) publishMode(mode string) {
	d.logger.Debug("mode change", "mode", mode)
	d.publish(events.TopicMode, events.ModeChanged{Mode: mode, Timestamp: time.Now()})
}

func (d *Driver) publishTxResult(ok bool, detail string) {
	d.publish(events.TopicTxResult, events.TxResult{OK: ok, Err: detail})
}

func (d *Driver) publishRxError(detail string) {
	d.publish(events.TopicRxResult, events.RxResult{Err: detail})
}

func (d *Driver) publishRxTimeout() {
	d.publish(events.TopicRxResult, events.RxResult{Err: "rx timeout", TimedOut: true})
}

func (d *Driver) publishFault(op, detail string) {
	d.logger.Error("hardware fault", "op", op, "detail", detail)
	d.publish(events.TopicHwFault, events.HwFault{Op: op, Detail: detail})
}

func (d *Driver) publishRawFrame(topic string, frame []byte) {
	d.publish(topic, events.RawFrame{Hex: hex.EncodeToString(frame), Len: len(frame)})
}
