package events

import "time"

// ModeChanged is published whenever the radio state machine settles in a
// new operating mode.
type ModeChanged struct {
	Mode      string
	Timestamp time.Time
}

// SettingsApplied reports a settings category written to hardware.
type SettingsApplied struct {
	Category string
}

// SettingsRejected reports a settings request or write that was refused.
type SettingsRejected struct {
	Category string
	Reason   string
}

// TxResult is the outcome of one transmit request.
type TxResult struct {
	OK  bool
	Err string
}

// RxResult is the outcome of one receive request. Data is nil on error.
// TimedOut distinguishes an expired listen window from a hard failure.
type RxResult struct {
	Data     []byte
	Rssi     int
	Snr      float64
	Err      string
	TimedOut bool
}

// HwFault carries a hardware access failure outside of an active
// transmit/receive operation.
type HwFault struct {
	Op     string
	Detail string
}

// RawFrame carries frame diagnostics for debug/log views.
type RawFrame struct {
	Hex string
	Len int
}

// MacDelivery is a payload the link layer accepted and handed upward.
type MacDelivery struct {
	Src     uint16
	Dst     uint16
	Seq     uint16
	Payload []byte
}

// MacSendResult is the outcome of one link-layer send.
type MacSendResult struct {
	Seq uint16
	OK  bool
	Err string
}
