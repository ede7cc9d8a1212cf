package radio

import (
	"time"

	"github.com/lorahop/sx127xd/internal/hsm"
)

// Inbound driver signals. DIO signals carry hardware pin edges; the rest
// are posted by callers or by the driver's own timers.
const (
	SigRequestSetting hsm.Signal = hsm.SigUser + iota
	SigBeginTx
	SigBeginRx
	SigTxDone
	SigRxDone
	SigRxTimeout
	SigHwError
	SigDIO0
	SigDIO1
	SigDIO3
	SigShutdown

	// internal signals
	sigWake
	sigDrain
	sigOpTimeout
	sigPoll
)

// SettingRequest is the payload of SigRequestSetting.
type SettingRequest struct {
	Category Category
	Key      string
	Value    any
}

// TxRequest is the payload of SigBeginTx.
type TxRequest struct {
	Payload []byte
}

// RxRequest is the payload of SigBeginRx. A zero Timeout uses the driver
// default; a negative one listens until a frame or shutdown.
type RxRequest struct {
	Timeout time.Duration
}
