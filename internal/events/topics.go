package events

const (
	TopicMode             = "radio.mode"
	TopicSettingsApplied  = "radio.settings.applied"
	TopicSettingsRejected = "radio.settings.rejected"
	TopicTxResult         = "radio.tx.result"
	TopicRxResult         = "radio.rx.result"
	TopicHwFault          = "radio.hw.fault"
	TopicRawFrameIn       = "raw.frame.in"
	TopicRawFrameOut      = "raw.frame.out"
	TopicMacDelivery      = "mac.delivery"
	TopicMacSendResult    = "mac.send.result"
)
