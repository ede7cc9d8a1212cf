package radio

// SX127x register addresses, LoRa page. Only the documented subset the
// driver contract needs.
const (
	RegFifo          byte = 0x00
	RegOpMode        byte = 0x01
	RegBitrate       byte = 0x02 // 2 bytes, FSK/OOK page
	RegFdev          byte = 0x04 // 2 bytes, FSK page
	RegCarrierFreq   byte = 0x06 // 3 bytes, MSB first
	RegPaConfig      byte = 0x09
	RegOcp           byte = 0x0B
	RegLna           byte = 0x0C
	RegFifoAddrPtr   byte = 0x0D
	RegFifoTxBase    byte = 0x0E
	RegFifoRxBase    byte = 0x0F
	RegFifoRxCurrent byte = 0x10
	RegIrqFlagsMask  byte = 0x11
	RegIrqFlags      byte = 0x12
	RegRxNbBytes     byte = 0x13
	RegPktSnrValue   byte = 0x19
	RegPktRssiValue  byte = 0x1A
	RegModemConfig1  byte = 0x1D
	RegModemConfig2  byte = 0x1E
	RegSymbTimeout   byte = 0x1F
	RegPreambleMsb   byte = 0x20 // 0x21 is LSB
	RegPayloadLength byte = 0x22
	RegModemConfig3  byte = 0x26
	RegSyncWord      byte = 0x39
	RegDioMapping1   byte = 0x40 // 0x41 maps DIO4-5
	RegVersion       byte = 0x42
)

// RegOpMode fields. The low three bits select the device mode; the high
// bits configure the modem and band and survive mode changes.
const (
	OpModeLongRange byte = 0x80 // LoRa when set, FSK/OOK when clear
	OpModeOok       byte = 0x20 // modulation type 01 = OOK (FSK when 00)
	OpModeLowFreq   byte = 0x08 // LF band registers active
	OpModeMask      byte = 0x07

	DevModeSleep   byte = 0x00
	DevModeStandby byte = 0x01
	DevModeFsTx    byte = 0x02
	DevModeTx      byte = 0x03
	DevModeFsRx    byte = 0x04
	DevModeRxCont  byte = 0x05
	DevModeRxOnce  byte = 0x06
	DevModeCad     byte = 0x07
)

// RegIrqFlags bits.
const (
	IrqRxTimeout     byte = 0x80
	IrqRxDone        byte = 0x40
	IrqPayloadCrcErr byte = 0x20
	IrqValidHeader   byte = 0x10
	IrqTxDone        byte = 0x08
	IrqCadDone       byte = 0x04
	IrqFhssChange    byte = 0x02
	IrqCadDetected   byte = 0x01
)

// DIO mapping values for RegDioMapping1, DIO0 field (bits 7-6).
const (
	DioMapDio0RxDone byte = 0x00
	DioMapDio0TxDone byte = 0x40
)

// ChipVersion is what RegVersion reads on an SX127x.
const ChipVersion byte = 0x12

// FIFO base addresses the driver programs before each operation.
const (
	fifoTxBase byte = 0x80
	fifoRxBase byte = 0x00
)

const (
	oscFreqHz = 32e6
	frfShift  = 19
)

// frfFromHz converts a carrier frequency to the 24-bit Frf register value.
func frfFromHz(hz float64) uint32 {
	return uint32(hz*(1<<frfShift)/oscFreqHz + 0.5)
}

func hzFromFrf(frf uint32) float64 {
	return float64(frf) * oscFreqHz / (1 << frfShift)
}

// bitrateReg converts a FSK bit rate to the 16-bit divider register value.
func bitrateReg(bps int) uint16 {
	return uint16(oscFreqHz/float64(bps) + 0.5)
}

// fdevReg converts a FSK frequency deviation in Hz to the register value,
// which shares the Frf step of Fxosc/2^19.
func fdevReg(hz int) uint16 {
	return uint16(float64(hz)*(1<<frfShift)/oscFreqHz+0.5) & 0x3FFF
}

// pktRssiDBm converts RegPktRssiValue to dBm for the HF port.
func pktRssiDBm(raw byte) int {
	return int(raw) - 157
}

// pktSnrDB converts RegPktSnrValue (signed, quarter dB) to dB.
func pktSnrDB(raw byte) float64 {
	return float64(int8(raw)) / 4
}
