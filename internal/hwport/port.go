// Package hwport provides access to SX127x chip registers over several
// physical attachments: direct SPI, a framed register bridge spoken over a
// serial or TCP link, and an in-process simulator. The radio driver only
// sees the Port interface.
package hwport

// Port is the hardware access capability consumed by the radio driver.
// Open must succeed before register traffic; Close is expected exactly once
// at the end of the port's life. Implementations are safe for use from a
// single goroutine at a time.
type Port interface {
	Open() error
	WriteRegister(addr byte, data []byte) error
	ReadRegister(addr byte, n int) ([]byte, error)
	Close() error
}
