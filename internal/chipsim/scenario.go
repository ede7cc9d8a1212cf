package chipsim

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/lorahop/sx127xd/internal/radio"
)

// Scenario shapes a simulated chip: its version byte, how long transmits
// take, injected write failures, and scripted receptions.
type Scenario struct {
	Version    int         `yaml:"version"`
	AirtimeMs  int         `yaml:"airtime_ms"`
	Failures   []Failure   `yaml:"failures"`
	Receptions []Reception `yaml:"receptions"`
}

// Failure makes Count writes to Register fail before traffic recovers.
type Failure struct {
	Register int `yaml:"register"`
	Count    int `yaml:"count"`
}

// Reception schedules a frame arriving off the air AfterMs after scenario
// start, optionally repeating every RepeatMs.
type Reception struct {
	AfterMs    int     `yaml:"after_ms"`
	RepeatMs   int     `yaml:"repeat_ms"`
	PayloadHex string  `yaml:"payload_hex"`
	Rssi       int     `yaml:"rssi"`
	Snr        float64 `yaml:"snr"`
	CrcError   bool    `yaml:"crc_error"`
}

func DefaultScenario() Scenario {
	return Scenario{
		Version:   int(radio.ChipVersion),
		AirtimeMs: int(defaultAirtime / time.Millisecond),
	}
}

func LoadScenario(path string) (Scenario, error) {
	sc := DefaultScenario()
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied scenario path
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return Scenario{}, fmt.Errorf("decode scenario yaml: %w", err)
	}
	if sc.Version < 0 || sc.Version > 255 {
		return Scenario{}, fmt.Errorf("scenario version out of range: %d", sc.Version)
	}
	for i, r := range sc.Receptions {
		if _, err := hex.DecodeString(r.PayloadHex); err != nil {
			return Scenario{}, fmt.Errorf("reception %d payload_hex: %w", i, err)
		}
	}

	return sc, nil
}

// Apply configures the chip from the scenario and starts its reception
// schedule.
func (c *Chip) Apply(sc Scenario) error {
	c.SetVersion(byte(sc.Version))
	if sc.AirtimeMs > 0 {
		c.SetAirtime(time.Duration(sc.AirtimeMs) * time.Millisecond)
	}
	for _, f := range sc.Failures {
		if f.Register < 0 || f.Register >= regCount {
			return fmt.Errorf("failure register out of range: 0x%X", f.Register)
		}
		c.FailNextWrites(byte(f.Register), f.Count)
	}
	for i, r := range sc.Receptions {
		payload, err := hex.DecodeString(r.PayloadHex)
		if err != nil {
			return fmt.Errorf("reception %d payload_hex: %w", i, err)
		}
		c.scheduleReception(payload, r)
	}

	return nil
}

func (c *Chip) scheduleReception(payload []byte, r Reception) {
	var fire func()
	fire = func() {
		c.InjectRx(payload, r.Rssi, r.Snr, !r.CrcError)
		if r.RepeatMs > 0 {
			c.mu.Lock()
			if !c.closed {
				c.timers = append(c.timers, time.AfterFunc(time.Duration(r.RepeatMs)*time.Millisecond, fire))
			}
			c.mu.Unlock()
		}
	}

	c.mu.Lock()
	if !c.closed {
		c.timers = append(c.timers, time.AfterFunc(time.Duration(r.AfterMs)*time.Millisecond, fire))
	}
	c.mu.Unlock()
}
