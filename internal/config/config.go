package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// LinkType identifies which hardware access backend drives the chip.
type LinkType string

const (
	LinkSPI    LinkType = "spi"
	LinkSerial LinkType = "serial"
	LinkTCP    LinkType = "tcp"
	LinkSim    LinkType = "sim"

	DefaultSerialBaud = 115200
	DefaultTCPPort    = 4511

	ProtocolCSMA  = "csma"
	ProtocolTDMA  = "tdma"
	ProtocolFlood = "flood"

	// BroadcastAddr is not assignable to a node.
	BroadcastAddr = 0xFFFF
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
}

// DIOConfig selects the GPIO lines wired to the chip's DIO pins. When it is
// not enabled the driver falls back to IRQ-flag polling. A negative line
// offset leaves that pin unwatched.
type DIOConfig struct {
	Enabled bool   `json:"enabled"`
	Chip    string `json:"chip"`
	DIO0    int    `json:"dio0"`
	DIO1    int    `json:"dio1"`
	DIO3    int    `json:"dio3"`
}

// LinkConfig contains backend-specific connection parameters.
type LinkConfig struct {
	Type       LinkType  `json:"type"`
	SPIDevice  string    `json:"spi_device"`
	SerialPort string    `json:"serial_port"`
	SerialBaud int       `json:"serial_baud"`
	Host       string    `json:"host"`
	Port       int       `json:"port"`
	DIO        DIOConfig `json:"dio"`
}

// RadioConfig carries the initial desired settings per category plus the
// driver's operation timeouts. The setting maps use the same keys the
// settings store validates; unknown keys are rejected at startup.
type RadioConfig struct {
	Modem          map[string]any `json:"modem"`
	RF             map[string]any `json:"rf"`
	Modulation     map[string]any `json:"modulation"`
	TxTimeoutMs    int            `json:"tx_timeout_ms"`
	RxTimeoutMs    int            `json:"rx_timeout_ms"`
	PollIntervalMs int            `json:"poll_interval_ms"`
}

// CSMAConfig tunes the listen-before-talk discipline.
type CSMAConfig struct {
	SenseWindowMs int `json:"sense_window_ms"`
	MaxAttempts   int `json:"max_attempts"`
	BackoffBaseMs int `json:"backoff_base_ms"`
	BackoffMaxMs  int `json:"backoff_max_ms"`
}

// TDMAConfig describes the shared slot calendar.
type TDMAConfig struct {
	SlotCount int   `json:"slot_count"`
	SlotLenMs int   `json:"slot_len_ms"`
	OwnSlot   int   `json:"own_slot"`
	EpochUnix int64 `json:"epoch_unix"`
}

// MacConfig selects and tunes the link-layer protocol.
type MacConfig struct {
	Protocol     string     `json:"protocol"`
	NodeAddr     int        `json:"node_addr"`
	TTL          int        `json:"ttl"`
	IdleWindowMs int        `json:"idle_window_ms"`
	CSMA         CSMAConfig `json:"csma"`
	TDMA         TDMAConfig `json:"tdma"`
}

// StorageConfig controls the on-disk frame log.
type StorageConfig struct {
	FrameLog      bool `json:"frame_log"`
	RetentionDays int  `json:"retention_days"`
}

// AppConfig is the root persisted daemon configuration.
type AppConfig struct {
	Link    LinkConfig    `json:"link"`
	Radio   RadioConfig   `json:"radio"`
	Mac     MacConfig     `json:"mac"`
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`
}

func Default() AppConfig {
	return AppConfig{
		Link: LinkConfig{
			Type:       LinkSim,
			SPIDevice:  "",
			SerialPort: "",
			SerialBaud: DefaultSerialBaud,
			Host:       "127.0.0.1",
			Port:       DefaultTCPPort,
			DIO:        DIOConfig{},
		},
		Radio: RadioConfig{
			Modem: map[string]any{
				"modulation": "lora",
				"lf_mode":    "hf",
			},
			RF: map[string]any{
				"frequency":    868e6,
				"pa_select":    "pa_boost",
				"output_power": 11,
			},
			Modulation: map[string]any{
				"bandwidth":     7,
				"coding_rate":   5,
				"spread_factor": 7,
				"crc":           true,
				"preamble":      8,
				"sync_word":     0x12,
			},
			TxTimeoutMs:    1000,
			RxTimeoutMs:    0,
			PollIntervalMs: 0,
		},
		Mac: MacConfig{
			Protocol:     ProtocolCSMA,
			NodeAddr:     1,
			TTL:          3,
			IdleWindowMs: 250,
			CSMA: CSMAConfig{
				SenseWindowMs: 5,
				MaxAttempts:   5,
				BackoffBaseMs: 20,
				BackoffMaxMs:  500,
			},
			TDMA: TDMAConfig{
				SlotCount: 8,
				SlotLenMs: 100,
				OwnSlot:   0,
				EpochUnix: 0,
			},
		},
		Logging: LoggingConfig{
			Level:     "info",
			LogToFile: true,
		},
		Storage: StorageConfig{
			FrameLog:      true,
			RetentionDays: 14,
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	def := Default()

	if c.Link.Type == "" {
		c.Link.Type = LinkSim
	}
	if c.Link.SerialBaud <= 0 {
		c.Link.SerialBaud = DefaultSerialBaud
	}
	if c.Link.Port <= 0 {
		c.Link.Port = DefaultTCPPort
	}
	c.Link.DIO = normalizeDIO(c.Link.DIO)

	if c.Radio.Modem == nil {
		c.Radio.Modem = def.Radio.Modem
	}
	if c.Radio.RF == nil {
		c.Radio.RF = def.Radio.RF
	}
	if c.Radio.Modulation == nil {
		c.Radio.Modulation = def.Radio.Modulation
	}
	if c.Radio.TxTimeoutMs <= 0 {
		c.Radio.TxTimeoutMs = def.Radio.TxTimeoutMs
	}
	if c.Radio.RxTimeoutMs < 0 {
		c.Radio.RxTimeoutMs = 0
	}
	if c.Radio.PollIntervalMs < 0 {
		c.Radio.PollIntervalMs = 0
	}

	if c.Mac.Protocol == "" {
		c.Mac.Protocol = ProtocolCSMA
	}
	if c.Mac.TTL <= 0 {
		c.Mac.TTL = def.Mac.TTL
	}
	if c.Mac.IdleWindowMs <= 0 {
		c.Mac.IdleWindowMs = def.Mac.IdleWindowMs
	}
	if c.Mac.CSMA.SenseWindowMs <= 0 {
		c.Mac.CSMA.SenseWindowMs = def.Mac.CSMA.SenseWindowMs
	}
	if c.Mac.CSMA.MaxAttempts <= 0 {
		c.Mac.CSMA.MaxAttempts = def.Mac.CSMA.MaxAttempts
	}
	if c.Mac.CSMA.BackoffBaseMs <= 0 {
		c.Mac.CSMA.BackoffBaseMs = def.Mac.CSMA.BackoffBaseMs
	}
	if c.Mac.CSMA.BackoffMaxMs < c.Mac.CSMA.BackoffBaseMs {
		c.Mac.CSMA.BackoffMaxMs = def.Mac.CSMA.BackoffMaxMs
	}
	if c.Mac.TDMA.SlotCount <= 0 {
		c.Mac.TDMA.SlotCount = def.Mac.TDMA.SlotCount
	}
	if c.Mac.TDMA.SlotLenMs <= 0 {
		c.Mac.TDMA.SlotLenMs = def.Mac.TDMA.SlotLenMs
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Storage.RetentionDays < 0 {
		c.Storage.RetentionDays = 0
	}
}

func normalizeDIO(dio DIOConfig) DIOConfig {
	if !dio.Enabled {
		return DIOConfig{}
	}
	if dio.Chip == "" {
		dio.Chip = "gpiochip0"
	}

	return dio
}

func (c AppConfig) Validate() error {
	switch c.Link.Type {
	case LinkSPI:
		if strings.TrimSpace(c.Link.SPIDevice) == "" {
			return errors.New("spi device is required")
		}
	case LinkSerial:
		if strings.TrimSpace(c.Link.SerialPort) == "" {
			return errors.New("serial port is required")
		}
		if c.Link.SerialBaud <= 0 {
			return errors.New("serial baud must be positive")
		}
	case LinkTCP:
		if strings.TrimSpace(c.Link.Host) == "" {
			return errors.New("tcp host is required")
		}
		if c.Link.Port <= 0 || c.Link.Port > 65535 {
			return fmt.Errorf("tcp port out of range: %d", c.Link.Port)
		}
	case LinkSim:
	default:
		return fmt.Errorf("unknown link type: %s", c.Link.Type)
	}

	if c.Mac.NodeAddr < 0 || c.Mac.NodeAddr >= BroadcastAddr {
		return fmt.Errorf("node address out of range: %d", c.Mac.NodeAddr)
	}

	switch c.Mac.Protocol {
	case ProtocolCSMA, ProtocolFlood:
	case ProtocolTDMA:
		if c.Mac.TDMA.OwnSlot < 0 || c.Mac.TDMA.OwnSlot >= c.Mac.TDMA.SlotCount {
			return fmt.Errorf("own slot %d outside calendar of %d slots", c.Mac.TDMA.OwnSlot, c.Mac.TDMA.SlotCount)
		}
	default:
		return fmt.Errorf("unknown mac protocol: %s", c.Mac.Protocol)
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}

// Categories returns the initial settings grouped by category name with
// JSON numbers normalized: integral floats become ints so they satisfy
// integer-ranged setting keys. Keys the file never mentions keep their
// defaults because decoding merges into the default maps.
func (c RadioConfig) Categories() map[string]map[string]any {
	out := make(map[string]map[string]any, 3)
	for name, settings := range map[string]map[string]any{
		"modem":      c.Modem,
		"rf":         c.RF,
		"modulation": c.Modulation,
	} {
		normalized := make(map[string]any, len(settings))
		for key, value := range settings {
			normalized[key] = normalizeNumber(value)
		}
		out[name] = normalized
	}

	return out
}

func normalizeNumber(v any) any {
	f, ok := v.(float64)
	if !ok {
		return v
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int(f)
	}

	return f
}
