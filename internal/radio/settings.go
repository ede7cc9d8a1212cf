package radio

import (
	"errors"
	"fmt"
)

// Category identifies one of the three settings groups the driver manages.
type Category uint8

const (
	CategoryModem Category = iota
	CategoryRF
	CategoryModulation
)

// categoryOrder is the fixed apply priority: the modem mode and band must be
// settled before RF parameters that assume a band, and RF before modulation
// tuning.
var categoryOrder = [...]Category{CategoryModem, CategoryRF, CategoryModulation}

func (c Category) String() string {
	switch c {
	case CategoryModem:
		return "modem"
	case CategoryRF:
		return "rf"
	case CategoryModulation:
		return "modulation"
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}

// Setting value constants for the enumerated keys.
const (
	ModulationLoRa = "lora"
	ModulationFSK  = "fsk"
	ModulationOOK  = "ook"

	BandLF = "lf"
	BandHF = "hf"

	PaSelectRFO   = "rfo"
	PaSelectBoost = "pa_boost"
)

// ErrInvalidSetting rejects a settings request with an unknown key or an
// out-of-range value. The store is left untouched.
var ErrInvalidSetting = errors.New("invalid setting")

// validator checks one value and returns its normalized form.
type validator func(v any) (any, error)

func oneOf(allowed ...string) validator {
	return func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("want one of %v, got %T", allowed, v)
		}
		for _, a := range allowed {
			if s == a {
				return s, nil
			}
		}

		return nil, fmt.Errorf("want one of %v, got %q", allowed, s)
	}
}

func intRange(min, max int) validator {
	return func(v any) (any, error) {
		n, ok := v.(int)
		if !ok {
			return nil, fmt.Errorf("want integer %d..%d, got %T", min, max, v)
		}
		if n < min || n > max {
			return nil, fmt.Errorf("want %d..%d, got %d", min, max, n)
		}

		return n, nil
	}
}

func floatRange(min, max float64) validator {
	return func(v any) (any, error) {
		var f float64
		switch n := v.(type) {
		case float64:
			f = n
		case int:
			f = float64(n)
		default:
			return nil, fmt.Errorf("want number %g..%g, got %T", min, max, v)
		}
		if f < min || f > max {
			return nil, fmt.Errorf("want %g..%g, got %g", min, max, f)
		}

		return f, nil
	}
}

func isBool() validator {
	return func(v any) (any, error) {
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("want bool, got %T", v)
		}

		return b, nil
	}
}

// settingSchema lists the recognized keys per category with their ranges.
// Values outside these tables never reach hardware.
var settingSchema = map[Category]map[string]validator{
	CategoryModem: {
		"modulation": oneOf(ModulationLoRa, ModulationFSK, ModulationOOK),
		"lf_mode":    oneOf(BandLF, BandHF),
	},
	CategoryRF: {
		"frequency":    floatRange(137e6, 1020e6),
		"pa_select":    oneOf(PaSelectRFO, PaSelectBoost),
		"max_power":    intRange(0, 7),
		"output_power": intRange(0, 15),
		"ocp_on":       isBool(),
		"ocp_trim":     intRange(0, 27),
		"lna_gain":     intRange(1, 6),
		"lna_boost_lf": intRange(0, 3),
		"lna_boost_hf": isBool(),
	},
	CategoryModulation: {
		"bandwidth":       intRange(0, 9),
		"coding_rate":     intRange(5, 8),
		"implicit_header": isBool(),
		"spread_factor":   intRange(6, 12),
		"crc":             isBool(),
		"symbol_timeout":  intRange(0, 1023),
		"preamble":        intRange(6, 65535),
		"sync_word":       intRange(0, 255),
		"agc_auto":        isBool(),
		"low_data_rate":   isBool(),
		"bitrate":         intRange(1200, 300000),
		"freq_dev":        intRange(600, 200000),
	},
}

// Store holds desired and applied values for the three settings categories.
// A category is dirty whenever any desired key is absent from or different
// in the applied set. The store never touches hardware and is exclusively
// owned by the driver state machine; external callers reach it through
// Driver.RequestSetting, so mutation stays on the dispatch goroutine and the
// store needs no lock of its own.
type Store struct {
	desired map[Category]map[string]any
	applied map[Category]map[string]any
}

func NewStore() *Store {
	s := &Store{
		desired: make(map[Category]map[string]any, len(categoryOrder)),
		applied: make(map[Category]map[string]any, len(categoryOrder)),
	}
	for _, c := range categoryOrder {
		s.desired[c] = make(map[string]any)
		s.applied[c] = make(map[string]any)
	}

	return s
}

// Request validates and merges one key/value into the desired set of the
// category. Re-requesting the applied value leaves the category clean.
func (s *Store) Request(cat Category, key string, value any) error {
	keys, ok := settingSchema[cat]
	if !ok {
		return fmt.Errorf("%w: unknown category %s", ErrInvalidSetting, cat)
	}
	validate, ok := keys[key]
	if !ok {
		return fmt.Errorf("%w: unknown key %q for category %s", ErrInvalidSetting, key, cat)
	}
	normalized, err := validate(value)
	if err != nil {
		return fmt.Errorf("%w: %s.%s: %s", ErrInvalidSetting, cat, key, err)
	}
	s.desired[cat][key] = normalized

	return nil
}

// IsDirty reports whether the category has desired values not yet written
// to hardware.
func (s *Store) IsDirty(cat Category) bool {
	applied := s.applied[cat]
	for key, want := range s.desired[cat] {
		have, ok := applied[key]
		if !ok || have != want {
			return true
		}
	}

	return false
}

// MarkApplied records the desired set as written. Called by the driver only
// immediately after a confirmed hardware write of the category.
func (s *Store) MarkApplied(cat Category) {
	applied := make(map[string]any, len(s.desired[cat]))
	for key, value := range s.desired[cat] {
		applied[key] = value
	}
	s.applied[cat] = applied
}

// Snapshot returns a copy of the desired values for the hardware-write
// routine. Mutating the copy does not affect the store.
func (s *Store) Snapshot(cat Category) map[string]any {
	snap := make(map[string]any, len(s.desired[cat]))
	for key, value := range s.desired[cat] {
		snap[key] = value
	}

	return snap
}

// DirtyCategories lists the dirty categories in apply-priority order.
func (s *Store) DirtyCategories() []Category {
	var dirty []Category
	for _, c := range categoryOrder {
		if s.IsDirty(c) {
			dirty = append(dirty, c)
		}
	}

	return dirty
}
