package radio

import "fmt"

// applyCategory writes one category's desired snapshot to hardware. The
// first failed write aborts the routine and leaves the category dirty; a
// retry rewrites the whole category.
func (d *Driver) applyCategory(cat Category) error {
	snap := d.store.Snapshot(cat)
	switch cat {
	case CategoryModem:
		return d.applyModem(snap)
	case CategoryRF:
		return d.applyRF(snap)
	case CategoryModulation:
		return d.applyModulation(snap)
	default:
		return fmt.Errorf("unknown category %s", cat)
	}
}

// applyModem rewrites the modem flag bits of the op-mode register. The
// LongRangeMode bit may only change in sleep, so the write goes through a
// transient sleep and back to standby. This is a register side effect, not
// a mode transition.
func (d *Driver) applyModem(snap map[string]any) error {
	flags := d.opFlags
	if v, ok := snap["modulation"].(string); ok {
		flags &^= OpModeLongRange | OpModeOok
		switch v {
		case ModulationLoRa:
			flags |= OpModeLongRange
		case ModulationOOK:
			flags |= OpModeOok
		}
	}
	if v, ok := snap["lf_mode"].(string); ok {
		flags &^= OpModeLowFreq
		if v == BandLF {
			flags |= OpModeLowFreq
		}
	}

	if err := d.writeReg(RegOpMode, d.opFlags|DevModeSleep); err != nil {
		return fmt.Errorf("enter sleep: %w", err)
	}
	if err := d.writeReg(RegOpMode, flags|DevModeSleep); err != nil {
		return fmt.Errorf("modem flags: %w", err)
	}
	if err := d.writeReg(RegOpMode, flags|DevModeStandby); err != nil {
		return fmt.Errorf("return to standby: %w", err)
	}
	d.opFlags = flags

	return nil
}

// applyRF writes carrier frequency, PA, OCP and LNA configuration. Only
// sub-registers with at least one requested key are touched; fields of a
// touched register that were never requested fall back to power-on values.
func (d *Driver) applyRF(snap map[string]any) error {
	if f, ok := floatFrom(snap, "frequency"); ok {
		frf := frfFromHz(f)
		if err := d.writeReg(RegCarrierFreq, byte(frf>>16), byte(frf>>8), byte(frf)); err != nil {
			return fmt.Errorf("carrier frequency: %w", err)
		}
	}

	if hasAny(snap, "pa_select", "max_power", "output_power") {
		pa := byte(intOr(snap, "max_power", 4))<<4 | byte(intOr(snap, "output_power", 15))&0x0F
		if stringOr(snap, "pa_select", PaSelectRFO) == PaSelectBoost {
			pa |= 0x80
		}
		if err := d.writeReg(RegPaConfig, pa); err != nil {
			return fmt.Errorf("pa config: %w", err)
		}
	}

	if hasAny(snap, "ocp_on", "ocp_trim") {
		ocp := byte(intOr(snap, "ocp_trim", 11)) & 0x1F
		if boolOr(snap, "ocp_on", true) {
			ocp |= 0x20
		}
		if err := d.writeReg(RegOcp, ocp); err != nil {
			return fmt.Errorf("ocp: %w", err)
		}
	}

	if hasAny(snap, "lna_gain", "lna_boost_lf", "lna_boost_hf") {
		lna := byte(intOr(snap, "lna_gain", 1))<<5 | byte(intOr(snap, "lna_boost_lf", 0))<<3
		if boolOr(snap, "lna_boost_hf", false) {
			lna |= 0x03
		}
		if err := d.writeReg(RegLna, lna); err != nil {
			return fmt.Errorf("lna: %w", err)
		}
	}

	return nil
}

// applyModulation writes the modulation tuning registers of whichever modem
// is active. Keys belonging to the other modem's page are skipped.
func (d *Driver) applyModulation(snap map[string]any) error {
	if d.opFlags&OpModeLongRange != 0 {
		return d.applyLoRaModulation(snap)
	}

	return d.applyFskModulation(snap)
}

func (d *Driver) applyLoRaModulation(snap map[string]any) error {
	if hasAny(snap, "bandwidth", "coding_rate", "implicit_header") {
		mc1 := byte(intOr(snap, "bandwidth", 7))<<4 | byte(intOr(snap, "coding_rate", 5)-4)<<1
		if boolOr(snap, "implicit_header", false) {
			mc1 |= 0x01
		}
		if err := d.writeReg(RegModemConfig1, mc1); err != nil {
			return fmt.Errorf("modem config 1: %w", err)
		}
	}

	if hasAny(snap, "spread_factor", "crc", "symbol_timeout") {
		timeout := intOr(snap, "symbol_timeout", 0x64)
		mc2 := byte(intOr(snap, "spread_factor", 7))<<4 | byte(timeout>>8)&0x03
		if boolOr(snap, "crc", false) {
			mc2 |= 0x04
		}
		if err := d.writeReg(RegModemConfig2, mc2); err != nil {
			return fmt.Errorf("modem config 2: %w", err)
		}
		if err := d.writeReg(RegSymbTimeout, byte(timeout)); err != nil {
			return fmt.Errorf("symbol timeout: %w", err)
		}
	}

	if hasAny(snap, "low_data_rate", "agc_auto") {
		var mc3 byte
		if boolOr(snap, "low_data_rate", false) {
			mc3 |= 0x08
		}
		if boolOr(snap, "agc_auto", false) {
			mc3 |= 0x04
		}
		if err := d.writeReg(RegModemConfig3, mc3); err != nil {
			return fmt.Errorf("modem config 3: %w", err)
		}
	}

	if n, ok := intFrom(snap, "preamble"); ok {
		if err := d.writeReg(RegPreambleMsb, byte(n>>8), byte(n)); err != nil {
			return fmt.Errorf("preamble: %w", err)
		}
	}
	if n, ok := intFrom(snap, "sync_word"); ok {
		if err := d.writeReg(RegSyncWord, byte(n)); err != nil {
			return fmt.Errorf("sync word: %w", err)
		}
	}

	return nil
}

func (d *Driver) applyFskModulation(snap map[string]any) error {
	if bps, ok := intFrom(snap, "bitrate"); ok {
		reg := bitrateReg(bps)
		if err := d.writeReg(RegBitrate, byte(reg>>8), byte(reg)); err != nil {
			return fmt.Errorf("bitrate: %w", err)
		}
	}
	if hz, ok := intFrom(snap, "freq_dev"); ok {
		reg := fdevReg(hz)
		if err := d.writeReg(RegFdev, byte(reg>>8), byte(reg)); err != nil {
			return fmt.Errorf("frequency deviation: %w", err)
		}
	}
	if n, ok := intFrom(snap, "preamble"); ok {
		if err := d.writeReg(RegPreambleMsb, byte(n>>8), byte(n)); err != nil {
			return fmt.Errorf("preamble: %w", err)
		}
	}
	if n, ok := intFrom(snap, "sync_word"); ok {
		if err := d.writeReg(RegSyncWord, byte(n)); err != nil {
			return fmt.Errorf("sync word: %w", err)
		}
	}

	return nil
}

// --- snapshot accessors ---

func hasAny(snap map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := snap[k]; ok {
			return true
		}
	}

	return false
}

func intFrom(snap map[string]any, key string) (int, bool) {
	n, ok := snap[key].(int)

	return n, ok
}

func floatFrom(snap map[string]any, key string) (float64, bool) {
	f, ok := snap[key].(float64)

	return f, ok
}

func intOr(snap map[string]any, key string, def int) int {
	if n, ok := snap[key].(int); ok {
		return n
	}

	return def
}

func boolOr(snap map[string]any, key string, def bool) bool {
	if b, ok := snap[key].(bool); ok {
		return b
	}

	return def
}

func stringOr(snap map[string]any, key string, def string) string {
	if s, ok := snap[key].(string); ok {
		return s
	}

	return def
}
