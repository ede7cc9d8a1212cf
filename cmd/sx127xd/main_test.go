package main

import (
	"strings"
	"testing"
	"time"

	"github.com/lorahop/sx127xd/internal/config"
	"github.com/lorahop/sx127xd/internal/radio"
)

func TestPollInterval(t *testing.T) {
	cases := []struct {
		name    string
		link    config.LinkType
		pollMs  int
		haveDIO bool
		want    time.Duration
	}{
		{"explicit interval wins", config.LinkTCP, 20, true, 20 * time.Millisecond},
		{"dio lines cover completion", config.LinkSPI, 0, true, 0},
		{"sim chip signals itself", config.LinkSim, 0, false, 0},
		{"tcp bridge without dio polls", config.LinkTCP, 0, false, defaultPollInterval},
		{"serial bridge without dio polls", config.LinkSerial, 0, false, defaultPollInterval},
		{"spi without dio polls", config.LinkSPI, 0, false, defaultPollInterval},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Link.Type = tc.link
			cfg.Radio.PollIntervalMs = tc.pollMs
			if got := pollInterval(cfg, tc.haveDIO); got != tc.want {
				t.Fatalf("pollInterval() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMacOptions(t *testing.T) {
	mc := config.MacConfig{
		Protocol:     config.ProtocolTDMA,
		NodeAddr:     7,
		TTL:          2,
		IdleWindowMs: 300,
		CSMA:         config.CSMAConfig{SenseWindowMs: 6, MaxAttempts: 4, BackoffBaseMs: 25, BackoffMaxMs: 400},
		TDMA:         config.TDMAConfig{SlotCount: 10, SlotLenMs: 50, OwnSlot: 3, EpochUnix: 1700000000},
	}

	opts := macOptions(mc)
	if opts.NodeAddr != 7 || opts.TTL != 2 {
		t.Fatalf("addressing: %+v", opts)
	}
	if opts.IdleWindow != 300*time.Millisecond || opts.SenseWindow != 6*time.Millisecond {
		t.Fatalf("windows: %+v", opts)
	}
	if opts.MaxAttempts != 4 || opts.BackoffBase != 25*time.Millisecond || opts.BackoffMax != 400*time.Millisecond {
		t.Fatalf("backoff: %+v", opts)
	}
	if opts.SlotCount != 10 || opts.SlotLen != 50*time.Millisecond || opts.OwnSlot != 3 {
		t.Fatalf("calendar: %+v", opts)
	}
	if !opts.Epoch.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("epoch: %v", opts.Epoch)
	}
}

func TestMacOptionsZeroEpochStaysZero(t *testing.T) {
	opts := macOptions(config.Default().Mac)
	if !opts.Epoch.IsZero() {
		t.Fatalf("expected zero epoch, got %v", opts.Epoch)
	}
}

func TestInitialSettingsKeysByCategory(t *testing.T) {
	initial := initialSettings(config.Default().Radio)
	if got := initial[radio.CategoryModem]["modulation"]; got != "lora" {
		t.Fatalf("modem modulation = %v", got)
	}
	if got := initial[radio.CategoryRF]["frequency"]; got != 868000000 {
		t.Fatalf("rf frequency = %v (%T)", got, got)
	}
	if got := initial[radio.CategoryModulation]["spread_factor"]; got != 7 {
		t.Fatalf("spread factor = %v", got)
	}
}

func TestPreviewHex(t *testing.T) {
	long := strings.Repeat("ab", maxHexPreviewLen)
	if got := previewHex(long); len(got) != maxHexPreviewLen+3 || !strings.HasSuffix(got, "...") {
		t.Fatalf("long preview = %q", got)
	}
	if got := previewHex(" abcd "); got != "abcd" {
		t.Fatalf("short preview = %q", got)
	}
}
