package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/lorahop/sx127xd/internal/app"
	"github.com/lorahop/sx127xd/internal/bus"
	"github.com/lorahop/sx127xd/internal/chipsim"
	"github.com/lorahop/sx127xd/internal/config"
	"github.com/lorahop/sx127xd/internal/dio"
	"github.com/lorahop/sx127xd/internal/events"
	"github.com/lorahop/sx127xd/internal/framelog"
	"github.com/lorahop/sx127xd/internal/hwport"
	"github.com/lorahop/sx127xd/internal/logging"
	"github.com/lorahop/sx127xd/internal/mac"
	"github.com/lorahop/sx127xd/internal/platform"
	"github.com/lorahop/sx127xd/internal/radio"
)

const (
	defaultPollInterval = 50 * time.Millisecond
	driverStopTimeout   = 3 * time.Second
	maxHexPreviewLen    = 64
)

func main() {
	if err := run(); err != nil {
		slog.Error("run daemon", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "config file path (default: user config dir)")
	linkType := flag.String("link", "", "override link type (spi, serial, tcp, sim)")
	clearLog := flag.Bool("clear-framelog", false, "clear the stored frame log and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(app.Name, app.BuildVersionWithDate())
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := app.ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	cfgFile := paths.ConfigFile
	if strings.TrimSpace(*configPath) != "" {
		cfgFile = strings.TrimSpace(*configPath)
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(*linkType) != "" {
		cfg.Link.Type = config.LinkType(strings.TrimSpace(*linkType))
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logMgr.Logger("daemon")
	logger.Info("starting sx127xd", "version", app.BuildVersion(), "build_date", app.BuildDateYMD(), "link", string(cfg.Link.Type))

	if *clearLog {
		return clearFrameLog(ctx, logger, paths.DBFile)
	}

	lock, err := platform.AcquireInstanceLock(app.Name)
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	defer func() {
		if relErr := lock.Release(); relErr != nil {
			logger.Warn("release instance lock", "error", relErr)
		}
	}()

	b := bus.New(logMgr.Logger("bus"))

	port, chip, err := buildPort(logMgr, cfg.Link)
	if err != nil {
		return fmt.Errorf("build port: %w", err)
	}
	if chip != nil {
		defer chip.Close()
	}

	// Edges can fire as soon as the lines are requested, before the driver
	// exists. The forwarder drops those.
	forward := &edgeForwarder{}
	var watcher dio.Watcher
	if cfg.Link.DIO.Enabled {
		watcher, err = dio.Watch(logMgr.Logger("dio"), dio.Config{
			Chip: cfg.Link.DIO.Chip,
			DIO0: cfg.Link.DIO.DIO0,
			DIO1: cfg.Link.DIO.DIO1,
			DIO3: cfg.Link.DIO.DIO3,
		}, forward.post)
		if err != nil {
			logger.Warn("dio watch unavailable, falling back to irq polling", "error", err)
			watcher = nil
		} else {
			defer func() {
				if closeErr := watcher.Close(); closeErr != nil {
					logger.Warn("close dio watcher", "error", closeErr)
				}
			}()
		}
	}

	poll := pollInterval(cfg, watcher != nil)
	if poll > 0 {
		logger.Info("irq polling enabled", "interval", poll)
	}

	drv, err := radio.New(logMgr.Logger("radio"), b, port, radio.Options{
		Initial:      initialSettings(cfg.Radio),
		TxTimeout:    time.Duration(cfg.Radio.TxTimeoutMs) * time.Millisecond,
		RxTimeout:    time.Duration(cfg.Radio.RxTimeoutMs) * time.Millisecond,
		PollInterval: poll,
	})
	if err != nil {
		return fmt.Errorf("initialize driver: %w", err)
	}
	forward.bind(drv.PostDIO)
	if chip != nil {
		chip.OnDIO(drv.PostDIO)
	}

	proto, err := mac.NewProtocol(cfg.Mac.Protocol, logMgr.Logger("mac"), b, drv, macOptions(cfg.Mac))
	if err != nil {
		return fmt.Errorf("initialize link protocol: %w", err)
	}

	var recorder *framelog.Recorder
	if cfg.Storage.FrameLog {
		db, dbErr := framelog.Open(ctx, paths.DBFile)
		if dbErr != nil {
			return fmt.Errorf("open frame log: %w", dbErr)
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				logger.Warn("close frame log", "error", closeErr)
			}
		}()
		recorder = framelog.NewRecorder(logMgr.Logger("framelog"), b, db)
		purgeFrameLog(ctx, logger, recorder, cfg.Storage.RetentionDays)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if recorder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.Run(runCtx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		proto.Run(runCtx)
	}()
	watchBus(runCtx, &wg, b, logMgr.Logger("events"))

	// The driver outlives the signal context so shutdown can still drive
	// the abort and port close sequence.
	driverCtx, stopDriver := context.WithCancel(context.Background())
	defer stopDriver()
	go drv.Run(driverCtx)

	logger.Info("daemon running", "protocol", proto.Name(), "node_addr", cfg.Mac.NodeAddr)
	<-ctx.Done()
	logger.Info("shutting down")

	cancel()
	wg.Wait()

	drv.Shutdown()
	select {
	case <-drv.Done():
	case <-time.After(driverStopTimeout):
		logger.Warn("driver did not reach closed state in time")
	}
	stopDriver()

	// Closed last, once every subscriber has unsubscribed.
	b.Close()

	return nil
}

// edgeForwarder lets GPIO lines be requested before the driver that will
// consume their edges exists.
type edgeForwarder struct {
	mu sync.Mutex
	fn func(pin int)
}

func (f *edgeForwarder) bind(fn func(pin int)) {
	f.mu.Lock()
	f.fn = fn
	f.mu.Unlock()
}

func (f *edgeForwarder) post(pin int) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		fn(pin)
	}
}

func buildPort(logMgr *logging.Manager, link config.LinkConfig) (hwport.Port, *chipsim.Chip, error) {
	switch link.Type {
	case config.LinkSim:
		chip := chipsim.New(logMgr.Logger("chipsim"))
		return chipsim.NewPort(chip), chip, nil
	case config.LinkSPI:
		return hwport.NewSPI(link.SPIDevice), nil, nil
	case config.LinkSerial:
		return hwport.NewBridge(logMgr.Logger("hwport"), hwport.NewSerialLink(link.SerialPort, link.SerialBaud)), nil, nil
	case config.LinkTCP:
		return hwport.NewBridge(logMgr.Logger("hwport"), hwport.NewTCPLink(link.Host, link.Port)), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported link type: %s", link.Type)
	}
}

// pollInterval decides whether the driver polls IRQ flags. The sim chip
// delivers DIO callbacks itself, everything else needs either watched GPIO
// lines or the poll timer to see operation completion.
func pollInterval(cfg config.AppConfig, haveDIO bool) time.Duration {
	if cfg.Radio.PollIntervalMs > 0 {
		return time.Duration(cfg.Radio.PollIntervalMs) * time.Millisecond
	}
	if haveDIO || cfg.Link.Type == config.LinkSim {
		return 0
	}

	return defaultPollInterval
}

func initialSettings(rc config.RadioConfig) map[radio.Category]map[string]any {
	byName := rc.Categories()

	return map[radio.Category]map[string]any{
		radio.CategoryModem:      byName["modem"],
		radio.CategoryRF:         byName["rf"],
		radio.CategoryModulation: byName["modulation"],
	}
}

func macOptions(mc config.MacConfig) mac.Options {
	opts := mac.Options{
		NodeAddr:    uint16(mc.NodeAddr),
		TTL:         byte(mc.TTL),
		IdleWindow:  time.Duration(mc.IdleWindowMs) * time.Millisecond,
		SenseWindow: time.Duration(mc.CSMA.SenseWindowMs) * time.Millisecond,
		MaxAttempts: mc.CSMA.MaxAttempts,
		BackoffBase: time.Duration(mc.CSMA.BackoffBaseMs) * time.Millisecond,
		BackoffMax:  time.Duration(mc.CSMA.BackoffMaxMs) * time.Millisecond,
		SlotCount:   mc.TDMA.SlotCount,
		SlotLen:     time.Duration(mc.TDMA.SlotLenMs) * time.Millisecond,
		OwnSlot:     mc.TDMA.OwnSlot,
	}
	if mc.TDMA.EpochUnix > 0 {
		opts.Epoch = time.Unix(mc.TDMA.EpochUnix, 0)
	}

	return opts
}

func purgeFrameLog(ctx context.Context, logger *slog.Logger, rec *framelog.Recorder, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	framesPurged, err := rec.Frames().PurgeBefore(ctx, cutoff)
	if err != nil {
		logger.Warn("purge frames", "error", err)
	}
	eventsPurged, err := rec.Events().PurgeBefore(ctx, cutoff)
	if err != nil {
		logger.Warn("purge events", "error", err)
	}
	if framesPurged > 0 || eventsPurged > 0 {
		logger.Info("purged expired frame log rows", "frames", framesPurged, "events", eventsPurged, "cutoff", cutoff.Format(time.RFC3339))
	}
}

func clearFrameLog(ctx context.Context, logger *slog.Logger, dbFile string) error {
	db, err := framelog.Open(ctx, dbFile)
	if err != nil {
		return fmt.Errorf("open frame log: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Warn("close frame log", "error", closeErr)
		}
	}()
	if err := framelog.Clear(ctx, db); err != nil {
		return fmt.Errorf("clear frame log: %w", err)
	}
	logger.Info("frame log cleared", "path", dbFile)

	return nil
}

func watchBus(ctx context.Context, wg *sync.WaitGroup, b bus.MessageBus, logger *slog.Logger) {
	deliverySub := b.Subscribe(events.TopicMacDelivery)
	sendSub := b.Subscribe(events.TopicMacSendResult)
	modeSub := b.Subscribe(events.TopicMode)
	appliedSub := b.Subscribe(events.TopicSettingsApplied)
	rejectedSub := b.Subscribe(events.TopicSettingsRejected)
	faultSub := b.Subscribe(events.TopicHwFault)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				b.Unsubscribe(deliverySub, events.TopicMacDelivery)
				b.Unsubscribe(sendSub, events.TopicMacSendResult)
				b.Unsubscribe(modeSub, events.TopicMode)
				b.Unsubscribe(appliedSub, events.TopicSettingsApplied)
				b.Unsubscribe(rejectedSub, events.TopicSettingsRejected)
				b.Unsubscribe(faultSub, events.TopicHwFault)
				return
			case raw := <-deliverySub:
				if d, ok := raw.(events.MacDelivery); ok {
					logger.Info("delivery", "src", d.Src, "dst", d.Dst, "seq", d.Seq, "len", len(d.Payload), "hex", previewHex(hex.EncodeToString(d.Payload)))
				}
			case raw := <-sendSub:
				if r, ok := raw.(events.MacSendResult); ok {
					if r.OK {
						logger.Info("send result", "seq", r.Seq, "ok", true)
					} else {
						logger.Warn("send result", "seq", r.Seq, "ok", false, "error", r.Err)
					}
				}
			case raw := <-modeSub:
				if m, ok := raw.(events.ModeChanged); ok {
					logger.Debug("mode", "mode", m.Mode)
				}
			case raw := <-appliedSub:
				if a, ok := raw.(events.SettingsApplied); ok {
					logger.Info("settings applied", "category", a.Category)
				}
			case raw := <-rejectedSub:
				if r, ok := raw.(events.SettingsRejected); ok {
					logger.Warn("settings rejected", "category", r.Category, "reason", r.Reason)
				}
			case raw := <-faultSub:
				if f, ok := raw.(events.HwFault); ok {
					logger.Warn("hardware fault", "op", f.Op, "detail", f.Detail)
				}
			}
		}
	}()
}

func previewHex(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) <= maxHexPreviewLen {
		return raw
	}

	return raw[:maxHexPreviewLen] + "..."
}
