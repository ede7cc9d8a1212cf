package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/lorahop/sx127xd/internal/chipsim"
	"github.com/lorahop/sx127xd/internal/config"
	"github.com/lorahop/sx127xd/internal/hwport"
	"github.com/lorahop/sx127xd/internal/logging"
)

func main() {
	if err := run(); err != nil {
		slog.Error("run radiosim", "error", err)
		os.Exit(1)
	}
}

func run() error {
	listenAddr := flag.String("listen", fmt.Sprintf(":%d", hwport.DefaultTCPPort), "listen address")
	scenarioPath := flag.String("scenario", "", "scenario yaml path")
	logLevel := flag.String("level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logMgr := logging.NewManager()
	if err := logMgr.Configure(config.LoggingConfig{Level: *logLevel}, ""); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logMgr.Logger("radiosim")

	sc := chipsim.DefaultScenario()
	if strings.TrimSpace(*scenarioPath) != "" {
		loaded, err := chipsim.LoadScenario(strings.TrimSpace(*scenarioPath))
		if err != nil {
			return fmt.Errorf("load scenario: %w", err)
		}
		sc = loaded
	}

	chip := chipsim.New(logMgr.Logger("chipsim"))
	defer chip.Close()
	if err := chip.Apply(sc); err != nil {
		return fmt.Errorf("apply scenario: %w", err)
	}

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	logger.Info("radiosim listening", "addr", ln.Addr().String(), "version", sc.Version, "airtime_ms", sc.AirtimeMs, "receptions", len(sc.Receptions))

	var wg sync.WaitGroup
	for {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Warn("accept", "error", acceptErr)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveConn(ctx, logger, chip, conn)
		}()
	}

	logger.Info("shutting down")
	wg.Wait()

	return nil
}

// serveConn speaks the bridge framing over one client connection. Every
// request gets exactly one status-prefixed response.
func serveConn(ctx context.Context, logger *slog.Logger, chip *chipsim.Chip, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	release := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer release()

	remote := conn.RemoteAddr().String()
	logger.Info("client connected", "remote", remote)

	opened := false
	for {
		req, err := hwport.ReadFrameFrom(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logger.Debug("read request", "remote", remote, "error", err)
			}
			logger.Info("client disconnected", "remote", remote)
			return
		}
		resp, err := hwport.EncodeFrame(handleRequest(chip, &opened, req))
		if err != nil {
			logger.Warn("encode response", "remote", remote, "error", err)
			return
		}
		if _, err := conn.Write(resp); err != nil {
			logger.Debug("write response", "remote", remote, "error", err)
			return
		}
	}
}

func handleRequest(chip *chipsim.Chip, opened *bool, req []byte) []byte {
	if len(req) == 0 {
		return []byte{hwport.StatusBadRequest}
	}
	switch req[0] {
	case hwport.OpOpen:
		*opened = true
		return []byte{hwport.StatusOK}
	case hwport.OpClose:
		*opened = false
		return []byte{hwport.StatusOK}
	case hwport.OpRead:
		if !*opened {
			return []byte{hwport.StatusNotOpen}
		}
		if len(req) != 3 || req[2] == 0 {
			return []byte{hwport.StatusBadRequest}
		}
		data, err := chip.ReadRegister(req[1], int(req[2]))
		if err != nil {
			return []byte{hwport.StatusFailed}
		}
		resp := make([]byte, 1+len(data))
		resp[0] = hwport.StatusOK
		copy(resp[1:], data)
		return resp
	case hwport.OpWrite:
		if !*opened {
			return []byte{hwport.StatusNotOpen}
		}
		if len(req) < 3 {
			return []byte{hwport.StatusBadRequest}
		}
		if err := chip.WriteRegister(req[1], req[2:]); err != nil {
			return []byte{hwport.StatusFailed}
		}
		return []byte{hwport.StatusOK}
	default:
		return []byte{hwport.StatusBadRequest}
	}
}
