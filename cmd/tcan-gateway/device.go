package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sai-kiran-y/tcan4550-linux/internal/can"
	"github.com/sai-kiran-y/tcan4550-linux/internal/hub"
	"github.com/sai-kiran-y/tcan4550-linux/internal/server"
	"github.com/sai-kiran-y/tcan4550-linux/internal/spibus"
	"github.com/sai-kiran-y/tcan4550-linux/internal/tcan"
)

// initDevice opens the SPI bus, brings up the controller and starts the
// interrupt poll loop. Received frames fan out through the hub. The returned
// SendFunc is the client-to-bus path; cleanup shuts everything down.
func initDevice(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (server.SendFunc, *tcan.Device, func(), error) {
	conn, err := spibus.OpenSpidev(cfg.spiDev, uint32(cfg.spiSpeedHz))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open spi device: %w", err)
	}
	bus := spibus.New(conn)
	dev, err := tcan.New(bus, tcan.Options{
		BitTiming: tcan.BitTiming{
			PropPhaseSeg1: uint32(cfg.seg1),
			PhaseSeg2:     uint32(cfg.seg2),
			Prescaler:     uint32(cfg.prescaler),
			SJW:           uint32(cfg.sjw),
		},
		Loopback:   cfg.loopback,
		ListenOnly: cfg.listenOnly,
		OneShot:    cfg.oneShot,
		QueueDepth: cfg.queueDepth,
		Deliver: func(fr can.Frame) bool {
			h.Broadcast(fr)
			return true
		},
		Logger: l,
	})
	if err != nil {
		_ = bus.Close()
		return nil, nil, nil, err
	}
	if err := dev.Start(ctx); err != nil {
		_ = bus.Close()
		return nil, nil, nil, err
	}
	startEventLoop(ctx, cfg, dev, l, wg)
	cleanup := func() {
		if err := dev.Close(); err != nil {
			l.Warn("device_close_error", "error", err)
		}
		_ = bus.Close()
	}
	return dev.Transmit, dev, cleanup, nil
}

// startEventLoop polls the controller for pending interrupts. Without a GPIO
// line wired to the host the interrupt register has to be sampled; the chip
// keeps conditions latched until acknowledged, so polling loses nothing.
// A non-zero restart delay arms an automatic recovery timer after bus-off.
func startEventLoop(ctx context.Context, cfg *appConfig, dev *tcan.Device, l *slog.Logger, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(cfg.pollInterval)
		defer t.Stop()
		var restartAt time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			if _, err := dev.HandleEvents(); err != nil {
				l.Error("event_poll_error", "error", err)
				continue
			}
			if cfg.restartDelay <= 0 {
				continue
			}
			if dev.State() != tcan.StateBusOff {
				restartAt = time.Time{}
				continue
			}
			if restartAt.IsZero() {
				restartAt = time.Now().Add(cfg.restartDelay)
				l.Info("bus_off_restart_armed", "delay", cfg.restartDelay.String())
				continue
			}
			if time.Now().After(restartAt) {
				restartAt = time.Time{}
				if err := dev.Restart(); err != nil {
					l.Error("bus_off_restart_failed", "error", err)
				}
			}
		}
	}()
}
