package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sai-kiran-y/tcan4550-linux/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"can_tx", snap.CANTx,
					"can_rx", snap.CANRx,
					"rx_dropped", snap.RxDropped,
					"spi_txn", snap.SPITxn,
					"queue_busy", snap.QueueBusy,
					"bus_off", snap.BusOff,
					"tcp_rx", snap.TCPRx,
					"tcp_tx", snap.TCPTx,
					"hub_drops", snap.HubDrops,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
