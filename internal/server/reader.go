package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/sai-kiran-y/tcan4550-linux/internal/can"
	"github.com/sai-kiran-y/tcan4550-linux/internal/hub"
	"github.com/sai-kiran-y/tcan4550-linux/internal/metrics"
)

// startReader launches the goroutine decoding client frames and submitting
// them to the device. Device backpressure is not an error: the frame is
// dropped and the client keeps its connection.
func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = conn.Close() }()
		submit := func(fr can.Frame) {
			metrics.IncTCPRx()
			if err := s.Send(fr); err != nil {
				if s.Busy(err) {
					s.totalDeviceBusy.Add(1)
					logger.Debug("device_busy_drop", "can_id", fmt.Sprintf("0x%X", fr.CANID), "len", fr.Len)
					return
				}
				s.totalDeviceErrors.Add(1)
				wrap := fmt.Errorf("%w: %v", ErrDeviceTx, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				logger.Error("device_tx_error", "error", err, "can_id", fmt.Sprintf("0x%X", fr.CANID))
			}
		}
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			count, err := s.Codec.DecodeN(conn, 16, submit)
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				return
			}
			if count == 0 {
				time.Sleep(100 * time.Microsecond)
			}
			select {
			case <-ctxDone:
				return
			case <-cl.Closed:
				return
			default:
			}
		}
	}()
}
