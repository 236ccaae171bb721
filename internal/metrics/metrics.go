package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sai-kiran-y/tcan4550-linux/internal/logging"
)

// Prometheus counters
var (
	CANTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_tx_frames_total",
		Help: "Total CAN frames written to the controller TX FIFO.",
	})
	CANRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_rx_frames_total",
		Help: "Total CAN frames drained from the controller RX FIFO.",
	})
	CANRxDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_rx_dropped_frames_total",
		Help: "Total received frames dropped because upward delivery failed.",
	})
	SPITransactions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spi_transactions_total",
		Help: "Total SPI register/burst transactions issued.",
	})
	TxQueueBusy = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tx_queue_busy_total",
		Help: "Total frame submissions rejected because the staging queue was full.",
	})
	BusOffEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_off_events_total",
		Help: "Total bus-off transitions reported by the controller.",
	})
	TCPRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_rx_frames_total",
		Help: "Total CAN frames received from TCP clients.",
	})
	TCPTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_tx_frames_total",
		Help: "Total CAN frames sent to TCP clients.",
	})
	HubDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_frames_total",
		Help: "Total CAN frames dropped by hub due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Total clients disconnected due to backpressure kick policy.",
	})
	HubRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_rejected_clients_total",
		Help: "Total client connection attempts rejected (e.g., max-clients).",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of active connected clients.",
	})
	HubBroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_broadcast_fanout",
		Help: "Number of clients targeted in the most recent broadcast.",
	})
	HubQueueDepthMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_max",
		Help: "Observed max queued frames among clients since last sample window.",
	})
	HubQueueDepthAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_avg",
		Help: "Approximate average queued frames per client in last sample.",
	})
	BusState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "can_bus_state",
		Help: "Current bus state (0=stopped 1=active 2=warning 3=passive 4=bus-off).",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (protocol violations, invalid length, truncated).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrTCPRead    = "tcp_read"
	ErrTCPWrite   = "tcp_write"
	ErrHandshake  = "handshake"
	ErrSPI        = "spi_transfer"
	ErrTxWorker   = "tx_worker"
	ErrRxDrain    = "rx_drain"
	ErrDeviceInit = "device_init"
	ErrEvents     = "event_dispatch"
)

// StartHTTP serves Prometheus metrics at /metrics on the given address.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localCANTx     uint64
	localCANRx     uint64
	localRxDropped uint64
	localSPITxn    uint64
	localQueueBusy uint64
	localBusOff    uint64
	localTCPRx     uint64
	localTCPTx     uint64
	localHubDrop   uint64
	localHubKick   uint64
	localHubReject uint64
	localErrors    uint64
	localClients   uint64
	localFanout    uint64
	localQDMax     uint64
	localQDAvg     uint64
	localMalformed uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	CANTx      uint64
	CANRx      uint64
	RxDropped  uint64
	SPITxn     uint64
	QueueBusy  uint64
	BusOff     uint64
	TCPRx      uint64
	TCPTx      uint64
	HubDrops   uint64
	HubKicks   uint64
	HubRejects uint64
	Errors        uint64 // sum across error labels
	HubClients    uint64
	Fanout        uint64
	QueueDepthMax uint64
	QueueDepthAvg uint64
	Malformed     uint64
}

func Snap() Snapshot {
	return Snapshot{
		CANTx:      atomic.LoadUint64(&localCANTx),
		CANRx:      atomic.LoadUint64(&localCANRx),
		RxDropped:  atomic.LoadUint64(&localRxDropped),
		SPITxn:     atomic.LoadUint64(&localSPITxn),
		QueueBusy:  atomic.LoadUint64(&localQueueBusy),
		BusOff:     atomic.LoadUint64(&localBusOff),
		TCPRx:      atomic.LoadUint64(&localTCPRx),
		TCPTx:      atomic.LoadUint64(&localTCPTx),
		HubDrops:   atomic.LoadUint64(&localHubDrop),
		HubKicks:   atomic.LoadUint64(&localHubKick),
		HubRejects: atomic.LoadUint64(&localHubReject),
		Errors:        atomic.LoadUint64(&localErrors),
		HubClients:    atomic.LoadUint64(&localClients),
		Fanout:        atomic.LoadUint64(&localFanout),
		QueueDepthMax: atomic.LoadUint64(&localQDMax),
		QueueDepthAvg: atomic.LoadUint64(&localQDAvg),
		Malformed:     atomic.LoadUint64(&localMalformed),
	}
}

// Wrapper helpers to keep call sites simple.
func IncCANTx() {
	CANTxFrames.Inc()
	atomic.AddUint64(&localCANTx, 1)
}

func AddCANTx(n int) {
	CANTxFrames.Add(float64(n))
	atomic.AddUint64(&localCANTx, uint64(n))
}

func IncCANRx() {
	CANRxFrames.Inc()
	atomic.AddUint64(&localCANRx, 1)
}

func IncRxDropped() {
	CANRxDropped.Inc()
	atomic.AddUint64(&localRxDropped, 1)
}

func IncSPITransaction() {
	SPITransactions.Inc()
	atomic.AddUint64(&localSPITxn, 1)
}

func IncQueueBusy() {
	TxQueueBusy.Inc()
	atomic.AddUint64(&localQueueBusy, 1)
}

func IncBusOff() {
	BusOffEvents.Inc()
	atomic.AddUint64(&localBusOff, 1)
}

func IncTCPRx() {
	TCPRxFrames.Inc()
	atomic.AddUint64(&localTCPRx, 1)
}

func AddTCPTx(n int) {
	TCPTxFrames.Add(float64(n))
	atomic.AddUint64(&localTCPTx, uint64(n))
}

func IncHubDrop() {
	HubDroppedFrames.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func IncHubReject() {
	HubRejectedClients.Inc()
	atomic.AddUint64(&localHubReject, 1)
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localClients, uint64(n))
}

func SetBroadcastFanout(n int) {
	HubBroadcastFanout.Set(float64(n))
	atomic.StoreUint64(&localFanout, uint64(n))
}

// SetQueueDepth records a snapshot of max and avg queue depth.
func SetQueueDepth(max, avg int) {
	HubQueueDepthMax.Set(float64(max))
	HubQueueDepthAvg.Set(float64(avg))
	atomic.StoreUint64(&localQDMax, uint64(max))
	atomic.StoreUint64(&localQDAvg, uint64(avg))
}

// SetBusState exports the bus state machine position for scraping.
func SetBusState(s int) { BusState.Set(float64(s)) }

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrTCPRead, ErrTCPWrite, ErrHandshake,
		ErrSPI, ErrTxWorker, ErrRxDrain,
		ErrDeviceInit, ErrEvents,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
