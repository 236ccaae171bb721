package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	spiDev     string
	spiSpeedHz int

	// Nominal bit timing in time quanta. The defaults give 500 kbit/s from
	// the chip's 40 MHz oscillator: 40 MHz / 5 = 8 MHz quantum clock,
	// 1 + 13 + 2 = 16 quanta per bit.
	seg1      int
	seg2      int
	prescaler int
	sjw       int

	loopback   bool
	listenOnly bool
	oneShot    bool

	queueDepth   int
	pollInterval time.Duration
	restartDelay time.Duration

	listenAddr      string
	logFormat       string
	logLevel        string
	metricsAddr     string
	hubBuffer       int
	hubPolicy       string
	logMetricsEvery time.Duration
	maxClients      int
	handshakeTO     time.Duration
	clientReadTO    time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	flag.StringVar(&cfg.spiDev, "spi-dev", "/dev/spidev0.0", "SPI device node for the TCAN4550")
	flag.IntVar(&cfg.spiSpeedHz, "spi-speed", 18000000, "SPI clock speed in Hz (chip max 18 MHz)")
	flag.IntVar(&cfg.seg1, "bt-seg1", 13, "Bit timing: prop + phase segment 1 in quanta (2..256)")
	flag.IntVar(&cfg.seg2, "bt-seg2", 2, "Bit timing: phase segment 2 in quanta (1..128)")
	flag.IntVar(&cfg.prescaler, "bt-prescaler", 5, "Bit timing: baud rate prescaler (1..512)")
	flag.IntVar(&cfg.sjw, "bt-sjw", 1, "Bit timing: sync jump width in quanta (1..128)")
	flag.BoolVar(&cfg.loopback, "loopback", false, "Internal loopback test mode")
	flag.BoolVar(&cfg.listenOnly, "listen-only", false, "Bus monitoring mode (no ACK, no TX)")
	flag.BoolVar(&cfg.oneShot, "one-shot", false, "Disable automatic retransmission")
	flag.IntVar(&cfg.queueDepth, "queue-depth", 16, "Software TX staging queue depth (frames)")
	flag.DurationVar(&cfg.pollInterval, "poll-interval", time.Millisecond, "Interrupt poll interval")
	flag.DurationVar(&cfg.restartDelay, "restart-delay", 0, "Automatic restart delay after bus-off; 0 requires manual restart")
	flag.StringVar(&cfg.listenAddr, "listen", ":20550", "TCP listen address")
	flag.StringVar(&cfg.logFormat, "log-format", "text", "Log format: text|json")
	flag.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	flag.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	flag.IntVar(&cfg.hubBuffer, "hub-buffer", 512, "Per-client hub buffer (frames)")
	flag.StringVar(&cfg.hubPolicy, "hub-policy", "drop", "Backpressure policy: drop|kick")
	flag.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	flag.IntVar(&cfg.maxClients, "max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	flag.DurationVar(&cfg.handshakeTO, "handshake-timeout", 3*time.Second, "Client handshake timeout")
	flag.DurationVar(&cfg.clientReadTO, "client-read-timeout", 60*time.Second, "Per-connection read deadline")
	flag.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Enable mDNS/Avahi advertisement")
	flag.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default tcan-gateway-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Flags explicitly set on the command line win over environment.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It checks values and ranges only; nothing is opened here.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if c.spiDev == "" {
		return errors.New("spi-dev must not be empty")
	}
	if c.spiSpeedHz <= 0 || c.spiSpeedHz > 18000000 {
		return fmt.Errorf("spi-speed must be in 1..18000000 (got %d)", c.spiSpeedHz)
	}
	if c.seg1 < 2 || c.seg1 > 256 {
		return fmt.Errorf("bt-seg1 must be in 2..256 (got %d)", c.seg1)
	}
	if c.seg2 < 1 || c.seg2 > 128 {
		return fmt.Errorf("bt-seg2 must be in 1..128 (got %d)", c.seg2)
	}
	if c.prescaler < 1 || c.prescaler > 512 {
		return fmt.Errorf("bt-prescaler must be in 1..512 (got %d)", c.prescaler)
	}
	if c.sjw < 1 || c.sjw > 128 {
		return fmt.Errorf("bt-sjw must be in 1..128 (got %d)", c.sjw)
	}
	if c.listenOnly && c.loopback {
		return errors.New("listen-only and loopback are mutually exclusive")
	}
	if c.queueDepth <= 0 {
		return fmt.Errorf("queue-depth must be > 0 (got %d)", c.queueDepth)
	}
	if c.pollInterval <= 0 {
		return errors.New("poll-interval must be > 0")
	}
	if c.restartDelay < 0 {
		return errors.New("restart-delay must be >= 0")
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.handshakeTO <= 0 {
		return errors.New("handshake-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return errors.New("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return errors.New("max-clients must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps TCAN_GW_* environment variables onto config fields
// unless the corresponding flag was explicitly set. Empty values are ignored;
// durations use Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(flagName, env string) (string, bool) {
		if _, ok := set[flagName]; ok {
			return "", false
		}
		v, ok := os.LookupEnv(env)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	str := func(flagName, env string, dst *string) {
		if v, ok := get(flagName, env); ok {
			*dst = v
		}
	}
	num := func(flagName, env string, dst *int) {
		if v, ok := get(flagName, env); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	dur := func(flagName, env string, dst *time.Duration) {
		if v, ok := get(flagName, env); ok {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	boolean := func(flagName, env string, dst *bool) {
		if v, ok := get(flagName, env); ok {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			}
		}
	}

	str("spi-dev", "TCAN_GW_SPI_DEV", &c.spiDev)
	num("spi-speed", "TCAN_GW_SPI_SPEED", &c.spiSpeedHz)
	num("bt-seg1", "TCAN_GW_BT_SEG1", &c.seg1)
	num("bt-seg2", "TCAN_GW_BT_SEG2", &c.seg2)
	num("bt-prescaler", "TCAN_GW_BT_PRESCALER", &c.prescaler)
	num("bt-sjw", "TCAN_GW_BT_SJW", &c.sjw)
	boolean("loopback", "TCAN_GW_LOOPBACK", &c.loopback)
	boolean("listen-only", "TCAN_GW_LISTEN_ONLY", &c.listenOnly)
	boolean("one-shot", "TCAN_GW_ONE_SHOT", &c.oneShot)
	num("queue-depth", "TCAN_GW_QUEUE_DEPTH", &c.queueDepth)
	dur("poll-interval", "TCAN_GW_POLL_INTERVAL", &c.pollInterval)
	dur("restart-delay", "TCAN_GW_RESTART_DELAY", &c.restartDelay)
	str("listen", "TCAN_GW_LISTEN", &c.listenAddr)
	str("log-format", "TCAN_GW_LOG_FORMAT", &c.logFormat)
	str("log-level", "TCAN_GW_LOG_LEVEL", &c.logLevel)
	str("metrics-addr", "TCAN_GW_METRICS", &c.metricsAddr)
	num("hub-buffer", "TCAN_GW_HUB_BUFFER", &c.hubBuffer)
	str("hub-policy", "TCAN_GW_HUB_POLICY", &c.hubPolicy)
	dur("log-metrics-interval", "TCAN_GW_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	num("max-clients", "TCAN_GW_MAX_CLIENTS", &c.maxClients)
	dur("handshake-timeout", "TCAN_GW_HANDSHAKE_TIMEOUT", &c.handshakeTO)
	dur("client-read-timeout", "TCAN_GW_CLIENT_READ_TIMEOUT", &c.clientReadTO)
	boolean("mdns-enable", "TCAN_GW_MDNS_ENABLE", &c.mdnsEnable)
	str("mdns-name", "TCAN_GW_MDNS_NAME", &c.mdnsName)
	return firstErr
}
