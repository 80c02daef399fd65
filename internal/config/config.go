package config

import (
	"fmt"
	"os"
	"strconv"
)

// Default configuration values
const (
	DefaultAddr        = ":4000"
	DefaultRtcMinPort  = 10000
	DefaultRtcMaxPort  = 10100
	DefaultListenIP    = "0.0.0.0"
	DefaultAnnouncedIP = "127.0.0.1"
)

// Server holds the signaling server configuration.
type Server struct {
	// Addr is the HTTP/WebSocket listen address.
	Addr string

	// Media engine worker settings.
	WorkerBin  string
	RtcMinPort int
	RtcMaxPort int

	// ListenIP is the address media transports bind to; AnnouncedIP is the
	// address handed to clients (the public IP when behind NAT).
	ListenIP    string
	AnnouncedIP string
}

// Options carries CLI flag overrides for Load.
type Options struct {
	Addr        string
	WorkerBin   string
	RtcMinPort  int
	RtcMaxPort  int
	ListenIP    string
	AnnouncedIP string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Server, error) {
	cfg := &Server{
		Addr:        stringOr(opts.Addr, envOr("GOMEET_ADDR", DefaultAddr)),
		WorkerBin:   stringOr(opts.WorkerBin, os.Getenv("MEDIASOUP_WORKER_BIN")),
		RtcMinPort:  intOr(opts.RtcMinPort, envIntOr("GOMEET_RTC_MIN_PORT", DefaultRtcMinPort)),
		RtcMaxPort:  intOr(opts.RtcMaxPort, envIntOr("GOMEET_RTC_MAX_PORT", DefaultRtcMaxPort)),
		ListenIP:    stringOr(opts.ListenIP, envOr("GOMEET_LISTEN_IP", DefaultListenIP)),
		AnnouncedIP: stringOr(opts.AnnouncedIP, envOr("GOMEET_ANNOUNCED_IP", DefaultAnnouncedIP)),
	}

	if cfg.RtcMinPort <= 0 || cfg.RtcMaxPort > 65535 || cfg.RtcMaxPort < cfg.RtcMinPort {
		return nil, fmt.Errorf("invalid rtc port range %d-%d", cfg.RtcMinPort, cfg.RtcMaxPort)
	}
	return cfg, nil
}

func stringOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func intOr(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
