// Package config merges CLI flags, an optional YAML file, and built-in
// defaults into a single Config: flags override the config file, the
// config file overrides defaults.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Mode selects the Dispatcher's fan-out strategy.
type Mode string

const (
	ModeNaive Mode = "naive"
	ModeQueue Mode = "queue"
)

// Config holds every runtime-tunable setting of the broadcaster.
type Config struct {
	Mode Mode `mapstructure:"mode"`

	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	Rate         float64 `mapstructure:"rate"`
	PayloadBytes int     `mapstructure:"payload-bytes"`

	MaxSize        int     `mapstructure:"maxsize"`
	DropLimit      int     `mapstructure:"drop-limit"`
	DropWindowSecs float64 `mapstructure:"drop-window-secs"`
	FullTimeout    float64 `mapstructure:"full-timeout"`

	PingInterval float64 `mapstructure:"ping-interval"`
	PingTimeout  float64 `mapstructure:"ping-timeout"`
	SendTimeout  float64 `mapstructure:"send-timeout"`

	LogJSON bool `mapstructure:"log-json"`

	MetricsAddr    string  `mapstructure:"metrics-addr"`
	MetricsPeriod  float64 `mapstructure:"metrics-period"`
	MalformedBurst int     `mapstructure:"malformed-burst"`
	MalformedRate  float64 `mapstructure:"malformed-rate"`
	LatencySamples int     `mapstructure:"latency-samples"`

	ConfigPath string `mapstructure:"-"`
}

// DropWindow returns DropWindowSecs as a time.Duration.
func (c Config) DropWindow() time.Duration {
	return time.Duration(c.DropWindowSecs * float64(time.Second))
}

// FullTimeoutDuration returns FullTimeout as a time.Duration.
func (c Config) FullTimeoutDuration() time.Duration {
	return time.Duration(c.FullTimeout * float64(time.Second))
}

// PingIntervalDuration returns PingInterval as a time.Duration.
func (c Config) PingIntervalDuration() time.Duration {
	return time.Duration(c.PingInterval * float64(time.Second))
}

// PingTimeoutDuration returns PingTimeout as a time.Duration.
func (c Config) PingTimeoutDuration() time.Duration {
	return time.Duration(c.PingTimeout * float64(time.Second))
}

// SendTimeoutDuration returns SendTimeout as a time.Duration. This is the
// naive-mode per-send hard timeout, independent of the keepalive ping
// timeout.
func (c Config) SendTimeoutDuration() time.Duration {
	return time.Duration(c.SendTimeout * float64(time.Second))
}

// MetricsPeriodDuration returns MetricsPeriod as a time.Duration.
func (c Config) MetricsPeriodDuration() time.Duration {
	return time.Duration(c.MetricsPeriod * float64(time.Second))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(ModeQueue))
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8765)
	v.SetDefault("rate", 100.0)
	v.SetDefault("payload-bytes", 64)
	v.SetDefault("maxsize", 100)
	v.SetDefault("drop-limit", 50)
	v.SetDefault("drop-window-secs", 10.0)
	v.SetDefault("full-timeout", 5.0)
	v.SetDefault("ping-interval", 20.0)
	v.SetDefault("ping-timeout", 20.0)
	v.SetDefault("send-timeout", 1.0)
	v.SetDefault("log-json", false)
	v.SetDefault("metrics-addr", ":9090")
	v.SetDefault("metrics-period", 5.0)
	v.SetDefault("malformed-burst", 5)
	v.SetDefault("malformed-rate", 1.0)
	v.SetDefault("latency-samples", 256)
}

// Parse builds a Config from argv (excluding the program name), merging
// flags over an optional --config YAML file over the built-in defaults.
// It returns the flag package's parse error (exit code 2 territory) if
// the argument list itself is malformed.
func Parse(args []string) (Config, error) {
	fs := flag.NewFlagSet("wsfanoutd", flag.ContinueOnError)

	mode := fs.String("mode", string(ModeQueue), "fan-out strategy: naive or queue")
	host := fs.String("host", "0.0.0.0", "bind address")
	port := fs.Int("port", 8765, "bind port")
	rate := fs.Float64("rate", 100, "messages/sec")
	payloadBytes := fs.Int("payload-bytes", 64, "payload size in bytes")
	maxsize := fs.Int("maxsize", 100, "per-session queue capacity")
	dropLimit := fs.Int("drop-limit", 50, "max drops in drop-window before disconnect")
	dropWindowSecs := fs.Float64("drop-window-secs", 10, "window for drop-limit, seconds")
	fullTimeout := fs.Float64("full-timeout", 5, "max continuous queue-full duration, seconds")
	pingInterval := fs.Float64("ping-interval", 20, "websocket ping period, seconds")
	pingTimeout := fs.Float64("ping-timeout", 20, "websocket ping timeout, seconds")
	sendTimeout := fs.Float64("send-timeout", 1, "naive-mode per-send hard timeout, seconds")
	logJSON := fs.Bool("log-json", false, "structured JSON log output")
	configPath := fs.String("config", "", "optional config file path")

	metricsAddr := fs.String("metrics-addr", ":9090", "bind address for /metrics and /healthz")
	metricsPeriod := fs.Float64("metrics-period", 5, "aggregator sample period, seconds")
	malformedBurst := fs.Int("malformed-burst", 5, "malformed-frame token bucket burst size")
	malformedRate := fs.Float64("malformed-rate", 1, "malformed-frame token bucket refill rate, tokens/sec")
	latencySamples := fs.Int("latency-samples", 256, "ring buffer capacity for latency sampling")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v)

	if *configPath != "" {
		v.SetConfigFile(*configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", *configPath, err)
		}
	}

	// Flags override the config file only when the user actually passed
	// them; otherwise the config file (or default) value stands. Typed
	// setters are used (rather than the flag's string form) so viper's
	// mapstructure unmarshal sees consistent Go types regardless of
	// whether a value came from a flag or from SetDefault.
	typedSetters := map[string]func(){
		"mode":             func() { v.Set("mode", *mode) },
		"host":             func() { v.Set("host", *host) },
		"port":             func() { v.Set("port", *port) },
		"rate":             func() { v.Set("rate", *rate) },
		"payload-bytes":    func() { v.Set("payload-bytes", *payloadBytes) },
		"maxsize":          func() { v.Set("maxsize", *maxsize) },
		"drop-limit":       func() { v.Set("drop-limit", *dropLimit) },
		"drop-window-secs": func() { v.Set("drop-window-secs", *dropWindowSecs) },
		"full-timeout":     func() { v.Set("full-timeout", *fullTimeout) },
		"ping-interval":    func() { v.Set("ping-interval", *pingInterval) },
		"ping-timeout":     func() { v.Set("ping-timeout", *pingTimeout) },
		"send-timeout":     func() { v.Set("send-timeout", *sendTimeout) },
		"log-json":         func() { v.Set("log-json", *logJSON) },
		"metrics-addr":     func() { v.Set("metrics-addr", *metricsAddr) },
		"metrics-period":   func() { v.Set("metrics-period", *metricsPeriod) },
		"malformed-burst":  func() { v.Set("malformed-burst", *malformedBurst) },
		"malformed-rate":   func() { v.Set("malformed-rate", *malformedRate) },
		"latency-samples":  func() { v.Set("latency-samples", *latencySamples) },
	}
	fs.Visit(func(f *flag.Flag) {
		if set, ok := typedSetters[f.Name]; ok {
			set()
		}
	})

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.ConfigPath = *configPath

	if cfg.Mode != ModeNaive && cfg.Mode != ModeQueue {
		return Config{}, fmt.Errorf("config: invalid mode %q (must be %q or %q)", cfg.Mode, ModeNaive, ModeQueue)
	}
	if cfg.MaxSize <= 0 {
		return Config{}, fmt.Errorf("config: maxsize must be > 0")
	}
	if cfg.Rate <= 0 {
		return Config{}, fmt.Errorf("config: rate must be > 0")
	}

	return cfg, nil
}
