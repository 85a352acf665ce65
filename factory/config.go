package factory

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wifip2p/interfaces"
)

// EnvPrefix is the environment variable prefix read by LoadConfig.
const EnvPrefix = "WIFIP2P"

// Transport kinds.
const (
	TransportSimulation = "simulation"
	TransportLAN        = "lan"
	TransportWPAS       = "wpas"
)

// Validation bounds.
const (
	MinConnectTimeout = time.Second
	MaxConnectTimeout = 10 * time.Minute
	MinFindTimeout    = time.Second
	MaxFindTimeout    = time.Hour
	MaxInboxSize      = 4096
	MaxFanOutWorkers  = 256
	MaxSimulatedPeers = 64
)

var (
	// ErrUnknownTransport indicates WIFIP2P_TRANSPORT names no transport.
	ErrUnknownTransport = errors.New("unknown transport")

	// ErrInvalidConfig indicates a value outside its allowed range.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config is the process configuration.
type Config struct {
	Transport        string        `envconfig:"TRANSPORT" default:"simulation"`
	DeviceName       string        `envconfig:"DEVICE_NAME"`
	ListenPort       int           `envconfig:"LISTEN_PORT" default:"8988"`
	GroupOwnerIntent uint8         `envconfig:"GO_INTENT" default:"7"`
	Interface        string        `envconfig:"INTERFACE" default:"wlan0"`
	GroupOwnerIP     string        `envconfig:"GROUP_OWNER_IP" default:"192.168.49.1"`
	ServiceType      string        `envconfig:"SERVICE_TYPE" default:"_wifip2p-chat._udp"`
	ConnectTimeout   time.Duration `envconfig:"CONNECT_TIMEOUT" default:"30s"`
	FindTimeout      time.Duration `envconfig:"FIND_TIMEOUT" default:"120s"`
	InboxSize        int           `envconfig:"INBOX_SIZE" default:"64"`
	FanOutWorkers    int           `envconfig:"FANOUT_WORKERS" default:"8"`
	SimulatedPeers   int           `envconfig:"SIMULATED_PEERS" default:"2"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat        string        `envconfig:"LOG_FORMAT" default:"text"`
	MetricsAddr      string        `envconfig:"METRICS_ADDR"`
}

// DefaultConfig returns the values LoadConfig yields from an empty
// environment.
func DefaultConfig() Config {
	return Config{
		Transport:        TransportSimulation,
		ListenPort:       8988,
		GroupOwnerIntent: 7,
		Interface:        "wlan0",
		GroupOwnerIP:     "192.168.49.1",
		ServiceType:      "_wifip2p-chat._udp",
		ConnectTimeout:   30 * time.Second,
		FindTimeout:      120 * time.Second,
		InboxSize:        64,
		FanOutWorkers:    8,
		SimulatedPeers:   2,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// LoadConfig reads envFiles (".env" when none are given) and the
// environment, then validates the result. Missing files are skipped.
func LoadConfig(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
		logrus.WithFields(logrus.Fields{
			"function": "LoadConfig",
			"file":     file,
		}).Debug("Loaded environment file")
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	logrus.WithFields(logrus.Fields{
		"function":        "LoadConfig",
		"transport":       cfg.Transport,
		"device_name":     cfg.DeviceName,
		"listen_port":     cfg.ListenPort,
		"go_intent":       cfg.GroupOwnerIntent,
		"connect_timeout": cfg.ConnectTimeout,
		"fanout_workers":  cfg.FanOutWorkers,
	}).Info("Loaded configuration")

	return cfg, nil
}

// Validate checks every value against its allowed range.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportSimulation, TransportLAN, TransportWPAS:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Transport)
	}

	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidConfig}, args...)...))
		}
	}

	check(c.ListenPort >= 0 && c.ListenPort <= 65535, "listen port %d out of range", c.ListenPort)
	check(c.GroupOwnerIntent <= interfaces.MaxGroupOwnerIntent, "group owner intent %d above %d",
		c.GroupOwnerIntent, interfaces.MaxGroupOwnerIntent)
	check(c.ConnectTimeout >= MinConnectTimeout && c.ConnectTimeout <= MaxConnectTimeout,
		"connect timeout %s outside [%s, %s]", c.ConnectTimeout, MinConnectTimeout, MaxConnectTimeout)
	check(c.FindTimeout >= MinFindTimeout && c.FindTimeout <= MaxFindTimeout,
		"find timeout %s outside [%s, %s]", c.FindTimeout, MinFindTimeout, MaxFindTimeout)
	check(c.InboxSize >= 1 && c.InboxSize <= MaxInboxSize, "inbox size %d outside [1, %d]", c.InboxSize, MaxInboxSize)
	check(c.FanOutWorkers >= 1 && c.FanOutWorkers <= MaxFanOutWorkers,
		"fan-out workers %d outside [1, %d]", c.FanOutWorkers, MaxFanOutWorkers)
	check(c.SimulatedPeers >= 0 && c.SimulatedPeers <= MaxSimulatedPeers,
		"simulated peers %d outside [0, %d]", c.SimulatedPeers, MaxSimulatedPeers)
	check(net.ParseIP(c.GroupOwnerIP) != nil, "group owner IP %q is not an IP address", c.GroupOwnerIP)
	check(c.LogFormat == "text" || c.LogFormat == "json", "log format %q is not text or json", c.LogFormat)
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		check(false, "log level: %v", err)
	}
	if c.Transport == TransportWPAS {
		check(c.Interface != "", "wpas transport needs an interface")
	}
	if c.Transport == TransportLAN {
		check(c.ServiceType != "", "lan transport needs a service type")
	}

	return errors.Join(errs...)
}

// ConfigureLogging applies the log level and format to the standard logger.
func ConfigureLogging(c Config) error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	logrus.SetLevel(level)

	switch c.LogFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}
