package cfg

import (
	"flag"
	"fmt"
	"net/netip"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/maxpert/groupd/membership"
	"github.com/maxpert/groupd/wire"
	"github.com/rs/zerolog/log"
)

// DaemonConfiguration declares one daemon of the static roster
type DaemonConfiguration struct {
	Name    string `toml:"name"`
	Address string `toml:"address"` // IPv4 address, doubles as the daemon id
}

// GroupsConfiguration controls the group membership engine
type GroupsConfiguration struct {
	BufferSize    int `toml:"buffer_size"`     // Max bytes of one GROUPS message, header included
	NameCacheSize int `toml:"name_cache_size"` // Parsed private names kept in memory
}

// WatchdogConfiguration controls detection of a stalled state exchange
type WatchdogConfiguration struct {
	GatherTimeoutMS int  `toml:"gather_timeout_ms"`
	CheckIntervalMS int  `toml:"check_interval_ms"`
	FailFast        bool `toml:"fail_fast"` // Stop the daemon when the timeout fires
}

// AdminConfiguration for the HTTP introspection API
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	AuthToken   string `toml:"auth_token"` // Empty disables authentication
	DebugRoutes bool   `toml:"debug_routes"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// SinkConfiguration describes one membership event sink
type SinkConfiguration struct {
	Name            string   `toml:"name"`
	Type            string   `toml:"type"` // "nats" or "kafka"
	NatsURL         string   `toml:"nats_url"`
	Brokers         []string `toml:"brokers"`
	Format          string   `toml:"format"` // "msgpack" or "json"
	TopicPrefix     string   `toml:"topic_prefix"`
	FilterGroups    []string `toml:"filter_groups"` // Glob patterns, empty = all groups
	Compress        bool     `toml:"compress"`      // zstd-compress payloads
	BatchSize       int      `toml:"batch_size"`
	PollIntervalMS  int      `toml:"poll_interval_ms"`
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
}

// PublisherConfiguration controls export of membership events
type PublisherConfiguration struct {
	Enabled     bool                `toml:"enabled"`
	LogCapacity int                 `toml:"log_capacity"` // Events retained for slow sinks
	Sinks       []SinkConfiguration `toml:"sinks"`
}

// Configuration is the main configuration structure
type Configuration struct {
	DaemonName string                `toml:"daemon_name"`
	Daemons    []DaemonConfiguration `toml:"daemons"`

	Groups     GroupsConfiguration     `toml:"groups"`
	Watchdog   WatchdogConfiguration   `toml:"watchdog"`
	Admin      AdminConfiguration      `toml:"admin"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Publisher  PublisherConfiguration  `toml:"publisher"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DaemonNameFlag = flag.String("daemon", "", "Name of this daemon in the roster (overrides config)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
)

// Default configuration
var Config = &Configuration{
	DaemonName: "",
	Daemons:    []DaemonConfiguration{},

	Groups: GroupsConfiguration{
		BufferSize:    wire.DefaultCapacity,
		NameCacheSize: 4096,
	},

	Watchdog: WatchdogConfiguration{
		GatherTimeoutMS: 30000,
		CheckIntervalMS: 1000,
		FailFast:        false,
	},

	Admin: AdminConfiguration{
		Enabled:     true,
		BindAddress: "127.0.0.1",
		Port:        4804,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},

	Publisher: PublisherConfiguration{
		Enabled:     false,
		LogCapacity: 65536,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *DaemonNameFlag != "" {
		Config.DaemonName = *DaemonNameFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	return nil
}

// Roster builds the daemon configuration declared by [[daemons]].
func Roster() (*membership.Configuration, error) {
	procs := make([]membership.Proc, 0, len(Config.Daemons))
	for _, d := range Config.Daemons {
		addr, err := netip.ParseAddr(d.Address)
		if err != nil {
			return nil, fmt.Errorf("daemon %q: invalid address %q: %w", d.Name, d.Address, err)
		}
		id, err := membership.ProcIDFromAddr(addr)
		if err != nil {
			return nil, fmt.Errorf("daemon %q: %w", d.Name, err)
		}
		procs = append(procs, membership.Proc{ID: id, Name: d.Name})
	}
	return membership.NewConfiguration(procs)
}

// Self returns this daemon's roster entry.
func Self(roster *membership.Configuration) (membership.Proc, error) {
	p, ok := roster.ProcByName(Config.DaemonName)
	if !ok {
		return membership.Proc{}, fmt.Errorf("daemon %q is not in the roster", Config.DaemonName)
	}
	return p, nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.DaemonName == "" {
		return fmt.Errorf("daemon_name is required")
	}
	if len(Config.Daemons) == 0 {
		return fmt.Errorf("at least one [[daemons]] entry is required")
	}

	roster, err := Roster()
	if err != nil {
		return fmt.Errorf("invalid roster: %w", err)
	}
	if _, err := Self(roster); err != nil {
		return err
	}

	if _, err := wire.NewEncoder(Config.Groups.BufferSize); err != nil {
		return fmt.Errorf("invalid groups buffer size: %w", err)
	}
	if Config.Groups.NameCacheSize < 1 {
		return fmt.Errorf("groups name cache size must be >= 1")
	}

	if Config.Watchdog.GatherTimeoutMS < 0 {
		return fmt.Errorf("watchdog gather timeout must be >= 0")
	}
	if Config.Watchdog.GatherTimeoutMS > 0 && Config.Watchdog.CheckIntervalMS < 1 {
		return fmt.Errorf("watchdog check interval must be >= 1ms")
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	if Config.Publisher.Enabled {
		if Config.Publisher.LogCapacity < 1 {
			return fmt.Errorf("publisher log capacity must be >= 1")
		}
		seen := make(map[string]bool, len(Config.Publisher.Sinks))
		for _, s := range Config.Publisher.Sinks {
			if s.Name == "" {
				return fmt.Errorf("publisher sink requires a name")
			}
			if seen[s.Name] {
				return fmt.Errorf("duplicate publisher sink %q", s.Name)
			}
			seen[s.Name] = true
			if s.Type == "" {
				return fmt.Errorf("publisher sink %q requires a type", s.Name)
			}
			if s.RetryMultiplier != 0 && s.RetryMultiplier < 1 {
				return fmt.Errorf("publisher sink %q retry multiplier must be >= 1", s.Name)
			}
		}
	}

	return nil
}
