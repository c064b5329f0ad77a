// Package config provides Viper-based configuration loading for the
// encounter daemon.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// KeyPrefix namespaces every key the daemon writes.
	KeyPrefix string `mapstructure:"key_prefix"`
}

// StorageConfig selects where boss states are persisted.
type StorageConfig struct {
	// Backend is one of "memory", "postgres" or "redis".
	Backend string `mapstructure:"backend"`
	// WriteTimeout bounds each write-behind flush.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// SpawnConfig places one unit in an instance at startup.
type SpawnConfig struct {
	// ID is the unit id; empty mints one.
	ID       string `mapstructure:"id"`
	Template string `mapstructure:"template"`
	// Kind is "boss", "creature" or "player".
	Kind string  `mapstructure:"kind"`
	X    float64 `mapstructure:"x"`
	Y    float64 `mapstructure:"y"`
	Z    float64 `mapstructure:"z"`
	// Engage is the id of a unit this spawn attacks once every spawn is
	// placed. Empty leaves it idle.
	Engage string `mapstructure:"engage"`
}

// InstanceConfig describes a dungeon instance the daemon opens.
type InstanceConfig struct {
	ID     string        `mapstructure:"id"`
	Spawns []SpawnConfig `mapstructure:"spawns"`
}

// EncounterConfig holds tick and content settings.
type EncounterConfig struct {
	TickInterval     time.Duration    `mapstructure:"tick_interval"`
	MaxTickDelta     time.Duration    `mapstructure:"max_tick_delta"`
	DefinitionsDir   string           `mapstructure:"definitions_dir"`
	CreaturesDir     string           `mapstructure:"creatures_dir"`
	ScriptsDir       string           `mapstructure:"scripts_dir"`
	SpellsFile       string           `mapstructure:"spells_file"`
	InstructionLimit int              `mapstructure:"instruction_limit"`
	Difficulty       string           `mapstructure:"difficulty"`
	WatchScripts     bool             `mapstructure:"watch_scripts"`
	Instances        []InstanceConfig `mapstructure:"instances"`
}

// APIConfig holds the ops HTTP listener settings.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	// Mode is the gin mode: "debug", "release" or "test".
	Mode string `mapstructure:"mode"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Config is the top-level application configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Encounter EncounterConfig `mapstructure:"encounter"`
	API       APIConfig       `mapstructure:"api"`
}

// Validate checks all configuration invariants. Database and Redis settings
// are checked only when the storage backend uses them.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string
	add := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	add(validateLogging(c.Logging))
	add(validateStorage(c.Storage))
	switch c.Storage.Backend {
	case BackendPostgres:
		add(validateDatabase(c.Database))
	case BackendRedis:
		add(validateRedis(c.Redis))
	}
	add(validateEncounter(c.Encounter))
	if c.API.Enabled {
		add(validateAPI(c.API))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func joinErrs(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(errs, "; "))
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	return joinErrs(errs)
}

func validateRedis(r RedisConfig) error {
	var errs []string
	if r.Addr == "" {
		errs = append(errs, "redis.addr must not be empty")
	}
	if r.DB < 0 {
		errs = append(errs, fmt.Sprintf("redis.db must be >= 0, got %d", r.DB))
	}
	if r.KeyPrefix == "" {
		errs = append(errs, "redis.key_prefix must not be empty")
	}
	return joinErrs(errs)
}

func validateStorage(s StorageConfig) error {
	var errs []string
	switch s.Backend {
	case BackendMemory, BackendPostgres, BackendRedis:
	default:
		errs = append(errs, fmt.Sprintf("storage.backend must be one of [memory, postgres, redis], got %q", s.Backend))
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, "storage.write_timeout must be > 0")
	}
	return joinErrs(errs)
}

func validateEncounter(e EncounterConfig) error {
	var errs []string
	if e.TickInterval <= 0 {
		errs = append(errs, "encounter.tick_interval must be > 0")
	}
	if e.MaxTickDelta < e.TickInterval {
		errs = append(errs, "encounter.max_tick_delta must be >= encounter.tick_interval")
	}
	if e.DefinitionsDir == "" {
		errs = append(errs, "encounter.definitions_dir must not be empty")
	}
	if e.CreaturesDir == "" {
		errs = append(errs, "encounter.creatures_dir must not be empty")
	}
	if e.InstructionLimit < 0 {
		errs = append(errs, fmt.Sprintf("encounter.instruction_limit must be >= 0, got %d", e.InstructionLimit))
	}
	if e.WatchScripts && e.ScriptsDir == "" {
		errs = append(errs, "encounter.watch_scripts requires encounter.scripts_dir")
	}
	seen := make(map[string]bool, len(e.Instances))
	for i, inst := range e.Instances {
		if inst.ID == "" {
			errs = append(errs, fmt.Sprintf("encounter.instances[%d].id must not be empty", i))
		} else if seen[inst.ID] {
			errs = append(errs, fmt.Sprintf("encounter.instances[%d].id %q is duplicated", i, inst.ID))
		}
		seen[inst.ID] = true
		for j, s := range inst.Spawns {
			if s.Template == "" {
				errs = append(errs, fmt.Sprintf("encounter.instances[%d].spawns[%d].template must not be empty", i, j))
			}
			switch s.Kind {
			case "", "boss", "creature", "player":
			default:
				errs = append(errs, fmt.Sprintf("encounter.instances[%d].spawns[%d].kind must be one of [boss, creature, player], got %q", i, j, s.Kind))
			}
		}
	}
	return joinErrs(errs)
}

func validateAPI(a APIConfig) error {
	var errs []string
	if a.Port < 1 || a.Port > 65535 {
		errs = append(errs, fmt.Sprintf("api.port must be 1-65535, got %d", a.Port))
	}
	validModes := map[string]bool{"debug": true, "release": true, "test": true}
	if !validModes[a.Mode] {
		errs = append(errs, fmt.Sprintf("api.mode must be one of [debug, release, test], got %q", a.Mode))
	}
	return joinErrs(errs)
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := NewViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromViper(v)
}

// NewViper returns a Viper instance with defaults and ENCOUNTER_ environment
// overrides installed.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("ENCOUNTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "encounter")
	v.SetDefault("database.password", "encounter")
	v.SetDefault("database.name", "encounter")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "encounter")

	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.write_timeout", "2s")

	v.SetDefault("encounter.tick_interval", "100ms")
	v.SetDefault("encounter.max_tick_delta", "1s")
	v.SetDefault("encounter.definitions_dir", "content/encounters")
	v.SetDefault("encounter.creatures_dir", "content/creatures")
	v.SetDefault("encounter.scripts_dir", "content/scripts/encounters")
	v.SetDefault("encounter.spells_file", "content/spells.yaml")
	v.SetDefault("encounter.instruction_limit", 100000)
	v.SetDefault("encounter.difficulty", "normal")
	v.SetDefault("encounter.watch_scripts", false)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.mode", "release")
}
