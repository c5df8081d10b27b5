package config

import (
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Storage drivers
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Redis       RedisConfig       `yaml:"redis"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
	Points      PointsConfig      `yaml:"points"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Driver string `yaml:"driver"`
}

// RedisConfig holds Redis connection configuration for the leaderboard mirror
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"key_prefix"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds the action event consumer configuration
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	GroupID       string        `yaml:"group_id"`
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	BatchTimeout  time.Duration `yaml:"batch_timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// SchedulerConfig holds the cron cadences and job parameters
type SchedulerConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Timezone             string        `yaml:"timezone"`
	WeeklyReset          string        `yaml:"weekly_reset"`
	MonthlyReset         string        `yaml:"monthly_reset"`
	LeaderboardRebuild   string        `yaml:"leaderboard_rebuild"`
	StreakUpdate         string        `yaml:"streak_update"`
	TransactionPrune     string        `yaml:"transaction_prune"`
	StartupRebuildDelay  time.Duration `yaml:"startup_rebuild_delay"`
	TransactionRetention time.Duration `yaml:"transaction_retention"`
	CacheSize            int           `yaml:"cache_size"`
	SnapshotSize         int           `yaml:"snapshot_size"`
}

// Location resolves the scheduler timezone
func (c *SchedulerConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// LeaderboardConfig holds read path limits
type LeaderboardConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// PointsConfig tunes the contextual bonuses.
// A negative MaxVisitedLocations disables the cap.
type PointsConfig struct {
	ComboWindow         time.Duration `yaml:"combo_window"`
	ComboThreshold      int           `yaml:"combo_threshold"`
	ComboBonus          float64       `yaml:"combo_bonus"`
	FirstTimeRadius     float64       `yaml:"first_time_radius_meters"`
	FirstTimeBonus      float64       `yaml:"first_time_bonus"`
	MaxVisitedLocations int           `yaml:"max_visited_locations"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Leaderboard.MaxLimit < c.Leaderboard.DefaultLimit {
		return fmt.Errorf("leaderboard max_limit %d below default_limit %d", c.Leaderboard.MaxLimit, c.Leaderboard.DefaultLimit)
	}
	if _, err := c.Scheduler.Location(); err != nil {
		return err
	}
	return nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverPostgres
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "progression"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 50
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 5
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 50
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 5
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "cleanup-actions"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "progression-engine"
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = 100
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 1 * time.Second
	}
	if c.Kafka.RetryAttempts == 0 {
		c.Kafka.RetryAttempts = 3
	}
	if c.Kafka.RetryDelay == 0 {
		c.Kafka.RetryDelay = 1 * time.Second
	}

	// Scheduler defaults
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "UTC"
	}
	if c.Scheduler.WeeklyReset == "" {
		c.Scheduler.WeeklyReset = "0 0 * * 1"
	}
	if c.Scheduler.MonthlyReset == "" {
		c.Scheduler.MonthlyReset = "0 0 1 * *"
	}
	if c.Scheduler.LeaderboardRebuild == "" {
		c.Scheduler.LeaderboardRebuild = "0 * * * *"
	}
	if c.Scheduler.StreakUpdate == "" {
		c.Scheduler.StreakUpdate = "0 1 * * *"
	}
	if c.Scheduler.TransactionPrune == "" {
		c.Scheduler.TransactionPrune = "0 2 * * 0"
	}
	if c.Scheduler.StartupRebuildDelay == 0 {
		c.Scheduler.StartupRebuildDelay = 5 * time.Second
	}
	if c.Scheduler.TransactionRetention == 0 {
		c.Scheduler.TransactionRetention = 90 * 24 * time.Hour
	}
	if c.Scheduler.CacheSize == 0 {
		c.Scheduler.CacheSize = 1000
	}
	if c.Scheduler.SnapshotSize == 0 {
		c.Scheduler.SnapshotSize = 10
	}

	// Leaderboard defaults
	if c.Leaderboard.DefaultLimit == 0 {
		c.Leaderboard.DefaultLimit = 50
	}
	if c.Leaderboard.MaxLimit == 0 {
		c.Leaderboard.MaxLimit = 1000
	}

	// Points defaults
	if c.Points.ComboWindow == 0 {
		c.Points.ComboWindow = time.Hour
	}
	if c.Points.ComboThreshold == 0 {
		c.Points.ComboThreshold = 2
	}
	if c.Points.ComboBonus == 0 {
		c.Points.ComboBonus = 0.5
	}
	if c.Points.FirstTimeRadius == 0 {
		c.Points.FirstTimeRadius = 100
	}
	if c.Points.FirstTimeBonus == 0 {
		c.Points.FirstTimeBonus = 0.25
	}
	if c.Points.MaxVisitedLocations == 0 {
		c.Points.MaxVisitedLocations = 1000
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Scheduler.Enabled = true
	return cfg
}
