package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Game     GameConfig     `yaml:"game"`
	Debrief  DebriefConfig  `yaml:"debrief"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	ClientURL    string        `yaml:"client_url"`
}

type DatabaseConfig struct {
	// Driver selects the record store: "memory", "sqlite" or "mysql".
	Driver string       `yaml:"driver"`
	MySQL  MySQLConfig  `yaml:"mysql"`
	SQLite SQLiteConfig `yaml:"sqlite"`
	Redis  RedisConfig  `yaml:"redis"`
}

type MySQLConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	// EventLogSize caps the per-game recent event list.
	EventLogSize int           `yaml:"event_log_size"`
	KeyTTL       time.Duration `yaml:"key_ttl"`
}

type GameConfig struct {
	MinTeams int          `yaml:"min_teams"`
	MaxTeams int          `yaml:"max_teams"`
	Budget   BudgetConfig `yaml:"budget"`
}

type BudgetConfig struct {
	Capacity    int `yaml:"capacity"`
	StaffEnergy int `yaml:"staff_energy"`
	Cash        int `yaml:"cash"`
}

// DebriefConfig carries threshold overrides; zero values keep the defaults.
type DebriefConfig struct {
	Thresholds map[string]float64 `yaml:"thresholds"`
}

type LoggingConfig struct {
	Mode      string `yaml:"mode"`
	GormLevel string `yaml:"gorm_level"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         3001,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			ClientURL:    "http://localhost:5173",
		},
		Database: DatabaseConfig{
			Driver: "memory",
			SQLite: SQLiteConfig{Path: "./data/safe-by-design.db"},
			MySQL: MySQLConfig{
				Host:            "localhost",
				Port:            3306,
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
			},
			Redis: RedisConfig{
				Host:         "localhost",
				Port:         6379,
				PoolSize:     10,
				EventLogSize: 200,
				KeyTTL:       24 * time.Hour,
			},
		},
		Game: GameConfig{
			MinTeams: 2,
			MaxTeams: 6,
			Budget:   BudgetConfig{Capacity: 10, StaffEnergy: 10, Cash: 10},
		},
		Logging: LoggingConfig{Mode: "development", GormLevel: "warn"},
	}
}

// Load reads configuration from a YAML file on top of Default.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to Default when the file is missing.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		applyEnv(cfg)
		return cfg, cfg.Validate()
	}
	return Load(path)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SBD_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("SBD_MYSQL_PASSWORD"); v != "" {
		cfg.Database.MySQL.Password = v
	}
	if v := os.Getenv("SBD_REDIS_PASSWORD"); v != "" {
		cfg.Database.Redis.Password = v
	}
	if v := os.Getenv("SBD_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "sqlite", "mysql":
	default:
		return fmt.Errorf("database.driver must be memory, sqlite or mysql, got %q", c.Database.Driver)
	}
	if c.Game.MinTeams < 1 || c.Game.MaxTeams < c.Game.MinTeams {
		return fmt.Errorf("game team bounds invalid: min=%d max=%d", c.Game.MinTeams, c.Game.MaxTeams)
	}
	b := c.Game.Budget
	if b.Capacity <= 0 || b.StaffEnergy <= 0 || b.Cash <= 0 {
		return fmt.Errorf("game.budget values must be positive")
	}
	return nil
}
