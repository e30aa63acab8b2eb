package app

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/Evgen-Mutagen/collateral-ledger/internal/repository"
	"github.com/Evgen-Mutagen/collateral-ledger/internal/service"
)

type Config struct {
	RunAddress     string  `toml:"run_address"`
	DatabaseURI    string  `toml:"database_uri"`
	LogLevel       string  `toml:"log_level"`
	LogFile        string  `toml:"log_file"`
	JWTSecretKey   string  `toml:"jwt_secret_key"`
	MigrationsPath string  `toml:"migrations_path"`
	Storage        string  `toml:"storage"`
	LevelDBPath    string  `toml:"leveldb_path"`
	Denom          string  `toml:"denom"`
	LTVBps         uint64  `toml:"ltv_bps"`
	RateLimitRPM   float64 `toml:"rate_limit_rpm"`
	RateLimitBurst int     `toml:"rate_limit_burst"`

	ConfigFile string `toml:"-"`
}

func defaultConfig() *Config {
	return &Config{
		RunAddress:     "localhost:8080",
		LogLevel:       "debug",
		MigrationsPath: "./migrations",
		Storage:        repository.StorageMemory,
		LevelDBPath:    "./data/ledger",
		Denom:          "ucollateral",
		LTVBps:         5000,
		RateLimitRPM:   600,
		RateLimitBurst: 20,
	}
}

func NewConfigFromFlags() *Config {
	cfg, err := LoadConfig(os.Args[1:], os.Getenv)
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

// LoadConfig resolves settings from defaults, then the TOML file given by
// -config, then command line flags, then environment variables.
func LoadConfig(args []string, getenv func(string) string) (*Config, error) {
	cfg := defaultConfig()
	if err := cfg.flagSet().Parse(args); err != nil {
		return nil, err
	}

	if cfg.ConfigFile != "" {
		fileCfg := defaultConfig()
		if _, err := toml.DecodeFile(cfg.ConfigFile, fileCfg); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", cfg.ConfigFile, err)
		}
		fileCfg.ConfigFile = cfg.ConfigFile
		// Flags given explicitly win over the file.
		if err := fileCfg.flagSet().Parse(args); err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	if err := cfg.applyEnvVars(getenv); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) flagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("ledgerd", flag.ContinueOnError)
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "Path to TOML config file")
	fs.StringVar(&c.RunAddress, "a", c.RunAddress, "Server address (env: RUN_ADDRESS)")
	fs.StringVar(&c.DatabaseURI, "d", c.DatabaseURI, "Database URI (env: DATABASE_URI)")
	fs.StringVar(&c.LogLevel, "l", c.LogLevel, "Log level (debug|info|warn|error) (env: LOG_LEVEL)")
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "Rotated log file (env: LOG_FILE)")
	fs.StringVar(&c.JWTSecretKey, "jwt-secret", c.JWTSecretKey, "JWT secret key (env: JWT_SECRET_KEY)")
	fs.StringVar(&c.MigrationsPath, "migrations", c.MigrationsPath, "Path to migrations folder (env: MIGRATIONS_PATH)")
	fs.StringVar(&c.Storage, "storage", c.Storage, "Storage backend memory|leveldb|postgres (env: STORAGE)")
	fs.StringVar(&c.LevelDBPath, "leveldb-path", c.LevelDBPath, "LevelDB directory (env: LEVELDB_PATH)")
	fs.StringVar(&c.Denom, "denom", c.Denom, "Accepted collateral denom (env: LEDGER_DENOM)")
	fs.Uint64Var(&c.LTVBps, "ltv-bps", c.LTVBps, "Loan-to-value ratio in basis points (env: LEDGER_LTV_BPS)")
	fs.Float64Var(&c.RateLimitRPM, "rate-limit", c.RateLimitRPM, "Requests per minute per client, 0 disables (env: RATE_LIMIT_RPM)")
	fs.IntVar(&c.RateLimitBurst, "rate-burst", c.RateLimitBurst, "Rate limiter burst")
	return fs
}

func (c *Config) applyEnvVars(getenv func(string) string) error {
	vars := map[string]*string{
		"RUN_ADDRESS":     &c.RunAddress,
		"DATABASE_URI":    &c.DatabaseURI,
		"LOG_LEVEL":       &c.LogLevel,
		"LOG_FILE":        &c.LogFile,
		"JWT_SECRET_KEY":  &c.JWTSecretKey,
		"MIGRATIONS_PATH": &c.MigrationsPath,
		"STORAGE":         &c.Storage,
		"LEVELDB_PATH":    &c.LevelDBPath,
		"LEDGER_DENOM":    &c.Denom,
	}
	for name, dst := range vars {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}

	if v := getenv("LEDGER_LTV_BPS"); v != "" {
		ltv, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid LEDGER_LTV_BPS %q: %w", v, err)
		}
		c.LTVBps = ltv
	}
	if v := getenv("RATE_LIMIT_RPM"); v != "" {
		rpm, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_RPM %q: %w", v, err)
		}
		c.RateLimitRPM = rpm
	}
	return nil
}

func (c *Config) validate() error {
	if c.JWTSecretKey == "" {
		return errors.New("JWT secret key is required (use -jwt-secret flag or JWT_SECRET_KEY env)")
	}
	switch c.Storage {
	case repository.StorageMemory:
	case repository.StorageLevelDB:
		if c.LevelDBPath == "" {
			return errors.New("LevelDB path is required (use -leveldb-path flag or LEVELDB_PATH env)")
		}
	case repository.StoragePostgres:
		if c.DatabaseURI == "" {
			return errors.New("Database URI is required (use -d flag or DATABASE_URI env)")
		}
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}
	return c.LedgerParams().Validate()
}

func (c *Config) LedgerParams() service.LedgerParams {
	return service.LedgerParams{Denom: c.Denom, LTVBps: c.LTVBps}
}

func (c *Config) StoreConfig() repository.StoreConfig {
	return repository.StoreConfig{
		Kind:           c.Storage,
		DSN:            c.DatabaseURI,
		MigrationsPath: c.MigrationsPath,
		LevelDBPath:    c.LevelDBPath,
	}
}

func (c *Config) MaskDBPassword() string {
	u, err := url.Parse(c.DatabaseURI)
	if err != nil {
		return c.DatabaseURI
	}

	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}
