package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

type Config struct {
	API     APIConfig
	Chain   ChainConfig
	Miner   MinerConfig
	Log     LogConfig
	Storage StorageConfig

	Profile string // cpu|mem|off
	Dump    bool
}

type APIConfig struct {
	Enabled      bool
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type ChainConfig struct {
	MineRate time.Duration
}

type MinerConfig struct {
	Enabled bool
	// KeyFile holds the hex ed25519 seed of the wallet that collects rewards. Created if missing.
	KeyFile string
}

type LogConfig struct {
	Level  string // debug|info|warn|error
	Format string // json|text
}

type StorageConfig struct {
	DataDir string
}

func Default() Config {
	return Config{
		API: APIConfig{
			Enabled:      true,
			ListenAddr:   "127.0.0.1:5000",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Chain: ChainConfig{
			MineRate: 4 * time.Second,
		},
		Miner: MinerConfig{
			Enabled: false,
			KeyFile: "data/miner.key",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			DataDir: "data",
		},
		Profile: "off",
	}
}

// Parse reads flags from args, falling back to POWCHAIN_* environment variables and then to Default.
func Parse(args []string) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("powchain", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var (
		apiEnabled = fs.Bool("api.enabled", envOrBool("POWCHAIN_API_ENABLED", cfg.API.Enabled), "Enable HTTP API")
		apiListen  = fs.String("api.listen", envOr("POWCHAIN_API_LISTEN", cfg.API.ListenAddr), "HTTP API listen address (ip:port)")

		mineRate = fs.Duration("chain.mineRate", envOrDuration("POWCHAIN_MINE_RATE", cfg.Chain.MineRate), "Target time between blocks")

		minerEnabled = fs.Bool("miner.enabled", envOrBool("POWCHAIN_MINER_ENABLED", cfg.Miner.Enabled), "Mine blocks continuously")
		minerKey     = fs.String("miner.key", envOr("POWCHAIN_MINER_KEY", cfg.Miner.KeyFile), "Path to the reward wallet key")

		logLevel  = fs.String("log.level", envOr("POWCHAIN_LOG_LEVEL", cfg.Log.Level), "Log level: debug|info|warn|error")
		logFormat = fs.String("log.format", envOr("POWCHAIN_LOG_FORMAT", cfg.Log.Format), "Log format: json|text")

		dataDir = fs.String("data.dir", envOr("POWCHAIN_DATA_DIR", cfg.Storage.DataDir), "Data directory for the block store")

		prof = fs.String("profile", envOr("POWCHAIN_PROFILE", cfg.Profile), "Profile the process: cpu|mem|off")
		dump = fs.Bool("dump", false, "Print the persisted chain and exit")
	)

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.API.Enabled = *apiEnabled
	cfg.API.ListenAddr = strings.TrimSpace(*apiListen)
	cfg.Chain.MineRate = *mineRate
	cfg.Miner.Enabled = *minerEnabled
	cfg.Miner.KeyFile = strings.TrimSpace(*minerKey)
	cfg.Log.Level = strings.TrimSpace(*logLevel)
	cfg.Log.Format = strings.TrimSpace(*logFormat)
	cfg.Storage.DataDir = strings.TrimSpace(*dataDir)
	cfg.Profile = strings.ToLower(strings.TrimSpace(*prof))
	cfg.Dump = *dump

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Chain.MineRate <= 0 {
		return errors.Newf("chain.mineRate must be positive, got %s", cfg.Chain.MineRate)
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.Newf("invalid log.level: %q", cfg.Log.Level)
	}

	switch strings.ToLower(cfg.Log.Format) {
	case "json", "text":
	default:
		return errors.Newf("invalid log.format: %q", cfg.Log.Format)
	}

	switch cfg.Profile {
	case "cpu", "mem", "off":
	default:
		return errors.Newf("invalid profile: %q", cfg.Profile)
	}

	if cfg.API.Enabled && cfg.API.ListenAddr == "" {
		return errors.New("api.listen must not be empty when api.enabled=true")
	}
	if cfg.Miner.Enabled && cfg.Miner.KeyFile == "" {
		return errors.New("miner.key must not be empty when miner.enabled=true")
	}
	if cfg.Storage.DataDir == "" {
		return errors.New("data.dir must not be empty")
	}
	return nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envOrBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
