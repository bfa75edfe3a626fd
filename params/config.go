package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Replay struct {
	// StepInterval is the playback period at speed 1x.
	StepInterval time.Duration
	// CheckpointInterval is the wall-clock period between checkpoints while a
	// session has unsaved progress. Zero disables the interval loop; pause still
	// checkpoints.
	CheckpointInterval time.Duration
	PersistTimeout     time.Duration
	PersistRetries     int
	BaseResolution     string
}

type Engine struct {
	InitialBalance     decimal.Decimal
	CommissionBps      decimal.Decimal // charged round-turn on entry notional
	SwapLongBpsPerDay  decimal.Decimal
	SwapShortBpsPerDay decimal.Decimal
	QuantityPrecision  int32 // decimal places kept by risk-based sizing
}

type Drawing struct {
	HitTolerancePx float64
	Magnet         bool
}

type Storage struct {
	DataDir     string // pebble directory; empty keeps everything in memory
	JournalPath string // JSONL sink; empty disables
	PostgresDSN string // gorm sink; empty disables
}

type Feed struct {
	Source             string // csv | pebble | clickhouse | binance
	CSVDir             string
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	BinanceAPIKey      string
	BinanceSecretKey   string
	BinanceRateLimit   float64 // requests per second
}

type Server struct {
	Addr           string
	AllowedOrigins []string
	LogFile        string
}

type Config struct {
	Replay  Replay
	Engine  Engine
	Drawing Drawing
	Storage Storage
	Feed    Feed
	Server  Server
}

func Default() Config {
	return Config{
		Replay: Replay{
			StepInterval:       500 * time.Millisecond,
			CheckpointInterval: 30 * time.Second,
			PersistTimeout:     5 * time.Second,
			PersistRetries:     2,
			BaseResolution:     "1m",
		},
		Engine: Engine{
			InitialBalance:     decimal.NewFromInt(100000),
			CommissionBps:      decimal.Zero,
			SwapLongBpsPerDay:  decimal.Zero,
			SwapShortBpsPerDay: decimal.Zero,
			QuantityPrecision:  4,
		},
		Drawing: Drawing{
			HitTolerancePx: 5,
			Magnet:         false,
		},
		Storage: Storage{
			DataDir: "data/replay.db",
		},
		Feed: Feed{
			Source:             "csv",
			CSVDir:             "data/candles",
			ClickHouseAddr:     "localhost:9000",
			ClickHouseDatabase: "backtest",
			BinanceRateLimit:   10,
		},
		Server: Server{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
			LogFile:        "data/replayd.log",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	envDuration("REPLAY_STEP_MS", &cfg.Replay.StepInterval)
	envDuration("REPLAY_CHECKPOINT_MS", &cfg.Replay.CheckpointInterval)
	envDuration("REPLAY_PERSIST_TIMEOUT_MS", &cfg.Replay.PersistTimeout)
	if v := os.Getenv("REPLAY_PERSIST_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Replay.PersistRetries = n
		}
	}
	cfg.Replay.BaseResolution = getEnv("BASE_RESOLUTION", cfg.Replay.BaseResolution)

	envDecimal("INITIAL_BALANCE", &cfg.Engine.InitialBalance)
	envDecimal("COMMISSION_BPS", &cfg.Engine.CommissionBps)
	envDecimal("SWAP_LONG_BPS_DAY", &cfg.Engine.SwapLongBpsPerDay)
	envDecimal("SWAP_SHORT_BPS_DAY", &cfg.Engine.SwapShortBpsPerDay)
	if v := os.Getenv("QUANTITY_PRECISION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Engine.QuantityPrecision = int32(n)
		}
	}

	if v := os.Getenv("HIT_TOLERANCE_PX"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Drawing.HitTolerancePx = f
		}
	}
	if v := os.Getenv("MAGNET"); v != "" {
		cfg.Drawing.Magnet = v == "true"
	}

	cfg.Storage.DataDir = getEnv("DATA_DIR", cfg.Storage.DataDir)
	cfg.Storage.JournalPath = getEnv("JOURNAL_PATH", cfg.Storage.JournalPath)
	cfg.Storage.PostgresDSN = getEnv("POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.Feed.Source = getEnv("FEED_SOURCE", cfg.Feed.Source)
	cfg.Feed.CSVDir = getEnv("CSV_DIR", cfg.Feed.CSVDir)
	cfg.Feed.ClickHouseAddr = getEnv("CLICKHOUSE_ADDR", cfg.Feed.ClickHouseAddr)
	cfg.Feed.ClickHouseDatabase = getEnv("CLICKHOUSE_DB", cfg.Feed.ClickHouseDatabase)
	cfg.Feed.ClickHouseUser = getEnv("CLICKHOUSE_USER", cfg.Feed.ClickHouseUser)
	cfg.Feed.ClickHousePassword = getEnv("CLICKHOUSE_PASSWORD", cfg.Feed.ClickHousePassword)
	cfg.Feed.BinanceAPIKey = getEnv("BINANCE_API_KEY", cfg.Feed.BinanceAPIKey)
	cfg.Feed.BinanceSecretKey = getEnv("BINANCE_SECRET_KEY", cfg.Feed.BinanceSecretKey)
	if v := os.Getenv("BINANCE_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Feed.BinanceRateLimit = f
		}
	}

	cfg.Server.Addr = getEnv("API_ADDR", cfg.Server.Addr)
	cfg.Server.LogFile = getEnv("LOG_FILE", cfg.Server.LogFile)
	// Example: "http://localhost:3000,https://replay.example.com"
	if origins := os.Getenv("API_ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = splitList(origins)
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			*dst = time.Duration(ms) * time.Millisecond
		}
	}
}

func envDecimal(key string, dst *decimal.Decimal) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
