package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8000" validate:"gt=0,lt=65536"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		StaticDir       string        `yaml:"static_dir"`
		CORSOrigins     []string      `yaml:"cors_origins" default:"[\"*\"]"`
		CreateRate      struct {
			Capacity     float64 `yaml:"capacity" default:"3"`
			RefillPerSec float64 `yaml:"refill_per_sec" default:"0.2"`
		} `yaml:"create_rate"`
	} `yaml:"server"`
	Log struct {
		Level   string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format  string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output  string `yaml:"output" default:"stdout"`
		Collect struct {
			Enabled        bool          `yaml:"enabled"`
			Path           string        `yaml:"path" default:"logs/errors"`
			TimeInterval   time.Duration `yaml:"time_interval" default:"30s"`
			CountThreshold int           `yaml:"count_threshold" default:"100"`
		} `yaml:"collect"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Signal struct {
		Symbol       string `yaml:"symbol" default:"BTC/USD" validate:"required"`
		IntervalFile string `yaml:"interval_file" default:"interval.txt"`
		// Interval is used when the interval file is absent.
		Interval     string `yaml:"interval" default:"30min" validate:"required"`
		IDDigits     int    `yaml:"id_digits" default:"5" validate:"gte=3,lte=12"`
		IDAttempts   int    `yaml:"id_attempts" default:"5" validate:"gte=1"`
		RequirePrice bool   `yaml:"require_price"`
		UTCOffset    int    `yaml:"utc_offset_hours" default:"3" validate:"gte=-12,lte=14"`
	} `yaml:"signal"`
	Scheduler struct {
		PollInterval  time.Duration `yaml:"poll_interval" default:"10s"`
		HoldingPeriod time.Duration `yaml:"holding_period" default:"30m"`
		Policy        string        `yaml:"policy" default:"retry" validate:"oneof=retry clear"`
		MaxAttempts   int           `yaml:"max_attempts" default:"5" validate:"gte=1"`
		BackoffMin    time.Duration `yaml:"backoff_min" default:"30s"`
		BackoffMax    time.Duration `yaml:"backoff_max" default:"10m"`
	} `yaml:"scheduler"`
	TwelveData struct {
		APIKey   string        `yaml:"api_key"`
		BaseURL  string        `yaml:"base_url" default:"https://api.twelvedata.com"`
		Timeout  time.Duration `yaml:"timeout" default:"20s"`
		RPS      float64       `yaml:"rps" default:"4"`
		Burst    int           `yaml:"burst" default:"4"`
		FastEMA  int           `yaml:"fast_ema" default:"12"`
		SlowEMA  int           `yaml:"slow_ema" default:"26"`
	} `yaml:"twelvedata"`
	Price struct {
		Source  string        `yaml:"source" default:"http" validate:"oneof=http finnhub"`
		URL     string        `yaml:"url" default:"https://min-api.cryptocompare.com/data/price?fsym=BTC&tsyms=USD"`
		Field   string        `yaml:"field" default:"USD"`
		Timeout time.Duration `yaml:"timeout" default:"15s"`
		Finnhub struct {
			APIKey         string        `yaml:"api_key"`
			WebSocketURL   string        `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
			Symbol         string        `yaml:"symbol" default:"BINANCE:BTCUSDT"`
			ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
			PingInterval   time.Duration `yaml:"ping_interval" default:"20s"`
			MaxAge         time.Duration `yaml:"max_age" default:"2m"`
		} `yaml:"finnhub"`
	} `yaml:"price"`
	Predictor struct {
		URL     string        `yaml:"url" default:"https://crisdeyvid-gema-ai-model.hf.space/predict" validate:"required,url"`
		Timeout time.Duration `yaml:"timeout" default:"20s"`
	} `yaml:"predictor"`
	Firebase struct {
		URL      string        `yaml:"url" validate:"required,url"`
		AuthKey  string        `yaml:"auth_key"`
		Timeout  time.Duration `yaml:"timeout" default:"10s"`
		CacheTTL time.Duration `yaml:"cache_ttl" default:"8s"`
		// CacheSize bounds the in-process read cache.
		CacheSize int `yaml:"cache_size" default:"1000" validate:"gt=0"`
	} `yaml:"firebase"`
	Pending struct {
		Backend string `yaml:"backend" default:"bolt" validate:"oneof=bolt redis memory file"`
		Path    string `yaml:"path" default:"data/pending.db"`
		// SlotFile is the single-slot JSON file used by the file backend.
		SlotFile string `yaml:"slot_file" default:"shared_preferences.json"`
	} `yaml:"pending"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"signalbridge"`
	} `yaml:"redis"`
	RequestLog struct {
		Path       string `yaml:"path" default:"logs.json"`
		MaxEntries int    `yaml:"max_entries" default:"500" validate:"gt=0"`
	} `yaml:"request_log"`
	Events struct {
		Backend string `yaml:"backend" default:"none" validate:"oneof=none kafka clickhouse"`
	} `yaml:"events"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"signals"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"100ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"signalbridge"`
		Table            string        `yaml:"table" default:"signal_events"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file. A missing file yields
// the defaults so the service can run from environment variables alone.
func Load(path string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML, overrides with environment variables
// (after a best-effort .env load) and validates the result.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("TWELVE_API_KEY"); v != "" {
		c.TwelveData.APIKey = v
	}
	if v := getenv("SYMBOL"); v != "" {
		c.Signal.Symbol = v
	}
	if v := getenv("MODEL_URL"); v != "" {
		c.Predictor.URL = v
	}
	if v := getenv("CRYPTO_API"); v != "" {
		c.Price.URL = v
	}
	if v := getenv("FIREBASE_DB_URL"); v != "" {
		c.Firebase.URL = v
	}
	if v := getenv("FIREBASE_URL"); v != "" {
		c.Firebase.URL = v
	}
	c.Firebase.URL = strings.TrimRight(c.Firebase.URL, "/")
	if v := getenv("SHARED_PREFS"); v != "" {
		c.Pending.SlotFile = v
	}
	if v := getenv("LOGS_FILE"); v != "" {
		c.RequestLog.Path = v
	}
	if v := getenv("FRONTEND_DIR"); v != "" {
		c.Server.StaticDir = v
	}
	if v := getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := getenv("HOLDING_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Scheduler.HoldingPeriod = d
		}
	}
	if v := getenv("PENDING_BACKEND"); v != "" {
		c.Pending.Backend = v
	}
	if v := getenv("EVENTS_BACKEND"); v != "" {
		c.Events.Backend = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be positive")
	}
	if c.Scheduler.HoldingPeriod <= 0 {
		return fmt.Errorf("scheduler.holding_period must be positive")
	}
	if c.Scheduler.BackoffMax < c.Scheduler.BackoffMin {
		return fmt.Errorf("scheduler.backoff_max must be >= backoff_min")
	}
	if c.Pending.Backend == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("pending.backend 'redis' requires redis.enabled")
	}
	if c.Price.Source == "finnhub" && c.Price.Finnhub.APIKey == "" {
		return fmt.Errorf("price.finnhub.api_key is required for the finnhub source")
	}
	switch c.Events.Backend {
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers cannot be empty when events.backend is kafka")
		}
	case "clickhouse":
		if c.ClickHouse.Host == "" {
			return fmt.Errorf("clickhouse.host is required when events.backend is clickhouse")
		}
	}
	return nil
}

// Location returns the fixed zone used for human-readable timestamps.
func (c *Config) Location() *time.Location {
	off := c.Signal.UTCOffset
	return time.FixedZone(fmt.Sprintf("UTC%+d", off), off*3600)
}
