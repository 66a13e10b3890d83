package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del trader.
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Risk     RiskConfig     `yaml:"risk"`
	Workers  WorkersConfig  `yaml:"workers"`
	Strategy StrategyConfig `yaml:"strategy"`
	Broker   BrokerConfig   `yaml:"broker"`
	Storage  StorageConfig  `yaml:"storage"`
	Notify   NotifyConfig   `yaml:"notify"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`

	// Credentials se carga solo desde el entorno, nunca desde YAML.
	Credentials Credentials `yaml:"-"`
}

// EngineConfig controla los ciclos del engine.
type EngineConfig struct {
	ReconcileIntervalSeconds int     `yaml:"reconcile_interval_seconds"`
	PriceMonitorSeconds      int     `yaml:"price_monitor_seconds"`
	StopTimeoutSeconds       int     `yaml:"stop_timeout_seconds"`
	BrokerRatePerSec         int     `yaml:"broker_rate_per_sec"`
	SnapshotPath             string  `yaml:"snapshot_path"`
	AllowDegraded            bool    `yaml:"allow_degraded"` // override operador: tradear tras recovery FAILED
	StopLossPct              float64 `yaml:"stop_loss_pct"`
	TakeProfitPct            float64 `yaml:"take_profit_pct"`
}

// RiskConfig controla los límites del RiskManager.
type RiskConfig struct {
	MaxPositionValue  float64 `yaml:"max_position_value"`  // exposición máxima por símbolo
	MaxTotalPositions int     `yaml:"max_total_positions"` // nº máximo de posiciones abiertas
	DailyLossLimitPct float64 `yaml:"daily_loss_limit_pct"`
}

// WorkersConfig controla los worker loops.
type WorkersConfig struct {
	Count                int      `yaml:"count"`
	ScanIntervalSeconds  int      `yaml:"scan_interval_seconds"`
	HeartbeatSeconds     int      `yaml:"heartbeat_seconds"`
	LockTTLSeconds       int      `yaml:"lock_ttl_seconds"`
	ConfidenceThreshold  float64  `yaml:"confidence_threshold"`
	LockSweepSeconds     int      `yaml:"lock_sweep_seconds"`
	DeadMonitorSeconds   int      `yaml:"dead_monitor_seconds"`
	Watchlist            []string `yaml:"watchlist"`
}

// StrategyConfig parametriza la estrategia de momentum incorporada.
type StrategyConfig struct {
	Lookback int     `yaml:"lookback"` // nº de quotes en la ventana
	BuyPct   float64 `yaml:"buy_pct"`  // subida sobre el mínimo que dispara compra
	SellPct  float64 `yaml:"sell_pct"` // PnL que dispara la salida
}

// BrokerConfig contiene los endpoints del broker.
type BrokerConfig struct {
	RESTBase     string `yaml:"rest_base"`
	RealtimeBase string `yaml:"realtime_base"` // ws:// o wss://
	AccountID    string `yaml:"account_id"`
}

// Credentials son los secretos del broker, solo vía variables de entorno.
type Credentials struct {
	AppKey    string `envconfig:"BROKER_APP_KEY"`
	AppSecret string `envconfig:"BROKER_APP_SECRET"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"

	// PruneEnabled activa la retención: borra locks EXPIRED de más de 7
	// días y workers EXITING de más de 30. Las órdenes y fills nunca se
	// borran.
	PruneEnabled bool `yaml:"prune_enabled"`
}

// NotifyConfig controla el sink de notificaciones.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"` // vacío → solo consola
}

// MetricsConfig controla el endpoint de Prometheus.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // vacío → metrics deshabilitadas
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si
// existe. Los secretos del broker vienen siempre del entorno.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	if err := envconfig.Process("", &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("config.Load: credentials: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// ReconcileInterval devuelve el intervalo del reconciler como Duration.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Engine.ReconcileIntervalSeconds) * time.Second
}

// StopTimeout devuelve el tiempo máximo de espera en Engine.Stop.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Engine.StopTimeoutSeconds) * time.Second
}

// LockTTL devuelve el TTL de los stock locks como Duration.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Workers.LockTTLSeconds) * time.Second
}

// HeartbeatInterval devuelve el intervalo de latido de los workers.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Workers.HeartbeatSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("BROKER_REST_BASE"); v != "" {
		cfg.Broker.RESTBase = v
	}
	if v := os.Getenv("BROKER_ACCOUNT_ID"); v != "" {
		cfg.Broker.AccountID = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Engine.ReconcileIntervalSeconds <= 0 {
		cfg.Engine.ReconcileIntervalSeconds = 60
	}
	if cfg.Engine.PriceMonitorSeconds <= 0 {
		cfg.Engine.PriceMonitorSeconds = 5
	}
	if cfg.Engine.StopTimeoutSeconds <= 0 {
		cfg.Engine.StopTimeoutSeconds = 30
	}
	if cfg.Engine.BrokerRatePerSec <= 0 {
		cfg.Engine.BrokerRatePerSec = 10
	}
	if cfg.Engine.SnapshotPath == "" {
		cfg.Engine.SnapshotPath = "trading_state.json"
	}
	if cfg.Engine.StopLossPct <= 0 {
		cfg.Engine.StopLossPct = 0.03
	}
	if cfg.Engine.TakeProfitPct <= 0 {
		cfg.Engine.TakeProfitPct = 0.05
	}
	if cfg.Risk.MaxPositionValue <= 0 {
		cfg.Risk.MaxPositionValue = 10_000
	}
	if cfg.Risk.MaxTotalPositions <= 0 {
		cfg.Risk.MaxTotalPositions = 10
	}
	if cfg.Risk.DailyLossLimitPct <= 0 {
		cfg.Risk.DailyLossLimitPct = 0.05
	}
	if cfg.Workers.Count <= 0 {
		cfg.Workers.Count = 2
	}
	if cfg.Workers.ScanIntervalSeconds <= 0 {
		cfg.Workers.ScanIntervalSeconds = 10
	}
	if cfg.Workers.HeartbeatSeconds <= 0 {
		cfg.Workers.HeartbeatSeconds = 10
	}
	if cfg.Workers.LockTTLSeconds <= 0 {
		cfg.Workers.LockTTLSeconds = 300
	}
	if cfg.Workers.ConfidenceThreshold <= 0 {
		cfg.Workers.ConfidenceThreshold = 0.6
	}
	if cfg.Workers.LockSweepSeconds <= 0 {
		cfg.Workers.LockSweepSeconds = 60
	}
	if cfg.Workers.DeadMonitorSeconds <= 0 {
		cfg.Workers.DeadMonitorSeconds = 30
	}
	if cfg.Strategy.Lookback <= 0 {
		cfg.Strategy.Lookback = 20
	}
	if cfg.Strategy.BuyPct <= 0 {
		cfg.Strategy.BuyPct = 0.01
	}
	if cfg.Strategy.SellPct <= 0 {
		cfg.Strategy.SellPct = 0.02
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "stockbot.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
