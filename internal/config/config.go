package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`

	Chain          ChainConfig          `mapstructure:"chain"`
	Betting        BettingConfig        `mapstructure:"betting"`
	Settlement     SettlementConfig     `mapstructure:"settlement"`
	DepositWatcher DepositWatcherConfig `mapstructure:"deposit_watcher"`
	Reaper         ReaperConfig         `mapstructure:"reaper"`
	Auditor        AuditorConfig        `mapstructure:"auditor"`
	Notify         NotifyConfig         `mapstructure:"notify"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type ChainConfig struct {
	RPCURL        string        `mapstructure:"rpc_url"`
	ChainID       int64         `mapstructure:"chain_id"`
	EscrowAddress string        `mapstructure:"escrow_address"`
	TokenAddress  string        `mapstructure:"token_address"`
	TokenDecimals int32         `mapstructure:"token_decimals"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`

	// RelayerKey is the hex private key of the operational signer. Set it
	// via PP_CHAIN_RELAYER_KEY; never put it in the config file.
	RelayerKey     string        `mapstructure:"relayer_key"`
	ReceiptTimeout time.Duration `mapstructure:"receipt_timeout"`
}

type BettingConfig struct {
	LockTTL             time.Duration `mapstructure:"lock_ttl"`
	MutexAcquireTimeout time.Duration `mapstructure:"mutex_acquire_timeout"`
}

type SettlementConfig struct {
	RelayScanInterval time.Duration `mapstructure:"relay_scan_interval"`
	MaxRelayAttempts  int           `mapstructure:"max_relay_attempts"`
	StaleRunningAfter time.Duration `mapstructure:"stale_running_after"`
}

type DepositWatcherConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	BackfillBlocks uint64        `mapstructure:"backfill_blocks"`
	MaxBlockSpan   uint64        `mapstructure:"max_block_span"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type ReaperConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	FallbackAge   time.Duration `mapstructure:"fallback_age"`
	BatchSize     int           `mapstructure:"batch_size"`
}

type AuditorConfig struct {
	ScanInterval time.Duration `mapstructure:"scan_interval"`
	Epsilon      string        `mapstructure:"epsilon"`
	BatchSize    int           `mapstructure:"batch_size"`
}

type NotifyConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")

	v.SetDefault("chain.chain_id", 137)
	v.SetDefault("chain.token_decimals", 6)
	v.SetDefault("chain.call_timeout", "10s")
	v.SetDefault("chain.receipt_timeout", "90s")

	v.SetDefault("betting.lock_ttl", "10m")
	v.SetDefault("betting.mutex_acquire_timeout", "5s")

	v.SetDefault("settlement.relay_scan_interval", "15s")
	v.SetDefault("settlement.max_relay_attempts", 3)

	v.SetDefault("deposit_watcher.poll_interval", "30s")
	v.SetDefault("deposit_watcher.backfill_blocks", 10000)
	v.SetDefault("deposit_watcher.max_block_span", 5000)
	v.SetDefault("deposit_watcher.max_attempts", 5)
	v.SetDefault("deposit_watcher.initial_backoff", "500ms")
	v.SetDefault("deposit_watcher.max_backoff", "30s")

	v.SetDefault("reaper.sweep_interval", "1m")
	v.SetDefault("reaper.fallback_age", "30m")
	v.SetDefault("reaper.batch_size", 500)

	v.SetDefault("auditor.scan_interval", "10m")
	v.SetDefault("auditor.epsilon", "0.01")
	v.SetDefault("auditor.batch_size", 200)

	v.SetDefault("notify.timeout", "3s")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
