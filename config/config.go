package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Backend BackendConfig `mapstructure:"backend"`
	Chain   ChainConfig   `mapstructure:"chain"`
	Share   ShareConfig   `mapstructure:"share"`
	MySQL   MySQLConfig   `mapstructure:"mysql"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Vote    VoteConfig    `mapstructure:"vote"`
	Claim   ClaimConfig   `mapstructure:"claim"`
	ETCD    ETCDConfig    `mapstructure:"etcd"`
	GraphQL GraphQLConfig `mapstructure:"graphql"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// BackendConfig BRND后端API配置
type BackendConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	AuthToken string        `mapstructure:"auth_token"`
}

// ChainConfig 链上交易网关配置
type ChainConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	ChainID        int64         `mapstructure:"chain_id"`
	TokenAddress   string        `mapstructure:"token_address"`
	VoteAddress    string        `mapstructure:"vote_address"`
	WalletKey      string        `mapstructure:"wallet_key"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	TokenDecimals  int           `mapstructure:"token_decimals"`
}

// ShareConfig 社交分享配置
type ShareConfig struct {
	PublisherURL string        `mapstructure:"publisher_url"`
	APIKey       string        `mapstructure:"api_key"`
	EmbedBaseURL string        `mapstructure:"embed_base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type MySQLConfig struct {
	Master       string `mapstructure:"master"`
	Slave        string `mapstructure:"slave"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	// 数据存储Redis
	DataAddress string        `mapstructure:"data_address"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Timeout     time.Duration `mapstructure:"timeout"`

	// Redlock使用的Redis节点
	LockAddresses []string `mapstructure:"lock_addresses"`
}

type KafkaConfig struct {
	Brokers   []string `mapstructure:"brokers"`
	Topic     string   `mapstructure:"topic"`
	Partition int      `mapstructure:"partition"`
	GroupID   string   `mapstructure:"group_id"`
}

// VoteConfig 投票编排配置
type VoteConfig struct {
	// 投票确认后等待后端回显voteId的重试参数
	StatusRetryCount int           `mapstructure:"status_retry_count"`
	StatusRetryDelay time.Duration `mapstructure:"status_retry_delay"`
	LockTimeout      time.Duration `mapstructure:"lock_timeout"`
	LockRetryCount   int           `mapstructure:"lock_retry_count"`
}

// ClaimConfig 领奖编排配置
type ClaimConfig struct {
	PollInitialDelay time.Duration `mapstructure:"poll_initial_delay"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	PollMaxElapsed   time.Duration `mapstructure:"poll_max_elapsed"`
}

type ETCDConfig struct {
	Endpoints      []string      `mapstructure:"endpoints"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
}

type GraphQLConfig struct {
	Path string `mapstructure:"path"`
}

var AppConfig Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return &AppConfig, nil
}
