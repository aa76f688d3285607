package config

import (
	"time"

	"jewl-sol/pkg/logger"

	"gopkg.in/yaml.v3"
)

type LogConfig struct {
	Format   string `json:"format,default=console,options=console|json" yaml:"format"` // 日志格式，支持 "console" 或 "json"
	LogDir   string `json:"log_dir,optional" yaml:"log_dir"`                           // 日志目录（可为相对路径或绝对路径）
	Level    string `json:"level,default=info" yaml:"level"`                           // 日志级别：debug / info / warn / error
	Compress bool   `json:"compress,optional" yaml:"compress"`                         // 是否压缩旧日志文件
}

func (c *LogConfig) ToLogOption() logger.LogOption {
	return logger.LogOption{
		Format:   c.Format,
		LogDir:   c.LogDir,
		Level:    c.Level,
		Compress: c.Compress,
	}
}

// RpcConfig 表示 Solana JSON-RPC 节点配置
type RpcConfig struct {
	Endpoint              string `json:"endpoint" yaml:"endpoint"`                                             // RPC 地址，例如 https://api.mainnet-beta.solana.com
	RequestTimeoutMs      int    `json:"request_timeout_ms,default=10000" yaml:"request_timeout_ms"`           // 单次请求超时（毫秒）
	ConfirmPollIntervalMs int    `json:"confirm_poll_interval_ms,default=500" yaml:"confirm_poll_interval_ms"` // 轮询签名状态的间隔（毫秒）
}

func (c *RpcConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

func (c *RpcConfig) ConfirmPollInterval() time.Duration {
	return time.Duration(c.ConfirmPollIntervalMs) * time.Millisecond
}

// GeyserConfig 表示可选的 Yellowstone gRPC 确认通道，Endpoint 为空时使用 RPC 轮询确认
type GeyserConfig struct {
	Endpoint  string `json:"endpoint,optional" yaml:"endpoint"`   // gRPC 服务端地址
	XToken    string `json:"x_token,optional" yaml:"x_token"`     // x-token 认证
	Plaintext bool   `json:"plaintext,optional" yaml:"plaintext"` // 不使用 TLS（本地节点）

	// 应用级逻辑心跳（ping）配置
	StreamPingIntervalSec int `json:"stream_ping_interval_sec,default=10" yaml:"stream_ping_interval_sec"`

	// gRPC Keepalive 底层连接检测配置
	KeepalivePingIntervalSec int `json:"keepalive_ping_interval_sec,default=15" yaml:"keepalive_ping_interval_sec"`
	KeepalivePingTimeoutSec  int `json:"keepalive_ping_timeout_sec,default=5" yaml:"keepalive_ping_timeout_sec"`

	// gRPC 窗口大小调优
	InitialWindowSize     int `json:"initial_window_size,default=1048576" yaml:"initial_window_size"`
	InitialConnWindowSize int `json:"initial_conn_window_size,default=1048576" yaml:"initial_conn_window_size"`

	MaxCallRecvMsgSize int `json:"max_call_recv_msg_size,default=16777216" yaml:"max_call_recv_msg_size"` // 单条消息最大接收字节数

	ConnectTimeoutSec int `json:"connect_timeout_sec,default=10" yaml:"connect_timeout_sec"` // 连接建立超时（秒）
	SendTimeoutSec    int `json:"send_timeout_sec,default=5" yaml:"send_timeout_sec"`       // 发送超时（秒）
}

func (c *GeyserConfig) Enabled() bool {
	return c.Endpoint != ""
}

// NetworkConfig 描述目标集群及可覆盖的程序 / mint 地址（base58，留空使用集群预设）
type NetworkConfig struct {
	Cluster                string `json:"cluster,default=mainnet-beta,options=mainnet-beta|devnet|testnet|localnet" yaml:"cluster"`
	ProgramID              string `json:"program_id,optional" yaml:"program_id"`
	MetadataProgramID      string `json:"metadata_program_id,optional" yaml:"metadata_program_id"`
	TokenProgramID         string `json:"token_program_id,optional" yaml:"token_program_id"`
	Token2022ProgramID     string `json:"token_2022_program_id,optional" yaml:"token_2022_program_id"`
	AssociatedTokenProgram string `json:"associated_token_program_id,optional" yaml:"associated_token_program_id"`
	SolMint                string `json:"sol_mint,optional" yaml:"sol_mint"`
	UsdcMint               string `json:"usdc_mint,optional" yaml:"usdc_mint"`
	UsdtMint               string `json:"usdt_mint,optional" yaml:"usdt_mint"`
	ExternalURL            string `json:"external_url,optional" yaml:"external_url"` // 链下 metadata 要求的 external_url，留空不校验
}

// SubmitConfig 表示交易提交引擎参数
type SubmitConfig struct {
	RetryIntervalMs       int     `json:"retry_interval_ms,default=2000" yaml:"retry_interval_ms"`                    // 未确认时重新广播的间隔（毫秒）
	ProgressIntervalMs    int     `json:"progress_interval_ms,default=1000" yaml:"progress_interval_ms"`              // 进度回调间隔（毫秒）
	MaxPriorityFeeLamport uint64  `json:"max_priority_fee_lamports,default=1000000" yaml:"max_priority_fee_lamports"` // 单笔交易优先费上限（lamports）
	PriorityPercentile    float64 `json:"priority_percentile,default=0.9" yaml:"priority_percentile"`                 // 近期优先费分位
	MaxComputeLimit       uint32  `json:"max_compute_limit,default=1400000" yaml:"max_compute_limit"`                 // 计算单元上限
	MinComputeMargin      uint32  `json:"min_compute_margin,default=25000" yaml:"min_compute_margin"`                 // 最小余量
	ComputeMarginRatio    float64 `json:"compute_margin_ratio,default=0.1" yaml:"compute_margin_ratio"`               // 余量比例
}

func (c *SubmitConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMs) * time.Millisecond
}

func (c *SubmitConfig) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressIntervalMs) * time.Millisecond
}

// FetchConfig 表示批量读取账户的参数
type FetchConfig struct {
	MaxBatchSize int `json:"max_batch_size,default=100" yaml:"max_batch_size"` // 单次 getMultipleAccounts 最多地址数
	Parallelism  int `json:"parallelism,default=4" yaml:"parallelism"`         // 并发请求的 chunk 数
}

// CacheConfig 表示 TTL 缓存配置
type CacheConfig struct {
	DefaultTTLSec int    `json:"default_ttl_sec,default=30" yaml:"default_ttl_sec"` // 默认缓存时长（秒）
	SingleFlight  bool   `json:"single_flight,optional" yaml:"single_flight"`       // 同 key 并发 miss 时合并为一次请求
	RedisAddr     string `json:"redis_addr,optional" yaml:"redis_addr"`             // 二级缓存 Redis 地址，留空不启用
	RedisPrefix   string `json:"redis_prefix,default=jewl:cache" yaml:"redis_prefix"`
}

func (c *CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSec) * time.Second
}

// JournalConfig 表示提交记录（Redis 热状态 + PostgreSQL 持久化）
type JournalConfig struct {
	RedisAddr        string `json:"redis_addr,optional" yaml:"redis_addr"`     // Redis 地址，留空不记录热状态
	PostgresDSN      string `json:"postgres_dsn,optional" yaml:"postgres_dsn"` // PostgreSQL 数据源，留空不落库
	FlushIntervalSec int    `json:"flush_interval_sec,default=5" yaml:"flush_interval_sec"`
	StatusTTLHours   int    `json:"status_ttl_hours,default=72" yaml:"status_ttl_hours"`
}

func (c *JournalConfig) Enabled() bool {
	return c.RedisAddr != "" || c.PostgresDSN != ""
}

// KafkaProducerConfig 表示 Kafka 生产者相关配置，Brokers 为空时不发布提交结果
type KafkaProducerConfig struct {
	Brokers       string `json:"brokers,optional" yaml:"brokers"`                     // Kafka broker 地址，多个用英文逗号分隔
	BatchSize     int    `json:"batch_size,default=32768" yaml:"batch_size"`          // 批处理大小（单位字节）
	LingerMs      int    `json:"linger_ms,default=5" yaml:"linger_ms"`                // 批处理最大延迟（毫秒）
	Topic         string `json:"topic,default=jewl_submission" yaml:"topic"`          // 提交结果的 Kafka topic
	Partitions    int    `json:"partitions,default=4" yaml:"partitions"`              // topic 分区数
	SendTimeoutMs int    `json:"send_timeout_ms,default=3000" yaml:"send_timeout_ms"` // 单条消息发送并等待 ack 的超时时间
}

func (c *KafkaProducerConfig) Enabled() bool {
	return c.Brokers != ""
}

// StateSyncConfig 表示链上状态定时同步
type StateSyncConfig struct {
	IntervalSec int      `json:"interval_sec,default=30" yaml:"interval_sec"`
	Wallets     []string `json:"wallets,optional" yaml:"wallets"` // 需要定时刷新 allocation 的钱包
}

// Config 是主配置结构体。各分节不可标记 optional，否则分节缺省时字段 default 不生效
type Config struct {
	LogConf       LogConfig           `json:"logger" yaml:"logger"`                 // 日志配置
	RpcConf       RpcConfig           `json:"rpc" yaml:"rpc"`                       // RPC 节点配置
	GeyserConf    GeyserConfig        `json:"geyser" yaml:"geyser"`                 // gRPC 确认通道
	NetworkConf   NetworkConfig       `json:"network" yaml:"network"`               // 集群与地址
	SubmitConf    SubmitConfig        `json:"submit" yaml:"submit"`                 // 交易提交
	FetchConf     FetchConfig         `json:"fetch" yaml:"fetch"`                   // 批量读取
	CacheConf     CacheConfig         `json:"cache" yaml:"cache"`                   // 缓存
	JournalConf   JournalConfig       `json:"journal" yaml:"journal"`               // 提交记录
	KafkaConf     KafkaProducerConfig `json:"kafka_producer" yaml:"kafka_producer"` // Kafka 生产者
	StateSyncConf StateSyncConfig     `json:"state_sync" yaml:"state_sync"`         // 定时同步
}

const redacted = "******"

// Redacted 返回脱敏后的 YAML 配置，用于启动日志
func (c Config) Redacted() string {
	if c.GeyserConf.XToken != "" {
		c.GeyserConf.XToken = redacted
	}
	if c.JournalConf.PostgresDSN != "" {
		c.JournalConf.PostgresDSN = redacted
	}
	out, err := yaml.Marshal(&c)
	if err != nil {
		return err.Error()
	}
	return string(out)
}
