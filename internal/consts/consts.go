package consts

import "time"

// 交易费用 / 计算预算相关默认值
const (
	MaxPriorityFeeLamports  uint64  = 1_000_000 // 单笔交易优先费上限（0.001 SOL）
	PriorityFeePercentile   float64 = 0.9       // 取近期优先费样本的 90 分位
	MaxComputeLimit         uint32  = 1_400_000 // 单笔交易计算单元上限
	ComputeLimitMarginRatio float64 = 0.1       // 模拟消耗的 10% 作为余量
	MinComputeLimitMargin   uint32  = 25_000    // 最小余量
	MicroLamportsPerLamport uint64  = 1_000_000
)

// 提交 / 确认相关默认值
const (
	RetryInterval       = 2 * time.Second        // 未确认时重新广播的间隔
	ProgressInterval    = 1 * time.Second        // 进度回调间隔
	ConfirmPollInterval = 500 * time.Millisecond // 轮询签名状态的间隔
	ExpiryTimeInBlocks  = 300                    // blockhash 有效窗口（区块高度）
)

// 批量读取账户相关默认值
const (
	MaxAccountsPerRequest = 100 // getMultipleAccounts 单次最多 100 个地址
	DefaultCacheTTL       = 30 * time.Second
)
