package estimator

import (
	"context"
	"fmt"
	"jewl-sol/internal/chain"
	"jewl-sol/internal/config"
	"jewl-sol/internal/consts"
	"jewl-sol/internal/pkg/txwire"
	"jewl-sol/internal/pkg/types"
	"jewl-sol/pkg/logger"
	"math"
	"sort"

	sdktypes "github.com/blocto/solana-go-sdk/types"
)

// placeholderBlockhash 模拟时由节点替换为最新 blockhash
const placeholderBlockhash = consts.SystemProgramStr

type Simulator interface {
	SimulateTransaction(ctx context.Context, tx []byte, cfg chain.SimulateConfig) (*chain.SimulateResult, error)
}

type FeeSampler interface {
	GetRecentPrioritizationFees(ctx context.Context, addrs []types.Pubkey) ([]chain.PrioritizationFee, error)
}

// Params 费用市场参数，零值字段使用默认值
type Params struct {
	MaxPriorityFeeLamports uint64  // 单笔交易优先费总额上限
	Percentile             float64 // 近期优先费样本分位
	MaxComputeLimit        uint32
	MinComputeMargin       uint32
	MarginRatio            float64
}

func DefaultParams() Params {
	return Params{
		MaxPriorityFeeLamports: consts.MaxPriorityFeeLamports,
		Percentile:             consts.PriorityFeePercentile,
		MaxComputeLimit:        consts.MaxComputeLimit,
		MinComputeMargin:       consts.MinComputeLimitMargin,
		MarginRatio:            consts.ComputeLimitMarginRatio,
	}
}

func ParamsFromConfig(c config.SubmitConfig) Params {
	return Params{
		MaxPriorityFeeLamports: c.MaxPriorityFeeLamport,
		Percentile:             c.PriorityPercentile,
		MaxComputeLimit:        c.MaxComputeLimit,
		MinComputeMargin:       c.MinComputeMargin,
		MarginRatio:            c.ComputeMarginRatio,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.MaxPriorityFeeLamports == 0 {
		p.MaxPriorityFeeLamports = d.MaxPriorityFeeLamports
	}
	if p.Percentile <= 0 || p.Percentile > 1 {
		p.Percentile = d.Percentile
	}
	if p.MaxComputeLimit == 0 {
		p.MaxComputeLimit = d.MaxComputeLimit
	}
	if p.MinComputeMargin == 0 {
		p.MinComputeMargin = d.MinComputeMargin
	}
	if p.MarginRatio <= 0 {
		p.MarginRatio = d.MarginRatio
	}
	return p
}

// Budget 交易的计算预算：单元上限与单价（micro-lamports）
type Budget struct {
	ComputeLimit uint32
	ComputePrice uint64
}

type Estimator struct {
	sim    Simulator
	fees   FeeSampler
	params Params
}

func New(sim Simulator, fees FeeSampler, params Params) *Estimator {
	return &Estimator{sim: sim, fees: fees, params: params.withDefaults()}
}

// EstimateComputeLimit 模拟交易得到消耗的计算单元并加上余量。
// 模拟失败、报错或返回 0 时回退到上限，这是整个流程中唯一吞掉错误的地方
func (e *Estimator) EstimateComputeLimit(ctx context.Context, payer types.Pubkey, ixs []sdktypes.Instruction) uint32 {
	units, err := e.simulateUnits(ctx, payer, ixs)
	if err != nil {
		logger.Debugf("[Estimator] 模拟失败，使用计算单元上限 %d: %v", e.params.MaxComputeLimit, err)
		return e.params.MaxComputeLimit
	}
	return e.limitFromUnits(units)
}

func (e *Estimator) limitFromUnits(units uint64) uint32 {
	margin := math.Max(float64(e.params.MinComputeMargin), e.params.MarginRatio*float64(units))
	estimated := math.Ceil(float64(units) + margin)
	if estimated >= float64(e.params.MaxComputeLimit) {
		return e.params.MaxComputeLimit
	}
	return uint32(estimated)
}

func (e *Estimator) simulateUnits(ctx context.Context, payer types.Pubkey, ixs []sdktypes.Instruction) (units uint64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("simulate panic: %v", r)
		}
	}()

	msg := sdktypes.NewMessage(sdktypes.NewMessageParam{
		FeePayer:        payer.ToCommon(),
		RecentBlockhash: placeholderBlockhash,
		Instructions:    ixs,
	})
	tx, err := txwire.SerializeUnsigned(msg)
	if err != nil {
		return 0, err
	}
	res, err := e.sim.SimulateTransaction(ctx, tx, chain.SimulateConfig{SigVerify: false, ReplaceRecentBlockhash: true})
	if err != nil {
		return 0, err
	}
	if res.Err != nil {
		return 0, fmt.Errorf("simulation error: %s", chain.FormatErr(res.Err))
	}
	if res.UnitsConsumed == 0 {
		return 0, fmt.Errorf("simulation returned no units consumed")
	}
	return res.UnitsConsumed, nil
}

// EstimateComputePrice 以指令涉及的可写账户为范围采样近期优先费，取分位值并按总额上限封顶
func (e *Estimator) EstimateComputePrice(ctx context.Context, ixs []sdktypes.Instruction, computeLimit uint32) (uint64, error) {
	samples, err := e.fees.GetRecentPrioritizationFees(ctx, WritableAccounts(ixs))
	if err != nil {
		return 0, fmt.Errorf("get recent prioritization fees: %w", err)
	}
	fees := make([]uint64, 0, len(samples))
	for _, s := range samples {
		fees = append(fees, s.Fee)
	}
	return e.priceFromSamples(fees, computeLimit), nil
}

func (e *Estimator) priceFromSamples(fees []uint64, computeLimit uint32) uint64 {
	if len(fees) == 0 {
		return 0
	}
	sort.Slice(fees, func(i, j int) bool { return fees[i] < fees[j] })

	idx := int(math.Floor(float64(len(fees)) * e.params.Percentile))
	if idx >= len(fees) {
		idx = len(fees) - 1
	}
	price := fees[idx]

	if computeLimit == 0 {
		return price
	}
	maxPrice := e.params.MaxPriorityFeeLamports * consts.MicroLamportsPerLamport / uint64(computeLimit)
	return min(price, maxPrice)
}

// Estimate 依次估算计算单元上限与单价
func (e *Estimator) Estimate(ctx context.Context, payer types.Pubkey, ixs []sdktypes.Instruction) (Budget, error) {
	limit := e.EstimateComputeLimit(ctx, payer, ixs)
	price, err := e.EstimateComputePrice(ctx, ixs, limit)
	if err != nil {
		return Budget{}, err
	}
	logger.Debugf("[Estimator] 计算预算: limit=%d, price=%d", limit, price)
	return Budget{ComputeLimit: limit, ComputePrice: price}, nil
}

// WritableAccounts 指令中所有可写账户（去重，保持首次出现顺序）
func WritableAccounts(ixs []sdktypes.Instruction) []types.Pubkey {
	seen := make(map[types.Pubkey]struct{})
	out := make([]types.Pubkey, 0)
	for _, ix := range ixs {
		for _, meta := range ix.Accounts {
			if !meta.IsWritable {
				continue
			}
			k := types.PubkeyFromCommon(meta.PubKey)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}
