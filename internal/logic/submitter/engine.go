package submitter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"jewl-sol/internal/chain"
	"jewl-sol/internal/config"
	"jewl-sol/internal/consts"
	"jewl-sol/internal/logic/estimator"
	"jewl-sol/internal/pkg/txwire"
	"jewl-sol/internal/pkg/types"
	"jewl-sol/pkg/logger"
	"sync"
	"sync/atomic"
	"time"

	computebudget "github.com/blocto/solana-go-sdk/program/compute_budget"
	sdktypes "github.com/blocto/solana-go-sdk/types"
)

// Chain 提交流程依赖的链上能力
type Chain interface {
	HeightGetter
	GetLatestBlockhash(ctx context.Context) (chain.Checkpoint, error)
	SimulateTransaction(ctx context.Context, tx []byte, cfg chain.SimulateConfig) (*chain.SimulateResult, error)
	SendTransaction(ctx context.Context, tx []byte, cfg chain.SendConfig) (string, error)
	GetParsedTransaction(ctx context.Context, signature string) (*chain.TransactionInfo, error)
}

// Confirmer 等待签名确认，直到确认、执行失败或 blockhash 过期（ErrBlockHeightExceeded）
type Confirmer interface {
	ConfirmTransaction(ctx context.Context, signature string, cp chain.Checkpoint) (*chain.ConfirmResult, error)
}

type BudgetEstimator interface {
	Estimate(ctx context.Context, payer types.Pubkey, ixs []sdktypes.Instruction) (estimator.Budget, error)
}

type Request struct {
	Instructions []sdktypes.Instruction
	Payer        types.Pubkey
	Signer       Signer
	Progress     ProgressFunc // 可为 nil
}

type Engine struct {
	chain            Chain
	confirmer        Confirmer
	estimator        BudgetEstimator
	recorders        []Recorder
	retryInterval    time.Duration
	progressInterval time.Duration
	expiryBlocks     uint64
	broadcastTimeout time.Duration
}

type Option func(*Engine)

func WithConfirmer(c Confirmer) Option {
	return func(e *Engine) {
		if c != nil {
			e.confirmer = c
		}
	}
}

func WithRecorders(rs ...Recorder) Option {
	return func(e *Engine) {
		e.recorders = append(e.recorders, rs...)
	}
}

func WithRetryInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retryInterval = d
		}
	}
}

func WithProgressInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.progressInterval = d
		}
	}
}

// OptionsFromConfig 读取 submit 配置中的间隔设置
func OptionsFromConfig(c config.SubmitConfig) []Option {
	return []Option{
		WithRetryInterval(c.RetryInterval()),
		WithProgressInterval(c.ProgressInterval()),
	}
}

// NewEngine 默认使用 client 自带的轮询确认
func NewEngine(client interface {
	Chain
	Confirmer
}, est BudgetEstimator, opts ...Option) *Engine {
	e := &Engine{
		chain:            client,
		confirmer:        client,
		estimator:        est,
		retryInterval:    consts.RetryInterval,
		progressInterval: consts.ProgressInterval,
		expiryBlocks:     consts.ExpiryTimeInBlocks,
		broadcastTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// attempt 单次提交过程中累积的状态，用于生成 Outcome
type attempt struct {
	step       Step
	signature  string
	budget     estimator.Budget
	slot       uint64
	logs       []string
	broadcasts atomic.Int32
}

// SendAndConfirm 构建、签名、预检、广播交易并等待确认，返回交易签名。
// 已广播后失败（执行失败、过期、取消）也会返回签名，便于调用方继续查询。
// 每次调用只做一次提交尝试，同一笔业务交易不要并发调用
func (e *Engine) SendAndConfirm(ctx context.Context, req Request) (sig string, err error) {
	if req.Signer == nil {
		return "", errors.New("signer is required")
	}
	if len(req.Instructions) == 0 {
		return "", errors.New("no instructions")
	}

	ctx, cancel := context.WithCancelCause(ctx)
	startedAt := time.Now()
	at := &attempt{}
	reporter := startProgressReporter(ctx, req.Progress, e.chain, e.progressInterval, e.expiryBlocks)
	// 广播与确认监听的 goroutine 都在返回前回收
	var workers sync.WaitGroup

	defer func() {
		cancel(context.Canceled)
		reporter.stop()
		workers.Wait()

		o := Outcome{
			Signature:    at.signature,
			Payer:        req.Payer.String(),
			Status:       statusOf(err),
			LastStep:     at.step,
			Logs:         at.logs,
			ComputeLimit: at.budget.ComputeLimit,
			ComputePrice: at.budget.ComputePrice,
			Broadcasts:   int(at.broadcasts.Load()),
			Slot:         at.slot,
			StartedAt:    startedAt,
			FinishedAt:   time.Now(),
		}
		if err != nil {
			o.Error = err.Error()
			logger.Warnf("[SubmitEngine] 提交失败: sig=%s, step=%s, status=%s, err=%v", at.signature, at.step, o.Status, err)
		} else {
			logger.Infof("[SubmitEngine] 交易已确认: sig=%s, slot=%d, 广播次数=%d, 耗时=%v", at.signature, at.slot, o.Broadcasts, o.FinishedAt.Sub(startedAt))
		}
		e.record(o)
	}()

	enter := func(step Step) {
		at.step = step
		reporter.transition(step)
	}

	// preparing
	enter(StepPreparing)
	budget, err := e.estimator.Estimate(ctx, req.Payer, req.Instructions)
	if err != nil {
		return "", fmt.Errorf("estimate budget: %w", err)
	}
	at.budget = budget

	cp, err := e.chain.GetLatestBlockhash(ctx)
	if err != nil {
		return "", fmt.Errorf("get latest blockhash: %w", err)
	}
	reporter.setCheckpoint(cp)

	draft, err := BuildDraft(req.Payer, cp, budget, req.Instructions)
	if err != nil {
		return "", err
	}

	// signing
	enter(StepSigning)
	signed, err := req.Signer.Sign(ctx, draft)
	if err != nil {
		return "", &SigningRejectedError{Err: err}
	}
	at.signature, err = verifySigned(draft, signed)
	if err != nil {
		return "", err
	}

	// sending
	enter(StepSending)
	sim, err := e.chain.SimulateTransaction(ctx, signed, chain.SimulateConfig{SigVerify: true})
	if err != nil {
		return "", fmt.Errorf("simulate signed transaction: %w", err)
	}
	if sim.Err != nil {
		at.logs = sim.Logs
		return "", &TransactionError{Err: sim.Err, Logs: sim.Logs, Simulation: true}
	}

	// confirming
	enter(StepConfirming)
	return e.confirmLoop(ctx, at, signed, cp, &workers)
}

type confirmation struct {
	res *chain.ConfirmResult
	err error
}

// confirmLoop 在确认结果、重发定时器、ctx 之间择一，定时器触发时重新广播。
// 监听异常退出（如 stream 重置）时交易仍可能上链：未过期则在下一次定时器触发时重启监听
func (e *Engine) confirmLoop(ctx context.Context, at *attempt, signed []byte, cp chain.Checkpoint, wg *sync.WaitGroup) (string, error) {
	confirmed := make(chan confirmation, 1)
	watch := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.confirmer.ConfirmTransaction(ctx, at.signature, cp)
			confirmed <- confirmation{res: res, err: err}
		}()
	}
	watch()
	watching := true

	timer := time.NewTimer(e.retryInterval)
	defer timer.Stop()
	e.broadcast(ctx, at, signed, wg)
	for {
		select {
		case c := <-confirmed:
			if c.err != nil && !errors.Is(c.err, chain.ErrBlockHeightExceeded) && ctx.Err() == nil {
				if e.checkpointExpired(ctx, cp) {
					return at.signature, fmt.Errorf("%w: sig=%s: %v", ErrExpired, at.signature, c.err)
				}
				logger.Warnf("[SubmitEngine] 确认监听中断，稍后重启: sig=%s, err=%v", at.signature, c.err)
				watching = false
				continue
			}
			return at.signature, e.settle(ctx, at, c)
		case <-timer.C:
			if !watching {
				watch()
				watching = true
			}
			logger.Debugf("[SubmitEngine] %v 内未确认，重新广播: sig=%s", e.retryInterval, at.signature)
			e.broadcast(ctx, at, signed, wg)
			timer.Reset(e.retryInterval)
		case <-ctx.Done():
			return at.signature, context.Cause(ctx)
		}
	}
}

// checkpointExpired 当前区块高度已超过 blockhash 有效高度；查询失败按未过期处理
func (e *Engine) checkpointExpired(ctx context.Context, cp chain.Checkpoint) bool {
	height, err := e.chain.GetBlockHeight(ctx)
	if err != nil {
		logger.Warnf("[SubmitEngine] 查询区块高度失败: %v", err)
		return false
	}
	return height > cp.LastValidBlockHeight
}

// broadcast 广播不阻塞循环，结果只记录日志
func (e *Engine) broadcast(ctx context.Context, at *attempt, signed []byte, wg *sync.WaitGroup) {
	n := at.broadcasts.Add(1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sendCtx, cancel := context.WithTimeout(ctx, e.broadcastTimeout)
		defer cancel()

		var noRetry uint64
		if _, err := e.chain.SendTransaction(sendCtx, signed, chain.SendConfig{SkipPreflight: true, MaxRetries: &noRetry}); err != nil {
			if ctx.Err() == nil {
				logger.Warnf("[SubmitEngine] 第 %d 次广播失败: sig=%s, err=%v", n, at.signature, err)
			}
		}
	}()
}

func (e *Engine) settle(ctx context.Context, at *attempt, c confirmation) error {
	if c.err != nil {
		if errors.Is(c.err, chain.ErrBlockHeightExceeded) {
			return fmt.Errorf("%w: sig=%s: %v", ErrExpired, at.signature, c.err)
		}
		return context.Cause(ctx)
	}

	at.slot = c.res.Slot
	if c.res.Err == nil {
		return nil
	}

	// 执行失败，尽量取回程序日志
	if info, err := e.chain.GetParsedTransaction(ctx, at.signature); err != nil {
		logger.Warnf("[SubmitEngine] 获取失败交易日志失败: sig=%s, err=%v", at.signature, err)
	} else if info != nil {
		at.logs = info.Logs
	}
	return &TransactionError{Err: c.res.Err, Logs: at.logs, Signature: at.signature}
}

// BuildDraft 在调用方指令前插入计算预算指令，生成签名槽位为零的 legacy 交易
func BuildDraft(payer types.Pubkey, cp chain.Checkpoint, budget estimator.Budget, ixs []sdktypes.Instruction) ([]byte, error) {
	all := make([]sdktypes.Instruction, 0, len(ixs)+2)
	all = append(all,
		computebudget.SetComputeUnitLimit(computebudget.SetComputeUnitLimitParam{Units: budget.ComputeLimit}),
		computebudget.SetComputeUnitPrice(computebudget.SetComputeUnitPriceParam{MicroLamports: budget.ComputePrice}),
	)
	all = append(all, ixs...)

	msg := sdktypes.NewMessage(sdktypes.NewMessageParam{
		FeePayer:        payer.ToCommon(),
		RecentBlockhash: cp.Blockhash,
		Instructions:    all,
	})
	return txwire.SerializeUnsigned(msg)
}

// verifySigned 校验签名后的消息未被修改且签名完整，返回交易签名
func verifySigned(draft, signed []byte) (string, error) {
	d, err := txwire.Parse(draft)
	if err != nil {
		return "", fmt.Errorf("parse draft: %w", err)
	}
	s, err := txwire.Parse(signed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDraftMutated, err)
	}
	if !bytes.Equal(d.Message, s.Message) {
		return "", ErrDraftMutated
	}
	if !s.IsSigned() {
		return "", ErrNotSigned
	}
	return s.Signature(), nil
}
