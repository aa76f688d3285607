package service

import (
	"context"
	"errors"
	"fmt"
	"jewl-sol/internal/config"
	"jewl-sol/internal/logic/reader"
	"jewl-sol/internal/pkg/types"
	"jewl-sol/pkg/logger"
	"runtime/debug"
	"sync"
	"time"
)

type StateReader interface {
	GetFeeConfig(ctx context.Context) (*reader.FeeConfigView, error)
	GetAllocations(ctx context.Context, wallet types.Pubkey) ([]*reader.AllocationView, error)
}

// StateSyncService 定时刷新费率配置与关注钱包的分配账户，变化时打日志
type StateSyncService struct {
	reader   StateReader
	interval time.Duration
	wallets  []types.Pubkey
	timeout  time.Duration

	mu          sync.RWMutex
	feeConfig   *reader.FeeConfigView
	allocations map[types.Pubkey][]*reader.AllocationView

	stopChan chan struct{}
	ctx      context.Context
	cancel   func(err error)
}

func NewStateSyncService(cfg config.StateSyncConfig, r StateReader) (*StateSyncService, error) {
	wallets := make([]types.Pubkey, 0, len(cfg.Wallets))
	for _, w := range cfg.Wallets {
		key, err := types.TryPubkeyFromBase58(w)
		if err != nil {
			return nil, fmt.Errorf("state_sync.wallets %q: %w", w, err)
		}
		wallets = append(wallets, key)
	}
	interval := time.Duration(cfg.IntervalSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	return &StateSyncService{
		reader:      r,
		interval:    interval,
		wallets:     wallets,
		timeout:     10 * time.Second,
		allocations: make(map[types.Pubkey][]*reader.AllocationView, len(wallets)),
		stopChan:    make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start 立即同步一次，之后按 interval 调度，阻塞到 Stop
func (s *StateSyncService) Start() {
	if err := s.update(); err != nil {
		logger.Warnf("[StateSync] 初始同步失败: %v", err)
	}
	s.scheduleNext()
	<-s.stopChan
}

func (s *StateSyncService) scheduleNext() {
	time.AfterFunc(s.interval, func() {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		if err := s.update(); err != nil {
			logger.Warnf("[StateSync] 周期性同步失败: %v", err)
		}
		select {
		case <-s.ctx.Done():
			return
		default:
			s.scheduleNext()
		}
	})
}

func (s *StateSyncService) Stop() {
	s.cancel(errors.New("StateSyncService stop"))
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
}

// FeeConfig 最近一次同步到的费率配置，尚未同步或账户不存在时为 nil
func (s *StateSyncService) FeeConfig() *reader.FeeConfigView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feeConfig
}

func (s *StateSyncService) Allocations(wallet types.Pubkey) []*reader.AllocationView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allocations[wallet]
}

func (s *StateSyncService) update() (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[StateSync] update panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("update panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	var errs []error
	if err := s.syncFeeConfig(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, w := range s.wallets {
		if err := s.syncWallet(ctx, w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *StateSyncService) syncFeeConfig(ctx context.Context) error {
	cfg, err := s.reader.GetFeeConfig(ctx)
	if errors.Is(err, reader.ErrFeeConfigNotFound) {
		cfg, err = nil, nil
	}
	if err != nil {
		return fmt.Errorf("fee config: %w", err)
	}

	s.mu.Lock()
	prev := s.feeConfig
	s.feeConfig = cfg
	s.mu.Unlock()

	switch {
	case cfg == nil && prev != nil:
		logger.Warnf("[StateSync] 费率配置账户已不存在")
	case cfg == nil:
	case prev == nil || prev.FeeConfig != cfg.FeeConfig:
		logger.Infof("[StateSync] 费率配置更新: fee_bps=%d, authority=%s, withdraw_authority=%s",
			cfg.FeeBps, cfg.FeeAuthority, cfg.FeeWithdrawAuthority)
	}
	return nil
}

func (s *StateSyncService) syncWallet(ctx context.Context, wallet types.Pubkey) error {
	views, err := s.reader.GetAllocations(ctx, wallet)
	if err != nil {
		return fmt.Errorf("allocations of %s: %w", wallet, err)
	}

	s.mu.Lock()
	prev := s.allocations[wallet]
	s.allocations[wallet] = views
	s.mu.Unlock()

	before := make(map[types.Pubkey]*reader.AllocationView, len(prev))
	for _, v := range prev {
		before[v.NFTMint] = v
	}
	for _, v := range views {
		old, ok := before[v.NFTMint]
		delete(before, v.NFTMint)
		if !ok || old.Allocation != v.Allocation {
			logger.Infof("[StateSync] 分配变化: wallet=%s, nft=%s, amounts=[%d %d %d]",
				wallet, v.NFTMint, v.FirstTokenAmount, v.SecondTokenAmount, v.ThirdTokenAmount)
		}
	}
	for mint := range before {
		logger.Infof("[StateSync] 分配已移除: wallet=%s, nft=%s", wallet, mint)
	}
	return nil
}
