package service

import (
	"context"
	"errors"
	"jewl-sol/internal/codec"
	"jewl-sol/internal/config"
	"jewl-sol/internal/logic/reader"
	"jewl-sol/internal/pkg/types"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu          sync.Mutex
	feeConfig   *reader.FeeConfigView
	feeErr      error
	allocations map[types.Pubkey][]*reader.AllocationView
	calls       atomic.Int32
}

func (f *fakeReader) GetFeeConfig(context.Context) (*reader.FeeConfigView, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.feeConfig, f.feeErr
}

func (f *fakeReader) GetAllocations(_ context.Context, wallet types.Pubkey) ([]*reader.AllocationView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allocations[wallet], nil
}

const walletStr = "JEWLJJ9c9dsrrCuq6gKvkiBsp74Sn4N9VdR68LY1X7x"

func TestStateSyncUpdate(t *testing.T) {
	wallet := types.PubkeyFromBase58(walletStr)
	r := &fakeReader{
		feeConfig: &reader.FeeConfigView{FeeConfig: codec.FeeConfig{Initialized: true, FeeBps: 100}},
		allocations: map[types.Pubkey][]*reader.AllocationView{
			wallet: {{NFTMint: types.Pubkey{1}, Allocation: codec.Allocation{FirstTokenAmount: 5}}},
		},
	}
	s, err := NewStateSyncService(config.StateSyncConfig{IntervalSec: 60, Wallets: []string{walletStr}}, r)
	require.NoError(t, err)

	require.NoError(t, s.update())
	require.NotNil(t, s.FeeConfig())
	assert.Equal(t, uint16(100), s.FeeConfig().FeeBps)
	require.Len(t, s.Allocations(wallet), 1)
	assert.Equal(t, uint64(5), s.Allocations(wallet)[0].FirstTokenAmount)

	// 账户被关闭后快照清空，不视为错误
	r.mu.Lock()
	r.feeConfig, r.feeErr = nil, reader.ErrFeeConfigNotFound
	r.allocations[wallet] = nil
	r.mu.Unlock()
	require.NoError(t, s.update())
	assert.Nil(t, s.FeeConfig())
	assert.Empty(t, s.Allocations(wallet))

	r.mu.Lock()
	r.feeErr = errors.New("rpc down")
	r.mu.Unlock()
	assert.ErrorContains(t, s.update(), "rpc down")
}

func TestStateSyncInvalidWallet(t *testing.T) {
	_, err := NewStateSyncService(config.StateSyncConfig{Wallets: []string{"nope"}}, &fakeReader{})
	assert.ErrorContains(t, err, "state_sync.wallets")
}

func TestStateSyncStartStop(t *testing.T) {
	r := &fakeReader{feeErr: reader.ErrFeeConfigNotFound}
	s, err := NewStateSyncService(config.StateSyncConfig{}, r)
	require.NoError(t, err)
	s.interval = 20 * time.Millisecond

	done := make(chan struct{})
	go func() {
		s.Start()
		close(done)
	}()

	assert.Eventually(t, func() bool { return r.calls.Load() >= 3 }, time.Second, 10*time.Millisecond)
	s.Stop()
	s.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
