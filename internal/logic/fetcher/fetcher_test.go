package fetcher

import (
	"context"
	"errors"
	"jewl-sol/internal/chain"
	"jewl-sol/internal/pkg/types"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChain 只认识 known 中的地址，并记录每次请求的批次
type fakeChain struct {
	mu      sync.Mutex
	known   map[types.Pubkey][]byte
	batches [][]types.Pubkey
	err     error
}

func (f *fakeChain) GetMultipleAccounts(_ context.Context, addrs []types.Pubkey) ([]*chain.AccountInfo, error) {
	f.mu.Lock()
	f.batches = append(f.batches, append([]types.Pubkey(nil), addrs...))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*chain.AccountInfo, len(addrs))
	for i, a := range addrs {
		if data, ok := f.known[a]; ok {
			out[i] = &chain.AccountInfo{Data: data}
		}
	}
	return out, nil
}

func addr(n int) types.Pubkey {
	var k types.Pubkey
	k[0] = byte(n)
	k[1] = byte(n >> 8)
	k[31] = 0xaa
	return k
}

func TestFetchPreservesOrderAndNulls(t *testing.T) {
	a, b, c := addr(1), addr(2), addr(3)
	fc := &fakeChain{known: map[types.Pubkey][]byte{a: []byte("A"), c: []byte("C")}}
	f := New(fc, 100, 4)

	out, err := f.FetchAccounts(context.Background(), []*types.Pubkey{&a, nil, &b, &c})
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, []byte("A"), out[0].Data)
	assert.Nil(t, out[1])
	assert.Nil(t, out[2])
	assert.Equal(t, []byte("C"), out[3].Data)
}

func TestFetchAcrossChunkBoundaries(t *testing.T) {
	const n = 250
	fc := &fakeChain{known: map[types.Pubkey][]byte{}}
	keys := make([]*types.Pubkey, 0, n+2)
	for i := 0; i < n; i++ {
		k := addr(i)
		if i%7 != 0 {
			fc.known[k] = []byte{byte(i)}
		}
		keys = append(keys, &k)
		if i == 120 {
			keys = append(keys, nil)
		}
	}
	// 重复地址
	keys = append(keys, keys[5])

	f := New(fc, 100, 3)
	out, err := f.FetchAccounts(context.Background(), keys)
	require.NoError(t, err)
	require.Len(t, out, len(keys))

	for i, k := range keys {
		if k == nil {
			assert.Nil(t, out[i])
			continue
		}
		if data, ok := fc.known[*k]; ok {
			require.NotNil(t, out[i], "index %d", i)
			assert.Equal(t, data, out[i].Data)
		} else {
			assert.Nil(t, out[i], "index %d", i)
		}
	}

	require.Len(t, fc.batches, 3)
	total := 0
	for _, b := range fc.batches {
		assert.LessOrEqual(t, len(b), 100)
		total += len(b)
	}
	assert.Equal(t, n, total)
}

func TestFetchFailsWholeBatch(t *testing.T) {
	boom := errors.New("node unavailable")
	fc := &fakeChain{err: boom}
	f := New(fc, 100, 2)

	keys := make([]types.Pubkey, 150)
	for i := range keys {
		keys[i] = addr(i)
	}
	out, err := f.FetchKeys(context.Background(), keys)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, out)
}

func TestFetchOnlyNils(t *testing.T) {
	fc := &fakeChain{}
	out, err := New(fc, 0, 0).FetchAccounts(context.Background(), []*types.Pubkey{nil, nil})
	require.NoError(t, err)
	assert.Equal(t, []*chain.AccountInfo{nil, nil}, out)
	assert.Empty(t, fc.batches)
}
