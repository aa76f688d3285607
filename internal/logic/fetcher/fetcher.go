package fetcher

import (
	"context"
	"fmt"
	"jewl-sol/internal/chain"
	"jewl-sol/internal/consts"
	"jewl-sol/internal/pkg/types"
	"jewl-sol/pkg/logger"
	"jewl-sol/pkg/utils"
	"time"
)

// AccountsGetter 单次批量读取，返回值与 addrs 一一对应，不存在的账户为 nil
type AccountsGetter interface {
	GetMultipleAccounts(ctx context.Context, addrs []types.Pubkey) ([]*chain.AccountInfo, error)
}

type Fetcher struct {
	client      AccountsGetter
	batchSize   int
	parallelism int
}

func New(client AccountsGetter, batchSize, parallelism int) *Fetcher {
	if batchSize <= 0 || batchSize > consts.MaxAccountsPerRequest {
		batchSize = consts.MaxAccountsPerRequest
	}
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Fetcher{client: client, batchSize: batchSize, parallelism: parallelism}
}

// FetchAccounts 批量读取账户：
//   - nil 地址直接输出 nil，不参与请求
//   - 重复地址只请求一次
//   - 按 batchSize 切分，并发请求，任一批失败则整体失败（不单独重试）
//   - 输出第 i 项对应输入第 i 项
func (f *Fetcher) FetchAccounts(ctx context.Context, addrs []*types.Pubkey) ([]*chain.AccountInfo, error) {
	out := make([]*chain.AccountInfo, len(addrs))

	unique := make([]types.Pubkey, 0, len(addrs))
	seen := make(map[types.Pubkey]struct{}, len(addrs))
	for _, addr := range addrs {
		if addr == nil {
			continue
		}
		if _, ok := seen[*addr]; ok {
			continue
		}
		seen[*addr] = struct{}{}
		unique = append(unique, *addr)
	}
	if len(unique) == 0 {
		return out, nil
	}

	chunks := make([][]types.Pubkey, 0, (len(unique)+f.batchSize-1)/f.batchSize)
	for start := 0; start < len(unique); start += f.batchSize {
		end := min(start+f.batchSize, len(unique))
		chunks = append(chunks, unique[start:end])
	}

	start := time.Now()
	results, err := utils.ParallelMapErr(ctx, chunks, f.parallelism, func(ctx context.Context, chunk []types.Pubkey) ([]*chain.AccountInfo, error) {
		infos, err := f.client.GetMultipleAccounts(ctx, chunk)
		if err != nil {
			return nil, err
		}
		if len(infos) != len(chunk) {
			return nil, fmt.Errorf("返回账户数与请求不一致: got=%d want=%d", len(infos), len(chunk))
		}
		return infos, nil
	})
	if err != nil {
		logger.Warnf("[BatchFetcher] 批量读取失败: 地址数=%d, 批次数=%d, err=%v", len(unique), len(chunks), err)
		return nil, fmt.Errorf("fetch accounts: %w", err)
	}
	logger.Debugf("[BatchFetcher] 批量读取完成: 地址数=%d, 批次数=%d, 耗时=%v", len(unique), len(chunks), time.Since(start))

	found := make(map[types.Pubkey]*chain.AccountInfo, len(unique))
	for i, chunk := range chunks {
		for j, addr := range chunk {
			if info := results[i][j]; info != nil {
				found[addr] = info
			}
		}
	}
	for i, addr := range addrs {
		if addr != nil {
			out[i] = found[*addr]
		}
	}
	return out, nil
}

// FetchKeys 非 nil 地址的便捷版本
func (f *Fetcher) FetchKeys(ctx context.Context, keys []types.Pubkey) ([]*chain.AccountInfo, error) {
	ptrs := make([]*types.Pubkey, len(keys))
	for i := range keys {
		ptrs[i] = &keys[i]
	}
	return f.FetchAccounts(ctx, ptrs)
}
