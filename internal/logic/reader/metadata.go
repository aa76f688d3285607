package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"jewl-sol/internal/codec"
	"jewl-sol/internal/pkg/types"
	"jewl-sol/pkg/logger"
	"net/http"

	"github.com/zeromicro/go-zero/core/jsonx"
	"github.com/zeromicro/go-zero/rest/httpc"
)

var ErrInvalidOffchainMetadata = errors.New("invalid offchain metadata")

const maxMetadataBody = 1 << 20

type HTTPDoer interface {
	DoRequest(r *http.Request) (*http.Response, error)
}

// httpcDoer 默认使用 go-zero httpc 发送请求
type httpcDoer struct{}

func (httpcDoer) DoRequest(r *http.Request) (*http.Response, error) {
	return httpc.DoRequest(r)
}

// GetTokenMetadata 批量读取 Metaplex metadata，结果按 mint 索引，没有 metadata 的 mint 不出现在结果中。
// 命中缓存的 mint 不再请求
func (r *Reader) GetTokenMetadata(ctx context.Context, mints []types.Pubkey) (map[types.Pubkey]*codec.Metadata, error) {
	out := make(map[types.Pubkey]*codec.Metadata, len(mints))
	missing := make([]types.Pubkey, 0, len(mints))
	addrs := make([]types.Pubkey, 0, len(mints))
	seen := make(map[types.Pubkey]struct{}, len(mints))
	for _, mint := range mints {
		if _, ok := seen[mint]; ok {
			continue
		}
		seen[mint] = struct{}{}
		if m, ok := r.metadata.Peek(mint.String(), metadataTTL); ok {
			out[mint] = m
			continue
		}
		addr, err := r.net.MetadataAddress(mint)
		if err != nil {
			return nil, err
		}
		missing = append(missing, mint)
		addrs = append(addrs, addr)
	}
	if len(missing) == 0 {
		return out, nil
	}

	infos, err := r.fetcher.FetchKeys(ctx, addrs)
	if err != nil {
		return nil, err
	}
	for i, info := range infos {
		if info == nil {
			continue
		}
		m, err := codec.DecodeMetadata(r.net.MetadataProgramID, info.Owner, info.Data)
		if err != nil {
			return nil, fmt.Errorf("metadata %s: %w", addrs[i], err)
		}
		r.metadata.Put(m.Mint.String(), m)
		out[m.Mint] = m
	}
	return out, nil
}

// FetchOffchainMetadata 读取并校验链下 JSON metadata，按 uri 缓存
func (r *Reader) FetchOffchainMetadata(ctx context.Context, uri string) (*OffchainMetadata, error) {
	return r.offchain.Get(ctx, uri, r.offchainTTL, func(ctx context.Context) (*OffchainMetadata, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return nil, fmt.Errorf("build metadata request: %w", err)
		}
		resp, err := r.http.DoRequest(req)
		if err != nil {
			return nil, fmt.Errorf("fetch metadata %s: %w", uri, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch metadata %s: http status %d", uri, resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBody))
		if err != nil {
			return nil, fmt.Errorf("read metadata %s: %w", uri, err)
		}
		var m OffchainMetadata
		if err := jsonx.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOffchainMetadata, err)
		}
		if err := r.validateOffchain(&m); err != nil {
			logger.Warnf("[Reader] 链下 metadata 校验失败: uri=%s, err=%v", uri, err)
			return nil, err
		}
		return &m, nil
	})
}

func (r *Reader) validateOffchain(m *OffchainMetadata) error {
	switch {
	case m.Name == "":
		return fmt.Errorf("%w: missing name", ErrInvalidOffchainMetadata)
	case m.Symbol == "":
		return fmt.Errorf("%w: missing symbol", ErrInvalidOffchainMetadata)
	case m.Description == "":
		return fmt.Errorf("%w: missing description", ErrInvalidOffchainMetadata)
	case m.Image == "":
		return fmt.Errorf("%w: missing image", ErrInvalidOffchainMetadata)
	case r.net.ExternalURL != "" && m.ExternalURL != r.net.ExternalURL:
		return fmt.Errorf("%w: external_url %q", ErrInvalidOffchainMetadata, m.ExternalURL)
	}
	return nil
}
