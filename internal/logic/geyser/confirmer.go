package geyser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"jewl-sol/internal/chain"
	"jewl-sol/internal/config"
	"jewl-sol/pkg/logger"
	"time"

	"github.com/mr-tron/base58"
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"google.golang.org/grpc"
)

// StatusGetter 订阅建立前交易可能已上链，用 RPC 状态查询补齐
type StatusGetter interface {
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*chain.SignatureStatus, error)
}

// Confirmer 通过 Yellowstone 订阅等待交易确认：
// 订阅目标签名的交易更新与 block meta，交易出现即返回，
// 区块高度越过 blockhash 有效窗口则返回 chain.ErrBlockHeightExceeded
type Confirmer struct {
	client       pb.GeyserClient
	statuses     StatusGetter
	xToken       string
	pingInterval time.Duration
	sendTimeout  time.Duration
}

func NewConfirmer(conn grpc.ClientConnInterface, conf config.GeyserConfig, statuses StatusGetter) *Confirmer {
	sendTimeout := time.Duration(conf.SendTimeoutSec) * time.Second
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	return &Confirmer{
		client:       pb.NewGeyserClient(conn),
		statuses:     statuses,
		xToken:       conf.XToken,
		pingInterval: time.Duration(conf.StreamPingIntervalSec) * time.Second,
		sendTimeout:  sendTimeout,
	}
}

func buildConfirmRequest(signature string) *pb.SubscribeRequest {
	commitment := pb.CommitmentLevel_CONFIRMED
	return &pb.SubscribeRequest{
		Transactions: map[string]*pb.SubscribeRequestFilterTransactions{
			"signature": {
				Signature: &signature,
				Vote:      boolPtr(false),
			},
		},
		BlocksMeta: map[string]*pb.SubscribeRequestFilterBlocksMeta{
			"blocks_meta": {},
		},
		Commitment: &commitment,
	}
}

func (c *Confirmer) ConfirmTransaction(ctx context.Context, signature string, cp chain.Checkpoint) (*chain.ConfirmResult, error) {
	sigBytes, err := base58.Decode(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.client.Subscribe(withToken(streamCtx, c.xToken))
	if err != nil {
		return nil, fmt.Errorf("geyser subscribe: %w", err)
	}
	if err = sendWithTimeout(streamCtx, stream.Send, buildConfirmRequest(signature), c.sendTimeout); err != nil {
		return nil, fmt.Errorf("geyser send subscribe request: %w", err)
	}
	go pingLoop(streamCtx, stream, c.pingInterval, c.sendTimeout)

	// 订阅生效前已上链的交易不会再推送
	if res := c.checkStatus(ctx, signature); res != nil {
		return res, nil
	}

	for {
		update, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil, errors.New("geyser stream closed by server")
			}
			return nil, fmt.Errorf("geyser stream: %w", err)
		}

		switch u := update.GetUpdateOneof().(type) {
		case *pb.SubscribeUpdate_Transaction:
			res, ok := c.matchTransaction(ctx, u.Transaction, sigBytes, signature)
			if ok {
				return res, nil
			}
		case *pb.SubscribeUpdate_BlockMeta:
			height := u.BlockMeta.GetBlockHeight().GetBlockHeight()
			if height == 0 || height <= cp.LastValidBlockHeight {
				continue
			}
			// 最后一个有效区块可能刚好包含该交易
			if res := c.checkStatus(ctx, signature); res != nil {
				return res, nil
			}
			logger.Infof("[GeyserConfirmer] blockhash 已过期: sig=%s, height=%d, last_valid=%d", signature, height, cp.LastValidBlockHeight)
			return nil, fmt.Errorf("%w: height %d > %d", chain.ErrBlockHeightExceeded, height, cp.LastValidBlockHeight)
		}
	}
}

func (c *Confirmer) matchTransaction(ctx context.Context, update *pb.SubscribeUpdateTransaction, sigBytes []byte, signature string) (*chain.ConfirmResult, bool) {
	info := update.GetTransaction()
	if info == nil || string(info.GetSignature()) != string(sigBytes) {
		return nil, false
	}
	res := &chain.ConfirmResult{Slot: update.GetSlot()}
	if txErr := info.GetMeta().GetErr(); txErr != nil {
		res.Err = c.describeErr(ctx, signature, txErr.GetErr())
	}
	return res, true
}

// describeErr 流中的错误是 bincode 编码，优先取 RPC 的 JSON 形式
func (c *Confirmer) describeErr(ctx context.Context, signature string, raw []byte) any {
	if c.statuses != nil {
		statuses, err := c.statuses.GetSignatureStatuses(ctx, []string{signature})
		if err == nil && len(statuses) == 1 && statuses[0] != nil && statuses[0].Err != nil {
			return statuses[0].Err
		}
	}
	return map[string]any{"encoded": base64.StdEncoding.EncodeToString(raw)}
}

func (c *Confirmer) checkStatus(ctx context.Context, signature string) *chain.ConfirmResult {
	if c.statuses == nil {
		return nil
	}
	statuses, err := c.statuses.GetSignatureStatuses(ctx, []string{signature})
	if err != nil {
		logger.Debugf("[GeyserConfirmer] 查询签名状态失败: sig=%s, err=%v", signature, err)
		return nil
	}
	if len(statuses) != 1 || statuses[0] == nil || !statuses[0].Confirmed() {
		return nil
	}
	return &chain.ConfirmResult{Slot: statuses[0].Slot, Err: statuses[0].Err}
}
