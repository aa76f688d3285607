package submitter

import (
	"context"
	"errors"
	"fmt"
	"jewl-sol/internal/chain"
)

var (
	// ErrExpired blockhash 有效窗口已过仍未确认，交易不会再上链，可重新构建后再试
	ErrExpired = errors.New("transaction expired before confirmation")
	// ErrDraftMutated 签名后的消息与草稿不一致
	ErrDraftMutated = errors.New("signed transaction does not match draft")
	// ErrNotSigned 签名器返回的交易仍存在空签名槽位
	ErrNotSigned = errors.New("transaction is missing signatures")
)

// TransactionError 预检模拟失败或链上执行失败，保留节点返回的原始错误结构与程序日志
type TransactionError struct {
	Err        any
	Logs       []string
	Simulation bool
	Signature  string // 执行失败时为已上链交易的签名
}

func (e *TransactionError) Error() string {
	if e.Simulation {
		return fmt.Sprintf("Simulation failed: %s", chain.FormatErr(e.Err))
	}
	return fmt.Sprintf("Transaction failed: %s", chain.FormatErr(e.Err))
}

// SigningRejectedError 签名器拒绝签名（例如用户取消），Error() 原样返回签名器的错误文本
type SigningRejectedError struct {
	Err error
}

func (e *SigningRejectedError) Error() string {
	return e.Err.Error()
}

func (e *SigningRejectedError) Unwrap() error {
	return e.Err
}

type Kind string

const (
	KindNone       Kind = ""
	KindRejected   Kind = "rejected"
	KindSimulation Kind = "simulation_failed"
	KindExecution  Kind = "execution_failed"
	KindExpired    Kind = "expired"
	KindCanceled   Kind = "canceled"
	KindInternal   Kind = "internal"
)

// FailureKind 将 SendAndConfirm 返回的错误归类，供上层选择不同的处理方式
func FailureKind(err error) Kind {
	if err == nil {
		return KindNone
	}
	var rejected *SigningRejectedError
	if errors.As(err, &rejected) {
		return KindRejected
	}
	var txErr *TransactionError
	if errors.As(err, &txErr) {
		if txErr.Simulation {
			return KindSimulation
		}
		return KindExecution
	}
	switch {
	case errors.Is(err, ErrExpired):
		return KindExpired
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	}
	return KindInternal
}
