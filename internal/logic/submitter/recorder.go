package submitter

import (
	"context"
	"jewl-sol/pkg/logger"
	"time"
)

type Status string

const (
	StatusConfirmed        Status = "confirmed"
	StatusFailed           Status = "failed"
	StatusExpired          Status = "expired"
	StatusRejected         Status = "rejected"
	StatusSimulationFailed Status = "simulation_failed"
	StatusCanceled         Status = "canceled"
)

// Outcome 一次提交尝试的最终结果
type Outcome struct {
	Signature    string    `json:"signature"` // 签名前失败时为空
	Payer        string    `json:"payer"`
	Status       Status    `json:"status"`
	LastStep     Step      `json:"last_step"`
	Error        string    `json:"error,omitempty"`
	Logs         []string  `json:"logs,omitempty"`
	ComputeLimit uint32    `json:"compute_limit"`
	ComputePrice uint64    `json:"compute_price"`
	Broadcasts   int       `json:"broadcasts"`
	Slot         uint64    `json:"slot"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Recorder 接收提交结果（日志库、消息队列等），失败只记录日志
type Recorder interface {
	Record(ctx context.Context, o Outcome) error
}

func statusOf(err error) Status {
	switch FailureKind(err) {
	case KindNone:
		return StatusConfirmed
	case KindRejected:
		return StatusRejected
	case KindSimulation:
		return StatusSimulationFailed
	case KindExpired:
		return StatusExpired
	case KindCanceled:
		return StatusCanceled
	default:
		return StatusFailed
	}
}

const recordTimeout = 3 * time.Second

func (e *Engine) record(o Outcome) {
	for _, r := range e.recorders {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := r.Record(ctx, o); err != nil {
			logger.Warnf("[SubmitEngine] 记录提交结果失败: sig=%s, status=%s, err=%v", o.Signature, o.Status, err)
		}
		cancel()
	}
}
