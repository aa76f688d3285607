package mq

import (
	"context"
	"errors"
	"fmt"
	"jewl-sol/internal/config"
	"jewl-sol/internal/logic/submitter"
	"jewl-sol/internal/utils"
	"time"

	"github.com/mr-tron/base58"
	"google.golang.org/protobuf/types/known/structpb"
)

const defaultSendTimeout = 3 * time.Second

// OutcomePublisher 把提交结果发布到 Kafka，实现 submitter.Recorder。
// 同一签名（无签名时同一 payer）总是落到同一分区
type OutcomePublisher struct {
	producer   Producer
	topic      string
	partitions int
	timeout    time.Duration
}

func NewOutcomePublisher(producer Producer, cfg config.KafkaProducerConfig) *OutcomePublisher {
	timeout := time.Duration(cfg.SendTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &OutcomePublisher{
		producer:   producer,
		topic:      cfg.Topic,
		partitions: max(cfg.Partitions, 1),
		timeout:    timeout,
	}
}

func (p *OutcomePublisher) Record(ctx context.Context, o submitter.Outcome) error {
	value, err := EncodeOutcome(o)
	if err != nil {
		return err
	}

	key := o.Signature
	if key == "" {
		key = o.Payer
	}
	job := &KafkaJob{
		Topic:     p.topic,
		Partition: p.partitionOf(key),
		Key:       []byte(key),
		Value:     value,
	}
	_, failed := SendKafkaJobs(ctx, p.producer, []*KafkaJob{job}, p.timeout)
	if len(failed) > 0 {
		return fmt.Errorf("publish outcome %s: %w", key, failed[0].Err)
	}
	return nil
}

func (p *OutcomePublisher) partitionOf(key string) int32 {
	raw, err := base58.Decode(key)
	if err != nil {
		return 0
	}
	return int32(utils.PartitionHashBytes(raw, uint32(p.partitions)))
}

// EncodeOutcome 编码为 EventTypeSubmissionOutcome 前缀 + structpb.Struct
func EncodeOutcome(o submitter.Outcome) ([]byte, error) {
	logs := make([]any, len(o.Logs))
	for i, l := range o.Logs {
		logs[i] = l
	}
	s, err := structpb.NewStruct(map[string]any{
		"signature":     o.Signature,
		"payer":         o.Payer,
		"status":        string(o.Status),
		"last_step":     string(o.LastStep),
		"error":         o.Error,
		"logs":          logs,
		"compute_limit": o.ComputeLimit,
		"compute_price": o.ComputePrice,
		"broadcasts":    o.Broadcasts,
		"slot":          o.Slot,
		"started_at":    o.StartedAt.UTC().Format(time.RFC3339Nano),
		"finished_at":   o.FinishedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("build outcome struct: %w", err)
	}
	return utils.EncodeEvent(utils.EventTypeSubmissionOutcome, s)
}

var ErrUnexpectedEvent = errors.New("unexpected event type")

// DecodeOutcome 消费端解析，数值字段按 float64 还原
func DecodeOutcome(data []byte) (*structpb.Struct, error) {
	var s structpb.Struct
	eventType, err := utils.DecodeEvent(data, &s)
	if err != nil {
		return nil, err
	}
	if eventType != utils.EventTypeSubmissionOutcome {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedEvent, eventType)
	}
	return &s, nil
}
