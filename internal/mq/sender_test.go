package mq

import (
	"context"
	"errors"
	"jewl-sol/internal/config"
	"jewl-sol/internal/logic/submitter"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProducer 在 Produce 时按 ackDelay 回执，ackErr 非空时回执带错误
type fakeProducer struct {
	mu         sync.Mutex
	messages   []*kafka.Message
	ackDelay   time.Duration
	ackErr     error
	produceErr error
}

func (f *fakeProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	if f.produceErr != nil {
		return f.produceErr
	}
	f.mu.Lock()
	f.messages = append(f.messages, msg)
	f.mu.Unlock()

	go func() {
		time.Sleep(f.ackDelay)
		ack := *msg
		ack.TopicPartition.Error = f.ackErr
		deliveryChan <- &ack
	}()
	return nil
}

func (f *fakeProducer) sent() []*kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*kafka.Message(nil), f.messages...)
}

func TestSendKafkaJobs(t *testing.T) {
	p := &fakeProducer{}
	jobs := []*KafkaJob{
		{Topic: "t", Partition: 1, Value: []byte("a")},
		{Topic: "t", Partition: 2, Value: []byte("b")},
	}
	ok, failed := SendKafkaJobs(context.Background(), p, jobs, time.Second)
	assert.Len(t, ok, 2)
	assert.Empty(t, failed)
	assert.Len(t, p.sent(), 2)

	ok, failed = SendKafkaJobs(context.Background(), p, nil, time.Second)
	assert.Empty(t, ok)
	assert.Empty(t, failed)
}

func TestSendKafkaJobsFailures(t *testing.T) {
	job := []*KafkaJob{{Topic: "t", Value: []byte("a")}}

	_, failed := SendKafkaJobs(context.Background(), &fakeProducer{produceErr: errors.New("queue full")}, job, time.Second)
	require.Len(t, failed, 1)
	assert.ErrorContains(t, failed[0].Err, "queue full")

	_, failed = SendKafkaJobs(context.Background(), &fakeProducer{ackErr: kafka.NewError(kafka.ErrMsgTimedOut, "timed out", false)}, job, time.Second)
	require.Len(t, failed, 1)

	_, failed = SendKafkaJobs(context.Background(), &fakeProducer{ackDelay: 200 * time.Millisecond}, job, 20*time.Millisecond)
	require.Len(t, failed, 1)
	assert.ErrorContains(t, failed[0].Err, "delivery timeout")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, failed = SendKafkaJobs(ctx, &fakeProducer{ackDelay: 200 * time.Millisecond}, job, time.Second)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, context.Canceled)
}

func TestOutcomePublisher(t *testing.T) {
	p := &fakeProducer{}
	pub := NewOutcomePublisher(p, config.KafkaProducerConfig{Topic: "jewl_submission", Partitions: 4, SendTimeoutMs: 500})

	sig := "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"
	o := submitter.Outcome{
		Signature:  sig,
		Payer:      "payer",
		Status:     submitter.StatusConfirmed,
		LastStep:   submitter.StepConfirming,
		Logs:       []string{"Program log: ok"},
		Broadcasts: 3,
		Slot:       99,
		StartedAt:  time.Unix(100, 0),
		FinishedAt: time.Unix(105, 0),
	}
	require.NoError(t, pub.Record(context.Background(), o))
	require.NoError(t, pub.Record(context.Background(), o))

	msgs := p.sent()
	require.Len(t, msgs, 2)
	assert.Equal(t, "jewl_submission", *msgs[0].TopicPartition.Topic)
	assert.Equal(t, []byte(sig), msgs[0].Key)
	assert.Equal(t, msgs[0].TopicPartition.Partition, msgs[1].TopicPartition.Partition)
	assert.Less(t, msgs[0].TopicPartition.Partition, int32(4))

	s, err := DecodeOutcome(msgs[0].Value)
	require.NoError(t, err)
	fields := s.GetFields()
	assert.Equal(t, sig, fields["signature"].GetStringValue())
	assert.Equal(t, "confirmed", fields["status"].GetStringValue())
	assert.Equal(t, float64(3), fields["broadcasts"].GetNumberValue())
	assert.Equal(t, "Program log: ok", fields["logs"].GetListValue().GetValues()[0].GetStringValue())
	assert.Equal(t, "1970-01-01T00:01:40Z", fields["started_at"].GetStringValue())

	// 签名前失败：没有签名，按 payer 作为 key
	require.NoError(t, pub.Record(context.Background(), submitter.Outcome{Payer: "payer", Status: submitter.StatusRejected}))
	msgs = p.sent()
	assert.Equal(t, []byte("payer"), msgs[2].Key)
}

func TestOutcomePublisherSendError(t *testing.T) {
	pub := NewOutcomePublisher(&fakeProducer{ackDelay: time.Second}, config.KafkaProducerConfig{Topic: "t", SendTimeoutMs: 10})
	err := pub.Record(context.Background(), submitter.Outcome{Signature: "abc"})
	assert.ErrorContains(t, err, "publish outcome abc")
}

// 以下用例需要真实 Kafka，设置 JEWL_TEST_KAFKA=host:port 后运行
func liveBrokers(t *testing.T) string {
	brokers := os.Getenv("JEWL_TEST_KAFKA")
	if brokers == "" {
		t.Skip("JEWL_TEST_KAFKA not set")
	}
	return brokers
}

func TestOutcomePublisher_RealKafka(t *testing.T) {
	brokers := liveBrokers(t)
	topic := "jewl-test-" + time.Now().Format("20060102150405")
	cfg := config.KafkaProducerConfig{Brokers: brokers, Topic: topic, Partitions: 2, SendTimeoutMs: 5000}

	producer, err := NewKafkaProducer(cfg)
	require.NoError(t, err)
	defer producer.Close()

	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"group.id":          topic,
		"auto.offset.reset": "earliest",
	})
	require.NoError(t, err)
	defer consumer.Close()
	require.NoError(t, consumer.Subscribe(topic, nil))

	pub := NewOutcomePublisher(producer, cfg)
	require.NoError(t, pub.Record(context.Background(), submitter.Outcome{Signature: "abc", Status: submitter.StatusExpired}))
	producer.Flush(1000)

	msg, err := consumer.ReadMessage(10 * time.Second)
	require.NoError(t, err)
	s, err := DecodeOutcome(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, "expired", s.GetFields()["status"].GetStringValue())
}
