package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeromicro/go-zero/core/conf"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "min.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logger:\n  level: debug\nrpc:\n  endpoint: http://127.0.0.1:8899\n"), 0o644))

	var c Config
	require.NoError(t, conf.Load(path, &c))

	assert.Equal(t, "http://127.0.0.1:8899", c.RpcConf.Endpoint)
	assert.Equal(t, "console", c.LogConf.Format)
	assert.Equal(t, "mainnet-beta", c.NetworkConf.Cluster)
	assert.Equal(t, 2*time.Second, c.SubmitConf.RetryInterval())
	assert.Equal(t, time.Second, c.SubmitConf.ProgressInterval())
	assert.Equal(t, uint32(1_400_000), c.SubmitConf.MaxComputeLimit)
	assert.Equal(t, 100, c.FetchConf.MaxBatchSize)
	assert.Equal(t, 30*time.Second, c.CacheConf.DefaultTTL())
	assert.False(t, c.GeyserConf.Enabled())
	assert.False(t, c.KafkaConf.Enabled())
	assert.False(t, c.JournalConf.Enabled())
}

func TestLoadFillsOmittedSectionFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	body := "rpc:\n  endpoint: http://127.0.0.1:8899\nsubmit:\n  retry_interval_ms: 500\nkafka_producer:\n  brokers: 127.0.0.1:9092\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	var c Config
	require.NoError(t, conf.Load(path, &c))

	assert.Equal(t, 500*time.Millisecond, c.SubmitConf.RetryInterval())
	assert.Equal(t, uint32(25_000), c.SubmitConf.MinComputeMargin)
	assert.Equal(t, 0.9, c.SubmitConf.PriorityPercentile)
	assert.Equal(t, "jewl_submission", c.KafkaConf.Topic)
	assert.Equal(t, 4, c.KafkaConf.Partitions)
	assert.Equal(t, 10, c.GeyserConf.StreamPingIntervalSec)
	assert.Equal(t, 5, c.JournalConf.FlushIntervalSec)
	assert.Equal(t, 30, c.StateSyncConf.IntervalSec)
	assert.Equal(t, "jewl:cache", c.CacheConf.RedisPrefix)
	assert.Equal(t, 4, c.FetchConf.Parallelism)
}

func TestLoadSampleConfig(t *testing.T) {
	var c Config
	require.NoError(t, conf.Load("../../etc/jewl.yaml", &c))
	assert.Equal(t, "devnet", c.NetworkConf.Cluster)
	assert.True(t, c.JournalConf.Enabled())
}

func TestRedactedHidesSecrets(t *testing.T) {
	c := Config{}
	c.GeyserConf.XToken = "secret-token"
	c.JournalConf.PostgresDSN = "postgres://u:p@host/db"

	out := c.Redacted()
	assert.NotContains(t, out, "secret-token")
	assert.NotContains(t, out, "u:p@host")
	assert.Contains(t, out, redacted)
	assert.Equal(t, "secret-token", c.GeyserConf.XToken)
}
