package svc

import (
	"context"
	"database/sql"
	"jewl-sol/internal/cache"
	"jewl-sol/internal/chain"
	"jewl-sol/internal/config"
	"jewl-sol/internal/logic/estimator"
	"jewl-sol/internal/logic/fetcher"
	"jewl-sol/internal/logic/geyser"
	"jewl-sol/internal/logic/instruction"
	"jewl-sol/internal/logic/journal"
	"jewl-sol/internal/logic/reader"
	"jewl-sol/internal/logic/submitter"
	"jewl-sol/internal/mq"
	"jewl-sol/internal/network"
	"jewl-sol/pkg/logger"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
)

// ServiceContext 包含进程内共享的全部组件
type ServiceContext struct {
	Config       config.Config
	Network      network.Network
	Client       *chain.SolanaClient
	Fetcher      *fetcher.Fetcher
	Estimator    *estimator.Estimator
	Engine       *submitter.Engine
	Reader       *reader.Reader
	Instructions *instruction.Builder
	Journal      *journal.Journal // 未配置时为 nil

	geyserConn *grpc.ClientConn
	producer   *kafka.Producer
	cacheRedis *redis.Client
	journalRdb *redis.Client
	journalDB  *sql.DB
}

// NewServiceContext 按配置构造各组件，可选组件（geyser / redis / postgres / kafka）未配置时跳过
func NewServiceContext(c config.Config) (*ServiceContext, error) {
	net, err := network.FromConfig(c.NetworkConf)
	if err != nil {
		return nil, err
	}
	sc := &ServiceContext{Config: c, Network: net}

	// 1. RPC 客户端、批量读取、费用估算
	sc.Client = chain.NewSolanaClient(c.RpcConf.Endpoint,
		chain.WithTimeout(c.RpcConf.RequestTimeout()),
		chain.WithPollInterval(c.RpcConf.ConfirmPollInterval()),
	)
	sc.Fetcher = fetcher.New(sc.Client, c.FetchConf.MaxBatchSize, c.FetchConf.Parallelism)
	sc.Estimator = estimator.New(sc.Client, sc.Client, estimator.ParamsFromConfig(c.SubmitConf))
	sc.Instructions = instruction.NewBuilder(net)

	// 2. 读取层缓存，可挂 Redis 二级缓存
	cacheOpts := []cache.Option{}
	if c.CacheConf.SingleFlight {
		cacheOpts = append(cacheOpts, cache.WithSingleFlight())
	}
	if c.CacheConf.RedisAddr != "" {
		sc.cacheRedis = redis.NewClient(&redis.Options{Addr: c.CacheConf.RedisAddr})
		cacheOpts = append(cacheOpts, cache.WithStore(cache.NewRedisStore(sc.cacheRedis, c.CacheConf.RedisPrefix)))
	}
	sc.Reader = reader.New(net, sc.Client, sc.Fetcher, reader.WithCacheOptions(cacheOpts...), reader.WithOffchainTTL(c.CacheConf.DefaultTTL()))

	// 3. 提交结果记录
	var recorders []submitter.Recorder
	if c.JournalConf.Enabled() {
		j, err := sc.newJournal(c.JournalConf)
		if err != nil {
			sc.Close()
			return nil, err
		}
		sc.Journal = j
		recorders = append(recorders, j)
	}
	if c.KafkaConf.Enabled() {
		producer, err := mq.NewKafkaProducer(c.KafkaConf)
		if err != nil {
			logger.Errorf("Kafka producer 初始化失败: %v", err)
			sc.Close()
			return nil, err
		}
		sc.producer = producer
		recorders = append(recorders, mq.NewOutcomePublisher(producer, c.KafkaConf))
	}

	// 4. 提交引擎，配置了 geyser 时用订阅确认替代轮询
	opts := append(submitter.OptionsFromConfig(c.SubmitConf), submitter.WithRecorders(recorders...))
	if c.GeyserConf.Enabled() {
		conn, err := geyser.Dial(c.GeyserConf)
		if err != nil {
			sc.Close()
			return nil, err
		}
		sc.geyserConn = conn
		opts = append(opts, submitter.WithConfirmer(geyser.NewConfirmer(conn, c.GeyserConf, sc.Client)))
	}
	sc.Engine = submitter.NewEngine(sc.Client, sc.Estimator, opts...)

	logger.Infof("服务上下文初始化完成: cluster=%s, journal=%v, kafka=%v, geyser=%v",
		net.Cluster, sc.Journal != nil, sc.producer != nil, sc.geyserConn != nil)
	return sc, nil
}

func (sc *ServiceContext) newJournal(c config.JournalConfig) (*journal.Journal, error) {
	var redisStore *journal.RedisStatusStore
	if c.RedisAddr != "" {
		sc.journalRdb = redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		redisStore = journal.NewRedisStatusStore(sc.journalRdb, time.Duration(c.StatusTTLHours)*time.Hour)
	}

	var dbStore *journal.DBStore
	if c.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		db, err := journal.OpenDB(ctx, c.PostgresDSN)
		if err != nil {
			logger.Errorf("PostgreSQL 连接失败: %v", err)
			return nil, err
		}
		sc.journalDB = db
		dbStore = journal.NewDBStore(db)
		if err := dbStore.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}
	return journal.NewJournal(redisStore, dbStore, time.Duration(c.FlushIntervalSec)*time.Second), nil
}

// Close 关闭服务上下文中的资源
func (sc *ServiceContext) Close() {
	if sc.producer != nil {
		sc.producer.Flush(3000)
		sc.producer.Close()
	}
	if sc.geyserConn != nil {
		_ = sc.geyserConn.Close()
	}
	if sc.cacheRedis != nil {
		_ = sc.cacheRedis.Close()
	}
	if sc.journalRdb != nil {
		_ = sc.journalRdb.Close()
	}
	if sc.journalDB != nil {
		_ = sc.journalDB.Close()
	}
}
