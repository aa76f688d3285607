package main

import (
	"context"
	"flag"
	"jewl-sol/internal/config"
	"jewl-sol/internal/service"
	"jewl-sol/internal/svc"
	"jewl-sol/pkg/logger"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/core/logx"
	zerosvc "github.com/zeromicro/go-zero/core/service"
)

var configFile = flag.String("f", "etc/jewl.yaml", "the config file")

func main() {
	defer func() {
		if r := recover(); r != nil {
			logx.Errorf("panic: %+v\nstack: %s", r, debug.Stack())
		}
	}()

	flag.Parse()

	var c config.Config
	conf.MustLoad(*configFile, &c)

	if err := logger.Init(c.LogConf.ToLogOption()); err != nil {
		logx.Errorf("logger init failed: %v", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Infof("effective config:\n%s", c.Redacted())

	serviceContext, err := svc.NewServiceContext(c)
	if err != nil {
		logx.Errorf("service context init failed: %v", err)
		os.Exit(1)
	}
	defer serviceContext.Close()

	cluster, err := serviceContext.Reader.DetectCluster(context.Background())
	switch {
	case err != nil:
		logger.Warnf("cluster detection failed: %v", err)
	case cluster != serviceContext.Network.Cluster:
		logger.Warnf("RPC endpoint is on %s but network.cluster is %s", cluster, serviceContext.Network.Cluster)
	}

	stateSync, err := service.NewStateSyncService(c.StateSyncConf, serviceContext.Reader)
	if err != nil {
		logx.Errorf("state sync init failed: %v", err)
		os.Exit(1)
	}

	sg := zerosvc.NewServiceGroup()
	sg.Add(stateSync)
	if serviceContext.Journal != nil {
		sg.Add(serviceContext.Journal)
	}

	logx.Infof("Starting jewl services")
	go sg.Start()

	// 等待退出信号
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logx.Info("Shutting down services...")
	sg.Stop()
}
