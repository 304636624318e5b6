package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	http_server "VectorLink/api/http"
	"VectorLink/internal/config"
	"VectorLink/pkg/zlog"
)

func main() {
	// 1. 加载配置与日志
	conf := config.GetConfig()
	zlog.Init(conf.LogConfig.LogPath)
	defer zlog.Sync()

	// 2. 组装依赖与路由
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := http_server.Init(ctx)
	if err != nil {
		zlog.Fatal("初始化失败: " + err.Error())
		return
	}

	// 3. 启动摄取消费者（Kafka 配置时才存在）
	if res.Worker != nil {
		go func() {
			if err := res.Worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				zlog.Error("摄取消费者退出: " + err.Error())
			}
		}()
	}

	// 4. 启动 HTTP 服务
	go func() {
		addr := fmt.Sprintf("%s:%d", conf.MainConfig.Host, conf.MainConfig.Port)
		zlog.Info(fmt.Sprintf("服务器正在启动，监听地址: %s", addr))
		// 目前使用 HTTP 启动。如果需要 HTTPS，请配置证书并使用 GE.RunTLS
		if err := http_server.GE.Run(addr); err != nil {
			zlog.Fatal("服务器启动失败: " + err.Error())
			return
		}
	}()

	// 5. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("正在关闭服务器...")
	cancel()
	res.Close()
	zlog.Info("服务器已关闭")
}
