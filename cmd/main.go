package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"

	"github.com/linjuya-lu/serial_assist_go/internal/bus"
	"github.com/linjuya-lu/serial_assist_go/internal/config"
	"github.com/linjuya-lu/serial_assist_go/internal/monitor"
	"github.com/linjuya-lu/serial_assist_go/internal/mqtt"
	"github.com/linjuya-lu/serial_assist_go/internal/serial"
)

func main() {
	cfgPath := flag.String("config", "configs/configuration.yaml", "配置文件路径")
	listPorts := flag.Bool("list-ports", false, "枚举本机串口设备后退出")
	flag.Parse()

	if *listPorts {
		names, err := serial.ListPorts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "list ports: %v\n", err)
			os.Exit(1)
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return
	}

	// 1. 载入并校验配置
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	lc := logger.NewClient(cfg.Service.Name, cfg.Service.LogLevel)

	// 2. 事件总线与监视器
	b := bus.New()
	m, err := monitor.New(cfg, lc, b)
	if err != nil {
		lc.Errorf("初始化失败: %v", err)
		os.Exit(1)
	}

	// 3. 打开所有配置的端口，单个端口失败只记日志不拖垮整体
	opened := 0
	for _, pc := range cfg.Ports {
		if err := m.OpenPort(pc.Name); err != nil {
			lc.Errorf("打开端口 %s 失败: %v", pc.Name, err)
			continue
		}
		opened++
	}
	if opened == 0 && len(cfg.Ports) > 0 {
		lc.Error("没有任何端口打开成功")
		os.Exit(1)
	}

	// 4. 可选的 MQTT 事件桥
	var bridge *mqtt.Bridge
	if cfg.MQTT != nil && cfg.MQTT.Broker != "" {
		bridge, err = mqtt.NewBridge(mqtt.FromConfig(cfg.MQTT), b)
		if err != nil {
			lc.Errorf("MQTT 事件桥连接失败: %v", err)
			os.Exit(1)
		}
		lc.Infof("MQTT 事件桥已连接 %s", cfg.MQTT.Broker)
	}

	lc.Infof("%s 已启动，监视 %d 个端口", cfg.Service.Name, opened)

	// 5. 等 SIGINT/SIGTERM，收到后按依赖顺序收尾
	sigCtx, sigCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer sigCancel()
	<-sigCtx.Done()

	lc.Info("收到终止信号，正在关闭...")
	if bridge != nil {
		bridge.Close()
	}
	m.Close()
	b.Close()
	lc.Info("已退出")
}
