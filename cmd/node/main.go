package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"lumen-core/internal/config"
	"lumen-core/internal/identity"
	"lumen-core/internal/packet"
	"lumen-core/internal/protocol/mux"
	"lumen-core/internal/server"
	"lumen-core/internal/utils"

	"github.com/google/uuid"
)

const (
	// ServiceEcho 内置回显服务，冒烟测试用
	ServiceEcho uint32 = 1
	// ServiceNodeInfo 节点状态服务，仅节点间可达
	ServiceNodeInfo uint32 = 100
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to configuration file")
		showHelp   = flag.Bool("help", false, "Show help information")
	)
	flag.Parse()

	if *showHelp {
		utils.Info("Lumen Node")
		utils.Info("Usage: node [options]")
		flag.PrintDefaults()
		return
	}

	cfg := config.Default()
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := config.Load(*configPath)
		if err != nil {
			utils.Fatalf("Failed to load configuration: %v", err)
		}
		cfg = loaded
	} else {
		utils.Warnf("Config file %s not found, using defaults", *configPath)
	}

	if err := utils.InitLogger(&cfg.Log); err != nil {
		utils.Fatalf("Failed to init logger: %v", err)
	}

	srv, err := server.New(&cfg.Server, context.Background())
	if err != nil {
		utils.Fatalf("Failed to create server: %v", err)
	}

	registerServices(srv)

	if err := srv.Run(); err != nil {
		utils.Fatalf("Failed to run server: %v", err)
	}
	utils.Info("Lumen node exited gracefully")
}

// registerServices 注册内置服务
func registerServices(srv *server.Server) {
	startedAt := time.Now()

	// 回显服务，Secondary 级别，任何已认证会话可达
	echoHandler := mux.HandlerFunc(func(sessionID uuid.UUID, id *identity.NodeIdentity, payload []byte) ([]byte, error) {
		return payload, nil
	})
	if err := srv.Register(ServiceEcho, packet.ModeSecondary, echoHandler); err != nil {
		utils.Fatalf("Failed to register echo service: %v", err)
	}

	// 节点状态服务，仅 Primary 会话（节点间连接）可达
	infoHandler := mux.HandlerFunc(func(sessionID uuid.UUID, id *identity.NodeIdentity, payload []byte) ([]byte, error) {
		info := fmt.Sprintf("sessions=%d uptime=%s", srv.Registry().Count(), time.Since(startedAt).Round(time.Second))
		return []byte(info), nil
	})
	if err := srv.Register(ServiceNodeInfo, packet.ModePrimary, infoHandler); err != nil {
		utils.Fatalf("Failed to register node info service: %v", err)
	}
}
