package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/weibaohui/voicechef/backend/config"
	"github.com/weibaohui/voicechef/backend/internal/domain"
	"github.com/weibaohui/voicechef/backend/internal/eventbus"
	"github.com/weibaohui/voicechef/backend/internal/handler"
	"github.com/weibaohui/voicechef/backend/internal/pkg/database"
	"github.com/weibaohui/voicechef/backend/internal/repository"
	"github.com/weibaohui/voicechef/backend/internal/router"
	"github.com/weibaohui/voicechef/backend/internal/service/assistant"
	"github.com/weibaohui/voicechef/backend/internal/service/orchestrator"
	"github.com/weibaohui/voicechef/backend/internal/service/permission"
	"github.com/weibaohui/voicechef/backend/internal/service/speech"
	"github.com/weibaohui/voicechef/backend/internal/subscriber"
)

func main() {
	// 初始化 klog
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	klog.V(6).Info("服务启动中...")

	cfg := config.GetConfig()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化数据库
	db, err := database.InitDB(cfg.Database.Type, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// 事件总线与审计
	bus := eventbus.NewSessionEventBus()
	turnRepo := repository.NewTurnRecordRepository(db)
	subscriber.NewTurnAuditSubscriber(turnRepo).Register(bus)

	// 浏览器负责麦克风与识别，结果经 HTTP 桥接回填
	prober := permission.NewRemoteProber()
	gate := permission.NewGate(prober)
	captureEngine := speech.NewBridgeCaptureEngine(bus)
	input := speech.NewInputController(captureEngine, gate, speech.InputOptions{
		Language:           cfg.Voice.Language,
		FinalizeTimeout:    cfg.Voice.FinalizeTimeout,
		MaxCaptureDuration: cfg.Voice.MaxCaptureDuration,
	})

	// 配置了 TTS 命令时由服务端播放，否则交给浏览器
	var playbackEngine speech.PlaybackEngine
	var playbackBridge handler.PlaybackBridge
	if cfg.Voice.TTSCommand != "" {
		commandEngine, err := speech.NewCommandPlaybackEngine(cfg.Voice.TTSCommand, cfg.Voice.TTSArgs)
		if err != nil {
			log.Fatalf("Failed to initialize TTS command: %v", err)
		}
		playbackEngine = commandEngine
	} else {
		bridge := speech.NewBridgePlaybackEngine(bus)
		playbackEngine = bridge
		playbackBridge = bridge
	}
	output := speech.NewOutputController(playbackEngine, speech.OutputOptions{
		Language:            cfg.Voice.Language,
		StartTimeout:        cfg.Voice.PlaybackStartTimeout,
		MaxPlaybackDuration: cfg.Voice.PlaybackTimeout,
	})
	input.SetBusyProbe(output.Speaking)
	output.SetCapturePreempt(input.AbortCapture)

	backend, err := assistant.NewRouterFromConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize assistants: %v", err)
	}

	defaultAssistant, err := domain.ParseAssistantIdentity(cfg.Voice.DefaultAssistant)
	if err != nil {
		klog.Warningf("默认助手配置无效，使用 coach: %v", err)
		defaultAssistant = domain.AssistantCoach
	}

	session, err := orchestrator.New(orchestrator.Dependencies{
		Permission: gate,
		Input:      input,
		Output:     output,
		Router:     backend,
		Publisher:  bus,
	}, orchestrator.Options{
		DefaultAssistant: defaultAssistant,
		DispatchTimeout:  cfg.Voice.DispatchTimeout,
		DispatchWorkers:  cfg.Voice.DispatchWorkers,
	})
	if err != nil {
		log.Fatalf("Failed to initialize orchestrator: %v", err)
	}
	session.Start()
	defer session.Shutdown()

	// 初始化 Handler
	deps := handler.VoiceDeps{
		Session:    session,
		Events:     bus,
		Capture:    captureEngine,
		Permission: prober,
		Turns:      turnRepo,
	}
	if playbackBridge != nil {
		deps.Playback = playbackBridge
	}
	voiceHandler := handler.NewVoiceHandler(deps)

	// 设置路由
	r := router.Setup(cfg, voiceHandler)
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
		// 退出时 SSE 连接随之结束
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		klog.V(6).Info("收到退出信号，停止服务...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			klog.Errorf("HTTP 服务停止失败: %v", err)
		}
	}()

	log.Printf("Server starting on port %s...", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
}
