package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"k8s.io/klog/v2"

	"github.com/weibaohui/voicechef/backend/config"
	"github.com/weibaohui/voicechef/backend/internal/domain"
	"github.com/weibaohui/voicechef/backend/internal/eventbus"
	"github.com/weibaohui/voicechef/backend/internal/pkg/database"
	"github.com/weibaohui/voicechef/backend/internal/repository"
	"github.com/weibaohui/voicechef/backend/internal/service/assistant"
	"github.com/weibaohui/voicechef/backend/internal/service/orchestrator"
	"github.com/weibaohui/voicechef/backend/internal/service/permission"
	"github.com/weibaohui/voicechef/backend/internal/service/speech"
	"github.com/weibaohui/voicechef/backend/internal/subscriber"
	"github.com/weibaohui/voicechef/backend/internal/tui"
)

func main() {
	logFile := flag.String("log-file", "voicechef-cli.log", "klog 输出文件，终端界面占用 stderr")
	assistantFlag := flag.String("assistant", "", "默认助手: chef 或 coach")
	klog.InitFlags(nil)
	flag.Parse()
	_ = flag.Set("logtostderr", "false")
	_ = flag.Set("alsologtostderr", "false")
	_ = flag.Set("log_file", *logFile)
	defer klog.Flush()

	if err := run(*assistantFlag); err != nil {
		fmt.Fprintf(os.Stderr, "voicechef: %v\n", err)
		os.Exit(1)
	}
}

func run(assistantName string) error {
	cfg := config.GetConfig()
	ctx := context.Background()

	db, err := database.InitDB(cfg.Database.Type, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	bus := eventbus.NewSessionEventBus()
	subscriber.NewTurnAuditSubscriber(repository.NewTurnRecordRepository(db)).Register(bus)

	// 终端总是可以“听”，键盘输入代替麦克风
	gate := permission.NewGate(permission.StaticProber{Granted: true, Supported: true})
	keyboard := speech.NewBridgeCaptureEngine(bus)
	input := speech.NewInputController(keyboard, gate, speech.InputOptions{
		Language:           cfg.Voice.Language,
		FinalizeTimeout:    cfg.Voice.FinalizeTimeout,
		MaxCaptureDuration: cfg.Voice.MaxCaptureDuration,
	})

	var playbackEngine speech.PlaybackEngine = speech.NoOpPlaybackEngine{}
	if cfg.Voice.TTSCommand != "" {
		commandEngine, err := speech.NewCommandPlaybackEngine(cfg.Voice.TTSCommand, cfg.Voice.TTSArgs)
		if err != nil {
			klog.Warningf("TTS 命令不可用，回复只显示不朗读: %v", err)
		} else {
			playbackEngine = commandEngine
		}
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
		return fmt.Errorf("initialize assistants: %w", err)
	}

	if assistantName == "" {
		assistantName = cfg.Voice.DefaultAssistant
	}
	defaultAssistant, err := domain.ParseAssistantIdentity(assistantName)
	if err != nil {
		return err
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
		return fmt.Errorf("initialize orchestrator: %w", err)
	}

	events := make(chan eventbus.SessionEvent, 128)
	unsubscribe := bus.SubscribeAll(func(ctx context.Context, event eventbus.SessionEvent) error {
		select {
		case events <- event:
		default:
			klog.Warningf("终端界面消费过慢，丢弃事件: type=%s", event.Type)
		}
		return nil
	})
	defer unsubscribe()

	session.Start()
	defer session.Shutdown()

	program := tea.NewProgram(tui.NewModel(session, keyboard, events), tea.WithAltScreen())
	_, err = program.Run()
	return err
}
