// Stage client for Open-LLM-VTuber: connects to the backend WebSocket
// and drives the avatar, captions and microphone bridge.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/taocao/Open-LLM-VTuber/internal/audio"
	"github.com/taocao/Open-LLM-VTuber/internal/bus"
	"github.com/taocao/Open-LLM-VTuber/internal/config"
	"github.com/taocao/Open-LLM-VTuber/internal/discovery"
	"github.com/taocao/Open-LLM-VTuber/internal/lipsync"
	"github.com/taocao/Open-LLM-VTuber/internal/live2d"
	"github.com/taocao/Open-LLM-VTuber/internal/logging"
	"github.com/taocao/Open-LLM-VTuber/internal/session"
	"github.com/taocao/Open-LLM-VTuber/internal/taskqueue"
)

// logRenderer stands in for the canvas when running headless: every
// renderer call is logged instead of drawn.
type logRenderer struct {
	log zerolog.Logger
}

func (r *logRenderer) LoadModel(info live2d.ModelInfo) error {
	r.log.Info().Str("model", info.Name).Str("url", info.URL).Msg("Render: load model")
	return nil
}

func (r *logRenderer) SetExpression(index int) {
	r.log.Info().Int("expression", index).Msg("Render: expression")
}

func (r *logRenderer) SetMouth(value float64) {
	r.log.Debug().Float64("mouth", value).Msg("Render: mouth")
}

// logPlayer stands in for the audio output device.
type logPlayer struct {
	log zerolog.Logger
}

func (p *logPlayer) Play(audio string) error {
	p.log.Info().Int("bytes", len(audio)).Msg("Play: audio payload")
	return nil
}

func (p *logPlayer) Stop() {
	p.log.Debug().Msg("Play: stop")
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("config load failed, using defaults: %v", err)
		cfg = config.DefaultConfig()
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.LogLevel(cfg.Log.Level)
	logCfg.Console = cfg.Log.Console
	if cfg.Log.Dir != "" {
		logCfg.LogDir = cfg.Log.Dir
	}

	syslog, err := logging.New(logCfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer syslog.Close()

	zlog := syslog.Zerolog()
	zlog.Info().Str("server", cfg.Server.WebSocketURL).Str("model", cfg.Avatar.ModelName).Msg("Stage client starting")

	eventBus := bus.NewEventBus()

	if cfg.Server.AutoDiscover || cfg.Server.WebSocketURL == "" {
		backend, err := discovery.NewService(nil, zlog).First(context.Background())
		if err != nil {
			zlog.Fatal().Err(err).Msg("No backend found")
		}
		cfg.Server.WebSocketURL = backend.WebSocketURL
		cfg.Server.BaseURL = backend.URL
		zlog.Info().Str("url", backend.URL).Dur("latency", backend.Latency).Msg("Backend discovered")
	}

	dict, err := live2d.NewDict(cfg.Avatar.ModelDictPath, cfg.Server.BaseURL, zlog)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load model dictionary")
	}
	defer dict.Close()

	zlog.Info().Strs("models", dict.Names()).Msg("Model dictionary loaded")

	if cfg.Avatar.WatchDict {
		if err := dict.Watch(); err != nil {
			zlog.Warn().Err(err).Msg("Model dictionary watching disabled")
		}
	}

	avatar := live2d.NewController(&logRenderer{log: syslog.Component("renderer")}, dict, eventBus, zlog)
	if _, err := avatar.LoadModel(cfg.Avatar.ModelName); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load avatar model")
	}

	lips := lipsync.New(&logPlayer{log: syslog.Component("player")}, avatar.SetMouth, zlog,
		lipsync.WithTalkInterval(cfg.Avatar.TalkInterval))

	queue := taskqueue.New(zlog, taskqueue.WithDelay(cfg.Queue.TaskDelay))
	defer queue.Stop()

	client := session.New(cfg.Server.WebSocketURL, avatar, lips, queue, eventBus, zlog)
	client.SetDialTimeout(cfg.Server.DialTimeout)
	client.SetCaptionHandler(func(text string) {
		fmt.Println(text)
	})

	vad := audio.NewVAD(&audio.VADConfig{
		SampleRate:   cfg.Mic.SampleRate,
		FrameSize:    cfg.Mic.FrameSize,
		Threshold:    cfg.Mic.VADThreshold,
		EnergyWindow: cfg.Mic.EnergyWindowDur,
		MaxSilence:   cfg.Mic.VADSilenceDur,
		PrePadFrames: cfg.Mic.PrePadFrames,
	}, zlog)

	mic := audio.NewBridge(client, vad, cfg.Mic.ChunkSize, eventBus, zlog)
	client.SetMicBridge(mic)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to connect to backend")
	}
	defer client.Close()

	if !cfg.Mic.StartEnabled {
		mic.SetEnabled(false)
	}

	eventBus.Subscribe(bus.EventTypeDisconnected, func(e bus.Event) {
		zlog.Info().Msg("Session ended")
		stop()
	})

	<-ctx.Done()
	zlog.Info().Msg("Stage client shutting down")
}
