package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/metapages/metaframe-bluetooth/internal/ble"
	"github.com/metapages/metaframe-bluetooth/internal/config"
	"github.com/metapages/metaframe-bluetooth/internal/logging"
	"github.com/metapages/metaframe-bluetooth/internal/output"
	"github.com/metapages/metaframe-bluetooth/internal/session"
	"github.com/metapages/metaframe-bluetooth/internal/widget"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/metaframe-bluetooth/config.yaml)")
	headless := flag.Bool("headless", false, "scan at startup and publish until interrupted, without the terminal UI")
	initConfig := flag.Bool("init", false, "write the default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
			return
		}
		fmt.Printf("Wrote %s\n", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	printBanner(cfg, *headless)

	logger, closeLog, err := logging.Open(cfg, !*headless)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logger, *headless)
	stop()
	if err != nil {
		logger.Error("exiting", "error", err)
		closeLog()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	closeLog()
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, headless bool) error {
	if headless && !session.ValidService(cfg.Service) {
		return fmt.Errorf("headless mode needs a valid service UUID, got %q", cfg.Service)
	}

	var sinks output.Multi
	if cfg.Output.Log {
		sinks = append(sinks, output.LogSink{Logger: logger, Level: slog.LevelInfo})
	}

	if cfg.Output.MQTT.Enabled {
		mq := output.NewMQTTSink(cfg.Output.MQTT, logger)
		defer mq.Close()
		// The broker may come up later; paho keeps retrying.
		go func() {
			if err := mq.Connect(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("[OUTPUT] mqtt connect failed", "error", err)
			}
		}()
		sinks = append(sinks, mq)
	}

	// The hub forwards host config to the machine, which in turn publishes
	// through the hub; the listener starts once both exist.
	var (
		machine *session.Machine
		hub     *output.Hub
	)
	ws := cfg.Output.WebSocket
	if ws.Enabled {
		hub = output.NewHub(logger, func(raw json.RawMessage) error {
			next, err := machine.Config().Update(raw)
			if err != nil {
				return err
			}
			machine.SetConfig(next)
			return nil
		})
		sinks = append(sinks, hub)
	}

	publisher := output.NewPublisher(sinks)
	machine = session.New(ble.NewTinyGoAdapter(cfg.BLE.Adapter), publisher, sessionConfig(cfg), session.Options{
		Logger:         logger,
		ScanTimeout:    cfg.BLE.ScanTimeout,
		ConnectTimeout: cfg.BLE.ConnectTimeout,
	})
	defer machine.Reset()

	if hub != nil {
		mux := http.NewServeMux()
		mux.Handle(ws.Path, hub)
		srv := &http.Server{Addr: ws.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.Info("[OUTPUT] websocket listening", "addr", ws.Addr, "path", ws.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("[OUTPUT] websocket server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("[OUTPUT] websocket server shutdown", "error", err)
			}
			hub.Close()
		}()
	}

	if headless {
		return runHeadless(ctx, machine, logger)
	}
	return runTUI(ctx, machine)
}

// runHeadless scans once at startup and keeps the session until ctx ends.
func runHeadless(ctx context.Context, machine *session.Machine, logger *slog.Logger) error {
	logger.Info("[SESSION] scanning", "service", machine.Config().Service)
	go func() {
		if err := machine.Scan(ctx); err != nil && !errors.Is(err, session.ErrSuperseded) {
			logger.Error("[SESSION] scan failed; restart to retry", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// runTUI runs the terminal widget until the user quits or ctx ends.
func runTUI(ctx context.Context, machine *session.Machine) error {
	p := tea.NewProgram(widget.New(ctx, machine), tea.WithAltScreen(), tea.WithContext(ctx))
	machine.SetOnChange(widget.RefreshHook(p))
	defer machine.SetOnChange(nil)

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("terminal UI: %w", err)
	}
	return nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		Service:     cfg.Service,
		Diagnostics: cfg.Diagnostics,
		Aliases:     cfg.Aliases,
	}
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config, headless bool) {
	service := cfg.Service
	if service == "" {
		service = "(none, set one in the menu)"
	}
	mode := "terminal UI"
	if headless {
		mode = "headless"
	}
	fmt.Println("=== metaframe-bluetooth ===")
	fmt.Printf("  Service:  %s\n", service)
	fmt.Printf("  Mode:     %s\n", mode)
	fmt.Printf("  Aliases:  %d\n", len(cfg.Aliases))
	if cfg.Output.MQTT.Enabled {
		fmt.Printf("  MQTT:     %s:%d (%s)\n", cfg.Output.MQTT.Broker, cfg.Output.MQTT.Port, cfg.Output.MQTT.TopicPrefix)
	}
	if cfg.Output.WebSocket.Enabled {
		fmt.Printf("  Host:     ws://%s%s\n", cfg.Output.WebSocket.Addr, cfg.Output.WebSocket.Path)
	}
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("===========================")
}
