package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"teamsbot/internal/bus"
	"teamsbot/internal/channel"
	"teamsbot/internal/command"
	"teamsbot/internal/config"
	"teamsbot/internal/dispatch"
	"teamsbot/internal/domain"
	"teamsbot/internal/metrics"
	"teamsbot/internal/provider"
	"teamsbot/internal/router"
	"teamsbot/internal/store"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "teamsbot",
		Short: "teamsbot: multi-channel conversational message router",
		Long:  "teamsbot routes chat messages through pattern rules, slash commands, and a Groq-backed completion fallback, across Teams, Telegram, Slack, Discord, and the terminal.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.teamsbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start all enabled channels and the dispatcher",
		Long:  "Starts the Teams endpoint and any other enabled channels plus the dispatcher. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat in the terminal",
		RunE:  runChat,
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("teamsbot", version)
		},
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// newCompleter builds the Groq-backed completion adapter from config.
func newCompleter(cfg *config.Config) domain.Completer {
	apiKey := cfg.Provider.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GROQ_API_KEY")
	}
	groq := provider.NewGroq(provider.GroqConfig{
		APIKey:      apiKey,
		APIBase:     cfg.Provider.APIBase,
		Model:       cfg.Provider.Model,
		Temperature: &cfg.Provider.Temperature,
		Timeout:     time.Duration(cfg.Provider.TimeoutSecs) * time.Second,
		Logger:      logger,
	})
	return provider.NewAdapter(groq, logger)
}

// buildDispatcher wires routes, commands, completer, and the optional
// transcript recorder into a dispatcher. The returned cleanup closes
// the transcript store.
func buildDispatcher(cfg *config.Config, messageBus domain.MessageBus) (*dispatch.Dispatcher, func(), error) {
	completer := newCompleter(cfg)

	var routes *router.Table
	var err error
	if cfg.Routes.File != "" {
		routes, err = router.LoadFile(cfg.Routes.File, dispatch.Actions())
		if err != nil {
			return nil, nil, fmt.Errorf("load routes: %w", err)
		}
		logger.Info("routes loaded", "file", cfg.Routes.File, "count", routes.Len())
	} else {
		routes, err = router.Build(router.DefaultSpecs(), dispatch.Actions())
		if err != nil {
			return nil, nil, fmt.Errorf("build default routes: %w", err)
		}
	}

	registry := command.NewRegistry(logger)
	command.RegisterBuiltins(registry, command.HandlerDeps{
		Completer: completer,
		Version:   version,
	})

	cleanup := func() {}
	var recorder dispatch.Recorder
	if cfg.Transcript.Enabled {
		transcript, err := store.NewTranscript(cfg.Transcript.DBPath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("transcript store: %w", err)
		}
		recorder = transcript
		cleanup = func() { transcript.Close() }
	}

	d := dispatch.New(dispatch.Config{
		Routes:      routes,
		Commands:    registry,
		Completer:   completer,
		Bus:         messageBus,
		Recorder:    recorder,
		Logger:      logger,
		Concurrency: cfg.General.MaxConcurrentMessages,
	})
	return d, cleanup, nil
}

func runChat(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(cfg.General.BusBufferSize, logger)
	defer messageBus.Close()

	dispatcher, cleanup, err := buildDispatcher(cfg, messageBus)
	if err != nil {
		return err
	}
	defer cleanup()

	go dispatcher.Run(ctx)

	cliCh := channel.NewCLI(channel.CLIConfig{Logger: logger})
	return cliCh.Start(ctx, messageBus)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(cfg.General.BusBufferSize, logger)

	dispatcher, cleanup, err := buildDispatcher(cfg, messageBus)
	if err != nil {
		return err
	}
	defer cleanup()

	go dispatcher.Run(ctx)

	var channels []domain.Channel

	if cfg.Channels.Teams.Enabled {
		channels = append(channels, channel.NewTeams(channel.TeamsConfig{
			Port:        cfg.Channels.Teams.Port,
			Path:        cfg.Channels.Teams.Path,
			AppID:       cfg.Channels.Teams.AppID,
			AppPassword: cfg.Channels.Teams.AppPassword,
			Logger:      logger,
		}))
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		channels = append(channels, channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			ParseMode: cfg.Channels.Telegram.ParseMode,
			Logger:    logger,
		}))
	}
	if cfg.Channels.Slack.Enabled && cfg.Channels.Slack.BotToken != "" {
		channels = append(channels, channel.NewSlack(channel.SlackConfig{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
			Logger:   logger,
		}))
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		channels = append(channels, channel.NewDiscord(channel.DiscordConfig{
			Token:   cfg.Channels.Discord.Token,
			GuildID: cfg.Channels.Discord.GuildID,
			Logger:  logger,
		}))
	}

	if len(channels) == 0 {
		return fmt.Errorf("no channels enabled; enable at least one in %s", cfgPath)
	}

	for _, ch := range channels {
		go func(ch domain.Channel) {
			metrics.ActiveChannels.Inc()
			defer metrics.ActiveChannels.Dec()
			if err := ch.Start(ctx, messageBus); err != nil {
				logger.Error("channel error", "channel", ch.Name(), "err", err)
			}
		}(ch)
		logger.Info("channel enabled", "channel", ch.Name())
	}

	if cfg.Metrics.Enabled {
		go serveMetrics(ctx, cfg.Metrics)
	}

	logger.Info("teamsbot started. Press Ctrl+C to stop.")

	// Block until shutdown signal
	<-ctx.Done()
	logger.Info("shutting down...")

	// Graceful shutdown with timeout
	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range channels {
			if err := ch.Stop(); err != nil {
				logger.Warn("channel stop failed", "channel", ch.Name(), "err", err)
			}
		}
		messageBus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

func serveMetrics(ctx context.Context, cfg config.MetricsConfig) {
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Endpoint, metrics.Collector.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint starting", "port", cfg.Port, "path", cfg.Endpoint)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", "err", err)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show provider and config status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			apiKey := cfg.Provider.APIKey
			if apiKey == "" {
				apiKey = os.Getenv("GROQ_API_KEY")
			}
			groq := provider.NewGroq(provider.GroqConfig{
				APIKey:      apiKey,
				APIBase:     cfg.Provider.APIBase,
				Model:       cfg.Provider.Model,
				Temperature: &cfg.Provider.Temperature,
				Logger:      logger,
			})

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := groq.Healthy(ctx); err != nil {
				logger.Info("provider", "name", groq.Name(), "healthy", false, "err", err)
			} else {
				logger.Info("provider", "name", groq.Name(), "healthy", true)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. provider.model)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. provider.model llama-3.1-8b-instant)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
