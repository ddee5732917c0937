package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/romanmihailow/tg-post-service/config"
	"github.com/romanmihailow/tg-post-service/control"
	"github.com/romanmihailow/tg-post-service/internal/profile"
	"github.com/romanmihailow/tg-post-service/internal/version"
	"github.com/romanmihailow/tg-post-service/llm"
	"github.com/romanmihailow/tg-post-service/scheduler"
	"github.com/romanmihailow/tg-post-service/store"
	"github.com/romanmihailow/tg-post-service/store/db/sqlite"
	"github.com/romanmihailow/tg-post-service/telegram"
)

var rootCmd = &cobra.Command{
	Use:   "tgpost",
	Short: `Multi-account publishing service for Telegram channels with AI paraphrase, discussion seeding, and live replies.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Only load .env for direct binary execution (not when running as systemd service).
		// The systemd unit carries its environment in /etc/tgpost/config.
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		return run()
	},
}

func run() error {
	instanceProfile := &profile.Profile{
		Mode:    viper.GetString("mode"),
		Data:    viper.GetString("data"),
		Driver:  viper.GetString("driver"),
		DSN:     viper.GetString("dsn"),
		Version: version.String(),
	}
	instanceProfile.FromEnv()
	if err := instanceProfile.Validate(); err != nil {
		return err
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if len(cfg.Accounts) == 0 {
		return errors.New("no accounts configured, set TGPOST_ACCOUNTS_JSON")
	}

	systemPrompt, err := loadSystemPrompt(cfg.SystemPromptPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sqlite.NewDB(instanceProfile)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return errors.Wrap(err, "failed to migrate database")
	}
	st := store.New(db)

	if err := syncPipelines(ctx, st, cfg); err != nil {
		return err
	}

	runtimes, clients, err := buildRuntimes(ctx, cfg, instanceProfile, systemPrompt)
	if err != nil {
		return err
	}

	notifier := scheduler.Notifier(scheduler.NopNotifier{})
	if cfg.ControlBotToken != "" && cfg.OwnerChatID != 0 {
		owner, err := control.NewOwnerNotifier(cfg.ControlBotToken, cfg.OwnerChatID)
		if err != nil {
			return err
		}
		notifier = owner
	}

	surface := control.NewService(st, control.NewAuditLog(instanceProfile.AuditLogPath))

	sched := scheduler.New(scheduler.Deps{
		Store:    st,
		Config:   cfg,
		Accounts: runtimes,
		Usage:    llm.NewUsageLog(instanceProfile.UsageLogPath),
		Notifier: notifier,
	})

	c := make(chan os.Signal, 1)
	// Trigger graceful shutdown on SIGINT or SIGTERM. The default signal
	// sent by the `kill` command is SIGTERM, which is taken as the
	// graceful shutdown signal for many systems, eg., Kubernetes, systemd.
	signal.Notify(c, terminationSignals...)
	go func() {
		<-c
		cancel()
	}()

	printGreetings(ctx, instanceProfile, cfg, surface)

	g, gctx := errgroup.WithContext(ctx)
	for _, client := range clients {
		client := client
		g.Go(func() error {
			return ignoreCanceled(client.Run(gctx))
		})
	}
	g.Go(func() error {
		return ignoreCanceled(sched.Run(gctx))
	})
	return g.Wait()
}

// loadSystemPrompt reads the account system prompt file. The prompt is
// mandatory: every paraphrase and discussion call depends on it.
func loadSystemPrompt(path string) (string, error) {
	if path == "" {
		return "", errors.New("SYSTEM_PROMPT_PATH is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read system prompt %s", path)
	}
	prompt := strings.TrimSpace(string(raw))
	if prompt == "" {
		return "", errors.Errorf("system prompt %s is empty", path)
	}
	return prompt, nil
}

// syncPipelines mirrors the configured pipeline list into the store so the
// scheduler and the control surface work off the same rows.
func syncPipelines(ctx context.Context, st *store.Store, cfg *config.Config) error {
	for i := range cfg.Pipelines {
		p := &cfg.Pipelines[i]
		row, err := st.UpsertPipeline(ctx, &store.UpsertPipeline{
			Name:           p.Name,
			AccountName:    p.AccountName,
			Enabled:        p.Enabled,
			Destination:    p.Destination,
			Mode:           store.PipelineMode(p.Mode),
			Type:           store.PipelineType(p.Type),
			IntervalSec:    p.IntervalSec,
			BlackboxEveryN: p.BlackboxEveryN,
		})
		if err != nil {
			return errors.Wrapf(err, "failed to sync pipeline %s", p.Name)
		}
		for _, channel := range p.Sources {
			if _, err := st.UpsertPipelineSource(ctx, &store.UpsertPipelineSource{
				PipelineID: row.ID,
				Channel:    channel,
			}); err != nil {
				return errors.Wrapf(err, "failed to sync source %s of pipeline %s", channel, p.Name)
			}
		}
		if d := p.Discussion; d != nil {
			if _, err := st.UpsertDiscussionSettings(ctx, &store.UpsertDiscussionSettings{
				PipelineID:                  row.ID,
				TargetChat:                  d.TargetChat,
				SourcePipelineName:          d.SourcePipelineName,
				KMin:                        d.KMin,
				KMax:                        d.KMax,
				ReplyToReplyProbability:     d.ReplyToReplyProbability,
				ActivityWindowsWeekdaysJSON: d.ActivityWindowsWeekdaysJSON,
				ActivityWindowsWeekendsJSON: d.ActivityWindowsWeekendsJSON,
				Timezone:                    d.Timezone,
				MinIntervalMinutes:          d.MinIntervalMinutes,
				MaxIntervalMinutes:          d.MaxIntervalMinutes,
				InactivityPauseMinutes:      d.InactivityPauseMinutes,
				MaxAutoRepliesPerChatPerDay: d.MaxAutoRepliesPerChatPerDay,
				UserReplyMaxAgeMinutes:      d.UserReplyMaxAgeMinutes,
			}); err != nil {
				return errors.Wrapf(err, "failed to sync discussion settings of pipeline %s", p.Name)
			}
		}
	}
	return nil
}

// buildRuntimes connects every account: Bot API transports, the provider
// client, and the identity behind the reader token. The returned clients
// are the unique transports whose update streams must run.
func buildRuntimes(ctx context.Context, cfg *config.Config, p *profile.Profile, systemPrompt string) (map[string]*scheduler.AccountRuntime, []*telegram.Client, error) {
	runtimes := make(map[string]*scheduler.AccountRuntime, len(cfg.Accounts))
	var clients []*telegram.Client

	for i := range cfg.Accounts {
		acc := &cfg.Accounts[i]
		behavior := config.ResolveBehavior(acc.Behavior)

		if acc.Reader.Session == "" {
			return nil, nil, errors.Errorf("account %s: reader session token required", acc.Name)
		}
		reader, err := telegram.NewClient(acc.Reader.Session, transportOptions(behavior))
		if err != nil {
			return nil, nil, errors.Wrapf(err, "account %s: failed to connect reader", acc.Name)
		}
		clients = append(clients, reader)

		var writerPort telegram.Port
		if w := acc.Writer; w != nil && w.Session != "" && w.Session != acc.Reader.Session {
			writer, err := telegram.NewClient(w.Session, transportOptions(behavior))
			if err != nil {
				return nil, nil, errors.Wrapf(err, "account %s: failed to connect writer", acc.Name)
			}
			clients = append(clients, writer)
			writerPort = writer
		}

		identifyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		identity, err := reader.Identify(identifyCtx)
		cancel()
		if err != nil {
			return nil, nil, errors.Wrapf(err, "account %s: failed to identify", acc.Name)
		}

		provider, err := llm.NewClient(providerOptions(acc, p, systemPrompt))
		if err != nil {
			return nil, nil, errors.Wrapf(err, "account %s: failed to create provider client", acc.Name)
		}

		runtimes[acc.Name] = &scheduler.AccountRuntime{
			Name:       acc.Name,
			Reader:     reader,
			WriterPort: writerPort,
			LLM:        provider,
			Behavior:   behavior,

			DiscussionActivityPercent: acc.DiscussionActivity(),
			UserReplyActivityPercent:  acc.UserReplyActivity(),

			UserID:   identity.UserID,
			Username: identity.Username,

			SystemPromptChat: acc.SystemPromptChat,
		}
		slog.Info("account connected",
			slog.String("account", acc.Name),
			slog.String("username", identity.Username),
			slog.Int("behavior", acc.Behavior))
	}
	return runtimes, clients, nil
}

func transportOptions(b config.BehaviorSettings) telegram.Options {
	return telegram.Options{
		RequestDelay:    b.RequestDelay,
		Jitter:          b.Jitter,
		FloodAntiblock:  b.FloodAntiblock,
		FloodMaxSeconds: b.FloodMaxSec,
	}
}

// providerOptions resolves the provider settings for one account, falling
// back to the process-level defaults.
func providerOptions(acc *config.Account, p *profile.Profile, systemPrompt string) llm.ClientOptions {
	opts := llm.ClientOptions{
		APIKey:       p.OpenAIAPIKey,
		BaseURL:      p.OpenAIBaseURL,
		SystemPrompt: systemPrompt,
		Timeout:      time.Duration(p.OpenAITimeout) * time.Second,
	}
	if o := acc.OpenAI; o != nil {
		if o.APIKey != "" {
			opts.APIKey = o.APIKey
		}
		if o.BaseURL != "" {
			opts.BaseURL = o.BaseURL
		}
		opts.TextModel = o.TextModel
		opts.ImageModel = o.ImageModel
	}
	return opts
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printGreetings(ctx context.Context, p *profile.Profile, cfg *config.Config, surface control.Surface) {
	fmt.Printf("tgpost %s started successfully!\n", p.Version)

	if p.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if p.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", p.DSN)
		}
	}

	fmt.Printf("Data directory: %s\n", p.Data)
	fmt.Printf("Database driver: %s\n", p.Driver)
	fmt.Printf("Mode: %s\n", p.Mode)
	fmt.Printf("Accounts: %d\n", len(cfg.Accounts))

	if pipelines, err := surface.ListPipelines(ctx); err == nil {
		enabled := 0
		for _, row := range pipelines {
			if row.Enabled {
				enabled++
			}
		}
		fmt.Printf("Pipelines: %d (%d enabled)\n", len(pipelines), enabled)
	}
	if cfg.ControlBotToken != "" && cfg.OwnerChatID != 0 {
		fmt.Printf("Owner alerts: enabled (chat %d)\n", cfg.OwnerChatID)
	} else {
		fmt.Println("Owner alerts: disabled")
	}
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of service, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (sqlite)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")

	for _, name := range []string{"mode", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("tgpost")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("service stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
