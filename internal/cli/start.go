package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/inklingd/inkling/internal/config"
	"github.com/inklingd/inkling/internal/dispatch"
	"github.com/inklingd/inkling/internal/notify"
	"github.com/inklingd/inkling/internal/observe"
	"github.com/inklingd/inkling/internal/oracle"
	"github.com/inklingd/inkling/internal/reconcile"
	"github.com/inklingd/inkling/internal/store"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start [name]",
	Short: "Run the capture pipeline for a user or system",
	Args:  cobra.MaximumNArgs(1),
	Run:   runStart,
}

var startSignalNotify = signal.Notify
var startSignalStop = signal.Stop

func runStart(cmd *cobra.Command, args []string) {
	printHeader("🪶 Inkling Pipeline")

	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	if len(args) > 0 {
		cfg.Identity.UserName = args[0]
	}
	if cfg.Oracle.APIKey == "" {
		fmt.Println("Oracle API key missing (set INKLING_ORACLE_API_KEY or run 'inkling init')")
		os.Exit(1)
	}

	// 2. Open Store
	dbPath, err := config.ResolvePath(cfg.Paths.DBPath)
	if err != nil {
		fmt.Printf("DB path error: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		fmt.Printf("DB dir error: %v\n", err)
		os.Exit(1)
	}
	st, err := store.NewStore(store.StoreOptions{
		Path: dbPath,
		Weights: store.Weights{
			Text:       cfg.Query.TextWeight,
			Confidence: cfg.Query.ConfidenceWeight,
			Recency:    cfg.Query.RecencyWeight,
			HalfLife:   cfg.Query.HalfLife(),
		},
		CandidateFactor: cfg.Query.CandidateFactor,
	})
	if err != nil {
		fmt.Printf("Store error: %v\n", err)
		os.Exit(1)
	}

	// 3. Oracle, reconciler, dispatcher
	orc := oracle.NewOpenAIOracle(oracle.OracleOptions{
		APIKey:            cfg.Oracle.APIKey,
		APIBase:           cfg.Oracle.APIBase,
		Model:             cfg.Oracle.Model,
		UserName:          cfg.Identity.UserName,
		MaxDrafts:         cfg.Oracle.MaxDrafts,
		Timeout:           cfg.Oracle.Timeout(),
		RequestsPerMinute: cfg.Oracle.RequestsPerMinute,
		CacheTTL:          cfg.Oracle.CacheTTL(),
	})
	rec := reconcile.New(reconcile.Options{
		Store:         st,
		Oracle:        orc,
		NeighborLimit: cfg.Pipeline.NeighborLimit,
		Audit:         cfg.Pipeline.AuditEnabled,
	})
	disp := dispatch.NewDispatcher(dispatch.Options{
		Store:         st,
		Reconciler:    rec,
		MaxConcurrent: cfg.Pipeline.MaxConcurrent,
		PollInterval:  cfg.Pipeline.PollInterval(),
	})

	// 4. Producers from config. Dispatcher.Stop owns their shutdown.
	ctx := context.Background()
	if cfg.Journal.Enabled {
		path, err := config.ResolvePath(cfg.Journal.Path)
		if err != nil {
			fmt.Printf("Journal path error: %v\n", err)
			os.Exit(1)
		}
		jp := observe.NewJournalProducer("journal", path, cfg.Pipeline.PollInterval())
		jp.Start(ctx)
		if err := disp.AddProducer(jp); err != nil {
			fmt.Printf("Journal producer error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("📓 Journal: %s\n", path)
	}
	if cfg.Kafka.Enabled {
		kp := observe.NewKafkaProducer("kafka", cfg.Kafka.Brokers, cfg.Kafka.Group, cfg.Kafka.Topic)
		kp.Start(ctx)
		if err := disp.AddProducer(kp); err != nil {
			fmt.Printf("Kafka producer error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("🛰️ Kafka: %s @ %s\n", cfg.Kafka.Topic, cfg.Kafka.Brokers)
	}

	// 5. Notification handlers
	if cfg.Slack.Enabled {
		if h := notify.Slack(notify.SlackOptions{
			BotToken: cfg.Slack.BotToken,
			Channel:  cfg.Slack.Channel,
			APIBase:  cfg.Slack.APIBase,
		}, st); h != nil {
			disp.RegisterHandler(h)
			fmt.Printf("💬 Slack: #%s\n", cfg.Slack.Channel)
		}
	}

	// 6. Run until signalled
	if err := disp.Start(ctx); err != nil {
		fmt.Printf("Dispatcher error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Modeling %s (db: %s)\n", cfg.Identity.UserName, dbPath)
	fmt.Println("Pipeline running. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	startSignalNotify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer startSignalStop(sigChan)
	<-sigChan

	fmt.Println("Shutting down...")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := disp.Stop(stopCtx); err != nil {
		fmt.Printf("⚠️ Dispatcher stop: %v\n", err)
	}
	stopCancel()

	stats := disp.Stats()
	fmt.Printf("Processed: %d admitted, %d committed, %d skipped, %d failed\n",
		stats.Admitted, stats.Committed, stats.Skipped, stats.Failed)
	st.Close()
}
