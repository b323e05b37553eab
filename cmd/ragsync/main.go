// Command ragsync operates the content sync queue: it runs the dispatch
// worker, inspects queue state, and performs operator maintenance.
//
// Usage:
//
//	ragsync worker          run the dispatch loop until interrupted
//	ragsync process         run a single dispatch pass and exit
//	ragsync status          print queue statistics and breaker state
//	ragsync retry           requeue all failed and dead items
//	ragsync clear           delete items by status
//	ragsync test-connection send a connection_test envelope
//	ragsync force-close     close the circuit breaker
//	ragsync sweep           enqueue entity ids from a file or stdin
//
// Configuration comes from a YAML file (-config) overlaid with
// RAGSYNC_* environment variables.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"

	"github.com/lmarcho/ragsync"
	"github.com/lmarcho/ragsync/mysql"
	"github.com/lmarcho/ragsync/prom"
	"github.com/lmarcho/ragsync/zaplog"
)

const exitUsage = 2

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUsage)
	}
	cmd := os.Args[1]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	var (
		configPath string
		statuses   string
		entityType string
		file       string
		url        string
		secret     string
	)
	fs.StringVar(&configPath, "config", "", "Path to config file (default ragsync.yaml in . or /etc/ragsync)")
	switch cmd {
	case "clear":
		fs.StringVar(&statuses, "status", "sent", "Comma-separated statuses to delete")
	case "test-connection":
		fs.StringVar(&url, "url", "", "Webhook URL (default from config)")
		fs.StringVar(&secret, "secret", "", "API secret (default from config)")
	case "sweep":
		fs.StringVar(&entityType, "type", "", "Entity type to enqueue")
		fs.StringVar(&file, "file", "-", "File with one 'entity_id[,store_id]' per line, - for stdin")
	}
	_ = fs.Parse(os.Args[2:])

	app, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := zaplog.NewProduction(app.cfg.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = run(ctx, cmd, app, logger, runArgs{
		statuses:   statuses,
		entityType: entityType,
		file:       file,
		url:        url,
		secret:     secret,
	})
	if err != nil {
		logger.Error("command failed", "command", cmd, "err", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ragsync <worker|process|status|retry|clear|test-connection|force-close|sweep> [flags]")
}

type runArgs struct {
	statuses   string
	entityType string
	file       string
	url        string
	secret     string
}

type appConfig struct {
	dsn          string
	queueTable   string
	circuitTable string
	metricsAddr  string
	interval     time.Duration
	cfg          ragsync.Config
}

func loadConfig(path string) (appConfig, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ragsync")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ragsync")
	}
	v.SetEnvPrefix("RAGSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("queue_table", mysql.DefaultQueueTable)
	v.SetDefault("circuit_table", mysql.DefaultCircuitTable)
	v.SetDefault("metrics_addr", ":9464")
	v.SetDefault("dispatch_interval", time.Minute)
	v.SetDefault("sync.products", true)
	v.SetDefault("sync.cms_pages", true)
	v.SetDefault("sync.cms_blocks", true)
	v.SetDefault("sync.categories", true)
	v.SetDefault("sync.promotions", true)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return appConfig{}, fmt.Errorf("read config: %w", err)
		}
	}

	var delays []time.Duration
	for _, raw := range v.GetStringSlice("retry_delays") {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return appConfig{}, fmt.Errorf("retry_delays: %w", err)
		}
		delays = append(delays, d)
	}

	return appConfig{
		dsn:          v.GetString("dsn"),
		queueTable:   v.GetString("queue_table"),
		circuitTable: v.GetString("circuit_table"),
		metricsAddr:  v.GetString("metrics_addr"),
		interval:     v.GetDuration("dispatch_interval"),
		cfg: ragsync.Config{
			Enabled:            v.GetBool("enabled"),
			Environment:        v.GetString("environment"),
			Debug:              v.GetBool("debug"),
			WebhookURL:         v.GetString("webhook_url"),
			TenantID:           v.GetString("tenant_id"),
			APISecret:          v.GetString("api_secret"),
			Timeout:            v.GetDuration("timeout"),
			BatchSize:          v.GetInt("batch_size"),
			MaxRetries:         v.GetInt("max_retries"),
			RetryDelays:        delays,
			Retention:          v.GetDuration("retention"),
			StuckAfter:         v.GetDuration("stuck_after"),
			FailureThreshold:   v.GetInt("failure_threshold"),
			RecoveryTimeout:    v.GetDuration("recovery_timeout"),
			ProductsEnabled:    v.GetBool("sync.products"),
			CmsPagesEnabled:    v.GetBool("sync.cms_pages"),
			CmsBlocksEnabled:   v.GetBool("sync.cms_blocks"),
			CategoriesEnabled:  v.GetBool("sync.categories"),
			PromotionsEnabled:  v.GetBool("sync.promotions"),
			PromotionRuleTypes: v.GetString("sync.promotion_rule_types"),
		},
	}, nil
}

type engine struct {
	db         *sql.DB
	store      *mysql.Store
	breaker    *ragsync.CircuitBreaker
	client     *ragsync.WebhookClient
	queue      *ragsync.QueueService
	dispatcher *ragsync.Dispatcher
	provider   ragsync.ConfigProvider
}

func buildEngine(ctx context.Context, app appConfig, logger ragsync.Logger, metrics ragsync.Metrics) (*engine, error) {
	if app.dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}

	db, err := sql.Open("mysql", app.dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	store, err := mysql.NewStore(db, mysql.WithQueueTable(app.queueTable))
	if err != nil {
		db.Close()

		return nil, err
	}
	circuits, err := mysql.NewCircuitStore(db, mysql.WithCircuitTable(app.circuitTable))
	if err != nil {
		db.Close()

		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()

		return nil, err
	}
	if err := circuits.EnsureSchema(ctx); err != nil {
		db.Close()

		return nil, err
	}

	provider := ragsync.NewStaticConfig(app.cfg)
	breaker := ragsync.NewCircuitBreaker(circuits, provider.Config(0), ragsync.SystemClock{}, logger)
	client := ragsync.NewWebhookClient(provider, ragsync.SystemClock{}, logger)
	dispatcher := ragsync.NewDispatcher(store, client, breaker, ragsync.NewRegistry(), provider,
		ragsync.WithLogger(logger),
		ragsync.WithMetrics(metrics),
		ragsync.WithDispatchInterval(app.interval))

	return &engine{
		db:         db,
		store:      store,
		breaker:    breaker,
		client:     client,
		queue:      ragsync.NewQueueService(store, provider, logger),
		dispatcher: dispatcher,
		provider:   provider,
	}, nil
}

func run(ctx context.Context, cmd string, app appConfig, logger ragsync.Logger, args runArgs) error {
	var metrics ragsync.Metrics = ragsync.NopMetrics{}
	if cmd == "worker" {
		metrics = prom.New(prometheus.DefaultRegisterer)
	}

	eng, err := buildEngine(ctx, app, logger, metrics)
	if err != nil {
		return err
	}
	defer eng.db.Close()

	switch cmd {
	case "worker":
		return runWorker(ctx, eng, app, logger)
	case "process":
		res, err := eng.dispatcher.ProcessOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("fetched=%d locked=%d sent=%d skipped=%d failed=%d dead=%d circuit_open=%v\n",
			res.Fetched, res.Locked, res.Sent, res.Skipped, res.Failed, res.Dead, res.CircuitOpen)

		return nil
	case "status":
		return printStatus(ctx, eng)
	case "retry":
		count, err := eng.dispatcher.RetryFailed(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("requeued %d items\n", count)

		return nil
	case "clear":
		statuses, err := parseStatuses(args.statuses)
		if err != nil {
			return err
		}
		count, err := eng.dispatcher.Clear(ctx, statuses)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d items\n", count)

		return nil
	case "test-connection":
		url, secret := args.url, args.secret
		if url == "" {
			url = app.cfg.WebhookURL
		}
		if secret == "" {
			secret = app.cfg.APISecret
		}
		resp := eng.client.TestConnection(ctx, url, secret)
		if !resp.Success {
			return fmt.Errorf("connection test failed: %s", resp.ErrorMessage())
		}
		fmt.Printf("connection ok (HTTP %d, %dms)\n", resp.StatusCode, resp.Duration.Milliseconds())

		return nil
	case "force-close":
		return eng.breaker.ForceClose(ctx)
	case "sweep":
		return runSweep(ctx, eng, logger, args)
	default:
		usage()

		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runWorker(ctx context.Context, eng *engine, app appConfig, logger ragsync.Logger) error {
	srv := &http.Server{Addr: app.metricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "err", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("worker started", "metrics_addr", app.metricsAddr)
	if err := eng.dispatcher.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	logger.Info("worker stopped")

	return nil
}

func printStatus(ctx context.Context, eng *engine) error {
	stats, err := eng.queue.Statistics(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("pending=%d processing=%d sent=%d failed=%d dead=%d total=%d\n",
		stats.Pending, stats.Processing, stats.Sent, stats.Failed, stats.Dead, stats.Total)
	for entityType, count := range stats.ByEntityType {
		fmt.Printf("  %s: %d\n", entityType, count)
	}

	if age, ok, err := eng.queue.OldestPendingAge(ctx); err == nil && ok {
		fmt.Printf("oldest pending: %s\n", age.Round(time.Second))
	}

	snap, err := eng.breaker.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("circuit: %s (failures=%d)\n", snap.State, snap.FailureCount)

	return nil
}

// runSweep enqueues saves for entity ids listed in a file, one
// "entity_id[,store_id]" per line. Eligibility filtering belongs to the
// application that hosts the payload builders, so every listed id is queued.
func runSweep(ctx context.Context, eng *engine, logger ragsync.Logger, args runArgs) error {
	if args.entityType == "" {
		return fmt.Errorf("sweep: -type is required")
	}

	in := os.Stdin
	if args.file != "-" {
		f, err := os.Open(args.file)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	refs, err := readRefs(in)
	if err != nil {
		return err
	}

	builders := ragsync.NewRegistry()
	builders.Register(ragsync.EntityType(args.entityType), ragsync.BuilderFunc(
		func(context.Context, string, int) (ragsync.Document, bool, error) {
			return nil, false, nil
		}))

	sweeper := ragsync.NewSweeper(eng.queue, builders, eng.provider, logger, 0)
	queued, err := sweeper.Sweep(ctx, ragsync.EntityType(args.entityType), pagedRefs(refs))
	if err != nil {
		return err
	}
	fmt.Printf("queued %d items\n", queued)

	return nil
}

func readRefs(in *os.File) ([]ragsync.EntityRef, error) {
	var refs []ragsync.EntityRef
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ref := ragsync.EntityRef{EntityID: line}
		if id, rest, found := strings.Cut(line, ","); found {
			storeID, err := strconv.Atoi(strings.TrimSpace(rest))
			if err != nil {
				return nil, fmt.Errorf("bad store id in line %q: %w", line, err)
			}
			ref = ragsync.EntityRef{EntityID: strings.TrimSpace(id), StoreID: storeID}
		}
		refs = append(refs, ref)
	}

	return refs, scanner.Err()
}

// pagedRefs serves an in-memory slice through the Source paging contract.
func pagedRefs(refs []ragsync.EntityRef) ragsync.SourceFunc {
	return func(_ context.Context, page, size int) ([]ragsync.EntityRef, error) {
		lo := (page - 1) * size
		if lo >= len(refs) {
			return nil, nil
		}
		hi := lo + size
		if hi > len(refs) {
			hi = len(refs)
		}

		return refs[lo:hi], nil
	}
}

func parseStatuses(raw string) ([]ragsync.Status, error) {
	var statuses []ragsync.Status
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		switch status := ragsync.Status(part); status {
		case ragsync.StatusPending, ragsync.StatusProcessing, ragsync.StatusSent,
			ragsync.StatusFailed, ragsync.StatusDead:
			statuses = append(statuses, status)
		default:
			return nil, fmt.Errorf("unknown status %q", part)
		}
	}
	if len(statuses) == 0 {
		return nil, fmt.Errorf("at least one status is required")
	}

	return statuses, nil
}
