package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gustycube/baxter/internal/config"
	"github.com/gustycube/baxter/internal/engine"
	"github.com/gustycube/baxter/internal/enforce"
	"github.com/gustycube/baxter/internal/health"
	"github.com/gustycube/baxter/internal/httpclient"
	"github.com/gustycube/baxter/internal/logging"
	"github.com/gustycube/baxter/internal/logsource"
	"github.com/gustycube/baxter/internal/metrics"
	"github.com/gustycube/baxter/internal/queue"
	"github.com/gustycube/baxter/internal/report"
	"github.com/gustycube/baxter/internal/reputation"
	"github.com/gustycube/baxter/internal/service"
	"github.com/gustycube/baxter/internal/store"
	"github.com/gustycube/baxter/internal/telemetry"
	"github.com/gustycube/baxter/internal/types"
)

const version = "1.0.0"

func main() {
	var configFile string
	var dotenv string
	var env string
	var interval int
	var clusterMinimum int
	var watchlistBan int
	var maxClusters int
	var concurrency int
	var logFiles string
	var stateDir string
	var storeKind string
	var email string
	var metricsAddr string
	var otelEndpoint string
	var otelInsecure bool
	var otelService string
	var once bool
	var showVersion bool

	flag.StringVar(&configFile, "config", "", "path to config file (YAML or JSON)")
	flag.StringVar(&dotenv, "dotenv", ".env", "path to a .env file with secrets")
	flag.StringVar(&env, "env", "", "dev logs bans, prod applies them")
	flag.IntVar(&interval, "interval_sec", 0, "seconds between passes (minimum 180)")
	flag.IntVar(&clusterMinimum, "cluster_minimum", 0, "distinct addresses a /24 needs before it is analysed")
	flag.IntVar(&watchlistBan, "watchlist_ban", 0, "flags per week before a block is banned")
	flag.IntVar(&maxClusters, "max_clusters", 0, "analyse at most this many clusters per pass (0 = all)")
	flag.IntVar(&concurrency, "concurrency", 0, "clusters analysed in parallel")
	flag.StringVar(&logFiles, "log_files", "", "glob of access logs to read")
	flag.StringVar(&stateDir, "state_dir", "", "directory of the file store")
	flag.StringVar(&storeKind, "store", "", "classification store (memory, file, redis, sql)")
	flag.StringVar(&email, "email", "", "daily report recipients, comma separated")
	flag.StringVar(&metricsAddr, "metrics_addr", "", "metrics listen addr (empty to disable)")
	flag.StringVar(&otelEndpoint, "otel_endpoint", "", "OTLP HTTP endpoint (host:port)")
	flag.BoolVar(&otelInsecure, "otel_insecure", true, "OTLP insecure (no TLS)")
	flag.StringVar(&otelService, "otel_service", "", "OTEL service.name")
	flag.BoolVar(&once, "once", false, "run a single pass, enforce its bans and exit")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Baxter, reputation based bot management for web servers\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -config=baxter.yaml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config=baxter.yaml -once -cluster_minimum=20\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  ABUSEIPDB_API_KEY  AbuseIPDB API key\n")
		fmt.Fprintf(os.Stderr, "  BAXTER_ENV         dev or prod\n")
		fmt.Fprintf(os.Stderr, "  REDIS_ADDR         Redis server for the store or queue\n")
		fmt.Fprintf(os.Stderr, "  DATABASE_DSN       Postgres or SQLite DSN for the sql store\n")
		fmt.Fprintf(os.Stderr, "  LOG_LEVEL          Log level (debug, info, warn, error)\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Println("Baxter v" + version)
		fmt.Println("Built with Go", strings.TrimPrefix(runtime.Version(), "go"))
		os.Exit(0)
	}

	boot := logging.New()
	if err := config.LoadDotEnv(dotenv); err != nil {
		boot.Fatalw("failed to load dotenv file", "file", dotenv, "err", err)
	}

	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			boot.Fatalw("failed to load config file", "file", configFile, "err", err)
		}
	} else {
		cfg = &config.Config{}
	}
	cfg.LoadFromEnv()

	flags := make(map[string]interface{})
	flags["env"] = env
	flags["interval_sec"] = interval
	flags["cluster_minimum"] = clusterMinimum
	flags["watchlist_ban"] = watchlistBan
	flags["max_clusters"] = maxClusters
	flags["concurrency"] = concurrency
	flags["log_files"] = logFiles
	flags["state_dir"] = stateDir
	flags["store"] = storeKind
	flags["email"] = email
	flags["metrics_addr"] = metricsAddr
	flags["otel_endpoint"] = otelEndpoint
	flags["otel_service"] = otelService
	flags["otel_insecure"] = otelInsecure
	cfg.MergeWithFlags(flags)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		boot.Fatalw("invalid configuration", "err", err)
	}
	boot.Sync()

	log := logging.NewWithLevel(cfg.LogLevel)
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdown, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		ServiceName: cfg.OTELService,
		Version:     version,
		Environment: cfg.Env,
	})
	if err != nil {
		log.Warnw("otel init failed", "err", err)
	} else {
		defer shutdown(context.Background())
	}

	healthHandler := health.NewHandler(log, 3*cfg.Interval())
	healthHandler.SetInfo("env", cfg.Env)
	healthHandler.SetInfo("store", cfg.Store)
	healthHandler.SetInfo("version", version)

	st, err := store.Open(ctx, store.Options{
		Kind:        cfg.Store,
		Dir:         cfg.StateDir,
		RedisAddr:   cfg.RedisAddr,
		RedisPrefix: cfg.RedisPrefix,
		DSN:         cfg.DatabaseDSN,
	})
	if err != nil {
		log.Fatalw("store init", "kind", cfg.Store, "err", err)
	}
	defer st.Close()
	healthHandler.RegisterChecker("store", health.NewStoreChecker(cfg.Store, st))

	abuse := reputation.NewAbuseIPDB(reputation.Options{
		Endpoint:          cfg.ReputationURL,
		APIKey:            cfg.APIKey,
		MaxAgeDays:        cfg.MaxAgeDays,
		RequestsPerSecond: cfg.RequestsPerSecond,
		DailyQuota:        cfg.DailyQuota,
		Retries:           3,
	}, httpclient.Default())
	if err := reputation.Verify(ctx, abuse); err != nil {
		log.Fatalw("reputation provider check failed", "err", err)
	}
	healthHandler.RegisterChecker("reputation", health.NewBreakerChecker(abuse.BreakerState))
	rep := reputation.NewCached(abuse, 4096, time.Hour)

	var q queue.Queue
	switch cfg.Queue {
	case config.StoreRedis:
		rq, err := queue.NewRedis(ctx, cfg.RedisAddr, cfg.QueueKey)
		if err != nil {
			log.Fatalw("redis queue init", "err", err)
		}
		if n, err := rq.Recover(ctx); err != nil {
			log.Warnw("recover leased bans", "err", err)
		} else if n > 0 {
			log.Infow("recovered leased bans", "count", n)
		}
		healthHandler.RegisterChecker("queue", health.NewStoreChecker("redis-queue", rq))
		q = rq
		log.Infow("redis enforcement queue enabled", "addr", cfg.RedisAddr, "key", cfg.QueueKey)
	default:
		q = queue.NewMemory()
	}
	defer q.Close()

	var sink enforce.Sink
	if cfg.Production() {
		sink = enforce.NewIPTables(cfg.IPTablesPath)
	} else {
		sink = enforce.NewDryRun(log)
		log.Infow("development mode, bans are logged only")
	}
	enforcer := enforce.New(q, sink, cfg.EnforceRetries, log)

	parser := logsource.New(cfg.LogFiles, logsource.Filter{IgnoreIPs: cfg.IgnoreIPs, IgnoreBots: cfg.IgnoreBots}, log)

	eng := engine.New(engine.Options{
		Thresholds:     cfg.Thresholds,
		ClusterMinimum: cfg.ClusterMinimum,
		WatchlistBan:   cfg.WatchlistBan,
		MaxClusters:    cfg.MaxClusters,
		Concurrency:    cfg.Concurrency,
	}, st, rep, q, log)

	weekly, _ := cfg.WeeklyResetDay()
	var mailer service.Mailer
	var geo report.Geo
	if cfg.GeoIPDB != "" {
		g, err := report.OpenGeoIP(cfg.GeoIPDB)
		if err != nil {
			log.Warnw("geoip disabled", "db", cfg.GeoIPDB, "err", err)
		} else {
			defer g.Close()
			geo = g
		}
	}
	if cfg.Email != "" {
		format, _ := report.ParseFormat(cfg.ReportFormat)
		from := cfg.SMTPFrom
		if from == "" {
			host, _ := os.Hostname()
			from = "baxter@" + host
		}
		mailer = report.NewMailer(cfg.SMTPAddr, from, cfg.Email, nil, format)
	}
	rollover := service.NewRollover(st, cfg.Interval(), weekly, mailer, geo, log)

	pass := func(ctx context.Context, now time.Time) (err error) {
		decisions := 0
		defer func() {
			healthHandler.RecordPass(time.Now(), time.Since(now), decisions, err)
			healthHandler.SetInfo("quota_remaining", strconv.Itoa(abuse.Remaining()))
		}()
		if _, err := rollover.Check(ctx, now); err != nil {
			return err
		}
		obs, err := parser.Parse(ctx)
		if err != nil {
			return err
		}
		sum, err := eng.Run(ctx, obs)
		decisions = len(sum.Decisions)
		log.Infow("pass finished",
			"addresses", sum.Addresses,
			"clusters", sum.Clusters,
			"queries", sum.Queries,
			"api_calls", abuse.Calls(),
			"banned", sum.Count(types.ScopeAddress, types.ClassBanned)+sum.Count(types.ScopeBlock, types.ClassBanned),
			"flagged", sum.Count(types.ScopeAddress, types.ClassFlagged)+sum.Count(types.ScopeBlock, types.ClassFlagged),
			"quota_remaining", abuse.Remaining(),
			"elapsed", sum.Duration,
		)
		return err
	}

	if cfg.MetricsAddr != "" {
		go metrics.ServeWithHealth(cfg.MetricsAddr, healthHandler, log)
		log.Infow("metrics and health server started", "addr", cfg.MetricsAddr)
	}

	log.Infow("starting baxter",
		"env", cfg.Env,
		"interval", cfg.Interval(),
		"cluster_minimum", cfg.ClusterMinimum,
		"store", cfg.Store,
		"queue", cfg.Queue,
		"config_file", configFile,
	)

	if once {
		if err := pass(ctx, time.Now()); err != nil {
			log.Fatalw("pass failed", "err", err)
		}
		n, err := enforcer.Drain(ctx)
		if err != nil {
			log.Fatalw("enforcement failed", "err", err)
		}
		log.Infow("single pass complete", "enforced", n)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return enforcer.Run(gctx) })
	g.Go(func() error { return service.NewRunner(cfg.Interval(), pass, log).Run(gctx) })
	if err := g.Wait(); err != nil {
		log.Errorw("service stopped", "err", err)
	}
	log.Info("shutdown complete")
}
