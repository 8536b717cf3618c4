package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gustycube/baxter/internal/config"
	"github.com/gustycube/baxter/internal/enforce"
	"github.com/gustycube/baxter/internal/logging"
	"github.com/gustycube/baxter/internal/queue"
	"github.com/gustycube/baxter/internal/report"
	"github.com/gustycube/baxter/internal/store"
	"github.com/gustycube/baxter/internal/types"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options] <command>\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  reset-daily                   clear the allowed, flagged and banned sets\n")
	fmt.Fprintf(os.Stderr, "  reset-weekly                  clear the watchlist\n")
	fmt.Fprintf(os.Stderr, "  list <class|watchlist>        print allowed, flagged, banned or watchlist\n")
	fmt.Fprintf(os.Stderr, "  report [YYYY-MM-DD]           print the daily report\n")
	fmt.Fprintf(os.Stderr, "  reapply                       enforce every banned target again\n\n")
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	var configFile string
	var dotenv string
	var format string
	var send bool
	flag.StringVar(&configFile, "config", "", "path to config file (YAML or JSON)")
	flag.StringVar(&dotenv, "dotenv", ".env", "path to a .env file")
	flag.StringVar(&format, "format", "", "report format (text, json, csv)")
	flag.BoolVar(&send, "send", false, "mail the report instead of printing it")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(1)
	}

	if err := config.LoadDotEnv(dotenv); err != nil {
		fail("dotenv: %v", err)
	}
	cfg := &config.Config{}
	if configFile != "" {
		c, err := config.LoadFromFile(configFile)
		if err != nil {
			fail("config: %v", err)
		}
		cfg = c
	}
	cfg.LoadFromEnv()
	cfg.SetDefaults()

	ctx := context.Background()
	st, err := store.Open(ctx, store.Options{
		Kind:        cfg.Store,
		Dir:         cfg.StateDir,
		RedisAddr:   cfg.RedisAddr,
		RedisPrefix: cfg.RedisPrefix,
		DSN:         cfg.DatabaseDSN,
	})
	if err != nil {
		fail("store: %v", err)
	}
	defer st.Close()

	args := flag.Args()
	switch args[0] {
	case "reset-daily":
		if err := st.ResetDaily(ctx); err != nil {
			fail("reset-daily: %v", err)
		}
		fmt.Println("daily sets cleared")

	case "reset-weekly":
		if err := st.ResetWeekly(ctx); err != nil {
			fail("reset-weekly: %v", err)
		}
		fmt.Println("watchlist cleared")

	case "list":
		if len(args) < 2 {
			fail("list needs a class or watchlist")
		}
		var lines []string
		if args[1] == "watchlist" {
			lines, err = st.Watchlist(ctx)
		} else {
			class, perr := types.ParseClass(args[1])
			if perr != nil {
				fail("%v", perr)
			}
			lines, err = st.List(ctx, class)
		}
		if err != nil {
			fail("list: %v", err)
		}
		for _, l := range lines {
			fmt.Println(l)
		}

	case "report":
		day := time.Now()
		if len(args) > 1 {
			day, err = time.Parse("2006-01-02", args[1])
			if err != nil {
				fail("bad date %q: %v", args[1], err)
			}
		}
		if format == "" {
			format = cfg.ReportFormat
		}
		f, err := report.ParseFormat(format)
		if err != nil {
			fail("%v", err)
		}
		var geo report.Geo
		if cfg.GeoIPDB != "" {
			if g, err := report.OpenGeoIP(cfg.GeoIPDB); err == nil {
				defer g.Close()
				geo = g
			}
		}
		r, err := report.Build(ctx, st, day, geo)
		if err != nil {
			fail("report: %v", err)
		}
		if !send {
			if err := report.Render(os.Stdout, f, r); err != nil {
				fail("render: %v", err)
			}
			return
		}
		if cfg.Email == "" || cfg.SMTPAddr == "" {
			fail("email and smtp_addr must be configured to send")
		}
		sent, err := report.NewMailer(cfg.SMTPAddr, cfg.SMTPFrom, cfg.Email, nil, f).Send(r)
		if err != nil {
			fail("%v", err)
		}
		if !sent {
			fmt.Println("nothing flagged or banned, report not sent")
			return
		}
		fmt.Println("report sent to", cfg.Email)

	case "reapply":
		log := logging.NewWithLevel(cfg.LogLevel)
		defer log.Sync()
		if cfg.Queue == config.StoreRedis {
			q, err := queue.NewRedis(ctx, cfg.RedisAddr, cfg.QueueKey)
			if err != nil {
				fail("queue: %v", err)
			}
			defer q.Close()
			n, err := enforce.Reapply(ctx, st, q, time.Now())
			if err != nil {
				fail("reapply: %v", err)
			}
			fmt.Println("queued", n, "bans on", cfg.QueueKey)
			return
		}
		q := queue.NewMemory()
		if _, err := enforce.Reapply(ctx, st, q, time.Now()); err != nil {
			fail("reapply: %v", err)
		}
		var sink enforce.Sink = enforce.NewDryRun(log)
		if cfg.Production() {
			sink = enforce.NewIPTables(cfg.IPTablesPath)
		}
		n, err := enforce.New(q, sink, cfg.EnforceRetries, log).Drain(ctx)
		if err != nil {
			fail("enforce: %v", err)
		}
		fmt.Println("reapplied", n, "bans")

	default:
		usage()
		os.Exit(1)
	}
}
