package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"dexflow/config"
	"dexflow/internal/chain"
	"dexflow/internal/dashboard"
	"dexflow/internal/metrics"
	"dexflow/internal/model"
	"dexflow/internal/network"
	"dexflow/internal/oracle"
	"dexflow/internal/pricecache"
	"dexflow/internal/registry"
	"dexflow/internal/steps"
	"dexflow/internal/tradefeed"
	"dexflow/logger"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	relaysPath := flag.String("relays", config.DefaultRelaysPath, "Path to static relay file")
	initialChain := flag.String("chain", "", "Network to load first; the others are left idle")
	poolQuery := flag.String("pool", "", "Smart token of the pool to preselect on -chain")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}
	if len(cfg.Logging.Fields) > 0 {
		log.AddHook(staticFields(cfg.Logging.Fields))
	}

	relays, err := config.LoadRelays(*relaysPath)
	if err != nil {
		log.WithError(err).Error("Failed to load static relays")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Dexflow.Name,
		"version": cfg.Dexflow.Version,
		"env":     config.AppEnvironment(),
	}).Info("starting dexflow")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	if cfg.Metrics.Prometheus.Enabled {
		metrics.Serve(cfg.Metrics.Prometheus.Address)
	}
	metrics.InitCloudWatch(ctx, cfg.Metrics.CloudWatch)

	wallet := network.StaticWallet(strings.TrimSpace(os.Getenv("DEXFLOW_ACCOUNT")))
	prices := pricecache.NewPrices(cfg.Prices.TTL, oracle.FromConfig(cfg.Prices))

	entries := make([]registry.Entry, 0, len(cfg.Networks))
	feeds := make(map[string]dashboard.Feed)
	for _, n := range cfg.Networks {
		client := chain.NewClient(n.RPCURL, n.Timeout, n.RequestsPerS, chain.WithTables(n.StatTable, n.AccountsTable))
		module := network.New(n, client, relays.For(n.ID), network.WithWallet(wallet), network.WithLogger(log))
		entries = append(entries, registry.Entry{ID: n.ID, Label: n.Label, Module: module})
		if n.TradeFeed.Code != "" {
			feeds[n.ID] = tradefeed.NewFeed(client, prices, n.TradeFeed, cfg.Dexflow.HomeCurrency)
		}
	}

	selector := registry.NewSelector(cfg.Dexflow.DefaultNetwork)
	reg := registry.New(log, selector, wallet, entries...)

	logger.RegisterReportSource("registry", func() logger.Fields {
		out := logger.Fields{"current": reg.CurrentID()}
		for _, d := range reg.Modules() {
			out[d.ID] = d.State()
		}
		return out
	})
	logger.RegisterReportSource("prices", func() logger.Fields {
		out := logger.Fields{}
		for key, snap := range prices.Snapshots() {
			out[key] = snap.Value
			out[key+"_age"] = time.Since(snap.LastChecked).Round(time.Second).String()
		}
		return out
	})
	if cfg.Logging.ReportInterval > 0 {
		logger.StartReport(ctx, log, cfg.Logging.ReportInterval)
	}

	var initParam *registry.InitParam
	if *initialChain != "" {
		initParam = &registry.InitParam{
			InitialChain:       *initialChain,
			InitialModuleParam: &model.ModuleParam{PoolQuery: *poolQuery},
		}
	}

	startup := []steps.Item{
		{Description: "Loading networks", Task: func(ctx context.Context, s steps.State) (steps.State, error) {
			return nil, reg.Init(ctx, initParam)
		}},
		{Description: "Fetching home currency price", Task: func(ctx context.Context, s steps.State) (steps.State, error) {
			price, err := prices.USDPrice(ctx)
			if err != nil {
				log.WithComponent("main").WithError(err).Warn("price warmup failed")
				return nil, nil
			}
			return steps.State{"usd_price": price}, nil
		}},
	}
	state, err := steps.Run(ctx, startup, func(i int, plan []steps.Step) {
		log.WithComponent("main").WithFields(logger.Fields{
			"step":  plan[i].Name,
			"total": len(plan),
		}).Info(plan[i].Description)
	})
	if err != nil {
		log.WithError(err).Error("startup failed")
		os.Exit(1)
	}
	log.WithComponent("main").WithFields(logger.Fields(state)).Info("startup complete")

	srv, err := dashboard.NewServer(cfg.Dashboard, log, dashboard.Deps{
		Modules:  reg,
		Prices:   prices,
		Feeds:    feeds,
		Selector: selector,
	})
	if err != nil {
		log.WithError(err).Error("failed to create status api")
		os.Exit(1)
	}
	if srv != nil {
		if err := srv.Run(ctx, cfg.Dexflow.Name); err != nil {
			log.WithError(err).Error("status api stopped")
			os.Exit(1)
		}
	} else {
		<-ctx.Done()
	}

	log.WithComponent("main").Info("shutdown complete")
}
