package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"predictpool/internal/chain"
	"predictpool/internal/config"
	cronrunner "predictpool/internal/cron"
	"predictpool/internal/db"
	"predictpool/internal/handler"
	"predictpool/internal/logger"
	"predictpool/internal/notify"
	gormrepository "predictpool/internal/repository/gorm"
	"predictpool/internal/service"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envOnly := flag.Bool("env-only", false, "skip the config file, env vars only")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envOnly)
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	database, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatal("db open failed", zap.Error(err))
	}
	defer func() { _ = db.Close(database) }()
	if err := db.SetTimezone(database, cfg.DB.Timezone); err != nil {
		log.Warn("db timezone set failed", zap.Error(err))
	}
	if err := db.AutoMigrate(database); err != nil {
		log.Fatal("db migrate failed", zap.Error(err))
	}

	chainClient, err := chain.Dial(cfg.Chain)
	if err != nil {
		log.Fatal("chain dial failed", zap.Error(err))
	}
	relayer, err := chain.NewRelayer(cfg.Chain)
	if err != nil {
		log.Fatal("relayer init failed", zap.Error(err))
	}

	store := gormrepository.New(database.Gorm)

	var notifier *notify.Client
	if cfg.Notify.BaseURL != "" {
		notifier = &notify.Client{
			BaseURL: cfg.Notify.BaseURL,
			APIKey:  cfg.Notify.APIKey,
			HTTP:    &http.Client{Timeout: cfg.Notify.Timeout},
		}
	}

	flags := &service.SystemSettingsService{Repo: store}
	markets := service.NewMarketMutex()
	state := &service.PredictionStateService{Repo: store, Logger: log}
	reconciler := &service.WalletReconciler{Repo: store, Chain: chainClient, Logger: log}
	pipeline := &service.StakePipeline{
		Repo:       store,
		Reconciler: reconciler,
		State:      state,
		Markets:    markets,
		Flags:      flags,
		Config:     cfg.Betting,
		Logger:     log,
	}
	engine := &service.SettlementEngine{
		Repo:            store,
		State:           state,
		Markets:         markets,
		Logger:          log,
		PlatformAddress: relayer.Address(),
		TokenDecimals:   cfg.Chain.TokenDecimals,
	}
	relay := &service.SettlementRelayService{
		Repo:            store,
		Poster:          relayer,
		Flags:           flags,
		Config:          cfg.Settlement,
		Logger:          log,
		PlatformAddress: relayer.Address(),
		TokenDecimals:   cfg.Chain.TokenDecimals,
	}
	watcher := &service.DepositWatcher{
		Repo:   store,
		Chain:  chainClient,
		Flags:  flags,
		Config: cfg.DepositWatcher,
		Logger: log,
	}
	reaper := &service.LockReaper{Repo: store, Config: cfg.Reaper, Logger: log}
	auditor := &service.ReconciliationAuditor{Repo: store, Flags: flags, Config: cfg.Auditor, Logger: log}

	baseCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := flags.EnsureDefaultSwitches(baseCtx); err != nil {
		log.Warn("feature switch seeding failed", zap.Error(err))
	}

	if cfg.App.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(notify.RequireBearerMiddleware())
	r.Use(notify.InjectClientMiddleware(notifier))
	r.Use(notify.WriteAuditMiddleware(notifier, log))

	(&handler.HealthHandler{DB: database.Gorm}).Register(r)
	(&handler.StakeHandler{Pipeline: pipeline}).Register(r)
	(&handler.WalletHandler{Repo: store, Reconciler: reconciler}).Register(r)
	(&handler.SettlementHandler{Repo: store, Engine: engine, Relay: relay}).Register(r)
	(&handler.AdminHandler{Repo: store, Relay: relay, Watcher: watcher, Reaper: reaper, Auditor: auditor}).Register(r)
	(&handler.SettingsHandler{Repo: store, Flags: flags}).Register(r)
	handler.RegisterDocs(r)

	svcCtx := notify.WithClient(baseCtx, notifier)
	go relay.Run(svcCtx)
	go watcher.Run(svcCtx)
	go reaper.Run(svcCtx)
	go auditor.Run(svcCtx)

	// Nightly full audit on top of the interval sweeps.
	runner := cronrunner.New(log, svcCtx)
	if _, err := runner.Add("0 0 3 * * *", func(ctx context.Context) {
		if _, err := auditor.RunOnce(ctx); err != nil {
			log.Warn("nightly audit failed", zap.Error(err))
		}
	}); err != nil {
		log.Warn("cron registration failed", zap.Error(err))
	}
	runner.Start()
	defer runner.Stop()

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: r,
	}
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server exited", zap.Error(err))
			stop()
		}
	}()

	<-baseCtx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown failed", zap.Error(err))
	}
	_ = os.Stdout.Sync()
}
