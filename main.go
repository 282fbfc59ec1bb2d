package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/twmb/franz-go/plugin/kprom"
	"go.uber.org/zap"

	"qrpay/config"
	"qrpay/handlers"
	"qrpay/kafka"
	"qrpay/repositories/mongodb"
	"qrpay/repositories/redis"
	"qrpay/sandbox"
	"qrpay/services"
	"qrpay/utils"
)

var (
	configPath     = kingpin.Flag("config", "Path to the application config file").Short('c').Default("config.yml").String()
	sandboxEnabled = kingpin.Flag("sandbox", "Run the gateway sandbox next to the shell and point the gateway at it").Bool()
)

func main() {
	// a missing .env is fine
	_ = godotenv.Load()
	kingpin.Parse()

	k, appConf, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	if *sandboxEnabled {
		appConf.Sandbox.Enabled = true
	}
	if err = appConf.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	config.Config = appConf

	if !appConf.IsProdMode {
		k.Print()
	}

	logger, err := utils.NewLogger(appConf.Logger.Level, appConf.Logger.Encoding, appConf.Application)
	if err != nil {
		log.Fatalf("Error building logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	utils.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var servers []*http.Server

	if appConf.Sandbox.Enabled {
		sandboxServer, sandboxURL, err := newSandboxServer(appConf.Sandbox, appConf.Gateway, logger)
		if err != nil {
			logger.Fatal("cannot create gateway sandbox", zap.Error(err))
		}
		appConf.Gateway.BaseURL = sandboxURL
		servers = append(servers, sandboxServer)
		go serve(sandboxServer, logger, false)
		logger.Info("gateway sandbox listening", zap.String("url", sandboxURL))
	}

	store, err := newReferenceStore(ctx, appConf, logger)
	if err != nil {
		logger.Fatal("cannot create reference store", zap.Error(err))
	}

	extra := make(map[string]http.Handler)
	recorders, closers, err := newOutcomeRecorders(ctx, appConf, logger, extra)
	if err != nil {
		logger.Fatal("cannot create outcome recorders", zap.Error(err))
	}
	defer func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}()

	factory := handlers.NewControllerFactory(
		services.ControllerConfig{
			CountdownSeconds: appConf.Payment.CountdownSeconds,
			TickInterval:     appConf.Payment.TickInterval,
		},
		services.NewGatewayClient(appConf.Gateway),
		services.NewSubscriber(appConf.Gateway, appConf.Payment.HeartbeatTimeout),
		store,
	)
	broadcaster := handlers.NewSSEBroadcaster(appConf.Server.WebsiteName)
	sessions := handlers.NewPaymentSessionManager(factory, store, broadcaster, handlers.NewPaymentEventLogger(recorders, 10*time.Second))
	go sessions.RunCleanup(ctx, time.Minute, 30*time.Minute)

	h := handlers.NewPaymentHandlers(sessions, broadcaster, handlers.HandlerOptions{
		WebsiteName: appConf.Server.WebsiteName,
		RequestWait: appConf.Gateway.RequestTimeout,
	})
	shell := &http.Server{
		Addr:              ":" + appConf.Server.Port,
		Handler:           handlers.NewRouter(h, extra),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if appConf.Server.TLS {
		cert, err := generateSelfSignedCert(appConf.Application)
		if err != nil {
			logger.Fatal("cannot generate self-signed certificate", zap.Error(err))
		}
		shell.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
		logger.Warn("serving HTTPS with a self-signed certificate, browsers will show a security warning")
	}
	servers = append(servers, shell)
	go serve(shell, logger, appConf.Server.TLS)
	logger.Info("payment shell listening", zap.String("addr", shell.Addr), zap.Bool("tls", appConf.Server.TLS))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down server", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
}

func serve(srv *http.Server, logger *zap.Logger, useTLS bool) {
	var err error
	if useTLS {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server stopped", zap.String("addr", srv.Addr), zap.Error(err))
	}
}

func newSandboxServer(conf config.Sandbox, gw config.Gateway, logger *zap.Logger) (*http.Server, string, error) {
	declineAbove := decimal.Zero
	if conf.DeclineAbove != "" {
		limit, err := decimal.NewFromString(conf.DeclineAbove)
		if err != nil {
			return nil, "", err
		}
		declineAbove = limit
	}

	gateway := sandbox.New(sandbox.Config{
		APIKey:            gw.APIKey,
		ProjectID:         gw.ProjectID,
		ChannelTimeout:    conf.ChannelTimeout,
		HeartbeatInterval: conf.HeartbeatInterval,
		DeclineAbove:      declineAbove,
	}, logger.Named("sandbox"))

	srv := &http.Server{
		Addr:              ":" + conf.Port,
		Handler:           gateway,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv, "http://localhost:" + conf.Port, nil
}

func newReferenceStore(ctx context.Context, appConf config.AppConfig, logger *zap.Logger) (services.ReferenceStore, error) {
	if appConf.Store.Driver == "redis" {
		client, err := redis.Connect(ctx, appConf.Redis.URI, appConf.Redis.Password)
		if err != nil {
			return nil, err
		}
		ttl := time.Duration(appConf.Payment.CountdownSeconds) * time.Second
		return redis.NewReferenceStore(client, logger.Named("redis"), ttl), nil
	}
	return services.NewFileReferenceStore(appConf.DataDir)
}

// newOutcomeRecorders builds the enabled recorders. The Kafka client metrics
// handler is added to extra.
func newOutcomeRecorders(ctx context.Context, appConf config.AppConfig, logger *zap.Logger, extra map[string]http.Handler) (services.OutcomeRecorders, []func(), error) {
	var recorders services.OutcomeRecorders
	var closers []func()

	if appConf.Recorders.CSV {
		ledger, err := services.NewCSVLedger(appConf.TransactionsDir)
		if err != nil {
			return nil, closers, err
		}
		recorders = append(recorders, ledger)
	}

	if conf := appConf.Recorders.Mongo; conf.Enabled {
		client, err := mongodb.Connect(ctx, conf.URI)
		if err != nil {
			return nil, closers, err
		}
		closers = append(closers, func() {
			_ = client.Disconnect(context.Background())
		})
		recorders = append(recorders, mongodb.NewOutcomeRepository(client, conf.Database, conf.Collection))
	}

	if conf := appConf.Recorders.Kafka; conf.Enabled {
		metrics := kprom.NewMetrics("qrpay")
		producer, err := kafka.NewOutcomeProducer(&kafka.ProducerConfig{
			Brokers: conf.Brokers,
			Topic:   conf.Topic,
		}, metrics, logger.Named("kafka"))
		if err != nil {
			return nil, closers, err
		}
		closers = append(closers, producer.Close)
		recorders = append(recorders, producer)
		extra["/metrics/kafka"] = metrics.Handler()
	}

	return recorders, closers, nil
}
