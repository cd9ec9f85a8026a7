package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"go.uber.org/zap"

	"github.com/caesar-terminal/bridge/internal/adapter"
	"github.com/caesar-terminal/bridge/internal/adapter/okx"
	"github.com/caesar-terminal/bridge/internal/config"
	"github.com/caesar-terminal/bridge/internal/engine"
	"github.com/caesar-terminal/bridge/internal/httpapi"
	"github.com/caesar-terminal/bridge/internal/kms"
	"github.com/caesar-terminal/bridge/internal/rest"
	"github.com/caesar-terminal/bridge/internal/vault"
)

func main() {
	defer memguard.Purge()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("bridge stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("bridge starting", zap.Strings("instruments", cfg.OKX.Instruments))

	okxCfg := okx.DefaultConfig()
	okxCfg.InstrumentType = cfg.OKX.InstrumentType
	okxAdapter := okx.New(okxCfg, nil, logger)
	registry := adapter.NewRegistry(okxAdapter)

	// Public market data.
	wsCfg := adapter.DefaultWSConfig(cfg.OKX.PublicWSURL)
	wsCfg.Logger = logger
	ws := adapter.NewWSClient(wsCfg)
	stream := adapter.NewStream(okxAdapter, ws, logger)
	stream.SetBookDepth(cfg.OKX.BookDepth)

	for _, inst := range cfg.OKX.Instruments {
		sub := adapter.Subscription{
			Exchange:      adapter.ExchangeOKX,
			InstrumentID:  inst,
			Field:         adapter.FieldMarketDepth,
			Options:       map[string]string{adapter.OptionMarketDepthMax: strconv.Itoa(cfg.OKX.BookDepth)},
			CorrelationID: "book-" + inst,
		}
		if _, err := stream.Subscribe(sub, inst); err != nil {
			return fmt.Errorf("subscribe %s: %w", inst, err)
		}
	}

	broadcaster := adapter.NewBroadcaster(logger)
	broadcaster.Register(stream)
	bookChannel := okx.DepthChannel(cfg.OKX.BookDepth)

	gateCfg := adapter.DefaultCircuitBreakerConfig()
	gateCfg.StaleThreshold = time.Duration(cfg.Gate.StaleThresholdMS) * time.Millisecond
	gateCfg.CoolOff = time.Duration(cfg.Gate.CoolOffMS) * time.Millisecond
	breaker := adapter.NewCircuitBreaker(gateCfg, broadcaster.SubscribeChannel(adapter.ExchangeOKX, bookChannel), logger)
	breaker.WatchConnection(adapter.ExchangeOKX, ws)

	quotes := engine.NewQuotes(broadcaster.SubscribeChannel(adapter.ExchangeOKX, bookChannel))

	// Redis is optional; without it the book is simply not persisted.
	var writer *adapter.RedisWriter
	rdb, err := adapter.NewGoRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("redis unavailable, book persistence disabled", zap.Error(err))
	} else {
		defer rdb.Close()
		writer = adapter.NewRedisWriter(rdb, broadcaster.SubscribeChannel(adapter.ExchangeOKX, bookChannel), logger)
	}

	if err := ws.Connect(ctx); err != nil {
		return fmt.Errorf("connect public stream: %w", err)
	}
	defer ws.Close()

	go stream.Run(ctx)
	go broadcaster.Run(ctx)
	go breaker.Run(ctx)
	go quotes.Run(ctx)
	if writer != nil {
		go writer.Run(ctx)
	}
	go logEvents(ctx, "public", stream.Events(), logger)

	// Private trading session.
	session := vault.NewSessionManager(cfg.Gateway.SessionTTL())
	defer session.Destroy()

	tunnels := adapter.NewTunnelManager()
	defer tunnels.CloseAll()

	if err := openSession(ctx, cfg, session, tunnels, okxAdapter, logger); err != nil {
		logger.Warn("no trading session, order routes disabled", zap.Error(err))
	}

	var executor httpapi.Executor
	var status httpapi.StatusSource
	if session.Status().Active {
		transport := rest.New(cfg.OKX.RESTURL, rest.DefaultTimeout, logger)
		executor = engine.NewExecutor(registry, engine.NewValidator(breaker, quotes), session, transport, logger)
		status = session
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Registry: registry,
		Executor: executor,
		Streams:  map[adapter.Exchange]httpapi.Subscriber{adapter.ExchangeOKX: stream},
		Session:  status,
		Logger:   logger,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Info("bridge ready", zap.String("http", cfg.HTTP.Addr))

	select {
	case <-ctx.Done():
		logger.Info("bridge shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	return srv.Shutdown(shutdownCtx)
}

// openSession activates the credential session and opens the private order
// stream for its account.
func openSession(ctx context.Context, cfg *config.Config, session *vault.SessionManager, tunnels *adapter.TunnelManager, pa *okx.Adapter, logger *zap.Logger) error {
	if cfg.Vault.CredentialsFile == "" {
		return errors.New("no credentials file configured")
	}
	kmsClient, err := kms.New(ctx, cfg.Vault.AWSRegion, cfg.Vault.KMSKeyID, cfg.LocalStackEndpoint)
	if err != nil {
		return err
	}
	file, err := vault.LoadFile(ctx, cfg.Vault.CredentialsFile, kmsClient)
	if err != nil {
		return err
	}
	limit, err := file.Limit()
	if err != nil {
		return err
	}
	if err := session.Activate(file.Account, file.CredentialSet(), limit); err != nil {
		return err
	}

	login := func(now time.Time) (string, error) {
		var frame string
		err := session.WithCredentials(func(creds adapter.CredentialSet) error {
			var err error
			frame, err = pa.Signer().LoginMessage(now, creds)
			return err
		})
		return frame, err
	}

	tunnel, err := tunnels.Open(ctx, adapter.TunnelConfig{
		Account:  file.Account,
		Exchange: adapter.ExchangeOKX,
		URL:      cfg.OKX.PrivateWSURL,
		Adapter:  pa,
		Login:    login,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	orders := adapter.Subscription{
		Exchange:      adapter.ExchangeOKX,
		Field:         adapter.FieldOrderUpdate,
		CorrelationID: "orders",
	}
	if _, err := tunnel.Subscribe(orders, ""); err != nil {
		return err
	}
	go logEvents(ctx, "private", tunnel.Events(), logger)

	logger.Info("trading session active", zap.String("account", file.Account))
	return nil
}

// logEvents drains a stream's events. Data events are only counted; status
// and error events are logged as they arrive.
func logEvents(ctx context.Context, name string, events <-chan adapter.Event, logger *zap.Logger) {
	log := logger.With(zap.String("stream", name))
	var data int
	tick := time.NewTicker(time.Minute)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if data > 0 {
				log.Debug("stream data", zap.Int("events", data))
				data = 0
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case adapter.EventSubscriptionData:
				data++
				for _, msg := range ev.Messages {
					if msg.Type == adapter.MsgOrderUpdate {
						log.Info("order update",
							zap.String("instrument", msg.InstrumentID),
							zap.Int("elements", len(msg.Elements)))
					}
				}
			case adapter.EventDiagnostic, adapter.EventUnclassified:
				for _, msg := range ev.Messages {
					log.Warn("stream diagnostic", zap.String("type", string(msg.Type)), zap.Error(msg.Err))
				}
			default:
				for _, msg := range ev.Messages {
					log.Info("stream status",
						zap.String("event", string(ev.Type)),
						zap.String("type", string(msg.Type)),
						zap.Strings("correlation_ids", msg.CorrelationIDs))
				}
			}
		}
	}
}
