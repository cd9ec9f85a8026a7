package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"go.uber.org/zap"

	"github.com/caesar-terminal/bridge/internal/adapter"
	"github.com/caesar-terminal/bridge/internal/adapter/okx"
	"github.com/caesar-terminal/bridge/internal/config"
	"github.com/caesar-terminal/bridge/internal/engine"
	"github.com/caesar-terminal/bridge/internal/gateway"
	"github.com/caesar-terminal/bridge/internal/kms"
	"github.com/caesar-terminal/bridge/internal/rest"
	"github.com/caesar-terminal/bridge/internal/vault"
)

// gateway serves signing, translation, and parsing over a Unix socket.
//
//	gateway              run the server
//	gateway seal VALUE   print VALUE encrypted for the credential file
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

	kmsClient, err := kms.New(ctx, cfg.Vault.AWSRegion, cfg.Vault.KMSKeyID, cfg.LocalStackEndpoint)
	if err != nil {
		logger.Fatal("kms client", zap.Error(err))
	}

	if len(os.Args) == 3 && os.Args[1] == "seal" {
		sealed, err := kmsClient.Seal(ctx, []byte(os.Args[2]))
		if err != nil {
			logger.Fatal("seal", zap.Error(err))
		}
		fmt.Println(sealed)
		return
	}

	if err := run(ctx, cfg, kmsClient, logger); err != nil {
		logger.Fatal("gateway stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, dec vault.Decrypter, logger *zap.Logger) error {
	logger.Info("gateway starting", zap.String("socket", cfg.Gateway.SocketPath))

	session := vault.NewSessionManager(cfg.Gateway.SessionTTL())
	defer session.Destroy()

	file, err := vault.LoadFile(ctx, cfg.Vault.CredentialsFile, dec)
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
	logger.Info("credential session active",
		zap.String("account", file.Account),
		zap.Duration("ttl", cfg.Gateway.SessionTTL()),
		zap.String("max_notional", limit.String()),
	)

	okxCfg := okx.DefaultConfig()
	okxCfg.InstrumentType = cfg.OKX.InstrumentType
	registry := adapter.NewRegistry(okx.New(okxCfg, nil, logger))

	transport := rest.New(cfg.OKX.RESTURL, rest.DefaultTimeout, logger)
	executor := engine.NewExecutor(registry, engine.NewValidator(nil, nil), session, transport, logger)

	srv, err := gateway.New(cfg.Gateway.SocketPath, gateway.NewHandler(registry, session, executor, logger), logger)
	if err != nil {
		return fmt.Errorf("create gateway server: %w", err)
	}

	// Run gRPC server in a goroutine so we can wait for shutdown signals.
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve()
	}()

	logger.Info("gateway ready, listening on UDS")

	select {
	case <-ctx.Done():
		logger.Info("gateway shutting down")
		stopped := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(10 * time.Second):
			logger.Warn("graceful stop timed out")
		}
		return nil
	case err := <-errCh:
		return err
	}
}
