package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/layer-3/walletgate/adapters/chain"
	"github.com/layer-3/walletgate/adapters/events"
	"github.com/layer-3/walletgate/adapters/extension"
	"github.com/layer-3/walletgate/adapters/prover"
	"github.com/layer-3/walletgate/adapters/store"
	"github.com/layer-3/walletgate/adapters/tokenizer"
	"github.com/layer-3/walletgate/core"
	"github.com/layer-3/walletgate/internal/config"
	"github.com/layer-3/walletgate/internal/metrics"
	"github.com/layer-3/walletgate/ports"
	"github.com/layer-3/walletgate/service"
	transport "github.com/layer-3/walletgate/transport/http"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			config.SetupLogging(cfg.Logging)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the YAML configuration file")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	metrics.Register()

	privateKey, err := signingKey(cfg.SigningKey)
	if err != nil {
		return err
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to parse redis url: %w", err)
	}
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	var eventPub ports.EventPublisher
	if cfg.Events {
		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{
				Client: redisClient,
			},
			watermill.NewStdLogger(false, false),
		)
		if err != nil {
			return fmt.Errorf("failed to create redis publisher: %w", err)
		}
		defer publisher.Close()
		eventPub = events.NewWatermillPublisher(publisher)
	}

	var epochs ports.EpochReader
	if cfg.ZkLogin.RPCURL != "" {
		reader, err := chain.DialEpochReader(ctx, cfg.ZkLogin.RPCURL)
		if err != nil {
			return err
		}
		defer reader.Close()
		epochs = reader
	}

	tk := tokenizer.NewJWTTokenizer(privateKey)
	backend := store.NewRedisStore(redisClient)
	authService := service.NewAuthService(tk, backend, cfg.Session.TTL)

	wallets := make([]core.ExtensionWalletDescriptor, 0, len(cfg.Extension.Wallets))
	for _, w := range cfg.Extension.Wallets {
		wallets = append(wallets, core.ExtensionWalletDescriptor{Name: w.Name, IconURL: w.IconURL, DownloadURL: w.DownloadURL})
	}
	bridges := extension.NewBridges(wallets, tk, authService)

	providers := make(map[string]service.OAuthProvider, len(cfg.ZkLogin.Providers))
	for _, p := range cfg.ZkLogin.Providers {
		providers[p.Name] = service.OAuthProvider{Name: p.Name, AuthURL: p.AuthURL, ClientID: p.ClientID}
	}

	manager := service.NewManager(service.ManagerConfig{
		ZkLogin: service.ZkLoginConfig{
			Providers:    providers,
			RedirectURL:  cfg.ZkLogin.RedirectURL,
			KeyClaimName: cfg.ZkLogin.KeyClaimName,
		},
		Keys:    service.NewEphemeralKeyManager(epochs, cfg.ZkLogin.EpochMargin),
		Decoder: tokenizer.NewIDTokenDecoder(),
		Prover:  prover.NewHTTPProver(cfg.ZkLogin.ProverURL, cfg.ZkLogin.ProverTimeout),
		Salts:   service.NewStoreSaltProvider(store.NewScoped(backend, store.DurablePrefix, 0)),
		Events:  eventPub,
		Unlock: service.UnlockConfig{
			SessionDuration: cfg.Unlock.Duration,
			WarningTime:     cfg.Unlock.WarningTime,
			TickInterval:    cfg.Unlock.TickInterval,
		},
		Observe: cfg.Extension.ObserveInterval,
		Sessions: func(id string) ports.KV {
			return store.NewScoped(backend, store.SessionPrefix(id), cfg.Session.TTL)
		},
		Devices: func(id string) ports.KV {
			return store.NewScoped(backend, store.DevicePrefix(id), 0)
		},
		Wallets:     bridges.Registry,
		IdleTimeout: cfg.Session.IdleTimeout,
		MaxSessions: cfg.Session.MaxLive,
		OnEvict:     bridges.Remove,
	})
	defer manager.Close()

	router := transport.SetupRouter(authService, manager, bridges, transport.RouterOptions{
		SecureCookie: cfg.Session.SecureCookie,
		RateLimit:    rate.Limit(cfg.RateLimit.RPS),
		Burst:        cfg.RateLimit.Burst,
	})

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", cfg.Listen).Int("providers", len(providers)).Msg("walletgate listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// signingKey decodes a hex SEC1 DER P-256 key, or generates an ephemeral one
func signingKey(encoded string) (*ecdsa.PrivateKey, error) {
	if encoded == "" {
		log.Warn().Msg("no signing key configured, sessions will not survive a restart")
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}

	der, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("signing key is not hex: %w", err)
	}
	key, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	if key.Curve != elliptic.P256() {
		return nil, errors.New("signing key must be a P-256 key")
	}
	return key, nil
}
