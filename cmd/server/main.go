package main

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrymomot/fitcore/pkg/config"
	"github.com/dmitrymomot/fitcore/pkg/httpserver"
	"github.com/dmitrymomot/fitcore/pkg/logger"
	mongoconn "github.com/dmitrymomot/fitcore/pkg/mongo"
	redisconn "github.com/dmitrymomot/fitcore/pkg/redis"
	"github.com/dmitrymomot/fitcore/pkg/secrets"
	"github.com/dmitrymomot/fitcore/svc/auth"
	"github.com/dmitrymomot/fitcore/svc/billing/engine"
	"github.com/dmitrymomot/fitcore/svc/billing/gateway"
	"github.com/dmitrymomot/fitcore/svc/billing/httpapi"
	"github.com/dmitrymomot/fitcore/svc/billing/intake"
	"github.com/dmitrymomot/fitcore/svc/billing/plan"
	"github.com/dmitrymomot/fitcore/svc/billing/store"
	"github.com/dmitrymomot/fitcore/svc/billing/sweeper"
	"github.com/dmitrymomot/fitcore/svc/cart"
)

type secretsConfig struct {
	EncryptionKey string `env:"ENCRYPTION_KEY"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var logCfg logger.Config
	config.MustLoad(&logCfg)
	log := logger.NewFromConfig(logCfg)

	if err := run(ctx, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger) error {
	var (
		mongoCfg   mongoconn.Config
		redisCfg   redisconn.Config
		httpCfg    httpserver.Config
		gatewayCfg gateway.Config
		planCfg    plan.Config
		intakeCfg  intake.Config
		authCfg    auth.Config
		sweepCfg   sweeper.Config
		cartCfg    cart.Config
		secCfg     secretsConfig
	)
	for _, load := range []func() error{
		func() error { return config.Load(&mongoCfg) },
		func() error { return config.Load(&redisCfg) },
		func() error { return config.Load(&httpCfg) },
		func() error { return config.Load(&gatewayCfg) },
		func() error { return config.Load(&planCfg) },
		func() error { return config.Load(&intakeCfg) },
		func() error { return config.Load(&authCfg) },
		func() error { return config.Load(&sweepCfg) },
		func() error { return config.Load(&cartCfg) },
		func() error { return config.Load(&secCfg) },
	} {
		if err := load(); err != nil {
			return err
		}
	}

	db, err := mongoconn.NewWithDatabase(ctx, mongoCfg)
	if err != nil {
		return err
	}
	defer db.Client().Disconnect(context.Background())

	rdb, err := redisconn.Connect(ctx, redisCfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	st := store.NewMongoStore(db)
	if err := st.EnsureIndexes(ctx); err != nil {
		return err
	}

	gw := gateway.NewStripeGateway(gatewayCfg, log)
	catalog, err := plan.NewCatalog(planCfg, gw, log)
	if err != nil {
		return err
	}
	eng := engine.New(st, gw, catalog, log)
	webhooks := intake.New(gw, eng, rdb, log, intakeCfg)

	authSvc, err := auth.New(authCfg, accountSource{st})
	if err != nil {
		return err
	}

	api := httpapi.New(eng, catalog, authSvc, webhooks, log,
		mongoconn.Healthcheck(db.Client()),
		redisconn.Healthcheck(rdb),
	)

	if secCfg.EncryptionKey != "" {
		cipher, err := secrets.New(decodeKey(secCfg.EncryptionKey))
		if err != nil {
			return err
		}
		api = api.WithCart(cart.NewStore(rdb, cipher, cartCfg))
	}

	go func() {
		if err := sweeper.New(st, log, sweepCfg).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("sweeper stopped", logger.Error(err))
		}
	}()

	srv := httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(log))
	return srv.Run(ctx, api.Router())
}

// decodeKey accepts the encryption key either hex-encoded or as raw bytes.
func decodeKey(key string) []byte {
	if raw, err := hex.DecodeString(key); err == nil && len(raw) == 32 {
		return raw
	}
	return []byte(key)
}

// accountSource adapts the billing store to the auth account lookup.
type accountSource struct {
	store store.Store
}

func (a accountSource) AccountByID(ctx context.Context, id string) (auth.Account, error) {
	u, err := a.store.UserByID(ctx, id)
	if err != nil {
		return auth.Account{}, err
	}
	return auth.Account{
		ID:           u.ID,
		Email:        u.Email,
		Role:         u.Role,
		TokenVersion: u.TokenVersion,
	}, nil
}
