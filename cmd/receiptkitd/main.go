// Command receiptkitd serves the receipt access-control API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	receiptgin "github.com/PaulFidika/receiptkit/adapters/gin"
	"github.com/PaulFidika/receiptkit/adapters/ginutil"
	receipthttp "github.com/PaulFidika/receiptkit/adapters/http"
	"github.com/PaulFidika/receiptkit/audit"
	"github.com/PaulFidika/receiptkit/config"
	"github.com/PaulFidika/receiptkit/core"
	"github.com/PaulFidika/receiptkit/credential"
	"github.com/PaulFidika/receiptkit/jobs"
	jwtkit "github.com/PaulFidika/receiptkit/jwt"
	migrations "github.com/PaulFidika/receiptkit/migrations/postgres"
	prelocal "github.com/PaulFidika/receiptkit/pre/local"
	preremote "github.com/PaulFidika/receiptkit/pre/remote"
	memorylimiter "github.com/PaulFidika/receiptkit/ratelimit/memory"
	redislimiter "github.com/PaulFidika/receiptkit/ratelimit/redis"
	badgerstore "github.com/PaulFidika/receiptkit/storage/badger"
	memorystore "github.com/PaulFidika/receiptkit/storage/memory"
	pgstore "github.com/PaulFidika/receiptkit/storage/postgres"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (default $"+config.EnvConfigPath+")")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("receiptkitd exited")
	}
}

func newLogger(c config.Log) *logrus.Logger {
	log := logrus.New()
	if c.Format == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	lvl, err := logrus.ParseLevel(c.Level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

// closers run in reverse order on shutdown.
type closers []func()

func (c *closers) add(f func()) { *c = append(*c, f) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	var cleanup closers
	defer cleanup.run()

	pre, sealer, err := newReEncrypter(ctx, cfg)
	if err != nil {
		return err
	}

	sched := jobs.NewScheduler(log)

	// Storage.
	var (
		policies core.PolicyStore
		receipts core.ReceiptStore
		pool     *pgxpool.Pool
	)
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err = pgxpool.New(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		cleanup.add(pool.Close)
		if cfg.Storage.Migrate {
			db := audit.OpenBunDB(pool)
			if err := migrations.Migrate(ctx, db, log); err != nil {
				return err
			}
			if err := jobs.MigrateRiver(ctx, pool, log); err != nil {
				return err
			}
		}
		policies = pgstore.NewPolicyStore(pool, cfg.Storage.Schema)
		rs := pgstore.NewReceiptStore(pool, cfg.Storage.Schema)
		for _, s := range cfg.Seed {
			ct, err := sealSeed(sealer, s)
			if err != nil {
				return err
			}
			if err := rs.Put(ctx, s.ID, s.Owner, seedKeyRef(s), ct); err != nil {
				return fmt.Errorf("seed %s: %w", s.ID, err)
			}
		}
		receipts = rs
	case config.DriverBadger:
		bs, err := badgerstore.Open(cfg.Storage.BadgerPath, log)
		if err != nil {
			return err
		}
		cleanup.add(func() { _ = bs.Close() })
		if _, err := sched.AddFunc("@every 10m", func() { bs.RunGC(0.5) }); err != nil {
			return err
		}
		policies = bs
		if receipts, err = memoryReceipts(ctx, sealer, cfg.Seed); err != nil {
			return err
		}
	default:
		policies = memorystore.NewPolicyStore()
		if receipts, err = memoryReceipts(ctx, sealer, cfg.Seed); err != nil {
			return err
		}
	}

	// Audit trail: always logged, persisted when postgres is available.
	events := audit.Tee{audit.NewLogrusLogger(log)}
	if pool != nil {
		sink := audit.NewBunSink(audit.OpenBunDB(pool))
		if cfg.Jobs.AsyncAudit {
			rc, err := jobs.NewRiverClient(pool, sink, cfg.Jobs.AuditWorkers)
			if err != nil {
				return fmt.Errorf("river: %w", err)
			}
			if err := rc.Start(ctx); err != nil {
				return fmt.Errorf("river start: %w", err)
			}
			cleanup.add(func() {
				sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
				defer cancel()
				_ = rc.Stop(sctx)
			})
			events = append(events, jobs.NewRiverLogger(rc))
		} else {
			events = append(events, sink)
		}
	}

	// Redis is shared by the nonce cache and the limiter.
	var rdb redis.UniversalClient
	if cfg.Redis.Addr != "" {
		c := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := c.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		cleanup.add(func() { _ = c.Close() })
		rdb = c
	}
	var limiter ginutil.RateLimiter
	if rdb != nil {
		limiter = redislimiter.New(rdb, cfg.RateLimits)
	} else {
		ml := memorylimiter.New(cfg.RateLimits)
		if _, err := sched.AddFunc("@every 5m", ml.Sweep); err != nil {
			return err
		}
		limiter = ml
	}

	// Credentials.
	keys, err := jwtkit.NewAutoKeySource(cfg.Auth.KeysPath, log)
	if err != nil {
		return fmt.Errorf("signing keys: %w", err)
	}
	verifier, err := jwtkit.NewVerifier(keys, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.ClockSkew)
	if err != nil {
		return fmt.Errorf("token verifier: %w", err)
	}
	var cacheClient redis.Cmdable
	if rdb != nil {
		cacheClient = rdb
	}
	siwsSvc, err := credential.NewSIWSService(credential.SIWSConfig{
		Domain:       cfg.SIWS.Domain,
		Statement:    cfg.SIWS.Statement,
		ChallengeTTL: cfg.SIWS.ChallengeTTL,
	}, receipthttp.NewChallengeCache(cacheClient, cfg.SIWS.ChallengeTTL), jwtkit.AccessTokenIssuer{
		Keys:     keys,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		TTL:      cfg.Auth.AccessTokenTTL,
	}, log)
	if err != nil {
		return err
	}

	svc, err := core.NewService(core.Config{
		Policies: policies,
		Receipts: receipts,
		PRE:      pre,
		Auth:     credential.NewAuthenticator(verifier, siwsSvc),
		Events:   events,
		Logger:   log,
	})
	if err != nil {
		return err
	}

	if cfg.Jobs.ExpirySchedule != "" {
		if _, err := jobs.NewExpiryReporter(policies, events, log).Schedule(sched, cfg.Jobs.ExpirySchedule); err != nil {
			return fmt.Errorf("expiry schedule %q: %w", cfg.Jobs.ExpirySchedule, err)
		}
	}
	sched.Start()
	cleanup.add(func() { <-sched.Stop().Done() })

	if jwtkit.IsProdEnv() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine, err := receiptgin.NewEngine(receiptgin.Options{
		Service:     svc,
		SIWS:        siwsSvc,
		Keys:        keys,
		RateLimiter: limiter,
		Logger:      log,
	})
	if err != nil {
		return err
	}
	return serve(ctx, cfg.HTTP, engine, log)
}

func newReEncrypter(ctx context.Context, cfg config.Config) (core.ReEncrypter, *prelocal.Network, error) {
	if cfg.PRE.Mode == config.PREModeRemote {
		c, err := preremote.New(ctx, preremote.Config{
			BaseURL:      cfg.PRE.BaseURL,
			Timeout:      cfg.PRE.Timeout,
			TokenURL:     cfg.PRE.TokenURL,
			ClientID:     cfg.PRE.ClientID,
			ClientSecret: cfg.PRE.ClientSecret,
			Scopes:       cfg.PRE.Scopes,
		})
		return c, nil, err
	}
	master, err := cfg.MasterKey()
	if err != nil {
		return nil, nil, err
	}
	var n *prelocal.Network
	if master == nil {
		n, err = prelocal.NewRandom()
	} else {
		n, err = prelocal.New(master)
	}
	return n, n, err
}

func sealSeed(sealer *prelocal.Network, s config.SeedReceipt) (core.CiphertextRef, error) {
	if s.Plaintext == "" {
		return "", nil
	}
	if sealer == nil {
		return "", fmt.Errorf("seed %s: plaintext seeding needs pre.mode %q", s.ID, config.PREModeLocal)
	}
	return sealer.Seal(seedKeyRef(s), []byte(s.Plaintext))
}

// seedKeyRef defaults to a key reference unique to the receipt.
func seedKeyRef(s config.SeedReceipt) string {
	if s.OwnerKeyRef != "" {
		return s.OwnerKeyRef
	}
	return prelocal.ReceiptKeyRef(s.Owner, s.ID)
}

func memoryReceipts(ctx context.Context, sealer *prelocal.Network, seed []config.SeedReceipt) (*memorystore.ReceiptStore, error) {
	rs := memorystore.NewReceiptStore()
	for _, s := range seed {
		ct, err := sealSeed(sealer, s)
		if err != nil {
			return nil, err
		}
		if err := rs.Put(ctx, memorystore.Receipt{ID: s.ID, OwnerID: s.Owner, OwnerKeyRef: seedKeyRef(s), Ciphertext: ct}); err != nil {
			return nil, err
		}
	}
	return rs, nil
}

func serve(ctx context.Context, c config.HTTP, h http.Handler, log logrus.FieldLogger) error {
	srv := &http.Server{
		Addr:         c.Addr,
		Handler:      h,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		IdleTimeout:  c.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", c.Addr).Info("receiptkitd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	timeout := c.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
