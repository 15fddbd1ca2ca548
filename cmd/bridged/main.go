package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spanbridge/spanbridge/internal/assetreg"
	assetregpg "github.com/spanbridge/spanbridge/internal/assetreg/postgres"
	"github.com/spanbridge/spanbridge/internal/authz"
	"github.com/spanbridge/spanbridge/internal/events"
	"github.com/spanbridge/spanbridge/internal/ledger"
	ledgerpg "github.com/spanbridge/spanbridge/internal/ledger/postgres"
	"github.com/spanbridge/spanbridge/internal/ledgerapi"
	"github.com/spanbridge/spanbridge/internal/native"
	"github.com/spanbridge/spanbridge/internal/queue"
	"github.com/spanbridge/spanbridge/internal/ratelimit"
	ratelimitpg "github.com/spanbridge/spanbridge/internal/ratelimit/postgres"
	"github.com/spanbridge/spanbridge/internal/router"
	"github.com/spanbridge/spanbridge/internal/settlement"
	"github.com/spanbridge/spanbridge/internal/token"
)

func main() {
	var (
		listenAddr = flag.String("listen", "127.0.0.1:8080", "HTTP listen address")

		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN; empty runs with in-memory stores")

		selfAddr     = flag.String("self-address", "", "bridge ledger account (required)")
		routerAddr   = flag.String("router-address", "", "router account (required)")
		wnativeAddr  = flag.String("wnative-address", "", "wrapped-native asset address (required)")
		custodyAddr  = flag.String("custody-address", "", "custody account for lock/release and wrapping (required)")
		operatorAddr = flag.String("operator-address", "", "account granted approval capabilities (required)")
		adminAddr    = flag.String("admin-address", "", "account granted the admin capability (required)")

		rateWindow = flag.Duration("rate-window", ratelimit.DefaultWindow, "rolling transfer-cap window")

		queueDriver  = flag.String("queue-driver", queue.DriverKafka, "event queue driver (kafka|stdio)")
		queueBrokers = flag.String("queue-brokers", "", "queue brokers (comma-separated); empty keeps events in memory")

		rateLimitPerSecond = flag.Float64("rate-limit-per-ip-per-second", 20, "per-IP refill rate for API rate limiting")
		rateLimitBurst     = flag.Int("rate-limit-burst", 40, "per-IP burst capacity for API rate limiting")
		rateLimitMaxIPs    = flag.Int("rate-limit-max-tracked-ips", 10000, "maximum tracked client IP entries in rate limiter")

		readHeaderTimeout = flag.Duration("read-header-timeout", 5*time.Second, "http.Server ReadHeaderTimeout")
		readTimeout       = flag.Duration("read-timeout", 10*time.Second, "http.Server ReadTimeout")
		writeTimeout      = flag.Duration("write-timeout", 10*time.Second, "http.Server WriteTimeout")
		idleTimeout       = flag.Duration("idle-timeout", 60*time.Second, "http.Server IdleTimeout")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	required := map[string]string{
		"--self-address":     *selfAddr,
		"--router-address":   *routerAddr,
		"--wnative-address":  *wnativeAddr,
		"--custody-address":  *custodyAddr,
		"--operator-address": *operatorAddr,
		"--admin-address":    *adminAddr,
	}
	for name, v := range required {
		if !common.IsHexAddress(strings.TrimSpace(v)) {
			fmt.Fprintf(os.Stderr, "error: %s must be a valid hex address\n", name)
			os.Exit(2)
		}
	}
	if *listenAddr == "" {
		fmt.Fprintln(os.Stderr, "error: --listen must be non-empty")
		os.Exit(2)
	}
	if *rateWindow <= 0 {
		fmt.Fprintln(os.Stderr, "error: --rate-window must be > 0")
		os.Exit(2)
	}
	if *readHeaderTimeout <= 0 || *readTimeout <= 0 || *writeTimeout <= 0 || *idleTimeout <= 0 {
		fmt.Fprintln(os.Stderr, "error: timeouts must be > 0")
		os.Exit(2)
	}
	if *rateLimitPerSecond <= 0 || *rateLimitBurst <= 0 || *rateLimitMaxIPs <= 0 {
		fmt.Fprintln(os.Stderr, "error: rate limit settings must be > 0")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	self := common.HexToAddress(strings.TrimSpace(*selfAddr))
	routerAccount := common.HexToAddress(strings.TrimSpace(*routerAddr))
	wnativeAsset := common.HexToAddress(strings.TrimSpace(*wnativeAddr))
	custody := common.HexToAddress(strings.TrimSpace(*custodyAddr))

	auth := authz.NewPolicy()
	auth.Grant(routerAccount, authz.CapDeposit)
	auth.Grant(common.HexToAddress(strings.TrimSpace(*operatorAddr)), authz.CapApprove, authz.CapCancel, authz.CapReenable)
	auth.Grant(common.HexToAddress(strings.TrimSpace(*adminAddr)), authz.CapAdmin)
	auth.Grant(self, authz.CapSettle)

	var (
		ledgerStore   ledger.Store
		registry      assetreg.Store
		rateStore     ratelimit.Store
		storageDriver = "memory"
	)
	if strings.TrimSpace(*postgresDSN) != "" {
		pool, err := pgxpool.New(ctx, *postgresDSN)
		if err != nil {
			log.Error("init pgx pool", "err", err)
			os.Exit(2)
		}
		defer pool.Close()

		ls, err := ledgerpg.New(pool)
		if err != nil {
			log.Error("init ledger store", "err", err)
			os.Exit(2)
		}
		if err := ls.EnsureSchema(ctx); err != nil {
			log.Error("ensure ledger schema", "err", err)
			os.Exit(2)
		}
		rs, err := assetregpg.New(pool)
		if err != nil {
			log.Error("init asset registry store", "err", err)
			os.Exit(2)
		}
		if err := rs.EnsureSchema(ctx); err != nil {
			log.Error("ensure asset registry schema", "err", err)
			os.Exit(2)
		}
		ws, err := ratelimitpg.New(pool)
		if err != nil {
			log.Error("init rate window store", "err", err)
			os.Exit(2)
		}
		if err := ws.EnsureSchema(ctx); err != nil {
			log.Error("ensure rate window schema", "err", err)
			os.Exit(2)
		}
		ledgerStore, registry, rateStore = ls, rs, ws
		storageDriver = "postgres"
	} else {
		ledgerStore = ledger.NewMemoryStore()
		registry = assetreg.NewMemoryStore()
		rateStore = ratelimit.NewMemoryStore()
	}

	limiter, err := ratelimit.New(rateStore, *rateWindow, nil)
	if err != nil {
		log.Error("init rate limiter", "err", err)
		os.Exit(2)
	}

	var emitter events.Emitter = events.NewMemoryEmitter()
	if strings.TrimSpace(*queueBrokers) != "" {
		producer, err := queue.NewProducer(queue.ProducerConfig{
			Driver:  *queueDriver,
			Brokers: queue.SplitCommaList(*queueBrokers),
		})
		if err != nil {
			log.Error("init queue producer", "err", err)
			os.Exit(2)
		}
		defer producer.Close()

		emitter, err = events.NewQueueEmitter(producer)
		if err != nil {
			log.Error("init queue emitter", "err", err)
			os.Exit(2)
		}
		log.Info("event queue enabled", "driver", *queueDriver)
	}

	bank := token.NewMemoryBank()
	nat := native.NewMemoryLedger()

	mintBurn, err := settlement.NewMintBurn(auth, bank)
	if err != nil {
		log.Error("init mint/burn vault", "err", err)
		os.Exit(2)
	}
	lockRelease, err := settlement.NewLockRelease(auth, bank, custody)
	if err != nil {
		log.Error("init lock/release vault", "err", err)
		os.Exit(2)
	}

	l, err := ledger.New(ledger.Config{Self: self, Router: routerAccount, WrappedNative: wnativeAsset},
		ledgerStore, registry, limiter,
		ledger.Vaults{MintBurn: mintBurn, LockRelease: lockRelease},
		nat, emitter, auth, log)
	if err != nil {
		log.Error("init ledger", "err", err)
		os.Exit(2)
	}

	wnative, err := token.NewWrappedNative(wnativeAsset, custody, bank, nat)
	if err != nil {
		log.Error("init wrapped native", "err", err)
		os.Exit(2)
	}
	rt, err := router.New(l, bank, nat, wnative, routerAccount, log)
	if err != nil {
		log.Error("init router", "err", err)
		os.Exit(2)
	}

	handler, err := ledgerapi.NewHandler(ledgerapi.Config{
		Ledger:                  l,
		Router:                  rt,
		RateLimitPerIPPerSecond: *rateLimitPerSecond,
		RateLimitBurst:          *rateLimitBurst,
		RateLimitMaxTrackedIPs:  *rateLimitMaxIPs,
		Now:                     time.Now,
	})
	if err != nil {
		log.Error("init api handler", "err", err)
		os.Exit(2)
	}

	srv := &http.Server{
		Addr:              *listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: *readHeaderTimeout,
		ReadTimeout:       *readTimeout,
		WriteTimeout:      *writeTimeout,
		IdleTimeout:       *idleTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("bridged listening", "addr", *listenAddr, "storage", storageDriver, "window", rateWindow.String())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown", "reason", ctx.Err())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error("server error", "err", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
