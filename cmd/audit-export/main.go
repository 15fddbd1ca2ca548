package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spanbridge/spanbridge/internal/audit"
	"github.com/spanbridge/spanbridge/internal/auditstore"
	ledgerpg "github.com/spanbridge/spanbridge/internal/ledger/postgres"
)

func main() {
	var (
		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN of the bridge ledger (required)")

		auditDriver = flag.String("audit-driver", auditstore.DriverS3, "audit store driver (s3|memory)")
		s3Bucket    = flag.String("s3-bucket", "", "S3 bucket for retained snapshots (required with s3 driver)")
		s3Prefix    = flag.String("s3-prefix", "", "key prefix inside the audit store")

		pageSize = flag.Uint64("page-size", 256, "ledger digests fetched per page")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if strings.TrimSpace(*postgresDSN) == "" {
		fmt.Fprintln(os.Stderr, "error: --postgres-dsn is required")
		os.Exit(2)
	}
	if *pageSize == 0 {
		fmt.Fprintln(os.Stderr, "error: --page-size must be > 0")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, *postgresDSN)
	if err != nil {
		log.Error("init pgx pool", "err", err)
		os.Exit(2)
	}
	defer pool.Close()

	source, err := ledgerpg.New(pool)
	if err != nil {
		log.Error("init ledger store", "err", err)
		os.Exit(2)
	}
	if err := source.EnsureSchema(ctx); err != nil {
		log.Error("ensure ledger schema", "err", err)
		os.Exit(2)
	}

	storeCfg := auditstore.Config{
		Driver: *auditDriver,
		Prefix: *s3Prefix,
		Bucket: strings.TrimSpace(*s3Bucket),
	}
	if auditstoreNeedsS3(*auditDriver) {
		if storeCfg.Bucket == "" {
			fmt.Fprintln(os.Stderr, "error: --s3-bucket is required with the s3 driver")
			os.Exit(2)
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			log.Error("load aws config", "err", err)
			os.Exit(2)
		}
		storeCfg.S3Client = awss3.NewFromConfig(awsCfg)
	}

	store, err := auditstore.New(storeCfg)
	if err != nil {
		log.Error("init audit store", "err", err)
		os.Exit(2)
	}

	exporter, err := audit.NewExporter(source, store, *pageSize, log)
	if err != nil {
		log.Error("init exporter", "err", err)
		os.Exit(2)
	}

	stats, err := exporter.Run(ctx)
	if err != nil {
		log.Error("export failed", "err", err, "deposits", stats.Deposits, "withdrawals", stats.Withdrawals)
		os.Exit(1)
	}
	log.Info("export complete", "deposits", stats.Deposits, "withdrawals", stats.Withdrawals, "skipped", stats.Skipped)
}

func auditstoreNeedsS3(driver string) bool {
	driver = strings.TrimSpace(strings.ToLower(driver))
	return driver == "" || driver == auditstore.DriverS3
}
