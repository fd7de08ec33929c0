package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/doctor-appointment-booking/internal/config"
	"github.com/hackgods/doctor-appointment-booking/internal/db"
	"github.com/hackgods/doctor-appointment-booking/internal/logging"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: migrate [up|down|status|version]\n")
	}
	flag.Parse()

	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	if cfg.StoreDriver != config.StoreDriverPostgres {
		fmt.Fprintln(os.Stderr, "migrate only applies to STORE_DRIVER=postgres")
		os.Exit(1)
	}

	logger := logging.Must(cfg.Env, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2, MinConns: 1})
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pool.Close()

	migrator, err := db.NewMigrator(pool, logger)
	if err != nil {
		logger.Fatal("create migrator", zap.Error(err))
	}
	defer migrator.Close()

	switch command {
	case "up":
		err = migrator.Up(ctx)
	case "down":
		err = migrator.Down(ctx)
	case "status":
		err = migrator.Status(ctx)
	case "version":
		var v int64
		if v, err = migrator.Version(ctx); err == nil {
			fmt.Println(v)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal("migration failed", zap.String("command", command), zap.Error(err))
	}
}
