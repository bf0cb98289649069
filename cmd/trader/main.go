package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/bomex/pkg/trader"
	"github.com/uhyunpark/bomex/pkg/util"
)

// Usage: trader <id> <host:port>
// Env: TRADER_COUNT=N runs N bots named <id>_1..<id>_N,
// TRADER_MODE=fast quotes every 50ms instead of every second.
func main() {
	_ = godotenv.Load()

	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: trader <id> <host:port>")
		os.Exit(1)
	}
	id, host := os.Args[1], os.Args[2]
	url := "ws://" + host + "/ws"

	logger, err := util.NewLoggerWithFile(os.Getenv("LOG_FILE"), os.Getenv("LOG_LEVEL"))
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	botCfg := trader.DefaultBotConfig()
	if os.Getenv("TRADER_MODE") == "fast" {
		botCfg = trader.FastBotConfig()
	}

	count := 1
	if v := os.Getenv("TRADER_COUNT"); v != "" {
		if count, err = strconv.Atoi(v); err != nil || count < 1 {
			sugar.Fatalw("trader_count_invalid", "value", v)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i <= count; i++ {
		name := id
		if count > 1 {
			name = fmt.Sprintf("%s_%d", id, i)
		}
		strategy := trader.NewRandomWalk(trader.DefaultRandomWalkConfig(), nil)
		client, err := trader.Dial(gctx, url, name, trader.NewBot(name, strategy, sugar), sugar)
		if err != nil {
			sugar.Fatalw("trader_dial_failed", "url", url, "err", err)
		}
		defer client.Close()

		g.Go(func() error { return client.Run(gctx) })
		g.Go(func() error { return trader.Feed(gctx, client, strategy, botCfg, sugar) })
	}

	sugar.Infow("traders_started", "url", url, "count", count, "interval", botCfg.Interval.String())
	if err := g.Wait(); err != nil {
		sugar.Errorw("trader_failed", "err", err)
		os.Exit(1)
	}
}
