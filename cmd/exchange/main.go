package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/bomex/params"
	"github.com/uhyunpark/bomex/pkg/api"
	"github.com/uhyunpark/bomex/pkg/app/exchange"
	"github.com/uhyunpark/bomex/pkg/oracle"
	"github.com/uhyunpark/bomex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Log.File, cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Log.File, "level", cfg.Log.Level)

	// ---- Settlement price source ----
	var src oracle.PriceSource
	if cfg.Oracle.StaticPrice != "" {
		price, err := decimal.NewFromString(cfg.Oracle.StaticPrice)
		if err != nil {
			sugar.Fatalw("oracle_static_price_invalid", "value", cfg.Oracle.StaticPrice, "err", err)
		}
		src = oracle.Static{Value: price}
		sugar.Infow("oracle_static", "price", price.String())
	} else {
		bom := oracle.NewBOMSource(cfg.Oracle.URL, &http.Client{Timeout: cfg.Oracle.Timeout})
		src = oracle.NewResilient(bom, oracle.Options{
			Timeout: cfg.Oracle.Timeout,
			Retries: cfg.Oracle.Retries,
		}, sugar)
		sugar.Infow("oracle_http", "url", cfg.Oracle.URL, "timeout", cfg.Oracle.Timeout.String(), "retries", cfg.Oracle.Retries)
	}

	// ---- Exchange ----
	hub := api.NewHub(sugar)
	app := exchange.New(exchange.Config{
		InstrumentTick: cfg.Exchange.InstrumentTick,
		TickSize:       cfg.Exchange.TickSize,
		MailboxSize:    cfg.Exchange.MailboxSize,
	}, src, hub, util.RealClock{}, sugar)

	sugar.Infow("exchange_starting",
		"instrument_tick", cfg.Exchange.InstrumentTick.String(),
		"tick_size", cfg.Exchange.TickSize.String(),
		"mailbox", cfg.Exchange.MailboxSize,
		"clear_on_disconnect", cfg.Exchange.ClearOnDisconnect)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	apiServer := api.NewServer(app, hub, cfg, sugar)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.Run(gctx) })
	g.Go(func() error { return apiServer.Run(gctx) })

	start := time.Now()
	if err := g.Wait(); err != nil {
		sugar.Errorw("exchange_failed", "err", err)
		os.Exit(1)
	}
	sugar.Infow("exchange_shutdown", "uptime", time.Since(start).Round(time.Second).String())
}
