package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"derivtrader/config"
	"derivtrader/internal/api"
	"derivtrader/internal/candlestore"
	"derivtrader/internal/execution"
	"derivtrader/internal/logger"
	"derivtrader/internal/metrics"
	"derivtrader/internal/model"
	"derivtrader/internal/notification"
	"derivtrader/internal/pipeline"
	"derivtrader/internal/risk"
	redisstore "derivtrader/internal/store/redis"
	"derivtrader/internal/strategy"
	"derivtrader/pkg/deriv"
)

const maxCandlesPerSeries = 500

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	settings, err := config.Load()
	if err != nil {
		log.Fatalf("[trader] config: %v", err)
	}
	cfg := config.NewCell(settings)

	logger.Init("trader", slog.LevelInfo, logger.FileConfig{
		Path: settings.LogFilePath, MaxSizeMB: 50, MaxBackups: 5, MaxAgeDays: 14,
	})
	slog.Info("starting", "symbols", settings.Symbols, "tfs", settings.Timeframes,
		"paper", settings.PaperMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics & health ----
	prom := metrics.New()
	health := metrics.NewHealthStatus()
	health.SetPaperMode(settings.PaperMode)
	health.SetSymbols(settings.Symbols)
	metricsSrv := metrics.NewServer(settings.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Order journal ----
	os.MkdirAll("data", 0o755)
	journal, err := execution.NewJournal(settings.JournalPath)
	if err != nil {
		log.Fatalf("[trader] journal init failed: %v", err)
	}
	defer journal.Close()

	// ---- Redis publisher (optional) ----
	var publisher *redisstore.Publisher
	if settings.RedisAddr != "" {
		publisher, err = redisstore.New(ctx, redisstore.Config{
			Addr:     settings.RedisAddr,
			Password: settings.RedisPassword,
		})
		if err != nil {
			log.Printf("[trader] WARNING: redis init failed: %v (continuing without redis)", err)
		} else {
			publisher.OnBuffer = func() { prom.RedisBufferedWrites.Inc() }
			defer publisher.Close()
		}
	}
	if publisher != nil {
		health.StartLivenessChecker(ctx, publisher.Client(), journal.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, journal.DB(), 10*time.Second)
	}

	// ---- Notifications ----
	var backends []notification.Notifier
	if settings.TelegramBotToken != "" && settings.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(
			settings.TelegramBotToken, settings.TelegramChatID))
	}
	if settings.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(settings.WebhookURL))
	}
	var notifier notification.Notifier = notification.NewLogNotifier()
	if len(backends) > 0 {
		notifier = notification.NewFanout(backends...)
	}

	// ---- Risk & stake sizing ----
	riskMgr := risk.NewManager(risk.Limits{
		Enabled:              settings.RiskEnabled,
		DrawdownCap:          settings.DrawdownCap,
		MaxDrawdownPct:       settings.MaxDrawdownPct,
		BalanceFloor:         settings.BalanceFloor,
		MaxConsecutiveLosses: settings.MaxConsecutiveLosses,
		MaxOpenTrades:        settings.MaxOpenTrades,
		VolatilityLimit:      settings.VolatilityLimit,
	})
	mart := risk.NewMartingale(risk.MartingaleConfig{
		Enabled:    settings.MartingaleEnabled,
		Multiplier: settings.MartingaleMultiplier,
		MaxSteps:   settings.MartingaleMaxSteps,
		HardCap:    settings.MartingaleHardCap,
	})

	// ---- Market connection ----
	client := deriv.NewClient(deriv.Config{
		Endpoint: settings.DerivEndpoint,
		AppID:    settings.DerivAppID,
		Token:    settings.DerivToken,
	})
	client.OnConnect = func() { health.SetWSConnected(true) }
	client.OnDisconnect = func() { health.SetWSConnected(false) }
	client.OnReconnect = func() { prom.WSReconnects.Inc() }

	// ---- Broker (paper or live) ----
	var placer model.OrderPlacer = client
	var paper *execution.PaperBroker
	if settings.PaperMode {
		paper = execution.NewPaperBroker(0.95)
		placer = paper
	}

	// ---- Executor ----
	exec := execution.NewExecutor(execution.Config{
		BaseStake:     settings.BaseStake,
		CooldownMs:    settings.CooldownMs,
		DebounceMs:    settings.DebounceMs,
		MaxRuns:       settings.MaxRuns,
		DurationValue: settings.DurationValue,
		DurationUnit:  settings.DurationUnit,
		Basis:         "stake",
	}, riskMgr, mart, placer, journal)
	exec.OnDispatch = func(sig model.Signal, order model.Order) {
		notifier.Send(ctx, notification.TradeOpened(sig, order))
	}

	// ---- Strategy engine & candle store ----
	store := candlestore.New(settings.Timeframes, maxCandlesPerSeries)
	store.OnDroppedTick = func() { prom.DroppedTicks.Inc() }
	engine := strategy.NewEngine(
		strategy.Defaults(settings.EMAFast, settings.EMASlow, settings.WickToBody)...)

	// ---- Pipeline ----
	var candleSink model.CandleSink
	var signalSink model.SignalSink
	if publisher != nil {
		candleSink = publisher
		signalSink = publisher
	}
	pipe := pipeline.New(cfg, store, engine, exec, riskMgr, candleSink, signalSink)
	pipe.OnTick = func() { prom.TicksTotal.Inc() }
	pipe.OnDroppedTick = func() { prom.DroppedTicks.Inc() }
	pipe.OnCandleClose = func(tf int) { prom.CandlesTotal.WithLabelValues(strconv.Itoa(tf)).Inc() }
	pipe.OnSignal = func(name string) { prom.SignalsTotal.WithLabelValues(name).Inc() }
	pipe.OnOutcome = func(o string) { prom.ExecutorOutcomes.WithLabelValues(o).Inc() }
	pipe.OnDispatchLatency = func(d time.Duration) { prom.DispatchDur.Observe(d.Seconds()) }
	pipe.Start(ctx)

	// ---- Operator control surface ----
	ctrl := api.NewServer(settings.APIAddr, api.Deps{
		Cfg:     cfg,
		Pipe:    pipe,
		Risk:    riskMgr,
		Exec:    exec,
		Journal: journal,
		Started: time.Now(),
	})
	ctrl.Start()

	// ---- Settlement and halt routing ----
	halted := false
	onSettled := func(u model.TradeUpdate) {
		pipe.OnTradeUpdate(u)
		if u.IsClosed {
			notifier.Send(ctx, notification.TradeSettled(u))
		}
		st := riskMgr.Status()
		prom.SessionPnL.Set(st.SessionPnL)
		prom.OpenTrades.Set(float64(exec.OpenTrades()))
		health.SetRiskHalted(st.Halted)
		if st.Halted && !halted {
			prom.RiskHalts.Inc()
			notifier.Send(ctx, notification.RiskHalted(st.HaltReason))
		}
		halted = st.Halted
	}

	if settings.PaperMode {
		paper.MarkPrice = pipe.LastPrice
		expiry := contractExpiry(settings.DurationValue, settings.DurationUnit)
		paper.StartAutoSettle(ctx, expiry)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case u := <-paper.Updates():
					onSettled(u)
				}
			}
		}()
	} else {
		client.OnTradeUpdate = onSettled
	}
	client.OnBalance = pipe.OnBalance

	// ---- Tick routing ----
	client.OnTick = func(t model.Tick) {
		health.SetLastTickTime(time.Now())
		pipe.HandleTick(t)
	}
	for _, sym := range settings.Symbols {
		if err := client.SubscribeTicks(sym); err != nil {
			log.Printf("[trader] subscribe %s failed: %v", sym, err)
		}
	}
	go client.Run(ctx)

	slog.Info("pipeline ready", "strategies", engine.Names(),
		"exec_threshold", settings.ExecThreshold, "focus", settings.FocusSymbol)

	<-sigCh
	slog.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	ctrl.Stop(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	client.Close()
	pipe.Wait()
	slog.Info("shutdown complete")
}

// contractExpiry approximates when a contract of the configured duration
// settles. Ticks on synthetic indices arrive roughly every two seconds.
func contractExpiry(value int, unit string) time.Duration {
	switch unit {
	case "t":
		return time.Duration(value) * 2 * time.Second
	case "s":
		return time.Duration(value) * time.Second
	case "m":
		return time.Duration(value) * time.Minute
	default:
		return time.Minute
	}
}
