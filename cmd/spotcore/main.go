// Command spotcore wires the decision core and its collaborators into a
// single runnable process: kline/trade/depth ingestion, the regime
// classifier, the ten-step strategy pipeline, the exit supervisor and the
// dashboard API server, in a sequential bootstrap-log-wire shape.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"spotcore/internal/api"
	"spotcore/internal/config"
	"spotcore/internal/events"
	"spotcore/internal/exchange"
	"spotcore/internal/execution"
	"spotcore/internal/indicators"
	"spotcore/internal/journal"
	"spotcore/internal/logging"
	"spotcore/internal/market"
	"spotcore/internal/position"
	"spotcore/internal/reconcile"
	"spotcore/internal/regime"
	"spotcore/internal/risk"
	"spotcore/internal/secrets"
	"spotcore/internal/strategy"
)

func main() {
	configPath := getEnv("CONFIG_PATH", "config.json")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	cfg.ApplyStartupSafety()

	logger := logging.New(logging.Config{
		Level:      getEnv("LOG_LEVEL", "INFO"),
		Output:     getEnv("LOG_OUTPUT", "stdout"),
		JSONFormat: getEnvBool("LOG_JSON", false),
	})
	logger.Info().Msg("spotcore starting")

	eventBus := events.NewEventBus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	secretsStore, err := secrets.NewStore(secrets.Config{
		Enabled:    cfg.EnableVaultSecrets,
		Address:    getEnv("VAULT_ADDR", "http://127.0.0.1:8200"),
		Token:      os.Getenv("VAULT_TOKEN"),
		MountPath:  getEnv("VAULT_MOUNT_PATH", "secret"),
		SecretPath: getEnv("VAULT_SECRET_PATH", "spotcore/exchange"),
	})
	if err != nil {
		log.Fatalf("failed to initialize secrets store: %v", err)
	}
	creds, err := secretsStore.Get(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to resolve exchange credentials, continuing with empty credentials")
	}

	baseURL := getEnv("BINANCE_BASE_URL", "https://api.binance.com")
	wsBaseURL := getEnv("BINANCE_WS_BASE_URL", "wss://stream.binance.com:9443")
	exchangeClient := exchange.NewClient(creds.APIKey, creds.SecretKey, baseURL, logger)

	candles := market.NewBuffer(500)
	trades := market.NewStore()
	books := market.NewBookStore()
	vpins := market.NewVPINStore()

	regimeClassifier := regime.NewClassifier()

	var redisCache *position.RedisCache
	if cfg.EnableRedisCache {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		})
		redisCache = position.NewRedisCache(redisClient, logger)
		logger.Info().Bool("available", redisCache.IsAvailable()).Msg("redis position cache initialized")
	}

	var positionsCache position.SnapshotCache
	if redisCache != nil {
		positionsCache = redisCache
	}
	positions := position.NewManager(logger, positionsCache)

	startingEquity := getEnvFloat("STARTING_EQUITY", 10000.0)
	riskEngine := risk.NewEngine(risk.Config{
		MaxDailyLossPct:      cfg.MaxDailyLossPct,
		MaxConsecutiveLosses: cfg.MaxConsecutiveLosses,
		MaxDrawdownPct:       cfg.MaxDrawdownPct,
		MaxDailyTrades:       cfg.MaxTradesPerDay,
	}, startingEquity)

	envelopes := strategy.NewEnvelopeRing(1000)
	noGo := &strategy.NoGoFlag{}

	accountEquity := func() float64 {
		return startingEquity + riskEngine.Snapshot().DailyPnL
	}

	supervisor := execution.NewSupervisor(logger, positions, riskEngine, trades, books, vpins, cfg.EnableMicroTrail, accountEquity)

	var journalDB *journal.DB
	if cfg.EnableJournal {
		journalDB, err = journal.NewDB(journal.Config{
			Host:     getEnv("JOURNAL_DB_HOST", "localhost"),
			Port:     getEnvInt("JOURNAL_DB_PORT", 5432),
			User:     getEnv("JOURNAL_DB_USER", "spotcore"),
			Password: getEnv("JOURNAL_DB_PASSWORD", "spotcore"),
			Database: getEnv("JOURNAL_DB_NAME", "spotcore"),
			SSLMode:  getEnv("JOURNAL_DB_SSLMODE", "disable"),
		}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("journal database unavailable, continuing without trade journaling")
			journalDB = nil
		} else if err := journalDB.RunMigrations(ctx); err != nil {
			logger.Warn().Err(err).Msg("journal migrations failed")
		}
	}

	supervisor.SetOnClose(func(positionID, symbol, side, reason string, closePrice, pnl float64) {
		eventBus.PublishPositionClosed(positionID, symbol, reason, closePrice, pnl)
		if journalDB == nil {
			return
		}
		for _, rec := range positions.ClosedPositions(50) {
			if rec.Position.ID != positionID {
				continue
			}
			closedAt := time.Now()
			if rec.Position.ClosedAt != nil {
				closedAt = *rec.Position.ClosedAt
			}
			if err := journalDB.InsertClosedPosition(ctx, journal.ClosedPositionRecord{
				ID:          rec.Position.ID,
				Symbol:      rec.Position.Symbol,
				Side:        rec.Position.Side,
				EntryPrice:  rec.Position.EntryPrice,
				ClosePrice:  closePrice,
				Quantity:    rec.Position.InitialQty,
				RealizedPnL: pnl,
				CloseReason: reason,
				OpenedAt:    rec.Position.OpenedAt,
				ClosedAt:    closedAt,
			}); err != nil {
				logger.Warn().Err(err).Str("position_id", positionID).Msg("failed to journal closed position")
			}
			return
		}
	})

	pipeline := &strategy.Pipeline{
		Candles:    candles,
		TradeFlows: trades,
		OrderBooks: books,
		VPINs:      vpins,
		Regimes:    regimeClassifier,
		Risk:       riskEngine,
		Positions:  positions,
		HTFGateData: func(symbol string) (ema9_15m, ema21_15m, ema9_1h, ema21_1h float64, ok bool) {
			closes15m := candles.Closes(market.Key{Symbol: symbol, Interval: market.Interval15m}, 60)
			closes1h := candles.Closes(market.Key{Symbol: symbol, Interval: market.Interval1h}, 60)
			e9_15, ok1 := indicators.EMALast(closes15m, 9)
			e21_15, ok2 := indicators.EMALast(closes15m, 21)
			e9_1h, ok3 := indicators.EMALast(closes1h, 9)
			e21_1h, ok4 := indicators.EMALast(closes1h, 21)
			return e9_15, e21_15, e9_1h, e21_1h, ok1 && ok2 && ok3 && ok4
		},
		TradingModeFn: func() strategy.TradingMode {
			return strategy.TradingMode(cfg.TradingMode)
		},
		GlobalNoGo: noGo.Reason,
		Params: strategy.StrategyParams{
			SLATRMultiplier:        cfg.StrategyParams.SLAtrMultiplier,
			TP1ATRMultiplier:       cfg.StrategyParams.TP1AtrMultiplier,
			TP2ATRMultiplier:       cfg.StrategyParams.TP2AtrMultiplier,
			MinSLPct:               cfg.StrategyParams.MinSLPct,
			MinTP1Pct:              cfg.StrategyParams.MinTP1Pct,
			MinTP2Pct:              cfg.StrategyParams.MinTP2Pct,
			BasePositionPct:        cfg.StrategyParams.BasePositionPct,
			EntryThreshold:         cfg.EntryThreshold,
			MaxConcurrentPositions: cfg.MaxConcurrentPositions,
			MaxSpreadBps:           cfg.MaxSpreadBps,
			Filters: strategy.FilterConfig{
				EnableHTFGate:           cfg.EnableHTFGate,
				EnableScoreMomentum:     cfg.EnableScoreMomentum,
				EnableOFIP:              cfg.EnableOFIP,
				EnableAdaptiveThreshold: cfg.EnableAdaptiveThreshold,
				EnableCUSUM:             cfg.EnableCUSUM,
				EnableAbsorption:        cfg.EnableAbsorption,
				EnableEntropyValley:     cfg.EnableEntropyValley,
			},
		},
	}

	klineStream := exchange.NewKlineStream(wsBaseURL, cfg.Symbols, candles, trades, books, vpins, logger)

	reconciler := reconcile.NewReconciler(exchangeClient, positions, func() bool {
		return cfg.AccountMode == config.AccountLive
	}, logger)

	apiServer := api.NewServer(api.Config{
		Host:           getEnv("API_HOST", "0.0.0.0"),
		Port:           getEnvInt("API_PORT", 8080),
		ProductionMode: getEnvBool("PRODUCTION_MODE", false),
		AdminToken:     getEnv("ADMIN_TOKEN", ""),
		AllowedOrigins: splitCSV(getEnv("ALLOWED_ORIGINS", "")),
	}, api.Dependencies{
		Positions:  positions,
		Risk:       riskEngine,
		Envelopes:  envelopes,
		Supervisor: supervisor,
		Exchange:   exchangeClient,
		EventBus:   eventBus,
		ConfigRef:  cfg,
		Reconciler: reconciler,
		NoGo:       noGo,
	}, logger)

	go klineStream.Run(ctx)
	go supervisor.Run()
	go reconciler.Run(ctx)
	go runStrategyLoop(ctx, logger, pipeline, positions, supervisor, envelopes, eventBus, journalDB, exchangeClient, cfg)
	go runRegimeLoop(ctx, logger, candles, regimeClassifier, cfg)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error().Err(err).Msg("dashboard HTTP server stopped")
		}
	}()

	logger.Info().Strs("symbols", cfg.Symbols).Msg("spotcore started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down")
	cancel()

	klineStream.Stop()
	supervisor.Stop()
	reconciler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("error shutting down dashboard HTTP server")
	}

	if err := config.Save(configPath, cfg); err != nil {
		logger.Warn().Err(err).Msg("failed to persist configuration on shutdown")
	}

	if journalDB != nil {
		journalDB.Close()
	}

	logger.Info().Msg("shutdown complete")
}

// strategyTickInterval is how often the pipeline re-evaluates every symbol.
const strategyTickInterval = 5 * time.Second

// regimeTickInterval is how often the regime classifier re-derives its
// per-symbol label from fresh 5m indicator readings.
const regimeTickInterval = 30 * time.Second

// runStrategyLoop ticks the decision pipeline for every configured symbol
// on a fixed interval, routing ALLOW verdicts into an opened position and
// registering it with the exit supervisor, and mirroring every envelope to
// the event bus and (if enabled) the journal database.
func runStrategyLoop(ctx context.Context, logger zerolog.Logger, pipeline *strategy.Pipeline, positions *position.Manager, supervisor *execution.Supervisor, envelopeRing *strategy.EnvelopeRing, eventBus *events.EventBus, journalDB *journal.DB, exchangeClient *exchange.Client, cfg *config.Config) {
	ticker := time.NewTicker(strategyTickInterval)
	defer ticker.Stop()

	accountQuoteBalance := getEnvFloat("ACCOUNT_QUOTE_BALANCE", 10000.0)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range cfg.Symbols {
				result := pipeline.Tick(symbol, accountQuoteBalance)
				// The OFIP buy/sell split is windowed per decision cycle;
				// the cumulative volume delta is untouched by this.
				pipeline.TradeFlows.Get(symbol).ResetWindow()
				envelopes := result.Envelope
				envelopeRing.Add(envelopes)

				eventBus.PublishSignal(envelopes.Symbol, envelopes.Side, string(envelopes.FinalDecision), envelopes.Reason, 0)

				if journalDB != nil {
					layersJSON, err := marshalLayers(envelopes.Layers)
					if err != nil {
						logger.Warn().Err(err).Msg("failed to marshal decision envelope layers")
					} else if err := journalDB.InsertDecisionEnvelope(ctx, journal.DecisionEnvelopeRecord{
						ID:            envelopes.ID,
						Symbol:        envelopes.Symbol,
						Side:          envelopes.Side,
						StrategyName:  envelopes.StrategyName,
						FinalDecision: string(envelopes.FinalDecision),
						BlockingLayer: envelopes.BlockingLayer,
						Reason:        envelopes.Reason,
						LayersJSON:    layersJSON,
						CreatedAt:     envelopes.CreatedAt,
					}); err != nil {
						logger.Warn().Err(err).Msg("failed to journal decision envelope")
					}
				}

				if result.Proposal == nil {
					continue
				}

				proposal := result.Proposal

				// Demo account mode simulates the fill locally; only a live
				// account routes the order to the exchange, and a routing
				// failure skips the position until the next tick.
				if cfg.AccountMode == config.AccountLive {
					clientOrderID := "spotcore-" + envelopes.ID
					if _, err := exchangeClient.PlaceLimitOrder(ctx, proposal.Symbol, proposal.Side, proposal.Quantity, proposal.EntryPrice, clientOrderID); err != nil {
						logger.Warn().Err(err).Str("symbol", proposal.Symbol).Msg("order routing failed, retrying next tick")
						eventBus.PublishError("order_routing", err.Error())
						continue
					}
				}

				positionID := positions.OpenPosition(proposal.Symbol, proposal.Side, proposal.EntryPrice, proposal.Quantity, proposal.SLPrice, proposal.TP1Price, proposal.TP2Price)

				cvdAtEntry := pipeline.TradeFlows.Get(proposal.Symbol).CVD()
				supervisor.RegisterPosition(positionID, proposal.Symbol, proposal.Side, proposal.EntryPrice, proposal.ATR, proposal.RegimeLabel, cvdAtEntry, time.Now())

				eventBus.PublishPositionOpened(positionID, proposal.Symbol, proposal.Side, proposal.EntryPrice, proposal.Quantity)

				logger.Info().
					Str("position_id", positionID).
					Str("symbol", proposal.Symbol).
					Str("side", proposal.Side).
					Float64("entry", proposal.EntryPrice).
					Msg("strategy pipeline opened position")
			}
		}
	}
}

// runRegimeLoop recomputes each symbol's ADX/BBW/Hurst/Entropy inputs from
// 5m candle history and feeds them to the regime classifier.
func runRegimeLoop(ctx context.Context, logger zerolog.Logger, candles *market.Buffer, classifier *regime.Classifier, cfg *config.Config) {
	ticker := time.NewTicker(regimeTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range cfg.Symbols {
				key := market.Key{Symbol: symbol, Interval: market.Interval5m}
				closed := candles.Closed(key, 100)
				if len(closed) < 64 {
					continue
				}

				closes := make([]float64, len(closed))
				highs := make([]float64, len(closed))
				lows := make([]float64, len(closed))
				directional := make([]indicators.DirectionalCandle, len(closed))
				for i, c := range closed {
					closes[i] = c.Close
					highs[i] = c.High
					lows[i] = c.Low
					directional[i] = indicators.DirectionalCandle{Open: c.Open, Close: c.Close}
				}

				adx, adxOK := indicators.ADX(highs, lows, closes, 14)
				boll, bollOK := indicators.Bollinger(closes, 20, 2)
				hurst, hurstOK := indicators.Hurst(closes)
				entropy, entropyOK := indicators.Entropy(directional, 20)
				if !adxOK || !bollOK || !hurstOK || !entropyOK {
					continue
				}

				state := classifier.Classify(symbol, regime.Inputs{ADX: adx, BBW: boll.BBW, Hurst: hurst, Entropy: entropy})
				logger.Debug().Str("symbol", symbol).Str("label", string(state.Label)).Float64("confidence", state.Confidence).Msg("regime classified")
			}
		}
	}
}

func marshalLayers(layers []strategy.LayerVerdict) ([]byte, error) {
	return json.Marshal(layers)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
