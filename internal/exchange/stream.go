package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"spotcore/internal/market"
)

// supportedIntervals is the finite set of candle intervals the core
// subscribes to over the kline stream.
var supportedIntervals = []string{"1m", "5m", "15m", "1h"}

// KlineStream ingests Binance combined-stream kline, aggregate-trade and
// partial-depth updates for a fixed symbol set directly into the shared
// market.Buffer / market.Store / market.BookStore, reconnecting with a
// fixed 5s backoff on any read error or disconnect.
type KlineStream struct {
	mu sync.RWMutex

	baseURL   string
	symbols   []string
	candles   *market.Buffer
	trades    *market.Store
	books     *market.BookStore
	vpins     *market.VPINStore
	log       zerolog.Logger

	conn      *websocket.Conn
	running   bool
	stop      chan struct{}
	reconnects int
}

// NewKlineStream builds a combined-stream ingester for symbols, writing
// candles into candles, aggregate trades into trades and their VPIN
// buckets into vpins (every aggTrade feeds both the CVD accumulator and
// the VPIN tracker), and depth updates into books.
func NewKlineStream(baseURL string, symbols []string, candles *market.Buffer, trades *market.Store, books *market.BookStore, vpins *market.VPINStore, log zerolog.Logger) *KlineStream {
	return &KlineStream{
		baseURL: baseURL,
		symbols: symbols,
		candles: candles,
		trades:  trades,
		books:   books,
		vpins:   vpins,
		log:     log.With().Str("component", "exchange.KlineStream").Logger(),
		stop:    make(chan struct{}),
	}
}

func (s *KlineStream) streamURL() string {
	var streams []string
	for _, sym := range s.symbols {
		lower := strings.ToLower(sym)
		for _, iv := range supportedIntervals {
			streams = append(streams, fmt.Sprintf("%s@kline_%s", lower, iv))
		}
		streams = append(streams, fmt.Sprintf("%s@aggTrade", lower))
		streams = append(streams, fmt.Sprintf("%s@depth20@100ms", lower))
	}
	return fmt.Sprintf("%s/stream?streams=%s", s.baseURL, strings.Join(streams, "/"))
}

// Run connects and reads until ctx is cancelled, reconnecting after any
// disconnect or read error with a 5s backoff.
func (s *KlineStream) Run(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	url := s.streamURL()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		default:
		}

		s.log.Info().Str("url", url).Msg("connecting to kline stream")
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			s.log.Warn().Err(err).Msg("kline stream connect failed, retrying in 5s")
			if !sleepOrDone(ctx, s.stop, 5*time.Second) {
				return
			}
			s.mu.Lock()
			s.reconnects++
			s.mu.Unlock()
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		s.log.Info().Msg("kline stream connected")
		s.readLoop(conn)

		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		default:
		}

		s.log.Warn().Msg("kline stream disconnected, reconnecting in 5s")
		if !sleepOrDone(ctx, s.stop, 5*time.Second) {
			return
		}
	}
}

// Stop tears down the stream connection and halts reconnection.
func (s *KlineStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stop)
	if s.conn != nil {
		s.conn.Close()
	}
}

func sleepOrDone(ctx context.Context, stop chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	}
}

func (s *KlineStream) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			s.log.Warn().Err(err).Msg("kline stream read error")
			return
		}
		s.handleMessage(message)
	}
}

func (s *KlineStream) handleMessage(message []byte) {
	var envelope struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		s.log.Warn().Err(err).Msg("failed to parse stream envelope")
		return
	}

	payload := envelope.Data
	if payload == nil {
		payload = message
	}

	var base struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(payload, &base); err != nil {
		s.log.Warn().Err(err).Msg("failed to parse event type")
		return
	}

	switch base.EventType {
	case "kline":
		s.handleKline(payload)
	case "aggTrade":
		s.handleAggTrade(payload)
	case "depthUpdate":
		s.handleDiffDepth(payload)
	case "":
		// Partial-depth snapshots carry no event type, only
		// lastUpdateId/bids/asks; the symbol comes from the combined
		// stream name ("btcusdt@depth20@100ms").
		s.handlePartialDepth(envelope.Stream, payload)
	}
}

type klineEvent struct {
	Symbol string `json:"s"`
	K      struct {
		Interval     string `json:"i"`
		OpenTime     int64  `json:"t"`
		CloseTime    int64  `json:"T"`
		Open         string `json:"o"`
		High         string `json:"h"`
		Low          string `json:"l"`
		Close        string `json:"c"`
		Volume       string `json:"v"`
		QuoteVolume  string `json:"q"`
		TakerBuyBase string `json:"V"`
		TakerBuyQuo  string `json:"Q"`
		TradesCount  int64  `json:"n"`
		IsClosed     bool   `json:"x"`
	} `json:"k"`
}

func (s *KlineStream) handleKline(payload json.RawMessage) {
	var ev klineEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		s.log.Warn().Err(err).Msg("failed to parse kline message")
		return
	}

	if !isSupportedInterval(ev.K.Interval) {
		s.log.Warn().Str("interval", ev.K.Interval).Str("symbol", ev.Symbol).Msg("kline for unknown interval accepted")
	}

	key := market.Key{Symbol: strings.ToUpper(ev.Symbol), Interval: market.Interval(ev.K.Interval)}
	candle := market.Candle{
		OpenTime:         time.UnixMilli(ev.K.OpenTime),
		CloseTime:        time.UnixMilli(ev.K.CloseTime),
		Open:             mustParseFloat(ev.K.Open),
		High:             mustParseFloat(ev.K.High),
		Low:              mustParseFloat(ev.K.Low),
		Close:            mustParseFloat(ev.K.Close),
		Volume:           mustParseFloat(ev.K.Volume),
		QuoteVolume:      mustParseFloat(ev.K.QuoteVolume),
		TakerBuyVolume:   mustParseFloat(ev.K.TakerBuyBase),
		TakerBuyQuoteVol: mustParseFloat(ev.K.TakerBuyQuo),
		TradeCount:       ev.K.TradesCount,
		IsClosed:         ev.K.IsClosed,
	}
	s.candles.Update(key, candle)
}

type aggTradeEvent struct {
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	BuyerIsMaker bool   `json:"m"`
}

func (s *KlineStream) handleAggTrade(payload json.RawMessage) {
	var ev aggTradeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		s.log.Warn().Err(err).Msg("failed to parse aggTrade message")
		return
	}

	symbol := strings.ToUpper(ev.Symbol)
	price, qty := mustParseFloat(ev.Price), mustParseFloat(ev.Quantity)

	flow := s.trades.Get(symbol)
	flow.ProcessTrade(price, qty, ev.BuyerIsMaker)

	if s.vpins != nil {
		s.vpins.Get(symbol).ProcessTrade(price, qty, ev.BuyerIsMaker)
	}
}

type diffDepthEvent struct {
	Symbol        string     `json:"s"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
	FinalUpdateID int64      `json:"u"`
}

func (s *KlineStream) handleDiffDepth(payload json.RawMessage) {
	var ev diffDepthEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		s.log.Warn().Err(err).Msg("failed to parse depthUpdate message")
		return
	}
	s.updateBook(strings.ToUpper(ev.Symbol), ev.Bids, ev.Asks, ev.FinalUpdateID)
}

type partialDepthEvent struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

func (s *KlineStream) handlePartialDepth(stream string, payload json.RawMessage) {
	if !strings.Contains(stream, "@depth") {
		return
	}
	symbol := strings.ToUpper(stream[:strings.Index(stream, "@")])

	var ev partialDepthEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		s.log.Warn().Err(err).Msg("failed to parse partial depth message")
		return
	}
	s.updateBook(symbol, ev.Bids, ev.Asks, ev.LastUpdateID)
}

func (s *KlineStream) updateBook(symbol string, bids, asks [][]string, updateID int64) {
	if len(bids) == 0 || len(asks) == 0 {
		return
	}

	bestBid := mustParseFloat(bids[0][0])
	bestAsk := mustParseFloat(asks[0][0])
	bidDepth := sumDepth(bids)
	askDepth := sumDepth(asks)

	s.books.Get(symbol).Update(bestBid, bestAsk, bidDepth, askDepth, updateID)
}

func isSupportedInterval(interval string) bool {
	for _, iv := range supportedIntervals {
		if iv == interval {
			return true
		}
	}
	return false
}

func sumDepth(levels [][]string) float64 {
	var total float64
	for _, lvl := range levels {
		if len(lvl) < 2 {
			continue
		}
		total += mustParseFloat(lvl[1])
	}
	return total
}

func mustParseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
