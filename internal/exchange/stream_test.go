package exchange

import (
	"testing"

	"github.com/rs/zerolog"

	"spotcore/internal/market"
)

func newTestStream() *KlineStream {
	return NewKlineStream(
		"wss://stream.binance.com:9443",
		[]string{"BTCUSDT"},
		market.NewBuffer(10),
		market.NewStore(),
		market.NewBookStore(),
		market.NewVPINStore(),
		zerolog.Nop(),
	)
}

func TestHandleMessage_CombinedStreamKlineUpdatesBuffer(t *testing.T) {
	s := newTestStream()

	msg := []byte(`{
		"stream": "btcusdt@kline_1m",
		"data": {
			"e": "kline",
			"s": "BTCUSDT",
			"k": {
				"t": 1000, "T": 59999, "i": "1m",
				"o": "65000.00", "h": "65100.00", "l": "64900.00", "c": "65050.00",
				"v": "12.5", "q": "812500.00", "V": "6.0", "Q": "390000.00",
				"n": 42, "x": true
			}
		}
	}`)

	s.handleMessage(msg)

	key := market.Key{Symbol: "BTCUSDT", Interval: market.Interval1m}
	closePrice, ok := s.candles.LastClose(key)
	if !ok {
		t.Fatalf("expected a closed candle to be buffered")
	}
	if closePrice != 65050.00 {
		t.Fatalf("expected close 65050.00, got %v", closePrice)
	}
}

func TestHandleMessage_AggTradeUpdatesTradeFlow(t *testing.T) {
	s := newTestStream()

	msg := []byte(`{
		"stream": "btcusdt@aggTrade",
		"data": {"e": "aggTrade", "s": "BTCUSDT", "p": "65000.00", "q": "1.0", "m": false}
	}`)

	s.handleMessage(msg)

	flow := s.trades.Get("BTCUSDT")
	price, ok := flow.LastPrice()
	if !ok || price != 65000.00 {
		t.Fatalf("expected last price 65000.00, got %v (ok=%v)", price, ok)
	}
}

func TestHandleMessage_DepthUpdateUpdatesBook(t *testing.T) {
	s := newTestStream()

	msg := []byte(`{
		"stream": "btcusdt@depth20@100ms",
		"data": {
			"e": "depthUpdate", "s": "BTCUSDT", "u": 100,
			"b": [["64990.00", "2.0"], ["64980.00", "1.0"]],
			"a": [["65010.00", "1.5"], ["65020.00", "0.5"]]
		}
	}`)

	s.handleMessage(msg)

	snap := s.books.Get("BTCUSDT").Snapshot()
	if snap.BestBid != 64990.00 || snap.BestAsk != 65010.00 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestHandleMessage_PartialDepthSnapshotUpdatesBook(t *testing.T) {
	s := newTestStream()

	// Partial-depth payloads carry no "e" event type, only
	// lastUpdateId/bids/asks; the symbol comes from the stream name.
	msg := []byte(`{
		"stream": "btcusdt@depth20@100ms",
		"data": {
			"lastUpdateId": 160,
			"bids": [["64990.00", "2.0"], ["64980.00", "1.0"]],
			"asks": [["65010.00", "1.5"], ["65020.00", "0.5"]]
		}
	}`)

	s.handleMessage(msg)

	snap := s.books.Get("BTCUSDT").Snapshot()
	if snap.BestBid != 64990.00 || snap.BestAsk != 65010.00 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.BidDepth != 3.0 || snap.AskDepth != 2.0 {
		t.Fatalf("unexpected depth totals: %+v", snap)
	}
	if snap.UpdateID != 160 {
		t.Fatalf("expected update id 160, got %d", snap.UpdateID)
	}
}

func TestHandleMessage_AggTradeUpdatesVPINBuckets(t *testing.T) {
	s := newTestStream()

	msg := []byte(`{
		"stream": "btcusdt@aggTrade",
		"data": {"e": "aggTrade", "s": "BTCUSDT", "p": "100.00", "q": "1.0", "m": false}
	}`)
	s.handleMessage(msg)

	tracker := s.vpins.Get("BTCUSDT")
	if _, ok := tracker.VPIN(); ok {
		t.Fatalf("expected no completed VPIN bucket yet from a single small trade")
	}
}

func TestHandleMessage_MalformedPayloadDoesNotPanic(t *testing.T) {
	s := newTestStream()
	s.handleMessage([]byte(`not json`))
	s.handleMessage([]byte(`{"data": {"e": "kline", "s": "BTCUSDT", "k": {}}}`))
}
