package bitfinex

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"tinybtc/internal/domain"
)

// Ticker payload indices.
const (
	tickerMinFields   = 7
	tickerDailyChange = 5
	tickerLastPrice   = 6
	candleMinFields   = 5
)

// EncodeSubscribe builds the subscribe request for kind.
// Candle requests embed the timeframe token and symbol in the key ("trade:1m:tBTCUSD").
func EncodeSubscribe(kind Kind, symbol string, tf domain.Timeframe) ([]byte, error) {
	if symbol == "" {
		return nil, &domain.EncodeError{Kind: kind.String(), Err: errors.New("empty symbol")}
	}

	req := subscribeRequest{Event: "subscribe", Channel: kind.String()}
	switch kind {
	case KindTicker:
		req.Symbol = symbol
	case KindCandle:
		if !tf.Valid() {
			return nil, &domain.EncodeError{Kind: kind.String(), Err: fmt.Errorf("%w: %q", domain.ErrUnknownTimeframe, tf)}
		}
		req.Key = CandleKey(tf, symbol)
	default:
		return nil, &domain.EncodeError{Kind: kind.String(), Err: fmt.Errorf("unsupported kind %d", kind)}
	}

	b, err := json.Marshal(req)
	if err != nil {
		return nil, &domain.EncodeError{Kind: kind.String(), Err: err}
	}
	return b, nil
}

// CandleKey returns the candle subscription key for tf and symbol.
func CandleKey(tf domain.Timeframe, symbol string) string {
	return "trade:" + tf.Token() + ":" + symbol
}

// DecodeFrame decodes one inbound text frame for a channel of the given kind.
// The kind disambiguates flat payloads: a ticker update and a single candle share
// the same outer shape. Malformed frames return a *domain.DecodeError and are
// safe to drop; well-formed frames of no interest decode to Ignored.
func DecodeFrame(kind Kind, frame []byte) (Message, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 {
		return nil, domain.NewDecodeError("empty frame", nil)
	}

	switch trimmed[0] {
	case '{':
		return decodeEvent(trimmed)
	case '[':
		return decodeArray(kind, trimmed)
	default:
		return nil, domain.NewDecodeError("frame is neither array nor object", nil)
	}
}

func decodeEvent(frame []byte) (Message, error) {
	var ev eventResponse
	if err := json.Unmarshal(frame, &ev); err != nil {
		return nil, domain.NewDecodeError("event object", err)
	}

	switch ev.Event {
	case "subscribed":
		return Subscribed{ChannelID: ev.ChanID, Channel: ev.Channel, Symbol: ev.Symbol, Key: ev.Key}, nil
	case "info":
		return Info{Version: ev.Version}, nil
	case "error":
		return ServerError{Code: ev.Code, Msg: ev.Msg}, nil
	case "pong", "conf":
		return Heartbeat{}, nil
	default:
		return Ignored{}, nil
	}
}

func decodeArray(kind Kind, frame []byte) (Message, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(frame, &parts); err != nil {
		return nil, domain.NewDecodeError("array frame", err)
	}
	if len(parts) == 0 {
		return nil, domain.NewDecodeError("empty array frame", nil)
	}

	// [chanId, payload]; anything else in the first slot is not ours.
	if _, ok := parseInt(parts[0]); !ok {
		return Ignored{}, nil
	}
	if len(parts) < 2 {
		return Ignored{}, nil
	}

	payload := bytes.TrimSpace(parts[1])
	if string(payload) == `"hb"` {
		return Heartbeat{}, nil
	}
	if len(payload) == 0 || payload[0] != '[' {
		return Ignored{}, nil
	}

	switch kind {
	case KindTicker:
		return decodeTicker(payload)
	case KindCandle:
		return decodeCandles(payload)
	default:
		return nil, domain.NewDecodeError("unknown channel kind", nil)
	}
}

func decodeTicker(payload []byte) (Message, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, domain.NewDecodeError("ticker payload", err)
	}
	if len(fields) < tickerMinFields {
		return nil, domain.NewDecodeError(fmt.Sprintf("ticker payload has %d fields, want >= %d", len(fields), tickerMinFields), nil)
	}

	change, ok := parseFloat(fields[tickerDailyChange])
	if !ok {
		return nil, domain.NewDecodeError("ticker daily change is not a number", nil)
	}
	last, ok := parseFloat(fields[tickerLastPrice])
	if !ok {
		return nil, domain.NewDecodeError("ticker last price is not a number", nil)
	}

	return TickerUpdate{LastPrice: last, DailyChange: change}, nil
}

func decodeCandles(payload []byte) (Message, error) {
	var rows []json.RawMessage
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, domain.NewDecodeError("candle payload", err)
	}

	// An empty array is an empty snapshot.
	if len(rows) == 0 {
		return CandleSnapshot{Candles: []domain.Candle{}}, nil
	}

	first := bytes.TrimSpace(rows[0])
	if len(first) > 0 && first[0] == '[' {
		candles := make([]domain.Candle, 0, len(rows))
		for _, row := range rows {
			c, err := parseCandleRow(row)
			if err != nil {
				continue // malformed rows are skipped, the rest of the snapshot survives
			}
			candles = append(candles, c)
		}
		return CandleSnapshot{Candles: candles}, nil
	}

	c, err := parseCandleFields(rows)
	if err != nil {
		return nil, err
	}
	return CandleUpdate{Candle: c}, nil
}

func parseCandleRow(row json.RawMessage) (domain.Candle, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(row, &fields); err != nil {
		return domain.Candle{}, domain.NewDecodeError("candle row", err)
	}
	return parseCandleFields(fields)
}

// parseCandleFields reads [mts, open, close, high, low, ...].
func parseCandleFields(fields []json.RawMessage) (domain.Candle, error) {
	if len(fields) < candleMinFields {
		return domain.Candle{}, domain.NewDecodeError(fmt.Sprintf("candle has %d fields, want >= %d", len(fields), candleMinFields), nil)
	}

	mts, ok := parseInt(fields[0])
	if !ok {
		return domain.Candle{}, domain.NewDecodeError("candle time is not an integer", nil)
	}

	var prices [4]float64
	for i := range prices {
		v, ok := parseFloat(fields[i+1])
		if !ok {
			return domain.Candle{}, domain.NewDecodeError("candle price is not a number", nil)
		}
		prices[i] = v
	}

	return domain.Candle{
		BucketTime: mts,
		Open:       prices[0],
		Close:      prices[1],
		High:       prices[2],
		Low:        prices[3],
	}, nil
}

// parseFloat accepts a bare JSON number.
func parseFloat(raw json.RawMessage) (float64, bool) {
	s := string(bytes.TrimSpace(raw))
	if s == "" || !(s[0] == '-' || (s[0] >= '0' && s[0] <= '9')) {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseInt accepts a bare JSON number with no fractional part.
func parseInt(raw json.RawMessage) (int64, bool) {
	s := string(bytes.TrimSpace(raw))
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, true
	}
	f, ok := parseFloat(raw)
	if !ok || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}
