package signalhttp

import (
	"encoding/json"
	"fmt"
	"strings"

	"marginAutoBot/internal/domain"
)

// payload is the wire shape of one signal. Producers in the wild disagree on
// field names, so every known alias is declared here rather than probed
// dynamically:
//
//	decision: "signal", "action" or "side"
//	pair:     "pair" or "symbol"
//	time:     "at", "timestamp_utc", "ts" or "timestamp"
//
// Alias precedence is the declaration order above.
type payload struct {
	Signal string `json:"signal"`
	Action string `json:"action"`
	Side   string `json:"side"`

	Pair   string `json:"pair"`
	Symbol string `json:"symbol"`

	At           json.RawMessage `json:"at"`
	TimestampUTC json.RawMessage `json:"timestamp_utc"`
	Ts           json.RawMessage `json:"ts"`
	Timestamp    json.RawMessage `json:"timestamp"`
}

// DecodeSignal parses one JSON signal payload into the normalized domain
// form. The timestamp is kept as the verbatim wire text; it doubles as the
// deduplication key downstream.
func DecodeSignal(data []byte) (*domain.Signal, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode signal payload: %w", err)
	}

	raw := firstNonEmpty(p.Signal, p.Action, p.Side)
	if raw == "" {
		return nil, fmt.Errorf("signal payload has no decision field")
	}

	return &domain.Signal{
		Kind: normalizeKind(raw),
		Pair: strings.ToUpper(firstNonEmpty(p.Pair, p.Symbol)),
		At:   rawToString(firstRaw(p.At, p.TimestampUTC, p.Ts, p.Timestamp)),
	}, nil
}

// normalizeKind folds decision synonyms onto the three canonical kinds.
// Anything unrecognized passes through lowercased and is rejected by the
// intake gate with its original wording intact.
func normalizeKind(raw string) domain.SignalKind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "long":
		return domain.SignalBuy
	case "sell", "short":
		return domain.SignalSell
	case "hold", "none", "flat":
		return domain.SignalHold
	default:
		return domain.SignalKind(strings.ToLower(strings.TrimSpace(raw)))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstRaw(values ...json.RawMessage) json.RawMessage {
	for _, v := range values {
		if len(v) > 0 && string(v) != "null" {
			return v
		}
	}
	return nil
}

// rawToString renders the timestamp field verbatim: quoted strings are
// unquoted, numbers keep their exact wire text so 1700000000.5 and
// 1700000000.50 stay distinct dedup keys.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return strings.TrimSpace(string(raw))
}
