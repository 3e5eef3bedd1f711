package exchangefeed

import (
	"encoding/json"
	"fmt"
	"strconv"

	"signalgraph-mm/pkg/types"
)

// CoinbaseCodec decodes Coinbase's level2 WebSocket channel: an initial
// "snapshot" with the full book followed by incremental "l2update"
// messages. Both carry string-encoded decimal prices/sizes.
type CoinbaseCodec struct{}

type coinbaseSnapshot struct {
	Type string     `json:"type"`
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

type coinbaseUpdate struct {
	Type    string     `json:"type"`
	Changes [][]string `json:"changes"` // [side, price, size]
}

func (c CoinbaseCodec) SubscribeMessage(product string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":        "subscribe",
		"product_ids": []string{product},
		"channels":    []string{"level2"},
	})
}

func (c CoinbaseCodec) Decode(raw []byte) ([]types.MarketEvent, bool, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, false, nil
	}

	switch envelope.Type {
	case "snapshot":
		var snap coinbaseSnapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, false, fmt.Errorf("decode snapshot: %w", err)
		}
		events := make([]types.MarketEvent, 0, len(snap.Bids)+len(snap.Asks)+1)
		events = append(events, types.MarketEvent{Kind: types.EventClear})
		for _, lvl := range snap.Bids {
			evt, err := coinbaseLevelEvent(types.Buy, lvl[0], lvl[1])
			if err != nil {
				return nil, false, err
			}
			events = append(events, evt)
		}
		for _, lvl := range snap.Asks {
			evt, err := coinbaseLevelEvent(types.Sell, lvl[0], lvl[1])
			if err != nil {
				return nil, false, err
			}
			events = append(events, evt)
		}
		return events, true, nil

	case "l2update":
		var upd coinbaseUpdate
		if err := json.Unmarshal(raw, &upd); err != nil {
			return nil, false, fmt.Errorf("decode l2update: %w", err)
		}
		events := make([]types.MarketEvent, 0, len(upd.Changes))
		for _, change := range upd.Changes {
			if len(change) != 3 {
				return nil, false, fmt.Errorf("exchangefeed: malformed coinbase change %v", change)
			}
			side, err := coinbaseSide(change[0])
			if err != nil {
				return nil, false, err
			}
			evt, err := coinbaseLevelEvent(side, change[1], change[2])
			if err != nil {
				return nil, false, err
			}
			events = append(events, evt)
		}
		return events, true, nil

	default:
		// subscription acks, heartbeats, etc.
		return nil, false, nil
	}
}

func coinbaseLevelEvent(side types.Side, priceStr, sizeStr string) (types.MarketEvent, error) {
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return types.MarketEvent{}, fmt.Errorf("parse price %q: %w", priceStr, err)
	}
	size, err := strconv.ParseFloat(sizeStr, 64)
	if err != nil {
		return types.MarketEvent{}, fmt.Errorf("parse size %q: %w", sizeStr, err)
	}
	return types.MarketEvent{
		Kind:  types.EventBookLevel,
		Price: types.PriceCents(int64(price*100 + 0.5)),
		Side:  side,
		Size:  size,
	}, nil
}

func coinbaseSide(s string) (types.Side, error) {
	switch s {
	case "buy":
		return types.Buy, nil
	case "sell":
		return types.Sell, nil
	default:
		return "", fmt.Errorf("exchangefeed: unknown coinbase side %q", s)
	}
}
