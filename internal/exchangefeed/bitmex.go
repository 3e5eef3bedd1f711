package exchangefeed

import (
	"encoding/json"
	"fmt"

	"signalgraph-mm/pkg/types"
)

// BitmexCodec decodes BitMEX's orderBookL2 WebSocket channel. BitMEX keys
// book levels by an opaque integer ID rather than price; the ID encodes
// price via a fixed offset per symbol, so deletes (which carry no price)
// can still be resolved to a price level.
type BitmexCodec struct {
	// IDOffset is the per-symbol constant BitMEX computes level IDs from:
	// id = offset - priceInCents. XBTUSD uses 100000000*88.
	IDOffset int64
}

type bitmexLevel struct {
	ID   int64   `json:"id"`
	Side string  `json:"side"`
	Size float64 `json:"size"`
}

type bitmexMessage struct {
	Action string        `json:"action"`
	Data   []bitmexLevel `json:"data"`
}

func (c BitmexCodec) SubscribeMessage(product string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"op":   "subscribe",
		"args": []string{"orderBookL2:" + product},
	})
}

func (c BitmexCodec) centsFromID(id int64) types.PriceCents {
	return types.PriceCents(c.IDOffset - id)
}

func (c BitmexCodec) Decode(raw []byte) ([]types.MarketEvent, bool, error) {
	var msg bitmexMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		// Welcome banners and subscribe acks aren't action/data envelopes.
		return nil, false, nil
	}
	if msg.Action == "" {
		return nil, false, nil
	}

	events := make([]types.MarketEvent, 0, len(msg.Data)+1)
	if msg.Action == "partial" {
		events = append(events, types.MarketEvent{Kind: types.EventClear})
	}

	for _, lvl := range msg.Data {
		side, err := bitmexSide(lvl.Side)
		if err != nil {
			return nil, false, err
		}
		size := lvl.Size
		if msg.Action == "delete" {
			size = 0
		}
		events = append(events, types.MarketEvent{
			Kind:  types.EventBookLevel,
			Price: c.centsFromID(lvl.ID),
			Side:  side,
			Size:  size,
		})
	}
	return events, true, nil
}

func bitmexSide(s string) (types.Side, error) {
	switch s {
	case "Buy":
		return types.Buy, nil
	case "Sell":
		return types.Sell, nil
	default:
		return "", fmt.Errorf("exchangefeed: unknown bitmex side %q", s)
	}
}
