package exchangefeed

import (
	"bytes"
	"compress/flate"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"signalgraph-mm/pkg/types"
)

// OkexCodec decodes OKEx's depth_l2_tbt WebSocket channel. Messages
// arrive as raw-deflate compressed binary frames; each decompresses to a
// JSON envelope carrying the channel's action ("partial" for the initial
// snapshot, "update" for incrementals) and bid/ask arrays of
// [price, size, numOrders, ...] string tuples.
type OkexCodec struct {
	Channel string // e.g. "spot/depth_l2_tbt:BTC-USDT"
}

type okexLevels struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

type okexMessage struct {
	Action string       `json:"action"`
	Data   []okexLevels `json:"data"`
}

func (c OkexCodec) SubscribeMessage(product string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"op":   "subscribe",
		"args": []string{c.Channel},
	})
}

func (c OkexCodec) Decode(raw []byte) ([]types.MarketEvent, bool, error) {
	plain, err := inflate(raw)
	if err != nil {
		return nil, false, fmt.Errorf("inflate: %w", err)
	}

	var msg okexMessage
	if err := json.Unmarshal(plain, &msg); err != nil {
		// Subscribe acks aren't action/data envelopes.
		return nil, false, nil
	}
	if msg.Action == "" || len(msg.Data) == 0 {
		return nil, false, nil
	}

	levels := msg.Data[0]
	events := make([]types.MarketEvent, 0, len(levels.Bids)+len(levels.Asks)+1)
	if msg.Action == "partial" {
		events = append(events, types.MarketEvent{Kind: types.EventClear})
	}

	for _, lvl := range levels.Bids {
		evt, err := okexLevelEvent(types.Buy, lvl)
		if err != nil {
			return nil, false, err
		}
		events = append(events, evt)
	}
	for _, lvl := range levels.Asks {
		evt, err := okexLevelEvent(types.Sell, lvl)
		if err != nil {
			return nil, false, err
		}
		events = append(events, evt)
	}
	return events, true, nil
}

func okexLevelEvent(side types.Side, fields []string) (types.MarketEvent, error) {
	if len(fields) < 2 {
		return types.MarketEvent{}, fmt.Errorf("exchangefeed: malformed okex level %v", fields)
	}
	price, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return types.MarketEvent{}, fmt.Errorf("parse price %q: %w", fields[0], err)
	}
	size, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return types.MarketEvent{}, fmt.Errorf("parse size %q: %w", fields[1], err)
	}
	return types.MarketEvent{
		Kind:  types.EventBookLevel,
		Price: types.PriceCents(int64(price*100 + 0.5)),
		Side:  side,
		Size:  size,
	}, nil
}

func inflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}
