package exchangefeed

import "fmt"

// NewCodec builds the Codec for a venue's wire format. kind is the
// config-level "which exchange is this" tag (config.Exchange.Kind); for
// bitmex it also takes the per-symbol level-ID offset, and for okex the
// subscribe channel string, since those two codecs need venue-specific
// parameters the others don't.
func NewCodec(kind string, bitmexIDOffset int64, okexChannel string) (Codec, error) {
	switch kind {
	case "bitmex":
		return BitmexCodec{IDOffset: bitmexIDOffset}, nil
	case "coinbase":
		return CoinbaseCodec{}, nil
	case "okex":
		return OkexCodec{Channel: okexChannel}, nil
	default:
		return nil, fmt.Errorf("exchangefeed: unknown codec kind %q", kind)
	}
}
