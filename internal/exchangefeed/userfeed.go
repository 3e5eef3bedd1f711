package exchangefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"signalgraph-mm/pkg/types"
)

const fillBufferSize = 64

// userFillMessage is the minimal fill envelope every venue's
// authenticated user channel is normalized to before it reaches the
// quoter: a client order ID, the product it was quoted on, side, price
// and size in venue units, and a unix-millis timestamp.
type userFillMessage struct {
	ClientOrderID string  `json:"client_order_id"`
	Product       string  `json:"product"`
	Side          string  `json:"side"`
	Price         float64 `json:"price"`
	Size          float64 `json:"size"`
	TimestampMS   int64   `json:"timestamp_ms"`
}

// UserFeed is the authenticated per-venue WebSocket carrying fill
// notifications for orders this process placed. One UserFeed serves
// every security traded on its venue; fills are demultiplexed by
// product downstream (the caller matches Fill.Security against the
// tactic it belongs to).
type UserFeed struct {
	url      string
	exchange string
	authMsg  []byte

	out    chan types.Fill
	logger *slog.Logger
}

// NewUserFeed creates a user fills feed for one venue. authMsg is sent
// immediately after connecting (e.g. an API-key auth frame); it may be
// nil for venues whose user channel authenticates via the dial itself.
func NewUserFeed(url, exchange string, authMsg []byte, logger *slog.Logger) *UserFeed {
	return &UserFeed{
		url:      url,
		exchange: exchange,
		authMsg:  authMsg,
		out:      make(chan types.Fill, fillBufferSize),
		logger:   logger.With("component", "exchangefeed_user", "exchange", exchange),
	}
}

// Fills returns the channel of decoded fills for this venue.
func (f *UserFeed) Fills() <-chan types.Fill { return f.out }

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (f *UserFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("user feed disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (f *UserFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if f.authMsg != nil {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, f.authMsg); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	f.logger.Info("user feed connected")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var m userFillMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			f.logger.Error("decode fill message", "error", err)
			continue
		}
		if m.ClientOrderID == "" {
			continue // ack/heartbeat, not a fill
		}

		fill := types.Fill{
			OrderID:   m.ClientOrderID,
			Security:  types.Security{Product: m.Product, Exchange: f.exchange},
			Side:      types.Side(m.Side),
			Price:     types.PriceCents(int64(m.Price*100 + 0.5)),
			Size:      m.Size,
			Timestamp: time.UnixMilli(m.TimestampMS),
		}
		select {
		case f.out <- fill:
		default:
			f.logger.Warn("fill channel full, dropping fill")
		}
	}
}
