// Package exchangefeed maintains one WebSocket connection per traded
// security and normalizes each venue's wire format into
// types.MarketEventBlock for the signal graph.
//
// Each feed auto-reconnects with exponential backoff (1s to 30s max) and
// resubscribes on reconnect. A read deadline (90s) ensures a silently
// dead connection is detected within a couple of missed server pings.
package exchangefeed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"signalgraph-mm/pkg/types"
)

const (
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	blockBufferSize  = 256
)

// Codec decodes one venue's wire format into MarketEvents for a single
// product. Decode returns ok == false for messages that carry no book
// data (acks, heartbeats, informational events) so the feed can skip
// triggering a graph walk for them.
type Codec interface {
	// SubscribeMessage returns the payload to send right after connecting,
	// requesting the L2 book stream for product.
	SubscribeMessage(product string) ([]byte, error)
	// Decode parses one inbound message into book events.
	Decode(raw []byte) (events []types.MarketEvent, ok bool, err error)
}

// Feed manages a single WebSocket connection carrying one security's
// order book updates from one venue.
type Feed struct {
	url     string
	product string
	sec     types.Security
	codec   Codec

	out    chan types.MarketEventBlock
	logger *slog.Logger
}

// New creates a feed for sec, dialing url and decoding with codec.
func New(url, product string, sec types.Security, codec Codec, logger *slog.Logger) *Feed {
	return &Feed{
		url:     url,
		product: product,
		sec:     sec,
		codec:   codec,
		out:     make(chan types.MarketEventBlock, blockBufferSize),
		logger:  logger.With("component", "exchangefeed", "security", sec.String()),
	}
}

// Blocks returns the channel of decoded event blocks for this security.
func (f *Feed) Blocks() <-chan types.MarketEventBlock { return f.out }

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("feed disconnected, reconnecting", "error", err, "backoff", backoff)

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

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	sub, err := f.codec.SubscribeMessage(f.product)
	if err != nil {
		return fmt.Errorf("build subscribe message: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("feed connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		events, ok, err := f.codec.Decode(msg)
		if err != nil {
			f.logger.Error("decode message", "error", err)
			continue
		}
		if !ok {
			continue
		}

		block := types.MarketEventBlock{Security: f.sec, Events: events, ReceivedAt: time.Now()}
		select {
		case f.out <- block:
		default:
			f.logger.Warn("block channel full, dropping update")
		}
	}
}

func (f *Feed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}
