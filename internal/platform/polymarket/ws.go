package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmonteroh/polysignal/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// PriceChangeHandler is called for every price update from the feed.
type PriceChangeHandler func(domain.PriceChange)

// MarketFeed streams real-time price updates for subscribed outcome tokens
// from the Polymarket CLOB WebSocket. It manages the connection lifecycle and
// resubscribes after reconnects.
type MarketFeed struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Asset IDs to restore on reconnect.
	assets map[string]struct{}

	handlerMu sync.RWMutex
	handlers  []PriceChangeHandler

	done chan struct{}
}

// NewMarketFeed creates a feed for the given WebSocket endpoint, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewMarketFeed(wsURL string) *MarketFeed {
	return &MarketFeed{
		wsURL:  wsURL,
		assets: make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

// OnPriceChange registers a handler invoked for every price update.
func (f *MarketFeed) OnPriceChange(h PriceChangeHandler) {
	f.handlerMu.Lock()
	defer f.handlerMu.Unlock()
	f.handlers = append(f.handlers, h)
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops. Existing subscriptions are restored.
func (f *MarketFeed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("polymarket/ws: feed closed")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}

	f.conn = conn
	f.conn.SetReadDeadline(time.Now().Add(pongWait))
	f.conn.SetPongHandler(func(string) error {
		f.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go f.readLoop()
	go f.pingLoop()

	if len(f.assets) > 0 {
		if err := f.sendCommand(f.subscribeCommand()); err != nil {
			return fmt.Errorf("polymarket/ws: restore subscriptions: %w", err)
		}
	}
	return nil
}

// Subscribe adds asset IDs to the price_change subscription.
func (f *MarketFeed) Subscribe(assetIDs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range assetIDs {
		f.assets[id] = struct{}{}
	}
	if f.conn == nil {
		return nil // sent on Connect
	}
	return f.sendCommand(f.subscribeCommand())
}

// Unsubscribe removes asset IDs from the subscription.
func (f *MarketFeed) Unsubscribe(assetIDs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range assetIDs {
		delete(f.assets, id)
	}
	if f.conn == nil {
		return nil
	}
	return f.sendCommand(WSCommand{
		Type:    "unsubscribe",
		Channel: "price_change",
		Assets:  assetIDs,
	})
}

// Close shuts down the connection and stops the loops.
func (f *MarketFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	close(f.done)

	if f.conn != nil {
		_ = f.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return f.conn.Close()
	}
	return nil
}

// subscribeCommand builds the subscribe command for all tracked assets.
// Caller must hold f.mu.
func (f *MarketFeed) subscribeCommand() WSCommand {
	ids := make([]string, 0, len(f.assets))
	for id := range f.assets {
		ids = append(ids, id)
	}
	return WSCommand{Type: "subscribe", Channel: "price_change", Assets: ids}
}

// sendCommand sends a JSON command. Caller must hold f.mu.
func (f *MarketFeed) sendCommand(cmd WSCommand) error {
	f.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return f.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads messages and dispatches price changes. On disconnect it
// reconnects with exponential backoff.
func (f *MarketFeed) readLoop() {
	for {
		select {
		case <-f.done:
			return
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
				return
			default:
			}
			f.reconnect()
			return // readLoop restarts via reconnect -> Connect
		}

		f.handleMessage(message)
	}
}

// pingLoop keeps the connection alive.
func (f *MarketFeed) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.mu.RLock()
			conn := f.conn
			f.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a frame and dispatches price changes. Frames arrive
// either as a single object or as an array of events.
func (f *MarketFeed) handleMessage(raw []byte) {
	var batch []json.RawMessage
	if err := json.Unmarshal(raw, &batch); err != nil {
		batch = []json.RawMessage{raw}
	}

	for _, item := range batch {
		var pc PriceChangeMessage
		if err := json.Unmarshal(item, &pc); err != nil {
			continue
		}
		if pc.EventType != "price_change" || pc.AssetID == "" {
			continue
		}

		change := pc.ToDomain()

		f.handlerMu.RLock()
		handlers := f.handlers
		f.handlerMu.RUnlock()

		for _, h := range handlers {
			h(change)
		}
	}
}

// reconnect re-establishes the connection with exponential backoff. It blocks
// until successful or the feed is closed.
func (f *MarketFeed) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-f.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := f.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
