package events

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TangoRomeo80/chatty/pkg/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Gateway upgrades HTTP connections to websockets and forwards every bus
// event to each connected client.
type Gateway struct {
	bus      *Bus
	logger   log.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewGateway creates a Gateway over bus.
func NewGateway(bus *Bus, logger log.Logger) *Gateway {
	return &Gateway{
		bus:    bus,
		logger: logger.WithComponent("gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Browser clients connect from a separate origin; access control
			// lives at the auth layer, which is outside this process.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and streams bus events until the client
// disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("upgrade failed", log.Err(err))
		return
	}
	g.track(conn)
	sub := g.bus.Subscribe(256)

	go g.writePump(conn, sub)
	go g.readPump(conn, sub)
}

func (g *Gateway) track(conn *websocket.Conn) {
	g.mu.Lock()
	g.conns[conn] = struct{}{}
	g.mu.Unlock()
}

func (g *Gateway) drop(conn *websocket.Conn, sub *Subscription) {
	sub.Cancel()
	g.mu.Lock()
	delete(g.conns, conn)
	g.mu.Unlock()
	_ = conn.Close()
}

// writePump forwards bus events and keeps the connection alive with pings.
func (g *Gateway) writePump(conn *websocket.Conn, sub *Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		g.drop(conn, sub)
	}()
	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes client frames so pings/pongs and close frames are
// processed; clients never send application data on this socket.
func (g *Gateway) readPump(conn *websocket.Conn, sub *Subscription) {
	defer g.drop(conn, sub)
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Close shuts every client connection.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for conn := range g.conns {
		_ = conn.Close()
	}
	g.conns = make(map[*websocket.Conn]struct{})
}
