/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// Messages coming from the page
type ClientMessage struct {
	Type        string `json:"type"`                   // "create", "join", "accept", "reject", "retry", "back"
	PlayerID    string `json:"player_id,omitempty"`    // create
	Scenario    int    `json:"scenario,omitempty"`     // create
	GameID      string `json:"game_id,omitempty"`      // join
	PersonIndex *int   `json:"person_index,omitempty"` // accept / reject
}

// ViewMessage carries the full view; the page redraws from it alone.
type ViewMessage struct {
	Type string `json:"type"` // "view"
	View
}

// NoticeMessage is sent to a single page when its input was refused.
type NoticeMessage struct {
	Type    string `json:"type"` // "notice"
	Message string `json:"message"`
}

type Client struct {
	conn *websocket.Conn
	send chan any
}

type notice struct {
	client *Client
	msg    NoticeMessage
}

// Hub fans views out to every open page and hands page input to the controller.
type Hub struct {
	ctrl   *Controller
	logger *zap.Logger

	clients  map[*Client]bool
	register chan *Client
	unreg    chan *Client
	notices  chan notice
}

func newHub(ctrl *Controller, logger *zap.Logger) *Hub {
	return &Hub{
		ctrl:     ctrl,
		logger:   logger.Named("hub"),
		clients:  make(map[*Client]bool),
		register: make(chan *Client),
		unreg:    make(chan *Client),
		notices:  make(chan notice, 16),
	}
}

func (h *Hub) run(ctx context.Context) {
	views, unsubscribe := h.ctrl.Subscribe()
	defer unsubscribe()

	last := <-views

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.clients[c] = true
			h.deliver(c, ViewMessage{Type: "view", View: last})

		case c := <-h.unreg:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}

		case n := <-h.notices:
			if h.clients[n.client] {
				h.deliver(n.client, n.msg)
			}

		case v := <-views:
			last = v
			msg := ViewMessage{Type: "view", View: v}
			for c := range h.clients {
				h.deliver(c, msg)
			}
		}
	}
}

// deliver drops clients that cannot keep up.
func (h *Hub) deliver(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		h.logger.Debug("Dropping slow client")
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

// dispatch runs one page input. Each input gets its own goroutine so that a
// double click reaches the sequencer's guard instead of queueing behind the
// first call.
func (h *Hub) dispatch(ctx context.Context, c *Client, msg ClientMessage) {
	var err error

	switch msg.Type {
	case "create":
		err = h.ctrl.CreateGame(ctx, msg.PlayerID, msg.Scenario)
	case "join":
		err = h.ctrl.JoinGame(ctx, msg.GameID)
	case "accept", "reject":
		if msg.PersonIndex == nil {
			err = ErrStaleOffer
			break
		}
		err = h.ctrl.Decide(*msg.PersonIndex, msg.Type == "accept")
	case "retry":
		err = h.ctrl.Retry()
	case "back":
		err = h.ctrl.Back()
	default:
		return
	}

	if err == nil || !isRefusal(err) {
		return
	}

	h.logger.Debug("Refused page input", zap.String("type", msg.Type), zap.Error(err))

	select {
	case h.notices <- notice{client: c, msg: NoticeMessage{Type: "notice", Message: err.Error()}}:
	case <-ctx.Done():
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func serveWS(ctx context.Context, hub *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn("Websocket upgrade failed", zap.String("ip", realIP(r)), zap.Error(err))
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 8),
		}

		select {
		case hub.register <- client:
		case <-ctx.Done():
			_ = conn.Close()
			return
		}

		hub.logger.Debug("Page connected", zap.String("ip", realIP(r)))

		go client.writePump()
		client.readPump(ctx, hub)
	}
}

func (c *Client) readPump(ctx context.Context, h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-ctx.Done():
		}
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				h.logger.Debug("Websocket read failed", zap.Error(err))
			}
			return
		}

		go h.dispatch(ctx, c, msg)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// serveQR renders a PNG QR code linking to the join screen for the active game.
func serveQR(cfg *Config, ctrl *Controller) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		v := ctrl.View()
		if v.Session == nil {
			http.Error(w, "no game in progress", http.StatusNotFound)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		path := strings.TrimSuffix(r.URL.Path, "/qr")
		link := scheme + "://" + r.Host + path + "/?game=" + url.QueryEscape(v.Session.GameID)

		const qrSize = 320
		png, err := qrcode.Encode(link, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}
