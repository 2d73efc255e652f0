// Package ws is the transport boundary: it upgrades connections,
// assigns handles, enforces payload and rate limits, and dispatches
// inbound events into the broker. No pairing logic lives here.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mingle/internal/broker"
	"github.com/dkeye/Mingle/internal/config"
	"github.com/dkeye/Mingle/internal/domain"
	"github.com/dkeye/Mingle/internal/hub"
)

// Inbound event names, part of the client protocol.
const (
	eventStart      = "start"
	eventNewMessage = "newMessageToServer"
	eventTyping     = "typing"
	eventDoneTyping = "doneTyping"
	eventStop       = "stop"
)

type Controller struct {
	broker   *broker.Broker
	hub      *hub.Hub
	cfg      *config.Config
	limiter  *RateLimiter
	upgrader websocket.Upgrader
}

func NewController(b *broker.Broker, h *hub.Hub, cfg *config.Config) *Controller {
	return &Controller{
		broker:  b,
		hub:     h,
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.MsgRateLimit, cfg.MsgRateInterval),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == cfg.FrontendURL
			},
		},
	}
}

// HandleWS upgrades the request, mints a fresh handle for the
// connection and runs its pumps. Handles are never reused: a
// reconnect is a brand-new participant.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	socket, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("upgrade")
		return
	}
	socket.SetReadLimit(ctl.cfg.ReadLimit)

	handle := domain.Handle(uuid.NewString())
	conn := &wsConn{
		conn: socket,
		send: make(chan []byte, ctl.cfg.SendBuffer),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.hub.Bind(handle, conn, cancel)

	if err := ctl.broker.Connect(ctx, handle); err != nil {
		log.Error().Err(err).Str("module", "ws").Str("handle", string(handle)).Msg("connect")
		ctl.hub.Unbind(handle)
		cancel()
		conn.Close()
		return
	}

	log.Info().Str("module", "ws").Str("handle", string(handle)).Msg("new connection")
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, handle, conn)
}

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ping := time.NewTicker(ctl.cfg.PingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, handle domain.Handle, c *wsConn) {
	defer ctl.teardown(ctx, handle, c)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "ws").Str("handle", string(handle)).Msg("read closed")
				return
			}
			ctl.handleEvent(ctx, handle, data)
		}
	}
}

// teardown runs the disconnecting/disconnect sequence: peer notices
// first, then record removal, then the count broadcast. It uses a
// detached context because the connection's own context is already
// canceled when the reaper forced the close.
func (ctl *Controller) teardown(ctx context.Context, handle domain.Handle, c *wsConn) {
	dctx := context.WithoutCancel(ctx)
	if err := ctl.broker.Disconnect(dctx, handle); err != nil {
		log.Error().Err(err).Str("module", "ws").Str("handle", string(handle)).Msg("disconnect")
	}
	ctl.hub.Unbind(handle)
	ctl.limiter.Forget(handle)
	c.Close()
	if err := ctl.broker.BroadcastCount(dctx); err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("broadcast count")
	}
}

func (ctl *Controller) handleEvent(ctx context.Context, handle domain.Handle, data []byte) {
	var env struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("handle", string(handle)).Msg("bad json")
		return
	}

	var err error
	switch env.Type {
	case eventStart:
		if err = ctl.broker.StartSearch(ctx, handle); err == nil {
			err = ctl.broker.TryMatch(ctx, handle)
		}
	case eventNewMessage:
		if !ctl.limiter.Allow(handle) {
			log.Warn().Str("module", "ws").Str("handle", string(handle)).Msg("rate limited")
			return
		}
		err = ctl.broker.Relay(ctx, handle, broker.RelayMessage, env.Text)
	case eventTyping:
		err = ctl.broker.Relay(ctx, handle, broker.RelayTyping, env.Text)
	case eventDoneTyping:
		err = ctl.broker.Relay(ctx, handle, broker.RelayDoneTyping, "")
	case eventStop:
		err = ctl.broker.Stop(ctx, handle)
	default:
		log.Warn().Str("module", "ws").Str("type", env.Type).Msg("unknown event")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "ws").
			Str("handle", string(handle)).Str("type", env.Type).Msg("event failed")
	}
}
