// Package handler exposes the reference backend over HTTP and WebSocket.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Alicia-74/libroredsocial/internal/config"
	"github.com/Alicia-74/libroredsocial/internal/domain"
	"github.com/Alicia-74/libroredsocial/internal/server/hub"
	"github.com/Alicia-74/libroredsocial/internal/server/service"
	"github.com/Alicia-74/libroredsocial/pkg/log"
)

// WSHandler upgrades /chat/ws requests and routes inbound frames to the
// chat service.
type WSHandler struct {
	hub      *hub.Hub
	service  service.ChatService
	cfg      config.ChannelConfig
	upgrader websocket.Upgrader
}

func NewWSHandler(h *hub.Hub, svc service.ChatService, cfg config.ChannelConfig) *WSHandler {
	return &WSHandler{
		hub:     h,
		service: svc,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients authenticate with the auth frame, not cookies.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.L().Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.NewString(), h.hub, conn, h.cfg)
	h.hub.Register(client)

	go client.WritePump()
	client.ReadPump(h.handleMessage)
}

func (h *WSHandler) handleMessage(client *hub.Client, data []byte) {
	var base domain.BaseFrame
	if err := json.Unmarshal(data, &base); err != nil {
		client.SendFrame(domain.NewErrorFrame(domain.ErrCodeBadRequest, "malformed frame"))
		return
	}

	ctx := context.Background()

	switch base.Type {
	case domain.FrameAuth:
		var frame domain.AuthFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			client.SendFrame(domain.NewErrorFrame(domain.ErrCodeBadRequest, "malformed auth frame"))
			return
		}
		if err := h.service.HandleAuth(ctx, client, frame.Token); err != nil {
			log.L().Debug().Err(err).Str("conn_id", client.ID).Msg("channel auth rejected")
		}

	case domain.FrameChatMessage:
		var frame domain.ChatMessageFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			client.SendFrame(domain.NewErrorFrame(domain.ErrCodeBadRequest, "malformed chat frame"))
			return
		}
		if err := h.service.HandleChatMessage(ctx, client, frame); err != nil {
			log.L().Warn().Err(err).Str("conn_id", client.ID).Msg("chat message handling failed")
		}

	case domain.FramePing:
		client.SendFrame(domain.BaseFrame{Type: domain.FramePong})

	default:
		client.SendFrame(domain.NewErrorFrame(domain.ErrCodeBadRequest, "unknown frame type: "+base.Type))
	}
}
