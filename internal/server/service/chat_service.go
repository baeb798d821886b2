// Package service implements the reference backend's chat behaviour on top
// of the hub and store.
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Alicia-74/libroredsocial/internal/domain"
	"github.com/Alicia-74/libroredsocial/internal/server/hub"
	"github.com/Alicia-74/libroredsocial/internal/server/store"
	"github.com/Alicia-74/libroredsocial/pkg/log"
	"github.com/Alicia-74/libroredsocial/pkg/token"
)

// ChatService handles channel frames and REST-triggered chat operations.
type ChatService interface {
	HandleAuth(ctx context.Context, client *hub.Client, tok string) error
	HandleChatMessage(ctx context.Context, client *hub.Client, frame domain.ChatMessageFrame) error
	MarkConversationRead(ctx context.Context, senderID, receiverID string) error
}

type chatService struct {
	hub    *hub.Hub
	store  store.Store
	tokens *token.Manager
}

func New(h *hub.Hub, st store.Store, tokens *token.Manager) ChatService {
	return &chatService{
		hub:    h,
		store:  st,
		tokens: tokens,
	}
}

// HandleAuth validates the credential, binds the connection to its user and
// pushes the initial unread snapshot so a fresh client starts with correct
// badges.
func (s *chatService) HandleAuth(ctx context.Context, client *hub.Client, tok string) error {
	claims, err := s.tokens.Validate(tok)
	if err != nil {
		client.SendFrame(&domain.AuthResultFrame{
			Type:    domain.FrameAuthResult,
			Success: false,
			Message: "invalid credential",
		})
		return fmt.Errorf("channel auth: %w", err)
	}

	userID := claims.SubjectID()
	s.hub.Bind(client, userID)

	if err := client.SendFrame(&domain.AuthResultFrame{
		Type:    domain.FrameAuthResult,
		Success: true,
		UserID:  userID,
	}); err != nil {
		return err
	}

	counts, err := s.store.UnreadCountsBySender(ctx, userID)
	if err != nil {
		log.L().Warn().Err(err).Str(log.FieldUserID, userID).Msg("unread snapshot on connect failed")
		return nil
	}
	return client.SendFrame(&domain.UnreadCountsFrame{
		Type:   domain.FrameUnreadCounts,
		Counts: counts,
	})
}

// HandleChatMessage persists an inbound message and fans out: the full
// message to both participants, a persist receipt to the sender, and a fresh
// unread snapshot to the receiver.
func (s *chatService) HandleChatMessage(ctx context.Context, client *hub.Client, frame domain.ChatMessageFrame) error {
	if !client.Authenticated() {
		return client.SendFrame(domain.NewErrorFrame(domain.ErrCodeUnauthorized, "not authenticated"))
	}
	if frame.ReceiverID == "" || strings.TrimSpace(frame.Content) == "" {
		return client.SendFrame(domain.NewErrorFrame(domain.ErrCodeBadRequest, "receiver and content are required"))
	}

	senderID := client.UserID()
	msg, err := s.store.Append(ctx, domain.Message{
		ClientToken: frame.ClientToken,
		SenderID:    senderID,
		ReceiverID:  frame.ReceiverID,
		Content:     strings.TrimSpace(frame.Content),
	})
	if err != nil {
		log.L().Error().Err(err).Str(log.FieldUserID, senderID).Msg("persist message failed")
		return client.SendFrame(domain.NewErrorFrame(domain.ErrCodeInternalError, "failed to send message"))
	}

	s.hub.SendToUser(senderID, &domain.ReceiptFrame{
		Type:        domain.FrameReceipt,
		ClientToken: msg.ClientToken,
		MessageID:   msg.ID,
		Status:      domain.StatusSent,
		SentAt:      msg.SentAt.UnixMilli(),
	})

	out := &domain.MessageFrame{Type: domain.FrameMessage, Message: msg}
	s.hub.SendToUser(senderID, out)
	s.hub.SendToUser(msg.ReceiverID, out)

	counts, err := s.store.UnreadCountsBySender(ctx, msg.ReceiverID)
	if err != nil {
		log.L().Warn().Err(err).Msg("unread snapshot after message failed")
		return nil
	}
	s.hub.SendToUser(msg.ReceiverID, &domain.UnreadCountsFrame{
		Type:   domain.FrameUnreadCounts,
		Counts: counts,
	})
	return nil
}

// MarkConversationRead flips the stored messages to read and pushes read
// receipts to the original sender so their view updates live.
func (s *chatService) MarkConversationRead(ctx context.Context, senderID, receiverID string) error {
	changed, err := s.store.MarkConversationRead(ctx, senderID, receiverID)
	if err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}

	for _, msg := range changed {
		s.hub.SendToUser(senderID, &domain.ReceiptFrame{
			Type:        domain.FrameReceipt,
			ClientToken: msg.ClientToken,
			MessageID:   msg.ID,
			Status:      domain.StatusRead,
			SentAt:      msg.SentAt.UnixMilli(),
		})
	}
	return nil
}
