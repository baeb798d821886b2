package handler

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Alicia-74/libroredsocial/internal/domain"
	"github.com/Alicia-74/libroredsocial/internal/server/service"
	"github.com/Alicia-74/libroredsocial/internal/server/store"
	"github.com/Alicia-74/libroredsocial/pkg/log"
	"github.com/Alicia-74/libroredsocial/pkg/response"
	"github.com/Alicia-74/libroredsocial/pkg/token"
)

// HTTPHandler serves the REST surface under /api/v1.
type HTTPHandler struct {
	store   store.Store
	service service.ChatService
	tokens  *token.Manager
}

func NewHTTPHandler(st store.Store, svc service.ChatService, tokens *token.Manager) *HTTPHandler {
	return &HTTPHandler{
		store:   st,
		service: svc,
		tokens:  tokens,
	}
}

// RegisterRoutes wires the REST endpoints onto the engine. Token issuance is
// public; everything else requires a bearer credential.
func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	v1 := r.Group("/api/v1")
	v1.POST("/auth/token", h.IssueToken)

	authed := v1.Group("")
	authed.Use(AuthMiddleware(h.tokens))
	{
		authed.GET("/users/:user_id/following", h.Following)
		authed.GET("/users/:user_id/followers", h.Followers)
		authed.POST("/users/:user_id/follow", h.Follow)
		authed.POST("/users/:user_id/unfollow", h.Unfollow)
		authed.GET("/messages/conversation/:user_a/:user_b", h.Conversation)
		authed.GET("/messages/unread-counts/:user_id", h.UnreadCounts)
		authed.POST("/messages/mark-as-read", h.MarkAsRead)
	}
}

type issueTokenRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	Username  string `json:"username" binding:"required"`
	AvatarURL string `json:"avatar_url"`
}

type issueTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	UserID    string `json:"user_id"`
}

// IssueToken registers the user profile and returns a signed credential.
// This stands in for the real identity provider during development.
func (h *HTTPHandler) IssueToken(c *gin.Context) {
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "user_id and username are required")
		return
	}

	if err := h.store.PutUser(c.Request.Context(), domain.Peer{
		ID:        req.UserID,
		Username:  req.Username,
		AvatarURL: req.AvatarURL,
	}); err != nil {
		log.L().Error().Err(err).Msg("store user failed")
		response.InternalError(c, "failed to register user")
		return
	}

	tok, exp, err := h.tokens.Generate(req.UserID, req.Username)
	if err != nil {
		log.L().Error().Err(err).Msg("token generation failed")
		response.InternalError(c, "failed to issue token")
		return
	}

	response.Created(c, issueTokenResponse{
		Token:     tok,
		ExpiresAt: exp,
		UserID:    req.UserID,
	})
}

func (h *HTTPHandler) Following(c *gin.Context) {
	userID := c.Param("user_id")
	ids, err := h.store.Following(c.Request.Context(), userID)
	if err != nil {
		log.L().Error().Err(err).Str(log.FieldUserID, userID).Msg("list following failed")
		response.InternalError(c, "failed to list following")
		return
	}
	response.Success(c, h.resolvePeers(c, ids))
}

func (h *HTTPHandler) Followers(c *gin.Context) {
	userID := c.Param("user_id")
	ids, err := h.store.Followers(c.Request.Context(), userID)
	if err != nil {
		log.L().Error().Err(err).Str(log.FieldUserID, userID).Msg("list followers failed")
		response.InternalError(c, "failed to list followers")
		return
	}
	response.Success(c, h.resolvePeers(c, ids))
}

// resolvePeers looks up stored profiles for a list of user ids. Unknown ids
// still come back as bare peers so follow edges never vanish from the list.
func (h *HTTPHandler) resolvePeers(c *gin.Context, ids []string) []domain.Peer {
	peers := make([]domain.Peer, 0, len(ids))
	for _, id := range ids {
		peer, err := h.store.GetUser(c.Request.Context(), id)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				log.L().Warn().Err(err).Str(log.FieldUserID, id).Msg("resolve peer failed")
			}
			peer = domain.Peer{ID: id}
		}
		peers = append(peers, peer)
	}
	return peers
}

type followRequest struct {
	FolloweeID string `json:"followee_id" binding:"required"`
}

func (h *HTTPHandler) Follow(c *gin.Context) {
	userID := c.Param("user_id")
	if callerID(c) != userID {
		response.Forbidden(c, "cannot modify another user's follow list")
		return
	}

	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "followee_id is required")
		return
	}
	if req.FolloweeID == userID {
		response.BadRequest(c, "cannot follow yourself")
		return
	}

	if err := h.store.Follow(c.Request.Context(), userID, req.FolloweeID); err != nil {
		log.L().Error().Err(err).Msg("follow failed")
		response.InternalError(c, "failed to follow user")
		return
	}
	response.Success(c, gin.H{"following": req.FolloweeID})
}

func (h *HTTPHandler) Unfollow(c *gin.Context) {
	userID := c.Param("user_id")
	if callerID(c) != userID {
		response.Forbidden(c, "cannot modify another user's follow list")
		return
	}

	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "followee_id is required")
		return
	}

	if err := h.store.Unfollow(c.Request.Context(), userID, req.FolloweeID); err != nil {
		log.L().Error().Err(err).Msg("unfollow failed")
		response.InternalError(c, "failed to unfollow user")
		return
	}
	response.Success(c, gin.H{"unfollowed": req.FolloweeID})
}

func (h *HTTPHandler) Conversation(c *gin.Context) {
	userA := c.Param("user_a")
	userB := c.Param("user_b")
	caller := callerID(c)
	if caller != userA && caller != userB {
		response.Forbidden(c, "not a participant of this conversation")
		return
	}

	msgs, err := h.store.Conversation(c.Request.Context(), userA, userB)
	if err != nil {
		log.L().Error().Err(err).Msg("load conversation failed")
		response.InternalError(c, "failed to load conversation")
		return
	}
	response.Success(c, msgs)
}

func (h *HTTPHandler) UnreadCounts(c *gin.Context) {
	userID := c.Param("user_id")
	if callerID(c) != userID {
		response.Forbidden(c, "cannot read another user's unread counters")
		return
	}

	counts, err := h.store.UnreadCountsBySender(c.Request.Context(), userID)
	if err != nil {
		log.L().Error().Err(err).Str(log.FieldUserID, userID).Msg("load unread counts failed")
		response.InternalError(c, "failed to load unread counts")
		return
	}
	response.Success(c, counts)
}

type markAsReadRequest struct {
	SenderID   string `json:"sender_id" binding:"required"`
	ReceiverID string `json:"receiver_id" binding:"required"`
}

// MarkAsRead flips the sender's messages to the caller as read. Only the
// receiver of those messages may call it.
func (h *HTTPHandler) MarkAsRead(c *gin.Context) {
	var req markAsReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "sender_id and receiver_id are required")
		return
	}
	if callerID(c) != req.ReceiverID {
		response.Forbidden(c, "only the receiver may mark a conversation read")
		return
	}
	if strings.TrimSpace(req.SenderID) == "" {
		response.BadRequest(c, "sender_id is required")
		return
	}

	if err := h.service.MarkConversationRead(c.Request.Context(), req.SenderID, req.ReceiverID); err != nil {
		log.L().Error().Err(err).Msg("mark as read failed")
		response.InternalError(c, "failed to mark conversation as read")
		return
	}
	response.Success(c, gin.H{"marked": true})
}
