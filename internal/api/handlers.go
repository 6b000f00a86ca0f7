package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"portfoliochat/internal/history"
	"portfoliochat/internal/proxy"
	"portfoliochat/internal/service/conversation"
)

// Handler wires the JSON routes to the conversation manager and the chat proxy.
type Handler struct {
	conv    *conversation.Manager
	proxy   *proxy.Forwarder
	limiter gin.HandlerFunc
}

// NewHandler constructs a Handler. limiter may be nil.
func NewHandler(conv *conversation.Manager, fwd *proxy.Forwarder, limiter gin.HandlerFunc) *Handler {
	return &Handler{conv: conv, proxy: fwd, limiter: limiter}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)

	api := router.Group("/api")
	if h.proxy != nil {
		chat := []gin.HandlerFunc{h.proxy.Handle}
		if h.limiter != nil {
			chat = append([]gin.HandlerFunc{h.limiter}, chat...)
		}
		api.POST("/chat", chat...)
	}
	api.GET("/conversation", h.getConversation)
	api.POST("/conversation/messages", h.submitMessage)
	api.POST("/conversation/new", h.newConversation)
	api.GET("/history", h.listHistory)
	api.DELETE("/history", h.clearHistory)
	api.GET("/history/:id", h.getChat)
	api.POST("/history/:id/select", h.selectChat)
	api.DELETE("/history/:id", h.deleteChat)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) getConversation(c *gin.Context) {
	c.JSON(http.StatusOK, h.conv.Snapshot())
}

type messageRequest struct {
	Text *string `json:"text"`
}

func (h *Handler) submitMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	msg, ok := h.conv.Submit(*req.Text)
	if !ok {
		c.JSON(http.StatusOK, h.conv.Snapshot())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message":  msg,
		"snapshot": h.conv.Snapshot(),
	})
}

func (h *Handler) newConversation(c *gin.Context) {
	h.conv.NewSession()
	c.JSON(http.StatusOK, h.conv.Snapshot())
}

func (h *Handler) listHistory(c *gin.Context) {
	term := strings.TrimSpace(c.Query("q"))
	entries := history.Entries(h.conv.History(), term, h.conv.Snapshot().ActiveID)
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

func (h *Handler) getChat(c *gin.Context) {
	chat, err := h.conv.Chat(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *Handler) selectChat(c *gin.Context) {
	if err := h.conv.Select(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.conv.Snapshot())
}

func (h *Handler) deleteChat(c *gin.Context) {
	if err := h.conv.Delete(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) clearHistory(c *gin.Context) {
	if err := h.conv.ClearAll(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeError(c *gin.Context, err error) {
	if errors.Is(err, conversation.ErrChatNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
