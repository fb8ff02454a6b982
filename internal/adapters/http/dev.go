package http

import (
	"net/http"

	"github.com/dkeye/Tasting/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Fixture routes. Registered only with dev.fixtures enabled.

type devLoginRequest struct {
	UserID      domain.UserID `json:"userId" validate:"required,max=64"`
	DisplayName string        `json:"displayName" validate:"max=64"`
	Avatar      string        `json:"avatar" validate:"max=512"`
}

func (h *handlers) devLogin(c *gin.Context) {
	var req devLoginRequest
	if !h.bind(c, &req) {
		return
	}
	user, err := domain.NewUser(req.UserID, req.DisplayName, req.Avatar)
	if err != nil {
		writeError(c, domain.Validation("invalid_user", err.Error()))
		return
	}
	if err := SetIdentity(c, *user); err != nil {
		writeError(c, domain.Persistence("Could not save session cookie", err))
		return
	}
	log.Info().Str("module", "adapters.http").Str("user", string(user.ID)).Msg("fixture login")
	c.JSON(http.StatusOK, user)
}

type seedRequest struct {
	Author   domain.User `json:"author" validate:"required"`
	Messages []struct {
		Content string `json:"content" validate:"required"`
		Phase   string `json:"phase" validate:"max=32"`
	} `json:"messages" validate:"required,min=1,max=100,dive"`
}

// devSeed injects a synthetic conversation through the normal
// persist-then-broadcast path.
func (h *handlers) devSeed(c *gin.Context) {
	var req seedRequest
	if !h.bind(c, &req) {
		return
	}
	if req.Author.ID == "" {
		writeError(c, domain.Validation("invalid_user", "author.id is required"))
		return
	}
	sid := sessionID(c)
	ids := make([]domain.MessageID, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg, err := h.Orch.InjectMessage(c.Request.Context(), sid, req.Author, m.Content, m.Phase)
		if err != nil {
			writeError(c, err)
			return
		}
		ids = append(ids, msg.ID)
	}
	log.Info().Str("module", "adapters.http").Str("session", string(sid)).Int("messages", len(ids)).Str("by", string(CurrentUser(c).ID)).Msg("fixture seed")
	c.JSON(http.StatusCreated, gin.H{"messageIds": ids})
}
