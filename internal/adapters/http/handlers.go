package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/Tasting/internal/app"
	"github.com/dkeye/Tasting/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": "Something went wrong", "code": "internal"}
	var de *domain.Error
	if errors.As(err, &de) {
		body = gin.H{"error": de.Message, "code": de.Code}
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
	} else {
		log.Debug().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request rejected")
	}
	c.AbortWithStatusJSON(status, body)
}

// bind decodes and validates a JSON body.
func (h *handlers) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, domain.Validation("bad_payload", "Malformed payload"))
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeError(c, domain.Validation("invalid_payload", err.Error()))
		return false
	}
	return true
}

func sessionID(c *gin.Context) domain.SessionID {
	return domain.SessionID(c.Param("id"))
}

func (h *handlers) me(c *gin.Context) {
	c.JSON(http.StatusOK, CurrentUser(c))
}

func (h *handlers) createSession(c *gin.Context) {
	var req app.CreateRequest
	if !h.bind(c, &req) {
		return
	}
	s, err := h.Lifecycle.Create(c.Request.Context(), CurrentUser(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *handlers) getSession(c *gin.Context) {
	s, err := h.Lifecycle.Get(c.Request.Context(), sessionID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *handlers) presence(c *gin.Context) {
	s, err := h.Lifecycle.Get(c.Request.Context(), sessionID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	users := h.Orch.ActiveUsers(s)
	c.JSON(http.StatusOK, gin.H{"sessionId": s.ID, "users": users, "count": len(users)})
}

type hostMutation func(c *gin.Context) (*domain.Session, error)

func (h *handlers) respond(c *gin.Context, fn hostMutation) {
	s, err := fn(c)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *handlers) endSession(c *gin.Context) {
	h.respond(c, func(c *gin.Context) (*domain.Session, error) {
		return h.Lifecycle.End(c.Request.Context(), sessionID(c), CurrentUser(c).ID)
	})
}

func (h *handlers) archiveSession(c *gin.Context) {
	h.respond(c, func(c *gin.Context) (*domain.Session, error) {
		return h.Lifecycle.Archive(c.Request.Context(), sessionID(c), CurrentUser(c).ID)
	})
}

func (h *handlers) unarchiveSession(c *gin.Context) {
	h.respond(c, func(c *gin.Context) (*domain.Session, error) {
		return h.Lifecycle.Unarchive(c.Request.Context(), sessionID(c), CurrentUser(c).ID)
	})
}

type transferRequest struct {
	UserID domain.UserID `json:"userId" validate:"required,max=64"`
}

func (h *handlers) transferHost(c *gin.Context) {
	var req transferRequest
	if !h.bind(c, &req) {
		return
	}
	h.respond(c, func(c *gin.Context) (*domain.Session, error) {
		return h.Lifecycle.TransferHost(c.Request.Context(), sessionID(c), CurrentUser(c).ID, req.UserID)
	})
}

type livestreamRequest struct {
	URL string `json:"url" validate:"omitempty,url,max=500"`
}

func (h *handlers) updateLivestream(c *gin.Context) {
	var req livestreamRequest
	if !h.bind(c, &req) {
		return
	}
	h.respond(c, func(c *gin.Context) (*domain.Session, error) {
		return h.Lifecycle.UpdateLivestream(c.Request.Context(), sessionID(c), CurrentUser(c).ID, req.URL)
	})
}

type tagsRequest struct {
	Tags []string `json:"tags" validate:"max=10,dive,required,max=32"`
}

func (h *handlers) updateTags(c *gin.Context) {
	var req tagsRequest
	if !h.bind(c, &req) {
		return
	}
	h.respond(c, func(c *gin.Context) (*domain.Session, error) {
		return h.Lifecycle.UpdateTags(c.Request.Context(), sessionID(c), CurrentUser(c).ID, req.Tags)
	})
}

func (h *handlers) setAutoModerator(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := domain.UserID(c.Param("userId"))
		if err := h.Lifecycle.SetAutoModerator(c.Request.Context(), CurrentUser(c).ID, uid, enabled); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"userId": uid, "autoModerator": enabled})
	}
}
