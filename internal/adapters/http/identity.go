package http

import (
	"net/http"

	"github.com/dkeye/Tasting/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// Cookie session keys written by the login flow.
const (
	keyUserID      = "user_id"
	keyDisplayName = "display_name"
	keyAvatar      = "avatar"

	ctxUser = "user"
)

// RequireIdentity resolves the signed session cookie into a domain.User.
// Requests without one are refused before reaching any handler.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		id, _ := s.Get(keyUserID).(string)
		name, _ := s.Get(keyDisplayName).(string)
		avatar, _ := s.Get(keyAvatar).(string)

		user, err := domain.NewUser(domain.UserID(id), name, avatar)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		c.Set(ctxUser, *user)
		c.Next()
	}
}

func CurrentUser(c *gin.Context) domain.User {
	u, _ := c.MustGet(ctxUser).(domain.User)
	return u
}

// SetIdentity stores user in the session cookie.
func SetIdentity(c *gin.Context, user domain.User) error {
	s := sessions.Default(c)
	s.Set(keyUserID, string(user.ID))
	s.Set(keyDisplayName, user.DisplayName)
	s.Set(keyAvatar, user.Avatar)
	return s.Save()
}
