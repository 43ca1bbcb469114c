package middleware

import (
	"net/http"
	"strings"

	"devlog-server/internal/backend"

	"github.com/gin-gonic/gin"
)

// UserIDHeader - заголовок с ID пользователя, который выставляет внешний шлюз.
const UserIDHeader = "X-User-ID"

// Ключ контекста gin
const userIDKey = "user_id"

// RequireUser извлекает ID пользователя из заголовка и кладет его в контекст.
// Запросы без идентификатора отклоняются с 401. ID также прикрепляется к
// context запроса, чтобы вызовы бэкенда шли от имени пользователя.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"code": "unauthorized", "message": "missing " + UserIDHeader + " header"},
			})
			return
		}
		c.Set(userIDKey, userID)
		c.Request = c.Request.WithContext(backend.WithUser(c.Request.Context(), userID))
		c.Next()
	}
}

// GetUserID извлекает ID пользователя из контекста
func GetUserID(c *gin.Context) (string, bool) {
	userID := c.GetString(userIDKey)
	return userID, userID != ""
}
