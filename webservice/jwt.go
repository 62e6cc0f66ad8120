package webservice

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuer = "mirrorcore"
	authCookie  = "auth_token"
)

type CustomClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func (wm *WebMaster) tokenTTL() time.Duration {
	if wm.cfg.HTTP.TokenTTL > 0 {
		return wm.cfg.HTTP.TokenTTL
	}
	return 2 * time.Hour
}

func (wm *WebMaster) GenerateToken() (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		Role: "viewer",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(wm.tokenTTL())),
			Issuer:    tokenIssuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(wm.jwtSecret)
}

// HybridAuthMiddleware takes the token from the cookie first, then from an
// Authorization header. Browsers asking for a page are sent to /unlock.
func (wm *WebMaster) HybridAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, _ := c.Cookie(authCookie)
		if tokenString == "" {
			authHeader := c.GetHeader("Authorization")
			if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
				tokenString = authHeader[7:]
			}
		}
		if tokenString == "" {
			// browsers cannot set headers on a WebSocket upgrade
			tokenString = c.Query("token")
		}

		if tokenString == "" || !wm.validateToken(tokenString) {
			if strings.Contains(c.GetHeader("Accept"), "text/html") {
				c.Redirect(http.StatusFound, "/unlock")
				c.Abort()
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			}
			return
		}
		c.Next()
	}
}

func (wm *WebMaster) validateToken(tokenString string) bool {
	claims := &CustomClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return wm.jwtSecret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		wm.log.Debug().Err(err).Msg("token rejected")
		return false
	}
	return true
}
