package auth

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"LIBRA-backend/internal/platform/apierr"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	CtxUserIDKey = "user_id"
	CtxRoleKey   = "role"
)

// Principal はトークンから取り出した呼び出し元。
type Principal struct {
	UserID int64
	Role   string
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// AccountLookup はリクエストごとにアカウントの現状を引く。*Store が実装する。
type AccountLookup interface {
	GetByID(ctx context.Context, id int64) (*Account, error)
}

// RequireAuth: Authorization: Bearer <token> を検証して context に sub/role を詰める。
// role と利用停止はトークンではなく users 行の現在値で判定する。
func RequireAuth(secret []byte, accounts AccountLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}

		scheme, tokenStr, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tokenStr) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header"})
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(strings.TrimSpace(tokenStr), claims, func(t *jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		sub, err := claims.GetSubject()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid sub"})
			return
		}
		userID, err := strconv.ParseInt(sub, 10, 64)
		if err != nil || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid sub"})
			return
		}

		acct, err := accounts.GetByID(c.Request.Context(), userID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, apierr.Body(err))
			return
		}
		if acct == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown account"})
			return
		}
		if acct.Status != StatusActive {
			c.AbortWithStatusJSON(http.StatusForbidden, apierr.Body(ErrAccountDisabled))
			return
		}

		c.Set(CtxUserIDKey, userID)
		c.Set(CtxRoleKey, acct.Role())
		c.Next()
	}
}

// RequireRole: 例) admin のみ許可したい時に追加
func RequireRole(roles ...string) gin.HandlerFunc {
	roleSet := make(map[string]struct{})
	for _, r := range roles {
		if r != "" {
			roleSet[r] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		role := c.GetString(CtxRoleKey)
		if role == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing role"})
			return
		}
		if _, allowed := roleSet[role]; !allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// CurrentUser は RequireAuth が詰めた値を取り出す。
func CurrentUser(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(CtxUserIDKey)
	if !ok {
		return Principal{}, false
	}
	id, ok := v.(int64)
	if !ok {
		return Principal{}, false
	}
	return Principal{UserID: id, Role: c.GetString(CtxRoleKey)}, true
}
