package requestid

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	Header = "X-Request-ID"
	ctxKey = "request_id"
)

// Middleware は受信した X-Request-ID を引き継ぎ、無ければ採番する。
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(Header)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(ctxKey, id)
		c.Header(Header, id)
		c.Next()
	}
}

func FromContext(c *gin.Context) string {
	return c.GetString(ctxKey)
}
