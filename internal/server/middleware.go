package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/agentmarket/internal/callerctx"
)

const (
	HeaderCaller     = "X-Caller-Address"
	contextCallerKey = "caller"
)

// CallerContext copies the calling address into the request context.
// Authentication happens upstream; the header is taken as given.
// Operations that need a caller reject requests without one.
func CallerContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		address := strings.TrimSpace(c.GetHeader(HeaderCaller))
		if address != "" {
			ctx := callerctx.WithCaller(c.Request.Context(), address)
			c.Request = c.Request.WithContext(ctx)
			c.Set(contextCallerKey, callerctx.Normalize(address))
		}
		c.Next()
	}
}
