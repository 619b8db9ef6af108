package middlewares

import (
	"net/http"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/stageflow_backend/utils"
	"bitbucket.org/mmdatafocus/stageflow_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	HeaderUserId = "X-User-Id"
	HeaderToken  = "token"
)

// SessionMiddleware resolves the acting user for the request.
// A session token is looked up in Redis under "Token:<token>" and must hold the user id.
// Without a token the X-User-Id header is taken as sent.
func SessionMiddleware(redisDB func() *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		var raw string
		if token := strings.TrimSpace(c.GetHeader(HeaderToken)); token != "" {
			var rdb *redis.Client
			if redisDB != nil {
				rdb = redisDB()
			}
			if rdb == nil {
				abortUnauthenticated(c, "session tokens are not available")
				return
			}
			value, err := rdb.Get(ctx, "Token:"+token).Result()
			if err != nil {
				abortUnauthenticated(c, "unknown session token")
				return
			}
			raw = value
		} else {
			raw = strings.TrimSpace(c.GetHeader(HeaderUserId))
		}
		if raw == "" {
			c.Next()
			return
		}
		userId, err := strconv.Atoi(raw)
		if err != nil || userId <= 0 {
			abortUnauthenticated(c, "invalid user id")
			return
		}
		c.Request = c.Request.WithContext(utils.SetUserIdInContext(ctx, userId))
		c.Next()
	}
}

// RequireActor rejects requests that carry no acting user.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUserIdFromContext(c.Request.Context()); !ok {
			abortUnauthenticated(c, "missing "+HeaderUserId+" header")
			return
		}
		c.Next()
	}
}

func abortUnauthenticated(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, workflow.Result{
		Success:   false,
		ErrorCode: workflow.CodeUnauthorized,
		Message:   msg,
	})
}
