package webserver

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/daovote/govdash/src/scheduler"
	"github.com/gin-gonic/gin"
)

type Cron struct {
	pipeline *scheduler.Pipeline
	secret   string
}

func NewCron(pipeline *scheduler.Pipeline, secret string) Cron {
	return Cron{pipeline: pipeline, secret: secret}
}

// Trigger runs the full sync → check-new → send-welcome pipeline in-process.
// It is meant to be hit by an external cron and requires the shared secret.
func (h Cron) Trigger(c *gin.Context) {
	bearer := c.GetHeader("Authorization")
	if !strings.HasPrefix(bearer, "Bearer ") ||
		subtle.ConstantTimeCompare([]byte(bearer[7:]), []byte(h.secret)) != 1 {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	result := h.pipeline.Run(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"success": len(result.Errors) == 0,
		"sync":    gin.H{"synced": result.Synced},
		"notify":  result.Notify,
		"welcome": result.Welcome,
		"errors":  result.Errors,
	})
}
