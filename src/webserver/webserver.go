package webserver

import (
	"github.com/daovote/govdash/src/aggregator"
	"github.com/daovote/govdash/src/config"
	"github.com/daovote/govdash/src/notify"
	"github.com/daovote/govdash/src/scheduler"
	"github.com/daovote/govdash/src/sources"
	"github.com/daovote/govdash/src/store"
	"github.com/daovote/govdash/src/webpush"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type Deps struct {
	Aggregator *aggregator.Aggregator
	Adapters   []sources.Adapter
	Store      *store.Store
	Notifier   *notify.Service
	Pipeline   *scheduler.Pipeline
	Push       *webpush.Transport
}

func New(cfg config.Config, deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	attachRoutes(r, cfg, deps)
	return r
}

func attachRoutes(r *gin.Engine, cfg config.Config, deps Deps) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", cfg.BaseURL},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	propH := NewProposals(deps.Aggregator, deps.Adapters, deps.Store)
	delH := NewDelegates(deps.Store)
	prefH := NewPreferences(deps.Store)
	notifH := NewNotifications(deps.Store, deps.Notifier, deps.Push)
	cronH := NewCron(deps.Pipeline, cfg.CronSecret)

	v1 := r.Group("/v1")
	{
		v1.GET("/proposals", propH.List)
		v1.POST("/proposals/sync", propH.Sync)

		v1.POST("/delegates/subscribe", delH.Subscribe)
		v1.POST("/delegates/unsubscribe", delH.Unsubscribe)
		v1.GET("/delegates/:id", delH.Get)
		v1.PATCH("/delegates/:id", delH.Patch)

		v1.GET("/preferences", prefH.Get)
		v1.PUT("/preferences", prefH.Put)

		v1.POST("/notifications/send", notifH.Send)
		v1.POST("/notifications/check-new", notifH.CheckNew)
		v1.POST("/notifications/send-welcome", notifH.SendWelcome)
		v1.POST("/notifications/test", notifH.Test)

		v1.GET("/cron/sync-and-notify", cronH.Trigger)
	}
}
