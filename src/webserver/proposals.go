package webserver

import (
	"net/http"
	"strconv"

	"github.com/daovote/govdash/src/aggregator"
	"github.com/daovote/govdash/src/sources"
	"github.com/daovote/govdash/src/store"
	"github.com/gin-gonic/gin"
)

type Proposals struct {
	agg      *aggregator.Aggregator
	adapters []sources.Adapter
	st       *store.Store
}

func NewProposals(agg *aggregator.Aggregator, adapters []sources.Adapter, st *store.Store) Proposals {
	return Proposals{agg: agg, adapters: adapters, st: st}
}

// List aggregates all feeds live, with optional source/status filters.
func (h Proposals) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	result := h.agg.Aggregate(c.Request.Context(), aggregator.Options{
		Source: c.Query("source"),
		Status: c.Query("status"),
		Limit:  limit,
	})
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"proposals": result.Proposals,
		"count":     len(result.Proposals),
		"sources":   result.Sources,
	})
}

// Sync upserts the current feed contents into the durable proposal table.
func (h Proposals) Sync(c *gin.Context) {
	synced, err := h.st.SyncProposals(c.Request.Context(), h.adapters)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "synced": synced})
}
