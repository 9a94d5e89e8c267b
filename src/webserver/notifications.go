package webserver

import (
	"net/http"

	"github.com/daovote/govdash/src/notify"
	"github.com/daovote/govdash/src/store"
	"github.com/daovote/govdash/src/types"
	"github.com/daovote/govdash/src/webpush"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Notifications struct {
	st       *store.Store
	notifier *notify.Service
	push     *webpush.Transport
}

func NewNotifications(st *store.Store, notifier *notify.Service, push *webpush.Transport) Notifications {
	return Notifications{st: st, notifier: notifier, push: push}
}

// Send dispatches one proposal notification to every eligible delegate.
func (h Notifications) Send(c *gin.Context) {
	var req struct {
		ProposalID       uint64 `json:"proposalId" binding:"required"`
		NotificationType string `json:"notificationType"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "err": err.Error()})
		return
	}
	if req.NotificationType == "" {
		req.NotificationType = types.NotifyNewProposal
	}

	ctx := c.Request.Context()
	proposal, err := h.st.GetProposal(ctx, req.ProposalID)
	if err == gorm.ErrRecordNotFound {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "err": "proposal not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "err": err.Error()})
		return
	}

	outcome, err := h.notifier.Dispatch(ctx, proposal, req.NotificationType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"sent":             outcome.Sent,
		"failed":           outcome.Failed,
		"notified":         outcome.Notified,
		"notificationType": req.NotificationType,
	})
}

func (h Notifications) CheckNew(c *gin.Context) {
	result, err := h.notifier.CheckNew(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"newProposals": result.NewProposals,
		"endingSoon":   result.EndingSoon,
		"results":      result.Results,
	})
}

func (h Notifications) SendWelcome(c *gin.Context) {
	result, err := h.notifier.SendWelcome(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"total":   result.Total,
		"sent":    result.Success,
		"errors":  result.Errors,
	})
}

// Test pushes a test message to every stored subscription.
func (h Notifications) Test(c *gin.Context) {
	ctx := c.Request.Context()
	subs, err := h.st.AllSubscriptions(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "err": err.Error()})
		return
	}
	result := h.push.SendBatch(ctx, subs, webpush.Payload{
		Title: "Test notification",
		Body:  "Push notifications are working.",
	})
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"sent":    result.Sent,
		"failed":  result.Failed,
	})
}
