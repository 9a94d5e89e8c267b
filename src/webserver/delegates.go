package webserver

import (
	"net/http"

	"github.com/daovote/govdash/src/store"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Delegates struct {
	st *store.Store
}

func NewDelegates(st *store.Store) Delegates {
	return Delegates{st: st}
}

type reqSubscribe struct {
	WalletAddress string `json:"walletAddress"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	Subscription  struct {
		Endpoint string `json:"endpoint"`
		P256dh   string `json:"p256dh"`
		Auth     string `json:"auth"`
	} `json:"subscription"`
}

// Subscribe upserts a delegate (keyed on wallet address or email) and
// registers the browser's push endpoint under it.
func (h Delegates) Subscribe(c *gin.Context) {
	var req reqSubscribe
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "err": err.Error()})
		return
	}
	if req.WalletAddress == "" && req.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "err": "either wallet address or email is required"})
		return
	}
	if req.Subscription.Endpoint == "" || req.Subscription.P256dh == "" || req.Subscription.Auth == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "err": "push subscription data is required"})
		return
	}

	ctx := c.Request.Context()
	delegate, err := h.st.UpsertDelegate(ctx,
		optional(req.WalletAddress), optional(req.Email), optional(req.DisplayName))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "err": err.Error()})
		return
	}
	err = h.st.UpsertSubscription(ctx, delegate.ID,
		req.Subscription.Endpoint, req.Subscription.P256dh, req.Subscription.Auth)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "err": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "delegateId": delegate.ID})
}

func (h Delegates) Unsubscribe(c *gin.Context) {
	var req struct {
		Endpoint string `json:"endpoint" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "err": err.Error()})
		return
	}
	if err := h.st.DeleteSubscriptionByEndpoint(c.Request.Context(), req.Endpoint); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h Delegates) Get(c *gin.Context) {
	delegate, err := h.st.GetDelegate(c.Request.Context(), c.Param("id"))
	if err == gorm.ErrRecordNotFound {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "err": "delegate not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "delegate": delegate})
}

func (h Delegates) Patch(c *gin.Context) {
	var req struct {
		DisplayName   *string `json:"displayName"`
		Email         *string `json:"email"`
		WalletAddress *string `json:"walletAddress"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "err": err.Error()})
		return
	}
	delegate, err := h.st.UpdateDelegate(c.Request.Context(), c.Param("id"),
		req.DisplayName, req.Email, req.WalletAddress)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "delegate": delegate})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
