package webserver

import (
	"net/http"

	"github.com/daovote/govdash/src/store"
	"github.com/daovote/govdash/src/types"
	"github.com/gin-gonic/gin"
)

type Preferences struct {
	st *store.Store
}

func NewPreferences(st *store.Store) Preferences {
	return Preferences{st: st}
}

// Get returns the delegate's stored preferences, or the defaults (all
// sources on, active-only off) when nothing has been saved yet.
func (h Preferences) Get(c *gin.Context) {
	delegateID := c.Query("delegateId")
	if delegateID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "err": "delegateId is required"})
		return
	}
	pref, err := h.st.GetPreference(c.Request.Context(), delegateID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "preferences": pref})
}

func (h Preferences) Put(c *gin.Context) {
	var req struct {
		DelegateID  string `json:"delegateId" binding:"required"`
		Preferences struct {
			NotifyDiscourse  bool `json:"notify_discourse"`
			NotifySnapshot   bool `json:"notify_snapshot"`
			NotifyTally      bool `json:"notify_tally"`
			NotifyActiveOnly bool `json:"notify_active_only"`
		} `json:"preferences" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "err": err.Error()})
		return
	}

	pref, err := h.st.UpsertPreference(c.Request.Context(), types.NotificationPreference{
		DelegateID:       req.DelegateID,
		NotifyDiscourse:  req.Preferences.NotifyDiscourse,
		NotifySnapshot:   req.Preferences.NotifySnapshot,
		NotifyTally:      req.Preferences.NotifyTally,
		NotifyActiveOnly: req.Preferences.NotifyActiveOnly,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "preferences": pref})
}
