package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fleetgate/internal/logging"
	"fleetgate/internal/middleware"
	"fleetgate/internal/registry"
	"fleetgate/internal/store"
)

// DeviceHandler is the out-of-band approval surface: devices self-provision
// unapproved on first contact and become usable only through these routes.
type DeviceHandler struct {
	Store store.Store
	Log   *logging.Logger
}

func (h *DeviceHandler) List(c *gin.Context) {
	devices, err := h.Store.ListDevices(c.Request.Context())
	if err != nil {
		h.Log.Error("device list failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lookup failed"})
		return
	}

	resp := make([]gin.H, 0, len(devices))
	for _, d := range devices {
		resp = append(resp, gin.H{
			"id":         d.ID,
			"thumbprint": d.Thumbprint,
			"subject":    d.Subject,
			"issuer":     d.Issuer,
			"approved":   d.Approved,
			"enabled":    d.Enabled,
			"groupId":    d.GroupID,
			"createdAt":  d.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"devices": resp})
}

type approvalBody struct {
	Thumbprint string `json:"thumbprint"`
	Approved   bool   `json:"approved"`
	Enabled    bool   `json:"enabled"`
}

func (h *DeviceHandler) SetApproval(c *gin.Context) {
	var body approvalBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Thumbprint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	thumbprint := registry.NormalizeThumbprint(body.Thumbprint)
	device, err := h.Store.GetDeviceByCertificateThumbprint(c.Request.Context(), thumbprint)
	if err != nil {
		h.Log.Error("device lookup failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lookup failed"})
		return
	}
	if device == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown device"})
		return
	}

	device.Approved = body.Approved
	device.Enabled = body.Enabled
	saved, err := h.Store.SaveDevice(c.Request.Context(), device)
	if err != nil {
		h.Log.Error("device save failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Save failed"})
		return
	}

	username, _ := middleware.UsernameFromContext(c)
	h.Log.Info("device %d approval set to approved=%t enabled=%t by %q", saved.ID, saved.Approved, saved.Enabled, username)

	c.JSON(http.StatusOK, gin.H{"device": gin.H{
		"id":       saved.ID,
		"approved": saved.Approved,
		"enabled":  saved.Enabled,
	}})
}
