package webservice

import (
	"context"
	"net"
	"net/http"
	"time"

	"mirrorcore/adb"

	"github.com/gin-gonic/gin"
)

const (
	defaultDiscoverTimeout = 3 * time.Second
	maxDiscoverTimeout     = 30 * time.Second
	adbTimeout             = 15 * time.Second
)

type deviceAddress struct {
	IP   string `json:"ip" binding:"required"`
	Port string `json:"port"`
	Code string `json:"code"`
}

func (a deviceAddress) String() string {
	if a.Port == "" {
		return a.IP
	}
	return net.JoinHostPort(a.IP, a.Port)
}

func (wm *WebMaster) requireDevices(c *gin.Context) bool {
	if wm.devices == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no adb available"})
		return false
	}
	return true
}

func (wm *WebMaster) handleListDevices(c *gin.Context) {
	if !wm.requireDevices(c) {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), adbTimeout)
	defer cancel()
	devices, err := wm.devices.Devices(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if devices == nil {
		devices = []adb.Device{}
	}
	c.JSON(http.StatusOK, devices)
}

// handleDiscoverDevices browses mDNS for the duration given by ?timeout=.
func (wm *WebMaster) handleDiscoverDevices(c *gin.Context) {
	timeout := defaultDiscoverTimeout
	if q := c.Query("timeout"); q != "" {
		d, err := time.ParseDuration(q)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeout"})
			return
		}
		timeout = min(d, maxDiscoverTimeout)
	}
	service := adb.ServiceConnect
	if c.Query("pairing") == "true" {
		service = adb.ServicePairing
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()
	devices, err := wm.discover(ctx, service)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if devices == nil {
		devices = []adb.Device{}
	}
	c.JSON(http.StatusOK, devices)
}

// POST /api/devices/connect
func (wm *WebMaster) handleConnectDevice(c *gin.Context) {
	if !wm.requireDevices(c) {
		return
	}
	var req deviceAddress
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), adbTimeout)
	defer cancel()
	if err := wm.devices.Connect(ctx, req.String()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "connected"})
}

func (wm *WebMaster) handlePairDevice(c *gin.Context) {
	if !wm.requireDevices(c) {
		return
	}
	var req deviceAddress
	if err := c.ShouldBindJSON(&req); err != nil || req.Port == "" || req.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), adbTimeout)
	defer cancel()
	if err := wm.devices.Pair(ctx, req.String(), req.Code); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paired"})
}
