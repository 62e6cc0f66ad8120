package webservice

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	MAX_UNLOCK_ATTEMPTS = 5
	unlockLockout       = 10 * time.Minute
)

type UnlockAttemptRecord struct {
	Attempts  int
	IsLocked  bool
	LockUntil time.Time
}

// handleUnlock trades the PIN for a token. A client IP gets
// MAX_UNLOCK_ATTEMPTS wrong tries before it is locked out for a while.
func (wm *WebMaster) handleUnlock(c *gin.Context) {
	var req struct {
		PIN string `json:"pin"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"result": "error", "message": "Invalid request"})
		return
	}
	if wm.pin == "" {
		c.JSON(http.StatusOK, gin.H{"result": "success", "message": "No PIN set"})
		return
	}

	sIP := c.ClientIP()
	now := time.Now()

	wm.unlockMu.Lock()
	record := wm.UnlockAttemptRecords[sIP]
	if record.IsLocked && !now.Before(record.LockUntil) {
		record = UnlockAttemptRecord{}
	}
	if !record.IsLocked && record.Attempts >= MAX_UNLOCK_ATTEMPTS {
		record.IsLocked = true
		record.LockUntil = now.Add(unlockLockout)
	}
	if record.IsLocked {
		wm.UnlockAttemptRecords[sIP] = record
		wm.unlockMu.Unlock()
		wm.log.Warn().Str("ip", sIP).Time("until", record.LockUntil).Msg("unlock locked out")
		c.JSON(http.StatusTooManyRequests, gin.H{"result": "failed", "message": "Too many attempts, please try again later", "leftTries": 0, "lockUntil": record.LockUntil})
		return
	}
	if req.PIN != wm.pin {
		record.Attempts++
		wm.UnlockAttemptRecords[sIP] = record
		wm.unlockMu.Unlock()
		c.JSON(http.StatusUnauthorized, gin.H{"result": "failed", "message": "Incorrect PIN", "leftTries": MAX_UNLOCK_ATTEMPTS - record.Attempts})
		return
	}
	delete(wm.UnlockAttemptRecords, sIP)
	wm.unlockMu.Unlock()

	token, err := wm.GenerateToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}
	c.SetCookie(authCookie, token, int(wm.tokenTTL().Seconds()), "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"result": "success", "message": "Unlocked", "token": token})
}
