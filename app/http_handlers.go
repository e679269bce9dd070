package app

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Tristan-Hancock/maya-web-sub000/app/models"
	"github.com/Tristan-Hancock/maya-web-sub000/auth"
)

// App is the process-wide context: secrets populated once at startup,
// then read-only, plus the two engines built on top of them.
type App struct {
	Secrets      *Secrets
	Orchestrator *Orchestrator
	Voice        *VoiceManager
}

// anonUserFrom derives the pseudonymous storage identity of the
// request's verified subject. Handlers never see the raw subject id
// beyond this point.
func (a *App) anonUserFrom(c *gin.Context) (string, bool) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok || claims.Subject == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"kind": "auth", "message": "missing auth context"}})
		return "", false
	}
	return AnonUserID(a.Secrets.AnonSalt, claims.Subject), true
}

// Health is a public health check endpoint.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SendMessage handles one chat turn.
func (a *App) SendMessage(c *gin.Context) {
	anonUser, ok := a.anonUserFrom(c)
	if !ok {
		return
	}

	req, err := ParseSendMessage(c)
	if err != nil {
		respondError(c, err)
		return
	}

	resp, err := a.Orchestrator.SendMessage(c.Request.Context(), anonUser, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteThread removes a conversation identified by its handle.
func (a *App) DeleteThread(c *gin.Context) {
	anonUser, ok := a.anonUserFrom(c)
	if !ok {
		return
	}

	handle := c.Param("handle")
	if handle == "" {
		respondError(c, ValidationError{Field: "handle", Detail: "missing handle"})
		return
	}
	startCooldown := c.Query("cooldown") == "1"

	count, err := a.Orchestrator.DeleteThread(c.Request.Context(), anonUser, handle, startCooldown)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.DeleteThreadResponse{DeletedMessageCount: count})
}

// VoicePreflight admits and provisions a realtime voice call.
func (a *App) VoicePreflight(c *gin.Context) {
	anonUser, ok := a.anonUserFrom(c)
	if !ok {
		return
	}

	resp, err := a.Voice.Preflight(c.Request.Context(), anonUser)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// VoiceEnd settles a finished call.
func (a *App) VoiceEnd(c *gin.Context) {
	anonUser, ok := a.anonUserFrom(c)
	if !ok {
		return
	}

	var req models.VoiceEndRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ElapsedSeconds == nil {
		respondError(c, ValidationError{Field: "elapsed_seconds", Detail: "missing or malformed"})
		return
	}

	resp, err := a.Voice.End(c.Request.Context(), anonUser, *req.ElapsedSeconds)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// VoiceStatus reports the caller's voice standing.
func (a *App) VoiceStatus(c *gin.Context) {
	anonUser, ok := a.anonUserFrom(c)
	if !ok {
		return
	}

	resp, err := a.Voice.Status(c.Request.Context(), anonUser)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Me returns plan and usage info for the authenticated user.
func (a *App) Me(c *gin.Context) {
	anonUser, ok := a.anonUserFrom(c)
	if !ok {
		return
	}

	acct, err := EnsureAccount(c.Request.Context(), anonUser, time.Now())
	if err != nil {
		log.Printf("me: account load failed user=%s err=%v", anonUser, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"kind": "internal"}})
		return
	}
	pol := PolicyFor(acct)
	vpol := ResolveVoicePolicy(acct)

	c.JSON(http.StatusOK, gin.H{
		"plan":               acct.PlanCode,
		"subscription":       acct.SubscriptionSt,
		"prompts_used":       acct.Usage.PromptsUsed,
		"prompt_cap":         capOrNull(pol.PromptCap),
		"docs_used":          acct.Usage.DocsUsed,
		"doc_cap":            capOrNull(pol.DocCap),
		"threads_active":     acct.Usage.ThreadsActive,
		"thread_cap":         capOrNull(pol.ThreadCap),
		"voice_minutes_used": acct.Usage.VoiceSecondsUsed / 60,
		"voice_cap_minutes":  vpol.CapMinutes,
	})
}

// capOrNull renders an unlimited cap as JSON null, matching what the
// UI expects for "no limit to show".
func capOrNull(cap int) any {
	if cap == Unlimited {
		return nil
	}
	return cap
}
