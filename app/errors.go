// Package app implements the chat/voice gateway core: quota ledger,
// handle sealing, chat orchestration, and voice session management.
package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrInvalidHandle is the single error every handle failure collapses
// to. Malformed structure, unknown version, bad encoding, tag mismatch
// and wrong-user attempts are deliberately indistinguishable.
var ErrInvalidHandle = errors.New("invalid thread handle")

// Upstream terminal errors from the completion workflow.
var (
	ErrRunFailed  = errors.New("completion run reached a terminal failure state")
	ErrRunTimeout = errors.New("completion run exceeded its time budget")
)

// CapacityError reports an exhausted quota with enough context for the
// caller to render an upgrade prompt.
type CapacityError struct {
	Cap  string // "prompt_cap", "doc_cap", "thread_cap"
	Used int
	Max  int
}

func (e CapacityError) Error() string {
	return fmt.Sprintf("%s reached: used=%d cap=%d", e.Cap, e.Used, e.Max)
}

// VoiceAdmissionError rejects a voice preflight with the specific
// reason and the numbers needed for a precise user-facing message.
type VoiceAdmissionError struct {
	Reason      string // "minutes_exhausted", "cooldown_active", "call_in_progress", "voice_disabled"
	RemainingMs int64  // cooldown wait, when applicable
	UsedMinutes int
	CapMinutes  int
}

func (e VoiceAdmissionError) Error() string {
	return "voice admission denied: " + e.Reason
}

// ValidationError rejects malformed input before any state mutation.
type ValidationError struct {
	Field  string
	Detail string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Detail)
}

// respondError maps the error taxonomy onto HTTP statuses and a
// structured payload. Nothing here ever emits internal details for
// integrity failures.
func respondError(c *gin.Context, err error) {
	var capErr CapacityError
	var admErr VoiceAdmissionError
	var valErr ValidationError

	switch {
	case errors.As(err, &valErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{
			"kind":   "validation",
			"field":  valErr.Field,
			"detail": valErr.Detail,
		}})
	case errors.As(err, &capErr):
		capacityDenials.WithLabelValues(capErr.Cap).Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{"error": gin.H{
			"kind": "capacity",
			"cap":  capErr.Cap,
			"used": capErr.Used,
			"max":  capErr.Max,
		}})
	case errors.As(err, &admErr):
		voiceDenials.WithLabelValues(admErr.Reason).Inc()
		c.JSON(http.StatusConflict, gin.H{"error": gin.H{
			"kind":         "voice_admission",
			"reason":       admErr.Reason,
			"remaining_ms": admErr.RemainingMs,
			"used_minutes": admErr.UsedMinutes,
			"cap_minutes":  admErr.CapMinutes,
		}})
	case errors.Is(err, ErrInvalidHandle):
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{
			"kind": "invalid_handle",
		}})
	case errors.Is(err, ErrRunTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": gin.H{
			"kind": "run_timeout",
		}})
	case errors.Is(err, ErrRunFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": gin.H{
			"kind": "run_failed",
		}})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": gin.H{
			"kind": "upstream_error",
		}})
	}
}
