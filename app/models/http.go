package models

// SendMessageRequest is the resolved body of POST /chat/message. The
// wire format is either plain JSON or a multipart form with a file
// part; the boundary parser normalizes both shapes into this struct.
type SendMessageRequest struct {
	Handle string `json:"handle,omitempty"`
	Text   string `json:"text"`

	// Attachment fields are populated only from the multipart shape.
	AttachmentName string `json:"-"`
	AttachmentType string `json:"-"`
	AttachmentData []byte `json:"-"`
}

// HasAttachment reports whether a validated file rode along.
func (r *SendMessageRequest) HasAttachment() bool {
	return len(r.AttachmentData) > 0
}

// SendMessageResponse is the success payload of POST /chat/message.
type SendMessageResponse struct {
	Handle string `json:"handle"`
	Reply  string `json:"reply"`
}

// DeleteThreadResponse reports how many messages the deleted
// conversation had accumulated.
type DeleteThreadResponse struct {
	DeletedMessageCount int `json:"deleted_message_count"`
}

// VoicePreflightResponse carries everything the client needs to open
// a realtime call within the server's admission decision.
type VoicePreflightResponse struct {
	SessionSecret     string `json:"session_secret"`
	ServerDeadlineMs  int64  `json:"server_deadline_ms"`
	CapMinutes        int    `json:"cap_minutes"`
	PerCallCapMinutes int    `json:"per_call_cap_minutes"`
	CooldownMinutes   int    `json:"cooldown_minutes"`
	UsedMinutes       int    `json:"used_minutes"`
}

// VoiceEndRequest is the client's settlement report. The pointer
// distinguishes an absent field from an explicit zero.
type VoiceEndRequest struct {
	ElapsedSeconds *int `json:"elapsed_seconds"`
}

// VoiceEndResponse is the server's settled accounting for one call.
type VoiceEndResponse struct {
	BilledSeconds    int `json:"billed_seconds"`
	TotalSecondsUsed int `json:"total_seconds_used"`
}

// VoiceStatusResponse is a pure read of the caller's voice standing.
type VoiceStatusResponse struct {
	Plan                string `json:"plan"`
	InProgress          bool   `json:"in_progress"`
	UsedMinutes         int    `json:"used_minutes"`
	CapMinutes          int    `json:"cap_minutes"`
	CooldownRemainingMs int64  `json:"cooldown_remaining_ms"`
}
