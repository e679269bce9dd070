package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Tristan-Hancock/maya-web-sub000/auth"
)

// newTestApp wires the handlers behind a stub auth layer that injects
// a fixed subject, mirroring the production middleware order.
func newTestApp(completion CompletionAPI) (*App, *gin.Engine) {
	gin.SetMode(gin.TestMode)
	secrets := testSecrets()
	app := &App{
		Secrets:      secrets,
		Orchestrator: NewOrchestrator(completion, secrets),
		Voice:        NewVoiceManager(nil),
	}

	router := gin.New()
	router.Use(func(c *gin.Context) {
		ctx := auth.WithClaims(c.Request.Context(), &auth.Claims{Subject: "user-123"})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	router.GET("/health", Health)
	router.GET("/me", app.Me)
	router.POST("/chat/message", app.SendMessage)
	router.DELETE("/chat/thread/:handle", app.DeleteThread)
	router.POST("/voice/end", app.VoiceEnd)
	return app, router
}

func decodeErrorKind(t *testing.T, body []byte) string {
	t.Helper()
	var payload struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return payload.Error.Kind
}

func TestHealthEndpoint(t *testing.T) {
	_, router := newTestApp(&fakeCompletion{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestSendMessageEndpointCapDenial(t *testing.T) {
	mock := useMockDB(t)
	expectAccountSelect(mock, accountRow{
		status:      "active",
		limitsJSON:  []byte(`{"monthly_prompts": 1}`),
		promptsUsed: 1,
	})

	_, router := newTestApp(&fakeCompletion{})

	req := httptest.NewRequest(http.MethodPost, "/chat/message", strings.NewReader(`{"text":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d body=%s", resp.Code, resp.Body.String())
	}
	if kind := decodeErrorKind(t, resp.Body.Bytes()); kind != "capacity" {
		t.Fatalf("error kind = %q", kind)
	}
}

func TestSendMessageEndpointValidation(t *testing.T) {
	_, router := newTestApp(&fakeCompletion{})

	req := httptest.NewRequest(http.MethodPost, "/chat/message", strings.NewReader(`{"text":`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if kind := decodeErrorKind(t, resp.Body.Bytes()); kind != "validation" {
		t.Fatalf("error kind = %q", kind)
	}
}

func TestDeleteThreadEndpointInvalidHandle(t *testing.T) {
	useMockDB(t)
	_, router := newTestApp(&fakeCompletion{})

	req := httptest.NewRequest(http.MethodDelete, "/chat/thread/not-a-handle", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if kind := decodeErrorKind(t, resp.Body.Bytes()); kind != "invalid_handle" {
		t.Fatalf("error kind = %q", kind)
	}
}

func TestVoiceEndEndpointMissingElapsed(t *testing.T) {
	_, router := newTestApp(&fakeCompletion{})

	req := httptest.NewRequest(http.MethodPost, "/voice/end", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestMeEndpointFreePlan(t *testing.T) {
	mock := useMockDB(t)
	now := time.Now()
	expectAccountSelect(mock, accountRow{
		promptsUsed: 4,
		freeResetAt: timePtr(now.Add(time.Hour)),
	})

	_, router := newTestApp(&fakeCompletion{})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", resp.Code, resp.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["prompts_used"] != float64(4) {
		t.Fatalf("prompts_used = %v", body["prompts_used"])
	}
	if body["prompt_cap"] != float64(FreePromptCap) {
		t.Fatalf("prompt_cap = %v", body["prompt_cap"])
	}
	if body["voice_cap_minutes"] != float64(FreeVoiceCapMin) {
		t.Fatalf("voice_cap_minutes = %v", body["voice_cap_minutes"])
	}
}

func TestMeEndpointUnlimitedCapRendersNull(t *testing.T) {
	mock := useMockDB(t)
	expectAccountSelect(mock, accountRow{
		status:     "active",
		limitsJSON: []byte(`{"monthly_prompts": null}`),
	})

	_, router := newTestApp(&fakeCompletion{})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if cap, present := body["prompt_cap"]; !present || cap != nil {
		t.Fatalf("prompt_cap = %v, want null", cap)
	}
}
