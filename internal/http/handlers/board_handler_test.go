package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-board-backend/internal/messages"
	"github.com/tbourn/go-board-backend/internal/security"
)

// postJSON builds a gin context carrying a populated security context (as
// Identify would have attached) and POST body, without touching any
// store-backed dependency. Only useful for exercising validation that
// happens before PostMessage reaches the pipeline.
func postJSON(t *testing.T, h *BoardHandlers, body map[string]any) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader(raw))
	c.Request.Header.Set("Content-Type", "application/json")
	security.NewContextForTest(c, security.Context{Identity: "id-1", IP: "203.0.113.9", Fingerprint: "fp-1"})

	h.PostMessage(c)
	return w, c
}

func validPostBody() map[string]any {
	return map[string]any{
		"browser_id":   "b-1",
		"message":      "looking for a 1bhk near the station",
		"message_type": "requested",
		"location":     "Pune",
	}
}

func TestPostMessage_MissingSecurityContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &BoardHandlers{}
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader([]byte(`{}`)))

	h.PostMessage(c)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestPostMessage_RejectsMalformedJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &BoardHandlers{}
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{not json`))
	c.Request.Header.Set("Content-Type", "application/json")
	security.NewContextForTest(c, security.Context{Identity: "id-1", IP: "203.0.113.9", Fingerprint: "fp-1"})

	h.PostMessage(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestPostMessage_RejectsUnknownMessageType(t *testing.T) {
	h := &BoardHandlers{}
	body := validPostBody()
	body["message_type"] = "sponsored"

	w, _ := postJSON(t, h, body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestPostMessage_RejectsEmptyMessage(t *testing.T) {
	h := &BoardHandlers{}
	body := validPostBody()
	body["message"] = "   "

	w, _ := postJSON(t, h, body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestPostMessage_RejectsOverlongMessage(t *testing.T) {
	h := &BoardHandlers{}
	body := validPostBody()
	body["message"] = strings.Repeat("a", 281)

	w, _ := postJSON(t, h, body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestPostMessage_RejectsEmptyLocation(t *testing.T) {
	h := &BoardHandlers{}
	body := validPostBody()
	body["location"] = "  "

	w, _ := postJSON(t, h, body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestListMessages_EmptyLocationReturnsEmptyArrayWithoutTouchingStore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &BoardHandlers{} // nil Messages/Stats: a store call here would panic
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/messages", nil)

	h.ListMessages(c)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("expected an empty array body, got %s", w.Body.String())
	}
}

func TestSynthetic_ProducesDistinctIDsEachCall(t *testing.T) {
	a := synthetic("b-1", "hello", "offered", "Pune")
	b := synthetic("b-1", "hello", "offered", "Pune")
	if a.ID == b.ID {
		t.Fatal("expected synthetic responses to carry distinct ids")
	}
	if a.BrowserID != "b-1" || a.Message != "hello" || a.MessageType != "offered" || a.Location != "Pune" {
		t.Fatalf("synthetic response fields not preserved: %+v", a)
	}
}

func TestToMessageResponse_MapsFields(t *testing.T) {
	m := messages.Message{
		ID: "m-1", BrowserID: "b-1", Body: "hello",
		Kind: messages.KindOffered, CreatedAt: 42, City: "Pune",
		Phone: "9876543210", OriginIP: "203.0.113.5",
	}
	resp := ToMessageResponse(m)
	if resp.ID != "m-1" || resp.BrowserID != "b-1" || resp.Message != "hello" ||
		resp.MessageType != "offered" || resp.Timestamp != 42 || resp.Location != "Pune" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
