package httpapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-board-backend/internal/broadcast"
	"github.com/tbourn/go-board-backend/internal/burst"
	"github.com/tbourn/go-board-backend/internal/config"
	"github.com/tbourn/go-board-backend/internal/identity"
	"github.com/tbourn/go-board-backend/internal/messages"
	"github.com/tbourn/go-board-backend/internal/moderation"
	"github.com/tbourn/go-board-backend/internal/ratelimit"
	"github.com/tbourn/go-board-backend/internal/reputation"
	"github.com/tbourn/go-board-backend/internal/security"
	"github.com/tbourn/go-board-backend/internal/shadowban"
	"github.com/tbourn/go-board-backend/internal/stats"
	"github.com/tbourn/go-board-backend/internal/store"
	"github.com/tbourn/go-board-backend/internal/wsreg"
)

// newTestDeps wires the same components cmd/server/main.go wires, backed by
// an in-memory Redis server, so the router can be exercised end to end
// without a real coordination store.
func newTestDeps(t *testing.T) (Deps, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	st, err := store.New(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	resolver := identity.NewResolver("test-secret-at-least-32-bytes-long!!", nil)
	rl := ratelimit.New(st)
	local := ratelimit.NewLocalIPLimiter(120)
	bp := burst.New(st)
	sb := shadowban.New(st)
	rep := reputation.New(st)
	mod := moderation.New("")
	pipeline := security.New(resolver, rl, local, bp, sb, rep, mod)

	return Deps{
		Store:      st,
		Pipeline:   pipeline,
		RateLimit:  rl,
		Messages:   messages.New(st, rep, time.Hour),
		Broadcast:  broadcast.New(st, uuid.NewString()),
		Registry:   wsreg.New(),
		Stats:      stats.New(st),
		Reputation: rep,
		Shadowban:  sb,
	}, mr
}

func TestRegisterRoutes_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	deps, _ := newTestDeps(t)
	cfg := config.Config{CORS: config.CORSConfig{AllowedOrigins: nil}, OTEL: config.OTELConfig{ServiceName: "test"}}

	RegisterRoutes(r, deps, cfg)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope = %d, want 404", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("DELETE /health = %d, want 405", w.Code)
	}
}

// TestHealth_SurvivesStoreOutage exercises the fix for the bug where the
// global block-list check in Identify() ran ahead of /health and turned a
// Redis hiccup into a generic 503 that never reached GetHealth. /health must
// always report its own documented shape, degraded or not.
func TestHealth_SurvivesStoreOutage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	deps, mr := newTestDeps(t)
	cfg := config.Config{CORS: config.CORSConfig{AllowedOrigins: nil}, OTEL: config.OTELConfig{ServiceName: "test"}}

	RegisterRoutes(r, deps, cfg)

	mr.Close()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /health (store down) = %d, want 503", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"healthy":false`) || !strings.Contains(body, `"redis_connected":false`) {
		t.Fatalf("GET /health (store down) body = %s, want the documented health shape", body)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	deps, _ := newTestDeps(t)
	cfg := config.Config{CORS: config.CORSConfig{AllowedOrigins: []string{"https://example.com"}}, OTEL: config.OTELConfig{ServiceName: "test"}}

	RegisterRoutes(r, deps, cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB"))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}
