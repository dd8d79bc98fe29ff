package logger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMiddlewareTagsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l := NewWriter(&buf, "prod")

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/x", func(c *gin.Context) {
		From(c.Request.Context()).Info("inside")
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "rid-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get(headerRequestID); got != "rid-1" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), buf.String())
	}
	for _, line := range lines {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if rec["request_id"] != "rid-1" {
			t.Fatalf("missing request_id: %s", line)
		}
	}
}

func TestNewDebugLevelForDev(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf, "dev").Debug("visible")
	NewWriter(&buf, "production").Debug("hidden")
	if !strings.Contains(buf.String(), "visible") || strings.Contains(buf.String(), "hidden") {
		t.Fatalf("unexpected output: %s", buf.String())
	}
}
