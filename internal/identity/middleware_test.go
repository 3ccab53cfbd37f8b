package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func performRequest(headerValue string) (*httptest.ResponseRecorder, string) {
	gin.SetMode(gin.TestMode)

	var seen string
	router := gin.New()
	router.Use(Middleware())
	router.GET("/", func(c *gin.Context) {
		seen = FromContext(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if headerValue != "" {
		req.Header.Set(HeaderName, headerValue)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w, seen
}

func TestMiddleware(t *testing.T) {
	t.Run("ValidIDPassedThrough", func(t *testing.T) {
		id := uuid.New().String()
		w, seen := performRequest(id)

		if seen != id {
			t.Errorf("expected handler to see %q, got %q", id, seen)
		}
		if echoed := w.Header().Get(HeaderName); echoed != "" {
			t.Errorf("valid ID must not be replaced, response header %q", echoed)
		}
	})

	t.Run("MissingIDGenerated", func(t *testing.T) {
		w, seen := performRequest("")

		if _, err := uuid.Parse(seen); err != nil {
			t.Fatalf("generated ID is not a UUID: %q", seen)
		}
		if echoed := w.Header().Get(HeaderName); echoed != seen {
			t.Errorf("generated ID must be echoed back, header %q context %q", echoed, seen)
		}
	})

	t.Run("MalformedIDReplaced", func(t *testing.T) {
		w, seen := performRequest("not-a-uuid")

		if seen == "not-a-uuid" {
			t.Error("malformed ID must be replaced")
		}
		if _, err := uuid.Parse(seen); err != nil {
			t.Fatalf("replacement is not a UUID: %q", seen)
		}
		if w.Header().Get(HeaderName) != seen {
			t.Error("replacement ID must be echoed back")
		}
	})
}
