package middlewares_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/geocoder89/storefront/internal/actorctx"
	"github.com/geocoder89/storefront/internal/auth"
	"github.com/geocoder89/storefront/internal/domain/user"
	"github.com/geocoder89/storefront/internal/http/middlewares"
	"github.com/geocoder89/storefront/internal/redisclient"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAuthenticator struct {
	authenticateFn func(ctx context.Context, raw string) (user.User, error)
}

func (f *fakeAuthenticator) Authenticate(ctx context.Context, raw string) (user.User, error) {
	if f.authenticateFn != nil {
		return f.authenticateFn(ctx, raw)
	}
	return user.User{}, auth.ErrUnauthenticated
}

type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()

	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v body=%s", err, w.Body.String())
	}
	return body
}

func moderator() user.User {
	return user.New("Mo", "mo@example.com", "h", user.RoleModerator, time.Now())
}

func TestRequireAuth(t *testing.T) {
	fake := &fakeAuthenticator{
		authenticateFn: func(ctx context.Context, raw string) (user.User, error) {
			switch raw {
			case "good":
				return moderator(), nil
			case "expired":
				return user.User{}, auth.ErrExpiredToken
			case "inactive":
				return user.User{}, auth.ErrAccountInactive
			default:
				return user.User{}, auth.ErrInvalidToken
			}
		},
	}
	m := middlewares.NewAuthMiddleware(fake)

	r := gin.New()
	r.Use(middlewares.RequestID())
	r.GET("/me", m.RequireAuth(), func(c *gin.Context) {
		u, ok := middlewares.UserFromContext(c)
		if !ok {
			t.Fatalf("user not stashed")
		}
		actor, _ := actorctx.UserIDFrom(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"id": u.ID, "actor": actor})
	})

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCode   string
	}{
		{name: "no header", header: "", wantStatus: http.StatusUnauthorized, wantCode: "unauthorized"},
		{name: "not bearer", header: "Basic abc", wantStatus: http.StatusUnauthorized, wantCode: "unauthorized"},
		{name: "empty bearer", header: "Bearer   ", wantStatus: http.StatusUnauthorized, wantCode: "unauthorized"},
		{name: "invalid", header: "Bearer nope", wantStatus: http.StatusUnauthorized, wantCode: "unauthorized"},
		{name: "expired", header: "Bearer expired", wantStatus: http.StatusUnauthorized, wantCode: "token_expired"},
		{name: "inactive", header: "Bearer inactive", wantStatus: http.StatusForbidden, wantCode: "account_inactive"},
		{name: "ok", header: "Bearer good", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantCode == "" {
				var body map[string]string
				_ = json.Unmarshal(w.Body.Bytes(), &body)
				if body["id"] == "" || body["id"] != body["actor"] {
					t.Fatalf("actor not propagated: %v", body)
				}
				return
			}

			got := decodeError(t, w)
			if got.Error.Code != tt.wantCode {
				t.Fatalf("got code %q, want %q", got.Error.Code, tt.wantCode)
			}
			if got.Error.RequestID == "" {
				t.Fatalf("missing requestId in error envelope")
			}
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	m := middlewares.NewAuthMiddleware(&fakeAuthenticator{})

	r := gin.New()
	r.POST("/x", m.OptionalAuth(), func(c *gin.Context) {
		_, ok := middlewares.UserFromContext(c)
		c.JSON(http.StatusOK, gin.H{"authenticated": ok})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("anonymous request got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("Authorization", "Bearer junk")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token got %d", w.Code)
	}
}

func TestGuards(t *testing.T) {
	withUser := func(c *gin.Context) {
		c.Set(middlewares.CtxUser, moderator())
		c.Next()
	}
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }

	r := gin.New()
	r.GET("/products", withUser, middlewares.RequirePermission(user.PermManageProducts), ok)
	r.GET("/users", withUser, middlewares.RequirePermission(user.PermManageUsers), ok)
	r.GET("/any", withUser, middlewares.RequireAnyPermission(user.PermDelete, user.PermWrite), ok)
	r.GET("/admin", withUser, middlewares.RequireRole(user.RoleAdmin), ok)
	r.GET("/staff", withUser, middlewares.RequireRole(user.RoleAdmin, user.RoleModerator), ok)
	r.GET("/anon", middlewares.RequirePermission(user.PermRead), ok)

	tests := []struct {
		path string
		want int
	}{
		{"/products", http.StatusNoContent},
		{"/users", http.StatusForbidden},
		{"/any", http.StatusNoContent},
		{"/admin", http.StatusForbidden},
		{"/staff", http.StatusNoContent},
		{"/anon", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if w.Code != tt.want {
			t.Errorf("%s: got %d, want %d", tt.path, w.Code, tt.want)
		}
	}
}

func limitedRouter(l middlewares.Limiter, limited *int) *gin.Engine {
	r := gin.New()
	r.POST("/login", middlewares.RateLimit(middlewares.RateLimitConfig{
		Limiter:   l,
		Scope:     "login",
		Message:   "Too many login attempts",
		OnLimited: func(string) { *limited++ },
	}), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func hit(r *gin.Engine) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit_InMemory(t *testing.T) {
	var limited int
	r := limitedRouter(middlewares.NewRateLimiter(2, time.Minute), &limited)

	for i := 0; i < 2; i++ {
		if w := hit(r); w.Code != http.StatusOK {
			t.Fatalf("hit %d got %d", i+1, w.Code)
		}
	}

	w := hit(r)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third hit got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
	if limited != 1 {
		t.Fatalf("OnLimited called %d times", limited)
	}
}

func TestRateLimit_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redisclient.New(redisclient.Config{Addr: mr.Addr()})
	defer rc.Close()

	var limited int
	r := limitedRouter(middlewares.NewRedisLimiter(rc, "rl:", 1, time.Minute), &limited)

	if w := hit(r); w.Code != http.StatusOK {
		t.Fatalf("first hit got %d", w.Code)
	}
	if w := hit(r); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second hit got %d", w.Code)
	}
	if !mr.Exists("rl:login:10.0.0.1") {
		t.Fatalf("expected counter key, have %v", mr.Keys())
	}

	mr.FastForward(2 * time.Minute)
	if w := hit(r); w.Code != http.StatusOK {
		t.Fatalf("after window got %d", w.Code)
	}

	// redis down: fail open
	mr.Close()
	if w := hit(r); w.Code != http.StatusOK {
		t.Fatalf("limiter outage should fail open, got %d", w.Code)
	}
}

func TestRequireJSONAndMaxBody(t *testing.T) {
	r := gin.New()
	r.Use(middlewares.RequireJSON(), middlewares.MaxBodyBytes(16))
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString(`{"name":"much too long for the cap"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("got %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(middlewares.CORSMiddleware([]string{"https://shop.example"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://shop.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Max-Age") == "" {
		t.Fatalf("preflight should be cacheable")
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "https://shop.example" {
		t.Fatalf("origin not echoed")
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("foreign origin allowed")
	}
}
