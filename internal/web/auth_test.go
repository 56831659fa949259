package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

func authRouter(t *testing.T, password string) *gin.Engine {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(sessions.Sessions("veilbot_admin", cookie.NewStore([]byte("test-secret"))))
	r.POST("/admin/login", loginHandler(string(hash)))
	r.POST("/admin/logout", logoutHandler())
	auth := r.Group("/admin", requireAdmin())
	auth.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	return r
}

func doJSON(r *gin.Engine, method, path, body, cookieHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if cookieHeader != "" {
		req.Header.Set("Cookie", cookieHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAdminLogin(t *testing.T) {
	r := authRouter(t, "correct-horse")

	// Без сессии закрытые маршруты недоступны.
	if w := doJSON(r, http.MethodGet, "/admin/ping", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("без логина: code = %d", w.Code)
	}

	if w := doJSON(r, http.MethodPost, "/admin/login", `{"password":"wrong"}`, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("неверный пароль: code = %d", w.Code)
	}
	if w := doJSON(r, http.MethodPost, "/admin/login", `{}`, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("пустой запрос: code = %d", w.Code)
	}

	login := doJSON(r, http.MethodPost, "/admin/login", `{"password":"correct-horse"}`, "")
	if login.Code != http.StatusOK {
		t.Fatalf("логин: code = %d", login.Code)
	}
	session := login.Header().Get("Set-Cookie")
	if session == "" {
		t.Fatal("нет сессионной куки")
	}

	if w := doJSON(r, http.MethodGet, "/admin/ping", "", session); w.Code != http.StatusOK {
		t.Fatalf("с сессией: code = %d", w.Code)
	}

	// После logout сессия не действует.
	logout := doJSON(r, http.MethodPost, "/admin/logout", "", session)
	if logout.Code != http.StatusOK {
		t.Fatalf("logout: code = %d", logout.Code)
	}
	cleared := logout.Header().Get("Set-Cookie")
	if w := doJSON(r, http.MethodGet, "/admin/ping", "", cleared); w.Code != http.StatusUnauthorized {
		t.Fatalf("после logout: code = %d", w.Code)
	}
}
