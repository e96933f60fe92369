package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"userauth/internal/handlers"
	"userauth/internal/logging"
	"userauth/internal/repositories"
	"userauth/internal/routes"
	"userauth/internal/services"
)

type outbox struct {
	mu   sync.Mutex
	body []string
	fail error
}

func (o *outbox) Send(_ context.Context, _, _, body string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return o.fail
	}
	o.body = append(o.body, body)
	return nil
}

func (o *outbox) last() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.body) == 0 {
		return ""
	}
	return o.body[len(o.body)-1]
}

type testServer struct {
	router *gin.Engine
	mail   *outbox
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	auth, err := services.NewAuthService("handler-test-secret", bcrypt.MinCost)
	require.NoError(t, err)
	mail := &outbox{}
	accounts := services.NewAccountService(
		repositories.NewMemoryUserRepository(), auth, mail, logging.Nop(),
		services.AccountConfig{SessionTTL: time.Hour, FrontendURL: "http://front.test"},
		services.WithOTPGenerator(func() (string, error) { return "123456", nil }),
	)
	cookie := handlers.CookieConfig{TTL: time.Hour}

	r := gin.New()
	routes.SetupRoutes(r,
		handlers.NewAuthHandler(accounts, cookie, logging.Nop()),
		handlers.NewUserHandler(accounts, cookie, logging.Nop()),
		handlers.NewHealthHandler(nil),
		accounts,
	)
	return &testServer{router: r, mail: mail}
}

func (s *testServer) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == "token" {
			return c
		}
	}
	t.Fatalf("no token cookie in response")
	return nil
}

func (s *testServer) registerAndVerify(t *testing.T, email, pw string) {
	t.Helper()
	w, _ := s.do(t, http.MethodPost, "/api/users/register", gin.H{"name": "Alice", "email": email, "password": pw})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w, _ = s.do(t, http.MethodPost, "/api/users/verify-user", gin.H{"email": email, "otp": "123456"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestRegister_Responses(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/api/users/register", gin.H{"name": "Alice", "email": "alice@example.com", "password": "pw1pw1"})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, true, body["success"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "alice@example.com", user["email"])
	assert.Equal(t, false, user["is_verified"])
	assert.NotContains(t, w.Body.String(), "password")
	assert.NotContains(t, w.Body.String(), "123456", "otp must only travel by mail")
	assert.Contains(t, s.mail.last(), "123456")

	w, body = s.do(t, http.MethodPost, "/api/users/register", gin.H{"email": "alice@example.com", "password": "pw1pw1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Email already exists", body["message"])

	w, body = s.do(t, http.MethodPost, "/api/users/register", gin.H{"email": "bob@example.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, body["success"])

	w, _ = s.do(t, http.MethodPost, "/api/users/register", gin.H{"email": "bob@example.com", "password": "123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegister_MailFailure(t *testing.T) {
	s := newTestServer(t)
	s.mail.fail = errors.New("smtp down")

	w, body := s.do(t, http.MethodPost, "/api/users/register", gin.H{"email": "alice@example.com", "password": "pw1pw1"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to send verification email. Please try again.", body["message"])
	assert.NotContains(t, w.Body.String(), "smtp down")
}

func TestVerifyUser_Responses(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/users/register", gin.H{"email": "alice@example.com", "password": "pw1pw1"})

	w, body := s.do(t, http.MethodPost, "/api/users/verify-user", gin.H{"email": "alice@example.com", "otp": "111111"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid or expired OTP", body["message"])

	w, body = s.do(t, http.MethodPost, "/api/users/verify-user", gin.H{"email": "ghost@example.com", "otp": "123456"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "User not found", body["message"])

	// numeric otp is accepted too
	w, body = s.do(t, http.MethodPost, "/api/users/verify-user", gin.H{"email": "alice@example.com", "otp": 123456})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "User verified successfully.", body["message"])

	w, body = s.do(t, http.MethodPost, "/api/users/verify-user", gin.H{"email": "alice@example.com", "otp": "123456"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "User is already verified.", body["message"])
}

func TestResendOTP_Responses(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/users/register", gin.H{"email": "alice@example.com", "password": "pw1pw1"})

	w, body := s.do(t, http.MethodPost, "/api/users/resend-otp", gin.H{"email": "alice@example.com"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])

	w, _ = s.do(t, http.MethodPost, "/api/users/resend-otp", gin.H{"email": "ghost@example.com"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/users/resend-otp", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogin_Responses(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/users/register", gin.H{"email": "alice@example.com", "password": "pw1pw1"})

	w, body := s.do(t, http.MethodPost, "/api/users/login", gin.H{"email": "alice@example.com", "password": "pw1pw1"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Your account is not verified. Please verify your email first.", body["message"])

	s.do(t, http.MethodPost, "/api/users/verify-user", gin.H{"email": "alice@example.com", "otp": "123456"})

	w, body = s.do(t, http.MethodPost, "/api/users/login", gin.H{"email": "alice@example.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Please Enter Email & Password", body["message"])

	wWrong, bodyWrong := s.do(t, http.MethodPost, "/api/users/login", gin.H{"email": "alice@example.com", "password": "nope-nope"})
	wGhost, bodyGhost := s.do(t, http.MethodPost, "/api/users/login", gin.H{"email": "ghost@example.com", "password": "pw1pw1"})
	assert.Equal(t, http.StatusUnauthorized, wWrong.Code)
	assert.Equal(t, wWrong.Code, wGhost.Code)
	assert.Equal(t, bodyWrong, bodyGhost)

	w, body = s.do(t, http.MethodPost, "/api/users/login", gin.H{"email": "alice@example.com", "password": "pw1pw1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["token"])
	c := sessionCookie(t, w)
	assert.Equal(t, body["token"], c.Value)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, 3600, c.MaxAge)
}

func TestLogout_ClearsCookie(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/api/users/logout", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Logged Out", body["message"])
	c := sessionCookie(t, w)
	assert.Empty(t, c.Value)
	assert.True(t, c.MaxAge < 0)
}

func TestProtectedRoutes(t *testing.T) {
	s := newTestServer(t)
	s.registerAndVerify(t, "alice@example.com", "pw1pw1")

	w, body := s.do(t, http.MethodGet, "/api/users/profile", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, false, body["success"])

	w, _ = s.do(t, http.MethodGet, "/api/users/profile", nil, &http.Cookie{Name: "token", Value: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/users/login", gin.H{"email": "alice@example.com", "password": "pw1pw1"})
	cookie := sessionCookie(t, w)

	w, body = s.do(t, http.MethodGet, "/api/users/profile", nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	user := body["user"].(map[string]any)
	assert.Equal(t, "alice@example.com", user["email"])
	assert.NotContains(t, w.Body.String(), "password_hash")

	// bearer header works for non-browser clients
	req := httptest.NewRequest(http.MethodGet, "/api/users/profile", nil)
	req.Header.Set("Authorization", "Bearer "+cookie.Value)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	w, body = s.do(t, http.MethodPut, "/api/users/me/update", gin.H{"name": "Alice Smith"}, cookie)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Profile updated successfully", body["message"])
	assert.Equal(t, "Alice Smith", body["user"].(map[string]any)["name"])
}

func TestChangePassword_Responses(t *testing.T) {
	s := newTestServer(t)
	s.registerAndVerify(t, "alice@example.com", "pw1pw1")
	w, _ := s.do(t, http.MethodPost, "/api/users/login", gin.H{"email": "alice@example.com", "password": "pw1pw1"})
	cookie := sessionCookie(t, w)

	w, body := s.do(t, http.MethodPut, "/api/users/password/update", gin.H{"currentPassword": "bad-bad", "newPassword": "newpw123"}, cookie)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Current password is incorrect", body["message"])

	w, body = s.do(t, http.MethodPut, "/api/users/password/update", gin.H{"currentPassword": "pw1pw1", "newPassword": "newpw123"}, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, body["token"])
	sessionCookie(t, w)

	w, _ = s.do(t, http.MethodPost, "/api/users/login", gin.H{"email": "alice@example.com", "password": "newpw123"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestForgotAndResetPassword(t *testing.T) {
	s := newTestServer(t)
	s.registerAndVerify(t, "alice@example.com", "pw1pw1")

	w, _ := s.do(t, http.MethodPost, "/api/users/forgot-password", gin.H{"email": "ghost@example.com"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body := s.do(t, http.MethodPost, "/api/users/forgot-password", gin.H{"email": "alice@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])

	mail := s.mail.last()
	const prefix = "http://front.test/password/reset/"
	i := strings.Index(mail, prefix)
	require.GreaterOrEqual(t, i, 0, mail)
	token := strings.Fields(mail[i+len(prefix):])[0]

	w, body = s.do(t, http.MethodPost, "/api/users/reset-password/"+token, gin.H{"newPassword": "newpw123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Password has been reset successfully", body["message"])

	w, body = s.do(t, http.MethodPost, "/api/users/reset-password/"+token, gin.H{"newPassword": "again123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid or expired reset token", body["message"])

	w, _ = s.do(t, http.MethodPost, "/api/users/reset-password/not-a-token", gin.H{"newPassword": "again123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/users/login", gin.H{"email": "alice@example.com", "password": "newpw123"})
	assert.Equal(t, http.StatusOK, w.Code)
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/healthz", handlers.NewHealthHandler(map[string]handlers.Pinger{
		"database": handlers.PingFunc(func(context.Context) error { return nil }),
	}).Healthz)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	r = gin.New()
	r.GET("/healthz", handlers.NewHealthHandler(map[string]handlers.Pinger{"redis": downPinger{}}).Healthz)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}
