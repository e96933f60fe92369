package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"userauth/internal/logging"
	"userauth/internal/middleware"
	"userauth/internal/models"
	"userauth/internal/services"
)

// CookieConfig describes how the session cookie is attached to responses.
type CookieConfig struct {
	TTL    time.Duration
	Secure bool
}

func (cc CookieConfig) sameSite() http.SameSite {
	// cross-site фронт в проде требует None (+ Secure)
	if cc.Secure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

func setSessionCookie(c *gin.Context, cc CookieConfig, token string) {
	c.SetSameSite(cc.sameSite())
	c.SetCookie(middleware.SessionCookie, token, int(cc.TTL.Seconds()), "/", "", cc.Secure, true)
}

func clearSessionCookie(c *gin.Context, cc CookieConfig) {
	c.SetSameSite(cc.sameSite())
	c.SetCookie(middleware.SessionCookie, "", -1, "/", "", cc.Secure, true)
}

func statusFor(kind services.Kind) int {
	switch kind {
	case services.KindValidation, services.KindInvalidOrExpiredCode, services.KindInvalidOrExpiredToken:
		return http.StatusBadRequest
	case services.KindDuplicateIdentity:
		return http.StatusConflict
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindInvalidCredentials, services.KindUnauthorized:
		return http.StatusUnauthorized
	case services.KindNotVerified:
		return http.StatusForbidden
	case services.KindTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// respondError is the single place where service errors become HTTP.
func respondError(c *gin.Context, log logging.Logger, op string, err error) {
	kind := services.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		log.Error(c.Request.Context(), op+" request failed", "kind", kind.String(), "err", err)
	}
	c.JSON(status, errorResponse{Success: false, Message: services.PublicMessage(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResponse{Success: false, Message: msg})
}

func currentUserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(middleware.CtxUserID)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

type errorResponse struct {
	Success bool   `json:"success" example:"false"`
	Message string `json:"message" example:"Invalid email or password"`
}

type messageResponse struct {
	Success bool   `json:"success" example:"true"`
	Message string `json:"message"`
}

type userResponse struct {
	Success bool         `json:"success" example:"true"`
	Message string       `json:"message,omitempty"`
	User    *models.User `json:"user"`
}

type sessionResponse struct {
	Success bool         `json:"success" example:"true"`
	Message string       `json:"message"`
	User    *models.User `json:"user"`
	Token   string       `json:"token"`
}

func newSessionResponse(s *services.Session, msg string) sessionResponse {
	return sessionResponse{Success: true, Message: msg, User: s.User, Token: s.Token}
}
