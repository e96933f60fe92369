package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"userauth/internal/logging"
	"userauth/internal/models"
	"userauth/internal/services"
)

// UserHandler serves the authenticated profile routes.
type UserHandler struct {
	accounts services.AccountService
	cookie   CookieConfig
	log      logging.Logger
}

func NewUserHandler(accounts services.AccountService, cookie CookieConfig, log logging.Logger) *UserHandler {
	return &UserHandler{accounts: accounts, cookie: cookie, log: log}
}

func unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, errorResponse{Success: false, Message: "Please log in to access this resource"})
}

// @Summary      Профиль
// @Tags         Users
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  userResponse
// @Failure      401  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /api/users/profile [get]
func (h *UserHandler) GetProfile(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		unauthorized(c)
		return
	}

	user, err := h.accounts.GetProfile(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, "[user][profile]", err)
		return
	}
	c.JSON(http.StatusOK, userResponse{Success: true, User: user})
}

// @Summary      Смена пароля
// @Description  Проверяет текущий пароль, ставит новый и выдаёт новую сессию
// @Tags         Users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      models.ChangePasswordRequest  true  "Текущий и новый пароль"
// @Success      200   {object}  sessionResponse
// @Failure      400   {object}  errorResponse
// @Failure      401   {object}  errorResponse
// @Router       /api/users/password/update [put]
func (h *UserHandler) ChangePassword(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		unauthorized(c)
		return
	}
	var req models.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Please provide currentPassword and newPassword")
		return
	}

	session, err := h.accounts.ChangePassword(c.Request.Context(), userID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		respondError(c, h.log, "[user][change-password]", err)
		return
	}

	setSessionCookie(c, h.cookie, session.Token)
	c.JSON(http.StatusOK, newSessionResponse(session, "Password update successfully"))
}

// @Summary      Обновление профиля
// @Tags         Users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      models.UpdateProfileRequest  true  "Новые данные профиля"
// @Success      200   {object}  userResponse
// @Failure      400   {object}  errorResponse
// @Failure      401   {object}  errorResponse
// @Router       /api/users/me/update [put]
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		unauthorized(c)
		return
	}
	var req models.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	user, err := h.accounts.UpdateProfile(c.Request.Context(), userID, services.ProfileInput{Name: req.Name})
	if err != nil {
		respondError(c, h.log, "[user][update-profile]", err)
		return
	}
	c.JSON(http.StatusOK, userResponse{Success: true, Message: "Profile updated successfully", User: user})
}
