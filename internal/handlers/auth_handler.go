package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"userauth/internal/logging"
	"userauth/internal/models"
	"userauth/internal/services"
)

type AuthHandler struct {
	accounts services.AccountService
	cookie   CookieConfig
	log      logging.Logger
}

func NewAuthHandler(accounts services.AccountService, cookie CookieConfig, log logging.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, cookie: cookie, log: log}
}

// @Summary      Регистрация
// @Description  Создаёт неподтверждённый аккаунт и отправляет OTP на email
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      models.RegisterRequest  true  "Данные регистрации"
// @Success      201   {object}  userResponse
// @Failure      400   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Failure      500   {object}  errorResponse
// @Router       /api/users/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Please provide email and password")
		return
	}

	user, err := h.accounts.Register(c.Request.Context(), services.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		respondError(c, h.log, "[auth][register]", err)
		return
	}

	c.JSON(http.StatusCreated, userResponse{
		Success: true,
		Message: "Registration successful. Please verify your email using the OTP sent to your email.",
		User:    user,
	})
}

// @Summary      Подтверждение email
// @Description  Проверяет OTP и помечает аккаунт подтверждённым
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      models.VerifyOTPRequest  true  "Email и OTP"
// @Success      200   {object}  messageResponse
// @Failure      400   {object}  errorResponse
// @Failure      404   {object}  errorResponse
// @Router       /api/users/verify-user [post]
func (h *AuthHandler) VerifyUser(c *gin.Context) {
	var req models.VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Please provide email and otp")
		return
	}

	res, err := h.accounts.VerifyOTP(c.Request.Context(), req.Email, req.OTP.String())
	if err != nil {
		respondError(c, h.log, "[auth][verify]", err)
		return
	}
	msg := "User verified successfully."
	if res.AlreadyVerified {
		msg = "User is already verified."
	}
	c.JSON(http.StatusOK, messageResponse{Success: true, Message: msg})
}

// @Summary      Повторная отправка OTP
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      models.EmailRequest  true  "Email"
// @Success      200   {object}  messageResponse
// @Failure      404   {object}  errorResponse
// @Failure      429   {object}  errorResponse
// @Failure      500   {object}  errorResponse
// @Router       /api/users/resend-otp [post]
func (h *AuthHandler) ResendOTP(c *gin.Context) {
	var req models.EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Please provide email")
		return
	}

	res, err := h.accounts.ResendOTP(c.Request.Context(), req.Email)
	if err != nil {
		respondError(c, h.log, "[auth][resend]", err)
		return
	}
	msg := "A new OTP has been sent to your email."
	if res.AlreadyVerified {
		msg = "User is already verified."
	}
	c.JSON(http.StatusOK, messageResponse{Success: true, Message: msg})
}

// @Summary      Вход в систему
// @Description  Проверяет email/пароль, ставит cookie token и возвращает токен в теле
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      models.LoginRequest  true  "Данные для входа"
// @Success      200   {object}  sessionResponse
// @Failure      400   {object}  errorResponse
// @Failure      401   {object}  errorResponse
// @Failure      403   {object}  errorResponse
// @Router       /api/users/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Please Enter Email & Password")
		return
	}

	session, err := h.accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, h.log, "[auth][login]", err)
		return
	}

	setSessionCookie(c, h.cookie, session.Token)
	c.JSON(http.StatusOK, newSessionResponse(session, "Login successful"))
}

// @Summary      Выход
// @Description  Сбрасывает cookie token. Идемпотентно.
// @Tags         Auth
// @Produce      json
// @Success      200  {object}  messageResponse
// @Router       /api/users/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	clearSessionCookie(c, h.cookie)
	c.JSON(http.StatusOK, messageResponse{Success: true, Message: "Logged Out"})
}

// @Summary      Забыли пароль
// @Description  Отправляет ссылку для сброса пароля (действует 10 минут)
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      models.EmailRequest  true  "Email"
// @Success      200   {object}  messageResponse
// @Failure      404   {object}  errorResponse
// @Failure      429   {object}  errorResponse
// @Failure      500   {object}  errorResponse
// @Router       /api/users/forgot-password [post]
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req models.EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Please provide email")
		return
	}

	if err := h.accounts.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		respondError(c, h.log, "[auth][forgot]", err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{
		Success: true,
		Message: "Reset link sent to your email. Please check your inbox for the link.",
	})
}

// @Summary      Сброс пароля
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        resetToken  path      string                       true  "Токен из ссылки"
// @Param        body        body      models.ResetPasswordRequest  true  "Новый пароль"
// @Success      200         {object}  messageResponse
// @Failure      400         {object}  errorResponse
// @Failure      404         {object}  errorResponse
// @Router       /api/users/reset-password/{resetToken} [post]
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	token := strings.TrimSpace(c.Param("resetToken"))
	var req models.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Please provide newPassword")
		return
	}

	if err := h.accounts.ResetPassword(c.Request.Context(), token, req.NewPassword); err != nil {
		respondError(c, h.log, "[auth][reset]", err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Success: true, Message: "Password has been reset successfully"})
}
