package routes

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"userauth/internal/handlers"
	"userauth/internal/middleware"
)

func SetupRoutes(
	r *gin.Engine,
	authHandler *handlers.AuthHandler,
	userHandler *handlers.UserHandler,
	healthHandler *handlers.HealthHandler,
	auth middleware.Authenticator,
) *gin.Engine {

	// ---- system
	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	users := r.Group("/api/users")

	// ---- public
	{
		users.POST("/register", authHandler.Register)
		users.POST("/verify-user", authHandler.VerifyUser)
		users.POST("/resend-otp", authHandler.ResendOTP)
		users.POST("/login", authHandler.Login)
		users.POST("/logout", authHandler.Logout)
		users.POST("/forgot-password", authHandler.ForgotPassword)
		users.POST("/reset-password/:resetToken", authHandler.ResetPassword)
	}

	// ---- protected
	protected := users.Group("", middleware.AuthMiddleware(auth))
	{
		protected.GET("/profile", userHandler.GetProfile)
		protected.PUT("/password/update", userHandler.ChangePassword)
		protected.PUT("/me/update", userHandler.UpdateProfile)
	}

	return r
}
