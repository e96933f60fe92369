package main

import "userauth/internal/app"

// @title                       User accounts API
// @version                     1.0
// @description                 Registration with email OTP, login/logout, password reset and profile.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	app.Run()
}
