package models

import "time"

type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"` // не отдаём наружу
	Role         string `json:"role"`

	IsVerified bool       `json:"is_verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`

	// одноразовый код подтверждения email: либо оба поля заданы, либо оба nil
	OTPCode   *string    `json:"-"`
	OTPExpiry *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SetOTP replaces the pending verification code. The previous code stops
// being valid immediately.
func (u *User) SetOTP(code string, expiresAt time.Time) {
	c, e := code, expiresAt
	u.OTPCode = &c
	u.OTPExpiry = &e
}

func (u *User) ClearOTP() {
	u.OTPCode = nil
	u.OTPExpiry = nil
}

// MarkVerified moves the account to the verified state. VerifiedAt is only
// written on the first call.
func (u *User) MarkVerified(at time.Time) {
	u.IsVerified = true
	u.ClearOTP()
	if u.VerifiedAt == nil {
		t := at
		u.VerifiedAt = &t
	}
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	if u.VerifiedAt != nil {
		t := *u.VerifiedAt
		cp.VerifiedAt = &t
	}
	if u.OTPCode != nil {
		c := *u.OTPCode
		cp.OTPCode = &c
	}
	if u.OTPExpiry != nil {
		t := *u.OTPExpiry
		cp.OTPExpiry = &t
	}
	return &cp
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type VerifyOTPRequest struct {
	Email string   `json:"email" binding:"required"`
	OTP   OTPInput `json:"otp"`
}

type EmailRequest struct {
	Email string `json:"email" binding:"required"`
}

type ResetPasswordRequest struct {
	NewPassword string `json:"newPassword" binding:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

type UpdateProfileRequest struct {
	Name string `json:"name"`
}
