package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"userauth/internal/authz"
	"userauth/internal/logging"
	"userauth/internal/models"
	"userauth/internal/ratelimit"
	"userauth/internal/repositories"
	"userauth/internal/utils"
)

type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

func (in RegisterInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.RuneLength(0, 100)),
		validation.Field(&in.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&in.Password, passwordRules...),
	)
}

type ProfileInput struct {
	Name string
}

func (in ProfileInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.RuneLength(0, 100)),
	)
}

// bcrypt ignores everything past 72 bytes
var passwordRules = []validation.Rule{validation.Required, validation.Length(6, 72)}

// Session is a freshly minted login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      *models.User
}

type VerifyResult struct {
	AlreadyVerified bool
}

type ResendResult struct {
	AlreadyVerified bool
}

// AccountService owns the account lifecycle: registration, email
// verification, login and password management.
type AccountService interface {
	Register(ctx context.Context, in RegisterInput) (*models.User, error)
	VerifyOTP(ctx context.Context, email, code string) (VerifyResult, error)
	ResendOTP(ctx context.Context, email string) (ResendResult, error)
	Login(ctx context.Context, email, password string) (*Session, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) (*Session, error)
	GetProfile(ctx context.Context, userID string) (*models.User, error)
	UpdateProfile(ctx context.Context, userID string, in ProfileInput) (*models.User, error)
	// Authenticate resolves a session token to the user id it was issued for.
	Authenticate(ctx context.Context, token string) (string, error)
}

type AccountConfig struct {
	SessionTTL time.Duration
	// FrontendURL is the base of the password reset link.
	FrontendURL string
	// LogOTP writes issued codes to the debug log (development only).
	LogOTP bool
}

type accountService struct {
	users repositories.UserRepository
	auth  AuthService
	mail  EmailService
	log   logging.Logger
	cfg   AccountConfig

	otpLimiter   ratelimit.Limiter
	resetLimiter ratelimit.Limiter
	now          func() time.Time
	generateOTP  func() (string, error)
}

type AccountOption func(*accountService)

func WithAccountClock(now func() time.Time) AccountOption {
	return func(s *accountService) {
		if now != nil {
			s.now = now
		}
	}
}

func WithOTPGenerator(gen func() (string, error)) AccountOption {
	return func(s *accountService) {
		if gen != nil {
			s.generateOTP = gen
		}
	}
}

// WithLimiters throttles resend-OTP and forgot-password mail per identity.
func WithLimiters(otp, reset ratelimit.Limiter) AccountOption {
	return func(s *accountService) {
		if otp != nil {
			s.otpLimiter = otp
		}
		if reset != nil {
			s.resetLimiter = reset
		}
	}
}

func NewAccountService(
	users repositories.UserRepository,
	auth AuthService,
	mail EmailService,
	log logging.Logger,
	cfg AccountConfig,
	opts ...AccountOption,
) AccountService {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	s := &accountService{
		users:        users,
		auth:         auth,
		mail:         mail,
		log:          log,
		cfg:          cfg,
		otpLimiter:   ratelimit.Noop(),
		resetLimiter: ratelimit.Noop(),
		now:          time.Now,
		generateOTP:  utils.GenerateOTP,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NormalizeEmail is the single case policy for login identities.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *accountService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Email = NormalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return nil, newError(KindValidation, err.Error(), err)
	}

	hash, err := s.auth.HashPassword(in.Password)
	if err != nil {
		return nil, s.internal(ctx, "register", err)
	}
	code, err := s.generateOTP()
	if err != nil {
		return nil, s.internal(ctx, "register", err)
	}

	now := s.now()
	user := &models.User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         authz.RoleUser,
	}
	user.SetOTP(code, now.Add(utils.OTPTTL))

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrDuplicateEmail) {
			s.log.Info(ctx, "[auth][register] duplicate identity", "email", in.Email)
			return nil, newError(KindDuplicateIdentity, "Email already exists", err)
		}
		return nil, s.storeErr(ctx, "register", err)
	}
	s.log.Info(ctx, "[auth][register] account created", "user_id", user.ID, "email", user.Email)
	s.debugOTP(ctx, "register", user.Email, code)

	subject, body := verificationMail(code, false)
	if err := s.mail.Send(ctx, user.Email, subject, body); err != nil {
		// откатываем запись, чтобы повторная регистрация с тем же email прошла
		s.log.Error(ctx, "[auth][register] verification mail failed, rolling back", "user_id", user.ID, "err", err)
		if delErr := s.users.Delete(context.WithoutCancel(ctx), user.ID); delErr != nil {
			s.log.Error(ctx, "[auth][register] rollback failed", "user_id", user.ID, "err", delErr)
		}
		return nil, newError(KindInternal, "Failed to send verification email. Please try again.", err)
	}

	return publicUser(user), nil
}

func (s *accountService) VerifyOTP(ctx context.Context, email, code string) (VerifyResult, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return VerifyResult{}, newError(KindValidation, "email: cannot be blank.", nil)
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return VerifyResult{}, s.storeErr(ctx, "verify", err)
	}
	if user.IsVerified {
		return VerifyResult{AlreadyVerified: true}, nil
	}

	now := s.now()
	if user.OTPCode == nil || user.OTPExpiry == nil ||
		!now.Before(*user.OTPExpiry) ||
		!utils.OTPEqual(*user.OTPCode, strings.TrimSpace(code)) {
		s.log.Info(ctx, "[auth][verify] rejected code", "user_id", user.ID)
		return VerifyResult{}, newError(KindInvalidOrExpiredCode, msgInvalidOTP, nil)
	}

	err = s.users.MarkVerified(ctx, user.ID, *user.OTPCode, now)
	if errors.Is(err, repositories.ErrStale) {
		// между чтением и записью код сменили или аккаунт уже подтвердили
		cur, getErr := s.users.GetByID(ctx, user.ID)
		if getErr == nil && cur.IsVerified {
			return VerifyResult{AlreadyVerified: true}, nil
		}
		s.log.Info(ctx, "[auth][verify] code changed concurrently", "user_id", user.ID)
		return VerifyResult{}, newError(KindInvalidOrExpiredCode, msgInvalidOTP, err)
	}
	if err != nil {
		return VerifyResult{}, s.storeErr(ctx, "verify", err)
	}
	s.log.Info(ctx, "[auth][verify] account verified", "user_id", user.ID)
	return VerifyResult{}, nil
}

func (s *accountService) ResendOTP(ctx context.Context, email string) (ResendResult, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return ResendResult{}, newError(KindValidation, "email: cannot be blank.", nil)
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return ResendResult{}, s.storeErr(ctx, "resend", err)
	}
	if user.IsVerified {
		return ResendResult{AlreadyVerified: true}, nil
	}
	if err := s.allow(ctx, s.otpLimiter, "resend", user.Email); err != nil {
		return ResendResult{}, err
	}

	code, err := s.generateOTP()
	if err != nil {
		return ResendResult{}, s.internal(ctx, "resend", err)
	}
	err = s.users.SetOTP(ctx, user.ID, code, s.now().Add(utils.OTPTTL))
	if errors.Is(err, repositories.ErrStale) {
		return ResendResult{AlreadyVerified: true}, nil
	}
	if err != nil {
		return ResendResult{}, s.storeErr(ctx, "resend", err)
	}
	s.debugOTP(ctx, "resend", user.Email, code)

	subject, body := verificationMail(code, true)
	if err := s.mail.Send(ctx, user.Email, subject, body); err != nil {
		s.log.Error(ctx, "[auth][resend] mail failed", "user_id", user.ID, "err", err)
		return ResendResult{}, newError(KindInternal, "Failed to send OTP email. Please try again.", err)
	}
	s.log.Info(ctx, "[auth][resend] otp rotated", "user_id", user.ID)
	return ResendResult{}, nil
}

func (s *accountService) Login(ctx context.Context, email, password string) (*Session, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, newError(KindValidation, "Please Enter Email & Password", nil)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			// тот же ответ и та же цена, что и при неверном пароле
			s.auth.EqualizeTiming(password)
			s.log.Info(ctx, "[auth][login] unknown identity", "email", email)
			return nil, newError(KindInvalidCredentials, msgInvalidCredentials, err)
		}
		return nil, s.storeErr(ctx, "login", err)
	}
	if !user.IsVerified {
		s.log.Info(ctx, "[auth][login] not verified", "user_id", user.ID)
		return nil, newError(KindNotVerified, "Your account is not verified. Please verify your email first.", nil)
	}
	if !s.auth.CheckPassword(password, user.PasswordHash) {
		s.log.Info(ctx, "[auth][login] password mismatch", "user_id", user.ID)
		return nil, newError(KindInvalidCredentials, msgInvalidCredentials, nil)
	}

	session, err := s.newSession(user)
	if err != nil {
		return nil, s.internal(ctx, "login", err)
	}
	s.log.Info(ctx, "[auth][login] success", "user_id", user.ID)
	return session, nil
}

func (s *accountService) ForgotPassword(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return newError(KindValidation, "email: cannot be blank.", nil)
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return s.storeErr(ctx, "forgot", err)
	}
	if err := s.allow(ctx, s.resetLimiter, "forgot", user.Email); err != nil {
		return err
	}

	token, _, err := s.auth.IssueToken(user.ID, PurposePasswordReset, ResetTokenTTL, PasswordFingerprint(user.PasswordHash))
	if err != nil {
		return s.internal(ctx, "forgot", err)
	}
	resetURL := s.cfg.FrontendURL + "/password/reset/" + url.PathEscape(token)

	subject, body := resetMail(resetURL)
	if err := s.mail.Send(ctx, user.Email, subject, body); err != nil {
		s.log.Error(ctx, "[auth][forgot] mail failed", "user_id", user.ID, "err", err)
		return newError(KindInternal, "Failed to send reset email. Please try again.", err)
	}
	s.log.Info(ctx, "[auth][forgot] reset link sent", "user_id", user.ID)
	return nil
}

func (s *accountService) ResetPassword(ctx context.Context, token, newPassword string) error {
	claims, err := s.auth.VerifyToken(strings.TrimSpace(token), PurposePasswordReset)
	if err != nil {
		s.log.Info(ctx, "[auth][reset] token rejected", "err", err)
		return newError(KindInvalidOrExpiredToken, msgInvalidResetToken, err)
	}
	if err := validation.Validate(newPassword, passwordRules...); err != nil {
		return newError(KindValidation, "newPassword: "+err.Error()+".", err)
	}

	user, err := s.users.GetByID(ctx, claims.UserID())
	if err != nil {
		return s.storeErr(ctx, "reset", err)
	}
	// пароль уже меняли после выдачи ссылки, ссылка одноразовая
	if claims.Fingerprint != PasswordFingerprint(user.PasswordHash) {
		s.log.Info(ctx, "[auth][reset] token already used", "user_id", user.ID)
		return newError(KindInvalidOrExpiredToken, msgInvalidResetToken, nil)
	}

	err = s.setPassword(ctx, user, newPassword)
	if errors.Is(err, repositories.ErrStale) {
		s.log.Info(ctx, "[auth][reset] token used concurrently", "user_id", user.ID)
		return newError(KindInvalidOrExpiredToken, msgInvalidResetToken, err)
	}
	if err != nil {
		return s.storeErr(ctx, "reset", err)
	}
	s.log.Info(ctx, "[auth][reset] password replaced", "user_id", user.ID)
	return nil
}

func (s *accountService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) (*Session, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, s.storeErr(ctx, "change-password", err)
	}
	if !s.auth.CheckPassword(currentPassword, user.PasswordHash) {
		s.log.Info(ctx, "[auth][change-password] current password mismatch", "user_id", user.ID)
		return nil, newError(KindInvalidCredentials, "Current password is incorrect", nil)
	}
	if err := validation.Validate(newPassword, passwordRules...); err != nil {
		return nil, newError(KindValidation, "newPassword: "+err.Error()+".", err)
	}

	err = s.setPassword(ctx, user, newPassword)
	if errors.Is(err, repositories.ErrStale) {
		s.log.Info(ctx, "[auth][change-password] password changed concurrently", "user_id", user.ID)
		return nil, newError(KindInvalidCredentials, "Current password is incorrect", err)
	}
	if err != nil {
		return nil, s.storeErr(ctx, "change-password", err)
	}

	session, err := s.newSession(user)
	if err != nil {
		return nil, s.internal(ctx, "change-password", err)
	}
	s.log.Info(ctx, "[auth][change-password] password replaced", "user_id", user.ID)
	return session, nil
}

func (s *accountService) GetProfile(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, s.storeErr(ctx, "profile", err)
	}
	return publicUser(user), nil
}

func (s *accountService) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (*models.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return nil, newError(KindValidation, err.Error(), err)
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, s.storeErr(ctx, "update-profile", err)
	}
	if err := s.users.UpdateName(ctx, user.ID, in.Name); err != nil {
		return nil, s.storeErr(ctx, "update-profile", err)
	}
	user.Name = in.Name
	s.log.Info(ctx, "[auth][update-profile] profile updated", "user_id", user.ID)
	return publicUser(user), nil
}

func (s *accountService) Authenticate(_ context.Context, token string) (string, error) {
	claims, err := s.auth.VerifyToken(token, PurposeSession)
	if err != nil {
		return "", newError(KindUnauthorized, "Invalid Token", err)
	}
	return claims.UserID(), nil
}

// setPassword is the only place a new plaintext password turns into a hash.
// The write only lands if the stored hash is still the one user was read with.
func (s *accountService) setPassword(ctx context.Context, user *models.User, plain string) error {
	hash, err := s.auth.HashPassword(plain)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, user.PasswordHash, hash); err != nil {
		return err
	}
	user.PasswordHash = hash
	return nil
}

func (s *accountService) newSession(user *models.User) (*Session, error) {
	token, exp, err := s.auth.IssueToken(user.ID, PurposeSession, s.cfg.SessionTTL, "")
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: exp, User: publicUser(user)}, nil
}

func (s *accountService) allow(ctx context.Context, l ratelimit.Limiter, op, email string) error {
	err := l.Allow(ctx, email)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ratelimit.ErrLimited):
		s.log.Warn(ctx, "[auth]["+op+"] throttled", "email", email)
		return newError(KindTooManyRequests, "Too many requests. Please try again later.", err)
	default:
		// лимитер недоступен, не блокируем пользователя
		s.log.Warn(ctx, "[auth]["+op+"] limiter unavailable", "err", err)
		return nil
	}
}

func (s *accountService) debugOTP(ctx context.Context, op, email, code string) {
	if s.cfg.LogOTP {
		s.log.Debug(ctx, "[auth]["+op+"] otp issued", "email", email, "otp", code)
	}
}

func (s *accountService) storeErr(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return newError(KindNotFound, msgUserNotFound, err)
	case errors.Is(err, repositories.ErrDuplicateEmail):
		return newError(KindDuplicateIdentity, "Email already exists", err)
	default:
		return s.internal(ctx, op, err)
	}
}

func (s *accountService) internal(ctx context.Context, op string, err error) error {
	s.log.Error(ctx, "[auth]["+op+"] internal error", "err", err)
	return newError(KindInternal, msgInternal, err)
}

// publicUser strips everything a client must never see.
func publicUser(u *models.User) *models.User {
	cp := u.Clone()
	cp.PasswordHash = ""
	cp.ClearOTP()
	return cp
}
