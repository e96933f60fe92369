package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"userauth/internal/models"
	"userauth/internal/repositories"
)

// interleavingRepo runs afterRead once, right after the next GetByEmail or
// GetByID returns. That puts a second request between the first one's read
// and its write.
type interleavingRepo struct {
	repositories.UserRepository
	afterRead func()
}

func (r *interleavingRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := r.UserRepository.GetByEmail(ctx, email)
	r.fire()
	return u, err
}

func (r *interleavingRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	u, err := r.UserRepository.GetByID(ctx, id)
	r.fire()
	return u, err
}

func (r *interleavingRepo) fire() {
	if f := r.afterRead; f != nil {
		r.afterRead = nil
		f()
	}
}

func (f *fixture) stored(t *testing.T, id string) *models.User {
	t.Helper()
	u, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

func TestInterleave_VerifyDuringResendStaysVerified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "alice@example.com", "pw1pw1")

	f.hooks.afterRead = func() {
		_, err := f.svc.VerifyOTP(ctx, "alice@example.com", "123456")
		assert.NoError(t, err)
	}
	res, err := f.svc.ResendOTP(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, res.AlreadyVerified)

	got := f.stored(t, u.ID)
	assert.True(t, got.IsVerified)
	assert.NotNil(t, got.VerifiedAt)
	assert.Nil(t, got.OTPCode)
	assert.Nil(t, got.OTPExpiry)
	// только письмо о регистрации
	assert.Len(t, f.mail.sent, 1)

	_, err = f.svc.Login(ctx, "alice@example.com", "pw1pw1")
	assert.NoError(t, err)
}

func TestInterleave_ResendDuringVerifyRejectsOldCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "alice@example.com", "pw1pw1")

	f.hooks.afterRead = func() {
		_, err := f.svc.ResendOTP(ctx, "alice@example.com")
		assert.NoError(t, err)
	}
	_, err := f.svc.VerifyOTP(ctx, "alice@example.com", "123456")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredCode)
	assert.False(t, f.stored(t, u.ID).IsVerified)

	_, err = f.svc.VerifyOTP(ctx, "alice@example.com", "654321")
	require.NoError(t, err)
	assert.True(t, f.stored(t, u.ID).IsVerified)
}

func TestInterleave_DoubleVerifyReportsAlreadyVerified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "alice@example.com", "pw1pw1")

	f.hooks.afterRead = func() {
		_, err := f.svc.VerifyOTP(ctx, "alice@example.com", "123456")
		assert.NoError(t, err)
	}
	res, err := f.svc.VerifyOTP(ctx, "alice@example.com", "123456")
	require.NoError(t, err)
	assert.True(t, res.AlreadyVerified)

	first := f.stored(t, u.ID).VerifiedAt
	require.NotNil(t, first)
	assert.Equal(t, f.clock.Now(), *first)
}

func TestInterleave_ProfileUpdateKeepsConcurrentPasswordChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.registerVerified(t, "alice@example.com", "pw1pw1")

	f.hooks.afterRead = func() {
		_, err := f.svc.ChangePassword(ctx, u.ID, "pw1pw1", "newpw123")
		assert.NoError(t, err)
	}
	p, err := f.svc.UpdateProfile(ctx, u.ID, ProfileInput{Name: "Bob"})
	require.NoError(t, err)
	assert.Equal(t, "Bob", p.Name)
	assert.Empty(t, p.PasswordHash)

	_, err = f.svc.Login(ctx, "alice@example.com", "newpw123")
	assert.NoError(t, err)
	_, err = f.svc.Login(ctx, "alice@example.com", "pw1pw1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, "Bob", f.stored(t, u.ID).Name)
}

func TestInterleave_PasswordChangeKeepsConcurrentProfileUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.registerVerified(t, "alice@example.com", "pw1pw1")

	f.hooks.afterRead = func() {
		_, err := f.svc.UpdateProfile(ctx, u.ID, ProfileInput{Name: "Bob"})
		assert.NoError(t, err)
	}
	_, err := f.svc.ChangePassword(ctx, u.ID, "pw1pw1", "newpw123")
	require.NoError(t, err)

	assert.Equal(t, "Bob", f.stored(t, u.ID).Name)
	_, err = f.svc.Login(ctx, "alice@example.com", "newpw123")
	assert.NoError(t, err)
}

func TestInterleave_ConcurrentPasswordChangesOnlyFirstLands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.registerVerified(t, "alice@example.com", "pw1pw1")

	f.hooks.afterRead = func() {
		_, err := f.svc.ChangePassword(ctx, u.ID, "pw1pw1", "other123")
		assert.NoError(t, err)
	}
	_, err := f.svc.ChangePassword(ctx, u.ID, "pw1pw1", "mine1234")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, "Current password is incorrect", PublicMessage(err))

	_, err = f.svc.Login(ctx, "alice@example.com", "other123")
	assert.NoError(t, err)
	_, err = f.svc.Login(ctx, "alice@example.com", "mine1234")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestInterleave_ResetTokenRedeemedTwiceOnlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerVerified(t, "alice@example.com", "pw1pw1")
	require.NoError(t, f.svc.ForgotPassword(ctx, "alice@example.com"))
	token := resetTokenFromMail(t, f.mail.last(t))

	f.hooks.afterRead = func() {
		assert.NoError(t, f.svc.ResetPassword(ctx, token, "second1"))
	}
	err := f.svc.ResetPassword(ctx, token, "first11")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	_, err = f.svc.Login(ctx, "alice@example.com", "second1")
	assert.NoError(t, err)
	_, err = f.svc.Login(ctx, "alice@example.com", "first11")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestInterleave_ResetDuringChangePasswordRejectsChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.registerVerified(t, "alice@example.com", "pw1pw1")
	require.NoError(t, f.svc.ForgotPassword(ctx, "alice@example.com"))
	token := resetTokenFromMail(t, f.mail.last(t))

	f.hooks.afterRead = func() {
		assert.NoError(t, f.svc.ResetPassword(ctx, token, "reset123"))
	}
	_, err := f.svc.ChangePassword(ctx, u.ID, "pw1pw1", "change12")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, "alice@example.com", "reset123")
	assert.NoError(t, err)
}
