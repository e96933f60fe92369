package services

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"userauth/internal/logging"
)

// EmailService delivers account mail. Send may fail; callers decide what a
// failure means for the operation in progress.
type EmailService interface {
	Send(ctx context.Context, to, subject, body string) error
}

type emailService struct {
	dialer *gomail.Dialer
	from   string
}

func NewEmailService(smtpHost string, smtpPort int, smtpUser, smtpPassword, fromEmail string) EmailService {
	dialer := gomail.NewDialer(smtpHost, smtpPort, smtpUser, smtpPassword)
	return &emailService{
		dialer: dialer,
		from:   fromEmail,
	}
}

func (s *emailService) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

type logEmailService struct {
	log logging.Logger
}

// NewLogEmailService writes mail to the log instead of sending it. Meant for
// local development only; config validation refuses it in production.
func NewLogEmailService(log logging.Logger) EmailService {
	return &logEmailService{log: log}
}

func (s *logEmailService) Send(ctx context.Context, to, subject, body string) error {
	s.log.Info(ctx, "[mail][log-only] message", "to", to, "subject", subject, "body", body)
	return nil
}

func verificationMail(otp string, resend bool) (subject, body string) {
	if resend {
		return "Resend OTP for Email Verification",
			fmt.Sprintf("Your new OTP for email verification is %s. It is valid for 10 minutes.", otp)
	}
	return "Email Verification Code",
		fmt.Sprintf("Your OTP for email verification is %s. It is valid for 10 minutes.", otp)
}

func resetMail(resetURL string) (subject, body string) {
	return "Password Reset Request",
		fmt.Sprintf("You requested a password reset. Please use the following link to reset your password: %s\n\n"+
			"The link is valid for 10 minutes. If you did not request this change, you can ignore this email.", resetURL)
}
