package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"consultlink-backend/pkg/logger"
)

// EmailType represents the type of email to send
type EmailType string

const (
	EmailTypeSessionRequest EmailType = "session_request"
	EmailTypeSessionSummary EmailType = "session_summary"
)

// Email represents an email to be sent
type Email struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// SessionRequestEmailData contains data for a session request notice
type SessionRequestEmailData struct {
	ConsultantName string
	ClientName     string
	CostPerMinute  float64
	AppURL         string
}

// SessionSummaryEmailData contains data for a post-session billing summary
type SessionSummaryEmailData struct {
	RecipientName   string
	DurationSeconds int64
	TotalCost       float64
	AppURL          string
}

// Sender defines the interface for sending emails
type Sender interface {
	Send(ctx context.Context, email *Email) error
}

// MockSender is a mock implementation for development/testing
type MockSender struct{}

// Send sends an email (mock implementation)
func (m *MockSender) Send(ctx context.Context, email *Email) error {
	logger.Info("Mock email sent",
		zap.String("to", email.To),
		zap.String("subject", email.Subject))
	return nil
}

// SMTPSender sends emails through an SMTP relay
type SMTPSender struct {
	host string
	port int
	from string
	auth smtp.Auth
}

// NewSMTPSender creates an SMTP-backed sender
func NewSMTPSender(host string, port int, username, password, from string) *SMTPSender {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTPSender{
		host: host,
		port: port,
		from: from,
		auth: auth,
	}
}

// Send sends an email over SMTP
func (s *SMTPSender) Send(ctx context.Context, email *Email) error {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", email.To))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", email.Subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	if email.HTML != "" {
		msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
		msg.WriteString(email.HTML)
	} else {
		msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
		msg.WriteString(email.Text)
	}

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	if err := smtp.SendMail(addr, s.auth, s.from, []string{email.To}, []byte(msg.String())); err != nil {
		logger.Error("Failed to send email",
			zap.String("to", email.To),
			zap.String("subject", email.Subject),
			zap.Error(err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	logger.Info("Email sent",
		zap.String("to", email.To),
		zap.String("subject", email.Subject))
	return nil
}

// Service handles email sending operations
type Service struct {
	sender Sender
}

// NewService creates a new email service
func NewService(sender Sender) *Service {
	return &Service{
		sender: sender,
	}
}

// SendSessionRequestEmail notifies a consultant of a pending session request
func (s *Service) SendSessionRequestEmail(ctx context.Context, to string, data *SessionRequestEmailData) error {
	return s.sender.Send(ctx, &Email{
		To:      to,
		Subject: "New session request on ConsultLink",
		Text:    s.buildSessionRequestText(data),
		HTML:    s.buildSessionRequestHTML(data),
	})
}

// SendSessionSummaryEmail sends the billing summary after a session completes
func (s *Service) SendSessionSummaryEmail(ctx context.Context, to string, data *SessionSummaryEmailData) error {
	return s.sender.Send(ctx, &Email{
		To:      to,
		Subject: "Your ConsultLink session summary",
		Text:    s.buildSessionSummaryText(data),
		HTML:    s.buildSessionSummaryHTML(data),
	})
}

func (s *Service) buildSessionRequestText(data *SessionRequestEmailData) string {
	return fmt.Sprintf(`Hi %s,

%s is requesting a consultation with you on ConsultLink at your rate of $%.2f/min.

Open your dashboard to accept or decline:

%s/dashboard

Best regards,
The ConsultLink Team`, data.ConsultantName, data.ClientName, data.CostPerMinute, data.AppURL)
}

func (s *Service) buildSessionRequestHTML(data *SessionRequestEmailData) string {
	return fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>New Session Request - ConsultLink</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .container { background: #f9f9f9; padding: 40px 20px; border-radius: 8px; }
        .header { text-align: center; margin-bottom: 30px; }
        .logo { font-size: 24px; font-weight: bold; color: #4a90e2; }
        .content { background: #ffffff; padding: 30px; border-radius: 8px; }
        .button { display: inline-block; padding: 12px 30px; background: #4a90e2; color: #ffffff; text-decoration: none; border-radius: 5px; margin: 20px 0; }
        .footer { text-align: center; margin-top: 30px; color: #666; font-size: 12px; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <div class="logo">ConsultLink</div>
        </div>
        <div class="content">
            <h2>New Session Request</h2>
            <p>Hi %s,</p>
            <p><strong>%s</strong> is requesting a consultation with you at your rate of $%.2f/min.</p>
            <p style="text-align: center;">
                <a href="%s/dashboard" class="button">Open Dashboard</a>
            </p>
        </div>
        <div class="footer">
            <p>&copy; %d ConsultLink. All rights reserved.</p>
        </div>
    </div>
</body>
</html>`, data.ConsultantName, data.ClientName, data.CostPerMinute, data.AppURL, time.Now().Year())
}

func (s *Service) buildSessionSummaryText(data *SessionSummaryEmailData) string {
	minutes := data.DurationSeconds / 60
	seconds := data.DurationSeconds % 60
	return fmt.Sprintf(`Hi %s,

Your consultation session has ended.

Duration: %dm %ds
Total: $%.2f

View the full transcript and receipt:

%s/sessions

Best regards,
The ConsultLink Team`, data.RecipientName, minutes, seconds, data.TotalCost, data.AppURL)
}

func (s *Service) buildSessionSummaryHTML(data *SessionSummaryEmailData) string {
	minutes := data.DurationSeconds / 60
	seconds := data.DurationSeconds % 60
	return fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Session Summary - ConsultLink</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .container { background: #f9f9f9; padding: 40px 20px; border-radius: 8px; }
        .header { text-align: center; margin-bottom: 30px; }
        .logo { font-size: 24px; font-weight: bold; color: #4a90e2; }
        .content { background: #ffffff; padding: 30px; border-radius: 8px; }
        .button { display: inline-block; padding: 12px 30px; background: #4a90e2; color: #ffffff; text-decoration: none; border-radius: 5px; margin: 20px 0; }
        .footer { text-align: center; margin-top: 30px; color: #666; font-size: 12px; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <div class="logo">ConsultLink</div>
        </div>
        <div class="content">
            <h2>Session Summary</h2>
            <p>Hi %s,</p>
            <p>Your consultation session has ended.</p>
            <p><strong>Duration:</strong> %dm %ds<br/>
               <strong>Total:</strong> $%.2f</p>
            <p style="text-align: center;">
                <a href="%s/sessions" class="button">View Receipt</a>
            </p>
        </div>
        <div class="footer">
            <p>&copy; %d ConsultLink. All rights reserved.</p>
        </div>
    </div>
</body>
</html>`, data.RecipientName, minutes, seconds, data.TotalCost, data.AppURL, time.Now().Year())
}
