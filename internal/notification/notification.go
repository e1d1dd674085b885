package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	// KindRegistrationOTP carries the code confirming a new account.
	KindRegistrationOTP = "registration_otp"
	// KindLoginOTP carries the second-factor code for a sign-in.
	KindLoginOTP = "login_otp"
)

// ErrDelivery marks a message the gateway could not hand off.
var ErrDelivery = errors.New("notification delivery failed")

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// OTPMessage builds the SMS text for a one-time code.
func OTPMessage(kind, destination, code string, ttl time.Duration) Message {
	purpose := "verification"
	if kind == KindLoginOTP {
		purpose = "sign-in"
	}
	body := fmt.Sprintf("Your CarePoint %s code is %s. It expires in %d minutes.", purpose, code, int(ttl.Minutes()))
	return Message{Kind: kind, Destination: destination, Body: body}
}

// LoggerNotifier is the development gateway: it writes messages to the logger
// instead of an SMS provider.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return fmt.Errorf("%w: notifier has no logger", ErrDelivery)
	}
	if message.Destination == "" {
		return fmt.Errorf("%w: empty destination", ErrDelivery)
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
	return nil
}
