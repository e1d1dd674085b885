package notification

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/carepoint-health/carepoint/internal/logging"
)

func TestLoggerNotifierWritesMessage(t *testing.T) {
	var buf bytes.Buffer
	n := NewLoggerNotifier(logging.NewWithWriter(&buf, "info"))

	msg := OTPMessage(KindLoginOTP, "+15550100", "424242", 10*time.Minute)
	if err := n.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "+15550100") || !strings.Contains(out, "424242") {
		t.Fatalf("expected destination and code in dev log, got %s", out)
	}
	if !strings.Contains(out, KindLoginOTP) || !strings.Contains(out, "10 minutes") {
		t.Fatalf("expected kind in log, got %s", out)
	}
}

func TestLoggerNotifierRejectsEmptyDestination(t *testing.T) {
	n := NewLoggerNotifier(logging.Discard())
	err := n.Send(context.Background(), OTPMessage(KindRegistrationOTP, "", "111111", 10*time.Minute))
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
}

func TestLoggerNotifierWithoutLoggerFailsDelivery(t *testing.T) {
	msg := OTPMessage(KindLoginOTP, "+15550100", "424242", 10*time.Minute)

	var nilNotifier *LoggerNotifier
	if err := nilNotifier.Send(context.Background(), msg); !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery from nil notifier, got %v", err)
	}
	if err := NewLoggerNotifier(nil).Send(context.Background(), msg); !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery without logger, got %v", err)
	}
}
