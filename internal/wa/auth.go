package wa

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/wppsync/internal/bus"
)

// AuthEventType enumerates pairing outcomes.
type AuthEventType string

const (
	AuthEventQRCode        AuthEventType = "qr_code"
	AuthEventAuthenticated AuthEventType = "authenticated"
	AuthEventAuthFailed    AuthEventType = "auth_failed"
	AuthEventTimeout       AuthEventType = "timeout"
)

// AuthEvent is one step of the pairing flow.
type AuthEvent struct {
	Type    AuthEventType
	QRCode  string
	Message string
}

// StartQRAuth begins the QR pairing flow. Codes and the outcome are sent on
// the returned channel, which is closed when pairing ends, and mirrored on
// the bus under the session.* namespace.
func (a *Adapter) StartQRAuth(ctx context.Context) (<-chan AuthEvent, error) {
	if a.Paired() {
		return nil, ErrAlreadyPaired
	}
	qrChan, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get QR channel: %w", err)
	}

	out := make(chan AuthEvent, 10)
	send := func(evt AuthEvent, kind string, payload any) {
		out <- evt
		if a.bus != nil {
			a.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
		}
	}

	go func() {
		defer close(out)

		// The QR channel must exist before connecting.
		if err := a.connect(); err != nil {
			send(AuthEvent{Type: AuthEventAuthFailed, Message: err.Error()}, "session.auth_failed", err.Error())
			return
		}

		for item := range qrChan {
			switch {
			case item.Event == "code":
				send(AuthEvent{Type: AuthEventQRCode, QRCode: item.Code}, "session.qr_generated", item.Code)
			case item.Event == "success":
				send(AuthEvent{Type: AuthEventAuthenticated, Message: "authenticated"}, "session.authenticated", a.PhoneNumber())
				return
			case item.Event == "timeout":
				send(AuthEvent{Type: AuthEventTimeout, Message: "QR code timeout"}, "session.auth_failed", "timeout")
				return
			case item.Error != nil:
				send(AuthEvent{Type: AuthEventAuthFailed, Message: item.Error.Error()}, "session.auth_failed", item.Error.Error())
				return
			}
		}
	}()

	return out, nil
}
