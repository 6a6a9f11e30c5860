package notify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
	"github.com/gofiber/fiber/v2/log"
	"google.golang.org/api/option"

	"github.com/ManuelReschke/Taskly/internal/pkg/apperrors"
	"github.com/ManuelReschke/Taskly/internal/pkg/env"
)

// PushGateway sends one push message to a device token and returns the
// provider message id.
type PushGateway interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) (string, error)
}

// FCMGateway sends pushes through Firebase Cloud Messaging.
type FCMGateway struct {
	send func(ctx context.Context, msg *messaging.Message) (string, error)
}

// NewFCMGateway wraps an initialized messaging client.
func NewFCMGateway(client *messaging.Client) *FCMGateway {
	return &FCMGateway{send: client.Send}
}

// NewFCMGatewayFromEnv initializes the Firebase app from FIREBASE_PROJECT_ID
// and either a credentials file or base64 encoded service account JSON.
func NewFCMGatewayFromEnv(ctx context.Context) (*FCMGateway, error) {
	projectID := env.GetEnv("FIREBASE_PROJECT_ID", "")
	if projectID == "" {
		return nil, errors.New("FIREBASE_PROJECT_ID must be set")
	}

	var opt option.ClientOption
	credsPath := env.GetEnv("FIREBASE_CREDENTIALS_FILE", env.GetEnv("GOOGLE_APPLICATION_CREDENTIALS", ""))
	credsJSONBase64 := env.GetEnv("FIREBASE_SERVICE_ACCOUNT_JSON_BASE64", "")

	switch {
	case credsPath != "":
		opt = option.WithCredentialsFile(credsPath)
	case credsJSONBase64 != "":
		jsonKey, err := base64.StdEncoding.DecodeString(credsJSONBase64)
		if err != nil {
			return nil, errors.New("FIREBASE_SERVICE_ACCOUNT_JSON_BASE64 is not a valid base64 string")
		}
		opt = option.WithCredentialsJSON(jsonKey)
	default:
		return nil, errors.New("either FIREBASE_CREDENTIALS_FILE or FIREBASE_SERVICE_ACCOUNT_JSON_BASE64 must be set")
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opt)
	if err != nil {
		return nil, fmt.Errorf("initializing firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initializing firebase messaging: %w", err)
	}
	log.Infof("[Notify] Firebase messaging initialized for project %s", projectID)
	return NewFCMGateway(client), nil
}

// Send delivers a push. Unregistered or malformed tokens are reported as
// permanent delivery errors.
func (g *FCMGateway) Send(ctx context.Context, token, title, body string, data map[string]string) (string, error) {
	if token == "" {
		return "", &apperrors.NotificationDeliveryError{Channel: "push", Permanent: true, Err: errors.New("no device token")}
	}
	id, err := g.send(ctx, buildMessage(token, title, body, data))
	if err != nil {
		return "", &apperrors.NotificationDeliveryError{Channel: "push", Permanent: isTokenRejected(err), Err: err}
	}
	return id, nil
}

func isTokenRejected(err error) bool {
	return messaging.IsUnregistered(err) || errorutils.IsInvalidArgument(err)
}

// buildMessage produces a high priority message. Without title or body the
// message is a silent background push.
func buildMessage(token, title, body string, data map[string]string) *messaging.Message {
	if data == nil {
		data = map[string]string{}
	}
	ttl := time.Duration(0)
	pushType := "alert"
	sound := "default"
	if title == "" {
		pushType = "background"
		sound = ""
	}

	msg := &messaging.Message{
		Token: token,
		Data:  data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			TTL:      &ttl,
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority":  "10",
				"apns-push-type": pushType,
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{ContentAvailable: true, Sound: sound},
			},
		},
	}
	if title != "" || body != "" {
		msg.Notification = &messaging.Notification{Title: title, Body: body}
		msg.Android.Notification = &messaging.AndroidNotification{
			Sound:       "default",
			ClickAction: "FLUTTER_NOTIFICATION_CLICK",
		}
	}
	return msg
}
