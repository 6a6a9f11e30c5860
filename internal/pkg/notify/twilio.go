package notify

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2/log"
	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"

	"github.com/ManuelReschke/Taskly/internal/pkg/apperrors"
	"github.com/ManuelReschke/Taskly/internal/pkg/env"
)

const (
	callVoice    = "Polly.Joanna"
	callLanguage = "en-US"
	callClosing  = "Please check the Taskly app for more details. Thank you!"
)

// VoiceGateway places one call that reads message and returns the call id.
type VoiceGateway interface {
	Call(ctx context.Context, phone, message string) (string, error)
}

// TwilioGateway places reminder calls through the Twilio REST API.
type TwilioGateway struct {
	from   string
	create func(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
}

// NewTwilioGateway creates a gateway calling from the given number.
func NewTwilioGateway(accountSID, authToken, from string) *TwilioGateway {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioGateway{from: from, create: client.Api.CreateCall}
}

// NewTwilioGatewayFromEnv reads TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and
// TWILIO_PHONE_NUMBER.
func NewTwilioGatewayFromEnv() (*TwilioGateway, error) {
	sid := env.GetEnv("TWILIO_ACCOUNT_SID", "")
	token := env.GetEnv("TWILIO_AUTH_TOKEN", "")
	from := env.GetEnv("TWILIO_PHONE_NUMBER", "")
	if sid == "" || token == "" {
		return nil, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN must be set")
	}
	if from == "" {
		return nil, errors.New("TWILIO_PHONE_NUMBER must be set")
	}
	return NewTwilioGateway(sid, token, from), nil
}

// Call dials phone and reads message followed by a closing line.
func (g *TwilioGateway) Call(ctx context.Context, phone, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if phone == "" {
		return "", &apperrors.NotificationDeliveryError{Channel: "call", Permanent: true, Err: errors.New("no phone number")}
	}
	script, err := reminderTwiML(message)
	if err != nil {
		return "", &apperrors.NotificationDeliveryError{Channel: "call", Permanent: true, Err: err}
	}

	params := &openapi.CreateCallParams{}
	params.SetTo(phone)
	params.SetFrom(g.from)
	params.SetTwiml(script)

	call, err := g.create(params)
	if err != nil {
		return "", &apperrors.NotificationDeliveryError{Channel: "call", Permanent: isRejectedCall(err), Err: err}
	}
	sid := ""
	if call != nil && call.Sid != nil {
		sid = *call.Sid
	}
	log.Infof("[Notify] Twilio call initiated: %s", sid)
	return sid, nil
}

func reminderTwiML(message string) (string, error) {
	return twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{Message: message, Voice: callVoice, Language: callLanguage},
		&twiml.VoiceSay{Message: callClosing, Voice: callVoice, Language: callLanguage},
	})
}

// isRejectedCall reports client errors such as an invalid number.
func isRejectedCall(err error) bool {
	var restErr *twclient.TwilioRestError
	if errors.As(err, &restErr) {
		return restErr.Status >= http.StatusBadRequest && restErr.Status < http.StatusInternalServerError &&
			restErr.Status != http.StatusTooManyRequests
	}
	return false
}
