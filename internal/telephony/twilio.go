package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/antoniostano/callbridge/internal/observability"
)

const (
	callStatusCompleted   = "completed"
	defaultRequestTimeout = 10 * time.Second
)

var logger = observability.NewLogger("github.com/antoniostano/callbridge/internal/telephony")

// callUpdater is the slice of the Twilio REST API the controller needs.
type callUpdater interface {
	UpdateCall(sid string, params *openapi.UpdateCallParams) (*openapi.ApiV2010Call, error)
}

// TwilioController ends calls through the Twilio REST API.
type TwilioController struct {
	calls callUpdater
}

// NewTwilioController builds a REST controller whose requests give up after
// timeout. A timeout <= 0 uses 10s.
func NewTwilioController(accountSID, authToken string, timeout time.Duration) (*TwilioController, error) {
	if strings.TrimSpace(accountSID) == "" || strings.TrimSpace(authToken) == "" {
		return nil, errors.New("twilio account sid and auth token are required")
	}
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Client: newRESTClient(accountSID, authToken, timeout),
	})
	return &TwilioController{calls: rest.Api}, nil
}

func newRESTClient(accountSID, authToken string, timeout time.Duration) *client.Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	c := &client.Client{
		Credentials: client.NewCredentials(accountSID, authToken),
		HTTPClient:  &http.Client{Timeout: timeout},
	}
	c.SetAccountSid(accountSID)
	return c
}

// Hangup marks the call completed. The REST client is not context-aware, so
// ctx is only checked before the request goes out; the HTTP client timeout
// bounds the request itself.
func (c *TwilioController) Hangup(ctx context.Context, callSID string) error {
	if strings.TrimSpace(callSID) == "" {
		return errors.New("call sid is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &openapi.UpdateCallParams{}
	params.SetStatus(callStatusCompleted)
	call, err := c.calls.UpdateCall(callSID, params)
	if err != nil {
		return fmt.Errorf("update call %s: %w", callSID, err)
	}
	if call != nil && call.Sid != nil {
		callSID = *call.Sid
	}
	logger.Info("call hung up", "call_sid", callSID)
	return nil
}

// LogController stands in for Twilio when running without credentials.
type LogController struct{}

func (LogController) Hangup(_ context.Context, callSID string) error {
	logger.Info("hangup requested (no telephony credentials)", "call_sid", callSID)
	return nil
}
