package notification

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/alert"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/pkg/retry"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// SendGridSink delivers email notifications through the SendGrid API.
type SendGridSink struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
}

// NewSendGridSink creates the email sink. appName prefixes every subject so
// parents recognize the sender.
func NewSendGridSink(key, appName, fromEmail string) (*SendGridSink, error) {
	if key == "" {
		return nil, shared.WrapError("notification", "NewSendGridSink",
			shared.ErrConfiguration, "sendgrid API key is empty", nil)
	}
	return &SendGridSink{
		key:        key,
		from:       sgmail.NewEmail(appName, fromEmail),
		subjPrefix: "[" + appName + "] ",
	}, nil
}

// Channel implements Sink.
func (s *SendGridSink) Channel() alert.Channel {
	return alert.ChannelEmail
}

// Send delivers one email. 4xx responses are permanent (bad address, revoked
// key); everything else is left retryable for the dispatcher.
func (s *SendGridSink) Send(ctx context.Context, msg Message) error {
	p := sgmail.NewPersonalization()
	p.Subject = s.subjPrefix + msg.Subject
	p.AddTos(sgmail.NewEmail("", msg.Recipient))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.Body))

	req := sendgrid.GetRequest(s.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m)

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if res.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("sendgrid: server error %d", res.StatusCode)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return retry.Permanent(fmt.Errorf("sendgrid: rejected with status %d", res.StatusCode))
	}
	return nil
}
