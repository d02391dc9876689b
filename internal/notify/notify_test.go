package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/portfolio-tracker/internal/models"
	"go.uber.org/zap"
)

func sampleAlert() models.TriggeredAlert {
	return models.TriggeredAlert{
		EventID:         "evt-1",
		AlertID:         9,
		Symbol:          "BTC",
		Direction:       models.DirectionAbove,
		Threshold:       decimal.NewFromInt(100),
		TriggeringPrice: decimal.NewFromInt(101),
		Timestamp:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// ---------------------------------------------------------------------------
// Multi
// ---------------------------------------------------------------------------

func TestMulti_DeliversToAllAndJoinsErrors(t *testing.T) {
	var got []string
	m := NewMulti(zap.NewNop())
	m.Add("ok", Func(func(ctx context.Context, a models.TriggeredAlert) error {
		got = append(got, "ok:"+a.EventID)
		return nil
	}))
	m.Add("broken", Func(func(ctx context.Context, a models.TriggeredAlert) error {
		return errors.New("socket closed")
	}))
	m.Add("after", Func(func(ctx context.Context, a models.TriggeredAlert) error {
		got = append(got, "after:"+a.EventID)
		return nil
	}))
	m.Add("nil", nil)

	err := m.Notify(context.Background(), sampleAlert())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: socket closed")
	assert.Equal(t, []string{"ok:evt-1", "after:evt-1"}, got)
	assert.Equal(t, 3, m.Len())
}

func TestMulti_EmptyIsNoop(t *testing.T) {
	assert.NoError(t, NewMulti(zap.NewNop()).Notify(context.Background(), sampleAlert()))
}

// ---------------------------------------------------------------------------
// Email
// ---------------------------------------------------------------------------

type fakeSender struct {
	sent   []*mail.SGMailV3
	status int
	err    error
}

func (f *fakeSender) SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	f.sent = append(f.sent, email)
	if f.err != nil {
		return nil, f.err
	}
	return &rest.Response{StatusCode: f.status, Body: "rejected"}, nil
}

func newTestEmail(sender *fakeSender) *Email {
	return &Email{
		sender: sender,
		from:   mail.NewEmail("Portfolio", "alerts@example.com"),
		to:     mail.NewEmail("", "me@example.com"),
	}
}

func TestEmail_Notify(t *testing.T) {
	sender := &fakeSender{status: 202}

	err := newTestEmail(sender).Notify(context.Background(), sampleAlert())

	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "BTC crossed above 100", sender.sent[0].Subject)
}

func TestEmail_NotifyRejected(t *testing.T) {
	sender := &fakeSender{status: 401}

	err := newTestEmail(sender).Notify(context.Background(), sampleAlert())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestEmail_NotifyTransportError(t *testing.T) {
	sender := &fakeSender{err: errors.New("dial tcp: timeout")}

	err := newTestEmail(sender).Notify(context.Background(), sampleAlert())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send alert email")
}

func TestRenderAlert_Below(t *testing.T) {
	a := sampleAlert()
	a.Direction = models.DirectionBelow

	subject, plain, html := renderAlert(a)

	assert.Equal(t, "BTC crossed below 100", subject)
	assert.Contains(t, plain, "2026-01-02 03:04:05 UTC")
	assert.Contains(t, html, "<p>")
}
