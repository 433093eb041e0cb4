package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"example.com/backstage/services/keygate/config"
	"example.com/backstage/services/keygate/internal/models"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendMessage(ctx context.Context, message *azservicebus.Message, options *azservicebus.SendMessageOptions) error {
	args := m.Called(ctx, message, options)
	return args.Error(0)
}

func (m *MockSender) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, n models.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func TestWebhookNotifierPostsContent(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	err := n.Notify(context.Background(), models.Notification{Text: "restart at 5", Kind: models.KindNotification})
	require.NoError(t, err)
	assert.Equal(t, "restart at 5", got.Content)

	err = n.Notify(context.Background(), models.Notification{Text: "cheater", Kind: models.KindKick})
	require.NoError(t, err)
	assert.Equal(t, "[kick] cheater", got.Content)
}

func TestWebhookNotifierRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, time.Second).Notify(context.Background(), models.Notification{Text: "x"})
	assert.ErrorContains(t, err, "429")
}

func TestServiceBusNotifierSendsJSON(t *testing.T) {
	sender := new(MockSender)
	sender.On("SendMessage", mock.Anything, mock.MatchedBy(func(msg *azservicebus.Message) bool {
		var n models.Notification
		if err := json.Unmarshal(msg.Body, &n); err != nil {
			return false
		}
		return n.Text == "bye" && *msg.Subject == "kick" && msg.ApplicationProperties["source"] == "keygate"
	}), (*azservicebus.SendMessageOptions)(nil)).Return(nil).Once()
	sender.On("Close", mock.Anything).Return(nil).Once()

	n := newServiceBusNotifierWithSender(sender, "keygate-notifications", "keygate")
	require.NoError(t, n.Notify(context.Background(), models.Notification{Text: "bye", Kind: models.KindKick}))
	require.NoError(t, n.Close())

	sender.AssertExpectations(t)
}

func TestNewServiceBusNotifierRequiresConnectionString(t *testing.T) {
	_, err := NewServiceBusNotifier(config.ServiceBusConfig{QueueName: "q"}, "keygate")
	assert.Error(t, err)
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	n := models.Notification{Text: "hello", Kind: models.KindNotification}
	ok := new(MockNotifier)
	ok.On("Notify", mock.Anything, n).Return(nil).Once()
	failing := new(MockNotifier)
	failing.On("Notify", mock.Anything, n).Return(errors.New("down")).Once()

	f := NewFanout(ok, nil, failing)
	assert.Equal(t, 2, f.Len())
	assert.EqualError(t, f.Notify(context.Background(), n), "down")

	ok.AssertExpectations(t)
	failing.AssertExpectations(t)
}

func TestFromConfig(t *testing.T) {
	f := FromConfig(config.NotifyConfig{})
	assert.Zero(t, f.Len())
	require.NoError(t, f.Notify(context.Background(), models.Notification{Text: "x"}))

	f = FromConfig(config.NotifyConfig{WebhookURL: "http://localhost:1/hook", Timeout: time.Second})
	assert.Equal(t, 1, f.Len())
}
