package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"example.com/backstage/services/keygate/config"
	"example.com/backstage/services/keygate/internal/models"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
)

// MessageSender is the part of an azservicebus.Sender the notifier needs
type MessageSender interface {
	SendMessage(ctx context.Context, message *azservicebus.Message, options *azservicebus.SendMessageOptions) error
	Close(ctx context.Context) error
}

// ServiceBusNotifier publishes notifications to an Azure Service Bus queue
type ServiceBusNotifier struct {
	client    *azservicebus.Client
	sender    MessageSender
	queueName string
	source    string
}

// NewServiceBusNotifier connects to the queue named in cfg
func NewServiceBusNotifier(cfg config.ServiceBusConfig, source string) (*ServiceBusNotifier, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("Azure Service Bus connection string is empty")
	}

	// Create the Service Bus client
	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus client: %w", err)
	}

	// Create a sender for the queue
	sender, err := client.NewSender(cfg.QueueName, nil)
	if err != nil {
		client.Close(context.Background())
		return nil, fmt.Errorf("failed to create Service Bus sender: %w", err)
	}

	return &ServiceBusNotifier{
		client:    client,
		sender:    sender,
		queueName: cfg.QueueName,
		source:    source,
	}, nil
}

// newServiceBusNotifierWithSender wires an existing sender
func newServiceBusNotifierWithSender(sender MessageSender, queueName, source string) *ServiceBusNotifier {
	return &ServiceBusNotifier{sender: sender, queueName: queueName, source: source}
}

// Notify sends n as a JSON message, tagged with its kind
func (s *ServiceBusNotifier) Notify(ctx context.Context, n models.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	contentType := "application/json"
	subject := string(n.Kind)
	msg := &azservicebus.Message{
		Body:        data,
		ContentType: &contentType,
		Subject:     &subject,
		ApplicationProperties: map[string]interface{}{
			"source": s.source,
			"kind":   string(n.Kind),
			"time":   time.Now().UTC().Format(time.RFC3339),
		},
	}

	if err := s.sender.SendMessage(ctx, msg, nil); err != nil {
		return fmt.Errorf("failed to send notification to %s: %w", s.queueName, err)
	}
	return nil
}

// Close closes the sender and the client
func (s *ServiceBusNotifier) Close() error {
	if s.sender != nil {
		if err := s.sender.Close(context.Background()); err != nil {
			return err
		}
	}
	if s.client != nil {
		return s.client.Close(context.Background())
	}
	return nil
}
