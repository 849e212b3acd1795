// Package queue implements the transport-facing primitives of the message
// bus: the SQS client abstraction used by the Managed driver, and the
// Envelope wire format shared by every driver.
package queue

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// ErrQueueNotFound is returned by GetQueueUrl when the named queue does not
// exist. Callers (the QueueResolver) use this to decide whether to create it.
var ErrQueueNotFound = errors.New("queue does not exist")

// sqsAPI abstracts the AWS SQS client for testability.
type sqsAPI interface {
	SendMessage(ctx context.Context, input *sqsSendInput) (*sqsSendOutput, error)
	ReceiveMessage(ctx context.Context, input *sqsReceiveInput) (*sqsReceiveOutput, error)
	DeleteMessage(ctx context.Context, input *sqsDeleteInput) error
	ChangeMessageVisibility(ctx context.Context, input *sqsChangeVisibilityInput) error
	GetQueueUrl(ctx context.Context, name string) (string, error)
	GetQueueAttributes(ctx context.Context, queueURL string, names []types.QueueAttributeName) (map[string]string, error)
	CreateQueue(ctx context.Context, name string, attrs map[string]string) (string, error)
}

// sqsSendInput mirrors the fields needed for SQS SendMessage.
type sqsSendInput struct {
	QueueURL     string
	MessageBody  string
	DelaySeconds int32
	Attributes   map[string]string
}

// sqsSendOutput contains the result of a successful SendMessage call.
type sqsSendOutput struct {
	MessageID string
}

// sqsReceiveInput mirrors the fields needed for SQS ReceiveMessage.
type sqsReceiveInput struct {
	QueueURL            string
	MaxNumberOfMessages int32
	WaitTimeSeconds     int32
	VisibilityTimeout   int32
}

// sqsReceiveOutput contains the messages returned by ReceiveMessage.
type sqsReceiveOutput struct {
	Messages []sqsReceivedMessage
}

// sqsReceivedMessage represents a single message received from SQS.
type sqsReceivedMessage struct {
	MessageID        string
	ReceiptHandle    string
	Body             string
	ApproxReceiveCnt int
	Attributes       map[string]string
}

// sqsDeleteInput mirrors the fields needed for SQS DeleteMessage.
type sqsDeleteInput struct {
	QueueURL      string
	ReceiptHandle string
}

// sqsChangeVisibilityInput mirrors the fields needed for SQS ChangeMessageVisibility.
type sqsChangeVisibilityInput struct {
	QueueURL          string
	ReceiptHandle     string
	VisibilityTimeout int32
}

// awsSQSClient wraps the real AWS SQS SDK client and implements sqsAPI.
type awsSQSClient struct {
	client *sqs.Client
}

// newAWSSQSClient creates an awsSQSClient configured for the given region.
func newAWSSQSClient(ctx context.Context, region string) (*awsSQSClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &awsSQSClient{client: sqs.NewFromConfig(cfg)}, nil
}

// NewSQSTransport constructs the Managed driver's underlying SQS client for
// the given region, suitable for injection into Resolver/Publisher/Consumer.
func NewSQSTransport(ctx context.Context, region string) (Transport, error) {
	return newAWSSQSClient(ctx, region)
}

// Transport is the exported alias of sqsAPI so callers outside the package
// (QueueResolver, Publisher, ConsumerLoop constructors) can hold a reference
// without depending on unexported types.
type Transport = sqsAPI

func (c *awsSQSClient) SendMessage(ctx context.Context, input *sqsSendInput) (*sqsSendOutput, error) {
	msgAttrs := make(map[string]types.MessageAttributeValue, len(input.Attributes))
	for k, v := range input.Attributes {
		dataType := "String"
		msgAttrs[k] = types.MessageAttributeValue{DataType: &dataType, StringValue: strPtr(v)}
	}

	out, err := c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          &input.QueueURL,
		MessageBody:       &input.MessageBody,
		DelaySeconds:      input.DelaySeconds,
		MessageAttributes: msgAttrs,
	})
	if err != nil {
		return nil, err
	}
	return &sqsSendOutput{MessageID: derefString(out.MessageId)}, nil
}

func (c *awsSQSClient) ReceiveMessage(ctx context.Context, input *sqsReceiveInput) (*sqsReceiveOutput, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    &input.QueueURL,
		MaxNumberOfMessages:         input.MaxNumberOfMessages,
		WaitTimeSeconds:             input.WaitTimeSeconds,
		VisibilityTimeout:           input.VisibilityTimeout,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
		MessageAttributeNames:       []string{"All"},
	})
	if err != nil {
		return nil, err
	}

	messages := make([]sqsReceivedMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		recvCount := 0
		if v, ok := m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
			fmt.Sscanf(v, "%d", &recvCount)
		}
		attrs := make(map[string]string, len(m.MessageAttributes))
		for k, v := range m.MessageAttributes {
			attrs[k] = derefString(v.StringValue)
		}
		messages = append(messages, sqsReceivedMessage{
			MessageID:        derefString(m.MessageId),
			ReceiptHandle:    derefString(m.ReceiptHandle),
			Body:             derefString(m.Body),
			ApproxReceiveCnt: recvCount,
			Attributes:       attrs,
		})
	}
	return &sqsReceiveOutput{Messages: messages}, nil
}

func (c *awsSQSClient) DeleteMessage(ctx context.Context, input *sqsDeleteInput) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &input.QueueURL,
		ReceiptHandle: &input.ReceiptHandle,
	})
	return err
}

func (c *awsSQSClient) ChangeMessageVisibility(ctx context.Context, input *sqsChangeVisibilityInput) error {
	_, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          &input.QueueURL,
		ReceiptHandle:     &input.ReceiptHandle,
		VisibilityTimeout: input.VisibilityTimeout,
	})
	return err
}

// GetQueueUrl resolves a queue's URL by its remote name. Returns
// ErrQueueNotFound if the queue does not exist.
func (c *awsSQSClient) GetQueueUrl(ctx context.Context, name string) (string, error) {
	out, err := c.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: &name})
	if err != nil {
		var nonExistent *types.QueueDoesNotExist
		if errors.As(err, &nonExistent) {
			return "", ErrQueueNotFound
		}
		return "", err
	}
	return derefString(out.QueueUrl), nil
}

// GetQueueAttributes reads the requested attributes of a queue (used by the
// resolver to read a DLQ's ARN and by the monitor tool to read ApproximateNumberOfMessages).
func (c *awsSQSClient) GetQueueAttributes(ctx context.Context, queueURL string, names []types.QueueAttributeName) (map[string]string, error) {
	out, err := c.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       &queueURL,
		AttributeNames: names,
	})
	if err != nil {
		return nil, err
	}
	return out.Attributes, nil
}

// CreateQueue creates a queue with the given name and attributes, returning
// its URL. Creation is idempotent by name: re-creating a queue with the same
// attributes returns the existing queue's URL without error.
func (c *awsSQSClient) CreateQueue(ctx context.Context, name string, attrs map[string]string) (string, error) {
	out, err := c.client.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName:  &name,
		Attributes: attrs,
	})
	if err != nil {
		return "", err
	}
	return derefString(out.QueueUrl), nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string { return &s }
