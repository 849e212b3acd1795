package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// fakeTransport is an in-memory stand-in for the real SQS client, shared by
// the resolver, publisher, DLQ, router and consumer tests in this package.
type fakeTransport struct {
	mu         sync.Mutex
	urls       map[string]string              // name -> url
	attrs      map[string]map[string]string    // url -> attributes
	messages   map[string][]sqsReceivedMessage // url -> queued messages
	nextID     int
	sendErr    error
	createErr  error
	deleted    []string // receipt handles passed to DeleteMessage
	extended   []string // receipt handles passed to ChangeMessageVisibility

	extensionTimeouts map[string]int32 // receipt handle -> last ChangeMessageVisibility timeout
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		urls:     make(map[string]string),
		attrs:    make(map[string]map[string]string),
		messages: make(map[string][]sqsReceivedMessage),
	}
}

func (f *fakeTransport) GetQueueUrl(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	url, ok := f.urls[name]
	if !ok {
		return "", ErrQueueNotFound
	}
	return url, nil
}

func (f *fakeTransport) CreateQueue(_ context.Context, name string, attrs map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	if url, ok := f.urls[name]; ok {
		return url, nil
	}
	f.nextID++
	url := fmt.Sprintf("https://sqs.test/%s-%d", name, f.nextID)
	f.urls[name] = url
	merged := make(map[string]string, len(attrs))
	for k, v := range attrs {
		merged[k] = v
	}
	merged[string(types.QueueAttributeNameQueueArn)] = "arn:aws:sqs:test:000000000000:" + name
	f.attrs[url] = merged
	return url, nil
}

func (f *fakeTransport) GetQueueAttributes(_ context.Context, queueURL string, names []types.QueueAttributeName) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, ok := f.attrs[queueURL]
	if !ok {
		return nil, fmt.Errorf("unknown queue url %s", queueURL)
	}
	out := make(map[string]string, len(names))
	for _, n := range names {
		if n == types.QueueAttributeNameApproximateNumberOfMessages {
			out[string(n)] = fmt.Sprintf("%d", len(f.messages[queueURL]))
			continue
		}
		out[string(n)] = all[string(n)]
	}
	return out, nil
}

func (f *fakeTransport) SendMessage(_ context.Context, input *sqsSendInput) (*sqsSendOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.nextID++
	id := fmt.Sprintf("msg-%d", f.nextID)
	f.messages[input.QueueURL] = append(f.messages[input.QueueURL], sqsReceivedMessage{
		MessageID:     id,
		ReceiptHandle: "receipt-" + id,
		Body:          input.MessageBody,
		Attributes:    input.Attributes,
	})
	return &sqsSendOutput{MessageID: id}, nil
}

func (f *fakeTransport) ReceiveMessage(_ context.Context, input *sqsReceiveInput) (*sqsReceiveOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	queued := f.messages[input.QueueURL]
	max := int(input.MaxNumberOfMessages)
	if max <= 0 || max > len(queued) {
		max = len(queued)
	}
	out := append([]sqsReceivedMessage(nil), queued[:max]...)
	f.messages[input.QueueURL] = queued[max:]
	return &sqsReceiveOutput{Messages: out}, nil
}

func (f *fakeTransport) DeleteMessage(_ context.Context, input *sqsDeleteInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, input.ReceiptHandle)
	return nil
}

func (f *fakeTransport) ChangeMessageVisibility(_ context.Context, input *sqsChangeVisibilityInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extended = append(f.extended, input.ReceiptHandle)
	if f.extensionTimeouts == nil {
		f.extensionTimeouts = make(map[string]int32)
	}
	f.extensionTimeouts[input.ReceiptHandle] = input.VisibilityTimeout
	return nil
}

func (f *fakeTransport) wasDeleted(receiptHandle string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.deleted {
		if h == receiptHandle {
			return true
		}
	}
	return false
}

func (f *fakeTransport) wasExtended(receiptHandle string) (int32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	timeout, ok := f.extensionTimeouts[receiptHandle]
	return timeout, ok
}
