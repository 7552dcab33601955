package sqs_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"offload/apps/backend/internal/adapter/sqs"
)

type MockAPI struct{ mock.Mock }

func (m *MockAPI) SendMessage(ctx context.Context, in *awssqs.SendMessageInput, _ ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*awssqs.SendMessageOutput), args.Error(1)
}

func (m *MockAPI) ReceiveMessage(ctx context.Context, in *awssqs.ReceiveMessageInput, _ ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*awssqs.ReceiveMessageOutput), args.Error(1)
}

func (m *MockAPI) DeleteMessage(ctx context.Context, in *awssqs.DeleteMessageInput, _ ...func(*awssqs.Options)) (*awssqs.DeleteMessageOutput, error) {
	args := m.Called(ctx, in)
	return &awssqs.DeleteMessageOutput{}, args.Error(0)
}

func TestClient_Publish(t *testing.T) {
	api := new(MockAPI)
	client := sqs.NewClient(api)

	api.On("SendMessage", mock.Anything, mock.MatchedBy(func(in *awssqs.SendMessageInput) bool {
		attr, ok := in.MessageAttributes["task_type"]
		return aws.ToString(in.QueueUrl) == "https://sqs/ingest" &&
			aws.ToString(in.MessageBody) == `{"a":1}` &&
			ok && aws.ToString(attr.StringValue) == "document-ingest" &&
			aws.ToString(attr.DataType) == "String"
	})).Return(&awssqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil)

	id, err := client.Publish(context.Background(), "https://sqs/ingest", []byte(`{"a":1}`), map[string]string{
		"task_type": "document-ingest",
		"job_id":    "j1",
	})
	require.NoError(t, err)
	assert.Equal(t, "m-1", id)
}

func TestClient_Publish_Error(t *testing.T) {
	api := new(MockAPI)
	client := sqs.NewClient(api)

	api.On("SendMessage", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

	_, err := client.Publish(context.Background(), "q", []byte("x"), nil)
	assert.Error(t, err)
}

func TestClient_Receive(t *testing.T) {
	api := new(MockAPI)
	client := sqs.NewClient(api)

	api.On("ReceiveMessage", mock.Anything, mock.MatchedBy(func(in *awssqs.ReceiveMessageInput) bool {
		return in.MaxNumberOfMessages == 10 && in.WaitTimeSeconds == 20 && in.VisibilityTimeout == 300
	})).Return(&awssqs.ReceiveMessageOutput{Messages: []types.Message{
		{MessageId: aws.String("m1"), Body: aws.String("b1"), ReceiptHandle: aws.String("r1")},
		{MessageId: aws.String("m2"), Body: aws.String("b2"), ReceiptHandle: aws.String("r2")},
	}}, nil)

	msgs, err := client.Receive(context.Background(), sqs.ReceiveOptions{
		QueueURL: "q", MaxMessages: 10, WaitTimeSeconds: 20, VisibilityTimeout: 300,
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "r2", msgs[1].ReceiptHandle)
}

func TestClient_Delete(t *testing.T) {
	api := new(MockAPI)
	client := sqs.NewClient(api)

	api.On("DeleteMessage", mock.Anything, mock.MatchedBy(func(in *awssqs.DeleteMessageInput) bool {
		return aws.ToString(in.ReceiptHandle) == "r1"
	})).Return(nil)

	assert.NoError(t, client.Delete(context.Background(), "q", "r1"))
	api.AssertExpectations(t)
}
