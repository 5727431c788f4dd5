package aws

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	apperrors "apns-workers/internal/common/errors"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockSNSService struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	return m.PublishFunc(ctx, params, optFns...)
}

func TestPublishTokenInvalidated(t *testing.T) {
	var captured *sns.PublishInput
	mock := &MockSNSService{
		PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			captured = params
			return &sns.PublishOutput{MessageId: awssdk.String("msg-1")}, nil
		},
	}
	client := NewSNSClientFromAPI(mock, "arn:aws:sns:us-east-1:123456789012:apns-tokens")

	since := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	id, err := client.PublishTokenInvalidated(context.Background(), TokenInvalidatedEvent{
		Token:        "aabbcc",
		InvalidSince: since,
		Environment:  "sandbox",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)

	require.NotNil(t, captured)
	assert.Equal(t, "arn:aws:sns:us-east-1:123456789012:apns-tokens", awssdk.ToString(captured.TopicArn))
	assert.Equal(t, EventTypeTokenInvalidated, awssdk.ToString(captured.MessageAttributes["eventType"].StringValue))

	var ev TokenInvalidatedEvent
	require.NoError(t, json.Unmarshal([]byte(awssdk.ToString(captured.Message)), &ev))
	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, EventTypeTokenInvalidated, ev.EventType)
	assert.Equal(t, "aabbcc", ev.Token)
	assert.True(t, since.Equal(ev.InvalidSince))
}

func TestPublishTokenInvalidated_Failure(t *testing.T) {
	boom := stderrors.New("throttled")
	client := NewSNSClientFromAPI(&MockSNSService{
		PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			return nil, boom
		},
	}, "arn:topic")

	_, err := client.PublishTokenInvalidated(context.Background(), TokenInvalidatedEvent{Token: "aa"})
	assert.True(t, stderrors.Is(err, apperrors.ErrEventPublishFailed))
	assert.True(t, stderrors.Is(err, boom))
}
