// internal/common/aws/sns.go
package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "apns-workers/internal/common/errors"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/google/uuid"
)

const EventTypeTokenInvalidated = "token.invalidated"

// SNSAPI is the subset of the SNS client used here.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSClient struct {
	client   SNSAPI
	topicARN string
}

// TokenInvalidatedEvent is published once per feedback record.
type TokenInvalidatedEvent struct {
	EventID      string    `json:"eventId"`
	EventType    string    `json:"eventType"`
	Token        string    `json:"token"`
	InvalidSince time.Time `json:"invalidSince"`
	Environment  string    `json:"environment"`
}

func NewSNSClient(ctx context.Context, region, topicARN string) (*SNSClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewSNSClientFromAPI(sns.NewFromConfig(cfg), topicARN), nil
}

func NewSNSClientFromAPI(api SNSAPI, topicARN string) *SNSClient {
	return &SNSClient{client: api, topicARN: topicARN}
}

func (s *SNSClient) Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error) {
	return s.client.Publish(ctx, input)
}

// PublishTokenInvalidated sends ev to the configured topic and returns the
// SNS message id. Missing EventID and EventType are filled in.
func (s *SNSClient) PublishTokenInvalidated(ctx context.Context, ev TokenInvalidatedEvent) (string, error) {
	if ev.EventID == "" {
		ev.EventID = uuid.New().String()
	}
	if ev.EventType == "" {
		ev.EventType = EventTypeTokenInvalidated
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return "", apperrors.NewEventPublishFailedError(err)
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: awssdk.String(s.topicARN),
		Message:  awssdk.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {
				DataType:    awssdk.String("String"),
				StringValue: awssdk.String(ev.EventType),
			},
		},
	})
	if err != nil {
		return "", apperrors.NewEventPublishFailedError(err)
	}
	return awssdk.ToString(out.MessageId), nil
}
