package snsalert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"flowops/internal/domain"
)

// API is the subset of *sns.Client used by Publisher.
type API interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNS caps subjects at 100 characters.
const maxSubjectLen = 100

// Publisher sends operator alerts to one SNS topic.
type Publisher struct {
	api      API
	topicARN string
}

func New(api API, topicARN string) (*Publisher, error) {
	if api == nil {
		return nil, errors.New("snsalert: api must not be nil")
	}
	topicARN = strings.TrimSpace(topicARN)
	if topicARN == "" {
		return nil, errors.New("snsalert: topic ARN is required")
	}
	return &Publisher{api: api, topicARN: topicARN}, nil
}

// Publish sends the notification body as indented JSON. Attributes become
// String message attributes so subscribers can filter by tenant or action.
func (p *Publisher) Publish(ctx context.Context, n domain.Notification) error {
	msg, err := json.MarshalIndent(n.Body(), "", "  ")
	if err != nil {
		return fmt.Errorf("snsalert: marshal message: %w", err)
	}

	in := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(msg)),
	}
	if subject := truncate(n.Subject, maxSubjectLen); subject != "" {
		in.Subject = aws.String(subject)
	}
	if len(n.Attributes) > 0 {
		in.MessageAttributes = make(map[string]types.MessageAttributeValue, len(n.Attributes))
		for k, v := range n.Attributes {
			in.MessageAttributes[k] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
	}

	if _, err := p.api.Publish(ctx, in); err != nil {
		return fmt.Errorf("snsalert: publish to %s: %w", p.topicARN, err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
