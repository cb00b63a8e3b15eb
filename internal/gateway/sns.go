package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"push-dispatch/internal/common/errors"
	"push-dispatch/internal/common/logger"
	"push-dispatch/internal/models"
)

// SNSService is the subset of the SNS API the client uses, defined for mocking.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSClient delivers through AWS SNS platform endpoints. Tokens are endpoint
// ARNs; SNS has no batch publish, so one batch means one Publish per token.
type SNSClient struct {
	client SNSService
	logger logger.Logger
}

func NewSNSClient(ctx context.Context, region string, log logger.Logger) (*SNSClient, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &SNSClient{
		client: sns.NewFromConfig(awsCfg),
		logger: log.WithFields(map[string]interface{}{"provider": "sns"}),
	}, nil
}

// NewSNSClientWithService injects a pre-built service, used by tests.
func NewSNSClientWithService(svc SNSService, log logger.Logger) *SNSClient {
	return &SNSClient{
		client: svc,
		logger: log.WithFields(map[string]interface{}{"provider": "sns"}),
	}
}

func (c *SNSClient) Name() string {
	return "sns"
}

type snsMessage struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

func (c *SNSClient) SendBatch(ctx context.Context, tokens []string, content models.LocaleContent) (*models.BatchResult, error) {
	if len(tokens) == 0 {
		return nil, errors.NewValidationError("sns: empty token batch")
	}

	message, err := json.Marshal(snsMessage{
		Title: content.Title,
		Body:  content.Body,
		Data:  content.Data,
	})
	if err != nil {
		return nil, errors.NewGatewayTransientError(err)
	}

	result := &models.BatchResult{}
	delivered := 0
	var lastErr error

	for _, token := range tokens {
		_, err := c.client.Publish(ctx, &sns.PublishInput{
			TargetArn: aws.String(token),
			Message:   aws.String(string(message)),
		})
		if err == nil {
			delivered++
			continue
		}

		if endpointGone(err) {
			result.InvalidTokens = append(result.InvalidTokens, token)
			continue
		}

		// transient per-token failure, token stays registered
		lastErr = err
		c.logger.Warn("publish failed", map[string]interface{}{
			"endpoint": token,
			"error":    err.Error(),
		})
	}

	// The batch fails only when nothing got through at all.
	if delivered == 0 && len(result.InvalidTokens) == 0 && lastErr != nil {
		return nil, errors.NewGatewayTransientError(lastErr)
	}

	return result, nil
}

// endpointGone reports whether SNS rejected the endpoint permanently.
func endpointGone(err error) bool {
	var disabled *types.EndpointDisabledException
	if stderrors.As(err, &disabled) {
		return true
	}
	var notFound *types.NotFoundException
	if stderrors.As(err, &notFound) {
		return true
	}
	var invalid *types.InvalidParameterException
	return stderrors.As(err, &invalid)
}
