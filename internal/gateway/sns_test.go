package gateway

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"push-dispatch/internal/common/errors"
	"push-dispatch/internal/common/logger"
)

type MockSNSService struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	return m.PublishFunc(ctx, params, optFns...)
}

func TestSNSSendBatch(t *testing.T) {
	t.Run("disabled endpoints are invalid, others delivered", func(t *testing.T) {
		mock := &MockSNSService{
			PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
				if *params.TargetArn == "arn:dead" {
					return nil, &types.EndpointDisabledException{}
				}
				return &sns.PublishOutput{}, nil
			},
		}
		client := NewSNSClientWithService(mock, logger.NewTestLogger(t))

		res, err := client.SendBatch(context.Background(), []string{"arn:ok", "arn:dead", "arn:ok2"}, testContent())
		require.NoError(t, err)
		assert.Equal(t, []string{"arn:dead"}, res.InvalidTokens)
	})

	t.Run("transient per-token errors do not fail a partially delivered batch", func(t *testing.T) {
		calls := 0
		mock := &MockSNSService{
			PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
				calls++
				if calls == 1 {
					return nil, stderrors.New("throttled")
				}
				return &sns.PublishOutput{}, nil
			},
		}
		client := NewSNSClientWithService(mock, logger.NewTestLogger(t))

		res, err := client.SendBatch(context.Background(), []string{"arn:a", "arn:b"}, testContent())
		require.NoError(t, err)
		assert.Empty(t, res.InvalidTokens)
	})

	t.Run("total transport failure fails the batch", func(t *testing.T) {
		mock := &MockSNSService{
			PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
				return nil, stderrors.New("connection refused")
			},
		}
		client := NewSNSClientWithService(mock, logger.NewTestLogger(t))

		_, err := client.SendBatch(context.Background(), []string{"arn:a", "arn:b"}, testContent())
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeGatewayTransient, errors.CodeOf(err))
	})
}
