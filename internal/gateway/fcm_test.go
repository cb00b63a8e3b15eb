package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"push-dispatch/internal/common/errors"
	"push-dispatch/internal/common/logger"
	"push-dispatch/internal/models"
)

func fcmServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func testContent() models.LocaleContent {
	return models.LocaleContent{Title: "Match today", Body: "Kickoff at 9"}
}

func TestFCMSendBatch(t *testing.T) {
	t.Run("classifies gone tokens as invalid", func(t *testing.T) {
		var gotReq fcmRequest
		srv := fcmServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "key=secret", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

			json.NewEncoder(w).Encode(map[string]interface{}{
				"success": 1,
				"failure": 2,
				"results": []map[string]string{
					{"message_id": "m1"},
					{"error": "NotRegistered"},
					{"error": "Unavailable"},
				},
			})
		})

		client := NewFCMClient(FCMConfig{Endpoint: srv.URL, ServerKey: "secret"}, logger.NewTestLogger(t))

		res, err := client.SendBatch(context.Background(), []string{"t1", "t2", "t3"}, testContent())
		require.NoError(t, err)
		assert.Equal(t, []string{"t1", "t2", "t3"}, gotReq.RegistrationIDs)
		assert.Equal(t, "Match today", gotReq.Notification.Title)
		// NotRegistered is permanent, Unavailable is transient
		assert.Equal(t, []string{"t2"}, res.InvalidTokens)
	})

	t.Run("gateway 5xx is a transient batch failure", func(t *testing.T) {
		srv := fcmServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		client := NewFCMClient(FCMConfig{Endpoint: srv.URL, ServerKey: "secret"}, logger.NewTestLogger(t))

		_, err := client.SendBatch(context.Background(), []string{"t1"}, testContent())
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeGatewayTransient, errors.CodeOf(err))
		assert.True(t, errors.IsRetryable(err))
	})

	t.Run("timeout is transient, never invalidates tokens", func(t *testing.T) {
		srv := fcmServer(t, func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		})

		client := NewFCMClient(FCMConfig{
			Endpoint:  srv.URL,
			ServerKey: "secret",
			Timeout:   50 * time.Millisecond,
		}, logger.NewTestLogger(t))

		_, err := client.SendBatch(context.Background(), []string{"t1"}, testContent())
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeGatewayTimeout, errors.CodeOf(err))
		assert.True(t, errors.IsRetryable(err))
	})

	t.Run("empty batch is rejected", func(t *testing.T) {
		client := NewFCMClient(FCMConfig{Endpoint: "http://unused", ServerKey: "secret"}, logger.NewTestLogger(t))

		_, err := client.SendBatch(context.Background(), nil, testContent())
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeValidationFailed, errors.CodeOf(err))
	})
}

func TestTokenFatal(t *testing.T) {
	tests := []struct {
		code  string
		fatal bool
	}{
		{"NotRegistered", true},
		{"InvalidRegistration", true},
		{"MismatchSenderId", true},
		{"Unavailable", false},
		{"InternalServerError", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.fatal, tokenFatal(tt.code))
		})
	}
}
