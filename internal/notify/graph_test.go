package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-noisemonitor/internal/util"
)

func testGraphClient(baseURL string) *GraphClient {
	return &GraphClient{
		baseURL:     baseURL,
		fromAddress: "alerts@example.com",
		httpClient:  http.DefaultClient,
		backoff:     func() *util.Backoff { return util.NewBackoff(time.Millisecond, time.Millisecond) },
	}
}

func TestGraphSendMailRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	var got graphMailRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/alerts@example.com/sendMail", r.URL.Path)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := testGraphClient(srv.URL)
	require.NoError(t, c.SendMail(t.Context(), []string{"a@example.com", " ", "b@example.com"}, "subject", "body"))

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "subject", got.Message.Subject)
	assert.Equal(t, "Text", got.Message.Body.ContentType)
	require.Len(t, got.Message.ToRecipients, 2)
	assert.Equal(t, "b@example.com", got.Message.ToRecipients[1].EmailAddress.Address)
}

func TestGraphSendMailPermanentError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := testGraphClient(srv.URL).SendMail(t.Context(), []string{"a@example.com"}, "s", "b")
	assert.ErrorContains(t, err, "graph API error 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGraphSendMailNoRecipients(t *testing.T) {
	c := testGraphClient("http://127.0.0.1:0")
	assert.Error(t, c.SendMail(t.Context(), nil, "s", "b"))
	assert.Error(t, c.SendMail(t.Context(), []string{" "}, "s", "b"))
}

func TestValidateConfig(t *testing.T) {
	valid := GraphConfig{
		TenantID:     "12345678-1234-1234-1234-123456789abc",
		ClientID:     "87654321-4321-4321-4321-cba987654321",
		ClientSecret: "secret",
		FromAddress:  "alerts@example.com",
		Recipients:   "ops@example.com",
	}
	assert.NoError(t, ValidateConfig(&valid))
	assert.True(t, IsConfigured(&valid))

	bad := valid
	bad.TenantID = "not-a-guid"
	assert.Error(t, ValidateConfig(&bad))

	bad = valid
	bad.Recipients = ""
	assert.Error(t, ValidateConfig(&bad))
	assert.False(t, IsConfigured(&bad))
}

func TestParseRecipients(t *testing.T) {
	assert.Equal(t, []string{"a@x.nl", "b@x.nl"}, ParseRecipients(" a@x.nl, ,b@x.nl,"))
	assert.Nil(t, ParseRecipients(""))
}
