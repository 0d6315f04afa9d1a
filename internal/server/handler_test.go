package server

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-noisemonitor/internal/types"
)

func TestDecodeControlMessage(t *testing.T) {
	msg, err := DecodeControlMessage([]byte(`{"soglia":70.5,"filtroAttivo":false,"nomeUtente":"Niccolò"}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Threshold)
	require.NotNil(t, msg.FilterEnabled)
	require.NotNil(t, msg.Operator)
	assert.Equal(t, 70.5, *msg.Threshold)
	assert.False(t, *msg.FilterEnabled)
	assert.Equal(t, "Niccolò", *msg.Operator)

	msg, err = DecodeControlMessage([]byte(`{"nomeUtente":""}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Operator)
	assert.Empty(t, *msg.Operator)
	assert.Nil(t, msg.Threshold)
}

func TestDecodeControlMessageErrors(t *testing.T) {
	tests := []struct {
		name       string
		data       string
		validation bool
	}{
		{"malformed", `{"soglia":`, false},
		{"wrong type", `{"filtroAttivo":"yes"}`, false},
		{"no known fields", `{"volume":3}`, false},
		{"too long", `{"nomeUtente":"` + strings.Repeat("a", 65) + `"}`, true},
		{"control character", `{"nomeUtente":"a\nb"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeControlMessage([]byte(tt.data))
			require.Error(t, err)

			var verr *types.ValidationError
			assert.Equal(t, tt.validation, errors.As(err, &verr))
			if tt.validation {
				require.Len(t, verr.Errors, 1)
				assert.Equal(t, "nomeUtente", verr.Errors[0].Field)
			}
		})
	}

	_, err := DecodeControlMessage([]byte(`{}`))
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "monitor.local:8765", true},
		{"http://localhost:3000", "monitor.local:8765", true},
		{"http://monitor.local:8765", "monitor.local:8765", true},
		{"http://192.168.1.20", "monitor.local:8765", true},
		{"https://evil.example.com", "monitor.local:8765", false},
		{"://bad", "monitor.local:8765", false},
	}

	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Host = tt.host
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, checkOrigin(r), "origin %q", tt.origin)
	}
}
