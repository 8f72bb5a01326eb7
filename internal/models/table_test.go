package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTable_RoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	in := map[string]AccessRecord{"tok": servableRecord(now)}

	data, err := EncodeAccessTable(in)
	require.NoError(t, err)

	out, err := DecodeAccessTable(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEncodeAccessTable_NilIsEmptyObject(t *testing.T) {
	data, err := EncodeAccessTable(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}

func TestDecodeAccessTable_FillsTokenFromKey(t *testing.T) {
	out, err := DecodeAccessTable([]byte(`{"abc":{"client_name":"x","oauth_status":"pending"}}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", out["abc"].Token)
	assert.Equal(t, OAuthPending, out["abc"].OAuthStatus)
}

func TestDecodeAccessTable_NullScopeIsUnscoped(t *testing.T) {
	out, err := DecodeAccessTable([]byte(`{"abc":{"oauth_status":"pending","project_id":null,"dataset_id":null}}`))
	require.NoError(t, err)
	assert.Empty(t, out["abc"].ProjectID)
	assert.Empty(t, out["abc"].DatasetID)
	assert.False(t, out["abc"].Servable(time.Now()))

	blob, err := EncodeAccessTable(out)
	require.NoError(t, err)
	assert.Contains(t, string(blob), `"project_id":""`)
}

func TestDecodeAccessTable_Rejects(t *testing.T) {
	tests := map[string]string{
		"not json":        `nope`,
		"array":           `[]`,
		"null":            `null`,
		"key mismatch":    `{"a":{"token":"b","oauth_status":"pending"}}`,
		"missing status":  `{"a":{"token":"a"}}`,
		"unknown status":  `{"a":{"token":"a","oauth_status":"granted"}}`,
		"empty token key": `{"":{"oauth_status":"pending"}}`,
	}
	for name, blob := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeAccessTable([]byte(blob))
			assert.Error(t, err)
		})
	}
}
