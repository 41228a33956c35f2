// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ckerrors "github.com/tombee/complykit/pkg/errors"
)

// eachStore runs fn against every ConfigStore implementation.
func eachStore(t *testing.T, fn func(t *testing.T, s ConfigStore)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "configs.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func sampleConfig(tenant, integration string) *IntegrationConfig {
	return &IntegrationConfig{
		TenantID:      tenant,
		IntegrationID: integration,
		Mode:          ModeVisual,
		BaseURL:       "https://api.example.com",
		Endpoints: []Endpoint{
			{Name: "users", Path: "/users", Method: "GET", Headers: map[string]string{"Accept": "application/json"}, ResponsePath: ".items"},
		},
		AuthType:   AuthAPIKey,
		AuthConfig: map[string]string{"apiKey": "00:11:22:33", "headerName": "X-API-Key"},
		CreatedAt:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestConfigStore_CRUD(t *testing.T) {
	eachStore(t, func(t *testing.T, s ConfigStore) {
		ctx := context.Background()

		_, err := s.Get(ctx, "t1", "i1")
		var nf *ckerrors.NotFoundError
		require.ErrorAs(t, err, &nf)

		cfg := sampleConfig("t1", "i1")
		require.NoError(t, s.Put(ctx, cfg))

		got, err := s.Get(ctx, "t1", "i1")
		require.NoError(t, err)
		assert.Equal(t, cfg, got)

		cfg.BaseURL = "https://changed.example.com"
		require.NoError(t, s.Put(ctx, cfg))
		got, err = s.Get(ctx, "t1", "i1")
		require.NoError(t, err)
		assert.Equal(t, "https://changed.example.com", got.BaseURL)

		require.NoError(t, s.Delete(ctx, "t1", "i1"))
		_, err = s.Get(ctx, "t1", "i1")
		require.ErrorAs(t, err, &nf)
		require.NoError(t, s.Delete(ctx, "t1", "i1"), "deleting twice is not an error")
	})
}

func TestConfigStore_ListOrdered(t *testing.T) {
	eachStore(t, func(t *testing.T, s ConfigStore) {
		ctx := context.Background()
		for _, k := range [][2]string{{"t2", "a"}, {"t1", "b"}, {"t1", "a"}} {
			require.NoError(t, s.Put(ctx, sampleConfig(k[0], k[1])))
		}

		list, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		var keys []string
		for _, c := range list {
			keys = append(keys, c.TenantID+"/"+c.IntegrationID)
		}
		assert.Equal(t, []string{"t1/a", "t1/b", "t2/a"}, keys)
	})
}

func TestConfigStore_RejectsMissingKey(t *testing.T) {
	eachStore(t, func(t *testing.T, s ConfigStore) {
		err := s.Put(context.Background(), &IntegrationConfig{TenantID: "t1"})
		var ve *ckerrors.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "integrationId", ve.Field)
	})
}

func TestConfigStore_UpdateTestStatus(t *testing.T) {
	eachStore(t, func(t *testing.T, s ConfigStore) {
		ctx := context.Background()
		status := &TestStatus{Success: true, Message: "HTTP 200", StatusCode: 200,
			TestedAt: time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)}

		var nf *ckerrors.NotFoundError
		require.ErrorAs(t, s.UpdateTestStatus(ctx, "t1", "missing", status), &nf)

		cfg := sampleConfig("t1", "i1")
		require.NoError(t, s.Put(ctx, cfg))
		require.NoError(t, s.UpdateTestStatus(ctx, "t1", "i1", status))

		got, err := s.Get(ctx, "t1", "i1")
		require.NoError(t, err)
		assert.Equal(t, status, got.LastTest)
		got.LastTest = nil
		assert.Equal(t, cfg, got, "fields other than the test status are untouched")

		// A Put that lands first is kept; the status update only patches
		// its own member.
		replaced := sampleConfig("t1", "i1")
		replaced.AuthConfig["apiKey"] = "44:55:66:77"
		require.NoError(t, s.Put(ctx, replaced))
		require.NoError(t, s.UpdateTestStatus(ctx, "t1", "i1", status))
		got, err = s.Get(ctx, "t1", "i1")
		require.NoError(t, err)
		assert.Equal(t, "44:55:66:77", got.AuthConfig["apiKey"])

		require.NoError(t, s.UpdateTestStatus(ctx, "t1", "i1", nil))
		got, err = s.Get(ctx, "t1", "i1")
		require.NoError(t, err)
		assert.Nil(t, got.LastTest)
	})
}

func TestMemoryStore_CopiesRecords(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	cfg := sampleConfig("t1", "i1")
	require.NoError(t, s.Put(ctx, cfg))

	cfg.AuthConfig["apiKey"] = "mutated"
	cfg.Endpoints[0].Headers["Accept"] = "mutated"

	got, err := s.Get(ctx, "t1", "i1")
	require.NoError(t, err)
	assert.Equal(t, "00:11:22:33", got.AuthConfig["apiKey"])
	assert.Equal(t, "application/json", got.Endpoints[0].Headers["Accept"])
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("code")
	require.NoError(t, err)
	assert.Equal(t, ModeCode, m)

	_, err = ParseMode("Visual")
	assert.Error(t, err, "mode parsing is case sensitive")
}

func TestParseAuthType(t *testing.T) {
	a, err := ParseAuthType("")
	require.NoError(t, err)
	assert.Equal(t, AuthNone, a)

	for _, s := range []string{"api_key", "bearer", "basic", "oauth2"} {
		_, err := ParseAuthType(s)
		assert.NoError(t, err, s)
	}
	_, err = ParseAuthType("digest")
	assert.Error(t, err)
}
