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

package endpoint

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/complykit/internal/evidence"
	"github.com/tombee/complykit/internal/safefetch"
	"github.com/tombee/complykit/internal/store"
	ckerrors "github.com/tombee/complykit/pkg/errors"
)

func newTester(t *testing.T) *Tester {
	t.Helper()
	return New(safefetch.New(safefetch.Options{AllowPrivateIPs: true}))
}

func configFor(baseURL string, eps ...store.Endpoint) *store.IntegrationConfig {
	return &store.IntegrationConfig{
		TenantID:      "t1",
		IntegrationID: "i1",
		Mode:          store.ModeVisual,
		BaseURL:       baseURL,
		AuthType:      store.AuthAPIKey,
		Endpoints:     eps,
	}
}

func TestAuthHeaders(t *testing.T) {
	tester := newTester(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		authType store.AuthType
		creds    map[string]string
		want     map[string]string
	}{
		{"none", store.AuthNone, nil, map[string]string{}},
		{"api key default header", store.AuthAPIKey, map[string]string{FieldAPIKey: "k1"}, map[string]string{"X-API-Key": "k1"}},
		{"api key custom header", store.AuthAPIKey, map[string]string{FieldAPIKey: "k1", FieldHeaderName: "X-Token"}, map[string]string{"X-Token": "k1"}},
		{"bearer", store.AuthBearer, map[string]string{FieldToken: "tok"}, map[string]string{"Authorization": "Bearer tok"}},
		{"basic", store.AuthBasic, map[string]string{FieldUsername: "u", FieldPassword: "p"},
			map[string]string{"Authorization": "Basic " + base64.StdEncoding.EncodeToString([]byte("u:p"))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tester.AuthHeaders(ctx, tt.authType, tt.creds)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthHeaders_MissingCredential(t *testing.T) {
	tester := newTester(t)
	for _, at := range []store.AuthType{store.AuthAPIKey, store.AuthBearer, store.AuthBasic, store.AuthOAuth2} {
		t.Run(string(at), func(t *testing.T) {
			_, err := tester.AuthHeaders(context.Background(), at, map[string]string{})
			var cfgErr *ckerrors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestAuthHeaders_OAuth2FetchesFreshToken(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		assert.Equal(t, "read write", r.Form.Get("scope"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-123",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	tester := newTester(t)
	creds := map[string]string{
		FieldClientID:     "cid",
		FieldClientSecret: "secret",
		FieldTokenURL:     srv.URL + "/token",
		FieldScopes:       "read,write",
	}
	for range 2 {
		got, err := tester.AuthHeaders(context.Background(), store.AuthOAuth2, creds)
		require.NoError(t, err)
		assert.Equal(t, "Bearer at-123", got["Authorization"])
	}
	assert.Equal(t, 2, calls, "tokens are not cached")
}

func TestAuthHeaders_OAuth2TokenURLGuarded(t *testing.T) {
	tester := New(safefetch.New(safefetch.Options{}))
	_, err := tester.AuthHeaders(context.Background(), store.AuthOAuth2, map[string]string{
		FieldClientID:     "cid",
		FieldClientSecret: "secret",
		FieldTokenURL:     "http://169.254.169.254/token",
	})
	require.Error(t, err)
	assert.True(t, ckerrors.IsSSRF(err))
}

func TestTest_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/users", r.URL.Path)
		assert.Equal(t, "k1", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"users":[{"name":"a","mfa":true}],"__proto__":{"x":1}}`)
	}))
	defer srv.Close()

	cfg := configFor(srv.URL+"/api/v1/", store.Endpoint{Name: "users", Path: "/users"})
	res, err := newTester(t).Test(context.Background(), cfg, map[string]string{FieldAPIKey: "k1"}, 0)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Connection successful", res.Message)

	data, ok := res.Data.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, data, "users")
	assert.NotContains(t, data, "__proto__")
}

func TestTest_HTTPFailureInResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	res, err := newTester(t).Test(context.Background(), configFor(srv.URL, store.Endpoint{Path: "/x"}), map[string]string{FieldAPIKey: "k"}, 0)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "HTTP 401 Unauthorized", res.Message)
	assert.Contains(t, res.Error, "bad key")
}

func TestTest_ConfigErrors(t *testing.T) {
	tester := newTester(t)
	creds := map[string]string{FieldAPIKey: "k"}

	tests := []struct {
		name  string
		cfg   *store.IntegrationConfig
		index int
	}{
		{"index out of range", configFor("https://api.example.com", store.Endpoint{Path: "/a"}), 1},
		{"negative index", configFor("https://api.example.com", store.Endpoint{Path: "/a"}), -1},
		{"bad base url", configFor("not a url", store.Endpoint{Path: "/a"}), 0},
		{"ftp base url", configFor("ftp://api.example.com", store.Endpoint{Path: "/a"}), 0},
		{"absolute path", configFor("https://api.example.com", store.Endpoint{Path: "https://evil.example/a"}), 0},
		{"scheme relative path", configFor("https://api.example.com", store.Endpoint{Path: "//evil.example/a"}), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tester.Test(context.Background(), tt.cfg, creds, tt.index)
			var cfgErr *ckerrors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestTest_SSRFSurfaced(t *testing.T) {
	tester := New(safefetch.New(safefetch.Options{}))
	cfg := configFor("http://127.0.0.1:8080", store.Endpoint{Path: "/admin"})
	_, err := tester.Test(context.Background(), cfg, map[string]string{FieldAPIKey: "k"}, 0)
	require.Error(t, err)
	assert.True(t, ckerrors.IsSSRF(err))
}

func TestSync_PartialSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"users":[{"id":1},{"id":2}]}}`)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/policies", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"active":true}`, string(body))
		_, _ = io.WriteString(w, `[{"name":"p1"}]`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := configFor(srv.URL,
		store.Endpoint{Name: "Users", Path: "/users", ResponsePath: ".data.users | length"},
		store.Endpoint{Name: "Broken", Path: "/broken"},
		store.Endpoint{Name: "Policies", Path: "/policies", Method: "post", Body: `{"active":true}`},
	)
	items, errs := newTester(t).Sync(context.Background(), cfg, map[string]string{FieldAPIKey: "k"})

	require.Len(t, items, 2)
	assert.Equal(t, "Users", items[0].Title)
	assert.Equal(t, 2, items[0].Data)
	assert.Equal(t, evidence.TypeAPIResponse, items[0].Type)
	assert.Equal(t, "Policies", items[1].Title)
	assert.Equal(t, "POST /policies", items[1].Description)

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Broken")
	assert.Contains(t, errs[0], "500")
}

func TestSync_NoEndpoints(t *testing.T) {
	items, errs := newTester(t).Sync(context.Background(), configFor("https://api.example.com"), nil)
	assert.Empty(t, items)
	assert.Equal(t, []string{"no endpoints configured"}, errs)
}

func TestSync_AuthFailureStopsEarly(t *testing.T) {
	cfg := configFor("https://api.example.com", store.Endpoint{Path: "/a"})
	items, errs := newTester(t).Sync(context.Background(), cfg, map[string]string{})
	assert.Empty(t, items)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "authentication")
}

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		base, path, want string
	}{
		{"https://api.example.com", "/users", "https://api.example.com/users"},
		{"https://api.example.com/v2/", "users", "https://api.example.com/v2/users"},
		{"https://api.example.com/v2", "/users?page=2", "https://api.example.com/v2/users?page=2"},
	}
	for _, tt := range tests {
		got, err := endpointURL(tt.base, tt.path)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
