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
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/tombee/complykit/internal/store"
	ckerrors "github.com/tombee/complykit/pkg/errors"
)

// Credential field names inside an integration's auth config.
const (
	FieldAPIKey       = "apiKey"
	FieldHeaderName   = "headerName"
	FieldToken        = "token"
	FieldUsername     = "username"
	FieldPassword     = "password"
	FieldClientID     = "clientId"
	FieldClientSecret = "clientSecret"
	FieldTokenURL     = "tokenUrl"
	FieldScopes       = "scopes"
)

// DefaultAPIKeyHeader carries the key when the config names no header.
const DefaultAPIKeyHeader = "X-API-Key"

// AuthHeaders builds the request headers for authType from decrypted
// credentials. For oauth2 a client-credentials token is fetched through the
// guarded client on every call and is never cached.
func (t *Tester) AuthHeaders(ctx context.Context, authType store.AuthType, creds map[string]string) (map[string]string, error) {
	switch authType {
	case store.AuthNone, "":
		return map[string]string{}, nil

	case store.AuthAPIKey:
		key, err := required(creds, FieldAPIKey)
		if err != nil {
			return nil, err
		}
		header := strings.TrimSpace(creds[FieldHeaderName])
		if header == "" {
			header = DefaultAPIKeyHeader
		}
		return map[string]string{header: key}, nil

	case store.AuthBearer:
		token, err := required(creds, FieldToken)
		if err != nil {
			return nil, err
		}
		return map[string]string{"Authorization": "Bearer " + token}, nil

	case store.AuthBasic:
		user, err := required(creds, FieldUsername)
		if err != nil {
			return nil, err
		}
		pass, err := required(creds, FieldPassword)
		if err != nil {
			return nil, err
		}
		encoded := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
		return map[string]string{"Authorization": "Basic " + encoded}, nil

	case store.AuthOAuth2:
		token, err := t.clientCredentialsToken(ctx, creds)
		if err != nil {
			return nil, err
		}
		return map[string]string{"Authorization": token.Type() + " " + token.AccessToken}, nil
	}

	return nil, &ckerrors.ConfigError{Key: "auth_type", Reason: "unsupported auth type " + string(authType)}
}

func (t *Tester) clientCredentialsToken(ctx context.Context, creds map[string]string) (*oauth2.Token, error) {
	fields := make(map[string]string, 3)
	for _, name := range []string{FieldClientID, FieldClientSecret, FieldTokenURL} {
		v, err := required(creds, name)
		if err != nil {
			return nil, err
		}
		fields[name] = v
	}

	cc := &clientcredentials.Config{
		ClientID:     fields[FieldClientID],
		ClientSecret: fields[FieldClientSecret],
		TokenURL:     fields[FieldTokenURL],
		Scopes:       splitScopes(creds[FieldScopes]),
	}

	// The token endpoint is reached through the same SSRF guard as every
	// other outbound call.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, t.client.HTTPClient())
	token, err := cc.Token(ctx)
	if err != nil {
		if ckerrors.IsSSRF(err) {
			return nil, err
		}
		return nil, ckerrors.Wrap(err, "oauth2 token request failed")
	}
	return token, nil
}

func required(creds map[string]string, field string) (string, error) {
	v := strings.TrimSpace(creds[field])
	if v == "" {
		return "", &ckerrors.ConfigError{Key: "auth_config." + field, Reason: "missing credential"}
	}
	return v, nil
}

func splitScopes(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}
