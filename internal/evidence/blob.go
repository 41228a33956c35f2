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

package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/complykit/internal/log"
)

// BlobSink writes one JSON artifact per item under
// <root>/<tenant>/<integration>/<id>.json. Tenant and integration IDs are
// path-escaped so they cannot leave their directory.
type BlobSink struct {
	root   string
	logger *slog.Logger
}

// NewBlobSink creates a sink rooted at dir, creating it if needed.
func NewBlobSink(dir string, logger *slog.Logger) (*BlobSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("evidence directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create evidence directory: %w", err)
	}
	return &BlobSink{
		root:   dir,
		logger: log.WithComponent(log.OrDiscard(logger), "evidence"),
	}, nil
}

func (s *BlobSink) CreateFromItems(ctx context.Context, tenantID, integrationID string, items []Item) (int, error) {
	dir := filepath.Join(s.root, escape(tenantID), escape(integrationID))
	if err := os.MkdirAll(dir, 0700); err != nil {
		return 0, fmt.Errorf("failed to create evidence directory: %w", err)
	}

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		rec := Record{
			ID:            uuid.NewString(),
			TenantID:      tenantID,
			IntegrationID: integrationID,
			CreatedAt:     time.Now().UTC(),
			Item:          item,
		}
		if err := writeRecord(dir, rec); err != nil {
			s.logger.Error("failed to write evidence artifact",
				log.TenantIDKey, tenantID, log.IntegrationIDKey, integrationID, log.Error(err))
			return i, err
		}
	}
	return len(items), nil
}

// Records reads back every artifact for one integration.
func (s *BlobSink) Records(tenantID, integrationID string) ([]Record, error) {
	dir := filepath.Join(s.root, escape(tenantID), escape(integrationID))
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Name(), err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func writeRecord(dir string, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode evidence: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".evidence-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, rec.ID+".json"))
}

func escape(id string) string {
	if id == "" || id == "." || id == ".." {
		return "_" + url.PathEscape(id)
	}
	return url.PathEscape(id)
}
