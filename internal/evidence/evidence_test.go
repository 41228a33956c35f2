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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleItems = []Item{
	{Title: "Users", Data: map[string]any{"count": float64(2)}, Type: TypeAPIResponse},
	{Title: "Policies", Description: "MFA", Type: TypeAutomated},
}

func TestMemorySink(t *testing.T) {
	s := NewMemorySink()
	n, err := s.CreateFromItems(context.Background(), "t1", "i1", sampleItems)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.CreateFromItems(context.Background(), "t2", "i1", sampleItems[:1])
	require.NoError(t, err)

	recs := s.Records("t1")
	require.Len(t, recs, 2)
	assert.Equal(t, "Users", recs[0].Title)
	assert.NotEmpty(t, recs[0].ID)
	assert.NotEqual(t, recs[0].ID, recs[1].ID)
	assert.Len(t, s.Records("t2"), 1)
}

func TestMemorySink_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := NewMemorySink().CreateFromItems(ctx, "t1", "i1", sampleItems)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}

func TestBlobSink_WritesOneArtifactPerItem(t *testing.T) {
	root := t.TempDir()
	s, err := NewBlobSink(root, nil)
	require.NoError(t, err)

	n, err := s.CreateFromItems(context.Background(), "t1", "i1", sampleItems)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recs, err := s.Records("t1", "i1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	titles := []string{recs[0].Title, recs[1].Title}
	assert.ElementsMatch(t, []string{"Users", "Policies"}, titles)

	entries, err := os.ReadDir(filepath.Join(root, "t1", "i1"))
	require.NoError(t, err)
	for _, e := range entries {
		info, err := e.Info()
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), e.Name())
	}
}

func TestBlobSink_EscapesIDs(t *testing.T) {
	root := t.TempDir()
	s, err := NewBlobSink(root, nil)
	require.NoError(t, err)

	_, err = s.CreateFromItems(context.Background(), "../escape", "..", sampleItems[:1])
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(filepath.Dir(root), "escape"))
	assert.True(t, os.IsNotExist(err), "artifact escaped the evidence root")

	recs, err := s.Records("../escape", "..")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestBlobSink_RequiresDir(t *testing.T) {
	_, err := NewBlobSink("", nil)
	assert.Error(t, err)
}
