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

// Package run implements the run command.
package run

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tombee/complykit/internal/commands/shared"
	"github.com/tombee/complykit/internal/integration"
)

// NewCommand creates the run command
func NewCommand() *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "run <tenant-id> <integration-id>",
		Short: "Run an integration sync and store the evidence",
		Long: `Run executes one sync. Visual integrations call every configured
endpoint; code integrations run the stored sync code in the sandbox,
subject to the per-tenant execution rate limit.

Exit status is 0 when every item was collected, 1 when the sync failed
or partially failed, and 4 when the tenant is rate limited.`,
		Example: `  complykit run acme github
  complykit run acme okta --json | jq .result.evidenceCreated`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return shared.WithRuntime(cmd, func(ctx context.Context, rt *shared.Runtime) error {
				res, err := rt.Service.ExecuteSync(ctx, args[1], args[0], actor)
				if err != nil {
					return err
				}
				if err := report(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if !res.Success {
					return &shared.ExitError{Code: shared.ExitFailed, Message: res.Message}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&actor, "actor", shared.DefaultActor(), "Actor recorded in the audit log")
	return cmd
}

func report(w io.Writer, res *integration.SyncResult) error {
	if shared.GetJSON() {
		return shared.EmitJSON(w, struct {
			shared.JSONResponse
			Result *integration.SyncResult `json:"result"`
		}{shared.NewResponse("run", res.Success), res})
	}

	fmt.Fprintln(w, res.Message)
	if res.ErrorType != "" {
		fmt.Fprintf(w, "  type: %s\n", res.ErrorType)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  - %s\n", e)
	}
	return nil
}
