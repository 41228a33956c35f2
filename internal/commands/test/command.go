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

// Package test implements the endpoint test command.
package test

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tombee/complykit/internal/commands/shared"
	"github.com/tombee/complykit/internal/endpoint"
	"github.com/tombee/complykit/internal/integration"
)

// NewCommand creates the test command
func NewCommand() *cobra.Command {
	var (
		index int
		actor string
	)

	cmd := &cobra.Command{
		Use:   "test <tenant-id> <integration-id>",
		Short: "Test one endpoint of a visual integration",
		Long: `Test calls one configured endpoint with the stored credentials and
reports the status and extracted data. The outcome is recorded as the
integration's last test status.`,
		Example: `  complykit test acme github --endpoint 1`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return shared.WithRuntime(cmd, func(ctx context.Context, rt *shared.Runtime) error {
				res, err := rt.Service.TestEndpoint(ctx, args[1], args[0], actor, integration.TestRequest{EndpointIndex: index})
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

	cmd.Flags().IntVarP(&index, "endpoint", "e", 0, "Index of the endpoint to test")
	cmd.Flags().StringVar(&actor, "actor", shared.DefaultActor(), "Actor recorded in the audit log")
	return cmd
}

func report(w io.Writer, res *endpoint.TestResult) error {
	if shared.GetJSON() {
		return shared.EmitJSON(w, struct {
			shared.JSONResponse
			Result *endpoint.TestResult `json:"result"`
		}{shared.NewResponse("test", res.Success), res})
	}

	fmt.Fprintf(w, "%s (%dms)\n", res.Message, res.ResponseTime.Milliseconds())
	if res.StatusCode != 0 {
		fmt.Fprintf(w, "  status: %d\n", res.StatusCode)
	}
	if res.Error != "" {
		fmt.Fprintf(w, "  error:  %s\n", res.Error)
	}
	return nil
}
