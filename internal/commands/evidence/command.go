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

// Package evidence implements the evidence command group.
package evidence

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/complykit/internal/commands/shared"
	"github.com/tombee/complykit/internal/evidence"
)

// NewCommand creates the evidence command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evidence",
		Short: "Inspect stored evidence",
	}
	cmd.AddCommand(newListCommand())
	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <tenant-id> <integration-id>",
		Short: "List evidence collected for an integration",
		Long: `List reads evidence artifacts from the blob directory (evidence.dir).
It does not need the master key.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.Evidence.Backend != "blob" {
				return &shared.ExitError{Code: shared.ExitConfig, Message: "evidence listing requires the blob backend"}
			}

			sink, err := evidence.NewBlobSink(cfg.Evidence.Dir, shared.NewLogger(cfg))
			if err != nil {
				return err
			}
			records, err := sink.Records(args[0], args[1])
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), records)
		},
	}
}

func report(w io.Writer, records []evidence.Record) error {
	if shared.GetJSON() {
		return shared.EmitJSON(w, struct {
			shared.JSONResponse
			Evidence []evidence.Record `json:"evidence"`
		}{shared.NewResponse("evidence list", true), records})
	}

	if len(records) == 0 {
		fmt.Fprintln(w, "No evidence")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tTYPE\tTITLE\tID")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.CreatedAt.Format("2006-01-02 15:04:05"), r.Type, r.Title, r.ID)
	}
	return tw.Flush()
}
