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

// Package config implements the config command group for integration
// configs.
package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/complykit/internal/commands/shared"
	"github.com/tombee/complykit/internal/integration"
)

// NewCommand creates the config command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show, save or delete integration configs",
	}
	cmd.AddCommand(newGetCommand(), newSaveCommand(), newDeleteCommand())
	return cmd
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <tenant-id> <integration-id>",
		Short: "Show an integration config with credentials masked",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return shared.WithRuntime(cmd, func(ctx context.Context, rt *shared.Runtime) error {
				view, err := rt.Service.GetConfig(ctx, args[1], args[0])
				if err != nil {
					return err
				}
				return printView(cmd.OutOrStdout(), "config get", view)
			})
		},
	}
}

func newSaveCommand() *cobra.Command {
	var (
		file     string
		codeFile string
		actor    string
	)

	cmd := &cobra.Command{
		Use:   "save <tenant-id> <integration-id>",
		Short: "Create or update an integration config",
		Long: `Save reads the config from a YAML or JSON file (or stdin with -f -).

Credentials in authConfig are encrypted before they are stored. Omit
authConfig to keep the stored credentials, or pass a masked value as
shown by 'config get' to keep a single field. An empty value removes
the field.`,
		Example: `  # visual integration
  complykit config save acme github -f github.yaml

  # custom code integration
  complykit config save acme okta -f okta.yaml --code okta-sync.js`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := readSaveRequest(cmd.InOrStdin(), file)
			if err != nil {
				return shared.NewExitError("invalid config file", err)
			}
			if codeFile != "" {
				code, err := os.ReadFile(codeFile)
				if err != nil {
					return err
				}
				req.CustomCode = string(code)
			}

			return shared.WithRuntime(cmd, func(ctx context.Context, rt *shared.Runtime) error {
				view, err := rt.Service.SaveConfig(ctx, args[1], args[0], actor, *req)
				if err != nil {
					return err
				}
				return printView(cmd.OutOrStdout(), "config save", view)
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Config file (YAML or JSON, - for stdin)")
	cmd.Flags().StringVar(&codeFile, "code", "", "Custom sync code file for code mode")
	cmd.Flags().StringVar(&actor, "actor", shared.DefaultActor(), "Actor recorded in the audit log")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newDeleteCommand() *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "delete <tenant-id> <integration-id>",
		Short: "Delete an integration config and its external secrets",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return shared.WithRuntime(cmd, func(ctx context.Context, rt *shared.Runtime) error {
				if err := rt.Service.DeleteConfig(ctx, args[1], args[0], actor); err != nil {
					return err
				}
				if shared.GetJSON() {
					return shared.EmitJSON(cmd.OutOrStdout(), shared.NewResponse("config delete", true))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s/%s\n", args[0], args[1])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", shared.DefaultActor(), "Actor recorded in the audit log")
	return cmd
}

// readSaveRequest parses a save request. yaml.v3 accepts JSON documents
// as well.
func readSaveRequest(stdin io.Reader, path string) (*integration.SaveRequest, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	var req integration.SaveRequest
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &req, nil
}

func printView(w io.Writer, command string, view *integration.ConfigView) error {
	if shared.GetJSON() {
		return shared.EmitJSON(w, struct {
			shared.JSONResponse
			Config *integration.ConfigView `json:"config"`
		}{shared.NewResponse(command, true), view})
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Integration:\t%s (tenant %s)\n", view.IntegrationID, view.TenantID)
	fmt.Fprintf(tw, "Mode:\t%s\n", view.Mode)
	if view.BaseURL != "" {
		fmt.Fprintf(tw, "Base URL:\t%s\n", view.BaseURL)
	}
	fmt.Fprintf(tw, "Auth:\t%s\n", view.AuthType)

	keys := make([]string, 0, len(view.AuthConfig))
	for k := range view.AuthConfig {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(tw, "  %s:\t%s\n", k, view.AuthConfig[k])
	}

	for i, ep := range view.Endpoints {
		method := ep.Method
		if method == "" {
			method = "GET"
		}
		fmt.Fprintf(tw, "Endpoint %d:\t%s %s %s\n", i, ep.Name, method, ep.Path)
	}
	if view.CustomCode != "" {
		fmt.Fprintf(tw, "Custom code:\t%d bytes\n", len(view.CustomCode))
	}
	if t := view.LastTestStatus; t != nil {
		status := "failed"
		if t.Success {
			status = "ok"
		}
		fmt.Fprintf(tw, "Last test:\t%s at %s\n", status, t.TestedAt.Format("2006-01-02 15:04:05Z07:00"))
	}
	fmt.Fprintf(tw, "Updated:\t%s by %s\n", view.UpdatedAt.Format("2006-01-02 15:04:05Z07:00"), view.UpdatedBy)
	return tw.Flush()
}
