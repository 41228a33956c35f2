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

// Package validate implements the validate command.
package validate

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/complykit/internal/codepolicy"
	"github.com/tombee/complykit/internal/commands/shared"
	"github.com/tombee/complykit/internal/featureflags"
)

// NewCommand creates the validate command
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <code-file>",
		Short: "Check custom sync code against the code policy",
		Long: `Validate runs the same static checks that gate every custom code sync.
It needs no master key and never executes the code.

When custom code execution is enabled (COMPLYKIT_CUSTOM_CODE_ENABLED or
sandbox.custom_code_enabled) the code is also parsed; otherwise only
bracket balance is checked and reported as warnings.

Use - to read the code from stdin.`,
		Example: `  complykit validate okta-sync.js
  cat okta-sync.js | complykit validate - --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := readSource(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			flags := featureflags.New()
			cfg.ApplyFlags(flags)

			res := codepolicy.Validate(source, codepolicy.Options{ExecutionEnabled: flags.IsCustomCodeEnabled()})
			if err := report(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Valid {
				return &shared.ExitError{Code: shared.ExitInvalidInput, Message: fmt.Sprintf("%d policy violation(s)", len(res.Errors))}
			}
			return nil
		},
	}
}

func readSource(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(io.LimitReader(stdin, codepolicy.MaxSourceBytes+1))
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func report(w io.Writer, res codepolicy.Result) error {
	if shared.GetJSON() {
		return shared.EmitJSON(w, struct {
			shared.JSONResponse
			codepolicy.Result
		}{shared.NewResponse("validate", res.Valid), res})
	}

	for _, e := range res.Errors {
		fmt.Fprintf(w, "error: %s\n", e)
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	if res.Valid {
		fmt.Fprintln(w, "Code passes the policy checks")
	}
	return nil
}
