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

// Package secrets implements the credential commands: rotate-key and mask.
package secrets

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/complykit/internal/commands/shared"
	"github.com/tombee/complykit/internal/integration"
	"github.com/tombee/complykit/internal/secrets"
)

// NewRotateKeyCommand creates the rotate-key command.
func NewRotateKeyCommand() *cobra.Command {
	var keyFile string

	cmd := &cobra.Command{
		Use:   "rotate-key",
		Short: "Re-encrypt stored credentials under a new master key",
		Long: `rotate-key decrypts every inline-encrypted credential with the current
master key and re-encrypts it with the new one. Credentials held by an
external secrets provider are not touched.

The new key is read from --new-key-file, prompted for (hidden) on a
terminal, or read from the first line of stdin.

Records that cannot be decrypted are left as they are and listed in the
output. After rotation set COMPLYKIT_MASTER_KEY to the new key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			newKey, err := readNewKey(cmd.ErrOrStderr(), keyFile)
			if err != nil {
				return err
			}

			return shared.WithRuntime(cmd, func(ctx context.Context, rt *shared.Runtime) error {
				res, err := rt.Service.RotateEncryptionKey(ctx, newKey)
				if err != nil {
					return err
				}
				if err := reportRotation(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if !res.Success {
					return &shared.ExitError{
						Code:    shared.ExitFailed,
						Message: fmt.Sprintf("%d integration(s) could not be rotated", len(res.Errors)),
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&keyFile, "new-key-file", "", "File holding the new master key")
	return cmd
}

func readNewKey(prompt io.Writer, keyFile string) (string, error) {
	if keyFile != "" {
		data, err := os.ReadFile(keyFile)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}

	key, err := shared.ReadHidden(prompt, "New master key: ")
	if err != nil {
		return "", err
	}
	if !shared.IsTerminal() {
		return key, nil
	}
	confirm, err := shared.ReadHidden(prompt, "Confirm new master key: ")
	if err != nil {
		return "", err
	}
	if key != confirm {
		return "", &shared.ExitError{Code: shared.ExitInvalidInput, Message: "keys do not match"}
	}
	return key, nil
}

func reportRotation(w io.Writer, res *integration.RotationResult) error {
	if shared.GetJSON() {
		return shared.EmitJSON(w, struct {
			shared.JSONResponse
			Result *integration.RotationResult `json:"result"`
		}{shared.NewResponse("rotate-key", res.Success), res})
	}

	fmt.Fprintf(w, "Rotated credentials for %d integration(s)\n", res.CredentialsRotated)
	for _, id := range res.Errors {
		fmt.Fprintf(w, "  failed: %s\n", id)
	}
	fmt.Fprintln(w, "Set COMPLYKIT_MASTER_KEY to the new key before the next run")
	return nil
}

// NewMaskCommand creates the mask command.
func NewMaskCommand() *cobra.Command {
	var field string

	cmd := &cobra.Command{
		Use:   "mask [value]",
		Short: "Print the display mask of a credential",
		Long: `mask prints a value the way it is shown in integration configs: the
first and last four characters around a fixed marker, or a full mask for
short values. Without an argument the value is read hidden from the
terminal or from stdin.

With --field, mask also reports whether a config field of that name is
treated as a credential.`,
		Example: `  complykit mask sk-live-12345
  complykit mask --field clientSecret`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if field != "" {
				fmt.Fprintf(out, "%s: sensitive=%t\n", field, secrets.IsSensitiveField(field))
				if len(args) == 0 {
					return nil
				}
			}

			var value string
			if len(args) == 1 {
				value = args[0]
			} else {
				v, err := shared.ReadHidden(cmd.ErrOrStderr(), "Value: ")
				if err != nil {
					return err
				}
				value = v
			}
			fmt.Fprintln(out, secrets.Mask(value))
			return nil
		},
	}

	cmd.Flags().StringVar(&field, "field", "", "Report whether this config field holds a credential")
	return cmd
}
