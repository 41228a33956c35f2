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

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/complykit/internal/cli"
	"github.com/tombee/complykit/internal/commands/config"
	"github.com/tombee/complykit/internal/commands/evidence"
	"github.com/tombee/complykit/internal/commands/run"
	"github.com/tombee/complykit/internal/commands/secrets"
	"github.com/tombee/complykit/internal/commands/test"
	"github.com/tombee/complykit/internal/commands/validate"
	versioncmd "github.com/tombee/complykit/internal/commands/version"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildDate)

	rootCmd := cli.NewRootCommand()

	// Integration configs
	rootCmd.AddCommand(config.NewCommand())
	rootCmd.AddCommand(validate.NewCommand())

	// Sync
	rootCmd.AddCommand(test.NewCommand())
	rootCmd.AddCommand(run.NewCommand())
	rootCmd.AddCommand(evidence.NewCommand())

	// Credentials
	rootCmd.AddCommand(secrets.NewRotateKeyCommand())
	rootCmd.AddCommand(secrets.NewMaskCommand())

	rootCmd.AddCommand(versioncmd.NewVersionCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		cli.HandleExitError(err)
	}
}
