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

// Package credentials provides the 'insiders credentials' commands that
// store the git token and index passwords in the system keychain.
package credentials

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tombee/insiders/internal/commands/completion"
	"github.com/tombee/insiders/internal/commands/shared"
	"github.com/tombee/insiders/internal/secrets"
)

// newResolver is replaced in tests.
var newResolver = secrets.Default

// NewCommand creates the credentials command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage the git token and index passwords",
		Long: `Manage credentials in the system keychain.

Two kinds of keys are recognised:

  git/token                 token for HTTPS clones of upstream repositories
  index/<name>/password     password for a destination index with auth: true

Environment variables override stored values, e.g. INSIDERS_GIT_TOKEN or
INSIDERS_INDEX_PYPI_PASSWORD.`,
		Annotations: map[string]string{
			"group": "system",
		},
	}

	cmd.AddCommand(newSetCommand())
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newDeleteCommand())

	return cmd
}

func newSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY",
		Short: "Store a credential",
		Long: `Store a credential in the keychain.

The value is read from standard input when it is piped, otherwise it is
prompted for with hidden input.`,
		Example: `  insiders credentials set git/token
  echo "$PYPI_TOKEN" | insiders credentials set index/pypi/password`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteCredentialKeys,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if err := secrets.ValidateKey(key); err != nil {
				return shared.NewInvalidInputError(err.Error(), nil)
			}

			value, err := readSecretValue(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("failed to read secret value: %w", err)
			}
			if value == "" {
				return shared.NewInvalidInputError("secret value cannot be empty", nil)
			}

			if err := newResolver().Set(cmd.Context(), key, value); err != nil {
				if errors.Is(err, secrets.ErrBackendUnavailable) {
					return shared.NewFailureError("no keychain available",
						fmt.Errorf("%w; export %s instead", err, secrets.EnvVar(key)))
				}
				return fmt.Errorf("failed to store secret: %w", err)
			}

			if !shared.GetQuiet() {
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("Stored "+key))
			}
			return nil
		},
	}
}

func newGetCommand() *cobra.Command {
	var unmask bool

	cmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Show a stored credential",
		Long: `Show a credential from the environment or the keychain.

The value is masked unless --unmask is given.`,
		Example: `  insiders credentials get git/token
  insiders credentials get index/pypi/password --unmask`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteCredentialKeys,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if err := secrets.ValidateKey(key); err != nil {
				return shared.NewInvalidInputError(err.Error(), nil)
			}

			value, source, err := newResolver().Resolve(cmd.Context(), key)
			if err != nil {
				if errors.Is(err, secrets.ErrSecretNotFound) {
					return shared.NewFailureError(fmt.Sprintf("credential %q is not set", key),
						fmt.Errorf("set it with 'insiders credentials set %s'", key))
				}
				return fmt.Errorf("failed to read secret: %w", err)
			}

			if unmask {
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (from %s; use --unmask to show full value)\n", maskSecret(value), source)
			return nil
		},
	}

	cmd.Flags().BoolVar(&unmask, "unmask", false, "Show the full value")

	return cmd
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "delete KEY",
		Aliases:           []string{"rm"},
		Short:             "Remove a stored credential",
		Example:           `  insiders credentials delete index/pypi/password`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteCredentialKeys,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if err := secrets.ValidateKey(key); err != nil {
				return shared.NewInvalidInputError(err.Error(), nil)
			}

			if err := newResolver().Delete(cmd.Context(), key); err != nil {
				if errors.Is(err, secrets.ErrSecretNotFound) {
					return shared.NewFailureError(fmt.Sprintf("credential %q is not stored", key), nil)
				}
				return fmt.Errorf("failed to delete secret: %w", err)
			}

			if !shared.GetQuiet() {
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("Deleted "+key))
			}
			return nil
		},
	}
}

// readSecretValue reads a piped value, or prompts with hidden input when
// in is a terminal.
func readSecretValue(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Enter value (hidden): ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// maskSecret masks a secret value for display.
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:4] + "..." + value[len(value)-4:]
}
