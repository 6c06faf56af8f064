package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/quantbot/internal/crypto"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage encrypted venue secrets",
}

var secretEncryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt a venue API secret for binance.encrypted_secret_path",
	Long: `Read the API secret from stdin and write it sealed with a password
(PBKDF2 key derivation, AES-256-GCM). The password is read from the
environment variable named by --password-env.

Example:
  echo "$API_SECRET" | QUANTBOT_BINANCE_SECRET_PASSWORD=... quantbot secret encrypt --out secret.json`,
	RunE: runSecretEncrypt,
}

var (
	secretOut         string
	secretPasswordEnv string
)

func init() {
	rootCmd.AddCommand(secretCmd)
	secretCmd.AddCommand(secretEncryptCmd)

	secretEncryptCmd.Flags().StringVarP(&secretOut, "out", "o", "", "output file (required)")
	secretEncryptCmd.Flags().StringVar(&secretPasswordEnv, "password-env", "QUANTBOT_BINANCE_SECRET_PASSWORD", "environment variable holding the password")
	_ = secretEncryptCmd.MarkFlagRequired("out")
}

func runSecretEncrypt(cmd *cobra.Command, args []string) error {
	password := os.Getenv(secretPasswordEnv)
	if password == "" {
		return fmt.Errorf("secret: %s is not set", secretPasswordEnv)
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return errors.New("secret: no secret on stdin")
	}
	sealed, err := crypto.EncryptSecret(strings.TrimSpace(line), password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(secretOut, sealed, 0o600); err != nil {
		return fmt.Errorf("secret: write %s: %w", secretOut, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sealed secret written to %s\n", secretOut)
	return nil
}
