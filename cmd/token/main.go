// cmd/token mints operator tokens for the lobby ops API and generates the shared key pair the
// servers verify them with.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/Discord-InterChat/InterChat-sub001/internal/auth"
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lobby-token",
		Short:         "Manage operator credentials for the chat lobby ops API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newKeygenCmd(), newMintCmd())
	return root
}

func newKeygenCmd() *cobra.Command {
	var privatePath, publicPath string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Write a new ed25519 key pair for AUTH_PRIVATE_KEY_PATH / AUTH_PUBLIC_KEY_PATH",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := auth.GenerateKeyFiles(privatePath, publicPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "AUTH_PRIVATE_KEY_PATH=%s\nAUTH_PUBLIC_KEY_PATH=%s\n", privatePath, publicPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&privatePath, "private", "lobby_ops.key", "path of the private key to create")
	cmd.Flags().StringVar(&publicPath, "public", "lobby_ops.pub", "path of the public key to create")
	return cmd
}

func newMintCmd() *cobra.Command {
	var operator string
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Print an operator token signed with the key pair from AUTH_*_KEY_PATH",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ephemeral, err := auth.InitFromEnv()
			if err != nil {
				return err
			}
			if ephemeral {
				return errors.New("AUTH_PRIVATE_KEY_PATH and AUTH_PUBLIC_KEY_PATH must point at the servers' key pair")
			}
			token, err := auth.CreateOperatorToken(operator)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "operator name recorded in the token subject")
	_ = cmd.MarkFlagRequired("operator")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lobby-token:", err)
		os.Exit(1)
	}
}
