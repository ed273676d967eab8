package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iurnickita/keyvend/internal/auth"
)

var (
	tokenRole string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue an API bearer token",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", auth.RoleAdmin, "token role (admin, service)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime, 0 for no expiry")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	issuer := auth.NewAuth(cfg.Auth)
	token, err := issuer.IssueToken(args[0], tokenRole, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
