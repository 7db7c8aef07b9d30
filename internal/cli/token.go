package cli

import (
	"fmt"
	"time"

	"creditsystem/internal/config"
	"creditsystem/internal/handler"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().String("role", handler.RoleUser, "Token role: user or service")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
}

var tokenCmd = &cobra.Command{
	Use:   "token USER_ID",
	Short: "Issue a bearer token signed with the configured secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func runToken(cmd *cobra.Command, args []string) error {
	var userID int64
	if _, err := fmt.Sscan(args[0], &userID); err != nil || userID <= 0 {
		return fmt.Errorf("invalid user id %q", args[0])
	}
	role, _ := cmd.Flags().GetString("role")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if role != handler.RoleUser && role != handler.RoleService {
		return fmt.Errorf("unknown role %q", role)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not set")
	}
	token, err := handler.IssueToken(cfg.Auth.JWTSecret, cfg.Auth.Issuer, userID, role, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
