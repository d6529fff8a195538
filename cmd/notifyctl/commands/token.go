package commands

import (
	"fmt"
	"time"

	"notify-realtime/internal/auth"

	"github.com/spf13/cobra"
)

var (
	tokenUserID int64
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a JWT accepted by the channel authorization endpoint",
	Long: `Mint an HS256 token signed with NOTIFY_JWT_SECRET.

Examples:
  notifyctl token --user 42
  notifyctl token --user 42 --ttl 1h`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().Int64Var(&tokenUserID, "user", 0, "User id carried in the user_id claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (defaults to NOTIFY_JWT_EXPIRE)")
	tokenCmd.MarkFlagRequired("user")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	ttl := tokenTTL
	if ttl <= 0 {
		ttl = cfg.JWT.ExpirationTime
	}
	token, err := auth.IssueToken(cfg.JWT.Secret, tokenUserID, ttl)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
