package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/your-org/facegroups/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token for an owner (development)",
	RunE:  runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().String("owner", "", "Owner id; a new one is generated when empty")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Server.JWTSecret == "" {
		return errors.New("server.jwt_secret is not configured")
	}

	owner := uuid.New()
	if s := mustGetString(cmd, "owner"); s != "" {
		if owner, err = uuid.Parse(s); err != nil {
			return fmt.Errorf("invalid --owner: %w", err)
		}
	}
	ttl, err := cmd.Flags().GetDuration("ttl")
	if err != nil {
		return err
	}

	token, err := auth.IssueToken(cfg.Server.JWTSecret, owner, ttl)
	if err != nil {
		return err
	}
	fmt.Printf("owner: %s\ntoken: %s\n", owner, token)
	return nil
}
