package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psds-microservice/support-chat/internal/auth"
	"github.com/psds-microservice/support-chat/internal/model"
)

var tokenFlags struct {
	user uint64
	name string
	role string
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a development token signed with JWT_SECRET",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.JWTSecret == "" {
			return errors.New("JWT_SECRET is required")
		}
		role := model.Role(tokenFlags.role)
		switch role {
		case model.RoleUser, model.RoleOperator, model.RoleAdmin:
		default:
			return fmt.Errorf("unknown role %q", tokenFlags.role)
		}
		tok, err := auth.Issue(cfg.JWTSecret, model.User{ID: tokenFlags.user, Name: tokenFlags.name, Role: role}, cfg.JWTTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Uint64Var(&tokenFlags.user, "user", 0, "user id")
	tokenCmd.Flags().StringVar(&tokenFlags.name, "name", "", "display name")
	tokenCmd.Flags().StringVar(&tokenFlags.role, "role", string(model.RoleUser), "user, operator or admin")
	_ = tokenCmd.MarkFlagRequired("user")
}
