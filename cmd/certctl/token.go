package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"certverify/internal/auth"
)

const tokenCmdExample = `# Mint a token for a university wallet
certctl token --subject 0x1111111111111111111111111111111111111111

# Mint an operator token
certctl token --subject ops --role super`

var (
	tokenSubject string
	tokenRole    string
)

var tokenCmd = &cobra.Command{
	Use:     "token",
	Short:   "Mint an admin bearer token",
	Long:    "Signs access and refresh tokens with JWT_SIGNING_KEY for the issuer endpoints.",
	Example: tokenCmdExample,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenSubject == "" {
			return fmt.Errorf("--subject is required")
		}
		if tokenRole != auth.RoleUniversity && tokenRole != auth.RoleSuper {
			return fmt.Errorf("--role must be %q or %q", auth.RoleUniversity, auth.RoleSuper)
		}
		pair, err := auth.Issue(tokenSubject, tokenRole, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(pair)
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Token subject, usually the university wallet")
	tokenCmd.Flags().StringVar(&tokenRole, "role", auth.RoleUniversity, "Role claim (university or super)")
}
