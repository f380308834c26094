package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jhoicas/cfdi-engine/internal/app"
	"github.com/jhoicas/cfdi-engine/pkg/config"
	"github.com/jhoicas/cfdi-engine/pkg/jwt"
)

var (
	tokenRole    string
	tokenUser    string
	tokenMinutes int
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Emitir un Bearer Token para el API de un emisor registrado",
	RunE: func(cmd *cobra.Command, _ []string) error {
		switch tokenRole {
		case "admin", "facturista":
		default:
			return fmt.Errorf("rol %q inválido (admin, facturista)", tokenRole)
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		minutes := tokenMinutes
		if minutes <= 0 {
			minutes = cfg.JWT.Expiration
		}
		return withContainer(cmd, func(ctx context.Context, c *app.Container) error {
			issuer, err := resolveIssuer(ctx, c)
			if err != nil {
				return err
			}
			tok, err := jwt.Generate(cfg.JWT.Secret, tokenUser, issuer.ID, tokenRole, cfg.JWT.Issuer, minutes)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&tokenRole, "role", "facturista", "admin o facturista")
	tokenCmd.Flags().StringVar(&tokenUser, "user", "cfdictl", "Sujeto del token")
	tokenCmd.Flags().IntVar(&tokenMinutes, "minutes", 0, "Vigencia; 0 = JWT_EXPIRATION_MINUTES")
}
