package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jhoicas/cfdi-engine/internal/app"
	"github.com/jhoicas/cfdi-engine/internal/application/billing"
	"github.com/jhoicas/cfdi-engine/internal/application/dto"
	"github.com/jhoicas/cfdi-engine/pkg/logger"
)

var inspectPassword string

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Validar credenciales y disponibilidad del PAC",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withContainer(cmd, func(ctx context.Context, c *app.Container) error {
			issuer, err := resolveIssuer(ctx, c)
			if err != nil {
				return err
			}
			if err := c.Certificates.Ping(ctx, issuer.ID); err != nil {
				return err
			}
			fmt.Println("PAC disponible")
			return nil
		})
	},
}

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Administrar el CSD del emisor en el PAC",
}

var certCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Consultar si el CSD del emisor está dado de alta en el PAC",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withContainer(cmd, func(ctx context.Context, c *app.Container) error {
			issuer, err := resolveIssuer(ctx, c)
			if err != nil {
				return err
			}
			ok, err := c.Certificates.Check(ctx, issuer.ID)
			if err != nil {
				return err
			}
			return printJSON(dto.CertificateStatusResponse{RFC: issuer.RFC, Registered: ok})
		})
	},
}

var certUploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Enviar al PAC el CSD guardado del emisor",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withContainer(cmd, func(ctx context.Context, c *app.Container) error {
			issuer, err := resolveIssuer(ctx, c)
			if err != nil {
				return err
			}
			ok, err := c.Certificates.Upload(ctx, issuer.ID)
			if err != nil {
				return err
			}
			return printJSON(dto.CertificateStatusResponse{RFC: issuer.RFC, Registered: ok})
		})
	},
}

var certInspectCmd = &cobra.Command{
	Use:   "inspect <archivo.cer|archivo.pfx>",
	Short: "Mostrar número, RFC y vigencia de un certificado (sin base de datos)",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		info, err := billing.NewCertificateUseCase(nil, nil, logger.Nop()).Inspect(data, inspectPassword)
		if err != nil {
			return err
		}
		return printJSON(info)
	},
}

func init() {
	rootCmd.AddCommand(pingCmd, certCmd)
	certCmd.AddCommand(certCheckCmd, certUploadCmd, certInspectCmd)

	certInspectCmd.Flags().StringVar(&inspectPassword, "password", "", "Contraseña del .pfx")
}
