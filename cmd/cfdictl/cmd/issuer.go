package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jhoicas/cfdi-engine/internal/app"
	"github.com/jhoicas/cfdi-engine/internal/application/billing"
)

var seed struct {
	rfc, name, regime, zip string
	currency, series       string
	cer, key, pfx          string
	password               string
}

var issuerCmd = &cobra.Command{
	Use:   "issuer",
	Short: "Administrar emisores",
}

var issuerSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Registrar o actualizar un emisor con su CSD (.cer + .key o .pfx)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		command := billing.RegisterIssuerCommand{
			RFC:             seed.rfc,
			Name:            seed.name,
			Regime:          seed.regime,
			PostalCode:      seed.zip,
			DefaultCurrency: seed.currency,
			Series:          seed.series,
			KeyPassword:     seed.password,
		}
		var err error
		switch {
		case seed.pfx != "":
			if command.PFX, err = os.ReadFile(seed.pfx); err != nil {
				return err
			}
		case seed.cer != "" && seed.key != "":
			if command.Certificate, err = os.ReadFile(seed.cer); err != nil {
				return err
			}
			if command.Key, err = os.ReadFile(seed.key); err != nil {
				return err
			}
		default:
			return fmt.Errorf("--pfx o el par --cer/--key requerido")
		}
		return withContainer(cmd, func(ctx context.Context, c *app.Container) error {
			issuer, err := c.Certificates.RegisterIssuer(ctx, command)
			if err != nil {
				return err
			}
			out := map[string]any{
				"id":                 issuer.ID,
				"rfc":                issuer.RFC,
				"name":               issuer.Name,
				"certificate_number": issuer.CertificateNumber,
			}
			if issuer.CertificateExpiry != nil {
				out["certificate_expiry"] = issuer.CertificateExpiry
			}
			return printJSON(out)
		})
	},
}

func init() {
	rootCmd.AddCommand(issuerCmd)
	issuerCmd.AddCommand(issuerSeedCmd)

	f := issuerSeedCmd.Flags()
	f.StringVar(&seed.rfc, "rfc", "", "RFC del emisor")
	f.StringVar(&seed.name, "name", "", "Razón social (sin régimen societario)")
	f.StringVar(&seed.regime, "regime", "", "Régimen fiscal c_RegimenFiscal")
	f.StringVar(&seed.zip, "zip", "", "Código postal del domicilio fiscal")
	f.StringVar(&seed.currency, "currency", "MXN", "Moneda por defecto")
	f.StringVar(&seed.series, "series", "", "Serie por defecto")
	f.StringVar(&seed.cer, "cer", "", "Certificado .cer")
	f.StringVar(&seed.key, "key", "", "Llave privada .key")
	f.StringVar(&seed.pfx, "pfx", "", "Certificado y llave en .pfx")
	f.StringVar(&seed.password, "password", "", "Contraseña de la llave o del .pfx")
	for _, name := range []string{"rfc", "name", "regime", "zip"} {
		_ = issuerSeedCmd.MarkFlagRequired(name)
	}
}
