package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jhoicas/cfdi-engine/internal/app"
	"github.com/jhoicas/cfdi-engine/internal/domain/entity"
	"github.com/jhoicas/cfdi-engine/pkg/config"
	"github.com/jhoicas/cfdi-engine/pkg/logger"
	"github.com/jhoicas/cfdi-engine/pkg/sat"
)

var (
	version = "1.0.0"

	// Global flags
	verbose   bool
	issuerRef string
)

var rootCmd = &cobra.Command{
	Use:   "cfdictl",
	Short: "Operar el motor de CFDI 4.0 desde la terminal",
	Long: `cfdictl usa la misma configuración que el API (.env o variables de entorno)
y la misma base de datos.

Examples:
  # Verificar credenciales del PAC
  cfdictl ping --issuer EKU9003173C9

  # Registrar el emisor con su CSD
  cfdictl issuer seed --rfc EKU9003173C9 --name "ESCUELA KEMPER URGATE" --regime 601 \
    --zip 42501 --cer csd.cer --key csd.key --password 12345678a

  # Timbrar y descargar
  cfdictl stamp --issuer EKU9003173C9 --file factura.json
  cfdictl download --issuer EKU9003173C9 --id <documento> --out factura.zip`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Registrar en consola (nivel debug)")
	rootCmd.PersistentFlags().StringVar(&issuerRef, "issuer", "", "RFC o id del emisor (env: CFDI_ISSUER)")

	cobra.OnInitialize(initConfig)
}

func initConfig() {
	if issuerRef == "" {
		issuerRef = os.Getenv("CFDI_ISSUER")
	}
}

func newLogger(cfg *config.Config) *logger.Logger {
	if !verbose {
		return logger.Nop()
	}
	return logger.New(logger.Config{Env: cfg.App.Env, Level: "debug"})
}

// withContainer carga la configuración, arma los casos de uso y ejecuta fn.
func withContainer(cmd *cobra.Command, fn func(ctx context.Context, c *app.Container) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("cargar configuración: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := app.Build(ctx, cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

// resolveIssuer acepta un RFC o el id del registro.
func resolveIssuer(ctx context.Context, c *app.Container) (*entity.Issuer, error) {
	ref := strings.TrimSpace(issuerRef)
	if ref == "" {
		return nil, fmt.Errorf("--issuer requerido")
	}
	issuer, err := c.Issuers.GetByRFC(ctx, sat.NormalizeRFC(ref))
	if err != nil {
		return nil, err
	}
	if issuer == nil {
		if issuer, err = c.Issuers.GetByID(ctx, ref); err != nil {
			return nil, err
		}
	}
	if issuer == nil {
		return nil, fmt.Errorf("emisor %q no registrado", ref)
	}
	return issuer, nil
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func printVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
