package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jhoicas/cfdi-engine/internal/app"
	"github.com/jhoicas/cfdi-engine/internal/application/billing"
)

var (
	downloadID     string
	downloadOut    string
	downloadFormat string
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Descargar XML, PDF o paquete zip de un comprobante",
	Long: `Sin --format se deduce de la extensión de --out (.xml, .pdf, .zip). Si --out es
un directorio se usa el nombre del archivo del registro.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		format := strings.ToLower(downloadFormat)
		if format == "" {
			format = strings.TrimPrefix(strings.ToLower(filepath.Ext(downloadOut)), ".")
		}
		if format == "" {
			format = "zip"
		}
		return withContainer(cmd, func(ctx context.Context, c *app.Container) error {
			issuer, err := resolveIssuer(ctx, c)
			if err != nil {
				return err
			}
			var f *billing.File
			switch format {
			case "xml":
				f, err = c.Documents.XML(ctx, issuer.ID, downloadID)
			case "pdf":
				f, err = c.Documents.PDF(ctx, issuer.ID, downloadID)
			case "zip":
				f, err = c.Documents.Bundle(ctx, issuer.ID, downloadID)
			default:
				return fmt.Errorf("formato %q no soportado (xml, pdf, zip)", format)
			}
			if err != nil {
				return err
			}
			path := downloadOut
			if path == "" {
				path = f.Name
			} else if st, statErr := os.Stat(path); statErr == nil && st.IsDir() {
				path = filepath.Join(path, f.Name)
			}
			if err := os.WriteFile(path, f.Content, 0o644); err != nil {
				return err
			}
			fmt.Printf("%s (%d bytes)\n", path, len(f.Content))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringVar(&downloadID, "id", "", "Id del documento en el registro")
	downloadCmd.Flags().StringVarP(&downloadOut, "out", "o", "", "Archivo o directorio de salida")
	downloadCmd.Flags().StringVar(&downloadFormat, "format", "", "xml, pdf o zip")
	_ = downloadCmd.MarkFlagRequired("id")
}
