package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jhoicas/cfdi-engine/internal/app"
	"github.com/jhoicas/cfdi-engine/internal/application/billing"
	"github.com/jhoicas/cfdi-engine/internal/application/dto"
)

var (
	stampFile   string
	cancelID    string
	cancelUUID  string
	cancelWhy   string
	cancelSubst string
)

var stampCmd = &cobra.Command{
	Use:   "stamp",
	Short: "Timbrar un comprobante desde un JSON con el formato de POST /api/cfdi/stamp",
	RunE: func(cmd *cobra.Command, _ []string) error {
		raw, err := os.ReadFile(stampFile)
		if err != nil {
			return err
		}
		var req dto.StampRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return fmt.Errorf("%s: %w", stampFile, err)
		}
		if req.OriginModel == "" || req.OriginID == "" {
			return fmt.Errorf("%s: origin_model y origin_id requeridos", stampFile)
		}
		return withContainer(cmd, func(ctx context.Context, c *app.Container) error {
			issuer, err := resolveIssuer(ctx, c)
			if err != nil {
				return err
			}
			res, err := c.Stamping.Stamp(ctx, billing.StampCommand{
				IssuerID:    issuer.ID,
				OriginModel: req.OriginModel,
				OriginID:    req.OriginID,
				Input:       req.BuildInput(),
			})
			if err != nil {
				return err
			}
			printVerbose("timbrado %s (documento %s)\n", res.UUID, res.DocumentID)
			return printJSON(dto.StampResponse{UUID: res.UUID, DocumentID: res.DocumentID, Reused: res.Reused})
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancelar un comprobante timbrado",
	Long: `Cancela por id del registro (--id) o por folio fiscal (--uuid).

Motivos: 01 (con relación, requiere --replacement), 02 (sin relación, por defecto),
03 (no se llevó a cabo la operación), 04 (nominativa en factura global).`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cancelID == "" && cancelUUID == "" {
			return fmt.Errorf("--id o --uuid requerido")
		}
		return withContainer(cmd, func(ctx context.Context, c *app.Container) error {
			issuer, err := resolveIssuer(ctx, c)
			if err != nil {
				return err
			}
			res, err := c.Cancel.Cancel(ctx, billing.CancelCommand{
				IssuerID:    issuer.ID,
				DocumentID:  cancelID,
				UUID:        cancelUUID,
				Reason:      cancelWhy,
				Replacement: cancelSubst,
			})
			if err != nil {
				return err
			}
			if res.ProviderError != "" {
				fmt.Fprintf(os.Stderr, "aviso: el PAC respondió con error, el registro quedó cancelado: %s\n", res.ProviderError)
			}
			return printJSON(res)
		})
	},
}

func init() {
	rootCmd.AddCommand(stampCmd, cancelCmd)

	stampCmd.Flags().StringVar(&stampFile, "file", "", "Archivo JSON de la solicitud")
	_ = stampCmd.MarkFlagRequired("file")

	cancelCmd.Flags().StringVar(&cancelID, "id", "", "Id del documento en el registro")
	cancelCmd.Flags().StringVar(&cancelUUID, "uuid", "", "Folio fiscal")
	cancelCmd.Flags().StringVar(&cancelWhy, "reason", "", "Motivo c_MotivoCancelacion (01-04)")
	cancelCmd.Flags().StringVar(&cancelSubst, "replacement", "", "UUID que sustituye (motivo 01)")
}
