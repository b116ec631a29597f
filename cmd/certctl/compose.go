package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"certverify/internal/compose"
	"certverify/internal/extract"
	"certverify/internal/qr"
	"certverify/internal/render"
)

const composeCmdExample = `# Add the verification QR code to a PDF certificate
certctl compose --id 123e4567-e89b-12d3-a456-426614174000 --out signed.pdf original.pdf

# Convert a scanned certificate image into a PDF with the code
certctl compose --id 123e4567-e89b-12d3-a456-426614174000 --out signed.pdf scan.jpg`

var (
	composeID  string
	composeOut string
)

var composeCmd = &cobra.Command{
	Use:     "compose <file>",
	Short:   "Overlay the verification QR code onto a certificate",
	Long:    "Writes a PDF whose first page carries the certificate ID as a QR code in the bottom-right corner.",
	Example: composeCmdExample,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := strings.ToLower(strings.TrimSpace(composeID))
		if !extract.IsCanonical(id) {
			return fmt.Errorf("--id must be a 36-character certificate ID, got %q", composeID)
		}
		if composeOut == "" {
			return fmt.Errorf("--out is required")
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		orig := compose.Original{Data: data, IsImage: render.Detect(data) == render.KindImage}

		doc, err := compose.New(qr.NewCodec(), nil, log).Compose(cmd.Context(), orig, id)
		if err != nil {
			return err
		}
		if err := os.WriteFile(composeOut, doc.Bytes, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", composeOut, len(doc.Bytes))
		return nil
	},
}

func init() {
	composeCmd.Flags().StringVar(&composeID, "id", "", "Certificate ID to encode")
	composeCmd.Flags().StringVarP(&composeOut, "out", "o", "", "Output PDF path")
}
