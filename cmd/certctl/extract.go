package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"certverify/internal/extract"
	"certverify/internal/qr"
	"certverify/internal/verify"
)

const extractCmdExample = `# Print the certificate ID encoded on a PDF
certctl extract certificate.pdf

# Read the ID and verify it against the store and registry
certctl extract --verify certificate.png`

var (
	extractVerify bool
)

var extractCmd = &cobra.Command{
	Use:     "extract <file>",
	Short:   "Read the certificate ID from a PDF or image",
	Example: extractCmdExample,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		ex := extract.New(qr.NewCodec())

		if !extractVerify {
			dv := verify.NewDocumentVerifier(nil, ex,
				verify.WithScale(cfg.RenderScale),
				verify.WithMetadataFallback(cfg.MetadataFallback),
				verify.WithDocumentLogger(log))
			id, err := dv.Identify(ctx, data)
			if err != nil {
				return err
			}
			if id == "" {
				return fmt.Errorf("no certificate QR code found in %s", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		}

		resolver, release, err := newResolver(ctx)
		if err != nil {
			return err
		}
		defer release()

		session := verify.NewSession(resolver)
		dv := verify.NewDocumentVerifier(resolver, ex,
			verify.WithScale(cfg.RenderScale),
			verify.WithMetadataFallback(cfg.MetadataFallback),
			verify.WithDocumentLogger(log))
		res, err := session.Run(args[0], func() (verify.Result, error) { return dv.VerifyDocument(ctx, data) })
		if err != nil {
			return err
		}
		return printResult(cmd, res)
	},
}

func init() {
	extractCmd.Flags().BoolVar(&extractVerify, "verify", false, "Verify the extracted ID")
}

func printResult(cmd *cobra.Command, res verify.Result) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
