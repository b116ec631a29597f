package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"certverify/internal/extract"
	"certverify/internal/qr"
	"certverify/internal/verify"
)

const scanCmdExample = `# Watch an IP camera until a certificate code is in view
certctl scan --mjpeg http://10.0.0.12:8080/video

# Verify what was scanned
certctl scan --mjpeg http://10.0.0.12:8080/video --verify --timeout 2m`

var (
	scanURL     string
	scanTimeout time.Duration
	scanVerify  bool
)

var scanCmd = &cobra.Command{
	Use:     "scan",
	Short:   "Scan a camera stream for a certificate QR code",
	Example: scanCmdExample,
	RunE: func(cmd *cobra.Command, args []string) error {
		if scanURL == "" {
			return fmt.Errorf("--mjpeg is required")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), scanTimeout)
		defer cancel()

		found := make(chan string, 1)
		scanner := qr.NewScanner(qr.NewCodec(), qr.OpenMJPEG(&http.Client{}, scanURL), log)
		if err := scanner.Start(ctx, func(text string) { found <- text }); err != nil {
			return err
		}
		defer scanner.Stop()

		var text string
		select {
		case text = <-found:
		case <-scanner.Done():
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("scan ended: %w", err)
			}
			select {
			case text = <-found:
			case <-ctx.Done():
				return fmt.Errorf("no QR code seen within %s", scanTimeout)
			}
		case <-ctx.Done():
			return fmt.Errorf("no QR code seen within %s", scanTimeout)
		}

		id := extract.ParseIdentifier(text)
		if !scanVerify {
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		}

		resolver, release, err := newResolver(cmd.Context())
		if err != nil {
			return err
		}
		defer release()
		res, err := verify.NewSession(resolver).Submit(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printResult(cmd, res)
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanURL, "mjpeg", "", "URL of an MJPEG camera stream")
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", time.Minute, "Give up after this long")
	scanCmd.Flags().BoolVar(&scanVerify, "verify", false, "Verify the scanned ID")
}
