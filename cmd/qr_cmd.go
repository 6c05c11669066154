package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

func qrCmd() *cobra.Command {
	var pngPath string
	cmd := &cobra.Command{
		Use:   "qr <instance>",
		Short: "Show the pairing QR code for an instance",
		Long: `Starts the instance if needed and prints the pairing code as an
ASCII QR block, ready to scan from the terminal. Use --png to write an
image file instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, status, err := newAPIClient().do(http.MethodGet, "/api/wa/qr/"+args[0], nil)
			if err != nil {
				return err
			}
			switch status {
			case http.StatusNoContent:
				return fmt.Errorf("no pairing code yet, try again in a few seconds")
			case http.StatusOK:
			default:
				return apiError(status, data)
			}

			var resp struct {
				QR     string `json:"qr"`
				Status string `json:"status"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return err
			}
			if resp.Status == "connected" {
				fmt.Printf("instance %s is already connected\n", args[0])
				return nil
			}

			if pngPath != "" {
				if err := qrcode.WriteFile(resp.QR, qrcode.Medium, 512, pngPath); err != nil {
					return err
				}
				fmt.Printf("QR code written to %s\n", pngPath)
				return nil
			}

			qr, err := qrcode.New(resp.QR, qrcode.Medium)
			if err != nil {
				return err
			}
			fmt.Fprint(os.Stdout, qr.ToSmallString(false))
			fmt.Println("Scan with WhatsApp: Settings > Linked Devices > Link a Device")
			return nil
		},
	}
	cmd.Flags().StringVar(&pngPath, "png", "", "write the QR code to a PNG file")
	return cmd
}
