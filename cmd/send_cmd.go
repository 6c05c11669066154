package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/wagate/internal/core"
)

func sendCmd() *cobra.Command {
	var (
		instanceID string
		mediaURL   string
	)
	cmd := &cobra.Command{
		Use:   "send <to> <message>",
		Short: "Send a message through a connected instance",
		Long: `Sends a text message, or an image when --media is given. The
recipient is a phone number in international format ("+5511999990000").
If the recipient has never messaged the instance, the message is queued
and delivered when they first write in.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := "text"
			if mediaURL != "" {
				kind = "image"
			}
			body := map[string]string{
				"instanceId": instanceID,
				"to":         args[0],
				"kind":       kind,
				"body":       args[1],
				"mediaUrl":   mediaURL,
			}

			data, status, err := newAPIClient().do(http.MethodPost, "/api/send", body)
			if err != nil {
				return err
			}
			switch status {
			case http.StatusOK, http.StatusAccepted:
			default:
				return apiError(status, data)
			}

			var res core.SendResult
			if err := json.Unmarshal(data, &res); err != nil {
				return err
			}
			if res.Outcome == core.OutcomeDeferred {
				fmt.Printf("queued until the recipient messages in (pending id %s)\n", res.PendingID)
				return nil
			}
			fmt.Println("sent")
			return nil
		},
	}
	cmd.Flags().StringVar(&instanceID, "instance", "main", "instance to send from")
	cmd.Flags().StringVar(&mediaURL, "media", "", "image URL to send instead of plain text")
	return cmd
}
