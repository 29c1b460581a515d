package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/telekom/kintone-mail-relay/pkg/kintone"
	"github.com/telekom/kintone-mail-relay/pkg/relay"
	"github.com/telekom/kintone-mail-relay/pkg/render"
)

func newRenderCommand(rt *runtimeState) *cobra.Command {
	var templatePath, notificationPath, outputFormat string

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a template record against a webhook body without sending mail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var tpl kintone.Record
			if err := readJSONFile(templatePath, &tpl); err != nil {
				return err
			}
			var n kintone.Notification
			if err := readJSONFile(notificationPath, &n); err != nil {
				return err
			}

			rendered, err := render.FillTemplate(tpl, n)
			if err != nil {
				return err
			}
			return writeMessage(rt.writer, outputFormat, rendered)
		},
	}

	cmd.Flags().StringVar(&templatePath, "template", "", "JSON file holding a template record (field code -> {type, value})")
	cmd.Flags().StringVar(&notificationPath, "notification", "", "JSON file holding a kintone webhook body")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "", "Output format: json, yaml")
	_ = cmd.MarkFlagRequired("template")
	_ = cmd.MarkFlagRequired("notification")
	return cmd
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func writeMessage(w io.Writer, format string, rendered map[string]string) error {
	msg := relay.ComposeMessage(rendered)
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(msg)
	case "yaml":
		data, err := yaml.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal to YAML: %w", err)
		}
		_, err = w.Write(data)
		return err
	case "":
		_, err := fmt.Fprintf(w, "From: %s\nTo: %s\nSubject: %s\n\n%s\n", msg.From, msg.To, msg.Subject, msg.Text)
		return err
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}
