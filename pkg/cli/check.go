package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/telekom/kintone-mail-relay/pkg/config"
)

func newCheckConfigCommand(rt *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration file and summarize it",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(rt.cfg.ConfigPath)
			if err != nil {
				return err
			}
			registry := config.NewRegistry(cfg)
			w := rt.writer

			_, _ = fmt.Fprintf(w, "config: %s\n", rt.cfg.ConfigPath)
			_, _ = fmt.Fprintf(w, "domain: %s\n", registry.Domain())
			for _, app := range cfg.Kintone.Apps {
				line := fmt.Sprintf("app %s: %s", app.ID, app.Type)
				if app.Type == config.AppTypeSource {
					line += fmt.Sprintf(" types=[%s] smtpProfile=%s", strings.Join(app.Types, ","), app.Profile())
				}
				_, _ = fmt.Fprintln(w, line)
			}
			for _, p := range cfg.SMTPServers {
				_, _ = fmt.Fprintf(w, "smtp %s: %s:%d secure=%t\n", p.Name, p.Host, p.Port, p.Secure)
			}

			var missing []string
			for _, role := range []config.AppType{config.AppTypeTemplate, config.AppTypeLog} {
				if _, err := registry.App(role); err != nil {
					missing = append(missing, string(role))
					_, _ = fmt.Fprintf(w, "warning: %v\n", err)
				}
			}
			if _, err := registry.SMTPProfile(config.DefaultSMTPProfile); err != nil {
				_, _ = fmt.Fprintf(w, "warning: %v\n", err)
			}
			if len(missing) == 0 {
				_, _ = fmt.Fprintln(w, "ok")
			}
			return nil
		},
	}
}
