package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/kintone-mail-relay/pkg/api"
	"github.com/telekom/kintone-mail-relay/pkg/audit"
	"github.com/telekom/kintone-mail-relay/pkg/config"
	"github.com/telekom/kintone-mail-relay/pkg/kintone"
	"github.com/telekom/kintone-mail-relay/pkg/mail"
	"github.com/telekom/kintone-mail-relay/pkg/relay"
	"github.com/telekom/kintone-mail-relay/pkg/system"
	"github.com/telekom/kintone-mail-relay/pkg/version"
	"github.com/telekom/kintone-mail-relay/pkg/webhook"
)

func newServeCommand(rt *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Listen for kintone webhooks and deliver mail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			zl, err := system.NewLogger(rt.cfg.Debug)
			if err != nil {
				return fmt.Errorf("failed to set up logger: %w", err)
			}
			defer func() { _ = zl.Sync() }()
			log := zl.Sugar()

			log.Infow("Starting kintone mail relay", "version", version.GetBuildInfo().String())
			rt.cfg.Print(log)

			cfg, err := config.Load(rt.cfg.ConfigPath)
			if err != nil {
				return err
			}
			svc, err := newService(cfg, zl, rt.cfg.Debug)
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return svc.server.Listen(ctx)
		},
	}
}

// service is the wired relay: HTTP server, webhook controller and event sink.
type service struct {
	server *api.Server
	events audit.Sink
	log    *zap.SugaredLogger
}

func newService(cfg config.Config, zl *zap.Logger, debug bool) (*service, error) {
	log := zl.Sugar()
	registry := config.NewRegistry(cfg)
	warnMissingRoles(registry, log)

	events, err := audit.NewSinkFromConfig(cfg.Events, cfg.KafkaWriteTimeout(), zl)
	if err != nil {
		return nil, fmt.Errorf("creating delivery event sink: %w", err)
	}

	r := relay.New(
		registry,
		kintone.NewClient(cfg.Kintone, cfg.KintoneTimeout(), log),
		mail.NewDispatcher(registry.SMTPProfiles(), log),
		events,
		log,
	)

	server, err := api.NewServer(zl, cfg.Server, debug)
	if err != nil {
		_ = events.Close()
		return nil, err
	}
	controllers := []api.APIController{webhook.NewWebhookController(log, r, server.RateLimit())}
	if err := server.RegisterAll(controllers); err != nil {
		server.Close()
		_ = events.Close()
		return nil, fmt.Errorf("registering controllers: %w", err)
	}

	return &service{server: server, events: events, log: log.Named("service")}, nil
}

func (s *service) Close() {
	s.server.Close()
	if err := s.events.Close(); err != nil {
		s.log.Warnw("Failed to close delivery event sink", "error", err)
	}
}

// warnMissingRoles reports template and log gaps at startup. Requests still
// fail per webhook with a CONFIG_ERROR.
func warnMissingRoles(registry *config.Registry, log *zap.SugaredLogger) {
	for _, role := range []config.AppType{config.AppTypeTemplate, config.AppTypeLog} {
		if _, err := registry.App(role); err != nil {
			log.Warnw("Relay configuration is incomplete", "role", role, "error", err)
		}
	}
}
