package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZanzyTHEbar/cyibot/internal/transport/httpapi"
	"github.com/ZanzyTHEbar/cyibot/internal/transport/slackbot"
	"github.com/slack-go/slack/socketmode"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	noSlack      bool
	noHTTP       bool
	mentionsOnly bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Answer questions over Slack Socket Mode and HTTP",
	Long: `Serve starts the Slack bot and the HTTP API. The Slack bot runs when
SLACK_BOT_TOKEN and SLACK_APP_TOKEN are set; the HTTP API listens on HTTP_ADDR.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := buildApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := app.Close(); err != nil {
				logger.Warn("failed to release resources", zap.Error(err))
			}
		}()

		var bot *slackbot.Bot
		var client *socketmode.Client
		if !noSlack {
			if err := cfg.RequireSlack(); err != nil {
				if noHTTP {
					return err
				}
				logger.Warn("Slack bot disabled", zap.Error(err))
			} else {
				api, sm, botUserID, err := slackbot.Connect(ctx, cfg.Slack.BotToken, cfg.Slack.AppToken, logger)
				if err != nil {
					return err
				}
				client = sm
				bot = slackbot.New(app.router, api,
					slackbot.WithBotUserID(botUserID),
					slackbot.WithMentionsOnly(mentionsOnly),
					slackbot.WithLogger(logger.Named("slack")),
				)
			}
		}

		errc := make(chan error, 2)
		running := 0

		var srv *http.Server
		if !noHTTP {
			options := []httpapi.Option{
				httpapi.WithLogger(logger.Named("http")),
				httpapi.WithCORSOrigins(cfg.Server.CORSOrigins),
				httpapi.WithRequestTimeout(cfg.Server.RequestTimeout),
				httpapi.WithJWTSecret(cfg.Server.JWTSecret),
			}
			for name, check := range app.checks {
				options = append(options, httpapi.WithReadinessCheck(name, check))
			}
			srv = &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           httpapi.NewServer(app.router, options...).Routes(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			running++
			go func() {
				logger.Info("HTTP API listening", zap.String("addr", cfg.Server.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
					return
				}
				errc <- nil
			}()
		}

		if bot != nil {
			running++
			go func() {
				errc <- bot.Run(ctx, client)
			}()
		}

		if running == 0 {
			return errors.New("nothing to serve: both Slack and HTTP are disabled")
		}

		var runErr error
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
		case runErr = <-errc:
			if runErr != nil {
				logger.Error("transport stopped", zap.Error(runErr))
			}
			stop()
		}

		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("HTTP shutdown incomplete", zap.Error(err))
			}
		}
		return runErr
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&noSlack, "no-slack", false, "Do not start the Slack bot")
	serveCmd.Flags().BoolVar(&noHTTP, "no-http", false, "Do not start the HTTP API")
	serveCmd.Flags().BoolVar(&mentionsOnly, "mentions-only", false, "Only answer mentions and direct messages in Slack")
}
