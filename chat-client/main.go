package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/portal-chat/chatclient"
)

type clientConfig struct {
	ServerURL string `env:"CHAT_SERVER_URL" envDefault:"http://localhost:4444"`
	WSURL     string `env:"CHAT_WS_URL"`
	FixedHost bool   `env:"CHAT_FIXED_HOST"`
	LogLevel  string `env:"CHAT_LOG_LEVEL" envDefault:"warn"`
}

var rootCmd = &cobra.Command{
	Use:   "chat-client",
	Short: "Portal chat terminal client",
	RunE:  runClient,
}

var (
	flagServerURL string
	flagWSURL     string
	flagFixedHost bool
	flagLogLevel  string
)

func init() {
	var cfg clientConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatal().Err(err).Msg("parse chat-client env")
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagServerURL, "server-url", cfg.ServerURL, "chat server base URL for /register and /login (from env CHAT_SERVER_URL)")
	flags.StringVar(&flagWSURL, "ws-url", cfg.WSURL, "explicit websocket endpoint; overrides the one derived from --server-url")
	flags.BoolVar(&flagFixedHost, "fixed-host", cfg.FixedHost, "dial ws://<server host>:4444/websocket regardless of the server port")
	flags.StringVar(&flagLogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute chat-client command")
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	level, err := zerolog.ParseLevel(flagLogLevel)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	endpoint, err := chatclient.ResolveEndpoint(flagServerURL, flagWSURL, flagFixedHost)
	if err != nil {
		return fmt.Errorf("resolve endpoint: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	view := newTermView(cmd.OutOrStdout())
	widget := chatclient.NewWidget(chatclient.NewAuthClient(flagServerURL), endpoint, view, nil)

	runDone := make(chan error, 1)
	go func() { runDone <- widget.Run(ctx) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	view.Notify(usage)
	defer func() {
		if s := widget.Session(); s != nil {
			_ = s.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			view.Notify("session ended (" + widget.State().String() + ")")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			form, err := parseLine(line, widget.Session() != nil)
			if err != nil {
				view.Alert(err.Error())
				continue
			}
			if form == nil {
				continue
			}
			if err := widget.Submit(ctx, *form); err != nil {
				log.Debug().Err(err).Stringer("form", form.Kind).Msg("[client] submit failed")
			}
		}
	}
}
