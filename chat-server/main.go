package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gosuda.org/portal/portal/core/cryptoops"
	"gosuda.org/portal/sdk"

	"github.com/gosuda/portal-chat/chatserver"
)

var rootCmd = &cobra.Command{
	Use:   "chat-server",
	Short: "Portal chat: account endpoints, websocket relay and browser client",
	RunE:  runServer,
}

var (
	flagServerURLs []string
	flagPort       int
	flagName       string
	flagDataPath   string
	flagHistory    int
	flagBcryptCost int
	flagCredKey    string
	flagLogLevel   string

	flagHide        bool
	flagDescription string
	flagTags        string
	flagOwner       string
)

func init() {
	cfg, err := chatserver.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("load chat-server config")
	}

	flags := rootCmd.PersistentFlags()
	flags.StringSliceVar(&flagServerURLs, "server-url", cfg.RelayURLs, "relayserver base URL(s); repeat or comma-separated (from env RELAY if set)")
	flags.IntVar(&flagPort, "port", cfg.Port, "local HTTP port (negative to disable)")
	flags.StringVar(&flagName, "name", cfg.Name, "backend display name")
	flags.StringVar(&flagDataPath, "data-path", cfg.DataPath, "directory of the PebbleDB holding accounts and chat history")
	flags.IntVar(&flagHistory, "history", cfg.History, "messages replayed to a joining client (0 replays the whole history, negative disables replay)")
	flags.IntVar(&flagBcryptCost, "bcrypt-cost", cfg.BcryptCost, "bcrypt cost for stored passwords")
	flags.StringVar(&flagCredKey, "cred-key", cfg.CredKey, "optional credential key to use for the relay listener (base64 encoded)")
	flags.StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.BoolVar(&flagHide, "hide", false, "hide this lease from portal listings")
	flags.StringVar(&flagDescription, "description", "Portal chat: accounts and a shared room", "lease description")
	flags.StringVar(&flagOwner, "owner", "Portal Chat", "lease owner")
	flags.StringVar(&flagTags, "tags", "chat,websocket", "comma-separated lease tags")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute chat-server command")
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	level, err := zerolog.ParseLevel(flagLogLevel)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := chatserver.OpenStore(flagDataPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("[chat] store close error")
		}
	}()
	log.Info().Str("path", flagDataPath).Msg("[chat] store opened")

	accounts := chatserver.NewAccounts(store, flagBcryptCost)
	hub := chatserver.NewHub(store, flagHistory)
	handler := chatserver.NewHandler(accounts, hub)

	servers := make([]string, 0, len(flagServerURLs))
	for _, raw := range flagServerURLs {
		for _, p := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				servers = append(servers, trimmed)
			}
		}
	}

	var (
		ln     net.Listener
		client *sdk.RDClient
	)
	if len(servers) > 0 {
		cred := sdk.NewCredential()
		if flagCredKey != "" {
			key, err := base64.StdEncoding.DecodeString(flagCredKey)
			if err != nil {
				return fmt.Errorf("decode cred key: %w", err)
			}
			cred2, err := cryptoops.NewCredentialFromPrivateKey(key)
			if err != nil {
				return fmt.Errorf("new credential from private key: %w", err)
			}
			cred = cred2
		}

		c, err := sdk.NewClient(func(cfg *sdk.RDClientConfig) {
			cfg.BootstrapServers = servers
		})
		if err != nil {
			return fmt.Errorf("new client: %w", err)
		}
		listener, err := c.Listen(cred, flagName, []string{"http/1.1"},
			sdk.WithDescription(flagDescription),
			sdk.WithHide(flagHide),
			sdk.WithOwner(flagOwner),
			sdk.WithTags(strings.Split(flagTags, ",")),
		)
		if err != nil {
			_ = c.Close()
			return fmt.Errorf("listen: %w", err)
		}
		client = c
		ln = listener
		log.Info().Strs("relays", servers).Msg("[chat] relay listener enabled")

		go func() {
			if err := http.Serve(ln, handler); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
				log.Error().Err(err).Msg("[chat] relay http error")
			}
		}()
	} else {
		log.Info().Msg("[chat] relay disabled; running local mode only")
	}

	var httpSrv *http.Server
	if flagPort >= 0 {
		httpSrv = &http.Server{Addr: fmt.Sprintf(":%d", flagPort), Handler: handler, ReadHeaderTimeout: 5 * time.Second, IdleTimeout: 60 * time.Second}
		log.Info().Msgf("[chat] serving locally at http://127.0.0.1:%d", flagPort)
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn().Err(err).Msg("[chat] local http stopped")
			}
		}()
	}
	if ln == nil && httpSrv == nil {
		return fmt.Errorf("nothing to serve: local port disabled and no relay configured")
	}

	go func() {
		<-ctx.Done()
		if ln != nil {
			_ = ln.Close()
		}
		if client != nil {
			_ = client.Close()
		}
		if httpSrv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(sctx); err != nil && err != context.Canceled {
				log.Error().Err(err).Msg("[chat] http server shutdown error")
			}
		}
	}()

	<-ctx.Done()
	hub.CloseAll()
	hub.Wait()
	log.Info().Msg("[chat] shutdown complete")
	return nil
}
