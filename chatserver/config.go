// Package chatserver is the server the chat client talks to: account
// endpoints, the websocket relay, and the browser client it serves.
package chatserver

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config is read from the environment; the chat-server command lets flags
// override every field. History is the replay size for joining clients: 0
// replays everything and a negative value disables replay.
type Config struct {
	Port       int      `env:"PORT"             envDefault:"4444"`
	Name       string   `env:"CHAT_NAME"        envDefault:"portal-chat"`
	DataPath   string   `env:"CHAT_DATA_PATH"   envDefault:"chat-data"`
	History    int      `env:"CHAT_HISTORY"     envDefault:"100"`
	BcryptCost int      `env:"CHAT_BCRYPT_COST" envDefault:"10"`
	RelayURLs  []string `env:"RELAY"            envSeparator:","`
	CredKey    string   `env:"CHAT_CRED_KEY"`
}

// LoadConfig loads .env from the working directory unless GO_ENV is set, then
// parses the environment into a Config.
func LoadConfig(envFiles ...string) (Config, error) {
	if os.Getenv("GO_ENV") == "" {
		if err := godotenv.Load(envFiles...); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("load .env: %w", err)
			}
			log.Debug().Msg("[chat] no .env file; using process environment")
		}
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
