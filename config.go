/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	apiURL         string
	bind           string
	logFormat      string
	metrics        bool
	playerID       string
	pollInterval   time.Duration
	port           int
	prefix         string
	profile        bool
	requestTimeout time.Duration
	scenario       int
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if _, err := url.ParseRequestURI(c.apiURL); err != nil {
		return fmt.Errorf("invalid --api-url %q: %w", c.apiURL, err)
	}
	if !validScenario(c.scenario) {
		return fmt.Errorf("invalid scenario (must be between %d-%d inclusive): %d", minScenario, maxScenario, c.scenario)
	}
	if c.pollInterval <= 0 {
		return fmt.Errorf("invalid --poll-interval (must be positive): %s", c.pollInterval)
	}
	if c.requestTimeout < 0 {
		return fmt.Errorf("invalid --request-timeout (must not be negative): %s", c.requestTimeout)
	}
	switch c.logFormat {
	case "console", "json":
	default:
		return fmt.Errorf("invalid --log-format (must be console or json): %q", c.logFormat)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// defaultPlayerID returns the configured player id, or a fresh one when unset.
func (c *Config) defaultPlayerID() string {
	if c.playerID == "" {
		c.playerID = uuid.NewString()
	}
	return c.playerID
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("BOUNCER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "bouncer",
		Short:         "Play the admission game from your browser, one person at a time.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return ServePage(ctx, cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVar(&cfg.apiURL, "api-url", "https://berghain.challenges.listenlabs.ai", "base url of the remote game service (env: BOUNCER_API_URL)")
	fs.StringVarP(&cfg.bind, "bind", "b", "127.0.0.1", "address to bind to (env: BOUNCER_BIND)")
	fs.StringVar(&cfg.logFormat, "log-format", "console", "log encoding, console or json (env: BOUNCER_LOG_FORMAT)")
	fs.BoolVar(&cfg.metrics, "metrics", false, "expose prometheus metrics on /metrics (env: BOUNCER_METRICS)")
	fs.StringVar(&cfg.playerID, "player-id", "", "player id sent when creating games; random if unset (env: BOUNCER_PLAYER_ID)")
	fs.DurationVar(&cfg.pollInterval, "poll-interval", 2*time.Second, "time between game status refreshes (env: BOUNCER_POLL_INTERVAL)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: BOUNCER_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: BOUNCER_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: BOUNCER_PROFILE)")
	fs.DurationVar(&cfg.requestTimeout, "request-timeout", 0, "timeout for calls to the game service, 0 for none (env: BOUNCER_REQUEST_TIMEOUT)")
	fs.IntVarP(&cfg.scenario, "scenario", "s", 1, "scenario preselected on the setup screen (env: BOUNCER_SCENARIO)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: BOUNCER_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: BOUNCER_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: BOUNCER_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: BOUNCER_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("bouncer v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
