package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-p2p/internal/config"
	applog "github.com/vovakirdan/wirechat-p2p/internal/log"
)

var (
	configPath string
	overrides  config.Config

	cfg    config.Config
	logger *zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "peerchat",
	Short: "peer-to-peer chat with friends and rooms",
	Long: `peerchat connects you directly to your friends. A small directory service maps ids to
endpoints; chat traffic never passes through it.

Register once with "peerchat register <name>", then run "peerchat chat".`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		bootstrap := applog.New("warn")

		loaded, path, err := config.Load(bootstrap, configPath)
		if err != nil {
			return err
		}
		loaded.UpdateFrom(overrides)
		if err := loaded.Validate(); err != nil {
			return err
		}

		cfg = loaded
		logger = applog.New(cfg.LogLevel)
		logger.Debug().Str("config", path).Msg("configuration loaded")
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default ./peerchat.yaml)")
	flags.StringVar(&overrides.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&overrides.Storage.Driver, "storage", "", "storage driver: sqlite or badger")
	flags.StringVar(&overrides.Storage.Path, "db", "", "storage path")
	flags.StringVar(&overrides.Peer.DirectoryURL, "directory-url", "", "directory service URL")

	chatCmd.Flags().StringVar(&overrides.Peer.ListenAddr, "listen", "", "address to accept peer connections on")
	chatCmd.Flags().StringVar(&overrides.Peer.AdvertiseURL, "advertise", "", "ws:// URL published to the directory")

	directoryCmd.Flags().StringVar(&overrides.Directory.Addr, "addr", "", "HTTP listen address")
	directoryCmd.Flags().StringVar(&overrides.Directory.JWTSecret, "jwt-secret", "", "lease signing secret")

	rootCmd.AddCommand(registerCmd, whoamiCmd, friendsCmd, chatCmd, directoryCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
