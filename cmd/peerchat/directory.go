package main

import (
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-p2p/internal/app"
)

var directoryCmd = &cobra.Command{
	Use:   "directory",
	Short: "run the peer directory service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d := app.NewDirectory(cfg.Directory, logger)

		logger.Info().Str("addr", cfg.Directory.Addr).Msg("starting directory")
		if err := d.Run(cmd.Context()); err != nil {
			return err
		}
		logger.Info().Msg("directory stopped")
		return nil
	},
}
