package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-p2p/internal/app"
)

var registerCmd = &cobra.Command{
	Use:   "register <display name>",
	Short: "create or replace your identity",
	Long: `Derives your id from the display name: letters and digits only, lowercased.
Registering again replaces the previous identity.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPeer(func(p *app.Peer) error {
			self, err := p.Register(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered as %s (%s)\n", self.ID, self.DisplayName)
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "show your identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPeer(func(p *app.Peer) error {
			self, ok, err := p.Whoami(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "not registered, run: peerchat register <name>")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", self.ID, self.DisplayName)
			return nil
		})
	},
}

var friendsCmd = &cobra.Command{
	Use:   "friends",
	Short: "list your friends",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPeer(func(p *app.Peer) error {
			list, err := p.Friends(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no friends yet")
				return nil
			}
			for _, f := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-20s %s\n", f.FriendID, f.DisplayName, f.AddedAt.Local().Format(time.DateOnly))
			}
			return nil
		})
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "go online and chat",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPeer(func(p *app.Peer) error {
			return p.Chat(cmd.Context(), os.Stdin, cmd.OutOrStdout())
		})
	},
}

func withPeer(fn func(*app.Peer) error) error {
	p, err := app.NewPeer(&cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := p.Close(); closeErr != nil {
			logger.Warn().Err(closeErr).Msg("close peer")
		}
	}()
	return fn(p)
}
