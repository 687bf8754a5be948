package main

import (
	"fmt"

	"github.com/colorfulnotion/gekko/common"
	"github.com/colorfulnotion/gekko/storage"
	"github.com/spf13/cobra"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect the per-address compile hints",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "Print every recorded hint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := storage.OpenProfileStore(cfg.Profile.Path, cfg.Profile.GameID)
			if err != nil {
				return err
			}
			defer ps.Close()
			for _, k := range storage.HintKinds {
				addrs := ps.Addresses(k)
				fmt.Printf("%s (%d)\n", k, len(addrs))
				for _, a := range addrs {
					fmt.Printf("  %s\n", common.Hex32(a))
				}
			}
			return nil
		},
	}
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Forget every hint for the configured game",
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := storage.OpenProfileStore(cfg.Profile.Path, cfg.Profile.GameID)
			if err != nil {
				return err
			}
			defer ps.Close()
			if err := ps.Reset(); err != nil {
				return err
			}
			fmt.Printf("cleared hints for %s\n", cfg.Profile.GameID)
			return nil
		},
	}
	cmd.AddCommand(list, reset)
	return cmd
}
