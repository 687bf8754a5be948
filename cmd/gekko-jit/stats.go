package main

import (
	"fmt"
	"os"

	"github.com/colorfulnotion/gekko/report"
	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var (
		follow int
		html   string
	)
	cmd := &cobra.Command{
		Use:   "stats <image>",
		Short: "Compile reachable blocks and report code cache usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openImage(args[0])
			if err != nil {
				return err
			}
			s.compileReachable(s.entry, follow)
			r := report.Collect(s.e)
			fmt.Println(r.Near)
			fmt.Println(r.Far)
			fmt.Printf("blocks %d, instructions %d, exits %d linked of %d\n", r.Blocks, r.Instructions, r.Linked, r.Links)
			for _, b := range r.Histogram {
				fmt.Printf("  %-8s %d\n", b.Label(), b.Count)
			}
			if html == "" {
				return nil
			}
			f, err := os.Create(html)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := r.Render(f); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", html)
			return nil
		},
	}
	cmd.Flags().IntVar(&follow, "follow", 256, "compile up to this many reachable blocks")
	cmd.Flags().StringVar(&html, "html", "", "also write an HTML report to this file")
	return cmd
}
