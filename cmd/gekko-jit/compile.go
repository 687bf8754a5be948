package main

import (
	"fmt"
	"time"

	"github.com/colorfulnotion/gekko/common"
	"github.com/spf13/cobra"
)

func newCompileCmd() *cobra.Command {
	var (
		addr   string
		follow int
		quiet  bool
	)
	cmd := &cobra.Command{
		Use:   "compile <image>",
		Short: "Compile blocks from an image and disassemble them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openImage(args[0])
			if err != nil {
				return err
			}
			start := s.entry
			if addr != "" {
				if start, err = parseAddr(addr); err != nil {
					return err
				}
			}
			t0 := time.Now()
			n := s.compileReachable(start, follow)
			st := s.e.Stats()
			fmt.Printf("compiled %d blocks in %dms (largest %s)\n",
				n, common.Elapsed(t0), common.HumanSize(uint64(st.LargestBlock)))
			if n == 0 {
				return fmt.Errorf("nothing compiled at %s (pc now %s)", common.Hex32(start), common.Hex32(s.st.PC()))
			}
			if !quiet {
				for _, b := range s.e.BlockCache().Blocks() {
					fmt.Println(s.disassemble(b))
				}
			}
			fmt.Print(s.e.LinkTree(start))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "start address (defaults to the image entry)")
	cmd.Flags().IntVar(&follow, "follow", 1, "compile up to this many blocks reachable through exits")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only the link tree")
	return cmd
}
