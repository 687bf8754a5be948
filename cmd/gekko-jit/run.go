package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/colorfulnotion/gekko/common"
	"github.com/colorfulnotion/gekko/fifo"
	"github.com/colorfulnotion/gekko/jit"
	log "github.com/colorfulnotion/gekko/log"
	"github.com/colorfulnotion/gekko/memmap"
	"github.com/colorfulnotion/gekko/ppc"
	"github.com/colorfulnotion/gekko/sandbox"
	"github.com/colorfulnotion/gekko/storage"
	"github.com/dc0d/onexit"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		cycles  uint64
		slice   int32
		fifoCap string
	)
	cmd := &cobra.Command{
		Use:   "run <image>",
		Short: "Execute an image under unicorn (requires the unicorn build tag)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := parseAddr(imageBase)
			if err != nil {
				return err
			}
			capacity, err := common.ParseSize(fifoCap)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mem, err := memmap.New(cfg.Memory)
			if err != nil {
				return err
			}
			onexit.Register(func() { _ = mem.Shutdown() })
			hints, err := storage.OpenProfileStore(cfg.Profile.Path, cfg.Profile.GameID)
			if err != nil {
				return err
			}
			onexit.Register(func() { _ = hints.Close() })

			pipe := fifo.New(int(capacity))
			var consumed atomic.Uint64
			go func() {
				err := pipe.Run(ctx, func(b []byte) { consumed.Add(uint64(len(b))) })
				if err != nil && !errors.Is(err, context.Canceled) {
					log.Warn(log.MemoryModule, "fifo consumer", "err", err)
				}
			}()

			timer := jit.NewSliceTimer(ctx, slice, cycles)
			x, err := sandbox.New(sandbox.Options{
				Config: cfg,
				Memory: mem,
				Hints:  hints,
				Timing: timer,
				GatherPipe: func(st *ppc.State) jit.GatherPipe {
					port := fifo.NewPort(st, pipe)
					mem.RegisterMMIO(memmap.GatherPipePhysical, 8, port)
					return port
				},
			})
			if err != nil {
				return err
			}
			onexit.Register(func() { _ = x.Close() })

			entry, err := loadImage(x.State(), mem, uint32(cfg.Memory.Mem1Size), args[0], imageRaw, base)
			if err != nil {
				return err
			}
			t0 := time.Now()
			runErr := x.Run(entry)
			pipe.Sync()
			pipe.Close()

			es, xs := x.Engine().Stats(), x.Stats()
			bursts, lost := pipe.Stats()
			fmt.Printf("ran %d cycles in %dms, pc %s\n", timer.Executed(), common.Elapsed(t0), common.Hex32(x.State().PC()))
			fmt.Printf("compiles %d, backpatches %d, faults %d, helper calls %d\n", es.Compiles, es.Backpatches, xs.Faults, xs.HelperCalls)
			fmt.Printf("fifo %s in %d bursts, %d lost\n", common.HumanSize(consumed.Load()), bursts, lost)
			return runErr
		},
	}
	cmd.Flags().Uint64Var(&cycles, "cycles", 10_000_000, "guest cycle budget (0 runs until interrupted)")
	cmd.Flags().Int32Var(&slice, "slice", jit.DefaultSlice, "cycles between timing checks")
	cmd.Flags().StringVar(&fifoCap, "fifo", "128KiB", "gather pipe buffer size")
	return cmd
}
