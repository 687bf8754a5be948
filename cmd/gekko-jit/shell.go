package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/colorfulnotion/gekko/common"
	"github.com/colorfulnotion/gekko/report"
	"github.com/spf13/cobra"
)

const shellHelp = `jit <addr>            compile the block at addr
dis <addr>            disassemble a compiled block
tree <addr>           show linked exits from addr
inv <addr> <len>      invalidate guest code in [addr, addr+len)
clear                 drop the whole code cache
bp add|rm <addr>      set or remove a breakpoint
bp                    list breakpoints
stats                 engine counters and cache occupancy
exit`

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell <image>",
		Short: "Interactive code cache inspector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openImage(args[0])
			if err != nil {
				return err
			}
			rl, err := readline.NewEx(&readline.Config{
				Prompt:      common.Paint(common.ColorCyan, "jit> "),
				HistoryFile: "/tmp/gekko-jit.history",
			})
			if err != nil {
				return err
			}
			defer rl.Close()
			fmt.Printf("entry %s, type help for commands\n", common.Hex32(s.entry))
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if err != nil {
					if err == io.EOF {
						return nil
					}
					return err
				}
				line = strings.TrimSpace(line)
				if line == "exit" || line == "quit" {
					return nil
				}
				out, err := s.exec(line)
				if err != nil {
					fmt.Println(common.Paint(common.ColorRed, err.Error()))
					continue
				}
				if out != "" {
					fmt.Println(out)
				}
			}
		},
	}
}

// exec runs one shell command line and returns what it printed.
func (s *session) exec(line string) (string, error) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return "", nil
	}
	addrArg := func(i int) (uint32, error) {
		if len(f) <= i {
			return 0, fmt.Errorf("%s: missing address", f[0])
		}
		return parseAddr(f[i])
	}
	switch f[0] {
	case "help":
		return shellHelp, nil
	case "jit":
		a, err := addrArg(1)
		if err != nil {
			return "", err
		}
		s.e.Jit(a)
		b := s.e.Lookup(a)
		if b == nil {
			return "", fmt.Errorf("no block at %s, pc %s", common.Hex32(a), common.Hex32(s.st.PC()))
		}
		return common.Paint(common.ColorGreen, b.String()), nil
	case "dis":
		a, err := addrArg(1)
		if err != nil {
			return "", err
		}
		b := s.e.Lookup(a)
		if b == nil {
			return "", fmt.Errorf("%s is not compiled", common.Hex32(a))
		}
		return s.disassemble(b), nil
	case "tree":
		a, err := addrArg(1)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(s.e.LinkTree(a), "\n"), nil
	case "inv":
		a, err := addrArg(1)
		if err != nil {
			return "", err
		}
		if len(f) < 3 {
			return "", fmt.Errorf("inv: missing length")
		}
		n, err := strconv.ParseUint(f[2], 0, 32)
		if err != nil {
			return "", fmt.Errorf("inv: bad length %q", f[2])
		}
		before := s.e.BlockCache().Len()
		s.e.InvalidateICache(a, uint32(n), true)
		return fmt.Sprintf("%d blocks invalidated", before-s.e.BlockCache().Len()), nil
	case "clear":
		s.e.ClearCache()
		return common.Paint(common.ColorYellow, "code cache cleared"), nil
	case "bp":
		return s.breakpoint(f[1:])
	case "stats":
		st := s.e.Stats()
		r := report.Collect(s.e)
		return fmt.Sprintf("compiles %d, retries %d, clears %d, fallbacks %d, compile time %s\n%s\n%s",
			st.Compiles, st.Retries, st.CacheClears, st.Fallbacks, st.CompileTime, r.Near, r.Far), nil
	}
	return "", fmt.Errorf("unknown command %q", f[0])
}

func (s *session) breakpoint(args []string) (string, error) {
	if len(args) == 0 {
		var sb strings.Builder
		for _, a := range s.e.BreakPoints().List() {
			fmt.Fprintln(&sb, common.Paint(common.ColorMagenta, common.Hex32(a)))
		}
		return strings.TrimRight(sb.String(), "\n"), nil
	}
	if len(args) < 2 {
		return "", fmt.Errorf("bp %s: missing address", args[0])
	}
	a, err := parseAddr(args[1])
	if err != nil {
		return "", err
	}
	switch args[0] {
	case "add":
		s.e.AddBreakPoint(a)
	case "rm":
		s.e.RemoveBreakPoint(a)
	default:
		return "", fmt.Errorf("bp: unknown action %q", args[0])
	}
	return "", nil
}
