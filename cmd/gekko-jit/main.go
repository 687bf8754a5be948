// gekko-jit drives the PowerPC block compiler outside an emulator: it loads a
// DOL or raw code image, compiles it into the code cache and reports on the
// result. The run command executes the generated code under unicorn when
// built with the unicorn tag.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/colorfulnotion/gekko/common"
	"github.com/colorfulnotion/gekko/config"
	log "github.com/colorfulnotion/gekko/log"
	"github.com/colorfulnotion/gekko/telemetry"
	"github.com/dc0d/onexit"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	debug      string
	imageRaw   bool
	imageBase  string

	cfg *config.Config
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "gekko-jit",
		Short: "PowerPC to x86-64 block compiler",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(configPath); err != nil {
				return err
			}
			level := cfg.Log.Level
			if cmd.Flags().Changed("log-level") {
				level = logLevel
			}
			log.InitLogger(level)
			log.EnableModules(strings.Join(cfg.Log.Modules, ","))
			log.EnableModules(debug)

			shutdown, err := telemetry.Init(context.Background(), cfg.Telemetry)
			if err != nil {
				return err
			}
			onexit.Register(func() {
				if err := shutdown(context.Background()); err != nil {
					log.Warn(log.JitModule, "telemetry shutdown", "err", err)
				}
			})
			return nil
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML settings file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "trace, debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&debug, "debug", "", "comma-separated log modules to enable")
	rootCmd.PersistentFlags().BoolVar(&imageRaw, "raw", false, "treat the image as raw big-endian code")
	rootCmd.PersistentFlags().StringVar(&imageBase, "base", "80003100", "load and entry address of a raw image")

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the build commit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gekko-jit %s\n", common.GetCommitHash())
		},
	}

	rootCmd.AddCommand(versionCmd, newCompileCmd(), newProfileCmd(), newStatsCmd(), newShellCmd(), newRunCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		onexit.ForceExit(1)
	}
	onexit.ForceExit(0)
}

// openImage creates a compile session and loads the image at path into it.
// The session is closed on exit.
func openImage(path string) (*session, error) {
	base, err := parseAddr(imageBase)
	if err != nil {
		return nil, err
	}
	s, err := newSession(cfg)
	if err != nil {
		return nil, err
	}
	onexit.Register(s.close)
	if err := s.load(path, imageRaw, base); err != nil {
		return nil, err
	}
	return s, nil
}
