package main

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
)

var (
	BuildName   = "xunitctl"
	BuildTag    string
	BuildCommit string
)

var versionCmd = &cobra.Command{
	Use:          "version",
	Long:         "Print actual version",
	Short:        "actual version",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), version())
		return err
	},
}

func init() {
	if info, available := debug.ReadBuildInfo(); available {
		if BuildTag == "" {
			BuildTag = info.Main.Version
		}

		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && BuildCommit == "" && len(setting.Value) >= 7 {
				BuildCommit = setting.Value[:7]
			}
		}
	}

	rootCmd.AddCommand(versionCmd)
}

func version() string {
	v := fmt.Sprintf("%s version %s", BuildName, strings.TrimPrefix(BuildTag, "v"))
	if BuildCommit != "" {
		v += " (" + BuildCommit + ")"
	}

	return fmt.Sprintf("%s %s/%s", v, runtime.GOOS, runtime.GOARCH)
}
