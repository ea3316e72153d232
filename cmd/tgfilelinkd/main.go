package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/silverlynx/tgfilelink/config"
)

const versionString = "1.0.0"

var rootCmd = &cobra.Command{
	Use:     "tgfilelinkd",
	Short:   "tgfilelinkd archives media to a Telegram channel and serves it back over HTTP",
	Version: versionString,
}

func init() {
	rootCmd.AddCommand(runCmd)
	config.SetFlagsFromConfig(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
