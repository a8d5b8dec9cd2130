package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	appName    = "brdg"
	appVersion = "0.2.0"

	// hostName is the native messaging host identifier registered in the
	// browser's host manifest.
	hostName = "com.standardbeagle.brdg"
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Native messaging bridge between a browser extension and MCP clients",
	Long: `Brdg connects a browser-extension companion to AI coding assistants:
  - Speaks Chrome native messaging (length-prefixed JSON frames) on stdio
  - Exposes browser tools and state resources over a streaming MCP server
  - Correlates concurrent in-flight requests to the extension`,
	Version: appVersion,
	// Browsers launch native messaging hosts with stdin as a pipe; an
	// interactive terminal means a human typed "brdg" and wants help.
	Run: func(cmd *cobra.Command, args []string) {
		if !isTerminal(os.Stdin) {
			runServe(cmd, args)
		} else {
			cmd.Help()
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.SetVersionTemplate(fmt.Sprintf("%s v%s\n", appName, appVersion))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func isTerminal(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
