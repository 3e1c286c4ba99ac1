package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"go.vocdoni.io/ballotchain/log"
)

var (
	keysPrint   = color.New(color.FgCyan, color.Bold)
	valuesPrint = color.New(color.FgMagenta)
	okPrint     = color.New(color.FgGreen, color.Bold)
	failPrint   = color.New(color.FgRed, color.Bold)

	stdout io.Writer = os.Stdout

	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "ballotcli",
	Short: "Inspect and audit ballotchain ledgers.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Init(logLevel, "stderr")
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&logLevel, "logLevel", "l", "error", "log level")
	rootCmd.AddCommand(keysCmd, electionCmd, chainCmd)
	keysCmd.AddCommand(keysNewCmd)
	electionCmd.AddCommand(electionNewCmd)
	chainCmd.AddCommand(chainVerifyCmd, chainTallyCmd)
}

func printKV(key string, value any) {
	keysPrint.Fprintf(stdout, "%s: ", key)
	valuesPrint.Fprintf(stdout, "%v\n", value)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
