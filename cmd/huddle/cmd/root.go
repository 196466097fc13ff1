package cmd

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/huddle-rtc/huddle/internal/ui"
	"github.com/huddle-rtc/huddle/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "huddle",
	Short:   "Join and inspect multi-party audio/video rooms from the terminal",
	Long:    `Huddle is a command-line client for the Huddle signaling server. It joins rooms, publishes audio and video tracks, subscribes to what other participants publish, and shows the live state of a call.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		os.Exit(0)
	}()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
