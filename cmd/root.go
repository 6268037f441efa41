// Package cmd implements apfsctl, a read-only command-line explorer for
// Apple File System container images.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	verbose      bool
	outputFormat string
	passphrase   string
)

var rootCmd = &cobra.Command{
	Use:   "apfsctl",
	Short: "Read-only explorer for Apple File System container images",
	Long: `apfsctl mounts a raw APFS container image, a partitioned disk image,
or a .dmg file, and lets you list, inspect, and extract its contents
without writing to the source and without requiring macOS.`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

// Execute runs the command tree, printing any error to stderr.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print progress to stderr")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (not read by any command; output is always plain text)")
	rootCmd.PersistentFlags().StringVar(&passphrase, "passphrase", "", "passphrase for an encrypted volume")

	viper.SetEnvPrefix("APFSCTL")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("passphrase", rootCmd.PersistentFlags().Lookup("passphrase"))
}

func verbosef(format string, args ...any) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// effectivePassphrase prefers an explicit --passphrase flag over the
// APFSCTL_PASSPHRASE environment binding, so a script that sets both isn't
// silently overridden by the environment.
func effectivePassphrase() string {
	if passphrase != "" {
		return passphrase
	}
	return viper.GetString("passphrase")
}
