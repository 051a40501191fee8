package main

import (
	"io"
	"os"

	"github.com/akupila/correlator"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	logLevel string
	logOut   io.Writer
}

func (o *rootOptions) logger() zerolog.Logger {
	w := o.logOut
	if w == nil {
		w = os.Stderr
	}
	return correlator.NewLogger(w, o.logLevel)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "correlator",
		Short:         "Correlate dynamic values in recorded HTTP traffic",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.logOut = cmd.ErrOrStderr()
		},
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	cmd.AddCommand(newReplayCmd(opts), newRulesCmd(opts))
	return cmd
}
