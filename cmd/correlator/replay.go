package main

import (
	"errors"
	"fmt"

	"github.com/akupila/correlator"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type replayOptions struct {
	*rootOptions
	rules       string
	in          string
	out         string
	filter      string
	concurrency int
	disabled    bool
}

func newReplayCmd(root *rootOptions) *cobra.Command {
	opts := &replayOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Run a recording through the correlation rules",
		Long: `Replay reads a recording, feeds its transactions through a recording
session as if they had been captured concurrently and writes the correlated
transactions to a new recording.

Transactions start in file order and complete in any order; they are
correlated and written in file order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.rules, "rules", "", "rules configuration file")
	f.StringVar(&opts.in, "in", "", "recording to read (required)")
	f.StringVar(&opts.out, "out", "", "recording to write (required)")
	f.StringVar(&opts.filter, "filter", "", "override the response content type filter")
	f.IntVar(&opts.concurrency, "concurrency", 8, "transactions completed concurrently")
	f.BoolVar(&opts.disabled, "no-correlation", false, "write the recording without correlating")
	cmd.MarkFlagRequired("in")  // nolint: errcheck
	cmd.MarkFlagRequired("out") // nolint: errcheck
	return cmd
}

func runReplay(cmd *cobra.Command, opts *replayOptions) error {
	if opts.concurrency < 1 {
		return errors.New("concurrency must be at least 1")
	}
	log := opts.logger()

	txs, err := correlator.ReadRecording(opts.in)
	if err != nil {
		return err
	}

	cfg := &correlator.Config{Enabled: true}
	if opts.rules != "" {
		if cfg, err = correlator.LoadConfig(opts.rules); err != nil {
			return err
		}
	}
	if opts.filter != "" {
		cfg.ResponseFilter = opts.filter
	}
	if opts.disabled {
		cfg.Enabled = false
	}

	metrics := correlator.NewMetrics()
	sink := correlator.NewFileSink(opts.out)
	ctrl := correlator.NewController(sink, correlator.WithLogger(log), correlator.WithMetrics(metrics))
	if err := ctrl.SetConfig(cfg); err != nil {
		return err
	}
	if err := ctrl.Start(cmd.Context()); err != nil {
		return err
	}

	for i, tx := range txs {
		ctrl.Begin(i, tx.Target)
	}
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(opts.concurrency)
	for i := len(txs) - 1; i >= 0; i-- {
		i, tx := i, txs[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ctrl.Update(i, tx.Request, tx.Elements, tx.Result)
			ctrl.End(i)
			return nil
		})
	}
	waitErr := g.Wait()
	if err := ctrl.Stop(); err != nil {
		return err
	}
	if waitErr != nil {
		return waitErr
	}

	outcomes, err := metrics.Outcomes()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d transactions written to %s (%d dropped, %d discarded)\n",
		sink.Written(), len(txs), sink.Filename, outcomes["dropped"], outcomes["discarded"])
	return nil
}
