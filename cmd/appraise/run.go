package main

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-appraise/internal/appraisal"
	"github.com/ahrav/go-appraise/internal/challenge"
	"github.com/ahrav/go-appraise/internal/consensus"
	"github.com/ahrav/go-appraise/internal/nft"
)

// DefaultArtifactPath is where run writes the consensus result.
const DefaultArtifactPath = "results/confident_consensus_result.json"

type requestFlags struct {
	input      string
	challenges int
	holdout    bool
	targetDate string
}

func (f *requestFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.input, "input", "i", "", "NFT item JSON file (required)")
	cmd.Flags().IntVar(&f.challenges, "challenges", 0, "challenge rounds; 0 uses the configured value")
	cmd.Flags().BoolVar(&f.holdout, "holdout", false, "hold out the latest sale and score the consensus against it")
	cmd.Flags().StringVar(&f.targetDate, "target-date", "", `target month, e.g. "June, 2025"; defaults to the current month`)
	_ = cmd.MarkFlagRequired("input")
}

func (f *requestFlags) request() (appraisal.Request, error) {
	item, err := nft.Load(f.input)
	if err != nil {
		return appraisal.Request{}, err
	}
	req := appraisal.Request{Item: item, Holdout: f.holdout, TargetDate: f.targetDate}
	if f.challenges != 0 {
		n := f.challenges
		req.Challenges = &n
	}
	return req, req.Validate()
}

func newRunCmd(root *rootFlags) *cobra.Command {
	var (
		req requestFlags
		out string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Appraise one item locally and write the consensus artifact",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			r, err := req.request()
			if err != nil {
				return err
			}
			rt, err := setup(ctx, root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.close()

			svc, client, err := rt.service(ctx)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			var mu sync.Mutex
			fmt.Fprintf(w, "%s %s #%s\n", bold("Appraising"), r.Item.Name, r.Item.TokenID)
			report, err := svc.Appraise(ctx, r, consensus.OnRound(func(ev challenge.RoundEvent) {
				mu.Lock()
				defer mu.Unlock()
				fmt.Fprintln(w, roundLine(ev))
			}))
			if report == nil {
				return err
			}
			if err != nil && !errors.Is(err, ctx.Err()) {
				return err
			}

			writeReport(w, report)
			stats := client.CacheStats()
			if stats.Hits+stats.Misses > 0 {
				fmt.Fprintf(w, "%s\n", gray(fmt.Sprintf("cache: %d hits, %d misses", stats.Hits, stats.Misses)))
			}
			if werr := writeArtifact(out, report); werr != nil {
				return werr
			}
			fmt.Fprintf(w, "%s %s\n", green("saved"), out)
			return err
		},
	}
	req.bind(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", DefaultArtifactPath, "consensus artifact path")
	return cmd
}
