package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-appraise/internal/worker"
)

func newWorkerCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Host the consensus workflow on a Temporal task queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := setup(ctx, root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.close()

			svc, _, err := rt.service(ctx)
			if err != nil {
				return err
			}
			return worker.Run(ctx, rt.cfg, svc, rt.logger)
		},
	}
}

func newSubmitCmd(root *rootFlags) *cobra.Command {
	var (
		req    requestFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Start a consensus workflow and wait for its report",
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

			c, err := worker.Dial(rt.cfg.Temporal, rt.logger)
			if err != nil {
				return err
			}
			defer c.Close()

			report, err := worker.Submit(ctx, c, rt.cfg.Temporal.TaskQueue, r)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return fmt.Errorf("encode report: %w", err)
				}
				return nil
			}
			writeReport(w, report)
			return nil
		},
	}
	req.bind(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")
	return cmd
}
