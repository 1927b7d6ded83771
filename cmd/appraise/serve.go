package main

import (
	"github.com/spf13/cobra"

	"github.com/ahrav/go-appraise/internal/server"
)

func newServeCmd(root *rootFlags) *cobra.Command {
	var (
		addr    string
		origins []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve appraisals over HTTP",
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
			if addr == "" {
				addr = rt.cfg.Server.Addr
			}
			srv, err := server.New(svc, server.Config{
				Addr:         addr,
				Logger:       rt.logger,
				Gatherer:     rt.registry,
				AllowOrigins: origins,
			})
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address; defaults to server.addr")
	cmd.Flags().StringSliceVar(&origins, "cors-origin", nil, "allowed CORS origin, repeatable")
	return cmd
}
