package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	cfgpkg "github.com/local/minutebook/internal/config"
	"github.com/local/minutebook/internal/store"
)

func newStatusCmd(cfg *cfgpkg.Config) *cobra.Command {
	var withPages bool
	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the stored status and sections of a run (requires REDIS_URL)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Redis.URL == "" {
				return errors.New("REDIS_URL is not set")
			}
			ctx := cmd.Context()
			rc, err := store.Connect(ctx, cfg.Redis.URL)
			if err != nil {
				return err
			}
			defer rc.Close()

			rs := store.NewRunStore(rc, args[0], cfg.Redis.TTL)
			st, ok, err := rs.Status(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("run %s not found", args[0])
			}
			secs, err := rs.Sections(ctx)
			if err != nil {
				return err
			}

			out := map[string]interface{}{"run_id": args[0], "status": st, "sections": secs}
			if withPages {
				pages, err := rs.Pages(ctx)
				if err != nil {
					return err
				}
				out["pages"] = pages
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().BoolVar(&withPages, "pages", false, "include the last checkpointed page states")
	return cmd
}
