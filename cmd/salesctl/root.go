package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"koperasi/backend/internal/app"
	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/service"
)

type opener func(ctx context.Context) (*app.Runtime, error)

type cli struct {
	open     opener
	operator string
}

func newRootCmd(open opener) *cobra.Command {
	c := &cli{open: open}

	root := &cobra.Command{
		Use:          "salesctl",
		Short:        "Inspect, delete and migrate cooperative sales",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.operator, "operator", "salesctl", "username recorded on audit entries and edited rows")

	root.AddCommand(c.showCmd(), c.listCmd(), c.deleteCmd(), c.migrateCmd())
	return root
}

// withService opens the runtime, runs fn as an admin actor and closes it.
func (c *cli) withService(cmd *cobra.Command, fn func(ctx context.Context, svc *service.Service) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx = service.WithActor(ctx, domain.Actor{Username: c.operator, Role: "admin"})
	return fn(ctx, rt.Service)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
