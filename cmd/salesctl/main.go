// Command salesctl inspects and repairs sales from a terminal using the same
// repository configuration as the server.
package main

import (
	"context"
	"os"

	"koperasi/backend/internal/app"
	"koperasi/backend/internal/config"
)

func main() {
	open := func(ctx context.Context) (*app.Runtime, error) {
		return app.Open(ctx, config.Load())
	}
	if err := newRootCmd(open).Execute(); err != nil {
		os.Exit(1)
	}
}
