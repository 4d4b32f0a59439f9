package main

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/jdziat/strand-jobs/pkg/channel"
	"github.com/jdziat/strand-jobs/pkg/config"
)

// runWorker serves one channel on r and w until r reaches EOF. The parent
// owns job state; this process only runs processors.
func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, r io.Reader, w io.Writer) error {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	reg, _, err := buildRegistry(cfg, st, logger)
	if err != nil {
		return err
	}

	logger.Info("worker channel ready", "types", reg.Types())
	err = channel.Serve(ctx, r, w, reg)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
