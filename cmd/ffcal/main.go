package main

import (
	"context"
	"log/slog"

	"ffcal/cmd/ffcal/commands"
	"ffcal/lib/osutil"
	"ffcal/lib/telemetry"
)

func main() {
	ctx := osutil.SignalContext()

	telemetry.InitSlog(false)
	if err := telemetry.SetupFromEnv(ctx, "ffcal"); err != nil {
		// telemetry is optional; scraping works without a collector
		slog.Warn("telemetry setup failed", "err", err)
	}
	telemetry.InstrumentPerfStats(ctx)
	defer telemetry.Shutdown(context.Background())

	commands.ExecuteContext(ctx)
}
