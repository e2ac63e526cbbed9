package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/nullrunner/mcp-gateway/pkg/log"
)

// defaultExportInterval matches the teacher's long-running-gateway default.
const defaultExportInterval = 30 * time.Second

// RunPeriodicExport force-flushes the global OpenTelemetry MeterProvider on
// a fixed interval. The SDK's manual/periodic readers only export on
// shutdown by default, which starves dashboards for a gateway that runs for
// hours; this loop keeps them current. It returns when ctx is cancelled.
func RunPeriodicExport(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultExportInterval
	}
	logger := log.Tagged("metrics.otel")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	mp := otel.GetMeterProvider()
	flusher, ok := mp.(interface{ ForceFlush(context.Context) error })
	if !ok {
		logger.Log("meter provider does not support ForceFlush; periodic export disabled")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := flusher.ForceFlush(flushCtx); err != nil {
				logger.Logf("periodic metric flush failed: %v", err)
			}
			cancel()
		}
	}
}
