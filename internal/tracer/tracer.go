package tracer

import (
	"github.com/Layr-Labs/runtime-indexer/internal/config"
	"github.com/Layr-Labs/runtime-indexer/internal/version"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/mocktracer"
	ddTracer "gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

// StartTracer initializes the DataDog tracer.
// If enabled is false, it starts a mock tracer instead so spans are still valid.
func StartTracer(enabled bool, chain config.Chain) {
	if !enabled {
		mocktracer.Start()
		return
	}
	ddTracer.Start(
		ddTracer.WithEnv(chain.String()),
		ddTracer.WithService("runtime-indexer"),
		ddTracer.WithServiceVersion(version.GetVersion()),
		ddTracer.WithGlobalTag("chain", chain.String()),
		ddTracer.WithDebugMode(false),
		ddTracer.WithLogStartup(false),
	)
}

func StopTracer() {
	ddTracer.Stop()
}
