package dogstatsd

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/Layr-Labs/runtime-indexer/pkg/logger"
	"github.com/Layr-Labs/runtime-indexer/pkg/metrics/metricsTypes"
	"github.com/stretchr/testify/assert"
)

func Test_DogStatsdMetricsClient(t *testing.T) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	assert.Nil(t, err)

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	assert.Nil(t, err)
	defer conn.Close()

	client, err := NewDogStatsdMetricsClient(&DogStatsdMetricsConfig{
		Url:       conn.LocalAddr().String(),
		Namespace: "runtime_indexer",
	}, l)
	assert.Nil(t, err)

	assert.Nil(t, client.Incr(metricsTypes.Metric_Incr_DispatchOutcome, []metricsTypes.MetricsLabel{
		{Name: "outcome", Value: "decode_error"},
	}, 2))
	assert.Nil(t, client.Gauge(metricsTypes.Metric_Gauge_CurrentBlockHeight, 42, nil))
	client.Flush()

	received := ""
	buf := make([]byte, 4096)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for !strings.Contains(received, "currentBlockHeight") || !strings.Contains(received, "dispatch.outcome") {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			break
		}
		received += string(buf[:n])
	}

	assert.Contains(t, received, "runtime_indexer.dispatch.outcome:2|c")
	assert.Contains(t, received, "outcome:decode_error")
	assert.Contains(t, received, "runtime_indexer.currentBlockHeight:42|g")
}

func Test_FormatTags(t *testing.T) {
	assert.Equal(t, []string{"a:1", "b:two"}, formatTags([]metricsTypes.MetricsLabel{{Name: "a", Value: "1"}, {Name: "b", Value: "two"}}))
	assert.Empty(t, formatTags(nil))
}
