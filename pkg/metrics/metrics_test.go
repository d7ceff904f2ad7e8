package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordIngestion(t *testing.T) {
	before := testutil.ToFloat64(IngestionEvents.WithLabelValues(OutcomeDuplicate))

	RecordIngestion(OutcomeDuplicate, 3*time.Millisecond)

	after := testutil.ToFloat64(IngestionEvents.WithLabelValues(OutcomeDuplicate))
	assert.Equal(t, before+1, after)
}

func TestRecordDownstream(t *testing.T) {
	before := testutil.ToFloat64(DownstreamRequests.WithLabelValues("metadata", "ok"))

	RecordDownstream("metadata", "ok")
	RecordDownstream("metadata", "ok")

	after := testutil.ToFloat64(DownstreamRequests.WithLabelValues("metadata", "ok"))
	assert.Equal(t, before+2, after)
}

func TestRecordProxiedBytesIgnoresEmptyWrites(t *testing.T) {
	before := testutil.ToFloat64(ProxiedBytes.WithLabelValues("streaming"))

	RecordProxiedBytes("streaming", 0)
	RecordProxiedBytes("streaming", 1024)

	after := testutil.ToFloat64(ProxiedBytes.WithLabelValues("streaming"))
	assert.Equal(t, before+1024, after)
}
