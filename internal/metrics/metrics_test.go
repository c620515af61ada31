package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordBuildStage(t *testing.T) {
	before := testutil.ToFloat64(BuildStageAttempts.WithLabelValues("vector_store"))
	RecordBuildStage("vector_store", 2*time.Second, errors.New("disk full"))
	RecordBuildStage("vector_store", time.Second, nil)
	assert.Equal(t, before+2, testutil.ToFloat64(BuildStageAttempts.WithLabelValues("vector_store")))
}

func TestRecordRecommendation(t *testing.T) {
	before := testutil.ToFloat64(RecommendationResults.WithLabelValues("ok"))
	RecordRecommendation("ok", 800*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(RecommendationResults.WithLabelValues("ok")))
}

func TestRecordHTTPRequest(t *testing.T) {
	RecordHTTPRequest("GET", "/", 200, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/", "200")))
}

func TestMetricsLint(t *testing.T) {
	problems, err := testutil.GatherAndLint(prometheus.DefaultGatherer)
	require.NoError(t, err)
	for _, p := range problems {
		if len(p.Metric) >= 8 && p.Metric[:8] == "animerec" {
			t.Errorf("metric %s: %s", p.Metric, p.Text)
		}
	}
}
