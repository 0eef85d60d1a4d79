package metrics

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePrometheus(t *testing.T) {
	IntentResolutions.WithLabelValues("keyword").Inc()
	HealAttempts.Observe(2)

	var buf bytes.Buffer
	require.NoError(t, WritePrometheus(&buf))
	assert.Contains(t, buf.String(), `homelink_intent_resolutions_total{path="keyword"}`)
	assert.Contains(t, buf.String(), "homelink_heal_attempts_bucket")
}
