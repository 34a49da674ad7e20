package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectors(t *testing.T) {
	Candidates.WithLabelValues("t1").Set(4)
	Representatives.WithLabelValues("t1").Set(2)
	PromotionsTotal.WithLabelValues("t1").Add(3)

	assert.Equal(t, 4.0, testutil.ToFloat64(Candidates.WithLabelValues("t1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(Representatives.WithLabelValues("t1")))
	assert.Equal(t, 3.0, testutil.ToFloat64(PromotionsTotal.WithLabelValues("t1")))
}
