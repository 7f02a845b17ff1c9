/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMetrics_DecisionCounters(t *testing.T) {
	gw := new(mockGateway)
	seq := startedSequencer(t, gw)

	gw.On("FetchNextAndDecide", mock.Anything, "g1", 0, verdict(true)).Return(running(1, nil), nil).Once()

	accepted := testutil.ToFloat64(decisionsTotal.WithLabelValues("accept"))
	stale := testutil.ToFloat64(decisionsRefusedTotal.WithLabelValues("stale_offer"))

	assert.ErrorIs(t, seq.DecideFor(context.Background(), 7, true), ErrStaleOffer)
	require.NoError(t, seq.Accept(context.Background()))

	assert.Equal(t, accepted+1, testutil.ToFloat64(decisionsTotal.WithLabelValues("accept")))
	assert.Equal(t, stale+1, testutil.ToFloat64(decisionsRefusedTotal.WithLabelValues("stale_offer")))
}

func TestMetrics_Labels(t *testing.T) {
	assert.Equal(t, "ok", resultLabel(nil))
	assert.Equal(t, "error", resultLabel(ErrMalformedResponse))
	assert.Equal(t, "accept", decisionLabel(true))
	assert.Equal(t, "reject", decisionLabel(false))
}
