/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGameSession_Commit(t *testing.T) {
	s := NewGameSession("g1")
	assert.Equal(t, 0, s.Cursor)
	assert.NotNil(t, s.History)

	require.NoError(t, s.commit(Decision{PersonIndex: 0, Accepted: true}))
	require.NoError(t, s.commit(Decision{PersonIndex: 1, Accepted: false}))

	assert.Equal(t, 2, s.Cursor)
	assert.Len(t, s.History, s.Cursor)

	assert.Error(t, s.commit(Decision{PersonIndex: 5, Accepted: true}))
	assert.Error(t, s.commit(Decision{PersonIndex: 1, Accepted: true}))
	assert.Equal(t, 2, s.Cursor)
	assert.Len(t, s.History, 2)
}

func TestDecisionOutcome_Validate(t *testing.T) {
	tests := []struct {
		name    string
		outcome DecisionOutcome
		wantErr bool
	}{
		{"running with person", DecisionOutcome{Status: OutcomeRunning, NextPerson: &PersonOffer{PersonIndex: 1}}, false},
		{"running without person", DecisionOutcome{Status: OutcomeRunning}, true},
		{"completed", DecisionOutcome{Status: OutcomeCompleted}, false},
		{"failed", DecisionOutcome{Status: OutcomeFailed, Reason: "capacity"}, false},
		{"empty status", DecisionOutcome{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.outcome.validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedResponse)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidScenario(t *testing.T) {
	assert.False(t, validScenario(0))
	assert.True(t, validScenario(1))
	assert.True(t, validScenario(3))
	assert.False(t, validScenario(4))
}

func TestPersonOffer_Clone(t *testing.T) {
	var nilOffer *PersonOffer
	assert.Nil(t, nilOffer.clone())

	p := &PersonOffer{PersonIndex: 3, Attributes: map[string]bool{"young": true}}
	c := p.clone()
	c.Attributes["young"] = false

	assert.Equal(t, 3, c.PersonIndex)
	assert.True(t, p.Attributes["young"])
}

func TestDecisionOutcome_Clone(t *testing.T) {
	var nilOutcome *DecisionOutcome
	assert.Nil(t, nilOutcome.clone())

	o := &DecisionOutcome{
		Status:     OutcomeRunning,
		NextPerson: &PersonOffer{PersonIndex: 1, Attributes: map[string]bool{"young": true}},
	}
	c := o.clone()
	require.NotSame(t, o.NextPerson, c.NextPerson)

	c.NextPerson.Attributes["young"] = false
	assert.True(t, o.NextPerson.Attributes["young"])
}
