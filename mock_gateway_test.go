/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateGame(ctx context.Context, playerID string, scenario int) (*GameResponse, error) {
	args := m.Called(ctx, playerID, scenario)
	game, _ := args.Get(0).(*GameResponse)
	return game, args.Error(1)
}

func (m *mockGateway) FetchStatus(ctx context.Context, gameID string) (*StatusSnapshot, error) {
	args := m.Called(ctx, gameID)
	snap, _ := args.Get(0).(*StatusSnapshot)
	return snap, args.Error(1)
}

func (m *mockGateway) FetchNextAndDecide(ctx context.Context, gameID string, personIndex int, decision *bool) (*DecisionOutcome, error) {
	args := m.Called(ctx, gameID, personIndex, decision)
	outcome, _ := args.Get(0).(*DecisionOutcome)
	return outcome, args.Error(1)
}

// verdict matches a decision pointer carrying v.
func verdict(v bool) any {
	return mock.MatchedBy(func(b *bool) bool {
		return b != nil && *b == v
	})
}

func running(next int, attrs map[string]bool) *DecisionOutcome {
	if attrs == nil {
		attrs = map[string]bool{"young": next%2 == 0}
	}
	return &DecisionOutcome{
		Status:     OutcomeRunning,
		NextPerson: &PersonOffer{PersonIndex: next, Attributes: attrs},
	}
}
