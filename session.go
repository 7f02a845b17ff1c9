/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"maps"
	"slices"
)

const (
	minScenario = 1
	maxScenario = 3
)

func validScenario(s int) bool {
	return s >= minScenario && s <= maxScenario
}

// Decision pairs a person index with the verdict given for that person.
type Decision struct {
	PersonIndex int  `json:"person_index"`
	Accepted    bool `json:"accepted"`
}

// PersonOffer is the person currently waiting at the door.
type PersonOffer struct {
	PersonIndex int             `json:"personIndex"`
	Attributes  map[string]bool `json:"attributes"`
}

func (p *PersonOffer) clone() *PersonOffer {
	if p == nil {
		return nil
	}
	c := *p
	c.Attributes = maps.Clone(p.Attributes)
	return &c
}

// OutcomeStatus is the game status reported with every decide-and-next reply.
type OutcomeStatus string

const (
	OutcomeRunning   OutcomeStatus = "running"
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomeFailed    OutcomeStatus = "failed"
)

// DecisionOutcome is the reply to a decide-and-next call. A running outcome
// always carries the next person; completed and failed end the game.
type DecisionOutcome struct {
	Status        OutcomeStatus `json:"status"`
	AdmittedCount int           `json:"admittedCount"`
	RejectedCount int           `json:"rejectedCount"`
	NextPerson    *PersonOffer  `json:"nextPerson"`
	Reason        string        `json:"reason,omitempty"`
}

func (o *DecisionOutcome) validate() error {
	switch o.Status {
	case OutcomeRunning:
		if o.NextPerson == nil {
			return fmt.Errorf("%w: running outcome without next person", ErrMalformedResponse)
		}
	case OutcomeCompleted, OutcomeFailed:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrMalformedResponse, o.Status)
	}
	return nil
}

func (o *DecisionOutcome) clone() *DecisionOutcome {
	if o == nil {
		return nil
	}
	c := *o
	c.NextPerson = o.NextPerson.clone()
	return &c
}

// Terminal reports whether the outcome ends the game.
func (o *DecisionOutcome) Terminal() bool {
	return o.Status == OutcomeCompleted || o.Status == OutcomeFailed
}

type Constraint struct {
	Attribute string `json:"attribute"`
	MinCount  int    `json:"minCount"`
}

type AttributeStatistics struct {
	RelativeFrequencies map[string]float64            `json:"relativeFrequencies"`
	Correlations        map[string]map[string]float64 `json:"correlations"`
}

// GameResponse is returned when a new game is created.
type GameResponse struct {
	GameID              string              `json:"gameId"`
	Constraints         []Constraint        `json:"constraints"`
	AttributeStatistics AttributeStatistics `json:"attributeStatistics"`
}

type ConstraintProgress struct {
	Attribute    string `json:"attribute"`
	Current      int    `json:"current"`
	Target       int    `json:"target"`
	IsComplete   bool   `json:"isComplete"`
	IsOverTarget bool   `json:"isOverTarget"`
}

// StatusSnapshot is the server's view of a game. It is informational only and
// never moves the cursor.
type StatusSnapshot struct {
	GameID               string               `json:"gameId"`
	Status               string               `json:"status,omitempty"`
	Admitted             int                  `json:"admitted"`
	Rejected             int                  `json:"rejected"`
	Constraints          []ConstraintProgress `json:"constraints"`
	CapacityProgress     float64              `json:"capacityProgress"`
	AcceptanceRate       float64              `json:"acceptanceRate"`
	RejectionsUntilLimit int                  `json:"rejectionsUntilLimit"`
}

// GameSession is the client's record of one game: the next person index it
// expects and every decision the server has confirmed. len(History) always
// equals Cursor.
type GameSession struct {
	GameID  string
	Cursor  int
	History []Decision
}

func NewGameSession(gameID string) *GameSession {
	return &GameSession{
		GameID:  gameID,
		History: []Decision{},
	}
}

// commit records a confirmed decision. The decision must be for the person
// at the cursor.
func (s *GameSession) commit(d Decision) error {
	if d.PersonIndex != s.Cursor {
		return fmt.Errorf("decision for person %d does not match cursor %d", d.PersonIndex, s.Cursor)
	}

	s.History = append(s.History, d)
	s.Cursor = d.PersonIndex + 1

	return nil
}

func (s *GameSession) history() []Decision {
	return slices.Clone(s.History)
}
