/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// State is a step of the decision sequence.
type State int

const (
	StateAwaitingFirstPerson State = iota
	StateAwaitingDecision
	StateSubmitting
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingFirstPerson:
		return "awaiting_first_person"
	case StateAwaitingDecision:
		return "awaiting_decision"
	case StateSubmitting:
		return "submitting"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further decisions can be made.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// SequencerView is an immutable copy of the sequencer at one point in time.
type SequencerView struct {
	GameID   string           `json:"game_id"`
	State    State            `json:"state"`
	Cursor   int              `json:"cursor"`
	History  []Decision       `json:"history"`
	Offer    *PersonOffer     `json:"offer,omitempty"`
	Pending  *Decision        `json:"pending,omitempty"`
	InFlight bool             `json:"in_flight"`
	Error    string           `json:"error,omitempty"`
	Outcome  *DecisionOutcome `json:"outcome,omitempty"`
}

// Sequencer walks one game from its first person to a terminal outcome,
// allowing exactly one call to the game service at a time. The session is
// only advanced once the service has confirmed a decision.
type Sequencer struct {
	gateway GameGateway
	logger  *zap.Logger

	// onCommit runs after every confirmed decision, outside the lock.
	onCommit func(gameID string)
	// publish receives a fresh view after every change, outside the lock.
	publish  func(SequencerView)

	mu       sync.Mutex
	session  *GameSession
	state    State
	offer    *PersonOffer
	pending  *Decision
	inFlight bool
	lastErr  error
	outcome  *DecisionOutcome
	closed   bool
}

func NewSequencer(gateway GameGateway, session *GameSession, logger *zap.Logger) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sequencer{
		gateway: gateway,
		session: session,
		state:   StateAwaitingFirstPerson,
		logger:  logger.Named("sequencer").With(zap.String("gameID", session.GameID)),
	}
}

// OnCommit registers fn to run after every confirmed decision.
func (s *Sequencer) OnCommit(fn func(gameID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onCommit = fn
}

// Subscribe registers fn to receive a view after every change.
func (s *Sequencer) Subscribe(fn func(SequencerView)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.publish = fn
}

// Start fetches the first person of the game.
func (s *Sequencer) Start(ctx context.Context) error {
	s.mu.Lock()
	if err := s.checkIdleLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.state != StateAwaitingFirstPerson {
		s.mu.Unlock()
		return nil
	}
	s.beginLocked()
	s.mu.Unlock()

	s.notify()

	return s.fetchFirst(ctx)
}

// Accept admits the person awaiting a decision.
func (s *Sequencer) Accept(ctx context.Context) error {
	return s.decide(ctx, -1, true)
}

// Reject turns away the person awaiting a decision.
func (s *Sequencer) Reject(ctx context.Context) error {
	return s.decide(ctx, -1, false)
}

// DecideFor decides for the person at personIndex, failing with ErrStaleOffer
// if that is not the person awaiting a decision.
func (s *Sequencer) DecideFor(ctx context.Context, personIndex int, accepted bool) error {
	if personIndex < 0 {
		return ErrStaleOffer
	}
	return s.decide(ctx, personIndex, accepted)
}

// Retry repeats the last unconfirmed call with the same arguments.
func (s *Sequencer) Retry(ctx context.Context) error {
	s.mu.Lock()
	if err := s.checkIdleLocked(); err != nil {
		s.mu.Unlock()
		return err
	}

	switch {
	case s.state == StateSubmitting && s.pending != nil:
		d := *s.pending
		s.beginLocked()
		s.mu.Unlock()

		s.logger.Info("Retrying decision", zap.Int("personIndex", d.PersonIndex), zap.Bool("accepted", d.Accepted))
		s.notify()

		return s.submit(ctx, d)
	case s.state == StateAwaitingFirstPerson && s.lastErr != nil:
		s.beginLocked()
		s.mu.Unlock()

		s.notify()

		return s.fetchFirst(ctx)
	default:
		s.mu.Unlock()
		return ErrNothingToRetry
	}
}

// Close tears the sequencer down. Replies that arrive later are dropped.
func (s *Sequencer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
}

// View returns a copy of the current state.
func (s *Sequencer) View() SequencerView {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.viewLocked()
}

func (s *Sequencer) decide(ctx context.Context, personIndex int, accepted bool) error {
	s.mu.Lock()
	if err := s.checkIdleLocked(); err != nil {
		s.mu.Unlock()
		s.refused(err)
		return err
	}

	var err error
	switch s.state {
	case StateAwaitingDecision:
		if personIndex >= 0 && personIndex != s.offer.PersonIndex {
			err = ErrStaleOffer
		}
	case StateSubmitting:
		err = ErrDecisionUnconfirmed
	default:
		err = ErrNoOffer
	}
	if err != nil {
		s.mu.Unlock()
		s.refused(err)
		return err
	}

	d := Decision{PersonIndex: s.offer.PersonIndex, Accepted: accepted}
	s.state = StateSubmitting
	s.pending = &d
	s.beginLocked()
	s.mu.Unlock()

	s.logger.Debug("Submitting decision", zap.Int("personIndex", d.PersonIndex), zap.Bool("accepted", d.Accepted))
	s.notify()

	return s.submit(ctx, d)
}

// checkIdleLocked refuses any new call while the sequencer is closed,
// finished, or already waiting on the game service.
func (s *Sequencer) checkIdleLocked() error {
	switch {
	case s.closed:
		return ErrSessionClosed
	case s.state.Terminal():
		return ErrSessionTerminal
	case s.inFlight:
		return ErrDecisionInFlight
	}
	return nil
}

func (s *Sequencer) beginLocked() {
	s.inFlight = true
	s.lastErr = nil
}

func (s *Sequencer) fetchFirst(ctx context.Context) error {
	outcome, err := s.gateway.FetchNextAndDecide(ctx, s.session.GameID, 0, nil)
	return s.finish(nil, outcome, err)
}

func (s *Sequencer) submit(ctx context.Context, d Decision) error {
	accepted := d.Accepted
	outcome, err := s.gateway.FetchNextAndDecide(ctx, s.session.GameID, d.PersonIndex, &accepted)
	return s.finish(&d, outcome, err)
}

// finish applies a reply from the game service. d is nil for the first fetch.
func (s *Sequencer) finish(d *Decision, outcome *DecisionOutcome, err error) error {
	s.mu.Lock()
	s.inFlight = false

	if s.closed {
		s.mu.Unlock()
		s.logger.Debug("Dropping reply for closed session", zap.Error(err))
		return ErrSessionClosed
	}

	if err == nil {
		err = s.checkNextLocked(d, outcome)
	}

	if err != nil {
		s.lastErr = err
		view := s.viewLocked()
		s.mu.Unlock()

		s.logger.Warn("Call to game service failed", zap.String("state", view.State.String()), zap.Error(err))
		s.emit(view)
		return err
	}

	committed := false
	if d != nil {
		if cerr := s.session.commit(*d); cerr != nil {
			s.lastErr = cerr
			view := s.viewLocked()
			s.mu.Unlock()

			s.logger.Error("Refusing to commit decision", zap.Error(cerr))
			s.emit(view)
			return cerr
		}
		s.pending = nil
		committed = true
	}

	switch outcome.Status {
	case OutcomeRunning:
		s.state = StateAwaitingDecision
		s.offer = outcome.NextPerson
	case OutcomeCompleted:
		s.state = StateCompleted
		s.offer = nil
		s.outcome = outcome
	case OutcomeFailed:
		s.state = StateFailed
		s.offer = nil
		s.outcome = outcome
	}

	view := s.viewLocked()
	onCommit := s.onCommit
	s.mu.Unlock()

	if committed {
		decisionsTotal.WithLabelValues(decisionLabel(d.Accepted)).Inc()
		s.logger.Debug("Decision confirmed",
			zap.Int("personIndex", d.PersonIndex),
			zap.Bool("accepted", d.Accepted),
			zap.Int("cursor", view.Cursor),
		)
	}
	if view.State.Terminal() {
		s.logger.Info("Game over",
			zap.String("state", view.State.String()),
			zap.Int("admitted", outcome.AdmittedCount),
			zap.Int("rejected", outcome.RejectedCount),
			zap.String("reason", outcome.Reason),
		)
	}

	s.emit(view)

	if committed && onCommit != nil {
		onCommit(view.GameID)
	}

	return nil
}

// checkNextLocked makes sure a running reply offers the person right after
// the one just decided, so indexes and history can never drift apart.
func (s *Sequencer) checkNextLocked(d *Decision, outcome *DecisionOutcome) error {
	if outcome == nil {
		return fmt.Errorf("%w: empty reply", ErrMalformedResponse)
	}
	if err := outcome.validate(); err != nil {
		return err
	}
	if outcome.Status != OutcomeRunning {
		return nil
	}

	want := s.session.Cursor
	if d != nil {
		want = d.PersonIndex + 1
	}

	if got := outcome.NextPerson.PersonIndex; got != want {
		return fmt.Errorf("%w: expected person %d, got %d", ErrMalformedResponse, want, got)
	}

	return nil
}

func (s *Sequencer) refused(err error) {
	reason := "other"
	switch {
	case errors.Is(err, ErrDecisionInFlight):
		reason = "in_flight"
	case errors.Is(err, ErrDecisionUnconfirmed):
		reason = "unconfirmed"
	case errors.Is(err, ErrSessionTerminal):
		reason = "terminal"
	case errors.Is(err, ErrStaleOffer):
		reason = "stale_offer"
	case errors.Is(err, ErrSessionClosed):
		reason = "closed"
	case errors.Is(err, ErrNoOffer):
		reason = "no_offer"
	}
	decisionsRefusedTotal.WithLabelValues(reason).Inc()
	s.logger.Debug("Decision refused", zap.String("reason", reason))
}

func (s *Sequencer) viewLocked() SequencerView {
	v := SequencerView{
		GameID:   s.session.GameID,
		State:    s.state,
		Cursor:   s.session.Cursor,
		History:  s.session.history(),
		Offer:    s.offer.clone(),
		InFlight: s.inFlight,
		Outcome:  s.outcome.clone(),
	}
	if s.pending != nil {
		p := *s.pending
		v.Pending = &p
	}
	if s.lastErr != nil {
		v.Error = s.lastErr.Error()
	}
	return v
}

func (s *Sequencer) notify() {
	s.mu.Lock()
	view := s.viewLocked()
	s.mu.Unlock()

	s.emit(view)
}

func (s *Sequencer) emit(view SequencerView) {
	s.mu.Lock()
	publish := s.publish
	closed := s.closed
	s.mu.Unlock()

	if publish != nil && !closed {
		publish(view)
	}
}
