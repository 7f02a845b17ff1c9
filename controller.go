/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	modeSetup   = "setup"
	modeSession = "session"
)

// SessionView is everything the page needs to draw an active game.
type SessionView struct {
	SequencerView

	Constraints []Constraint         `json:"constraints,omitempty"`
	Statistics  *AttributeStatistics `json:"statistics,omitempty"`
	Status      *StatusSnapshot      `json:"status,omitempty"`
	StatusError string               `json:"status_error,omitempty"`
	StatusAt    *time.Time           `json:"status_at,omitempty"`
	JoinedByID  bool                 `json:"joined_by_id"`
}

// View is the immutable snapshot published to the presentation layer.
type View struct {
	Mode     string       `json:"mode"`
	PlayerID string       `json:"player_id"`
	Scenario int          `json:"scenario"`
	Busy     bool         `json:"busy"`
	Error    string       `json:"error,omitempty"`
	Session  *SessionView `json:"session,omitempty"`
}

// activeSession bundles everything owned by one game. It is replaced
// wholesale; nothing from it survives Back.
type activeSession struct {
	epoch      uint64
	gameID     string
	ctx        context.Context
	cancel     context.CancelFunc
	sequencer  *Sequencer
	reconciler *Reconciler
	view       SessionView
}

// Controller owns the session lifecycle: the setup screen, creating or
// joining a game, and tearing it down again.
type Controller struct {
	gateway      GameGateway
	cache        *StatusCache
	pollInterval time.Duration
	logger       *zap.Logger
	baseCtx      context.Context

	mu          sync.Mutex
	epoch       uint64
	active      *activeSession
	playerID    string
	scenario    int
	busy        bool
	setupErr    string
	subscribers map[chan View]struct{}
}

func NewController(ctx context.Context, gateway GameGateway, cfg *Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Controller{
		gateway:      gateway,
		cache:        NewStatusCache(),
		pollInterval: cfg.pollInterval,
		logger:       logger.Named("controller"),
		baseCtx:      ctx,
		playerID:     cfg.defaultPlayerID(),
		scenario:     cfg.scenario,
		subscribers:  make(map[chan View]struct{}),
	}
}

// Subscribe returns a channel that always holds the latest view, starting
// with the current one, and a func that ends the subscription.
func (c *Controller) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)

	c.mu.Lock()
	c.subscribers[ch] = struct{}{}
	ch <- c.viewLocked()
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscribers, ch)
			c.mu.Unlock()
		})
	}
}

// View returns the current view.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.viewLocked()
}

// CreateGame creates a new game on the server and starts playing it.
func (c *Controller) CreateGame(ctx context.Context, playerID string, scenario int) error {
	playerID = strings.TrimSpace(playerID)

	if err := c.beginSetup(func() {
		if playerID == "" {
			playerID = c.playerID
		} else {
			c.playerID = playerID
		}
		if scenario == 0 {
			scenario = c.scenario
		} else if validScenario(scenario) {
			c.scenario = scenario
		}
	}); err != nil {
		return err
	}

	game, err := c.gateway.CreateGame(ctx, playerID, scenario)
	if err != nil {
		c.failSetup("Failed to create game", err)
		return err
	}

	c.logger.Info("Created game", zap.String("gameID", game.GameID), zap.Int("scenario", scenario))
	sessionsTotal.WithLabelValues("create").Inc()

	c.startSession(game.GameID, SessionView{
		Constraints: game.Constraints,
		Statistics:  &game.AttributeStatistics,
	}, nil)

	return nil
}

// JoinGame resumes an existing game. The game must answer a status request
// before any session is created.
func (c *Controller) JoinGame(ctx context.Context, gameID string) error {
	gameID = strings.TrimSpace(gameID)

	if err := c.beginSetup(nil); err != nil {
		return err
	}

	snap, err := c.gateway.FetchStatus(ctx, gameID)
	if err != nil {
		c.failSetup("Failed to join game", err)
		return err
	}

	c.logger.Info("Joined game", zap.String("gameID", gameID))
	sessionsTotal.WithLabelValues("join").Inc()

	c.startSession(gameID, SessionView{JoinedByID: true}, snap)

	return nil
}

// Back ends the current game and returns to the setup screen.
func (c *Controller) Back() error {
	c.mu.Lock()
	s := c.active
	if s == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	c.active = nil
	c.setupErr = ""
	c.mu.Unlock()

	s.cancel()
	s.sequencer.Close()
	c.cache.Drop(s.gameID)

	c.logger.Info("Left game", zap.String("gameID", s.gameID))
	c.broadcast()

	return nil
}

// Decide forwards a decision for the person at personIndex to the sequencer.
func (c *Controller) Decide(personIndex int, accepted bool) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	return s.sequencer.DecideFor(s.ctx, personIndex, accepted)
}

// Retry repeats the last failed call of the current game.
func (c *Controller) Retry() error {
	s, err := c.current()
	if err != nil {
		return err
	}
	return s.sequencer.Retry(s.ctx)
}

func (c *Controller) current() (*activeSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return nil, ErrNoSession
	}
	return c.active, nil
}

// beginSetup marks the setup screen busy. It fails if a game is running or
// another create/join is under way.
func (c *Controller) beginSetup(update func()) error {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return ErrSessionActive
	}
	if c.busy {
		c.mu.Unlock()
		return ErrSetupBusy
	}
	if update != nil {
		update()
	}
	c.busy = true
	c.setupErr = ""
	c.mu.Unlock()

	c.broadcast()

	return nil
}

func (c *Controller) failSetup(msg string, err error) {
	c.logger.Warn(msg, zap.Error(err))

	c.mu.Lock()
	c.busy = false
	c.setupErr = err.Error()
	c.mu.Unlock()

	c.broadcast()
}

// startSession builds a fresh session at cursor 0 and fetches its first person.
func (c *Controller) startSession(gameID string, view SessionView, snap *StatusSnapshot) {
	ctx, cancel := context.WithCancel(c.baseCtx)

	seq := NewSequencer(c.gateway, NewGameSession(gameID), c.logger)
	rec := NewReconciler(c.gateway, c.cache, gameID, c.pollInterval, c.logger)

	if snap != nil {
		c.cache.Put(gameID, snap)
	}

	c.mu.Lock()
	c.epoch++
	s := &activeSession{
		epoch:      c.epoch,
		gameID:     gameID,
		ctx:        ctx,
		cancel:     cancel,
		sequencer:  seq,
		reconciler: rec,
		view:       view,
	}
	s.view.SequencerView = seq.View()
	c.active = s
	c.busy = false
	c.setupErr = ""
	c.mu.Unlock()

	seq.Subscribe(func(v SequencerView) {
		c.applySequencer(s.epoch, v)
	})
	seq.OnCommit(func(string) {
		rec.Invalidate()
	})

	go rec.Run(ctx)
	go c.pumpStatus(s.epoch, gameID, rec.Updates())
	go func() {
		if err := seq.Start(ctx); err != nil && !errors.Is(err, ErrSessionClosed) {
			c.logger.Debug("First person not fetched", zap.String("gameID", gameID), zap.Error(err))
		}
	}()

	c.broadcast()
}

func (c *Controller) applySequencer(epoch uint64, v SequencerView) {
	c.mu.Lock()
	if c.active == nil || c.active.epoch != epoch {
		c.mu.Unlock()
		c.logger.Debug("Dropping update for stale session", zap.String("gameID", v.GameID))
		return
	}
	c.active.view.SequencerView = v
	c.mu.Unlock()

	c.broadcast()
}

func (c *Controller) pumpStatus(epoch uint64, gameID string, updates <-chan StatusUpdate) {
	for u := range updates {
		c.mu.Lock()
		if c.active == nil || c.active.epoch != epoch {
			c.mu.Unlock()
			continue
		}
		// The snapshot itself is read back from the cache by viewLocked.
		if u.Err != nil {
			c.active.view.StatusError = u.Err.Error()
		} else {
			c.active.view.StatusError = ""
		}
		at := u.At
		c.active.view.StatusAt = &at
		c.mu.Unlock()

		c.broadcast()
	}

	// A refresh may have landed in the cache after Back dropped it.
	c.mu.Lock()
	if c.active == nil || c.active.gameID != gameID {
		c.cache.Drop(gameID)
	}
	c.mu.Unlock()
}

func (c *Controller) viewLocked() View {
	v := View{
		Mode:     modeSetup,
		PlayerID: c.playerID,
		Scenario: c.scenario,
		Busy:     c.busy,
		Error:    c.setupErr,
	}
	if c.active != nil {
		sv := c.active.view
		if snap, ok := c.cache.Get(c.active.gameID); ok {
			sv.Status = snap
		}
		v.Mode = modeSession
		v.Busy = sv.InFlight
		v.Session = &sv
	}
	return v
}

// broadcast publishes the current view to every subscriber, replacing any
// view they have not read yet.
func (c *Controller) broadcast() {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := c.viewLocked()
	for ch := range c.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}
