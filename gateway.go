/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	opCreateGame  = "create_game"
	opFetchStatus = "fetch_status"
	opDecide      = "decide_and_next"

	maxErrorMessage = 200
)

// GameGateway is the remote game service as seen by the rest of the client.
type GameGateway interface {
	CreateGame(ctx context.Context, playerID string, scenario int) (*GameResponse, error)
	FetchStatus(ctx context.Context, gameID string) (*StatusSnapshot, error)
	FetchNextAndDecide(ctx context.Context, gameID string, personIndex int, decision *bool) (*DecisionOutcome, error)
}

// Gateway talks to the game service over HTTP. It never retries: a person
// offer cannot be safely requested twice.
type Gateway struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *zap.Logger
}

// NewGateway returns a gateway for the service at baseURL. A zero timeout
// leaves requests unbounded.
func NewGateway(baseURL string, timeout time.Duration, logger *zap.Logger) (*Gateway, error) {
	u, err := url.ParseRequestURI(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL for game service: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Gateway{
		baseURL: u,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.Named("gateway"),
	}, nil
}

// CreateGame starts a new game for playerID in the given scenario.
func (g *Gateway) CreateGame(ctx context.Context, playerID string, scenario int) (*GameResponse, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return nil, &ValidationError{Field: "player id", Message: "must not be empty"}
	}
	if !validScenario(scenario) {
		return nil, &ValidationError{Field: "scenario", Message: fmt.Sprintf("must be between %d and %d", minScenario, maxScenario)}
	}

	q := url.Values{}
	q.Set("scenario", strconv.Itoa(scenario))
	q.Set("playerId", playerID)

	var resp GameResponse
	if err := g.get(ctx, opCreateGame, q, &resp, "new-game"); err != nil {
		return nil, err
	}

	if resp.GameID == "" {
		return nil, &TransportError{Op: opCreateGame, Err: fmt.Errorf("%w: missing gameId", ErrMalformedResponse)}
	}

	return &resp, nil
}

// FetchStatus reads the server's status snapshot for gameID. It has no side
// effects and is safe to call concurrently.
func (g *Gateway) FetchStatus(ctx context.Context, gameID string) (*StatusSnapshot, error) {
	gameID = strings.TrimSpace(gameID)
	if err := validateGameID(gameID); err != nil {
		return nil, err
	}

	var snap StatusSnapshot
	if err := g.get(ctx, opFetchStatus, nil, &snap, "api", "game", url.PathEscape(gameID)); err != nil {
		return nil, err
	}

	if snap.GameID == "" {
		snap.GameID = gameID
	}

	return &snap, nil
}

// FetchNextAndDecide submits decision for the person at personIndex and
// returns what comes next. A nil decision only fetches the first person.
func (g *Gateway) FetchNextAndDecide(ctx context.Context, gameID string, personIndex int, decision *bool) (*DecisionOutcome, error) {
	if gameID == "" {
		return nil, &ValidationError{Field: "game id", Message: "must not be empty"}
	}
	if personIndex < 0 {
		return nil, &ValidationError{Field: "person index", Message: "must not be negative"}
	}

	q := url.Values{}
	q.Set("gameId", gameID)
	q.Set("personIndex", strconv.Itoa(personIndex))
	if decision != nil {
		q.Set("accept", strconv.FormatBool(*decision))
	}

	var outcome DecisionOutcome
	if err := g.get(ctx, opDecide, q, &outcome, "decide-and-next"); err != nil {
		return nil, err
	}

	if err := outcome.validate(); err != nil {
		return nil, &TransportError{Op: opDecide, Err: err}
	}

	return &outcome, nil
}

// validateGameID rejects ids that cannot be used as a single path segment.
func validateGameID(gameID string) error {
	switch {
	case gameID == "":
		return &ValidationError{Field: "game id", Message: "must not be empty"}
	case gameID == "." || gameID == "..":
		return &ValidationError{Field: "game id", Message: "must not be a relative path"}
	case strings.Contains(gameID, "/"):
		return &ValidationError{Field: "game id", Message: "must not contain a slash"}
	}
	return nil
}

func (g *Gateway) get(ctx context.Context, op string, q url.Values, out any, elem ...string) (err error) {
	u := g.baseURL.JoinPath(elem...)
	u.RawQuery = q.Encode()

	log := g.logger.With(zap.String("op", op), zap.String("url", u.String()))

	startTime := time.Now()
	defer func() {
		gatewayRequestDuration.WithLabelValues(op).Observe(time.Since(startTime).Seconds())
		gatewayRequestsTotal.WithLabelValues(op, resultLabel(err)).Inc()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		log.Warn("Request to game service failed", zap.Error(err))
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Warn("Failed to read game service response", zap.Int("status", resp.StatusCode), zap.Error(err))
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	log.Debug("Game service responded",
		zap.Int("status", resp.StatusCode),
		zap.String("size", humanReadableSize(int64(len(body)))),
		zap.Duration("elapsed", time.Since(startTime).Round(time.Microsecond)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		log.Warn("Undecodable game service response", zap.ByteString("body", truncate(body, maxErrorMessage)), zap.Error(err))
		return &TransportError{Op: op, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}

	return nil
}

// errorMessage pulls a human-readable message out of an error body, which
// may be JSON ({"error": ...} or {"message": ...}) or plain text.
func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		switch {
		case payload.Error != "":
			return payload.Error
		case payload.Message != "":
			return payload.Message
		}
	}

	text := strings.TrimSpace(string(body))
	if strings.HasPrefix(text, "<") || strings.HasPrefix(text, "{") {
		return ""
	}

	return string(truncate([]byte(text), maxErrorMessage))
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

func humanReadableSize(bytes int64) string {
	const unit int64 = 1000
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := unit, 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(bytes)/float64(div),
		"kMGTPE"[exp])
}
