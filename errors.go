/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrGameNotFound        = errors.New("game not found")
	ErrMalformedResponse   = errors.New("malformed response from game service")
	ErrDecisionInFlight    = errors.New("a decision is already being submitted")
	ErrDecisionUnconfirmed = errors.New("previous decision was not confirmed, retry it first")
	ErrSessionTerminal     = errors.New("game is over")
	ErrSessionClosed       = errors.New("session was closed")
	ErrNoOffer             = errors.New("no person is awaiting a decision")
	ErrStaleOffer          = errors.New("decision does not match the person on screen")
	ErrNothingToRetry      = errors.New("nothing to retry")
	ErrSessionActive       = errors.New("a game is already in progress")
	ErrNoSession           = errors.New("no game in progress")
	ErrSetupBusy           = errors.New("a game is already being started")
)

// isRefusal reports whether err is a local refusal of user input, as opposed
// to a failed call that is already shown with the game.
func isRefusal(err error) bool {
	for _, target := range []error{
		ErrDecisionInFlight,
		ErrDecisionUnconfirmed,
		ErrSessionTerminal,
		ErrNoOffer,
		ErrStaleOffer,
		ErrNothingToRetry,
		ErrSessionActive,
		ErrNoSession,
		ErrSetupBusy,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// TransportError is any failed exchange with the game service: network errors,
// non-success statuses and undecodable bodies. It is never retried automatically.
type TransportError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	var b strings.Builder

	b.WriteString(e.Op)
	b.WriteString(": ")

	switch {
	case e.StatusCode != 0 && e.Message != "":
		fmt.Fprintf(&b, "%d %s", e.StatusCode, e.Message)
	case e.StatusCode != 0:
		fmt.Fprintf(&b, "%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	case e.Message != "":
		b.WriteString(e.Message)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString("request failed")
	}

	return b.String()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports a 404 as ErrGameNotFound.
func (e *TransportError) Is(target error) bool {
	return target == ErrGameNotFound && e.StatusCode == http.StatusNotFound
}

// ValidationError rejects a request before anything is sent over the network.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}
