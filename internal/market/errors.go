package market

import "errors"

var (
	// ErrInvalidParam marks malformed client input.
	ErrInvalidParam = errors.New("invalid parameter")
	// ErrNotFound means no adapter had data for the requested symbol or pair.
	ErrNotFound = errors.New("no data for this symbol")
	// ErrUpstreamUnavailable means every adapter in a chain failed.
	ErrUpstreamUnavailable = errors.New("upstream providers unavailable")
	// ErrRateLimited is returned when a client exhausted its window.
	ErrRateLimited = errors.New("rate limit exceeded")
)
