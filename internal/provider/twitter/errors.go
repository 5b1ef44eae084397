package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/JakeFAU/follower-audit/internal/crawler"
)

// Provider error codes.
const (
	codeNoMatches          = 17
	codeCouldNotAuth       = 32
	codePageNotFound       = 34
	codeUserNotFound       = 50
	codeUserSuspended      = 63
	codeRateLimited        = 88
	codeInvalidToken       = 89
	codeCredentialsInvalid = 99
	codeOverCapacity       = 130
	codeInternalError      = 131
	codeBadAuthData        = 215
)

// errNoMatches marks a lookup where none of the IDs resolved.
var errNoMatches = errors.New("no user matches")

type apiErrors struct {
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Error string `json:"error"`
}

// classifyResponse maps a non-2xx response onto the crawler error taxonomy.
func classifyResponse(endpoint string, status int, body []byte) error {
	var parsed apiErrors
	_ = json.Unmarshal(body, &parsed)

	pe := &crawler.ProviderError{Endpoint: endpoint, HTTPStatus: status, Message: parsed.Error}
	if len(parsed.Errors) > 0 {
		pe.Code = parsed.Errors[0].Code
		pe.Message = parsed.Errors[0].Message
	}
	if pe.Message == "" {
		pe.Message = strings.TrimSpace(http.StatusText(status))
	}

	for _, e := range parsed.Errors {
		switch e.Code {
		case codeNoMatches:
			if endpoint == crawler.EndpointLookupProfiles {
				return errNoMatches
			}
		case codeRateLimited:
			pe.Code, pe.Kind = e.Code, crawler.ErrRateLimited
		case codeCouldNotAuth, codeInvalidToken, codeCredentialsInvalid, codeBadAuthData:
			pe.Code, pe.Kind = e.Code, crawler.ErrInvalidCredential
		case codePageNotFound, codeUserNotFound, codeUserSuspended:
			pe.Code, pe.Kind = e.Code, crawler.ErrTargetUnavailable
		case codeOverCapacity, codeInternalError:
			pe.Code, pe.Kind = e.Code, crawler.ErrTransient
		}
		if pe.Kind != nil {
			return pe
		}
	}

	switch {
	case status == http.StatusTooManyRequests:
		pe.Kind = crawler.ErrRateLimited
	case status == http.StatusNotFound && endpoint == crawler.EndpointFollowerIDs:
		pe.Kind = crawler.ErrTargetUnavailable
	case status == http.StatusUnauthorized && endpoint == crawler.EndpointFollowerIDs:
		// Protected accounts answer 401 without an auth error code.
		pe.Kind = crawler.ErrTargetUnavailable
	case status == http.StatusUnauthorized:
		pe.Kind = crawler.ErrInvalidCredential
	case status >= http.StatusInternalServerError:
		pe.Kind = crawler.ErrTransient
	default:
		pe.Kind = crawler.ErrUnknownProvider
	}
	return pe
}

// classifyTransportError treats network failures as transient and passes
// context cancellation through untouched.
func classifyTransportError(ctx context.Context, endpoint string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", endpoint, ctxErr)
	}
	return &crawler.ProviderError{
		Endpoint: endpoint,
		Message:  err.Error(),
		Kind:     crawler.ErrTransient,
	}
}
