package gmail

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"agency-crm-backend/internal/mailsync/domain"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// classify maps a Gmail/OAuth failure onto the pipeline's error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var perr *domain.ProviderError
	if errors.As(err, &perr) {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewProviderError(domain.ErrTransient, op, err)
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.NewProviderError(domain.ErrTransient, op, err)
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" || retrieveErr.Response == nil ||
			retrieveErr.Response.StatusCode == http.StatusBadRequest || retrieveErr.Response.StatusCode == http.StatusUnauthorized {
			return domain.NewProviderError(domain.ErrAuthExpired, op, err)
		}
		return domain.NewProviderError(domain.ErrTransient, op, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return domain.NewProviderError(domain.ErrAuthExpired, op, err)
		case apiErr.Code == http.StatusNotFound:
			return domain.NewProviderError(domain.ErrNotFound, op, err)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return domain.NewProviderError(domain.ErrTransient, op, err)
		case apiErr.Code == http.StatusForbidden:
			if isRateLimit(apiErr) {
				return domain.NewProviderError(domain.ErrTransient, op, err)
			}
			if isScopeDenied(apiErr) {
				return domain.NewProviderError(domain.ErrAuthExpired, op, err)
			}
			// e.g. the topic does not grant Gmail publish rights; the token is fine.
			return domain.NewProviderError(domain.ErrRejected, op, err)
		default:
			return domain.NewProviderError(domain.ErrRejected, op, err)
		}
	}

	// Anything else is a network level failure.
	return domain.NewProviderError(domain.ErrTransient, op, err)
}

func isRateLimit(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		if strings.Contains(strings.ToLower(item.Reason), "ratelimit") {
			return true
		}
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "rate limit")
}

// isScopeDenied reports a 403 caused by the access token itself.
func isScopeDenied(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "insufficientPermissions", "authError":
			return true
		}
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "insufficient authentication scopes") || strings.Contains(msg, "insufficient permission")
}

func isClientError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests
	}
	return false
}

func isNotFound(err error) bool {
	if errors.Is(err, domain.ErrNotFound) {
		return true
	}
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
