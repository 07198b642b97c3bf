// Package apperr defines the typed error taxonomy shared across skinwatch's
// components. Callers branch on these with errors.As rather than string
// matching.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// RateLimited is returned when the caller must wait until RetryAt before
// reattempting the operation.
type RateLimited struct {
	RetryAt time.Time
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("rate limited until %s", e.RetryAt.Format(time.RFC3339))
}

// Maintenance indicates the upstream provider reported a maintenance window.
type Maintenance struct{}

func (e *Maintenance) Error() string { return "upstream is in maintenance" }

// Transport wraps a lower-level network/transport failure.
type Transport struct {
	Cause error
}

func (e *Transport) Error() string { return fmt.Sprintf("transport error: %v", e.Cause) }
func (e *Transport) Unwrap() error { return e.Cause }

// InvalidCredentials indicates every refresh path for an account's auth has
// failed and the caller should clear it.
type InvalidCredentials struct {
	Reason string
}

func (e *InvalidCredentials) Error() string {
	if e.Reason == "" {
		return "invalid credentials"
	}
	return "invalid credentials: " + e.Reason
}

// Blocked indicates the upstream edge firewall rejected the request. It is
// not retryable.
type Blocked struct{}

func (e *Blocked) Error() string { return "blocked by upstream edge" }

// NotRegistered indicates the caller has no linked account.
type NotRegistered struct{}

func (e *NotRegistered) Error() string { return "user is not registered" }

// NotFound indicates a referenced entity (account, alert, channel) does not
// exist.
type NotFound struct {
	Kind string
	ID   string
}

func (e *NotFound) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }

// DuplicateAlert indicates an alert already exists for the (account, item)
// pair.
type DuplicateAlert struct {
	ItemID string
}

func (e *DuplicateAlert) Error() string {
	return fmt.Sprintf("alert for item %q already exists", e.ItemID)
}

// ChannelInaccessible indicates the target channel could not be reached by
// any shard.
type ChannelInaccessible struct {
	ChannelID string
	Reason    string
}

func (e *ChannelInaccessible) Error() string {
	return fmt.Sprintf("channel %q inaccessible: %s", e.ChannelID, e.Reason)
}

// TooManyAccounts indicates the user has already reached maxAccountsPerUser.
type TooManyAccounts struct {
	Cap int
}

func (e *TooManyAccounts) Error() string { return fmt.Sprintf("account cap of %d reached", e.Cap) }

// AccountNumberTooHigh indicates a 1-based account index outside the user's
// current range was requested.
type AccountNumberTooHigh struct {
	Cap int
}

func (e *AccountNumberTooHigh) Error() string {
	return fmt.Sprintf("account index exceeds %d accounts", e.Cap)
}

// SharedStoreUnavailable indicates the coordination bus's backing store
// (Redis) could not be reached; callers degrade to per-shard behavior.
type SharedStoreUnavailable struct {
	Cause error
}

func (e *SharedStoreUnavailable) Error() string {
	return fmt.Sprintf("shared store unavailable: %v", e.Cause)
}
func (e *SharedStoreUnavailable) Unwrap() error { return e.Cause }

// IsTransient reports whether err represents a condition the caller should
// retry after some delay, as opposed to a permanent or domain failure.
func IsTransient(err error) bool {
	var rl *RateLimited
	var maint *Maintenance
	var tr *Transport
	return errors.As(err, &rl) || errors.As(err, &maint) || errors.As(err, &tr)
}
