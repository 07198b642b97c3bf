package apperr

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsTransientForRetryableKinds(t *testing.T) {
	assert.True(t, IsTransient(&RateLimited{RetryAt: time.Now()}))
	assert.True(t, IsTransient(&Maintenance{}))
	assert.True(t, IsTransient(&Transport{Cause: errors.New("dial tcp: timeout")}))
}

func TestIsTransientForPermanentKinds(t *testing.T) {
	assert.False(t, IsTransient(&InvalidCredentials{}))
	assert.False(t, IsTransient(&Blocked{}))
	assert.False(t, IsTransient(&NotFound{Kind: "account", ID: "p1"}))
	assert.False(t, IsTransient(nil))
}

func TestIsTransientSeesThroughWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("while fetching shop: %w", &RateLimited{RetryAt: time.Now()})
	assert.True(t, IsTransient(wrapped))
}

func TestTransportUnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := &Transport{Cause: cause}
	assert.ErrorIs(t, err, cause)
}

func TestInvalidCredentialsErrorMessageIncludesReason(t *testing.T) {
	assert.Equal(t, "invalid credentials", (&InvalidCredentials{}).Error())
	assert.Equal(t, "invalid credentials: token revoked", (&InvalidCredentials{Reason: "token revoked"}).Error())
}
