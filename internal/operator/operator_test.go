package operator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivengate/skinwatch/internal/shard"
)

func TestHandleDeployAcknowledgesWithDefaultScope(t *testing.T) {
	h := &Handler{}
	res, err := h.Handle(context.Background(), Command{Name: CmdDeploy})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "scope=guild")
}

func TestHandleDeployUsesProvidedScope(t *testing.T) {
	h := &Handler{}
	res, err := h.Handle(context.Background(), Command{Name: CmdDeploy, Args: []string{"region"}})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "scope=region")
}

func TestHandleConfigSetRequiresKeyAndValue(t *testing.T) {
	h := &Handler{}
	_, err := h.Handle(context.Background(), Command{Name: CmdConfigSet, Args: []string{"onlyKey"}})
	assert.Error(t, err)
}

func TestHandleConfigSetAcknowledgesWithoutPersisting(t *testing.T) {
	h := &Handler{}
	res, err := h.Handle(context.Background(), Command{Name: CmdConfigSet, Args: []string{"maxAccountsPerUser", "10"}})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "maxAccountsPerUser")
	assert.Contains(t, res.Text, "not persisted")
}

func TestHandleMessageAndStatusEchoArgs(t *testing.T) {
	h := &Handler{}
	res, err := h.Handle(context.Background(), Command{Name: CmdMessage, Args: []string{"back soon"}})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "back soon")

	res, err = h.Handle(context.Background(), Command{Name: CmdStatus, Args: []string{"healthy"}})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "healthy")
}

func TestHandleDebugAlertsReportsShardIdentity(t *testing.T) {
	h := &Handler{Shard: &shard.Shard{ID: 2, Total: 8}}
	res, err := h.Handle(context.Background(), Command{Name: CmdDebugAlerts})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "shard=2/8")
}

func TestHandleUpdateAcknowledges(t *testing.T) {
	h := &Handler{}
	res, err := h.Handle(context.Background(), Command{Name: CmdUpdate})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "acknowledged")
}

func TestHandleStopInvokesShutdown(t *testing.T) {
	done := make(chan struct{})
	h := &Handler{Shutdown: func() { close(done) }}

	res, err := h.Handle(context.Background(), Command{Name: CmdStop})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "shutdown")

	<-done
}

func TestHandleUnknownCommandReturnsError(t *testing.T) {
	h := &Handler{}
	_, err := h.Handle(context.Background(), Command{Name: CommandName("bogus")})
	assert.Error(t, err)
}
