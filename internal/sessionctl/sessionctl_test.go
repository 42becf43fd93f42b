package sessionctl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privmix/relay/internal/session"
)

func startController(t *testing.T) *Controller {
	t.Helper()
	c := NewController()
	go c.Run()
	t.Cleanup(c.Stop)
	return c
}

func TestOpenSessionRegistersAndListReportsIt(t *testing.T) {
	c := startController(t)
	ctx := context.Background()
	id := session.SessionID{Tag: 1}

	s, err := c.OpenSession(ctx, id, session.AckFull, 1200, time.Second, 16, 0)
	require.NoError(t, err)
	require.NotNil(t, s)

	list, err := c.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, session.StateActive, list[0].State)
}

func TestCloseSessionDeregistersIt(t *testing.T) {
	c := startController(t)
	ctx := context.Background()
	id := session.SessionID{Tag: 2}

	_, err := c.OpenSession(ctx, id, session.AckFull, 1200, time.Second, 16, 0)
	require.NoError(t, err)

	require.NoError(t, c.CloseSession(ctx, id))

	list, err := c.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 0)
}

func TestCloseUnknownSessionErrors(t *testing.T) {
	c := startController(t)
	ctx := context.Background()
	err := c.CloseSession(ctx, session.SessionID{Tag: 99})
	require.Error(t, err)
}

func TestListSessionsEmptyInitially(t *testing.T) {
	c := startController(t)
	list, err := c.ListSessions(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 0)
}

func TestOpenSessionContextCancellationBeforeDispatch(t *testing.T) {
	// No Run loop started: the command channel has no reader, so a
	// cancelled context must still return rather than block forever.
	c := NewController()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.OpenSession(ctx, session.SessionID{Tag: 3}, session.AckFull, 1200, time.Second, 16, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
