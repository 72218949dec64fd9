package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClientResolveAndRenew(t *testing.T) {
	client := NewFakeClient()
	_, err := client.Resolve(context.Background(), "/users")
	assert.ErrorIs(t, err, ErrNotFound)

	client.Put("/users", DataStatus{
		Type:        "hashtable",
		ChainLength: 3,
		Blocks:      []string{"b0", "b1", "b2"},
	})

	status, err := client.Resolve(context.Background(), "/users")
	require.NoError(t, err)
	assert.Equal(t, "hashtable", status.Type)
	assert.Equal(t, []string{"b0", "b1", "b2"}, status.Blocks)

	require.NoError(t, client.Renew(context.Background(), "/users"))
	require.NoError(t, client.Renew(context.Background(), "/users"))
	assert.Equal(t, 2, client.RenewCount("/users"))

	assert.ErrorIs(t, client.Renew(context.Background(), "/missing"), ErrNotFound)
}

func TestFakeClientRemove(t *testing.T) {
	client := NewFakeClient()
	client.Put("/users", DataStatus{Type: "hashtable"})

	require.NoError(t, client.Remove(context.Background(), "/users"))
	_, err := client.Resolve(context.Background(), "/users")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, client.Remove(context.Background(), "/users"), ErrNotFound)
}

func TestFakeClientClose(t *testing.T) {
	client := NewFakeClient()
	client.Put("/users", DataStatus{Type: "hashtable"})
	require.NoError(t, client.Renew(context.Background(), "/users"))
	require.NoError(t, client.Close(context.Background(), "/users"))
	assert.Zero(t, client.RenewCount("/users"))

	// Close does not remove the underlying status, only the lease.
	_, err := client.Resolve(context.Background(), "/users")
	assert.NoError(t, err)
}
