package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Driver: "memory"})
	require.NoError(t, err)
	require.Nil(t, s.SQL)
	require.NoError(t, s.Repository.Ping(ctx))
	s.Close()

	_, err = Open(ctx, Config{Driver: "postgres"})
	require.Error(t, err)

	_, err = Open(ctx, Config{Driver: "mongo"})
	require.Error(t, err)
}
