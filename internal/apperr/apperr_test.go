package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithCauseCopies(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	e := ErrStorageUnavailable.WithCause(cause)

	require.Nil(t, ErrStorageUnavailable.Err, "predefined value must not be mutated")
	require.ErrorIs(t, e, cause)
	require.ErrorIs(t, e, ErrStorageUnavailable)
	require.Equal(t, "storage unavailable", e.Public())
	require.Contains(t, e.Error(), "connection refused")
}

func TestKindOfThroughWrapping(t *testing.T) {
	err := fmt.Errorf("refresh: %w", ErrInvalidCredential.WithMessage("session revoked"))

	require.Equal(t, KindInvalidCredential, KindOf(err))
	require.True(t, Is(err, KindInvalidCredential))
	require.False(t, Is(err, KindForbidden))
	require.False(t, errors.Is(err, ErrForbidden))
	require.Equal(t, Kind(""), KindOf(errors.New("plain")))
	require.False(t, Is(nil, KindForbidden))
}
