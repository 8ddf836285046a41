package privdrop

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDropWithNoUserOrGroupOnlySetsUmaskAndSession(t *testing.T) {
	err := Drop(Config{Umask: 0022})
	require.NoError(t, err)
}

func TestDropUnknownUserErrors(t *testing.T) {
	err := Drop(Config{User: "brimd-test-user-does-not-exist"})
	require.Error(t, err)
}

func TestDropUnknownGroupErrors(t *testing.T) {
	err := Drop(Config{Group: "brimd-test-group-does-not-exist"})
	require.Error(t, err)
}
