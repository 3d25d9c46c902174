package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMachineTransitions(t *testing.T) {
	m := NewMachine(map[string][]string{
		"picking": {"transit"},
		"transit": {"received"},
	})

	require.True(t, m.Can("picking", "transit"))
	require.True(t, m.Can("transit", "received"))
	require.False(t, m.Can("transit", "picking"))
	require.False(t, m.Can("received", "transit"))
	require.False(t, m.Can("picking", "received"))

	require.NoError(t, m.Guard("picking", "transit"))
	require.ErrorIs(t, m.Guard("received", "picking"), ErrTransitionNotAllowed)

	require.Equal(t, []string{"transit"}, m.Next("picking"))
	require.Empty(t, m.Next("received"))
	require.True(t, m.Terminal("received"))
	require.False(t, m.Terminal("picking"))
}
