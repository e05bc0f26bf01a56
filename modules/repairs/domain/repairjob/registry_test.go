package repairjob_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/repairhq/workshop/modules/repairs/domain/repairjob"
)

func TestNewRegistry_DefaultTable(t *testing.T) {
	registry, err := repairjob.NewRegistry(repairjob.DefaultStateConfigs())
	require.NoError(t, err)

	require.Len(t, registry.AllStates(), 12)
	require.True(t, registry.Terminal(repairjob.StateDelivered))
	require.True(t, registry.Terminal(repairjob.StateCancelled))
	require.Len(t, registry.NonTerminalStates(), 10)

	// CANCELLED is reachable from every non-terminal state.
	for _, s := range registry.NonTerminalStates() {
		require.True(t, registry.CanTransition(s, repairjob.StateCancelled), "CANCELLED unreachable from %s", s)
	}

	require.True(t, registry.CanTransition(repairjob.StateCreated, repairjob.StateInDiagnosis))
	require.True(t, registry.CanTransition(repairjob.StateInProgress, repairjob.StateTesting))
	require.False(t, registry.CanTransition(repairjob.StateInDiagnosis, repairjob.StateDelivered))
	require.False(t, registry.CanTransition(repairjob.StateDelivered, repairjob.StateCreated))

	created, ok := registry.Config(repairjob.StateCreated)
	require.True(t, ok)
	require.True(t, created.Automated)
	require.Equal(t, repairjob.StateInDiagnosis, created.FollowUp)

	awaiting, ok := registry.Config(repairjob.StateAwaitingApproval)
	require.True(t, ok)
	require.Equal(t, repairjob.StateCancelled, awaiting.OverdueAdvance)
	require.Equal(t, []string{"diagnosis", "estimated_cost"}, awaiting.RequiredFields)
}

func TestNewRegistry_RejectsMisconfiguration(t *testing.T) {
	terminal := func(s repairjob.State) repairjob.StateConfig {
		return repairjob.StateConfig{State: s, RequiredRole: repairjob.RoleAdmin, Terminal: true}
	}

	cases := []struct {
		name    string
		configs []repairjob.StateConfig
	}{
		{
			name: "non-terminal state without outgoing transitions",
			configs: []repairjob.StateConfig{
				{State: repairjob.StateCreated, RequiredRole: repairjob.RoleSystem, MaxDwell: time.Minute},
			},
		},
		{
			name: "transition target not registered",
			configs: []repairjob.StateConfig{
				{State: repairjob.StateCreated, Allowed: []repairjob.State{repairjob.StateInDiagnosis}, RequiredRole: repairjob.RoleSystem},
			},
		},
		{
			name: "terminal state with outgoing transitions",
			configs: []repairjob.StateConfig{
				{State: repairjob.StateCreated, Allowed: []repairjob.State{repairjob.StateCancelled}, RequiredRole: repairjob.RoleSystem},
				{State: repairjob.StateCancelled, Allowed: []repairjob.State{repairjob.StateCreated}, RequiredRole: repairjob.RoleAdmin, Terminal: true},
			},
		},
		{
			name: "automated state without follow-up",
			configs: []repairjob.StateConfig{
				{State: repairjob.StateCreated, Allowed: []repairjob.State{repairjob.StateCancelled}, RequiredRole: repairjob.RoleSystem, Automated: true},
				terminal(repairjob.StateCancelled),
			},
		},
		{
			name: "follow-up outside the allowed set",
			configs: []repairjob.StateConfig{
				{
					State:        repairjob.StateCreated,
					Allowed:      []repairjob.State{repairjob.StateCancelled},
					RequiredRole: repairjob.RoleSystem,
					Automated:    true,
					FollowUp:     repairjob.StateDelivered,
				},
				terminal(repairjob.StateCancelled),
				terminal(repairjob.StateDelivered),
			},
		},
		{
			name: "overdue target outside the allowed set",
			configs: []repairjob.StateConfig{
				{
					State:          repairjob.StateCreated,
					Allowed:        []repairjob.State{repairjob.StateCancelled},
					RequiredRole:   repairjob.RoleSystem,
					OverdueAdvance: repairjob.StateDelivered,
				},
				terminal(repairjob.StateCancelled),
				terminal(repairjob.StateDelivered),
			},
		},
		{
			name: "duplicate state registration",
			configs: []repairjob.StateConfig{
				{State: repairjob.StateCreated, Allowed: []repairjob.State{repairjob.StateCancelled}, RequiredRole: repairjob.RoleSystem},
				{State: repairjob.StateCreated, Allowed: []repairjob.State{repairjob.StateCancelled}, RequiredRole: repairjob.RoleSystem},
				terminal(repairjob.StateCancelled),
			},
		},
		{
			name:    "initial state missing",
			configs: []repairjob.StateConfig{terminal(repairjob.StateCancelled)},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := repairjob.NewRegistry(tc.configs)
			require.Error(t, err)

			var confErr *repairjob.RegistryConfigurationError
			require.ErrorAs(t, err, &confErr)
		})
	}
}
