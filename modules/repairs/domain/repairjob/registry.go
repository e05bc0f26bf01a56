package repairjob

import (
	"fmt"
	"time"
)

// StateConfig is the static description of a single state. The registry
// is loaded once at startup and read-only thereafter.
type StateConfig struct {
	State          State
	Allowed        []State
	RequiredRole   ActorRole
	RequiredFields []string
	MaxDwell       time.Duration
	Terminal       bool
	Automated      bool
	FollowUp       State
	OverdueAdvance State
	Hooks          []string
}

// Registry holds the validated state table.
type Registry struct {
	configs map[State]StateConfig
	order   []State
}

// NewRegistry validates the state table. Any inconsistency yields a
// RegistryConfigurationError, which callers must treat as fatal.
func NewRegistry(configs []StateConfig) (*Registry, error) {
	r := &Registry{configs: make(map[State]StateConfig, len(configs))}
	for _, cfg := range configs {
		if _, dup := r.configs[cfg.State]; dup {
			return nil, &RegistryConfigurationError{State: cfg.State, Reason: "state registered twice"}
		}
		r.configs[cfg.State] = cfg
		r.order = append(r.order, cfg.State)
	}

	if _, ok := r.configs[StateCreated]; !ok {
		return nil, &RegistryConfigurationError{State: StateCreated, Reason: "initial state is not registered"}
	}

	for _, cfg := range configs {
		if err := r.validateConfig(cfg); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) validateConfig(cfg StateConfig) error {
	fail := func(reason string, args ...interface{}) error {
		return &RegistryConfigurationError{State: cfg.State, Reason: fmt.Sprintf(reason, args...)}
	}

	if cfg.Terminal {
		if len(cfg.Allowed) > 0 {
			return fail("terminal state lists outgoing transitions")
		}
		if cfg.Automated || cfg.FollowUp != "" || cfg.OverdueAdvance != "" || cfg.MaxDwell != 0 {
			return fail("terminal state carries dwell or follow-up configuration")
		}
		return nil
	}

	if len(cfg.Allowed) == 0 {
		return fail("non-terminal state has no outgoing transitions")
	}
	for _, target := range cfg.Allowed {
		if _, ok := r.configs[target]; !ok {
			return fail("transition target %s is not registered", target)
		}
	}

	if cfg.Automated {
		if cfg.FollowUp == "" {
			return fail("automated state has no default follow-up")
		}
		if !containsState(cfg.Allowed, cfg.FollowUp) {
			return fail("follow-up target %s is not in the allowed set", cfg.FollowUp)
		}
	} else if cfg.FollowUp != "" {
		return fail("follow-up target set on a non-automated state")
	}

	if cfg.OverdueAdvance != "" && !containsState(cfg.Allowed, cfg.OverdueAdvance) {
		return fail("overdue target %s is not in the allowed set", cfg.OverdueAdvance)
	}
	return nil
}

// Config returns the configuration for a state.
func (r *Registry) Config(s State) (StateConfig, bool) {
	cfg, ok := r.configs[s]
	return cfg, ok
}

// AllStates returns every registered state in registration order.
func (r *Registry) AllStates() []State {
	out := make([]State, len(r.order))
	copy(out, r.order)
	return out
}

// Terminal reports whether s allows no further transitions.
func (r *Registry) Terminal(s State) bool {
	cfg, ok := r.configs[s]
	return ok && cfg.Terminal
}

// NonTerminalStates returns the states the escalation sweep scans.
func (r *Registry) NonTerminalStates() []State {
	out := make([]State, 0, len(r.order))
	for _, s := range r.order {
		if !r.configs[s].Terminal {
			out = append(out, s)
		}
	}
	return out
}

// CanTransition reports whether to is in from's allowed set.
func (r *Registry) CanTransition(from, to State) bool {
	cfg, ok := r.configs[from]
	if !ok {
		return false
	}
	return containsState(cfg.Allowed, to)
}

func containsState(states []State, s State) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}

// DefaultStateConfigs is the fixed twelve-state table the workshop runs
// on. CANCELLED is reachable from every non-terminal state; only ADMIN
// may request it directly.
func DefaultStateConfigs() []StateConfig {
	return []StateConfig{
		{
			State:        StateCreated,
			Allowed:      []State{StateInDiagnosis, StateCancelled},
			RequiredRole: RoleSystem,
			MaxDwell:     15 * time.Minute,
			Automated:    true,
			FollowUp:     StateInDiagnosis,
			Hooks:        []string{"customer.intake_confirmation"},
		},
		{
			State:          StateInDiagnosis,
			Allowed:        []State{StateAwaitingApproval, StateCancelled},
			RequiredRole:   RoleSystem,
			RequiredFields: []string{"technician_id"},
			MaxDwell:       24 * time.Hour,
			Hooks:          []string{"customer.diagnosis_started"},
		},
		{
			State:          StateAwaitingApproval,
			Allowed:        []State{StateApproved, StateCancelled},
			RequiredRole:   RoleTechnician,
			RequiredFields: []string{"diagnosis", "estimated_cost"},
			MaxDwell:       72 * time.Hour,
			OverdueAdvance: StateCancelled,
			Hooks:          []string{"customer.approval_request"},
		},
		{
			State:          StateApproved,
			Allowed:        []State{StateInProgress, StateCancelled},
			RequiredRole:   RoleCustomer,
			RequiredFields: []string{"approved_cost"},
			MaxDwell:       24 * time.Hour,
			Hooks:          []string{"workshop.work_authorized"},
		},
		{
			State:        StateInProgress,
			Allowed:      []State{StatePartsOrdered, StateTesting, StateCancelled},
			RequiredRole: RoleTechnician,
			MaxDwell:     72 * time.Hour,
			Hooks:        []string{"customer.repair_started"},
		},
		{
			State:          StatePartsOrdered,
			Allowed:        []State{StateInProgress, StateCancelled},
			RequiredRole:   RoleTechnician,
			RequiredFields: []string{"parts"},
			MaxDwell:       168 * time.Hour,
			Hooks:          []string{"customer.parts_delay"},
		},
		{
			State:        StateTesting,
			Allowed:      []State{StateQualityCheck, StateInProgress, StateCancelled},
			RequiredRole: RoleTechnician,
			MaxDwell:     24 * time.Hour,
		},
		{
			State:          StateQualityCheck,
			Allowed:        []State{StateCompleted, StateInProgress, StateCancelled},
			RequiredRole:   RoleTechnician,
			RequiredFields: []string{"quality_score"},
			MaxDwell:       24 * time.Hour,
		},
		{
			State:          StateCompleted,
			Allowed:        []State{StateCustomerApproved, StateCancelled},
			RequiredRole:   RoleSupervisor,
			RequiredFields: []string{"final_cost"},
			MaxDwell:       72 * time.Hour,
			Hooks:          []string{"customer.ready_notice", "billing.invoice_draft"},
		},
		{
			State:        StateCustomerApproved,
			Allowed:      []State{StateDelivered, StateCancelled},
			RequiredRole: RoleCustomer,
			MaxDwell:     48 * time.Hour,
			Hooks:        []string{"billing.payment_capture"},
		},
		{
			State:        StateDelivered,
			RequiredRole: RoleTechnician,
			Terminal:     true,
			Hooks:        []string{"customer.delivery_receipt"},
		},
		{
			State:          StateCancelled,
			RequiredRole:   RoleAdmin,
			RequiredFields: []string{"cancel_reason"},
			Terminal:       true,
			Hooks:          []string{"customer.cancellation_notice"},
		},
	}
}
