package agent

import (
	"fmt"
	"sort"

	"github.com/ShayCichocki/missionctl/internal/contract"
)

// Registry holds the agents for one run, keyed by kind.
type Registry struct {
	agents map[Kind]Agent
}

// NewRegistry checks every agent's static capabilities against the run's
// contracts and environment and returns the registry. A producer without
// write rights, an LLM agent without a provider, or a sandbox agent without
// a sandbox is rejected here rather than mid-mission.
func NewRegistry(v *contract.Validator, env Env, agents ...Agent) (*Registry, error) {
	r := &Registry{agents: make(map[Kind]Agent, len(agents))}
	for _, a := range agents {
		kind := a.Kind()
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
		}
		if _, dup := r.agents[kind]; dup {
			return nil, fmt.Errorf("agent %q registered twice", kind)
		}

		caps := kind.Capabilities()
		for _, artifact := range caps.Produces {
			if v.OwnershipLevel(string(kind), artifact) == contract.LevelReadOnly {
				return nil, fmt.Errorf("%w: %s produces %s but its contract is read-only", ErrMissingCapability, kind, artifact)
			}
		}
		if caps.Repairs {
			for _, artifact := range caps.Produces {
				if !v.HasOwnership(string(kind), artifact) {
					return nil, fmt.Errorf("%w: %s repairs %s without owner rights", ErrMissingCapability, kind, artifact)
				}
			}
		}
		if caps.NeedsLLM && env.LLM == nil {
			return nil, fmt.Errorf("%w: %s needs an llm provider", ErrMissingCapability, kind)
		}
		if caps.NeedsSandbox && env.Sandbox == nil {
			return nil, fmt.Errorf("%w: %s needs a sandbox", ErrMissingCapability, kind)
		}
		if caps.Serves && env.Bus == nil {
			return nil, fmt.Errorf("%w: %s serves requests but there is no bus", ErrMissingCapability, kind)
		}

		r.agents[kind] = a
	}
	return r, nil
}

// Get returns the agent of the given kind.
func (r *Registry) Get(kind Kind) (Agent, error) {
	a, ok := r.agents[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, kind)
	}
	return a, nil
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.agents))
	for k := range r.agents {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Options configures the standard agent set.
type Options struct {
	// Checks maps a code area ("frontend", "backend") to the commands QA runs.
	Checks map[string][]CheckCommand
	// DeployCommand runs in the sandbox after files are materialized. Empty
	// skips the command.
	DeployCommand string
}

// Standard returns one agent of every kind.
func Standard(opts Options) []Agent {
	return []Agent{
		&Intake{},
		&Analyst{},
		&Planner{},
		&Architect{},
		NewGenerator(KindFrontend),
		NewGenerator(KindBackend),
		NewQA(opts.Checks),
		&Reviewer{},
		&Security{},
		&Repairer{},
		NewDeployer(opts.DeployCommand),
	}
}
