package pipeline

import (
	"fmt"
	"sort"
)

// Registry holds the available stage commands.
type Registry struct {
	commands map[StageName]StageCommand
	order    []StageName // registration order, used as execution tiebreaker
}

// NewRegistry creates an empty stage registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[StageName]StageCommand)}
}

// Register adds a stage command. Registering the same name twice is an error.
func (r *Registry) Register(cmd StageCommand) error {
	name := cmd.Name()
	if _, exists := r.commands[name]; exists {
		return fmt.Errorf("stage %s already registered", name)
	}
	r.commands[name] = cmd
	r.order = append(r.order, name)
	return nil
}

// Get returns the command for a stage name.
func (r *Registry) Get(name StageName) (StageCommand, bool) {
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Names returns all registered stage names in registration order.
func (r *Registry) Names() []StageName {
	out := make([]StageName, len(r.order))
	copy(out, r.order)
	return out
}

// rank maps registration order for deterministic plan tiebreaking.
func (r *Registry) rank() map[StageName]int {
	m := make(map[StageName]int, len(r.order))
	for i, n := range r.order {
		m[n] = i
	}
	return m
}

// sortByRank orders names by registration rank (stable, deterministic).
func (r *Registry) sortByRank(names []StageName) {
	rank := r.rank()
	sort.SliceStable(names, func(i, j int) bool { return rank[names[i]] < rank[names[j]] })
}
