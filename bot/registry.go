package bot

import "strings"

type prefixEntry struct {
	prefix string
	cmd    *Command
}

// Registry maps invocation keys to commands: exact match for named commands,
// first-registered prefix match for component custom ids.
type Registry struct {
	exact    map[string]*Command
	prefixes []prefixEntry
}

func NewRegistry() *Registry {
	return &Registry{exact: make(map[string]*Command)}
}

// Register adds a command under its descriptor key.
func (r *Registry) Register(cmd *Command) {
	r.exact[cmd.Key] = cmd
}

// RegisterPrefix adds a component handler matched by custom-id prefix.
// Matching follows registration order, not longest prefix.
func (r *Registry) RegisterPrefix(prefix string, cmd *Command) {
	r.prefixes = append(r.prefixes, prefixEntry{prefix: prefix, cmd: cmd})
}

// Resolve finds a named command.
func (r *Registry) Resolve(key string) (*Command, bool) {
	cmd, ok := r.exact[key]
	return cmd, ok
}

// ResolvePrefix finds the first registered handler whose prefix matches the
// custom id.
func (r *Registry) ResolvePrefix(customID string) (*Command, bool) {
	for _, e := range r.prefixes {
		if strings.HasPrefix(customID, e.prefix) {
			return e.cmd, true
		}
	}
	return nil, false
}

// Commands returns all exact-match commands, for platform registration.
func (r *Registry) Commands() []*Command {
	out := make([]*Command, 0, len(r.exact))
	for _, cmd := range r.exact {
		out = append(out, cmd)
	}
	return out
}
