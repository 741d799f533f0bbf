package mon

import (
	"fmt"
	"sort"
	"strings"
)

type cmdFunc func(mo *Monitor, args []string) error

type command struct {
	Name    string
	Aliases []string
	Usage   string
	Desc    string
	Run     cmdFunc
}

type registry struct {
	primary map[string]command
	lookup  map[string]string
}

func newRegistry() *registry {
	return &registry{
		primary: make(map[string]command),
		lookup:  make(map[string]string),
	}
}

func (r *registry) register(cmd command) {
	if cmd.Name == "" || cmd.Run == nil {
		panic(fmt.Sprintf("mon registry: bad command %+v", cmd))
	}
	if _, ok := r.lookup[cmd.Name]; ok {
		panic("mon registry: duplicate command " + cmd.Name)
	}
	r.primary[cmd.Name] = cmd
	r.lookup[cmd.Name] = cmd.Name
	for _, alias := range cmd.Aliases {
		if _, ok := r.lookup[alias]; ok {
			panic("mon registry: duplicate alias " + alias)
		}
		r.lookup[alias] = cmd.Name
	}
}

func (r *registry) resolve(name string) (command, bool) {
	name = strings.TrimSpace(name)
	if primary, ok := r.lookup[name]; ok {
		cmd, ok := r.primary[primary]
		return cmd, ok
	}
	return command{}, false
}

func (r *registry) names() []string {
	out := make([]string, 0, len(r.primary))
	for name := range r.primary {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
