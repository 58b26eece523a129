// Package keys maps key presses to app actions per page.
package keys

import (
	"github.com/gdamore/tcell/v2"

	"github.com/hireme/chatsync/internal/tui/ui"
)

// Global is the scope checked after the page scope.
const Global = ""

// Binding is one key bound to a handler. An empty Description keeps the
// binding out of the menu.
type Binding struct {
	Key         tcell.Key
	Rune        rune
	Label       string
	Description string
	Numeric     bool
	Handler     func()
}

// Matches reports whether ev is this binding's key.
func (b Binding) Matches(ev *tcell.EventKey) bool {
	if b.Key != tcell.KeyRune {
		return ev.Key() == b.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == b.Rune
}

// Registry holds bindings per page scope in registration order.
type Registry struct {
	scopes map[string][]Binding
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{scopes: make(map[string][]Binding)}
}

// Rune binds the printable key r in scope.
func (r *Registry) Rune(scope string, key rune, description string, fn func()) {
	r.Add(scope, Binding{Key: tcell.KeyRune, Rune: key, Label: string(key), Description: description, Handler: fn})
}

// Add binds b in scope. A later binding of the same key in the same scope
// replaces the earlier one.
func (r *Registry) Add(scope string, b Binding) {
	list := r.scopes[scope]
	for i, old := range list {
		if old.Key == b.Key && old.Rune == b.Rune {
			list[i] = b
			return
		}
	}
	r.scopes[scope] = append(list, b)
}

// Hints returns the menu entries for scope followed by the global ones.
func (r *Registry) Hints(scope string) []ui.MenuHint {
	var hints []ui.MenuHint
	add := func(list []Binding) {
		for _, b := range list {
			if b.Description != "" {
				hints = append(hints, ui.MenuHint{Key: b.Label, Description: b.Description, Numeric: b.Numeric})
			}
		}
	}
	add(r.scopes[scope])
	if scope != Global {
		add(r.scopes[Global])
	}
	return hints
}

// Dispatch runs the first binding matching ev in scope, then in the global
// scope. It reports whether one ran.
func (r *Registry) Dispatch(scope string, ev *tcell.EventKey) bool {
	for _, s := range []string{scope, Global} {
		for _, b := range r.scopes[s] {
			if b.Matches(ev) {
				b.Handler()
				return true
			}
		}
		if scope == Global {
			break
		}
	}
	return false
}
