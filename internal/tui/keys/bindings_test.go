package keys

import (
	"testing"

	"github.com/gdamore/tcell/v2"
)

func runeEvent(r rune) *tcell.EventKey {
	return tcell.NewEventKey(tcell.KeyRune, r, tcell.ModNone)
}

func TestDispatchPrefersPageScope(t *testing.T) {
	reg := NewRegistry()
	var got []string
	reg.Rune(Global, 'q', "Quit", func() { got = append(got, "quit") })
	reg.Rune(Global, 'r', "", func() { got = append(got, "global r") })
	reg.Rune("list", 'r', "Reload", func() { got = append(got, "reload") })

	reg.Dispatch("list", runeEvent('r'))
	reg.Dispatch("thread", runeEvent('r'))
	reg.Dispatch("list", runeEvent('q'))
	if ok := reg.Dispatch("list", runeEvent('z')); ok {
		t.Error("unbound key dispatched")
	}

	want := []string{"reload", "global r", "quit"}
	if len(got) != len(want) {
		t.Fatalf("handlers = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("handler %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHintsOrderAndReplace(t *testing.T) {
	reg := NewRegistry()
	reg.Rune(Global, '?', "Help", func() {})
	reg.Rune("list", 'r', "Reload", func() {})
	reg.Rune("list", 's', "Search", func() {})
	reg.Rune("list", 'r', "Refresh", func() {})
	reg.Add("list", Binding{Key: tcell.KeyEnter, Label: "Enter", Handler: func() {}})

	hints := reg.Hints("list")
	keys := []string{"r", "s", "?"}
	if len(hints) != len(keys) {
		t.Fatalf("hints = %+v", hints)
	}
	for i, k := range keys {
		if hints[i].Key != k {
			t.Errorf("hint %d = %q, want %q", i, hints[i].Key, k)
		}
	}
	if hints[0].Description != "Refresh" {
		t.Errorf("replaced binding description = %q", hints[0].Description)
	}
	if n := len(reg.Hints(Global)); n != 1 {
		t.Errorf("global hints = %d, want 1", n)
	}
}
