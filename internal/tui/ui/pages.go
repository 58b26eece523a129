package ui

import "github.com/rivo/tview"

// Pages is a navigation stack of named pages. A page appears on the stack
// at most once: pushing a page already on it unwinds back to that page.
type Pages struct {
	*tview.Pages
	pages    map[string]Page
	stack    []string
	onChange func(top Page, trail []string)
}

// NewPages creates an empty stack.
func NewPages() *Pages {
	return &Pages{
		Pages: tview.NewPages(),
		pages: make(map[string]Page),
	}
}

// Add registers page under name, hidden.
func (p *Pages) Add(name string, page Page) {
	p.pages[name] = page
	p.AddPage(name, page, true, false)
}

// SetOnChange sets a callback run after every stack change with the top
// page and the breadcrumb titles, bottom first.
func (p *Pages) SetOnChange(fn func(top Page, trail []string)) {
	p.onChange = fn
}

// Push shows name on top of the stack.
func (p *Pages) Push(name string) {
	if _, ok := p.pages[name]; !ok {
		return
	}
	for i, n := range p.stack {
		if n == name {
			p.unwind(i + 1)
			return
		}
	}
	if top := p.Current(); top != "" {
		p.HidePage(top)
	}
	p.stack = append(p.stack, name)
	p.show(name)
}

// Pop removes the top page and returns its name. The last page is never
// removed.
func (p *Pages) Pop() string {
	if len(p.stack) < 2 {
		return ""
	}
	top := p.Current()
	p.unwind(len(p.stack) - 1)
	return top
}

// Reset makes name the only page on the stack.
func (p *Pages) Reset(name string) {
	if _, ok := p.pages[name]; !ok {
		return
	}
	for _, n := range p.stack {
		p.HidePage(n)
	}
	p.stack = []string{name}
	p.show(name)
}

// Current returns the top page name, or "".
func (p *Pages) Current() string {
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1]
}

// Depth returns the stack size.
func (p *Pages) Depth() int {
	return len(p.stack)
}

// Trail returns the stack's page titles, bottom first.
func (p *Pages) Trail() []string {
	trail := make([]string, 0, len(p.stack))
	for _, n := range p.stack {
		trail = append(trail, p.pages[n].Title())
	}
	return trail
}

// unwind truncates the stack to n entries.
func (p *Pages) unwind(n int) {
	for _, name := range p.stack[n:] {
		p.HidePage(name)
	}
	p.stack = p.stack[:n]
	p.show(p.Current())
}

func (p *Pages) show(name string) {
	p.ShowPage(name)
	p.SendToFront(name)
	if p.onChange != nil {
		p.onChange(p.pages[name], p.Trail())
	}
}
