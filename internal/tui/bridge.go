package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mbranton/hive/internal/bus"
)

// Pump forwards bus events into the program until the subscription closes.
// Run it on its own goroutine.
func Pump(p *tea.Program, sub *bus.Subscription) {
	for e := range sub.Events() {
		p.Send(BusEventMsg{Event: e})
	}
}

// Run attaches a monitor to the session bus and blocks until the user quits.
func Run(b *bus.Bus) error {
	app := New()
	p := tea.NewProgram(app, tea.WithAltScreen())

	sub := b.Subscribe(512)
	go Pump(p, sub)

	_, err := p.Run()
	b.Unsubscribe(sub)
	return err
}
