package classes

import "github.com/cfengine-go/promise-engine/internal/logging"

// ClassSinkAdapter satisfies internal/audit.ClassSink, letting C2 apply
// a promise's `classes` constraint body against this store without
// internal/audit importing internal/classes directly.
type ClassSinkAdapter struct {
	Store *Store
}

func (a ClassSinkAdapter) AddSoft(name string, persistMinutes int, timerReset bool) {
	if err := a.Store.AddSoftPersistent(name, persistMinutes, timerReset); err != nil {
		logging.Op().Warn("classes: add-on-outcome rejected", "class", name, "error", err)
	}
}

func (a ClassSinkAdapter) Remove(name string) {
	a.Store.Remove(name)
}
