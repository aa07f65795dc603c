// Package trace provides lightweight per-request tracing, logged through
// blitiri.com.ar/go/log. It mirrors the family/title/Printf/Debugf/Errorf
// shape of golang.org/x/net/trace, without the HTTP introspection endpoint
// (there is no debug web server in this daemon).
package trace

import (
	"fmt"
	"strconv"
	"sync"

	"blitiri.com.ar/go/log"
)

// A Trace represents an active request or long-running operation.
type Trace struct {
	family string
	title  string

	mu      sync.Mutex
	events  []string
	hadErr  bool
	parent  *Trace
	maxEvts int
}

// New starts a new top-level trace.
func New(family, title string) *Trace {
	return &Trace{family: family, title: title, maxEvts: 30}
}

// NewChild starts a trace nested under t, with its own family and title.
func (t *Trace) NewChild(family, title string) *Trace {
	return &Trace{family: family, title: title, parent: t, maxEvts: 30}
}

func (t *Trace) record(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.events) >= t.maxEvts {
		t.events = t.events[1:]
	}
	t.events = append(t.events, s)
}

// Printf adds this message to the trace's log, at info level.
func (t *Trace) Printf(format string, a ...interface{}) {
	msg := fmt.Sprintf(format, a...)
	t.record(msg)
	log.Log(log.Info, 1, "%s %s: %s", t.family, t.title, quote(msg))
}

// Debugf adds this message to the trace's log, at debug level.
func (t *Trace) Debugf(format string, a ...interface{}) {
	msg := fmt.Sprintf(format, a...)
	t.record(msg)
	log.Log(log.Debug, 1, "%s %s: %s", t.family, t.title, quote(msg))
}

// Errorf formats and logs an error, marking the trace as having failed.
func (t *Trace) Errorf(format string, a ...interface{}) error {
	err := fmt.Errorf(format, a...)
	t.mu.Lock()
	t.hadErr = true
	t.mu.Unlock()
	t.record("error: " + err.Error())
	log.Log(log.Info, 1, "%s %s: error: %s", t.family, t.title, quote(err.Error()))
	return err
}

// Error marks the trace as failed and logs the given error.
func (t *Trace) Error(err error) error {
	t.mu.Lock()
	t.hadErr = true
	t.mu.Unlock()
	t.record("error: " + err.Error())
	log.Log(log.Info, 1, "%s %s: error: %s", t.family, t.title, quote(err.Error()))
	return err
}

// Finish closes the trace. It must not be used afterwards.
func (t *Trace) Finish() {}

// EventLog is used for tracing long-lived objects (e.g. the relay queue).
type EventLog struct {
	family string
	title  string
}

// NewEventLog returns a new EventLog.
func NewEventLog(family, title string) *EventLog {
	return &EventLog{family, title}
}

func (e *EventLog) Printf(format string, a ...interface{}) {
	log.Log(log.Info, 1, "%s %s: %s", e.family, e.title, quote(fmt.Sprintf(format, a...)))
}

func (e *EventLog) Debugf(format string, a ...interface{}) {
	log.Log(log.Debug, 1, "%s %s: %s", e.family, e.title, quote(fmt.Sprintf(format, a...)))
}

func (e *EventLog) Errorf(format string, a ...interface{}) error {
	err := fmt.Errorf(format, a...)
	log.Log(log.Info, 1, "%s %s: error: %s", e.family, e.title, quote(err.Error()))
	return err
}

func quote(s string) string {
	qs := strconv.Quote(s)
	return qs[1 : len(qs)-1]
}
