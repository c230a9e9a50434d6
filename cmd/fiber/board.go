package main

import (
	"sync"
	"time"

	"github.com/wippyai/wasm-fiber/driver"
	"github.com/wippyai/wasm-fiber/fiber"
)

// boardRow is the dashboard view of one driver.
type boardRow struct {
	name     string
	status   string
	advances int
	pending  int
	fuel     uint64
	result   *driver.Result
	updated  time.Time
}

// board collects driver progress from the shard threads for the
// dashboard. It implements driver.Observer.
type board struct {
	mu    sync.Mutex
	order []string
	rows  map[string]*boardRow
}

func newBoard() *board {
	return &board{rows: make(map[string]*boardRow)}
}

func (b *board) row(name string) *boardRow {
	r, ok := b.rows[name]
	if !ok {
		r = &boardRow{name: name, status: "waiting"}
		b.rows[name] = r
		b.order = append(b.order, name)
	}
	return r
}

// expect adds a row before the driver first advances.
func (b *board) expect(name string) {
	b.mu.Lock()
	b.row(name)
	b.mu.Unlock()
}

func (b *board) DriverAdvanced(name string, p fiber.Progress, fuel uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.row(name)
	r.advances++
	r.fuel += fuel
	if p.Pending() {
		r.pending++
		r.status = driver.Suspended.String()
	} else {
		r.status = p.Status.String()
	}
	r.updated = time.Now()
}

func (b *board) DriverFinished(res driver.Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.row(res.Name)
	r.status = res.Outcome.String()
	r.result = &res
	r.updated = time.Now()
}

// snapshot copies the rows in the order drivers were first seen.
func (b *board) snapshot() []boardRow {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]boardRow, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, *b.rows[name])
	}
	return out
}
