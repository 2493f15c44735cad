package session

import (
	"context"
	"testing"

	"github.com/MrWong99/voxlink/pkg/realtime"
	realtimemock "github.com/MrWong99/voxlink/pkg/realtime/mock"
)

func TestRegistry_RegisterInvalidatesPrevious(t *testing.T) {
	r := NewRegistry()
	if r.Current() != nil {
		t.Fatal("new registry should be empty")
	}

	a := realtimemock.NewSession()
	r.Register(a)
	snap := r.Snapshot()
	if snap.Session != realtime.Session(a) || snap.Generation != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}

	select {
	case <-snap.Invalidated:
		t.Fatal("current generation already invalidated")
	default:
	}

	b := realtimemock.NewSession()
	if gen := r.Register(b); gen != 2 {
		t.Errorf("generation = %d, want 2", gen)
	}
	select {
	case <-snap.Invalidated:
	default:
		t.Fatal("previous generation not invalidated on replace")
	}
	if r.Current() != realtime.Session(b) {
		t.Error("Current did not switch to the new session")
	}
}

func TestRegistry_Clear(t *testing.T) {
	r := NewRegistry()
	r.Clear() // no-op on empty registry
	if r.Generation() != 0 {
		t.Fatalf("generation = %d after clearing empty registry", r.Generation())
	}

	var seen []realtime.Session
	r.OnChange(func(s realtime.Session, _ uint64) { seen = append(seen, s) })

	r.Register(realtimemock.NewSession())
	snap := r.Snapshot()
	r.Clear()

	select {
	case <-snap.Invalidated:
	default:
		t.Fatal("Clear did not invalidate")
	}
	if r.Current() != nil {
		t.Error("Current not nil after Clear")
	}
	if len(seen) != 2 || seen[0] == nil || seen[1] != nil {
		t.Errorf("observer saw %v", seen)
	}
}

func TestConnectorFunc(t *testing.T) {
	want := realtimemock.NewSession()
	var c Connector = ConnectorFunc(func(context.Context) (realtime.Session, error) { return want, nil })
	got, err := c.Connect(t.Context())
	if err != nil || got != realtime.Session(want) {
		t.Fatalf("Connect = %v, %v", got, err)
	}
}

func TestRegistry_Replace(t *testing.T) {
	r := NewRegistry()
	a, b := realtimemock.NewSession(), realtimemock.NewSession()

	if prev, gen := r.Replace(a); prev != nil || gen != 1 {
		t.Fatalf("Replace(a) = %v, %d", prev, gen)
	}
	prev, gen := r.Replace(b)
	if prev != realtime.Session(a) || gen != 2 {
		t.Errorf("Replace(b) = %v, %d, want a, 2", prev, gen)
	}
	if r.Current() != realtime.Session(b) {
		t.Error("Replace did not install b")
	}
}

func TestRegistry_RegisterIfEmpty(t *testing.T) {
	r := NewRegistry()
	a, b := realtimemock.NewSession(), realtimemock.NewSession()

	var calls int
	r.OnChange(func(realtime.Session, uint64) { calls++ })

	if _, ok := r.RegisterIfEmpty(a); !ok {
		t.Fatal("RegisterIfEmpty on an empty registry refused")
	}
	snap := r.Snapshot()
	gen, ok := r.RegisterIfEmpty(b)
	if ok {
		t.Fatal("RegisterIfEmpty replaced an active session")
	}
	if gen != snap.Generation || r.Current() != realtime.Session(a) {
		t.Errorf("registry changed: gen %d current %v", gen, r.Current())
	}
	select {
	case <-snap.Invalidated:
		t.Error("refused registration invalidated the active session")
	default:
	}
	if calls != 1 {
		t.Errorf("observers ran %d times, want 1", calls)
	}
}
