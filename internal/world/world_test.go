package world

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"arenasync/internal/geom"
	"arenasync/internal/input"
	"arenasync/internal/physics"
)

func newTestWorld(t *testing.T) *World {
	t.Helper()
	w, err := New(geom.Rect(640, 400))
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	return w
}

func TestNewRejectsInvalidBounds(t *testing.T) {
	if _, err := New(geom.Bounds{Left: 10, Right: 0, Top: 0, Bottom: 10}); err == nil {
		t.Fatal("expected bounds validation error")
	}
}

func TestAddEntityAndFind(t *testing.T) {
	w := newTestWorld(t)
	added, err := w.AddEntity(Entity{ID: 7, Body: physics.NewBody(geom.V(100, 100)), Local: true})
	if err != nil {
		t.Fatalf("add entity: %v", err)
	}
	if added.Color != 100 {
		t.Fatalf("expected resting color 100, got %d", added.Color)
	}
	if added.Bounds() != w.Bounds() {
		t.Fatalf("entity must share the arena, got %+v", added.Bounds())
	}
	got, ok := w.FindByID(7)
	if !ok || !got.Local || got.Position != geom.V(100, 100) {
		t.Fatalf("unexpected lookup result %+v ok=%v", got, ok)
	}
	if _, ok := w.FindByID(8); ok {
		t.Fatal("unexpected hit for unknown id")
	}
}

func TestAddEntityRejectsDuplicatesAndInvalidIDs(t *testing.T) {
	w := newTestWorld(t)
	if _, err := w.AddEntity(Entity{ID: 1, Body: physics.NewBody(geom.V(50, 50))}); err != nil {
		t.Fatalf("add entity: %v", err)
	}
	if _, err := w.AddEntity(Entity{ID: 1}); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if _, err := w.AddEntity(Entity{ID: 0}); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID for zero, got %v", err)
	}
	if _, err := w.AddEntity(Entity{ID: MaxID + 1}); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID above MaxID, got %v", err)
	}
	if w.Len() != 1 {
		t.Fatalf("expected 1 entity, got %d", w.Len())
	}
}

func TestFindByIDReturnsCopy(t *testing.T) {
	w := newTestWorld(t)
	if _, err := w.AddEntity(Entity{ID: 3, Body: physics.NewBody(geom.V(10, 10))}); err != nil {
		t.Fatalf("add entity: %v", err)
	}
	got, _ := w.FindByID(3)
	got.Position = geom.V(999, 999)
	again, _ := w.FindByID(3)
	if again.Position == got.Position {
		t.Fatal("registry must not reflect external mutation")
	}
}

func TestTickDrivesLocalFromFrameAndRemoteFromLastIntent(t *testing.T) {
	w := newTestWorld(t)
	local := physics.NewBody(geom.V(100, 200))
	remote := physics.NewBody(geom.V(300, 200))
	remote.Intent = input.Intent{Left: true}
	if _, err := w.AddEntity(Entity{ID: 1, Body: local, Local: true}); err != nil {
		t.Fatalf("add local: %v", err)
	}
	if _, err := w.AddEntity(Entity{ID: 2, Body: remote}); err != nil {
		t.Fatalf("add remote: %v", err)
	}

	w.Tick(Frame{DT: 0.02, Intent: input.Intent{Right: true}})

	gotLocal, _ := w.FindByID(1)
	gotRemote, _ := w.FindByID(2)
	if gotLocal.Intent != (input.Intent{Right: true}) || gotLocal.Velocity.X <= 0 {
		t.Fatalf("local entity should follow the frame intent: %+v", gotLocal)
	}
	if gotRemote.Intent != (input.Intent{Left: true}) || gotRemote.Velocity.X >= 0 {
		t.Fatalf("remote entity should keep its own intent: %+v", gotRemote)
	}

	//1.- The registry path must match a bare integrator call bit for bit.
	physics.Integrate(&remote, w.Bounds(), 0.02)
	if gotRemote.Body != remote {
		t.Fatalf("registry integration diverged: %+v vs %+v", gotRemote.Body, remote)
	}
	if gotRemote.Color != physics.Color(remote.Velocity) {
		t.Fatalf("color not refreshed: %d", gotRemote.Color)
	}
}

func TestTickIgnoresNonPositiveDT(t *testing.T) {
	w := newTestWorld(t)
	body := physics.NewBody(geom.V(100, 100))
	body.Velocity = geom.V(10, 0)
	if _, err := w.AddEntity(Entity{ID: 1, Body: body}); err != nil {
		t.Fatalf("add: %v", err)
	}
	w.Tick(Frame{DT: 0})
	got, _ := w.FindByID(1)
	if got.Body != body {
		t.Fatalf("zero dt must not integrate: %+v", got.Body)
	}
}

type recordingCanvas struct {
	sprites []Sprite
}

func (c *recordingCanvas) Draw(s Sprite) { c.sprites = append(c.sprites, s) }

func TestRenderVisitsEntitiesInInsertionOrder(t *testing.T) {
	w := newTestWorld(t)
	for _, id := range []ID{9, 4, 6} {
		if _, err := w.AddEntity(Entity{ID: id, Body: physics.NewBody(geom.V(float64(id)*10, 50)), Local: id == 4}); err != nil {
			t.Fatalf("add %d: %v", id, err)
		}
	}
	canvas := &recordingCanvas{}
	w.Render(canvas)
	if len(canvas.sprites) != 3 {
		t.Fatalf("expected 3 sprites, got %d", len(canvas.sprites))
	}
	for i, want := range []ID{9, 4, 6} {
		s := canvas.sprites[i]
		if s.ID != want || s.Radius != physics.DefaultRadius || s.Color != 100 {
			t.Fatalf("sprite %d unexpected: %+v", i, s)
		}
	}
	if !canvas.sprites[1].Local {
		t.Fatal("expected the local flag on sprite 4")
	}
}

func TestUpdateFindOrInsertIsAtomic(t *testing.T) {
	w := newTestWorld(t)
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			id := ID(idx%8 + 1)
			_ = w.Update(func(tx *Tx) error {
				if e, ok := tx.Find(id); ok {
					e.Position = geom.V(float64(idx), 0)
					return nil
				}
				_, err := tx.Insert(tx.NewRemote(id, geom.V(1, 1), geom.Vec2{}, input.Intent{}))
				return err
			})
		}(i)
	}
	wg.Wait()
	if w.Len() != 8 {
		t.Fatalf("expected exactly 8 entities, got %d", w.Len())
	}
}

func TestWithTuningAppliesToRemoteEntities(t *testing.T) {
	w, err := New(geom.Rect(100, 100), WithTuning(250, 5))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	var built Entity
	_ = w.Update(func(tx *Tx) error {
		built = tx.NewRemote(5, geom.V(1, 2), geom.V(3, 4), input.Intent{Up: true})
		return nil
	})
	if built.Acceleration != 250 || built.Radius != 5 || built.Local {
		t.Fatalf("unexpected remote tuning %+v", built)
	}
	if acc, r := w.Tuning(); acc != 250 || r != 5 {
		t.Fatalf("unexpected tuning %v %v", acc, r)
	}
}

func TestNewIDIsValidAndVaried(t *testing.T) {
	seen := make(map[ID]struct{})
	for i := 0; i < 256; i++ {
		id, err := NewID()
		if err != nil {
			t.Fatalf("new id: %v", err)
		}
		if !id.Valid() {
			t.Fatalf("invalid id %d", id)
		}
		seen[id] = struct{}{}
	}
	if len(seen) != 256 {
		t.Fatalf("expected unique ids, got %d distinct", len(seen))
	}
	if fmt.Sprint(ID(42)) != "42" {
		t.Fatalf("unexpected id formatting %q", fmt.Sprint(ID(42)))
	}
}
