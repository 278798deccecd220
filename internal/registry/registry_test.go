package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/ourisland/litemacro/internal/actions"
	"github.com/ourisland/litemacro/internal/models"
)

func macro(name string, aliases []string, kinds ...string) models.MacroSpec {
	spec := models.MacroSpec{Name: name, Aliases: aliases}
	for _, kind := range kinds {
		spec.Actions = append(spec.Actions, models.ActionSpec{Type: kind})
	}
	return spec
}

func TestBuildExcludesBadMacros(t *testing.T) {
	r := New()
	g, errs := r.Build([]models.MacroSpec{
		macro("good", nil, "message"),
		macro("bad", nil, "message", "nope"),
		macro("Good", nil, "delay"),
		macro("two words", nil),
		macro("empty", nil),
	}, actions.NewFactory())

	if g.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (good, empty)", g.Len())
	}
	if len(errs) != 3 {
		t.Fatalf("got %d errors, want 3: %v", len(errs), errs)
	}
	if !errors.Is(errs[0], actions.ErrUnrecognizedKind) {
		t.Errorf("errs[0] = %v, want ErrUnrecognizedKind", errs[0])
	}
	if !errors.Is(errs[1], ErrDuplicateMacro) {
		t.Errorf("errs[1] = %v, want ErrDuplicateMacro", errs[1])
	}
	if !errors.Is(errs[2], ErrInvalidMacro) {
		t.Errorf("errs[2] = %v, want ErrInvalidMacro", errs[2])
	}
	var verr *models.ValidationErrors
	if !errors.As(errs[2], &verr) || len(verr.Errors) == 0 {
		t.Errorf("errs[2] = %v, want the field errors to be reachable", errs[2])
	}
	if _, ok := g.Lookup("bad"); ok {
		t.Error("bad macro should not be bound")
	}
	if m, ok := g.Lookup("empty"); !ok || len(m.Actions) != 0 {
		t.Error("empty macro should be bound with no actions")
	}
}

func TestAliasesResolveAndFirstWins(t *testing.T) {
	r := New()
	g, errs := r.Build([]models.MacroSpec{
		macro("hello", []string{"HI", "greet"}, "message"),
		macro("wave", []string{"hi", "hello"}, "message"),
		macro("greet", nil, "message"),
	}, actions.NewFactory())
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	tests := map[string]string{
		"hello": "hello",
		"hi":    "hello",
		"wave":  "wave",
		"greet": "greet", // primary names beat aliases
	}
	for name, want := range tests {
		m, ok := g.Lookup(name)
		if !ok {
			t.Fatalf("Lookup(%q) not found", name)
		}
		if m.Name() != want {
			t.Errorf("Lookup(%q) = %q, want %q", name, m.Name(), want)
		}
	}

	want := []string{"greet", "hello", "hi", "wave"}
	got := g.Names()
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSwapReplacesWholeGeneration(t *testing.T) {
	r := New()
	f := actions.NewFactory()

	if r.Current().ID() != 0 || r.Current().Len() != 0 {
		t.Fatal("new registry should hold the empty generation 0")
	}

	g1, _ := r.Build([]models.MacroSpec{
		macro("old", []string{"o"}, "message"),
		macro("shared", nil, "message"),
	}, f)
	r.Swap(g1)

	running, err := r.Resolve("old")
	if err != nil {
		t.Fatalf("Resolve(old): %v", err)
	}
	oldShared, _ := r.Resolve("shared")

	g2, _ := r.Build([]models.MacroSpec{
		macro("shared", nil, "message", "delay"),
		macro("new", nil, "command"),
	}, f)
	prev := r.Swap(g2)

	if prev != g1 {
		t.Error("Swap should return the replaced generation")
	}
	if g2.ID() <= g1.ID() {
		t.Errorf("generation ids not increasing: %d then %d", g1.ID(), g2.ID())
	}

	for _, name := range []string{"old", "o"} {
		if _, err := r.Resolve(name); !errors.Is(err, ErrMacroNotFound) {
			t.Errorf("Resolve(%q) err = %v, want ErrMacroNotFound", name, err)
		}
	}

	newShared, err := r.Resolve("shared")
	if err != nil {
		t.Fatalf("Resolve(shared): %v", err)
	}
	if len(newShared.Actions) != 2 || newShared.Generation != g2.ID() {
		t.Errorf("shared resolved to generation %d with %d actions", newShared.Generation, len(newShared.Actions))
	}

	// Macros captured before the swap are untouched.
	if len(running.Actions) != 1 || running.Generation != g1.ID() {
		t.Error("macro captured before swap was modified")
	}
	if len(oldShared.Actions) != 1 {
		t.Error("old generation's shared macro was modified")
	}
}

func TestConcurrentReadersSeeWholeGenerations(t *testing.T) {
	r := New()
	f := actions.NewFactory()

	// Every generation binds both names to macros of the same generation.
	gens := make([]*Generation, 0, 20)
	for i := 0; i < 20; i++ {
		g, _ := r.Build([]models.MacroSpec{macro("a", nil), macro("b", nil)}, f)
		gens = append(gens, g)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errCh := make(chan string, 1)

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				g := r.Current()
				a, okA := g.Lookup("a")
				b, okB := g.Lookup("b")
				if g.ID() == 0 {
					continue
				}
				if !okA || !okB || a.Generation != b.Generation || a.Generation != g.ID() {
					select {
					case errCh <- "torn generation observed":
					default:
					}
					return
				}
			}
		}()
	}

	for _, g := range gens {
		r.Swap(g)
	}
	close(stop)
	wg.Wait()

	select {
	case msg := <-errCh:
		t.Fatal(msg)
	default:
	}
}
