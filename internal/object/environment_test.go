package object

import (
	"sync"
	"testing"
)

func TestDefineAndGet(t *testing.T) {
	env := NewEnvironment()
	if _, err := env.Define("x", &Number{Value: 1}, true); err != nil {
		t.Fatal(err)
	}
	v, ok := env.Get("x")
	if !ok || v.(*Number).Value != 1 {
		t.Errorf("Get(x) = (%v, %v), want (1, true)", v, ok)
	}
	if _, ok := env.Get("missing"); ok {
		t.Error("Get(missing) ok")
	}
}

func TestDefineRejectsRedefinition(t *testing.T) {
	env := NewEnvironment()
	env.Define("x", TRUE, false)
	if _, err := env.Define("x", FALSE, false); err == nil {
		t.Error("redefinition in the same scope accepted")
	}

	// Shadowing in a child scope is fine.
	child := NewEnclosedEnvironment(env)
	if _, err := child.Define("x", FALSE, false); err != nil {
		t.Errorf("shadowing rejected: %v", err)
	}
	if v, _ := child.Get("x"); v != FALSE {
		t.Error("child sees the outer binding instead of its shadow")
	}
	if v, _ := env.Get("x"); v != TRUE {
		t.Error("shadow leaked into the outer scope")
	}
}

func TestAssign(t *testing.T) {
	env := NewEnvironment()
	env.Define("count", &Number{Value: 1}, true)
	env.Define("pi", &Number{Value: 3.14}, false)

	if _, err := env.Assign("count", &Number{Value: 2}); err != nil {
		t.Errorf("assign to mutable binding failed: %v", err)
	}
	if v, _ := env.Get("count"); v.(*Number).Value != 2 {
		t.Error("assignment not visible")
	}

	if _, err := env.Assign("pi", &Number{Value: 3}); err == nil {
		t.Error("assign to immutable binding accepted")
	}
	if _, err := env.Assign("ghost", TRUE); err == nil {
		t.Error("assign to undefined name accepted")
	}
}

func TestAssignWritesThroughToOuterScope(t *testing.T) {
	outer := NewEnvironment()
	outer.Define("total", &Number{Value: 0}, true)
	inner := NewEnclosedEnvironment(outer)

	if _, err := inner.Assign("total", &Number{Value: 5}); err != nil {
		t.Fatal(err)
	}
	if v, _ := outer.Get("total"); v.(*Number).Value != 5 {
		t.Error("assignment from inner scope did not reach the defining scope")
	}
}

func TestEnvironmentConcurrentAccess(t *testing.T) {
	env := NewEnvironment()
	env.Define("shared", &Number{Value: 0}, true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				env.Assign("shared", &Number{Value: float64(n)})
				env.Get("shared")
			}
		}(i)
	}
	wg.Wait()

	if _, ok := env.Get("shared"); !ok {
		t.Error("binding lost under concurrent access")
	}
}

func TestShallowCopy(t *testing.T) {
	env := NewEnvironment()
	env.Define("a", TRUE, false)

	cp := env.ShallowCopy()
	if v, ok := cp.Get("a"); !ok || v != TRUE {
		t.Error("copy missing existing binding")
	}

	cp.Define("b", FALSE, false)
	if _, ok := env.Get("b"); ok {
		t.Error("definition in the copy leaked into the original")
	}
}
