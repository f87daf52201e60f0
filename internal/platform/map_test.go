package platform_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/dmksnnk/gamebroker/internal/platform"
)

func TestMap(t *testing.T) {
	errGone := errors.New("gone")

	t.Run("put new", func(t *testing.T) {
		m := platform.NewMap[string, int]()

		if !m.PutNew("a", 1) {
			t.Fatal("first PutNew must succeed")
		}
		if m.PutNew("a", 2) {
			t.Fatal("second PutNew must fail")
		}

		v, ok := m.Get("a")
		if !ok || v != 1 {
			t.Errorf("want 1, got %d (found: %t)", v, ok)
		}
	})

	t.Run("hooks", func(t *testing.T) {
		m := platform.NewMap[string, int]()

		var added []string
		var reasons []error
		m.NotifyAdd(func(key string, _ int) {
			added = append(added, key)
		})
		m.NotifyDelete(func(_ string, _ int, reason error) {
			reasons = append(reasons, reason)
		})

		m.PutNew("a", 1)
		m.PutNew("a", 2) // already present, no hook
		m.PutNew("b", 3)

		if want := []string{"a", "b"}; !slices.Equal(want, added) {
			t.Errorf("want added %v, got %v", want, added)
		}

		if _, ok := m.Delete("a", errGone); !ok {
			t.Error("expected a to be deleted")
		}
		if _, ok := m.Delete("a", errGone); ok {
			t.Error("expected second delete to report missing key")
		}

		if len(reasons) != 1 || !errors.Is(reasons[0], errGone) {
			t.Errorf("unexpected delete reasons: %v", reasons)
		}
	})

	t.Run("delete all", func(t *testing.T) {
		m := platform.NewMap[string, int]()
		m.PutNew("a", 1)
		m.PutNew("b", 2)

		var deleted int
		m.NotifyDelete(func(string, int, error) {
			deleted++
		})

		removed := m.DeleteAll(errGone)
		if len(removed) != 2 || deleted != 2 {
			t.Errorf("want 2 removed, got %d (hook calls %d)", len(removed), deleted)
		}

		if m.Len() != 0 {
			t.Errorf("map must be empty, has %d", m.Len())
		}
	})

	t.Run("keys", func(t *testing.T) {
		m := platform.NewMap[string, int]()
		m.PutNew("b", 2)
		m.PutNew("a", 1)

		keys := m.Keys()
		slices.Sort(keys)
		if want := []string{"a", "b"}; !slices.Equal(want, keys) {
			t.Errorf("want %v, got %v", want, keys)
		}
	})
}
