// Package assert provides the small set of test assertions used across the
// module. Every helper reports through t.Errorf so a test keeps running and
// shows all mismatches at once.
package assert

import (
	"cmp"
	"reflect"
	"strings"
	"testing"
)

// Equal fails when want and got are not deeply equal.
func Equal[T any](t testing.TB, want, got T, msg string) {
	t.Helper()
	if !reflect.DeepEqual(want, got) {
		t.Errorf("%s: want %#v, got %#v", msg, want, got)
	}
}

// NotEqual fails when a and b are deeply equal.
func NotEqual[T any](t testing.TB, a, b T, msg string) {
	t.Helper()
	if reflect.DeepEqual(a, b) {
		t.Errorf("%s: values should differ, both are %#v", msg, a)
	}
}

func True(t testing.TB, cond bool, msg string) {
	t.Helper()
	if !cond {
		t.Errorf("%s: expected true", msg)
	}
}

func False(t testing.TB, cond bool, msg string) {
	t.Helper()
	if cond {
		t.Errorf("%s: expected false", msg)
	}
}

// Nil fails unless v is nil or a typed nil (pointer, slice, map, chan, func).
func Nil(t testing.TB, v any, msg string) {
	t.Helper()
	if !isNil(v) {
		t.Errorf("%s: expected nil, got %#v", msg, v)
	}
}

func NotNil(t testing.TB, v any, msg string) {
	t.Helper()
	if isNil(v) {
		t.Errorf("%s: expected non-nil", msg)
	}
}

func NoError(t testing.TB, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Errorf("%s: unexpected error: %v", msg, err)
	}
}

func Error(t testing.TB, err error, msg string) {
	t.Helper()
	if err == nil {
		t.Errorf("%s: expected an error", msg)
	}
}

// Len fails when the slice, map, string or channel v does not have length n.
func Len(t testing.TB, v any, n int, msg string) {
	t.Helper()
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.String, reflect.Array, reflect.Chan:
		if rv.Len() != n {
			t.Errorf("%s: want len %d, got %d", msg, n, rv.Len())
		}
	default:
		if v == nil && n == 0 {
			return
		}
		t.Errorf("%s: value of kind %s has no length", msg, rv.Kind())
	}
}

func Contains(t testing.TB, s, substr string, msg string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("%s: %q does not contain %q", msg, s, substr)
	}
}

func Greater[T cmp.Ordered](t testing.TB, a, b T, msg string) {
	t.Helper()
	if !(a > b) {
		t.Errorf("%s: expected %v > %v", msg, a, b)
	}
}

func GreaterOrEqual[T cmp.Ordered](t testing.TB, a, b T, msg string) {
	t.Helper()
	if !(a >= b) {
		t.Errorf("%s: expected %v >= %v", msg, a, b)
	}
}

func Less[T cmp.Ordered](t testing.TB, a, b T, msg string) {
	t.Helper()
	if !(a < b) {
		t.Errorf("%s: expected %v < %v", msg, a, b)
	}
}

func LessOrEqual[T cmp.Ordered](t testing.TB, a, b T, msg string) {
	t.Helper()
	if !(a <= b) {
		t.Errorf("%s: expected %v <= %v", msg, a, b)
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
