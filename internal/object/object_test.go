package object

import "testing"

func TestInspect(t *testing.T) {
	tests := []struct {
		obj  Object
		want string
	}{
		{NIL, "nil"},
		{TRUE, "true"},
		{FALSE, "false"},
		{&Number{Value: 42}, "42"},
		{&Number{Value: 3.5}, "3.5"},
		{&String{Value: "hi"}, "hi"},
		{&List{Elements: []Object{&Number{Value: 1}, TRUE}}, "[1, true]"},
		{&Error{Message: "bad"}, "bad"},
	}
	for _, tt := range tests {
		if got := tt.obj.Inspect(); got != tt.want {
			t.Errorf("Inspect() = %q, want %q", got, tt.want)
		}
	}
}

func TestNativeBoolToBooleanObject(t *testing.T) {
	if NativeBoolToBooleanObject(true) != TRUE {
		t.Error("true did not map to the TRUE singleton")
	}
	if NativeBoolToBooleanObject(false) != FALSE {
		t.Error("false did not map to the FALSE singleton")
	}
}
