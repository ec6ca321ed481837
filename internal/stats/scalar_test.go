package stats

import (
	"encoding/json"
	"testing"
)

func TestScalar_Equal(t *testing.T) {
	cases := []struct {
		name string
		a, b Scalar
		want bool
	}{
		{"int equal", Int(5), Int(5), true},
		{"int differ", Int(5), Int(6), false},
		{"text equal", Text("UP"), Text("UP"), true},
		{"zero vs empty", Int(0), Empty, false},
		{"int vs digit text", Int(1), Text("1"), false},
		{"int vs float", Int(1), Float(1), false},
		{"empty vs empty text", Empty, Text(""), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Equal(tc.b); got != tc.want {
				t.Errorf("%v.Equal(%v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestFromAny(t *testing.T) {
	cases := []struct {
		name    string
		in      any
		want    Scalar
		wantErr bool
	}{
		{name: "string", in: "L4OK", want: Text("L4OK")},
		{name: "int", in: 42, want: Int(42)},
		{name: "whole float", in: float64(7), want: Int(7)},
		{name: "fraction", in: 0.7, want: Float(0.7)},
		{name: "nil", in: nil, want: Empty},
		{name: "bool", in: true, wantErr: true},
		{name: "map", in: map[string]any{}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FromAny(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tc.want) {
				t.Errorf("FromAny(%v) = %s %q, want %s %q", tc.in, got.Kind(), got, tc.want.Kind(), tc.want)
			}
		})
	}
}

func TestScalar_MarshalJSON(t *testing.T) {
	rec := Record{"stot": Int(12), "status": Text("UP"), "qmax": Empty}
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	want := `{"qmax":"","status":"UP","stot":12}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}
