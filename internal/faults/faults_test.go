package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindHelpers(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{New(Validation, "bad input"), Validation},
		{New(NotFound, "gone"), NotFound},
		{New(Forbidden, "nope"), Forbidden},
		{New(Conflict, "raced"), Conflict},
		{Wrap(Transient, errors.New("io"), "store"), Transient},
	}
	for _, c := range cases {
		if KindOf(c.err) != c.want {
			t.Fatalf("KindOf(%v) = %v, want %v", c.err, KindOf(c.err), c.want)
		}
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := New(Conflict, "booking already terminal")
	outer := fmt.Errorf("finish ride: %w", inner)
	if !IsConflict(outer) {
		t.Fatalf("wrapped conflict not detected: %v", outer)
	}
	if KindOf(outer) != Conflict {
		t.Fatalf("KindOf lost the kind through wrapping")
	}
}

func TestUnclassifiedErrorIsTransient(t *testing.T) {
	if KindOf(errors.New("disk on fire")) != Transient {
		t.Fatal("plain errors should default to transient")
	}
}

func TestWrapNilIsNil(t *testing.T) {
	if Wrap(Transient, nil, "noop") != nil {
		t.Fatal("wrapping nil must stay nil")
	}
}
