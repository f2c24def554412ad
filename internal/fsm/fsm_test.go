package fsm

import (
	"errors"
	"strings"
	"testing"
)

type light string

const (
	red    light = "red"
	green  light = "green"
	yellow light = "yellow"
)

func testMachine() *Machine[light] {
	return New("light",
		Action[light]{Name: "go", From: []light{red}, To: green},
		Action[light]{Name: "slow", From: []light{green}, To: yellow},
		Action[light]{Name: "inspect", From: []light{red, yellow}},
	)
}

func TestTransition(t *testing.T) {
	m := testMachine()
	cases := []struct {
		action  string
		from    light
		want    light
		wantErr bool
	}{
		{action: "go", from: red, want: green},
		{action: "slow", from: green, want: yellow},
		{action: "inspect", from: yellow, want: yellow},
		{action: "go", from: green, want: green, wantErr: true},
		{action: "slow", from: red, want: red, wantErr: true},
		{action: "inspect", from: green, want: green, wantErr: true},
	}
	for _, tc := range cases {
		got, err := m.Transition(tc.action, tc.from)
		if tc.wantErr != (err != nil) {
			t.Fatalf("%s from %s: err = %v, wantErr %v", tc.action, tc.from, err, tc.wantErr)
		}
		if got != tc.want {
			t.Fatalf("%s from %s = %s, want %s", tc.action, tc.from, got, tc.want)
		}
	}
}

func TestTransitionErrorNamesCurrentAndAllowed(t *testing.T) {
	_, err := testMachine().Transition("inspect", green)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransitionError, got %T", err)
	}
	if te.Current != "green" || strings.Join(te.Allowed, ",") != "red,yellow" {
		t.Fatalf("unexpected transition error: %+v", te)
	}
	if !strings.Contains(err.Error(), `status "green"`) {
		t.Fatalf("message should name current status: %s", err.Error())
	}
}

func TestUnknownActionIsNotTransitionError(t *testing.T) {
	_, err := testMachine().Transition("fly", red)
	if err == nil || errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("unknown action err = %v", err)
	}
	if testMachine().Can("fly", red) {
		t.Fatalf("Can on unknown action should be false")
	}
}
