package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestTemperatureStatus(t *testing.T) {
	cases := map[int]string{-5: "Cold", 9: "Cold", 10: "Cool", 24: "Cool", 25: "Normal", 39: "Normal", 40: "Warm", 49: "Warm", 50: "Hot", 80: "Hot"}
	for temp, want := range cases {
		if got := TemperatureStatus(temp); got != want {
			t.Errorf("TemperatureStatus(%d) = %q, want %q", temp, got, want)
		}
	}
}

func TestTemperaturePercentageClamps(t *testing.T) {
	if got := TemperaturePercentage(-10); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
	if got := TemperaturePercentage(90); got != 100 {
		t.Errorf("expected 100, got %v", got)
	}
	if got := TemperaturePercentage(30); got != 50 {
		t.Errorf("expected 50, got %v", got)
	}
}

func TestHealthStatus(t *testing.T) {
	cases := map[int]string{100: "Excellent", 90: "Excellent", 85: "Good", 70: "Fair", 55: "Poor", 49: "Critical"}
	for health, want := range cases {
		if got := HealthStatus(health); got != want {
			t.Errorf("HealthStatus(%d) = %q, want %q", health, got, want)
		}
	}
}

func TestOpErrorUnwrapsToSentinel(t *testing.T) {
	err := fmt.Errorf("navigate: %w", &OpError{Op: "fetch_markup", Target: "about", Err: ErrArtifactNotFound})
	if !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound in chain: %v", err)
	}
	var op *OpError
	if !errors.As(err, &op) || op.Target != "about" {
		t.Fatalf("expected OpError with target about, got %v", err)
	}
}

func TestDescriptorCloneIsIndependent(t *testing.T) {
	d := ModuleDescriptor{ID: "EV2300", Bindings: []SurfaceBinding{{ElementID: "a", CommandName: "x"}}}
	c := d.Clone()
	c.Bindings[0].CommandName = "y"
	if d.Bindings[0].CommandName != "x" {
		t.Fatal("clone shares binding storage with original")
	}
	if (ModuleDescriptor{}).IsEmpty() != true {
		t.Fatal("zero descriptor should be empty")
	}
}
