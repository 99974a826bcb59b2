package actuator

import (
	"errors"
	"testing"

	"github.com/roman-kulish/rocket-control/internal/flight"
)

type recordingDriver struct {
	writes map[int]float64
}

func (d *recordingDriver) Write(channel int, value float64) error {
	if d.writes == nil {
		d.writes = make(map[int]float64)
	}
	d.writes[channel] = value
	return nil
}

func TestRail_ArmGatesCommands(t *testing.T) {
	driver := &recordingDriver{}
	r, err := NewRail(driver, []float64{0.5, 0.5, 0})
	if err != nil {
		t.Fatalf("Failed to create rail: %v", err)
	}

	if err = r.Apply(0, 0.7); !errors.Is(err, ErrDisarmed) {
		t.Fatalf("Expected ErrDisarmed, got %v", err)
	}
	if len(driver.writes) != 0 {
		t.Fatalf("Expected no driver writes while disarmed")
	}

	r.Arm()
	if r.ArmState() != flight.Armed {
		t.Fatalf("Expected rail to be armed")
	}
	if err = r.Apply(0, 1.4); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if driver.writes[0] != 1 {
		t.Errorf("Expected command clamped to 1, got %v", driver.writes[0])
	}
	if err = r.Apply(7, 0.1); err == nil {
		t.Errorf("Expected error for invalid channel")
	}
}

func TestRail_NominalWhileDisarmed(t *testing.T) {
	driver := &recordingDriver{}
	r, _ := NewRail(driver, []float64{0.5, 0.25})

	if err := r.Nominal(); err != nil {
		t.Fatalf("Nominal() error: %v", err)
	}
	last := r.Last()
	if last[0] != 0.5 || last[1] != 0.25 {
		t.Errorf("Expected nominal positions, got %v", last)
	}
}

func TestNewRail_Invalid(t *testing.T) {
	if _, err := NewRail(nil, []float64{0.5}); err == nil {
		t.Error("Expected error for nil driver")
	}
	if _, err := NewRail(&recordingDriver{}, []float64{1.5}); err == nil {
		t.Error("Expected error for nominal outside [0, 1]")
	}
}
