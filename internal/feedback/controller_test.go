package feedback

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/roman-kulish/rocket-control/internal/fault"
	"github.com/roman-kulish/rocket-control/internal/flight"
	"github.com/roman-kulish/rocket-control/internal/setpoint"
	"github.com/roman-kulish/rocket-control/internal/telemetry"
)

// fakeMixer drives a single channel from every axis with unit coefficients
type fakeMixer struct {
	neutral float64
	lo, hi  float64
	checked []AxisID
}

func (m *fakeMixer) Channels() int { return 1 }

func (m *fakeMixer) Reset(channels []float64) { channels[0] = m.neutral }

func (m *fakeMixer) CheckSaturation(axis AxisID, _ []float64) (float64, float64, error) {
	m.checked = append(m.checked, axis)
	return m.lo, m.hi, nil
}

func (m *fakeMixer) AddInput(value float64, _ AxisID, channels []float64) error {
	channels[0] += value
	return nil
}

type fakeSink struct {
	applied map[int]float64
	calls   int
}

func (s *fakeSink) Apply(channel int, value float64) error {
	if s.applied == nil {
		s.applied = make(map[int]float64)
	}
	s.applied[channel] = value
	s.calls++
	return nil
}

type funcLogger func() error

func (f funcLogger) Start() error { return f() }

type funcIndicator func(bool)

func (f funcIndicator) Set(armed bool) { f(armed) }

func testConfig() Config {
	axis := AxisConfig{ProportionalGain: 2, IntegralGain: 0.5, DerivativeGain: 0.1, Limit: 0.4}
	return Config{
		Period:         10 * time.Millisecond,
		NominalVoltage: 7.4,
		Roll:           axis,
		Pitch:          axis,
		Yaw:            axis,
		Altitude:       AxisConfig{ProportionalGain: 0.01, Limit: 1},
	}
}

func newTestController(t *testing.T, config Config, options ...func(*Controller)) (*Controller, *fakeMixer, *fakeSink) {
	t.Helper()
	mixer := &fakeMixer{neutral: 0.5, lo: -10, hi: 10}
	sink := &fakeSink{}
	c, err := New(config, mixer, sink, options...)
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	return c, mixer, sink
}

func TestController_ArmOrder(t *testing.T) {
	var trace []string
	var c *Controller

	logger := funcLogger(func() error {
		if c.ArmState() != flight.Disarmed {
			t.Errorf("flight log started after ARMED was set")
		}
		if c.Axis(AxisPitch).State().ControlErrorIntegral == 0 {
			t.Errorf("flight log started after the filters were reset")
		}
		trace = append(trace, "log")
		return nil
	})
	indicator := funcIndicator(func(armed bool) {
		if c.ArmState() != flight.Disarmed {
			t.Errorf("indicator updated after ARMED was set")
		}
		state := c.Axis(AxisPitch).State()
		if state.ControlErrorIntegral != 0 || state.ControlError != -0.2 {
			t.Errorf("indicator updated before the filters were reset and preloaded: %+v", state)
		}
		trace = append(trace, "indicator")
	})

	c, _, _ = newTestController(t, testConfig(), WithFlightLogger(logger), WithIndicator(indicator))

	// leftover memory from an earlier flight
	c.Axis(AxisPitch).controller.State.ControlErrorIntegral = 3

	if err := c.Arm(time.Unix(100, 0), telemetry.Estimate{Pitch: 0.2, Yaw: -0.1, BatteryVoltage: 7.4}); err != nil {
		t.Fatalf("Arm() error: %v", err)
	}

	if len(trace) != 2 || trace[0] != "log" || trace[1] != "indicator" {
		t.Fatalf("Unexpected arm trace: %v", trace)
	}
	if c.ArmState() != flight.Armed {
		t.Errorf("Expected ARMED")
	}
	if got := c.Axis(AxisYaw).State().ControlError; got != 0.1 {
		t.Errorf("Expected yaw preloaded with 0.1, got %v", got)
	}
}

func TestController_DoubleArm(t *testing.T) {
	starts := 0
	c, _, _ := newTestController(t, testConfig(), WithFlightLogger(funcLogger(func() error {
		starts++
		return nil
	})))

	now := time.Unix(100, 0)
	if err := c.Arm(now, telemetry.Estimate{}); err != nil {
		t.Fatalf("Arm() error: %v", err)
	}

	err := c.Arm(now, telemetry.Estimate{})
	if !errors.Is(err, ErrAlreadyArmed) || !fault.Is(err, fault.CategoryLogic) {
		t.Fatalf("Expected logic error on double arm, got %v", err)
	}
	if starts != 1 || c.ArmState() != flight.Armed {
		t.Errorf("Expected state unchanged by the refused arm, starts=%d state=%s", starts, c.ArmState())
	}
}

func TestController_ArmFailsWhenLogFails(t *testing.T) {
	c, _, _ := newTestController(t, testConfig(), WithFlightLogger(funcLogger(func() error {
		return errors.New("disk full")
	})))

	if err := c.Arm(time.Unix(1, 0), telemetry.Estimate{}); err == nil {
		t.Fatalf("Expected arm to fail")
	}
	if c.ArmState() != flight.Disarmed {
		t.Errorf("Expected controller to stay DISARMED")
	}
}

func TestController_GainScaling(t *testing.T) {
	config := testConfig()
	sp := setpoint.Setpoint{EnablePitchYaw: true}

	for _, vBatt := range []float64{7.4, 3.7, 8.2} {
		c, _, _ := newTestController(t, config)
		now := time.Unix(10, 0)
		_ = c.Arm(now, telemetry.Estimate{})

		if _, err := c.March(sp, telemetry.Estimate{Pitch: 0.05, BatteryVoltage: vBatt}, true, now); err != nil {
			t.Fatalf("March() error: %v", err)
		}

		kp, ki, kd := c.Axis(AxisPitch).Gains()
		scale := config.NominalVoltage / vBatt
		if kp != config.Pitch.ProportionalGain*scale || ki != config.Pitch.IntegralGain*scale || kd != config.Pitch.DerivativeGain*scale {
			t.Errorf("vBatt %v: gains (%v, %v, %v) not scaled by %v", vBatt, kp, ki, kd, scale)
		}
	}

	// halving the battery voltage doubles the gain
	c, _, _ := newTestController(t, config)
	_ = c.Arm(time.Unix(10, 0), telemetry.Estimate{})
	_, _ = c.March(sp, telemetry.Estimate{BatteryVoltage: 8}, true, time.Unix(10, 0))
	full, _, _ := c.Axis(AxisPitch).Gains()
	_, _ = c.March(sp, telemetry.Estimate{BatteryVoltage: 4}, true, time.Unix(10, 0))
	half, _, _ := c.Axis(AxisPitch).Gains()
	if half != 2*full {
		t.Errorf("Expected gain %v at half voltage, got %v", 2*full, half)
	}
}

func TestController_MarchOrderAndEnableFlags(t *testing.T) {
	c, mixer, _ := newTestController(t, testConfig())
	now := time.Unix(10, 0)
	_ = c.Arm(now, telemetry.Estimate{})

	sp := setpoint.Setpoint{EnableAltitude: true, EnablePitchYaw: true}
	if _, err := c.March(sp, telemetry.Estimate{BatteryVoltage: 7.4}, true, now); err != nil {
		t.Fatalf("March() error: %v", err)
	}

	want := []AxisID{AxisAltitude, AxisPitch, AxisYaw}
	if len(mixer.checked) != len(want) {
		t.Fatalf("Expected saturation checks %v, got %v", want, mixer.checked)
	}
	for i := range want {
		if mixer.checked[i] != want[i] {
			t.Errorf("Expected saturation checks %v, got %v", want, mixer.checked)
		}
	}
}

func TestController_SaturatesChannels(t *testing.T) {
	config := testConfig()
	config.Altitude = AxisConfig{ProportionalGain: 1, Limit: 5}
	c, _, sink := newTestController(t, config)
	now := time.Unix(10, 0)
	_ = c.Arm(now, telemetry.Estimate{})

	sp := setpoint.Setpoint{EnableAltitude: true, Altitude: 1000}
	out, err := c.March(sp, telemetry.Estimate{ProjectedApogee: 900, BatteryVoltage: 7.4}, true, now)
	if err != nil {
		t.Fatalf("March() error: %v", err)
	}

	if out.U[AxisAltitude] != 5 {
		t.Errorf("Expected altitude input clamped to the static limit 5, got %v", out.U[AxisAltitude])
	}
	if sink.applied[0] != 1 || out.Channels[0] != 1 {
		t.Errorf("Expected channel saturated to 1, got %v", sink.applied[0])
	}
	if out.Loop != 0 {
		t.Errorf("Expected first loop index 0, got %d", out.Loop)
	}
}

func TestController_SoftStart(t *testing.T) {
	config := testConfig()
	config.SoftStart = time.Second
	c, _, _ := newTestController(t, config)

	armedAt := time.Unix(10, 0)
	_ = c.Arm(armedAt, telemetry.Estimate{})

	sp := setpoint.Setpoint{EnablePitchYaw: true}
	e := telemetry.Estimate{BatteryVoltage: 7.4}

	tests := []struct {
		after time.Duration
		scale float64
	}{
		{0, 0},
		{250 * time.Millisecond, 0.25},
		{time.Second, 1},
		{3 * time.Second, 1},
	}

	for _, tt := range tests {
		_, _ = c.March(sp, e, true, armedAt.Add(tt.after))
		lo, hi := c.Axis(AxisPitch).Bounds()
		limit := config.Pitch.Limit * tt.scale
		if math.Abs(hi-limit) > 1e-12 || math.Abs(lo+limit) > 1e-12 {
			t.Errorf("after %v: bounds [%v, %v], want ±%v", tt.after, lo, hi, limit)
		}
	}
}

func TestController_SafetyFaultDisarms(t *testing.T) {
	var lastIndicator *bool
	c, _, sink := newTestController(t, testConfig(), WithIndicator(funcIndicator(func(armed bool) {
		lastIndicator = &armed
	})))
	_ = c.Arm(time.Unix(1, 0), telemetry.Estimate{})

	_, err := c.March(setpoint.Setpoint{EnablePitchYaw: true}, telemetry.Estimate{BatteryVoltage: 7.4}, false, time.Unix(2, 0))
	if !errors.Is(err, ErrNotRunning) || !fault.Is(err, fault.CategorySafety) {
		t.Fatalf("Expected safety fault, got %v", err)
	}
	if c.ArmState() != flight.Disarmed {
		t.Errorf("Expected controller to be disarmed")
	}
	if lastIndicator == nil || *lastIndicator {
		t.Errorf("Expected indicator to show DISARMED")
	}
	if sink.calls != 0 {
		t.Errorf("Expected no actuation on a safety fault, got %d calls", sink.calls)
	}
}

func TestController_DisarmedMarchIsQuiet(t *testing.T) {
	c, _, sink := newTestController(t, testConfig())

	out, err := c.March(setpoint.Setpoint{EnablePitchYaw: true}, telemetry.Estimate{BatteryVoltage: 7.4}, true, time.Unix(1, 0))
	if err != nil {
		t.Fatalf("March() error: %v", err)
	}
	if sink.calls != 0 || out.Channels != nil {
		t.Errorf("Expected no output while disarmed")
	}
}

func TestController_DisarmKeepsMemory(t *testing.T) {
	c, _, _ := newTestController(t, testConfig())
	now := time.Unix(1, 0)
	_ = c.Arm(now, telemetry.Estimate{})

	sp := setpoint.Setpoint{EnablePitchYaw: true}
	for i := 0; i < 5; i++ {
		_, _ = c.March(sp, telemetry.Estimate{Pitch: 0.3, BatteryVoltage: 7.4}, true, now)
	}
	c.Disarm()

	if c.Axis(AxisPitch).State().ControlErrorIntegral == 0 {
		t.Errorf("Expected disarm to keep the filter memory")
	}
}

func TestController_InvalidBattery(t *testing.T) {
	c, _, sink := newTestController(t, testConfig())
	_ = c.Arm(time.Unix(1, 0), telemetry.Estimate{})

	_, err := c.March(setpoint.Setpoint{EnablePitchYaw: true}, telemetry.Estimate{}, true, time.Unix(1, 0))
	if !errors.Is(err, ErrBatteryVoltage) || !fault.Is(err, fault.CategoryLogic) {
		t.Fatalf("Expected logic error for zero battery voltage, got %v", err)
	}
	if sink.calls != 0 {
		t.Errorf("Expected no actuation")
	}
}
