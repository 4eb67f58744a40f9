package hts221

import (
	"errors"
	"math"
	"testing"
)

func TestReadCalibration(t *testing.T) {
	r := newRegFile()
	r.setWindow([16]uint8{
		0x64, 0x96, 0x14, 0x28, 0xAA, 0x00, 0x34, 0x12,
		0xAA, 0xAA, 0xF0, 0xFF, 0x00, 0x80, 0xFF, 0x7F,
	})

	c, err := readCalibration(r)
	if err != nil {
		t.Fatal(err)
	}
	want := Calibration{
		H0RH:    100,
		H1RH:    150,
		T0DegC:  0x14,
		T1DegC:  0x28,
		H0T0Out: 0x1234,
		H1T0Out: -16,
		T0Out:   math.MinInt16,
		T1Out:   math.MaxInt16,
	}
	if c != want {
		t.Fatalf("got %+v, want %+v", c, want)
	}
}

func TestReadCalibrationSharedHighBits(t *testing.T) {
	for _, tc := range []struct {
		shared uint8
		t0, t1 int16
	}{
		{0b0000_0000, 0x014, 0x028},
		{0b0000_0101, 0x114, 0x128},
		{0b0000_0001, 0x114, 0x028},
		{0b0000_0100, 0x014, 0x128},
		{0b0000_1111, 0x314, 0x328},
		{0b1111_0000, 0x014, 0x028},
	} {
		r := newRegFile()
		r.setWindow([16]uint8{2: 0x14, 3: 0x28, 5: tc.shared})
		c, err := readCalibration(r)
		if err != nil {
			t.Fatal(err)
		}
		if c.T0DegC != tc.t0 {
			t.Errorf("shared=%08b: T0DegC = %#x, want %#x", tc.shared, c.T0DegC, tc.t0)
		}
		if c.T1DegC != tc.t1 {
			t.Errorf("shared=%08b: T1DegC = %#x, want %#x", tc.shared, c.T1DegC, tc.t1)
		}
	}
}

func TestReadCalibrationOrder(t *testing.T) {
	r := newRegFile()
	if _, err := readCalibration(r); err != nil {
		t.Fatal(err)
	}
	want := []uint8{0x30, 0x31, 0x32, 0x33, 0x35, 0x36, 0x37, 0x3A, 0x3B, 0x3C, 0x3D, 0x3E, 0x3F}
	if len(r.reads) != len(want) {
		t.Fatalf("read %#x, want %#x", r.reads, want)
	}
	for i := range want {
		if r.reads[i] != want[i] {
			t.Fatalf("read %#x, want %#x", r.reads, want)
		}
	}
	if len(r.writes) != 0 {
		t.Fatalf("unexpected writes %v", r.writes)
	}
}

func TestReadCalibrationFailure(t *testing.T) {
	r := newRegFile()
	r.setWindow([16]uint8{0x64, 0x96, 0x14, 0x28})
	r.failRead[0x3D] = errors.New("nack")

	c, err := readCalibration(r)
	var be *BusError
	if !errors.As(err, &be) {
		t.Fatalf("got %v, want *BusError", err)
	}
	if be.Reg != 0x3D || be.Op != "read" {
		t.Fatalf("got %+v", be)
	}
	if c != (Calibration{}) {
		t.Fatalf("partial calibration leaked: %+v", c)
	}
}

func TestTemperature(t *testing.T) {
	c := Calibration{T0DegC: 0, T1DegC: 400, T0Out: 0, T1Out: 2000}
	got, err := c.Temperature(0x0190)
	if err != nil {
		t.Fatal(err)
	}
	if got != 10.0 {
		t.Fatalf("got %v, want 10", got)
	}

	// T0 offset is applied after the ×8 scaling.
	c = Calibration{T0DegC: 160, T1DegC: 400, T0Out: -1000, T1Out: 1000}
	got, err = c.Temperature(0)
	if err != nil {
		t.Fatal(err)
	}
	if got != 35.0 {
		t.Fatalf("got %v, want 35", got)
	}
}

func TestHumidity(t *testing.T) {
	c := Calibration{H0RH: 0x64, H1RH: 0x96, H0T0Out: 0, H1T0Out: 1000}
	got, err := c.Humidity(500)
	if err != nil {
		t.Fatal(err)
	}
	if got != 62.5 {
		t.Fatalf("got %v, want 62.5", got)
	}
}

func TestCompensationNotClamped(t *testing.T) {
	c := Calibration{
		H0RH: 0x64, H1RH: 0x96, H0T0Out: 0, H1T0Out: 1000,
		T0DegC: 0, T1DegC: 400, T0Out: 0, T1Out: 2000,
	}
	temp, err := c.Temperature(math.MaxInt16)
	if err != nil {
		t.Fatal(err)
	}
	if temp <= 120 {
		t.Fatalf("temperature %v was clamped", temp)
	}
	hum, err := c.Humidity(math.MaxInt16)
	if err != nil {
		t.Fatal(err)
	}
	if hum <= 100 {
		t.Fatalf("humidity %v was clamped", hum)
	}
	hum, err = c.Humidity(math.MinInt16)
	if err != nil {
		t.Fatal(err)
	}
	if hum >= 0 {
		t.Fatalf("humidity %v was clamped", hum)
	}
}

func TestCompensationWideSpan(t *testing.T) {
	c := Calibration{T0DegC: 80, T1DegC: 800, T0Out: -30000, T1Out: 30000}
	got, err := c.Temperature(30000)
	if err != nil {
		t.Fatal(err)
	}
	if got != 100 {
		t.Fatalf("got %v, want 100", got)
	}
}

func TestCalibrationDivideByZero(t *testing.T) {
	c := Calibration{T0DegC: 0, T1DegC: 400, T0Out: 1234, T1Out: 1234, H0RH: 10, H1RH: 20}
	v, err := c.Temperature(400)
	if !errors.Is(err, ErrCalibrationDivideByZero) {
		t.Fatalf("got %v, want ErrCalibrationDivideByZero", err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		t.Fatalf("got %v", v)
	}
	if _, err := c.Humidity(400); !errors.Is(err, ErrCalibrationDivideByZero) {
		t.Fatalf("got %v, want ErrCalibrationDivideByZero", err)
	}
	if _, err := (&Calibration{}).Temperature(0); !errors.Is(err, ErrCalibrationDivideByZero) {
		t.Fatalf("zero calibration: got %v", err)
	}
}

func TestTemperatureMonotonic(t *testing.T) {
	for _, c := range []Calibration{
		{T0DegC: 80, T1DegC: 320, T0Out: -200, T1Out: 700},
		{T0DegC: 320, T1DegC: 80, T0Out: -200, T1Out: 700},
	} {
		rising := c.T1DegC > c.T0DegC
		prev, err := c.Temperature(math.MinInt16)
		if err != nil {
			t.Fatal(err)
		}
		for raw := math.MinInt16 + 97; raw <= math.MaxInt16; raw += 97 {
			got, err := c.Temperature(int16(raw))
			if err != nil {
				t.Fatal(err)
			}
			if rising && got <= prev || !rising && got >= prev {
				t.Fatalf("%+v: raw %d gave %v after %v", c, raw, got, prev)
			}
			prev = got
		}
	}
}
