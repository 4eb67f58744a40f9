package hts221

// Calibration holds the factory coefficients decoded from the 0x30-0x3F
// window. The values keep the storage conventions of the device: humidity
// points are ×2 and temperature points are ×8.
type Calibration struct {
	H0RH   uint8
	H1RH   uint8
	T0DegC int16 // 10 bits
	T1DegC int16 // 10 bits

	H0T0Out int16
	H1T0Out int16
	T0Out   int16
	T1Out   int16
}

// Temperature converts a raw TEMP_OUT sample to °C by interpolating between
// the two temperature anchors.
func (c *Calibration) Temperature(raw int16) (float64, error) {
	span := int32(c.T1Out) - int32(c.T0Out)
	if span == 0 {
		return 0, ErrCalibrationDivideByZero
	}
	slope := float64(int32(c.T1DegC)-int32(c.T0DegC)) / 8.0
	t := float64(int32(raw)-int32(c.T0Out)) * slope / float64(span)
	return float64(c.T0DegC)/8.0 + t, nil
}

// Humidity converts a raw HUMIDITY_OUT sample to %RH by interpolating between
// the two humidity anchors.
func (c *Calibration) Humidity(raw int16) (float64, error) {
	span := int32(c.H1T0Out) - int32(c.H0T0Out)
	if span == 0 {
		return 0, ErrCalibrationDivideByZero
	}
	halfSpan := (float64(c.H1RH) - float64(c.H0RH)) / 2.0
	h := float64(int32(raw)-int32(c.H0T0Out)) * halfSpan / float64(span)
	return float64(c.H0RH)/2.0 + h, nil
}

const (
	coefH0RH = iota
	coefH1RH
	coefT0DegC
	coefT1DegC
	coefH0T0Out
	coefH1T0Out
	coefT0Out
	coefT1Out
	numCoefs
)

// calibPart folds ((v&mask)>>rshift)<<lshift into one coefficient.
type calibPart struct {
	coef   int
	mask   uint8
	rshift uint
	lshift uint
}

// calibWindow maps each offset of the calibration window to the coefficient
// bits it carries. Offsets without parts are reserved and never read. High
// bytes are OR'd into the low byte read at the previous offset, so the
// window has to be walked in ascending order.
var calibWindow = [16][]calibPart{
	0x0: {{coef: coefH0RH, mask: 0xFF}},
	0x1: {{coef: coefH1RH, mask: 0xFF}},
	0x2: {{coef: coefT0DegC, mask: 0xFF}},
	0x3: {{coef: coefT1DegC, mask: 0xFF}},
	0x5: {
		{coef: coefT0DegC, mask: 0x03, lshift: 8},
		{coef: coefT1DegC, mask: 0x0C, rshift: 2, lshift: 8},
	},
	0x6: {{coef: coefH0T0Out, mask: 0xFF}},
	0x7: {{coef: coefH0T0Out, mask: 0xFF, lshift: 8}},
	0xA: {{coef: coefH1T0Out, mask: 0xFF}},
	0xB: {{coef: coefH1T0Out, mask: 0xFF, lshift: 8}},
	0xC: {{coef: coefT0Out, mask: 0xFF}},
	0xD: {{coef: coefT0Out, mask: 0xFF, lshift: 8}},
	0xE: {{coef: coefT1Out, mask: 0xFF}},
	0xF: {{coef: coefT1Out, mask: 0xFF, lshift: 8}},
}

// readCalibration decodes the whole calibration window. Nothing is returned
// unless every register was read.
func readCalibration(r Registers) (Calibration, error) {
	var words [numCoefs]uint16
	for off, parts := range calibWindow {
		if len(parts) == 0 {
			continue
		}
		reg := regCalibBase + uint8(off)
		v, err := r.ReadUint8(reg)
		if err != nil {
			return Calibration{}, &BusError{Op: "read", Reg: reg, Err: err}
		}
		for _, p := range parts {
			words[p.coef] |= uint16((v&p.mask)>>p.rshift) << p.lshift
		}
	}

	return Calibration{
		H0RH:    uint8(words[coefH0RH]),
		H1RH:    uint8(words[coefH1RH]),
		T0DegC:  int16(words[coefT0DegC]),
		T1DegC:  int16(words[coefT1DegC]),
		H0T0Out: int16(words[coefH0T0Out]),
		H1T0Out: int16(words[coefH1T0Out]),
		T0Out:   int16(words[coefT0Out]),
		T1Out:   int16(words[coefT1Out]),
	}, nil
}
