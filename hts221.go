package hts221

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/mmr"
	"periph.io/x/conn/v3/physic"
)

var (
	ErrNotReady                = errors.New("hts221: not ready")
	ErrCalibrationDivideByZero = errors.New("hts221: degenerate calibration anchors")
	ErrUnknownDevice           = errors.New("hts221: unexpected WHO_AM_I value")
)

// BusError is a failed register transaction.
type BusError struct {
	Op  string
	Reg uint8
	Err error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("%s register 0x%02X: %v", e.Op, e.Reg, e.Err)
}

func (e *BusError) Unwrap() error {
	return e.Err
}

// Registers is the single-byte register transport the driver runs on.
// *mmr.Dev8 satisfies it. If it also implements io.Closer it is closed when
// the Dev is closed.
type Registers interface {
	ReadUint8(reg uint8) (uint8, error)
	WriteUint8(reg uint8, v uint8) error
}

// Opts holds various configuration options for the sensor
type Opts struct {
	// Addr is the I²C address, only used by New.
	Addr uint16
	// Name identifies the device in errors and logs. New defaults it to the
	// bus name.
	Name string
	// IdentityProbe reads the register at the expected WHO_AM_I value when
	// identification fails. The value is only logged.
	IdentityProbe bool
	// Strict turns an identity mismatch into a bring-up error instead of a
	// device that reports ErrNotReady.
	Strict bool
	Logger *slog.Logger
}

func DefaultOptions() *Opts {
	return &Opts{
		Addr:          DefaultAddr,
		IdentityProbe: true,
	}
}

// New opens the HTS221 on bus b and runs bring-up.
func New(b i2c.Bus, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.Addr == 0 {
		o.Addr = DefaultAddr
	}
	if o.Name == "" {
		o.Name = b.String()
	}
	r := &mmr.Dev8{
		Conn:  &i2c.Dev{Bus: b, Addr: o.Addr},
		Order: binary.LittleEndian,
	}
	return NewRegisters(r, &o)
}

// NewRegisters runs bring-up over an already addressed register transport.
//
// A bus failure aborts bring-up, powers the device down on a best-effort
// basis and returns the error. A device that does not identify as an HTS221
// is returned closed, and its reads fail with ErrNotReady, unless
// opts.Strict is set.
func NewRegisters(r Registers, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	d := &Dev{
		regs:   r,
		opts:   *opts,
		name:   opts.Name,
		logger: opts.Logger,
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.name != "" {
		d.logger = d.logger.With("device", d.name)
	}

	if err := d.bringUp(); err != nil {
		return nil, d.wrap(err)
	}
	return d, nil
}

// Dev is a handle to an HTS221.
type Dev struct {
	regs   Registers
	opts   Opts
	name   string
	logger *slog.Logger

	mu    sync.Mutex
	state State
	mode  Mode
	calib *Calibration

	stop chan struct{}
	wg   sync.WaitGroup
}

func (d *Dev) String() string {
	return fmt.Sprintf("hts221{%s}", d.name)
}

func (d *Dev) bringUp() error {
	d.state = StateIdentifying
	// WHO_AM_I is only reliable once the device is powered.
	if err := d.setMode(ModeActive); err != nil {
		return d.abort(err)
	}
	id, err := d.readReg(regWhoAmI)
	if err != nil {
		return d.abort(err)
	}
	if id != whoAmIValue {
		if d.opts.IdentityProbe {
			v, perr := d.regs.ReadUint8(whoAmIValue)
			d.logger.Debug("identity probe", "reg", whoAmIValue, "value", v, "error", perr)
		}
		d.logger.Warn("unexpected identity, device left closed", "who_am_i", id, "want", whoAmIValue)
		if err := d.teardown(); err != nil {
			d.logger.Debug("teardown after identity mismatch", "error", err)
		}
		if d.opts.Strict {
			return fmt.Errorf("%w: got 0x%02X", ErrUnknownDevice, id)
		}
		return nil
	}

	d.state = StateLoadingCalibration
	c, err := readCalibration(d.regs)
	if err != nil {
		return d.abort(err)
	}
	d.logger.Debug("calibration loaded", "calibration", c)

	d.state = StateConfiguring
	if err := d.setBlockUpdate(true); err != nil {
		return d.abort(err)
	}

	d.calib = &c
	d.state = StateReady
	return nil
}

// abort tears the device down after a failed bring-up step. Teardown errors
// are dropped in favour of err.
func (d *Dev) abort(err error) error {
	state := d.state
	if terr := d.teardown(); terr != nil {
		d.logger.Debug("teardown after failed bring-up", "error", terr)
	}
	return fmt.Errorf("bring-up failed while %s: %w", state, err)
}

// teardown disables BDU, powers the device down and releases the transport.
// Every step is attempted.
func (d *Dev) teardown() error {
	var errs []error
	if err := d.setBlockUpdate(false); err != nil {
		errs = append(errs, err)
	}
	if err := d.setMode(ModePowerDown); err != nil {
		errs = append(errs, err)
	}
	if c, ok := d.regs.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.regs = nil
	d.calib = nil
	d.state = StateClosed
	return errors.Join(errs...)
}

// Close stops continuous sensing, disables block data update, powers the
// device down and releases the transport. Closing a closed Dev is a no-op.
func (d *Dev) Close() error {
	if err := d.Halt(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateUninitialized || d.state == StateClosed {
		return nil
	}
	if err := d.teardown(); err != nil {
		d.logger.Warn("teardown incomplete", "error", err)
		return d.wrap(err)
	}
	return nil
}

// State returns the bring-up stage.
func (d *Dev) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Mode returns the last commanded power mode.
func (d *Dev) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// Calibration returns a copy of the decoded coefficients. ok is false unless
// the device is ready.
func (d *Dev) Calibration() (c Calibration, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateReady {
		return Calibration{}, false
	}
	return *d.calib, true
}

// SetMode switches between active (1 Hz) and power-down.
func (d *Dev) SetMode(m Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateReady {
		return d.wrap(ErrNotReady)
	}
	if err := d.setMode(m); err != nil {
		return d.wrap(err)
	}
	return nil
}

// SetBlockDataUpdate toggles the BDU latch that keeps both bytes of a sample
// from the same conversion.
func (d *Dev) SetBlockDataUpdate(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateReady {
		return d.wrap(ErrNotReady)
	}
	if err := d.setBlockUpdate(on); err != nil {
		return d.wrap(err)
	}
	return nil
}

// Temperature returns the compensated temperature in °C.
func (d *Dev) Temperature() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.temperature()
	if err != nil {
		return 0, d.wrap(err)
	}
	return t, nil
}

// Humidity returns the compensated relative humidity in %.
func (d *Dev) Humidity() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, err := d.humidity()
	if err != nil {
		return 0, d.wrap(err)
	}
	return h, nil
}

func (d *Dev) temperature() (float64, error) {
	if d.state != StateReady {
		return 0, ErrNotReady
	}
	raw, err := d.readSample(regTempOutL, regTempOutH)
	if err != nil {
		return 0, err
	}
	return d.calib.Temperature(raw)
}

func (d *Dev) humidity() (float64, error) {
	if d.state != StateReady {
		return 0, ErrNotReady
	}
	raw, err := d.readSample(regHumOutL, regHumOutH)
	if err != nil {
		return 0, err
	}
	return d.calib.Humidity(raw)
}

// Sense reads humidity and temperature into e.
func (d *Dev) Sense(e *physic.Env) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return d.wrap(errors.New("already sensing continuously"))
	}
	if err := d.sense(e); err != nil {
		return d.wrap(err)
	}
	return nil
}

func (d *Dev) sense(e *physic.Env) error {
	h, err := d.humidity()
	if err != nil {
		return err
	}
	t, err := d.temperature()
	if err != nil {
		return err
	}
	e.Humidity = physic.RelativeHumidity(math.Round(h * float64(physic.PercentRH)))
	e.Temperature = physic.Temperature(math.Round(t*1000))*physic.MilliCelsius + physic.ZeroCelsius
	return nil
}

// SenseContinuous returns measurements on a continuous basis. The interval is
// raised to one second, the output data rate the device runs at.
//
// The application must call Halt() to stop the sensing when done to stop the
// goroutine and close the channel.
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	if err := d.Halt(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateReady {
		return nil, d.wrap(ErrNotReady)
	}
	if interval < time.Second {
		interval = time.Second
	}

	sensing := make(chan physic.Env)
	d.stop = make(chan struct{})
	d.wg.Add(1)
	go func(stop <-chan struct{}) {
		defer d.wg.Done()
		defer close(sensing)
		d.sensingContinuous(interval, sensing, stop)
	}(d.stop)
	return sensing, nil
}

func (d *Dev) sensingContinuous(interval time.Duration, sensing chan<- physic.Env, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		// Do one initial sensing right away.
		e := physic.Env{}
		d.mu.Lock()
		err := d.sense(&e)
		d.mu.Unlock()
		if err != nil {
			d.logger.Warn("continuous sensing stopped", "error", err)
			return
		}
		select {
		case sensing <- e:
		case <-stop:
			return
		}
		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}

// Precision reports the size of one ADC step, derived from the calibration
// slopes once the device is ready.
func (d *Dev) Precision(e *physic.Env) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e.Temperature = physic.Kelvin / 64
	e.Humidity = physic.PercentRH / 256
	if d.state != StateReady {
		return
	}
	c := d.calib
	if span := int32(c.T1Out) - int32(c.T0Out); span != 0 {
		step := math.Abs(float64(int32(c.T1DegC)-int32(c.T0DegC)) / 8 / float64(span))
		e.Temperature = physic.Temperature(step * float64(physic.Kelvin))
	}
	if span := int32(c.H1T0Out) - int32(c.H0T0Out); span != 0 {
		step := math.Abs((float64(c.H1RH) - float64(c.H0RH)) / 2 / float64(span))
		e.Humidity = physic.RelativeHumidity(step * float64(physic.PercentRH))
	}
}

// Halt stops the HTS221 from acquiring measurements as initiated by
// SenseContinuous(). It does not power the device down, use Close for that.
func (d *Dev) Halt() error {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	d.wg.Wait()
	return nil
}

// setMode records m and writes it to CTRL_REG1. Power-down leaves the ODR
// bits alone.
func (d *Dev) setMode(m Mode) error {
	d.mode = m
	if m == ModeActive {
		return d.updateCtrl(ctrlPD|ctrlODR1Hz, 0)
	}
	return d.updateCtrl(0, ctrlPD)
}

func (d *Dev) setBlockUpdate(on bool) error {
	if on {
		return d.updateCtrl(ctrlBDU, 0)
	}
	return d.updateCtrl(0, ctrlBDU)
}

// updateCtrl is a read-modify-write of CTRL_REG1. Callers hold d.mu.
func (d *Dev) updateCtrl(set, clear uint8) error {
	v, err := d.readReg(regCtrl1)
	if err != nil {
		return err
	}
	return d.writeReg(regCtrl1, v&^clear|set)
}

// readSample reads the LSB then the MSB of a sample register pair.
func (d *Dev) readSample(lo, hi uint8) (int16, error) {
	l, err := d.readReg(lo)
	if err != nil {
		return 0, err
	}
	h, err := d.readReg(hi)
	if err != nil {
		return 0, err
	}
	return int16(uint16(h)<<8 | uint16(l)), nil
}

func (d *Dev) readReg(reg uint8) (uint8, error) {
	if d.regs == nil {
		return 0, ErrNotReady
	}
	v, err := d.regs.ReadUint8(reg)
	if err != nil {
		return 0, &BusError{Op: "read", Reg: reg, Err: err}
	}
	return v, nil
}

func (d *Dev) writeReg(reg, v uint8) error {
	if d.regs == nil {
		return ErrNotReady
	}
	if err := d.regs.WriteUint8(reg, v); err != nil {
		return &BusError{Op: "write", Reg: reg, Err: err}
	}
	return nil
}

func (d *Dev) wrap(err error) error {
	if d.name == "" {
		return err
	}
	return fmt.Errorf("%s: %w", strings.ToLower(d.name), err)
}

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
var _ Registers = &mmr.Dev8{}
