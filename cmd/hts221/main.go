package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	logger "github.com/d2r2/go-logger"
	"github.com/davecgh/go-spew/spew"
	"github.com/mikesmitty/hts221"
	"github.com/mikesmitty/hts221/d2r2i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

func main() {
	bus := flag.String("bus", "", "Name of the bus (periph transport)")
	transport := flag.String("transport", "periph", "Bus transport: periph or d2r2")
	busNum := flag.Int("i2c", 1, "I²C bus number (d2r2 transport)")
	addr := flag.Uint("addr", uint(hts221.DefaultAddr), "I²C address of the sensor")
	interval := flag.Duration("interval", time.Second, "Interval between readings")
	strict := flag.Bool("strict", false, "Fail if the device does not identify as an HTS221")
	dump := flag.Bool("dump", false, "Dump the decoded calibration coefficients")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	opts := hts221.DefaultOptions()
	opts.Addr = uint16(*addr)
	opts.Strict = *strict

	var dev *hts221.Dev
	var err error
	switch *transport {
	case "periph":
		if _, herr := host.Init(); herr != nil {
			fatal("host init failed", herr, 2)
		}
		b, berr := i2creg.Open(*bus)
		if berr != nil {
			fatal("failed to open I²C", berr, 2)
		}
		defer b.Close()
		dev, err = hts221.New(b, opts)
	case "d2r2":
		d2r2Level := logger.InfoLevel
		if *verbose {
			d2r2Level = logger.DebugLevel
		}
		if lerr := logger.ChangePackageLogLevel("i2c", d2r2Level); lerr != nil {
			fatal("failed to set i2c log level", lerr, 2)
		}
		defer logger.FinalizeLogger()
		b, berr := d2r2i2c.Open(uint8(*addr), *busNum)
		if berr != nil {
			fatal("failed to open I²C", berr, 2)
		}
		opts.Name = b.String()
		dev, err = hts221.NewRegisters(b, opts)
	default:
		fatal("invalid transport", fmt.Errorf("%q", *transport), 2)
	}
	if err != nil {
		fatal("sensor error", err, 2)
	}
	defer dev.Close()

	if dev.State() != hts221.StateReady {
		fatal("sensor not ready", hts221.ErrNotReady, 2)
	}

	if *dump {
		c, _ := dev.Calibration()
		spew.Fdump(os.Stderr, c)
	}

	sensing, err := dev.SenseContinuous(*interval)
	if err != nil {
		fatal("sensor read failed", err, 2)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case e, ok := <-sensing:
			if !ok {
				slog.Error("sensing stopped")
				return
			}
			slog.Info("reading", "temperature", e.Temperature.Celsius(), "humidity", e.Humidity.String())
		case s := <-sig:
			slog.Info("shutting down", "signal", s)
			if err := dev.Close(); err != nil {
				slog.Error("power-down failed", "error", err)
			}
			return
		}
	}
}

func fatal(msg string, err error, code int) {
	slog.Error(msg, "error", err)
	os.Exit(code)
}
