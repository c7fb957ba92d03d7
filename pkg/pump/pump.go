// Package pump drives a Bartels mp6 piezoelectric micropump through its
// mp6-OEM driver board, attached behind a serial bridge MCU.
//
// The host computes the driver's amplitude and frequency register bytes
// and sends line commands; the bridge performs the bus writes:
//
//	DRV <amp> <freq>   full waveform configuration (first run)
//	AMP <amp>          amplitude-only update
//	OFF                two-pass zero-amplitude stop sequence
//
// The bridge acknowledges every command with "OK" or "ERR <reason>".
package pump

import (
	"bufio"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/itohio/gopump/pkg/config"
)

const (
	// DefaultBaudRate is the standard baud rate for the bridge MCU.
	DefaultBaudRate = 115200
	// ackTimeout bounds the wait for a command acknowledgement.
	ackTimeout = 100 * time.Millisecond
)

// freqStep is the mp6-OEM frequency register resolution: one register
// count per 7.8125 Hz.
const freqStep = 7.8125

// FreqByte converts a drive frequency in Hz to the driver's frequency
// register value. Zero maps to the lowest valid setting.
func FreqByte(hz float32) uint8 {
	b := uint8(hz / freqStep) // truncate
	if b == 0 {
		b = 1
	}
	return b
}

// AmplitudeByte converts a voltage command to the driver's amplitude
// register value, scaled against the hardware's absolute maximum.
func AmplitudeByte(voltage, absoluteMax float32) uint8 {
	ratio := voltage / absoluteMax
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return uint8(ratio * 255.0)
}

// Serial commands the pump driver over the serial bridge.
type Serial struct {
	port     string
	baudRate int
	cfg      config.PumpConfig

	mu        sync.Mutex
	conn      serial.Port
	reader    *bufio.Reader
	connected bool
	firstRun  bool
}

// New creates a new Serial driver for the given port.
func New(port string, baudRate int, cfg config.PumpConfig) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	return &Serial{
		port:     port,
		baudRate: baudRate,
		cfg:      cfg,
	}
}

// Connect opens the serial port.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}

	conn, err := serial.Open(d.port, &serial.Mode{BaudRate: d.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}
	if err := conn.SetReadTimeout(ackTimeout); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	d.conn = conn
	d.reader = bufio.NewReader(conn)
	d.connected = true
	d.firstRun = true

	return nil
}

// Close stops the pump and closes the serial port.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	// Best effort: never leave the pump running on shutdown.
	if err := d.command("OFF"); err != nil {
		log.Printf("pump: stop on close failed: %v", err)
	}

	if err := d.conn.Close(); err != nil {
		log.Printf("pump: error closing serial port: %v", err)
	}
	d.conn = nil
	d.reader = nil
	d.connected = false

	return nil
}

// Drive commands the pump to the given voltage. The first command after
// connecting writes the full waveform configuration (amplitude and
// frequency); subsequent commands update the amplitude only.
func (d *Serial) Drive(voltage float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return fmt.Errorf("not connected")
	}

	if voltage > d.cfg.MaxVoltage {
		voltage = d.cfg.MaxVoltage
	}
	if voltage < d.cfg.MinVoltage {
		voltage = d.cfg.MinVoltage
	}

	amp := AmplitudeByte(voltage, d.cfg.AbsoluteMax)

	if d.firstRun {
		if err := d.command(fmt.Sprintf("DRV %d %d", amp, FreqByte(d.cfg.Frequency))); err != nil {
			return err
		}
		d.firstRun = false
		return nil
	}

	return d.command(fmt.Sprintf("AMP %d", amp))
}

// Stop halts the pump by zeroing its amplitude. The next Drive rewrites
// the full waveform configuration.
func (d *Serial) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return fmt.Errorf("not connected")
	}

	if err := d.command("OFF"); err != nil {
		return err
	}
	d.firstRun = true
	return nil
}

// IsConnected returns whether the driver is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// command sends one line to the bridge and waits for its acknowledgement.
// Callers must hold the mutex.
func (d *Serial) command(line string) error {
	if _, err := d.conn.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("failed to send %q: %w", line, err)
	}

	resp, err := d.reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("no ack for %q: %w", line, err)
	}
	resp = strings.TrimSpace(resp)
	if resp != "OK" {
		return fmt.Errorf("bridge rejected %q: %s", line, resp)
	}
	return nil
}
