// Package rylr drives a REYAX RYLR896/RYLR406 LoRa modem over its AT-command
// UART interface. The mesh does its own addressing inside the frame, so the
// modem always transmits to the modem-level broadcast address and the binary
// frame rides hex-encoded in the AT+SEND payload.
package rylr

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/lmgal/LoRaMesh/mesh"
)

var _ mesh.Radio = (*Driver)(nil)

var (
	ErrModem     = errors.New("modem reported an error")
	ErrNoData    = errors.New("no frame data available")
	ErrFrameSize = errors.New("frame exceeds modem payload capacity")
)

const (
	// The modem caps one AT+SEND payload at 240 bytes of user data; each
	// frame byte costs two hex characters.
	maxFrameLen = 120

	cmdTimeout   = 2 * time.Second
	pollInterval = time.Millisecond
)

// Driver is a RYLR modem on a serial port.
type Driver struct {
	portName string
	baudRate int

	port serial.Port

	tx   []byte
	rxq  [][]byte
	cur  []byte
	pos  int
	line []byte
}

// New returns a driver for the modem on the named serial port.
func New(portName string) *Driver {
	return &Driver{
		portName: portName,
		baudRate: 115200,
	}
}

// SetBaudRate overrides the default 115200 baud.
func (d *Driver) SetBaudRate(rate int) { d.baudRate = rate }

// Begin opens the serial port and tunes the modem to the given carrier
// frequency in Hz.
func (d *Driver) Begin(frequency int64) error {
	mode := &serial.Mode{
		BaudRate: d.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(d.portName, mode)
	if err != nil {
		return fmt.Errorf("open serial port: %w", err)
	}
	if err := port.SetReadTimeout(pollInterval); err != nil {
		port.Close()
		return err
	}
	d.port = port

	if err := d.command("AT"); err != nil {
		return err
	}
	return d.command(fmt.Sprintf("AT+BAND=%d", frequency))
}

// Close releases the serial port.
func (d *Driver) Close() error {
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	return err
}

func (d *Driver) BeginPacket() error {
	d.tx = d.tx[:0]
	return nil
}

func (d *Driver) WriteByte(b byte) error {
	if len(d.tx) >= maxFrameLen {
		return ErrFrameSize
	}
	d.tx = append(d.tx, b)
	return nil
}

// EndPacket flushes the buffered frame as one AT+SEND to the modem broadcast
// address and waits for the modem to accept it.
func (d *Driver) EndPacket() error {
	payload := hex.EncodeToString(d.tx)
	return d.command(fmt.Sprintf("AT+SEND=0,%d,%s", len(payload), payload))
}

// ParsePacket drains the serial line and returns the length of the next
// received frame, or 0 when none is pending.
func (d *Driver) ParsePacket() int {
	d.pump()

	if len(d.rxq) == 0 {
		return 0
	}
	d.cur = d.rxq[0]
	d.rxq = d.rxq[1:]
	d.pos = 0
	return len(d.cur)
}

func (d *Driver) Available() bool { return d.pos < len(d.cur) }

func (d *Driver) ReadByte() (byte, error) {
	if d.pos >= len(d.cur) {
		return 0, ErrNoData
	}
	b := d.cur[d.pos]
	d.pos++
	return b, nil
}

// command writes one AT command and waits for +OK or +ERR. Unsolicited +RCV
// lines arriving in between are queued, not lost.
func (d *Driver) command(cmd string) error {
	if _, err := d.port.Write([]byte(cmd + "\r\n")); err != nil {
		return err
	}

	deadline := time.Now().Add(cmdTimeout)
	for time.Now().Before(deadline) {
		line, ok := d.readLine()
		if !ok {
			continue
		}
		switch {
		case strings.HasPrefix(line, "+OK"):
			return nil
		case strings.HasPrefix(line, "+ERR"):
			return fmt.Errorf("%w: %s (%s)", ErrModem, line, cmd)
		case strings.HasPrefix(line, "+RCV="):
			d.queueReceived(line)
		}
	}
	return fmt.Errorf("%w: no response to %s", ErrModem, cmd)
}

// pump reads whatever the modem has written and queues +RCV frames.
func (d *Driver) pump() {
	for {
		line, ok := d.readLine()
		if !ok {
			return
		}
		if strings.HasPrefix(line, "+RCV=") {
			d.queueReceived(line)
		}
	}
}

// readLine accumulates serial bytes until one full CRLF-terminated line is
// available. The short read timeout keeps it non-blocking in practice.
func (d *Driver) readLine() (string, bool) {
	buf := make([]byte, 64)
	for {
		if i := strings.Index(string(d.line), "\n"); i >= 0 {
			line := strings.TrimRight(string(d.line[:i]), "\r")
			d.line = d.line[i+1:]
			if line == "" {
				continue
			}
			return line, true
		}

		n, err := d.port.Read(buf)
		if err != nil || n == 0 {
			return "", false
		}
		d.line = append(d.line, buf[:n]...)
	}
}

// queueReceived parses "+RCV=<addr>,<len>,<data>,<rssi>,<snr>" and queues the
// hex-decoded frame.
func (d *Driver) queueReceived(line string) {
	body := strings.TrimPrefix(line, "+RCV=")
	parts := strings.SplitN(body, ",", 5)
	if len(parts) < 3 {
		return
	}

	n, err := strconv.Atoi(parts[1])
	if err != nil || n != len(parts[2]) {
		return
	}
	frame, err := hex.DecodeString(parts[2])
	if err != nil {
		return
	}
	d.rxq = append(d.rxq, frame)
}
