// Package sx127x drives a Semtech SX127x / HopeRF RFM9x LoRa transceiver
// over SPI, using the explicit-header LoRa packet engine. It satisfies the
// mesh radio contract: single-frame FIFO transmit between BeginPacket and
// EndPacket, polled receive via ParsePacket.
package sx127x

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"

	"github.com/lmgal/LoRaMesh/mesh"
)

var _ mesh.Radio = (*Driver)(nil)

var (
	ErrNotFound  = errors.New("sx127x not detected on SPI bus")
	ErrTxTimeout = errors.New("sx127x transmit did not complete")
	ErrOverflow  = errors.New("packet exceeds fifo capacity")
)

const (
	maxPacketLen = 255
	txTimeout    = 2 * time.Second
)

// Driver is an SX127x radio on an SPI port with a GPIO reset line.
type Driver struct {
	portName  string
	resetName string
	dio0Name  string
	spiFreq   physic.Frequency

	port  spi.PortCloser
	conn  spi.Conn
	reset gpio.PinIO
	dio0  gpio.PinIO

	txLen int
	rx    []byte
	rxPos int
}

// New returns a driver for the first available SPI port with the default
// wiring. Adjust with SetPins, SetPort and SetSPIFrequency before Begin.
func New() *Driver {
	return &Driver{
		resetName: "GPIO22",
		dio0Name:  "GPIO25",
		spiFreq:   8 * physic.MegaHertz,
	}
}

// SetPort selects the SPI port by registry name ("" means first available).
func (d *Driver) SetPort(name string) { d.portName = name }

// SetPins selects the reset and DIO0 GPIO lines by registry name.
func (d *Driver) SetPins(reset, dio0 string) {
	d.resetName = reset
	d.dio0Name = dio0
}

// SetSPIFrequency sets the SPI clock used for register access.
func (d *Driver) SetSPIFrequency(f physic.Frequency) { d.spiFreq = f }

// Begin initialises the host, resets the chip, verifies the silicon revision
// and configures the LoRa modem at the given carrier frequency in Hz.
func (d *Driver) Begin(frequency int64) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periph host init: %w", err)
	}

	port, err := spireg.Open(d.portName)
	if err != nil {
		return fmt.Errorf("open spi port: %w", err)
	}
	conn, err := port.Connect(d.spiFreq, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return fmt.Errorf("connect spi: %w", err)
	}
	d.port = port
	d.conn = conn

	if d.resetName != "" {
		d.reset = gpioreg.ByName(d.resetName)
		if d.reset == nil {
			return fmt.Errorf("reset pin %q not found", d.resetName)
		}
		if err := d.hardReset(); err != nil {
			return err
		}
	}
	if d.dio0Name != "" {
		d.dio0 = gpioreg.ByName(d.dio0Name)
	}

	if v, err := d.readReg(regVersion); err != nil {
		return err
	} else if v != versionSX127x {
		return ErrNotFound
	}

	// Sleep first: LongRangeMode is only writable in sleep.
	if err := d.writeReg(regOpMode, modeLongRangeMode|modeSleep); err != nil {
		return err
	}

	if err := d.setFrequency(frequency); err != nil {
		return err
	}

	for _, w := range [][2]byte{
		{regFifoTxBaseAddr, fifoTxBaseAddr},
		{regFifoRxBaseAddr, fifoRxBaseAddr},
		// Max LNA gain, boosted HF input.
		{regLna, 0x23},
		// AGC on.
		{regModemConfig3, 0x04},
		// Bw 125 kHz, Cr 4/5, explicit header.
		{regModemConfig1, 0x72},
		// SF7, CRC on.
		{regModemConfig2, 0x74},
		// PA_BOOST, 17 dBm.
		{regPaConfig, 0x8F},
	} {
		if err := d.writeReg(w[0], w[1]); err != nil {
			return err
		}
	}

	return d.writeReg(regOpMode, modeLongRangeMode|modeStdby)
}

// Close releases the SPI port.
func (d *Driver) Close() error {
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	d.conn = nil
	return err
}

// BeginPacket puts the modem in standby and rewinds the FIFO for one frame.
func (d *Driver) BeginPacket() error {
	if err := d.writeReg(regOpMode, modeLongRangeMode|modeStdby); err != nil {
		return err
	}
	if err := d.writeReg(regFifoAddrPtr, fifoTxBaseAddr); err != nil {
		return err
	}
	d.txLen = 0
	return nil
}

// WriteByte appends one byte to the outgoing frame in the FIFO.
func (d *Driver) WriteByte(b byte) error {
	if d.txLen >= maxPacketLen {
		return ErrOverflow
	}
	if err := d.writeReg(regFifo, b); err != nil {
		return err
	}
	d.txLen++
	return nil
}

// EndPacket transmits the frame and blocks until it has left the air.
func (d *Driver) EndPacket() error {
	if err := d.writeReg(regPayloadLength, byte(d.txLen)); err != nil {
		return err
	}
	if err := d.writeReg(regOpMode, modeLongRangeMode|modeTx); err != nil {
		return err
	}

	deadline := time.Now().Add(txTimeout)
	for {
		flags, err := d.readReg(regIrqFlags)
		if err != nil {
			return err
		}
		if flags&irqTxDoneMask != 0 {
			return d.writeReg(regIrqFlags, irqTxDoneMask)
		}
		if time.Now().After(deadline) {
			return ErrTxTimeout
		}
		time.Sleep(time.Millisecond)
	}
}

// ParsePacket polls for a received frame. It returns the frame length, or 0
// when the radio is idle or the frame failed its CRC.
func (d *Driver) ParsePacket() int {
	flags, err := d.readReg(regIrqFlags)
	if err != nil {
		return 0
	}

	if flags&irqRxDoneMask == 0 {
		// Make sure the modem is actually listening.
		if mode, err := d.readReg(regOpMode); err == nil && mode != modeLongRangeMode|modeRxContinuous {
			d.writeReg(regFifoAddrPtr, fifoRxBaseAddr)
			d.writeReg(regOpMode, modeLongRangeMode|modeRxContinuous)
		}
		return 0
	}

	d.writeReg(regIrqFlags, irqRxDoneMask|irqPayloadCrcErrMask)
	if flags&irqPayloadCrcErrMask != 0 {
		return 0
	}

	n, err := d.readReg(regRxNbBytes)
	if err != nil || n == 0 {
		return 0
	}
	cur, err := d.readReg(regFifoRxCurrentAddr)
	if err != nil {
		return 0
	}
	if err := d.writeReg(regFifoAddrPtr, cur); err != nil {
		return 0
	}

	d.rx = make([]byte, 0, n)
	for i := 0; i < int(n); i++ {
		b, err := d.readReg(regFifo)
		if err != nil {
			break
		}
		d.rx = append(d.rx, b)
	}
	d.rxPos = 0
	return len(d.rx)
}

// Available reports whether bytes of the current frame remain unread.
func (d *Driver) Available() bool { return d.rxPos < len(d.rx) }

// ReadByte returns the next byte of the current frame.
func (d *Driver) ReadByte() (byte, error) {
	if d.rxPos >= len(d.rx) {
		return 0, errors.New("no frame data available")
	}
	b := d.rx[d.rxPos]
	d.rxPos++
	return b, nil
}

func (d *Driver) hardReset() error {
	if err := d.reset.Out(gpio.Low); err != nil {
		return err
	}
	time.Sleep(10 * time.Millisecond)
	if err := d.reset.Out(gpio.High); err != nil {
		return err
	}
	time.Sleep(10 * time.Millisecond)
	return nil
}

func (d *Driver) setFrequency(hz int64) error {
	// Frf = freq / (Fxosc / 2^19), Fxosc = 32 MHz.
	frf := (uint64(hz) << 19) / 32000000
	if err := d.writeReg(regFrfMsb, byte(frf>>16)); err != nil {
		return err
	}
	if err := d.writeReg(regFrfMid, byte(frf>>8)); err != nil {
		return err
	}
	return d.writeReg(regFrfLsb, byte(frf))
}

func (d *Driver) readReg(addr byte) (byte, error) {
	rx := make([]byte, 2)
	if err := d.conn.Tx([]byte{addr & 0x7F, 0x00}, rx); err != nil {
		return 0, err
	}
	return rx[1], nil
}

func (d *Driver) writeReg(addr, value byte) error {
	rx := make([]byte, 2)
	return d.conn.Tx([]byte{addr | 0x80, value}, rx)
}
