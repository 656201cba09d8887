package onewire

import (
	"errors"
	"fmt"

	"github.com/solatis/aadnode/internal/types"
)

// ROM commands.
const (
	cmdSearchROM = 0xF0
	cmdMatchROM  = 0x55
	cmdSkipROM   = 0xCC
)

// DS18B20 function commands.
const (
	cmdConvertT       = 0x44
	cmdReadScratchpad = 0xBE
)

// FamilyDS18B20 is the family code of DS18B20 sensors.
const FamilyDS18B20 = 0x28

// MaxDevices bounds a search.
const MaxDevices = types.MaxSensors

var (
	ErrNoDevices = errors.New("onewire: no device answered the reset")
	ErrCRC       = errors.New("onewire: CRC mismatch")
)

// ROM is the 64-bit device id, family code first.
type ROM [8]byte

func (r ROM) String() string {
	return fmt.Sprintf("%02x-%02x%02x%02x%02x%02x%02x", r[0], r[6], r[5], r[4], r[3], r[2], r[1])
}

// Family returns the family code.
func (r ROM) Family() byte {
	return r[0]
}

// Network runs ROM and DS18B20 commands on a Line.
type Network struct {
	line Line
}

// NewNetwork wraps line.
func NewNetwork(line Line) *Network {
	return &Network{line: line}
}

func (n *Network) writeByte(b byte) error {
	for i := range 8 {
		if _, err := n.line.Touch(b&(1<<i) != 0); err != nil {
			return err
		}
	}
	return nil
}

func (n *Network) readByte() (byte, error) {
	var b byte
	for i := range 8 {
		bit, err := n.line.Touch(true)
		if err != nil {
			return 0, err
		}
		if bit {
			b |= 1 << i
		}
	}
	return b, nil
}

func (n *Network) reset() error {
	present, err := n.line.Reset()
	if err != nil {
		return err
	}
	if !present {
		return ErrNoDevices
	}
	return nil
}

// Search enumerates up to MaxDevices ROMs with the binary tree search.
func (n *Network) Search() ([]ROM, error) {
	var (
		found       []ROM
		last        ROM
		discrepancy = -1
	)
	for len(found) < MaxDevices {
		if err := n.reset(); err != nil {
			if errors.Is(err, ErrNoDevices) && len(found) == 0 {
				return nil, nil
			}
			return found, err
		}
		if err := n.writeByte(cmdSearchROM); err != nil {
			return found, err
		}

		var rom ROM
		lastZero := -1
		for i := range 64 {
			bit, err := n.line.Touch(true)
			if err != nil {
				return found, err
			}
			comp, err := n.line.Touch(true)
			if err != nil {
				return found, err
			}

			var dir bool
			switch {
			case bit && comp:
				return found, fmt.Errorf("onewire: search lost all devices at bit %d", i)
			case bit != comp:
				dir = bit
			case i < discrepancy:
				dir = last[i/8]&(1<<(i%8)) != 0
			default:
				dir = i == discrepancy
			}
			if bit == comp && !dir {
				lastZero = i
			}
			if _, err := n.line.Touch(dir); err != nil {
				return found, err
			}
			if dir {
				rom[i/8] |= 1 << (i % 8)
			}
		}

		if CRC8(rom[:7]) != rom[7] {
			return found, fmt.Errorf("%w in ROM %s", ErrCRC, rom)
		}
		found = append(found, rom)
		last = rom
		discrepancy = lastZero
		if discrepancy < 0 {
			break
		}
	}
	return found, nil
}

// ConvertAll starts a temperature conversion on every sensor.
func (n *Network) ConvertAll() error {
	if err := n.reset(); err != nil {
		return err
	}
	if err := n.writeByte(cmdSkipROM); err != nil {
		return err
	}
	return n.writeByte(cmdConvertT)
}

// ReadTemperature reads the last conversion of one sensor in degrees Celsius.
func (n *Network) ReadTemperature(rom ROM) (float64, error) {
	if err := n.reset(); err != nil {
		return 0, err
	}
	if err := n.writeByte(cmdMatchROM); err != nil {
		return 0, err
	}
	for _, b := range rom {
		if err := n.writeByte(b); err != nil {
			return 0, err
		}
	}
	if err := n.writeByte(cmdReadScratchpad); err != nil {
		return 0, err
	}

	var pad [9]byte
	for i := range pad {
		b, err := n.readByte()
		if err != nil {
			return 0, err
		}
		pad[i] = b
	}
	if CRC8(pad[:8]) != pad[8] {
		return 0, fmt.Errorf("%w in scratchpad of %s", ErrCRC, rom)
	}
	return float64(int16(uint16(pad[1])<<8|uint16(pad[0]))) / 16, nil
}
