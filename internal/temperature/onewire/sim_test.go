package onewire

import "errors"

// simDevice is a DS18B20 on the simulated bus.
type simDevice struct {
	rom ROM
	raw int16
}

func (d *simDevice) scratchpad() [9]byte {
	var pad [9]byte
	pad[0] = byte(d.raw)
	pad[1] = byte(uint16(d.raw) >> 8)
	pad[2], pad[3], pad[4] = 0x4B, 0x46, 0x7F
	pad[5], pad[6], pad[7] = 0xFF, 0x0C, 0x10
	pad[8] = CRC8(pad[:8])
	return pad
}

type simPhase int

const (
	phaseIdle simPhase = iota
	phaseROMCommand
	phaseSearch
	phaseMatch
	phaseFunction
	phaseRead
)

// simBus is a bit-level model of devices on an open-drain 1-Wire bus.
type simBus struct {
	devices []*simDevice
	err     error

	phase    simPhase
	active   []bool
	shift    byte
	nbits    int
	bitIndex int
	sub      int
	matched  ROM
	out      []byte
	corrupt  bool
	converts int
}

func newSimBus(devs ...*simDevice) *simBus {
	return &simBus{devices: devs}
}

func (b *simBus) Reset() (bool, error) {
	if b.err != nil {
		return false, b.err
	}
	b.phase = phaseROMCommand
	b.active = make([]bool, len(b.devices))
	for i := range b.active {
		b.active[i] = true
	}
	b.shift, b.nbits = 0, 0
	return len(b.devices) > 0, nil
}

func romBit(r ROM, i int) bool {
	return r[i/8]&(1<<(i%8)) != 0
}

// collect shifts a written bit in LSB first and reports a complete byte.
func (b *simBus) collect(bit bool) (byte, bool) {
	if bit {
		b.shift |= 1 << b.nbits
	}
	b.nbits++
	if b.nbits < 8 {
		return 0, false
	}
	v := b.shift
	b.shift, b.nbits = 0, 0
	return v, true
}

func (b *simBus) Touch(bit bool) (bool, error) {
	if b.err != nil {
		return false, b.err
	}
	switch b.phase {
	case phaseROMCommand:
		if cmd, ok := b.collect(bit); ok {
			switch cmd {
			case cmdSearchROM:
				b.phase, b.bitIndex, b.sub = phaseSearch, 0, 0
			case cmdMatchROM:
				b.phase, b.bitIndex = phaseMatch, 0
			case cmdSkipROM:
				b.phase = phaseFunction
			default:
				b.phase = phaseIdle
			}
		}
		return bit, nil

	case phaseSearch:
		switch b.sub {
		case 0, 1:
			out := true
			for i, d := range b.devices {
				if b.active[i] && romBit(d.rom, b.bitIndex) == (b.sub == 1) {
					out = false
				}
			}
			b.sub++
			return bit && out, nil
		default:
			for i, d := range b.devices {
				if romBit(d.rom, b.bitIndex) != bit {
					b.active[i] = false
				}
			}
			b.sub = 0
			b.bitIndex++
			if b.bitIndex == 64 {
				b.phase = phaseIdle
			}
			return bit, nil
		}

	case phaseMatch:
		if bit {
			b.matched[b.bitIndex/8] |= 1 << (b.bitIndex % 8)
		} else {
			b.matched[b.bitIndex/8] &^= 1 << (b.bitIndex % 8)
		}
		b.bitIndex++
		if b.bitIndex == 64 {
			for i, d := range b.devices {
				b.active[i] = d.rom == b.matched
			}
			b.phase = phaseFunction
		}
		return bit, nil

	case phaseFunction:
		if cmd, ok := b.collect(bit); ok {
			switch cmd {
			case cmdConvertT:
				b.converts++
				b.phase = phaseIdle
			case cmdReadScratchpad:
				b.out = nil
				for i, d := range b.devices {
					if b.active[i] {
						pad := d.scratchpad()
						if b.corrupt {
							pad[8] ^= 0xFF
						}
						b.out = pad[:]
						break
					}
				}
				b.phase, b.bitIndex = phaseRead, 0
			default:
				b.phase = phaseIdle
			}
		}
		return bit, nil

	case phaseRead:
		out := true
		if b.bitIndex/8 < len(b.out) {
			out = b.out[b.bitIndex/8]&(1<<(b.bitIndex%8)) != 0
		}
		b.bitIndex++
		return bit && out, nil
	}
	return bit, nil
}

var errLine = errors.New("line fault")

// makeROM builds a DS18B20 ROM with a valid CRC from a serial number.
func makeROM(serial uint64) ROM {
	var r ROM
	r[0] = FamilyDS18B20
	for i := 1; i < 7; i++ {
		r[i] = byte(serial >> (8 * (i - 1)))
	}
	r[7] = CRC8(r[:7])
	return r
}
