package onewire

// CRC8 is the Dallas/Maxim CRC (polynomial x^8+x^5+x^4+1, reflected).
func CRC8(data []byte) byte {
	var crc byte
	for _, b := range data {
		for range 8 {
			mix := (crc ^ b) & 0x01
			crc >>= 1
			if mix != 0 {
				crc ^= 0x8C
			}
			b >>= 1
		}
	}
	return crc
}
