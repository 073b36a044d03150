package phasor

// crcCCITT computes the CRC-CCITT (polynomial 0x1021, initial value 0xFFFF)
// checksum that terminates every frame.
func crcCCITT(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		temp := (crc >> 8) ^ uint16(b)
		crc <<= 8
		quick := temp ^ (temp >> 4)
		crc ^= quick
		quick <<= 5
		crc ^= quick
		quick <<= 7
		crc ^= quick
	}
	return crc
}
