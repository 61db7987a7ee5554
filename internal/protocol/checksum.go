package protocol

// ComputeChecksum returns the 32-bit additive checksum of data: the sum of
// all bytes modulo 2^32. The empty sequence sums to 0.
//
// A monitor computes the same sum over the bytes it stored and reports it in
// the final status frame.
func ComputeChecksum(data []byte) uint32 {
	var sum uint32
	for _, b := range data {
		sum += uint32(b)
	}
	return sum
}

// UpdateChecksum adds data to a running checksum. Feeding a sequence in
// pieces gives the same result as ComputeChecksum over the whole.
func UpdateChecksum(sum uint32, data []byte) uint32 {
	for _, b := range data {
		sum += uint32(b)
	}
	return sum
}
