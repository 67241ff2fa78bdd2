package protocol

// CommandFrame constructs the two-byte frame that opens every command.
//
// Frame structure:
//
//	[OPCODE][OPCODE^0xFF]
func CommandFrame(cmd Command) []byte {
	return []byte{byte(cmd), Complement(byte(cmd))}
}

// AddressFrame constructs the address phase of Read Memory, Write Memory and Go.
//
// Frame structure:
//
//	[A31..A24][A23..A16][A15..A8][A7..A0][XOR]
func AddressFrame(addr uint32) []byte {
	return AppendChecksum(EncodeAddress(addr))
}

// EraseAllFrame constructs the payload that selects a global flash erase.
//
// Frame structure:
//
//	[0xFF][0x00]
func EraseAllFrame() []byte {
	return []byte{EraseAllCode, Complement(EraseAllCode)}
}

// BuildReadLengthFrame constructs the length phase of a Read Memory command.
// The wire carries length-1 so that 256 bytes fit in one byte.
//
// Frame structure:
//
//	[N-1][(N-1)^0xFF]
func BuildReadLengthFrame(length int) ([]byte, error) {
	if length < 1 || length > MaxTransferSize {
		return nil, &LengthError{Operation: "read memory", Length: length, Min: 1, Max: MaxTransferSize}
	}
	n := byte(length - 1)
	return []byte{n, Complement(n)}, nil
}

// BuildWriteDataFrame constructs the data phase of a Write Memory command.
// The length must be between 1 and 256 bytes and a multiple of 4.
//
// Frame structure:
//
//	[N-1][DATA...][XOR of N-1 and DATA]
func BuildWriteDataFrame(data []byte) ([]byte, error) {
	if len(data) < 1 || len(data) > MaxTransferSize {
		return nil, &LengthError{Operation: "write memory", Length: len(data), Min: 1, Max: MaxTransferSize}
	}
	if len(data)%WriteAlignment != 0 {
		return nil, &LengthError{Operation: "write memory", Length: len(data), Min: 1, Max: MaxTransferSize, Multiple: WriteAlignment}
	}
	return countedFrame(data), nil
}

// BuildErasePagesFrame constructs the payload of an Erase command for a list of pages.
//
// Frame structure:
//
//	[N-1][PAGE...][XOR]
func BuildErasePagesFrame(pages []byte) ([]byte, error) {
	if len(pages) < 1 || len(pages) > MaxErasePages {
		return nil, &LengthError{Operation: "erase", Length: len(pages), Min: 1, Max: MaxErasePages}
	}
	return countedFrame(pages), nil
}

// BuildWriteProtectFrame constructs the payload of a Write Protect command.
//
// Frame structure:
//
//	[N-1][SECTOR...][XOR]
func BuildWriteProtectFrame(sectors []byte) ([]byte, error) {
	if len(sectors) < 1 || len(sectors) > MaxProtectSectors {
		return nil, &LengthError{Operation: "write protect", Length: len(sectors), Min: 1, Max: MaxProtectSectors}
	}
	return countedFrame(sectors), nil
}

// countedFrame prefixes payload with len-1 and appends the checksum of both.
func countedFrame(payload []byte) []byte {
	frame := make([]byte, 0, len(payload)+2)
	frame = append(frame, byte(len(payload)-1))
	frame = append(frame, payload...)
	return AppendChecksum(frame)
}
