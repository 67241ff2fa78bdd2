package protocol

import (
	"encoding/binary"
	"fmt"
)

// ParseProductID parses the Get ID response data.
//
// Data format (GetIDResponseSize bytes):
//
//	[PID_MSB][PID_LSB]
func ParseProductID(data []byte) (uint16, error) {
	if len(data) != GetIDResponseSize {
		return 0, fmt.Errorf("invalid data length for Get ID response: got %d bytes, expected %d", len(data), GetIDResponseSize)
	}
	return binary.BigEndian.Uint16(data), nil
}

// ParseBootloaderInfo parses the Get response data.
//
// Data format:
//
//	[VERSION][CMD...]
func ParseBootloaderInfo(data []byte) (*BootloaderInfo, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("invalid data length for Get response: got %d bytes, expected at least 1", len(data))
	}

	info := &BootloaderInfo{
		Version:  data[0],
		Commands: make([]Command, 0, len(data)-1),
	}
	for _, b := range data[1:] {
		info.Commands = append(info.Commands, Command(b))
	}
	return info, nil
}

// ParseVersionStatus parses the Get Version response data.
//
// Data format (GetVersionResponseSize bytes):
//
//	[VERSION][OPTION1][OPTION2]
func ParseVersionStatus(data []byte) (*VersionStatus, error) {
	if len(data) != GetVersionResponseSize {
		return nil, fmt.Errorf("invalid data length for Get Version response: got %d bytes, expected %d", len(data), GetVersionResponseSize)
	}
	return &VersionStatus{
		Version: data[0],
		Option1: data[1],
		Option2: data[2],
	}, nil
}

// BootloaderVersion converts a version byte into major.minor,
// one hex digit each: 0x22 is 2.2, 0x10 is 1.0.
func BootloaderVersion(b byte) float64 {
	return float64(b>>4) + float64(b&0x0F)/10
}
