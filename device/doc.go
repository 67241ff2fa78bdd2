// Package device describes the memory layout of STM32 F1 devices.
//
// A Type is selected from the 2-byte product ID returned by the bootloader:
//
//	dt, err := device.NewType(pid, blVersion)
//	if err != nil {
//	    var nse *device.DeviceNotSupportedError
//	    ...
//	}
//	fmt.Println(dt.Name, dt.FlashMemory, dt.RAM)
//
// OptionBytes decodes and encodes the 16-byte option-byte block at
// 0x1FFFF800. Values are immutable:
//
//	ob, _ := device.DecodeOptionBytes(raw)
//	ob = ob.WithReadProtect(false).WithWriteProtectAll(false)
//	image := ob.Bytes()
package device
