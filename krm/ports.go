// Package krm implements Kernel Recovery Mode, the standalone panic
// handler from spec §4.G. It is a self-contained island: its own VGA text
// writer, its own serial and PS/2 keyboard reinitialization, its own
// strlen/memset/integer formatting, and it never calls into the rest of the
// kernel's display, allocator, or VFS stacks. blockdev.BlockDevice is the
// model for every port interface here: an opaque, minimal surface standing
// in for real hardware, which is out of scope for this module.
package krm

// SerialPort is KRM's own UART driver surface. Reinit re-programs the UART
// from scratch (spec §4.G step 2); it must not share state with any other
// serial driver in the kernel.
type SerialPort interface {
	Reinit()
	WriteByte(b byte)
	WriteString(s string)
}

// VGAWriter is KRM's own VGA text-mode surface: direct writes into the
// 80x25 character/attribute buffer, bypassing any console abstraction the
// rest of the kernel uses.
type VGAWriter interface {
	PutChar(row, col int, ch byte, attr uint8)
	Clear(attr uint8)
}

// KeyboardController is KRM's own PS/2 keyboard surface, re-initialized
// independently of the normal input path (spec §4.G step 2: "disables
// ports, flushes buffer, re-reads the configuration byte, re-enables,
// resets the keyboard").
type KeyboardController interface {
	DisablePorts()
	FlushOutputBuffer()
	ReadConfigByte() uint8
	WriteConfigByte(uint8)
	EnablePorts()
	ResetKeyboard()

	// PollScancode returns (scancode, true) if a key event is pending.
	PollScancode() (scancode uint8, ok bool)
	// SendCommand issues a raw controller command, e.g. 0xFE to pulse
	// reset (spec §4.G step 6: "Reboot uses the keyboard controller's
	// `0xFE` command").
	SendCommand(command uint8)
}

// CPUControl is the raw halt/reset primitive KRM needs: cli/hlt for the
// double-panic and Halt paths, and a zero-IDTR triple fault for Reboot.
type CPUControl interface {
	DisableInterrupts()
	HaltForever()
	ForceTripleFault()
}
