package krm

// Scancodes for the four keys the menu loop reacts to (spec §4.G step 6).
const (
	scancodeUp    = 0x48
	scancodeDown  = 0x50
	scancodeEnter = 0x1C
	scancodeEsc   = 0x01
	keyReleaseBit = 0x80

	kbdResetCommand = 0xFE
)

// screen identifies one of the menu's fixed screens.
type screen int

const (
	screenExplanation screen = iota
	screenDetails
	screenBacktrace
	screenRegisters
	screenReboot
	screenHalt
	screenCount
)

var screenTitles = [screenCount]string{
	screenExplanation: "Explanation",
	screenDetails:     "Panic Details",
	screenBacktrace:   "Backtrace",
	screenRegisters:   "Register Dump",
	screenReboot:      "Reboot",
	screenHalt:        "Halt",
}

// runMenu drives the screen/navigation state machine (spec §4.G step 6).
func runMenu(ports Ports, record PanicRecord, backtrace []uint32, analysis Analysis) {
	current := screenExplanation

	for {
		render(ports, current, record, backtrace, analysis)

		key := pollDebouncedKey(ports.Keyboard)
		switch key {
		case scancodeUp:
			current = (current - 1 + screenCount) % screenCount
		case scancodeDown:
			current = (current + 1) % screenCount
		case scancodeEnter:
			switch current {
			case screenReboot:
				reboot(ports)
				return
			case screenHalt:
				halt(ports)
				return
			}
		case scancodeEsc:
			current = screenExplanation
		}
	}
}

// pollDebouncedKey polls until a key press is seen, then waits for its
// matching release before returning, debouncing the input (spec §4.G step
// 6: "key-release is awaited to debounce").
func pollDebouncedKey(kbd KeyboardController) uint8 {
	var pressed uint8
	for {
		code, ok := kbd.PollScancode()
		if ok && code&keyReleaseBit == 0 {
			pressed = code
			break
		}
	}
	for {
		code, ok := kbd.PollScancode()
		if ok && code == pressed|keyReleaseBit {
			break
		}
	}
	return pressed
}

func reboot(ports Ports) {
	ports.Keyboard.SendCommand(kbdResetCommand)
	ports.CPU.ForceTripleFault()
}

func halt(ports Ports) {
	ports.CPU.DisableInterrupts()
	ports.CPU.HaltForever()
}

const menuAttr uint8 = 0x1F // white on blue

func render(ports Ports, current screen, record PanicRecord, backtrace []uint32, analysis Analysis) {
	w := newTextWriter(ports.VGA, menuAttr)
	w.Clear()
	w.WriteLine("Kernel Recovery Mode -- " + screenTitles[current])
	w.WriteLine("")

	switch current {
	case screenExplanation:
		w.WriteLine(analysis.Explanation)
		for _, s := range analysis.Suggestions {
			w.WriteLine("- " + s)
		}
	case screenDetails:
		w.WriteLine("message: " + record.Message)
		w.WriteLine("file: " + record.File)
		line := newLineBuilder()
		line.writeString("line: ")
		line.writeDecimal(uint32(record.Line))
		w.WriteLine(line.String())
		if record.Vector != nil {
			vline := newLineBuilder()
			vline.writeString("vector: 0x")
			vline.writeHex(record.Vector.Vector, 2)
			w.WriteLine(vline.String())
		}
	case screenBacktrace:
		if len(backtrace) == 0 {
			w.WriteLine("(no valid frames found)")
		}
		for _, addr := range backtrace {
			line := newLineBuilder()
			line.writeString("0x")
			line.writeHex(addr, 8)
			w.WriteLine(line.String())
		}
	case screenRegisters:
		w.WriteLine("(register dump unavailable without a live trap frame)")
	case screenReboot:
		w.WriteLine("Press ENTER to reboot.")
	case screenHalt:
		w.WriteLine("Press ENTER to halt.")
	}

	w.WriteLine("")
	w.WriteLine("UP/DOWN: switch screen   ENTER: activate   ESC: back to explanation")
}
