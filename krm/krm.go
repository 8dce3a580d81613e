package krm

// PanicVector describes the trap frame that caused a panic, when one is
// available. A nil *PanicVector means krm_enter was called with only a
// message (spec §4.G step 5: "If no frame, match the message prefix...").
type PanicVector struct {
	Vector    uint32
	ErrorCode uint32
}

// PanicRecord is the static panic record KRM copies its inputs into (spec
// §4.G step 3).
type PanicRecord struct {
	Message string
	File    string
	Line    int
	Vector  *PanicVector
}

// Ports bundles the hardware surfaces KRM re-initializes independently of
// the rest of the kernel.
type Ports struct {
	Serial   SerialPort
	VGA      VGAWriter
	Keyboard KeyboardController
	CPU      CPUControl
	Stack    StackMemory
}

// panicInProgress is the static double-panic flag (spec §4.G: "a static guard").
// It intentionally has no synchronization: KRM runs with interrupts
// disabled and is entered from at most one CPU context at a time by
// construction.
var panicInProgress bool

const (
	doublePanicVGABanner    = "DOUBLE PANIC"
	doublePanicSerialLine1  = "*** DOUBLE PANIC ***"
	doublePanicSerialLine2  = "kernel recovery mode itself has faulted"
	doublePanicSerialLine3  = "halting"
	vgaAttrDoublePanic uint8 = 0x4F // white on red
)

// Enter is krm_enter: the kernel's sole panic entry point (spec §4.G).
func Enter(ports Ports, framePointer uint32, message, file string, line int, vector *PanicVector) {
	if panicInProgress {
		doublePanic(ports)
		return
	}
	panicInProgress = true

	ports.Keyboard.DisablePorts()
	ports.Keyboard.FlushOutputBuffer()
	cfg := ports.Keyboard.ReadConfigByte()
	ports.Keyboard.WriteConfigByte(cfg)
	ports.Keyboard.EnablePorts()
	ports.Keyboard.ResetKeyboard()
	ports.Serial.Reinit()

	record := PanicRecord{Message: message, File: file, Line: line, Vector: vector}

	backtrace := WalkStack(ports.Stack, framePointer)

	var analysis Analysis
	if vector != nil {
		analysis = AnalyzeTrapFrame(vector.Vector, vector.ErrorCode)
	} else {
		analysis = AnalyzeMessage(message)
	}

	runMenu(ports, record, backtrace, analysis)
}

// doublePanic is the bypass path spec §4.G mandates when a panic occurs
// while one is already in progress: no allocator, VFS call, or
// preempt/interrupt state beyond cli;hlt. It writes directly to VGA text
// memory and the serial port via the already-available ports rather than
// reinitializing anything.
func doublePanic(ports Ports) {
	ports.VGA.Clear(vgaAttrDoublePanic)
	w := newTextWriter(ports.VGA, vgaAttrDoublePanic)
	w.WriteAt(0, 0, doublePanicVGABanner)

	ports.Serial.WriteString(doublePanicSerialLine1)
	ports.Serial.WriteString(doublePanicSerialLine2)
	ports.Serial.WriteString(doublePanicSerialLine3)

	ports.CPU.DisableInterrupts()
	ports.CPU.HaltForever()
}
