package krm

import "testing"

func TestLineBuilderAssemblesDecimalAndHex(t *testing.T) {
	lb := newLineBuilder()
	lb.writeString("line: ")
	lb.writeDecimal(42)
	if got, want := lb.String(), "line: 42"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}

	lb2 := newLineBuilder()
	lb2.writeString("vector: 0x")
	lb2.writeHex(0x0e, 2)
	if got, want := lb2.String(), "vector: 0x0e"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
