package bus

import (
	"io"
)

// UART register offsets.
const (
	UARTRegTxFIFO uint64 = 0
	UARTRegRxFIFO uint64 = 4
	UARTRegTxCtrl uint64 = 8
	UARTRegRxCtrl uint64 = 12
	UARTRegDiv    uint64 = 16
)

// A UART is a minimal serial port. Bytes written to the TX FIFO go to the
// output writer when printing is enabled. The RX FIFO is always empty.
type UART struct {
	out   io.Writer
	print bool
}

// NewUART creates a UART that writes transmitted bytes to out. A nil writer
// disables printing.
func NewUART(out io.Writer) *UART {
	return &UART{
		out:   out,
		print: out != nil,
	}
}

// Load reads a UART register.
func (u *UART) Load(addr uint64, data []byte) bool {
	switch addr {
	case UARTRegTxFIFO:
		fill(data, 0x00)
		return true
	case UARTRegRxFIFO:
		fill(data, 0xff)
		return true
	default:
		return false
	}
}

// Store writes a UART register.
func (u *UART) Store(addr uint64, data []byte) bool {
	switch addr {
	case UARTRegTxFIFO:
		if u.print && len(data) > 0 {
			_, _ = u.out.Write(data[:1])
		}
		return true
	case UARTRegRxFIFO, UARTRegTxCtrl, UARTRegRxCtrl, UARTRegDiv:
		return true
	default:
		return false
	}
}

func fill(data []byte, v byte) {
	for i := range data {
		data[i] = v
	}
}
