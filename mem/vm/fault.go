package vm

import "fmt"

// FaultKind identifies a synchronous exception. The values are the RISC-V
// exception cause codes.
type FaultKind uint64

// Fault kinds.
const (
	InstructionAddressMisaligned FaultKind = 0
	InstructionAccessFault       FaultKind = 1
	LoadAddressMisaligned        FaultKind = 4
	LoadAccessFault              FaultKind = 5
	StoreAddressMisaligned       FaultKind = 6
	StoreAccessFault             FaultKind = 7
)

func (k FaultKind) String() string {
	switch k {
	case InstructionAddressMisaligned:
		return "instruction address misaligned"
	case InstructionAccessFault:
		return "instruction access fault"
	case LoadAddressMisaligned:
		return "load address misaligned"
	case LoadAccessFault:
		return "load access fault"
	case StoreAddressMisaligned:
		return "store address misaligned"
	case StoreAccessFault:
		return "store access fault"
	default:
		return fmt.Sprintf("fault %d", uint64(k))
	}
}

// A Fault is raised by a memory access that cannot complete. Addr is the
// faulting virtual address.
type Fault struct {
	Kind FaultKind
	Addr uint64
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s at 0x%x", f.Kind, f.Addr)
}

// Cause returns the exception cause code.
func (f *Fault) Cause() uint64 {
	return uint64(f.Kind)
}

// AccessFault creates the access fault of the given access type.
func AccessFault(access AccessType, addr uint64) *Fault {
	switch access {
	case Fetch:
		return &Fault{Kind: InstructionAccessFault, Addr: addr}
	case Load:
		return &Fault{Kind: LoadAccessFault, Addr: addr}
	default:
		return &Fault{Kind: StoreAccessFault, Addr: addr}
	}
}

// MisalignedFault creates the address-misaligned fault of the given access
// type.
func MisalignedFault(access AccessType, addr uint64) *Fault {
	switch access {
	case Fetch:
		return &Fault{Kind: InstructionAddressMisaligned, Addr: addr}
	case Load:
		return &Fault{Kind: LoadAddressMisaligned, Addr: addr}
	default:
		return &Fault{Kind: StoreAddressMisaligned, Addr: addr}
	}
}
