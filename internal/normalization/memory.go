// Package normalization rewrites the front-end IR into a target-legal form:
// generic memory instructions are lowered onto the concrete access paths
// (registers, VPM, TMU, DMA), memory barriers become semaphore pairs and
// over-large literal operands are materialized.
package normalization

import (
	"fmt"
	"log/slog"

	"github.com/vc4go/vc4cc/internal/ir"
	"github.com/vc4go/vc4cc/internal/periphery"
)

// MemoryAccessType is the per-location decision how all accesses to a
// memory location are realized.
type MemoryAccessType uint8

const (
	// AccessQPURegisterReadOnly keeps a constant location in a register.
	AccessQPURegisterReadOnly MemoryAccessType = iota
	// AccessQPURegisterReadWrite keeps a private location in a register.
	AccessQPURegisterReadWrite
	// AccessVPMPerQPU backs a private location with a per-QPU VPM row range.
	AccessVPMPerQPU
	// AccessVPMShared backs a work-group shared location with a VPM area.
	AccessVPMShared
	// AccessRAMLoadTMU reads a RAM location through a TMU.
	AccessRAMLoadTMU
	// AccessRAMReadWriteVPM accesses a RAM location through VPM DMA.
	AccessRAMReadWriteVPM
)

func (t MemoryAccessType) String() string {
	switch t {
	case AccessQPURegisterReadOnly:
		return "read-only register"
	case AccessQPURegisterReadWrite:
		return "register"
	case AccessVPMPerQPU:
		return "private VPM area"
	case AccessVPMShared:
		return "shared VPM area"
	case AccessRAMLoadTMU:
		return "RAM via TMU"
	case AccessRAMReadWriteVPM:
		return "RAM via VPM"
	}
	return "access?"
}

// MemoryAccessRange describes one address calculation into a shared VPM
// area, pre-computed by the access analysis.
type MemoryAccessRange struct {
	// AddressWrite is the instruction producing the accessed address.
	AddressWrite ir.InstructionWalker
	// BaseLocal is the memory location the address is derived from.
	BaseLocal *ir.Local
}

// MemoryInfo is the lowering decision for one memory location.
type MemoryInfo struct {
	Local *ir.Local
	Type  MemoryAccessType
	// MappedValue is the register-backed value for register-lowered
	// locations.
	MappedValue *ir.Value
	// ConvertedType is the register-compatible vector type of the content.
	ConvertedType *ir.DataType
	// Area is the backing VPM rows for VPM-lowered locations.
	Area *periphery.VPMArea
	// Ranges are the known work-item specific access ranges.
	Ranges []MemoryAccessRange
	// TMUFlag selects TMU0 when set, TMU1 otherwise.
	TMUFlag bool
}

func (i *MemoryInfo) String() string {
	switch i.Type {
	case AccessQPURegisterReadOnly, AccessQPURegisterReadWrite:
		mapped := "(unmapped)"
		if i.MappedValue != nil {
			mapped = i.MappedValue.String()
		}
		return fmt.Sprintf("%s %s", i.Type, mapped)
	case AccessVPMPerQPU, AccessVPMShared:
		area := "(no area)"
		if i.Area != nil {
			area = i.Area.String()
		}
		return fmt.Sprintf("%s %s", i.Type, area)
	case AccessRAMLoadTMU:
		tmu := "1"
		if i.TMUFlag {
			tmu = "0"
		}
		return i.Type.String() + tmu
	}
	return i.Type.String()
}

type accessUsage struct {
	local      *ir.Local
	read       bool
	written    bool
	copiedFrom bool
	copiedTo   bool
	filled     bool
}

func (u *accessUsage) onlyRead() bool {
	return (u.read || u.copiedFrom) && !u.written && !u.copiedTo && !u.filled
}

// baseLocal follows the reference chain to the underlying memory location.
func baseLocal(local *ir.Local) *ir.Local {
	for local != nil && local.Reference != nil && local.Reference != local {
		local = local.Reference
	}
	return local
}

// baseLocalsOfValue collects all memory locations the pointer value may
// refer to. Conditional pointers (written by several phi moves) contribute
// every candidate.
func baseLocalsOfValue(v ir.Value) []*ir.Local {
	local := v.CheckLocal()
	if local == nil {
		return nil
	}
	root := baseLocal(local)
	if root.IsParameter() || root.IsStackAllocation() || root.IsGlobal() {
		return []*ir.Local{root}
	}
	// follow the writers of derived address locals
	seen := map[*ir.Local]bool{local: true}
	var result []*ir.Local
	var walk func(l *ir.Local)
	walk = func(l *ir.Local) {
		if l.IsParameter() || l.IsStackAllocation() || l.IsGlobal() {
			for _, existing := range result {
				if existing == l {
					return
				}
			}
			result = append(result, l)
			return
		}
		for user, use := range l.Users() {
			if !use.WritesLocal() {
				continue
			}
			for _, arg := range user.Arguments() {
				argLocal := arg.CheckLocal()
				if argLocal == nil || argLocal.Type == ir.TypeLabel || seen[argLocal] {
					continue
				}
				seen[argLocal] = true
				walk(baseLocal(argLocal))
			}
		}
	}
	walk(root)
	return result
}

// AnalyzeMemoryAccess decides, per accessed memory location, how all its
// accesses are lowered, and allocates the backing VPM areas.
func AnalyzeMemoryAccess(method *ir.Method, vpm *periphery.VPM) (map[*ir.Local]*MemoryInfo, error) {
	usages := make(map[*ir.Local]*accessUsage)
	// kept in first-access order, so e.g. the TMU balancing is
	// deterministic
	var order []*ir.Local
	use := func(local *ir.Local) *accessUsage {
		u := usages[local]
		if u == nil {
			u = &accessUsage{local: local}
			usages[local] = u
			order = append(order, local)
		}
		return u
	}

	for it := method.WalkAllInstructions(); !it.IsEndOfMethod(); it = it.NextInMethod() {
		mem, ok := it.Get().(*ir.MemoryInstruction)
		if !ok {
			continue
		}
		switch mem.Op {
		case ir.MemoryRead:
			for _, l := range baseLocalsOfValue(mem.Source()) {
				use(l).read = true
			}
		case ir.MemoryWrite:
			for _, l := range baseLocalsOfValue(mem.Destination()) {
				use(l).written = true
			}
		case ir.MemoryCopy:
			for _, l := range baseLocalsOfValue(mem.Source()) {
				use(l).copiedFrom = true
			}
			for _, l := range baseLocalsOfValue(mem.Destination()) {
				use(l).copiedTo = true
			}
		case ir.MemoryFill:
			for _, l := range baseLocalsOfValue(mem.Destination()) {
				use(l).filled = true
			}
		}
	}

	infos := make(map[*ir.Local]*MemoryInfo, len(usages))
	var numTMU0, numTMU1 int
	for _, local := range order {
		u := usages[local]
		info, err := decideMemoryAccess(method, vpm, local, u, &numTMU0, &numTMU1)
		if err != nil {
			return nil, err
		}
		slog.Debug("Determined memory access", "local", local.Name, "info", info.String())
		infos[local] = info
	}
	return infos, nil
}

func decideMemoryAccess(method *ir.Method, vpm *periphery.VPM, local *ir.Local, u *accessUsage, numTMU0, numTMU1 *int) (*MemoryInfo, error) {
	info := &MemoryInfo{Local: local}

	contentType := local.Type
	if contentType.IsPointer() {
		contentType = contentType.ElementType()
	}
	fitsRegister := contentType.InMemoryWidth() <= uint32(ir.NativeVectorSize)*4 &&
		registerElementCount(contentType) <= ir.NativeVectorSize

	switch {
	case local.IsGlobal() && u.onlyRead() && constantGlobal(local) && fitsRegister:
		info.Type = AccessQPURegisterReadOnly
		mapRegisterContent(method, info, contentType, "%lowered_constant")
	case local.IsParameter() && globalAddressSpace(local) == ir.AddressSpaceConstant && u.onlyRead() && fitsRegister:
		// a small by-value constant argument lives in the register the
		// prologue loads it into, reads become vector rotations
		info.Type = AccessQPURegisterReadOnly
		converted := contentType.ElementType().ToVectorType(registerElementCount(contentType))
		mapped := local.CreateReference()
		mapped.Type = converted
		info.MappedValue = &mapped
		info.ConvertedType = &converted
		local.ParamDecorations |= ir.ParamByValue | ir.ParamInput
	case local.IsStackAllocation() && fitsRegister:
		info.Type = AccessQPURegisterReadWrite
		mapRegisterContent(method, info, contentType, "%lowered_stack")
	case local.IsStackAllocation():
		info.Type = AccessVPMPerQPU
		// each of the 4 QPUs owns a distinct copy of the rows
		area, err := vpm.AllocateArea(periphery.VPMUsageStack, contentType.ElementType(), local.StackSize*4)
		if err != nil {
			return nil, err
		}
		info.Area = area
	case local.IsGlobal() && globalAddressSpace(local) == ir.AddressSpaceLocal:
		info.Type = AccessVPMShared
		area, err := vpm.AllocateArea(periphery.VPMUsageLocalMemory, contentType.ElementType(), contentType.InMemoryWidth())
		if err != nil {
			return nil, err
		}
		info.Area = area
	case u.onlyRead():
		info.Type = AccessRAMLoadTMU
		// keep the fuller side, give the new source to the other one; on a
		// tie prefer TMU1, since TMU0 statistically carries more traffic
		info.TMUFlag = *numTMU0 < *numTMU1
		if info.TMUFlag {
			*numTMU0++
		} else {
			*numTMU1++
		}
	default:
		info.Type = AccessRAMReadWriteVPM
	}
	return info, nil
}

func registerElementCount(t ir.DataType) uint8 {
	elemBytes := t.ElementType().InMemoryWidth()
	if elemBytes == 0 {
		return 1
	}
	count := t.InMemoryWidth() / elemBytes
	if count == 0 {
		count = 1
	}
	if count > ir.NativeVectorSize {
		return ir.NativeVectorSize + 1
	}
	return uint8(count)
}

func constantGlobal(local *ir.Local) bool {
	if local.Initializer == nil && len(local.CompositeInit) == 0 {
		return false
	}
	return globalAddressSpace(local) == ir.AddressSpaceConstant ||
		globalAddressSpace(local) == ir.AddressSpaceGlobal
}

func globalAddressSpace(local *ir.Local) ir.AddressSpace {
	if local.Type.IsPointer() {
		return local.Type.Pointer.Space
	}
	return ir.AddressSpacePrivate
}

// mapRegisterContent creates the register-backed local holding the whole
// content of the lowered location.
func mapRegisterContent(method *ir.Method, info *MemoryInfo, contentType ir.DataType, prefix string) {
	converted := contentType.ElementType().ToVectorType(registerElementCount(contentType))
	mapped := method.AddNewLocal(converted, prefix)
	if root := mapped.CheckLocal(); root != nil {
		root.Reference = info.Local
	}
	info.MappedValue = &mapped
	info.ConvertedType = &converted
}
