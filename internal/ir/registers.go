package ir

import "fmt"

// RegisterFile selects which physical register file (or the accumulators) a
// Register lives in. RegFileBoth stands for the periphery registers which
// are addressable through either file.
type RegisterFile uint8

const (
	RegFileNone RegisterFile = iota
	RegFileA
	RegFileB
	RegFileBoth
	RegFileAccumulator
)

func (f RegisterFile) String() string {
	switch f {
	case RegFileA:
		return "ra"
	case RegFileB:
		return "rb"
	case RegFileBoth:
		return "rx"
	case RegFileAccumulator:
		return "r"
	}
	return "r?"
}

// Register names a hardware register by file and number. Numbers 32 and up
// address the periphery.
type Register struct {
	File RegisterFile
	Num  uint8
}

// The periphery registers of the VideoCore IV register space.
var (
	RegUniform         = Register{File: RegFileBoth, Num: 32}
	RegTMUNoswap       = Register{File: RegFileBoth, Num: 36}
	RegReplicateQuad   = Register{File: RegFileA, Num: 37}
	RegReplicateAll    = Register{File: RegFileB, Num: 37}
	RegElementNumber   = Register{File: RegFileA, Num: 38}
	RegQPUNumber       = Register{File: RegFileB, Num: 38}
	RegHostInterrupt   = Register{File: RegFileBoth, Num: 38}
	RegNop             = Register{File: RegFileBoth, Num: 39}
	RegVPMIO           = Register{File: RegFileBoth, Num: 48}
	RegVPMInSetup      = Register{File: RegFileA, Num: 49}
	RegVPMOutSetup     = Register{File: RegFileB, Num: 49}
	RegVPMDMALoadWait  = Register{File: RegFileA, Num: 50}
	RegVPMDMAStoreWait = Register{File: RegFileB, Num: 50}
	RegVPMDMALoadAddr  = Register{File: RegFileA, Num: 51}
	RegVPMDMAStoreAddr = Register{File: RegFileB, Num: 51}
	RegMutex           = Register{File: RegFileBoth, Num: 51}
	RegSFURecip        = Register{File: RegFileBoth, Num: 52}
	RegSFURecipSqrt    = Register{File: RegFileBoth, Num: 53}
	RegSFUExp2         = Register{File: RegFileBoth, Num: 54}
	RegSFULog2         = Register{File: RegFileBoth, Num: 55}
	RegTMU0Address     = Register{File: RegFileBoth, Num: 56}
	RegTMU1Address     = Register{File: RegFileBoth, Num: 60}
	// r4 is written by the SFU and TMU responses
	RegSFUOut = Register{File: RegFileAccumulator, Num: 4}
	RegTMUOut = Register{File: RegFileAccumulator, Num: 4}
	// r5 is the replication/rotation-offset accumulator, loaded through the
	// replicate registers
	RegAccum5 = Register{File: RegFileAccumulator, Num: 5}
)

func (r Register) IsAccumulator() bool {
	return r.File == RegFileAccumulator
}

func (r Register) IsSpecialFunctionsUnit() bool {
	return r.File != RegFileAccumulator && r.Num >= 52 && r.Num <= 55
}

func (r Register) IsTextureMemoryUnit() bool {
	return r.File != RegFileAccumulator && r.Num >= 56 && r.Num <= 63
}

func (r Register) IsVertexPipelineMemory() bool {
	return r.File != RegFileAccumulator && r.Num >= 48 && r.Num <= 51
}

// HasSideEffectsOnWrite reports whether writing the register triggers
// periphery behavior (DMA, TMU fetch, mutex release, host interrupt, ...).
func (r Register) HasSideEffectsOnWrite() bool {
	if r.File == RegFileAccumulator {
		return false
	}
	return r.Num >= 36 && r.Num != 39 && r.Num != 38 ||
		r == RegHostInterrupt
}

// HasSideEffectsOnRead reports whether reading the register consumes state
// (UNIFORM FIFO, VPM FIFO, mutex acquire, ...).
func (r Register) HasSideEffectsOnRead() bool {
	if r.File == RegFileAccumulator {
		return false
	}
	switch {
	case r == RegUniform:
		return true
	case r.IsVertexPipelineMemory():
		return true
	case r == RegMutex:
		return true
	}
	return false
}

func (r Register) String() string {
	switch r {
	case RegUniform:
		return "unif"
	case RegElementNumber:
		return "elem_num"
	case RegQPUNumber:
		return "qpu_num"
	case RegNop:
		return "-"
	case RegVPMIO:
		return "vpm"
	case RegMutex:
		return "mutex"
	case RegTMU0Address:
		return "tmu0s"
	case RegTMU1Address:
		return "tmu1s"
	case RegSFUOut:
		return "r4"
	}
	return fmt.Sprintf("%s%d", r.File, r.Num)
}
