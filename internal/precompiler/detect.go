// Package precompiler detects the type of an input and drives the external
// front-end toolchain producing LLVM IR or SPIR-V from it. The parsers
// turning those formats into IR register themselves as front ends.
package precompiler

import (
	"encoding/binary"
	"strings"
)

// SourceType classifies an input by its leading bytes.
type SourceType uint8

const (
	SourceUnknown SourceType = iota
	SourceOpenCLC
	SourceLLVMText
	SourceLLVMBitcode
	SourceSPIRVBinary
	SourceSPIRVText
	SourceQPUHex
	SourceQPUBinary
)

func (t SourceType) String() string {
	switch t {
	case SourceOpenCLC:
		return "OpenCL C"
	case SourceLLVMText:
		return "LLVM IR text"
	case SourceLLVMBitcode:
		return "LLVM IR bitcode"
	case SourceSPIRVBinary:
		return "SPIR-V binary"
	case SourceSPIRVText:
		return "SPIR-V text"
	case SourceQPUHex:
		return "QPU hex"
	case SourceQPUBinary:
		return "QPU binary"
	}
	return "unknown"
}

const (
	spirvMagic = 0x07230203
	// qpuBinaryMagic is the leading word of compiled module binaries.
	qpuBinaryMagic = 0xdeadbeaf
)

// DetectSourceType classifies the input data. Binary formats are detected
// by magic words, textual ones by their characteristic leading content;
// everything else is assumed to be OpenCL C source.
func DetectSourceType(data []byte) SourceType {
	if len(data) >= 4 {
		if data[0] == 'B' && data[1] == 'C' && data[2] == 0xc0 && data[3] == 0xde {
			return SourceLLVMBitcode
		}
		word := binary.LittleEndian.Uint32(data)
		if word == spirvMagic || word == bswap32(spirvMagic) {
			return SourceSPIRVBinary
		}
		if word == qpuBinaryMagic {
			return SourceQPUBinary
		}
	}
	text := strings.TrimLeft(string(firstChunk(data)), " \t\r\n")
	switch {
	case strings.HasPrefix(text, "; SPIR-V"):
		return SourceSPIRVText
	case strings.HasPrefix(text, "; ModuleID") || strings.HasPrefix(text, "define ") ||
		strings.HasPrefix(text, "target datalayout"):
		return SourceLLVMText
	case strings.HasPrefix(text, "0x"):
		return SourceQPUHex
	}
	return SourceOpenCLC
}

func firstChunk(data []byte) []byte {
	const limit = 1024
	if len(data) > limit {
		return data[:limit]
	}
	return data
}

func bswap32(v uint32) uint32 {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return binary.LittleEndian.Uint32(buf[:])
}

// IsBinaryFormat reports whether the type is one of the byte-exact formats
// on which detection is idempotent.
func IsBinaryFormat(t SourceType) bool {
	switch t {
	case SourceLLVMBitcode, SourceSPIRVBinary, SourceQPUHex, SourceQPUBinary:
		return true
	}
	return false
}
