package analysis

import (
	"github.com/vc4go/vc4cc/internal/graph"
	"github.com/vc4go/vc4cc/internal/ir"
)

// DependencyType is a bitset classifying how a local couples two blocks.
type DependencyType uint8

const (
	// DependencyFlow marks a true (write then read) dependency.
	DependencyFlow DependencyType = 1 << iota
	// DependencyPhi marks flow dependencies produced by phi-elimination
	// moves.
	DependencyPhi
	// DependencyAnti marks read-then-write dependencies.
	DependencyAnti
	// DependencyOutput marks write-then-write dependencies.
	DependencyOutput
)

func (t DependencyType) Has(flag DependencyType) bool { return t&flag == flag }

// DependencyEdge carries all locals coupling the two blocks, each with the
// kinds of dependency they produce.
type DependencyEdge struct {
	Locals map[*ir.Local]DependencyType
}

// DependencyNode is a node of the data-dependency graph, keyed by block.
type DependencyNode = graph.Node[*ir.BasicBlock, struct{}, DependencyEdge]

// DataDependencyGraph records, per pair of blocks, which locals flow
// between them.
type DataDependencyGraph struct {
	graph *graph.Graph[*ir.BasicBlock, struct{}, DependencyEdge]
}

// FindNode returns the dependency node for the block, or nil. Blocks with
// no cross-block dependencies have no node.
func (g *DataDependencyGraph) FindNode(block *ir.BasicBlock) *DependencyNode {
	return g.graph.FindNode(block)
}

func (g *DataDependencyGraph) addDependency(from, to *ir.BasicBlock, local *ir.Local, kind DependencyType) {
	// self edges only matter for phi-writes, e.g. single-block loops
	if from == to && !kind.Has(DependencyPhi) {
		return
	}
	node := g.graph.GetOrCreateNode(from)
	edge := node.AddEdge(to, DependencyEdge{Locals: make(map[*ir.Local]DependencyType)})
	edge.Locals[local] |= kind
}

// NewDataDependencyGraph builds the data-dependency graph of the method.
func NewDataDependencyGraph(method *ir.Method) *DataDependencyGraph {
	g := &DataDependencyGraph{
		graph: graph.NewDirected[*ir.BasicBlock, struct{}, DependencyEdge](),
	}

	type usage struct {
		writers    []*ir.BasicBlock
		phiWriters []*ir.BasicBlock
		readers    []*ir.BasicBlock
	}
	usages := make(map[*ir.Local]*usage)
	use := func(local *ir.Local) *usage {
		u := usages[local]
		if u == nil {
			u = &usage{}
			usages[local] = u
		}
		return u
	}

	for _, block := range method.BasicBlocks() {
		for it := block.Walk(); !it.IsEndOfBlock(); it = it.NextInBlock() {
			inst := it.Get()
			if _, ok := inst.(*ir.BranchLabel); ok {
				continue
			}
			if out := ir.OutputLocal(inst); out != nil {
				u := use(out)
				if inst.HasDecoration(ir.DecorationPhiNode) {
					u.phiWriters = append(u.phiWriters, block)
				} else {
					u.writers = append(u.writers, block)
				}
			}
			for _, arg := range inst.Arguments() {
				if local := arg.CheckLocal(); local != nil && local.Type != ir.TypeLabel {
					use(local).readers = append(use(local).readers, block)
				}
			}
		}
	}

	for local, u := range usages {
		for _, writer := range u.writers {
			for _, reader := range u.readers {
				g.addDependency(writer, reader, local, DependencyFlow)
			}
		}
		for _, writer := range u.phiWriters {
			for _, reader := range u.readers {
				g.addDependency(writer, reader, local, DependencyPhi|DependencyFlow)
			}
		}
		allWriters := append(append([]*ir.BasicBlock(nil), u.writers...), u.phiWriters...)
		for i, first := range allWriters {
			for _, second := range allWriters[i+1:] {
				g.addDependency(first, second, local, DependencyOutput)
				g.addDependency(second, first, local, DependencyOutput)
			}
		}
		for _, reader := range u.readers {
			for _, writer := range allWriters {
				g.addDependency(reader, writer, local, DependencyAnti)
			}
		}
	}

	return g
}
