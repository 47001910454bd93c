package onnx

import (
	"fmt"
	"math"

	"github.com/born-ml/segport/internal/onnx/operators"
	"github.com/born-ml/segport/internal/tensor"
)

// FoldStats summarizes the work done by FoldConstants.
type FoldStats struct {
	Folded int // nodes replaced by initializers
	Fused  int // BatchNormalization nodes merged into the preceding Conv
	Pruned int // initializers dropped because nothing reads them
}

// FoldConstants rewrites g in place. Nodes whose inputs are all initializers
// are evaluated and replaced by their results, Conv followed by an inference
// BatchNormalization is merged into a single Conv, and unreferenced
// initializers are removed. Node order stays topological.
func FoldConstants(g *GraphProto) (FoldStats, error) {
	var stats FoldStats

	consts := make(map[string]*tensor.RawTensor, len(g.Initializers))
	for i := range g.Initializers {
		t, err := g.Initializers[i].ToRawTensor()
		if err != nil {
			return stats, err
		}
		consts[g.Initializers[i].Name] = t
	}
	outputs := make(map[string]bool, len(g.Outputs))
	for _, o := range g.Outputs {
		outputs[o.Name] = true
	}

	reg := operators.NewRegistry()
	kept := g.Nodes[:0]
	for i := range g.Nodes {
		node := g.Nodes[i]
		inputs, ok := constInputs(&node, consts)
		if !ok || producesOutput(&node, outputs) {
			kept = append(kept, node)
			continue
		}
		if _, supported := reg.Get(node.OpType); !supported {
			kept = append(kept, node)
			continue
		}

		results, err := reg.Execute(toOperatorNode(&node), inputs)
		if err != nil {
			return stats, fmt.Errorf("folding %s (%s): %w", node.Name, node.OpType, err)
		}
		if len(results) != len(node.Outputs) {
			return stats, fmt.Errorf("folding %s: %d results for %d outputs", node.Name, len(results), len(node.Outputs))
		}
		for j, out := range node.Outputs {
			consts[out] = results[j]
			g.Initializers = append(g.Initializers, NewTensorProto(out, results[j]))
		}
		stats.Folded++
	}
	g.Nodes = kept

	fused, err := fuseConvBatchNorm(g, consts, outputs)
	if err != nil {
		return stats, err
	}
	stats.Fused = fused
	stats.Pruned = pruneInitializers(g)
	return stats, nil
}

// constInputs resolves every input of node to a constant. Omitted optional
// inputs resolve to nil.
func constInputs(node *NodeProto, consts map[string]*tensor.RawTensor) ([]*tensor.RawTensor, bool) {
	if len(node.Inputs) == 0 {
		return nil, false
	}
	inputs := make([]*tensor.RawTensor, len(node.Inputs))
	for i, name := range node.Inputs {
		if name == "" {
			continue
		}
		t, ok := consts[name]
		if !ok {
			return nil, false
		}
		inputs[i] = t
	}
	return inputs, true
}

func producesOutput(node *NodeProto, outputs map[string]bool) bool {
	for _, o := range node.Outputs {
		if outputs[o] {
			return true
		}
	}
	return false
}

func toOperatorNode(n *NodeProto) *operators.Node {
	node := &operators.Node{Name: n.Name, OpType: n.OpType}
	for i := range n.Attributes {
		a := &n.Attributes[i]
		node.Attributes = append(node.Attributes, operators.Attribute{
			Name:   a.Name,
			F:      a.F,
			I:      a.I,
			S:      a.S,
			Floats: a.Floats,
			Ints:   a.Ints,
		})
	}
	return node
}

// fuseConvBatchNorm folds BatchNormalization(Conv(x, W, B)) into Conv(x, W', B')
// when the Conv result has no other reader:
//
//	factor = scale / sqrt(var + eps)
//	W'     = W * factor (per output channel)
//	B'     = (B - mean) * factor + bias
func fuseConvBatchNorm(g *GraphProto, consts map[string]*tensor.RawTensor, outputs map[string]bool) (int, error) {
	readers := make(map[string]int)
	for i := range g.Nodes {
		for _, in := range g.Nodes[i].Inputs {
			readers[in]++
		}
	}
	producer := make(map[string]int)
	for i := range g.Nodes {
		for _, out := range g.Nodes[i].Outputs {
			producer[out] = i
		}
	}

	drop := make(map[int]bool)
	fused := 0
	for i := range g.Nodes {
		bn := &g.Nodes[i]
		if bn.OpType != "BatchNormalization" || len(bn.Inputs) != 5 || len(bn.Outputs) != 1 {
			continue
		}
		ci, ok := producer[bn.Inputs[0]]
		if !ok || readers[bn.Inputs[0]] != 1 || outputs[bn.Inputs[0]] {
			continue
		}
		conv := &g.Nodes[ci]
		if conv.OpType != "Conv" || len(conv.Inputs) < 2 {
			continue
		}
		params, ok := lookupAll(consts, bn.Inputs[1:]...)
		if !ok {
			continue
		}
		w, ok := consts[conv.Inputs[1]]
		if !ok {
			continue
		}
		var b *tensor.RawTensor
		if len(conv.Inputs) > 2 && conv.Inputs[2] != "" {
			if b, ok = consts[conv.Inputs[2]]; !ok {
				continue
			}
		}

		eps := float32(1e-5)
		if a, ok := bn.Attr("epsilon"); ok {
			eps = a.F
		}
		newW, newB, err := foldBatchNorm(w, b, params[0], params[1], params[2], params[3], eps)
		if err != nil {
			return fused, fmt.Errorf("fusing %s into %s: %w", bn.Name, conv.Name, err)
		}

		wName := conv.Outputs[0] + "_fused_weight"
		bName := conv.Outputs[0] + "_fused_bias"
		consts[wName], consts[bName] = newW, newB
		g.Initializers = append(g.Initializers, NewTensorProto(wName, newW), NewTensorProto(bName, newB))

		conv.Inputs = []string{conv.Inputs[0], wName, bName}
		conv.Outputs = []string{bn.Outputs[0]}
		drop[i] = true
		fused++
	}

	if fused > 0 {
		kept := g.Nodes[:0]
		for i := range g.Nodes {
			if !drop[i] {
				kept = append(kept, g.Nodes[i])
			}
		}
		g.Nodes = kept
	}
	return fused, nil
}

func lookupAll(consts map[string]*tensor.RawTensor, names ...string) ([]*tensor.RawTensor, bool) {
	out := make([]*tensor.RawTensor, len(names))
	for i, n := range names {
		t, ok := consts[n]
		if !ok {
			return nil, false
		}
		out[i] = t
	}
	return out, true
}

func foldBatchNorm(w, b, scale, bias, mean, variance *tensor.RawTensor, eps float32) (*tensor.RawTensor, *tensor.RawTensor, error) {
	for _, t := range []*tensor.RawTensor{w, scale, bias, mean, variance} {
		if t.DType() != tensor.Float32 {
			return nil, nil, fmt.Errorf("expected float32 parameters, got %s", t.DType())
		}
	}
	outC := w.Shape()[0]
	for _, t := range []*tensor.RawTensor{scale, bias, mean, variance} {
		if t.NumElements() != outC {
			return nil, nil, fmt.Errorf("batch norm has %d channels, conv has %d", t.NumElements(), outC)
		}
	}

	newW := w.Clone()
	newB, err := tensor.NewRaw(tensor.Shape{outC}, tensor.Float32)
	if err != nil {
		return nil, nil, err
	}

	wv, bv := newW.AsFloat32(), newB.AsFloat32()
	sv, biasv, mv, vv := scale.AsFloat32(), bias.AsFloat32(), mean.AsFloat32(), variance.AsFloat32()
	per := w.NumElements() / outC
	for c := 0; c < outC; c++ {
		factor := sv[c] / float32(math.Sqrt(float64(vv[c]+eps)))
		for k := c * per; k < (c+1)*per; k++ {
			wv[k] *= factor
		}
		var convBias float32
		if b != nil {
			convBias = b.AsFloat32()[c]
		}
		bv[c] = (convBias-mv[c])*factor + biasv[c]
	}
	return newW, newB, nil
}

// pruneInitializers drops initializers that no node or graph output reads.
func pruneInitializers(g *GraphProto) int {
	used := make(map[string]bool)
	for i := range g.Nodes {
		for _, in := range g.Nodes[i].Inputs {
			used[in] = true
		}
	}
	for _, o := range g.Outputs {
		used[o.Name] = true
	}

	kept := g.Initializers[:0]
	pruned := 0
	seen := make(map[string]bool, len(g.Initializers))
	for _, tp := range g.Initializers {
		if !used[tp.Name] || seen[tp.Name] {
			pruned++
			continue
		}
		seen[tp.Name] = true
		kept = append(kept, tp)
	}
	g.Initializers = kept
	return pruned
}
