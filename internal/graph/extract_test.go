package graph

import (
	"errors"
	"testing"

	"spikedeploy/internal/model"
)

func filled(rows, cols int, v float64) model.Tensor {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = v
	}
	return model.Tensor{Shape: []int{rows, cols}, Data: data}
}

func lifModule(name string, withRec bool, size int) ModuleDoc {
	params := map[string]model.Tensor{
		ParamTauMem:    model.Scalar(0.016),
		ParamTauSyn:    model.Scalar(0.008),
		ParamThreshold: model.Scalar(1),
	}
	if withRec {
		params[ParamRecurrent] = filled(size, size, 0.01)
	}
	return ModuleDoc{ModuleName: name, ModuleKind: KindLIF, Params: params}
}

func linearModule(name string, in, out int) ModuleDoc {
	return ModuleDoc{ModuleName: name, ModuleKind: KindLinear, Params: map[string]model.Tensor{
		ParamWeight: filled(in, out, 0.5),
	}}
}

func TestExtractThreeStageNetwork(t *testing.T) {
	doc := Document{ModuleDocs: []ModuleDoc{
		linearModule("lin_in", 4, 3),
		lifModule("hidden", true, 3),
		linearModule("lin_out", 3, 2),
		lifModule("readout", false, 2),
	}}

	g, err := Extract(doc)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(g.Nodes) != 3 {
		t.Fatalf("unexpected node count: got=%d want=3", len(g.Nodes))
	}
	if g.Nodes[0].Kind != model.NodeLinear || g.Nodes[0].Size != 4 {
		t.Fatalf("unexpected input node: %+v", g.Nodes[0])
	}
	if g.Nodes[1].Kind != model.NodeSpiking || g.Nodes[1].Size != 3 {
		t.Fatalf("unexpected hidden node: %+v", g.Nodes[1])
	}
	if len(g.Edges) != 3 {
		t.Fatalf("unexpected edge count: got=%d want=3", len(g.Edges))
	}
	recurrent := 0
	for _, edge := range g.Edges {
		if edge.Recurrent {
			recurrent++
			if edge.Source != 1 || edge.Target != 1 {
				t.Fatalf("recurrent edge is not a hidden self-loop: %+v", edge)
			}
		}
	}
	if recurrent != 1 {
		t.Fatalf("expected one recurrent edge, got %d", recurrent)
	}
	tau := g.Nodes[1].Params[ParamTauMem]
	if len(tau.Data) != 3 || tau.Data[2] != 0.016 {
		t.Fatalf("tau_mem not broadcast to population: %+v", tau)
	}
	bias := g.Nodes[1].Params[ParamBias]
	if len(bias.Data) != 3 || bias.Data[0] != 0 {
		t.Fatalf("missing bias should default to zeros: %+v", bias)
	}
}

func TestExtractInsertsJunctionBetweenLinearModules(t *testing.T) {
	doc := Document{ModuleDocs: []ModuleDoc{
		linearModule("a", 4, 6),
		linearModule("b", 6, 3),
		lifModule("hidden", false, 3),
	}}

	g, err := Extract(doc)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(g.Nodes) != 3 {
		t.Fatalf("unexpected node count: got=%d want=3", len(g.Nodes))
	}
	junction := g.Nodes[1]
	if junction.Kind != model.NodeLinear || junction.Size != 6 {
		t.Fatalf("unexpected junction node: %+v", junction)
	}
}

func TestExtractRejectsUnsupportedModules(t *testing.T) {
	cases := map[string]Document{
		"residual": {ModuleDocs: []ModuleDoc{
			linearModule("a", 2, 2),
			{ModuleName: "skip", ModuleKind: "residual"},
		}},
		"population first": {ModuleDocs: []ModuleDoc{
			lifModule("hidden", false, 2),
		}},
		"trailing linear": {ModuleDocs: []ModuleDoc{
			linearModule("a", 2, 2),
			lifModule("hidden", false, 2),
			linearModule("b", 2, 2),
		}},
		"shape mismatch": {ModuleDocs: []ModuleDoc{
			linearModule("a", 2, 3),
			lifModule("hidden", false, 3),
			linearModule("b", 4, 2),
			lifModule("out", false, 2),
		}},
		"linear bias": {ModuleDocs: []ModuleDoc{
			{ModuleName: "a", ModuleKind: KindLinear, Params: map[string]model.Tensor{
				ParamWeight: filled(2, 2, 1),
				ParamBias:   model.Vector(0, 0.5),
			}},
			lifModule("hidden", false, 2),
		}},
	}

	for name, doc := range cases {
		if _, err := Extract(doc); !errors.Is(err, ErrUnsupportedTopology) {
			t.Fatalf("%s: expected ErrUnsupportedTopology, got %v", name, err)
		}
	}
}

func TestExtractRejectsBadParameterShape(t *testing.T) {
	hidden := lifModule("hidden", false, 3)
	hidden.Params[ParamThreshold] = model.Vector(1, 1)
	doc := Document{ModuleDocs: []ModuleDoc{linearModule("a", 2, 3), hidden}}

	if _, err := Extract(doc); !errors.Is(err, ErrUnsupportedTopology) {
		t.Fatalf("expected ErrUnsupportedTopology, got %v", err)
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	doc := Document{Name: "kws", ModuleDocs: []ModuleDoc{
		linearModule("lin_in", 2, 2),
		lifModule("hidden", true, 2),
	}}
	data, err := EncodeDocument(doc)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeDocument(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Name != "kws" || len(decoded.Modules()) != 2 {
		t.Fatalf("unexpected decoded document: %+v", decoded)
	}
	if _, err := Extract(decoded); err != nil {
		t.Fatalf("extract decoded document: %v", err)
	}
}
