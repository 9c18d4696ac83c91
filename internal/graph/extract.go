package graph

import (
	"errors"
	"fmt"

	"spikedeploy/internal/model"
)

// ErrUnsupportedTopology is returned when a network contains a module the
// accelerator cannot represent.
var ErrUnsupportedTopology = errors.New("unsupported topology")

// Population parameter names. Time constants and dt are in seconds.
const (
	ParamWeight    = "weight"
	ParamBias      = "bias"
	ParamTauMem    = "tau_mem"
	ParamTauSyn    = "tau_syn"
	ParamThreshold = "threshold"
	ParamRecurrent = "w_rec"
	ParamDt        = "dt"
)

var populationParams = []string{ParamTauMem, ParamTauSyn, ParamBias, ParamThreshold}

type pendingEdge struct {
	source model.NodeID
	name   string
	weight model.Tensor
}

// Extract walks the ordered modules of net once and builds the equivalent
// node/edge graph. Linear modules become edges, LIF modules become spiking
// nodes, and consecutive linear modules are joined by a linear junction node.
func Extract(net Network) (model.Graph, error) {
	if net == nil {
		return model.Graph{}, fmt.Errorf("%w: network is nil", ErrUnsupportedTopology)
	}
	modules := net.Modules()
	if len(modules) == 0 {
		return model.Graph{}, fmt.Errorf("%w: network has no modules", ErrUnsupportedTopology)
	}

	var (
		g       model.Graph
		current model.NodeID = -1
		pending *pendingEdge
	)
	addNode := func(node model.Node) model.NodeID {
		node.ID = model.NodeID(len(g.Nodes))
		g.Nodes = append(g.Nodes, node)
		return node.ID
	}

	for i, module := range modules {
		name := module.Name()
		if name == "" {
			name = fmt.Sprintf("%s%d", module.Kind(), i)
		}
		params := module.Parameters()

		switch module.Kind() {
		case KindLinear:
			weight, err := linearWeight(name, params)
			if err != nil {
				return model.Graph{}, err
			}
			in := weight.Shape[0]
			switch {
			case current < 0 && pending == nil:
				current = addNode(model.Node{Name: "input", Kind: model.NodeLinear, Size: in})
			case pending != nil:
				junction := addNode(model.Node{Name: pending.name + "/out", Kind: model.NodeLinear, Size: pending.weight.Shape[1]})
				g.Edges = append(g.Edges, model.Edge{Source: pending.source, Target: junction, Name: pending.name, Weight: pending.weight})
				current = junction
			}
			if size := g.Nodes[current].Size; size != in {
				return model.Graph{}, fmt.Errorf("%w: module %s expects %d inputs, previous stage has %d", ErrUnsupportedTopology, name, in, size)
			}
			pending = &pendingEdge{source: current, name: name, weight: weight.Clone()}

		case KindLIF:
			if pending == nil {
				return model.Graph{}, fmt.Errorf("%w: population %s is not preceded by a linear module", ErrUnsupportedTopology, name)
			}
			size := pending.weight.Shape[1]
			nodeParams, err := populationParameters(name, params, size)
			if err != nil {
				return model.Graph{}, err
			}
			id := addNode(model.Node{Name: name, Kind: model.NodeSpiking, Size: size, Params: nodeParams})
			g.Edges = append(g.Edges, model.Edge{Source: pending.source, Target: id, Name: pending.name, Weight: pending.weight})
			pending = nil

			if rec, ok := params[ParamRecurrent]; ok {
				if len(rec.Shape) != 2 || rec.Shape[0] != size || rec.Shape[1] != size {
					return model.Graph{}, fmt.Errorf("%w: population %s recurrent weight shape %v, want [%d %d]", ErrUnsupportedTopology, name, rec.Shape, size, size)
				}
				if err := rec.Validate(); err != nil {
					return model.Graph{}, fmt.Errorf("%w: population %s recurrent weight: %v", ErrUnsupportedTopology, name, err)
				}
				g.Edges = append(g.Edges, model.Edge{Source: id, Target: id, Name: name + "/" + ParamRecurrent, Weight: rec.Clone(), Recurrent: true})
			}
			current = id

		default:
			return model.Graph{}, fmt.Errorf("%w: module %s has kind %q", ErrUnsupportedTopology, name, module.Kind())
		}
	}

	if pending != nil {
		return model.Graph{}, fmt.Errorf("%w: network ends with linear module %s and no neuron population", ErrUnsupportedTopology, pending.name)
	}
	if err := g.Validate(); err != nil {
		return model.Graph{}, fmt.Errorf("%w: %v", ErrUnsupportedTopology, err)
	}
	return g, nil
}

func linearWeight(name string, params map[string]model.Tensor) (model.Tensor, error) {
	weight, ok := params[ParamWeight]
	if !ok {
		return model.Tensor{}, fmt.Errorf("%w: linear module %s has no %s", ErrUnsupportedTopology, name, ParamWeight)
	}
	if len(weight.Shape) != 2 || weight.Shape[0] <= 0 || weight.Shape[1] <= 0 {
		return model.Tensor{}, fmt.Errorf("%w: linear module %s weight shape %v is not a matrix", ErrUnsupportedTopology, name, weight.Shape)
	}
	if err := weight.Validate(); err != nil {
		return model.Tensor{}, fmt.Errorf("%w: linear module %s: %v", ErrUnsupportedTopology, name, err)
	}
	if bias, ok := params[ParamBias]; ok {
		for _, v := range bias.Data {
			if v != 0 {
				return model.Tensor{}, fmt.Errorf("%w: linear module %s has a non-zero bias", ErrUnsupportedTopology, name)
			}
		}
	}
	return weight, nil
}

func populationParameters(name string, params map[string]model.Tensor, size int) (map[string]model.Tensor, error) {
	out := make(map[string]model.Tensor, len(populationParams)+1)
	for _, key := range populationParams {
		t, ok := params[key]
		if !ok {
			if key == ParamBias {
				out[key] = model.Tensor{Shape: []int{size}, Data: make([]float64, size)}
				continue
			}
			return nil, fmt.Errorf("%w: population %s is missing %s", ErrUnsupportedTopology, name, key)
		}
		values, err := broadcast(t, size)
		if err != nil {
			return nil, fmt.Errorf("%w: population %s %s: %v", ErrUnsupportedTopology, name, key, err)
		}
		out[key] = values
	}
	if dt, ok := params[ParamDt]; ok {
		if !dt.IsScalar() || dt.Data[0] <= 0 {
			return nil, fmt.Errorf("%w: population %s dt must be a positive scalar", ErrUnsupportedTopology, name)
		}
		out[ParamDt] = model.Scalar(dt.Data[0])
	}
	return out, nil
}

// broadcast expands a scalar to a vector of size n or checks a vector has
// exactly n values.
func broadcast(t model.Tensor, n int) (model.Tensor, error) {
	if err := t.Validate(); err != nil {
		return model.Tensor{}, err
	}
	if t.IsScalar() {
		data := make([]float64, n)
		for i := range data {
			data[i] = t.Data[0]
		}
		return model.Tensor{Shape: []int{n}, Data: data}, nil
	}
	if len(t.Shape) != 1 || t.Shape[0] != n {
		return model.Tensor{}, fmt.Errorf("shape %v does not broadcast to [%d]", t.Shape, n)
	}
	return t.Clone(), nil
}
