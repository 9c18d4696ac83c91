package hwmap

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"spikedeploy/internal/graph"
	"spikedeploy/internal/model"
)

var (
	ErrResourceExceeded = errors.New("hardware resource exceeded")
	ErrTopologyMismatch = errors.New("topology mismatch")
)

type Options struct {
	Limits Limits
	// Dt is used when the hidden population carries no dt parameter.
	Dt time.Duration
}

type edgeKey struct {
	source, target model.NodeID
}

// Map flattens g onto the fixed input -> recurrent hidden -> output pipeline
// of the accelerator. Linear junctions are collapsed by multiplying the
// weights on either side and parallel edges are summed.
func Map(g model.Graph, opts Options) (model.HardwareSpec, error) {
	limits := opts.Limits.Normalize()
	if err := g.Validate(); err != nil {
		return model.HardwareSpec{}, fmt.Errorf("%w: %v", ErrTopologyMismatch, err)
	}

	edges, err := collapseJunctions(g)
	if err != nil {
		return model.HardwareSpec{}, err
	}

	input, hidden, output, err := stages(g, edges)
	if err != nil {
		return model.HardwareSpec{}, err
	}

	nin, nhid, nout := g.Nodes[input].Size, g.Nodes[hidden].Size, g.Nodes[output].Size
	if err := checkResource("input channels", nin, limits.MaxInputs); err != nil {
		return model.HardwareSpec{}, err
	}
	if err := checkResource("hidden neurons", nhid, limits.MaxHidden); err != nil {
		return model.HardwareSpec{}, err
	}
	if err := checkResource("output channels", nout, limits.MaxOutputs); err != nil {
		return model.HardwareSpec{}, err
	}

	spec := model.HardwareSpec{
		WeightsIn:  toMatrix(edges[edgeKey{input, hidden}]),
		WeightsRec: model.NewMatrix(nhid, nhid),
		WeightsOut: toMatrix(edges[edgeKey{hidden, output}]),
	}
	if rec, ok := edges[edgeKey{hidden, hidden}]; ok {
		spec.WeightsRec = toMatrix(rec)
	}
	if spec.Hidden, err = neuronParams(g.Nodes[hidden]); err != nil {
		return model.HardwareSpec{}, err
	}
	if spec.Output, err = neuronParams(g.Nodes[output]); err != nil {
		return model.HardwareSpec{}, err
	}

	spec.Dt = opts.Dt
	if dt, ok := g.Nodes[hidden].Params[graph.ParamDt]; ok && dt.IsScalar() {
		spec.Dt = time.Duration(math.Round(dt.Data[0] * float64(time.Second)))
	}
	if spec.Dt <= 0 {
		spec.Dt = DefaultDt
	}

	if err := spec.Validate(); err != nil {
		return model.HardwareSpec{}, fmt.Errorf("%w: %v", ErrTopologyMismatch, err)
	}
	return spec, nil
}

func checkResource(what string, got, max int) error {
	if got > max {
		return fmt.Errorf("%w: %d %s, hardware supports %d", ErrResourceExceeded, got, what, max)
	}
	return nil
}

// collapseJunctions removes every linear junction with incoming edges and
// returns the remaining edges keyed by endpoint, parallel edges summed.
func collapseJunctions(g model.Graph) (map[edgeKey]model.Tensor, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTopologyMismatch, err)
	}

	edges := make(map[edgeKey]model.Tensor, len(g.Edges))
	for _, edge := range g.Edges {
		key := edgeKey{edge.Source, edge.Target}
		if err := accumulate(edges, key, edge.Weight); err != nil {
			return nil, err
		}
	}

	for _, id := range order {
		node := g.Nodes[id]
		if node.Kind != model.NodeLinear {
			continue
		}
		var incoming, outgoing []edgeKey
		for key := range edges {
			if key.target == id {
				incoming = append(incoming, key)
			}
			if key.source == id {
				outgoing = append(outgoing, key)
			}
		}
		if len(incoming) == 0 {
			continue
		}
		sortKeys(incoming)
		sortKeys(outgoing)
		for _, in := range incoming {
			for _, out := range outgoing {
				product, err := matmul(edges[in], edges[out])
				if err != nil {
					return nil, fmt.Errorf("%w: collapse %s: %v", ErrTopologyMismatch, node.Name, err)
				}
				if err := accumulate(edges, edgeKey{in.source, out.target}, product); err != nil {
					return nil, err
				}
			}
		}
		for _, key := range incoming {
			delete(edges, key)
		}
		for _, key := range outgoing {
			delete(edges, key)
		}
	}
	return edges, nil
}

func sortKeys(keys []edgeKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].source != keys[j].source {
			return keys[i].source < keys[j].source
		}
		return keys[i].target < keys[j].target
	})
}

func accumulate(edges map[edgeKey]model.Tensor, key edgeKey, w model.Tensor) error {
	existing, ok := edges[key]
	if !ok {
		edges[key] = w.Clone()
		return nil
	}
	if len(existing.Data) != len(w.Data) {
		return fmt.Errorf("%w: parallel edges %d -> %d have different shapes", ErrTopologyMismatch, key.source, key.target)
	}
	sum := existing.Clone()
	for i := range sum.Data {
		sum.Data[i] += w.Data[i]
	}
	edges[key] = sum
	return nil
}

// stages identifies the input junction and the two spiking populations.
func stages(g model.Graph, edges map[edgeKey]model.Tensor) (input, hidden, output model.NodeID, err error) {
	connected := map[model.NodeID]bool{}
	for key := range edges {
		connected[key.source] = true
		connected[key.target] = true
	}

	input, hidden, output = -1, -1, -1
	var spiking []model.NodeID
	for _, node := range g.Nodes {
		if !connected[node.ID] {
			continue
		}
		switch node.Kind {
		case model.NodeLinear:
			if input >= 0 {
				return -1, -1, -1, fmt.Errorf("%w: more than one input junction", ErrTopologyMismatch)
			}
			input = node.ID
		case model.NodeSpiking:
			spiking = append(spiking, node.ID)
		}
	}
	if input < 0 {
		return -1, -1, -1, fmt.Errorf("%w: no input junction", ErrTopologyMismatch)
	}
	if len(spiking) != 2 {
		return -1, -1, -1, fmt.Errorf("%w: expected a hidden and an output population, found %d spiking populations", ErrTopologyMismatch, len(spiking))
	}

	for _, id := range spiking {
		if _, ok := edges[edgeKey{input, id}]; ok {
			if hidden >= 0 {
				return -1, -1, -1, fmt.Errorf("%w: input drives more than one population", ErrTopologyMismatch)
			}
			hidden = id
		}
	}
	if hidden < 0 {
		return -1, -1, -1, fmt.Errorf("%w: input does not drive a spiking population", ErrTopologyMismatch)
	}
	for _, id := range spiking {
		if id != hidden {
			output = id
		}
	}

	for key := range edges {
		switch key {
		case edgeKey{input, hidden}, edgeKey{hidden, hidden}, edgeKey{hidden, output}:
		case edgeKey{output, output}:
			return -1, -1, -1, fmt.Errorf("%w: only the hidden population may be recurrent", ErrTopologyMismatch)
		default:
			return -1, -1, -1, fmt.Errorf("%w: unsupported connection %s -> %s", ErrTopologyMismatch, g.Nodes[key.source].Name, g.Nodes[key.target].Name)
		}
	}
	if _, ok := edges[edgeKey{hidden, output}]; !ok {
		return -1, -1, -1, fmt.Errorf("%w: hidden population %s does not drive an output population", ErrTopologyMismatch, g.Nodes[hidden].Name)
	}
	return input, hidden, output, nil
}

func neuronParams(node model.Node) (model.NeuronParams, error) {
	get := func(key string) ([]float64, error) {
		t, ok := node.Params[key]
		if !ok || len(t.Data) != node.Size {
			return nil, fmt.Errorf("%w: population %s has no %d-value %s", ErrTopologyMismatch, node.Name, node.Size, key)
		}
		return append([]float64(nil), t.Data...), nil
	}
	var (
		p   model.NeuronParams
		err error
	)
	if p.TauMem, err = get(graph.ParamTauMem); err != nil {
		return p, err
	}
	if p.TauSyn, err = get(graph.ParamTauSyn); err != nil {
		return p, err
	}
	if p.Bias, err = get(graph.ParamBias); err != nil {
		return p, err
	}
	if p.Threshold, err = get(graph.ParamThreshold); err != nil {
		return p, err
	}
	return p, nil
}

func matmul(a, b model.Tensor) (model.Tensor, error) {
	if len(a.Shape) != 2 || len(b.Shape) != 2 || a.Shape[1] != b.Shape[0] {
		return model.Tensor{}, fmt.Errorf("cannot multiply %v by %v", a.Shape, b.Shape)
	}
	rows, inner, cols := a.Shape[0], a.Shape[1], b.Shape[1]
	out := model.Tensor{Shape: []int{rows, cols}, Data: make([]float64, rows*cols)}
	for r := 0; r < rows; r++ {
		for k := 0; k < inner; k++ {
			av := a.Data[r*inner+k]
			if av == 0 {
				continue
			}
			for c := 0; c < cols; c++ {
				out.Data[r*cols+c] += av * b.Data[k*cols+c]
			}
		}
	}
	return out, nil
}

func toMatrix(t model.Tensor) model.Matrix {
	return model.Matrix{Rows: t.Shape[0], Cols: t.Shape[1], Data: append([]float64(nil), t.Data...)}
}
