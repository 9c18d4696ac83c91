package model

import (
	"fmt"
	"math"
)

// Tensor is a dense row-major array of float parameters.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

func Scalar(v float64) Tensor {
	return Tensor{Shape: []int{}, Data: []float64{v}}
}

func Vector(values ...float64) Tensor {
	return Tensor{Shape: []int{len(values)}, Data: append([]float64(nil), values...)}
}

// MatrixTensor builds a [rows, cols] tensor from row slices.
func MatrixTensor(rows [][]float64) Tensor {
	if len(rows) == 0 {
		return Tensor{Shape: []int{0, 0}}
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for _, row := range rows {
		data = append(data, row...)
	}
	return Tensor{Shape: []int{len(rows), cols}, Data: data}
}

func (t Tensor) Len() int {
	n := 1
	for _, dim := range t.Shape {
		n *= dim
	}
	return n
}

// IsScalar reports whether the tensor holds exactly one value addressed as a
// scalar or a length-1 vector.
func (t Tensor) IsScalar() bool {
	return len(t.Data) == 1 && (len(t.Shape) == 0 || (len(t.Shape) == 1 && t.Shape[0] == 1))
}

func (t Tensor) Validate() error {
	if t.Len() != len(t.Data) {
		return fmt.Errorf("tensor shape %v holds %d values, data has %d", t.Shape, t.Len(), len(t.Data))
	}
	for i, v := range t.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("tensor value %d is not finite", i)
		}
	}
	return nil
}

func (t Tensor) Clone() Tensor {
	return Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float64(nil), t.Data...),
	}
}

type NodeKind string

const (
	// NodeLinear is a non-spiking junction: the network input, or the point
	// between two consecutive linear modules.
	NodeLinear NodeKind = "linear"
	// NodeSpiking is a leaky integrate-and-fire neuron population.
	NodeSpiking NodeKind = "spiking"
)

type NodeID int

type Node struct {
	ID     NodeID            `json:"id"`
	Name   string            `json:"name"`
	Kind   NodeKind          `json:"kind"`
	Size   int               `json:"size"`
	Params map[string]Tensor `json:"params,omitempty"`
}

type Edge struct {
	Source    NodeID `json:"source"`
	Target    NodeID `json:"target"`
	Name      string `json:"name,omitempty"`
	Weight    Tensor `json:"weight"`
	Recurrent bool   `json:"recurrent"`
}

// Graph is an arena of nodes addressed by NodeID plus the weighted edges
// between them.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

func (g Graph) Node(id NodeID) (Node, bool) {
	if int(id) < 0 || int(id) >= len(g.Nodes) {
		return Node{}, false
	}
	return g.Nodes[id], true
}

func (g Graph) Incoming(id NodeID) []Edge {
	var out []Edge
	for _, edge := range g.Edges {
		if edge.Target == id {
			out = append(out, edge)
		}
	}
	return out
}

func (g Graph) Outgoing(id NodeID) []Edge {
	var out []Edge
	for _, edge := range g.Edges {
		if edge.Source == id {
			out = append(out, edge)
		}
	}
	return out
}

// Validate checks edge endpoints and shapes, and that the graph is acyclic
// apart from recurrent self-loops on spiking nodes.
func (g Graph) Validate() error {
	for i, node := range g.Nodes {
		if node.ID != NodeID(i) {
			return fmt.Errorf("node %q at index %d has id %d", node.Name, i, node.ID)
		}
		if node.Size <= 0 {
			return fmt.Errorf("node %q size must be > 0", node.Name)
		}
	}
	for i, edge := range g.Edges {
		src, ok := g.Node(edge.Source)
		if !ok {
			return fmt.Errorf("edge %d: unknown source %d", i, edge.Source)
		}
		dst, ok := g.Node(edge.Target)
		if !ok {
			return fmt.Errorf("edge %d: unknown target %d", i, edge.Target)
		}
		if err := edge.Weight.Validate(); err != nil {
			return fmt.Errorf("edge %d (%s -> %s): %w", i, src.Name, dst.Name, err)
		}
		if len(edge.Weight.Shape) != 2 || edge.Weight.Shape[0] != src.Size || edge.Weight.Shape[1] != dst.Size {
			return fmt.Errorf("edge %d (%s -> %s): weight shape %v, want [%d %d]", i, src.Name, dst.Name, edge.Weight.Shape, src.Size, dst.Size)
		}
		if edge.Recurrent {
			if edge.Source != edge.Target {
				return fmt.Errorf("edge %d: recurrent edge must be a self-loop", i)
			}
			if src.Kind != NodeSpiking {
				return fmt.Errorf("edge %d: recurrent self-loop on non-spiking node %s", i, src.Name)
			}
		} else if edge.Source == edge.Target {
			return fmt.Errorf("edge %d: self-loop on %s is not marked recurrent", i, src.Name)
		}
	}
	if _, err := g.TopologicalOrder(); err != nil {
		return err
	}
	return nil
}

// TopologicalOrder orders nodes so every non-recurrent edge points forward.
func (g Graph) TopologicalOrder() ([]NodeID, error) {
	indegree := make([]int, len(g.Nodes))
	for _, edge := range g.Edges {
		if edge.Recurrent {
			continue
		}
		indegree[edge.Target]++
	}
	order := make([]NodeID, 0, len(g.Nodes))
	queue := make([]NodeID, 0, len(g.Nodes))
	for i, d := range indegree {
		if d == 0 {
			queue = append(queue, NodeID(i))
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, edge := range g.Edges {
			if edge.Recurrent || edge.Source != id {
				continue
			}
			indegree[edge.Target]--
			if indegree[edge.Target] == 0 {
				queue = append(queue, edge.Target)
			}
		}
	}
	if len(order) != len(g.Nodes) {
		return nil, fmt.Errorf("graph contains a cycle outside recurrent self-loops")
	}
	return order, nil
}
