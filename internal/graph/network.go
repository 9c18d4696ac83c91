package graph

import (
	"encoding/json"
	"fmt"
	"os"

	"spikedeploy/internal/model"
)

// Module kinds understood by the extractor.
const (
	KindLinear = "linear"
	KindLIF    = "lif"
)

// Module is read-only access to one trained sub-module.
type Module interface {
	Name() string
	Kind() string
	Parameters() map[string]model.Tensor
}

// Network exposes the ordered sub-modules of a trained network.
type Network interface {
	Modules() []Module
}

// ModuleDoc is the serialized form of one module.
type ModuleDoc struct {
	ModuleName string                  `json:"name"`
	ModuleKind string                  `json:"kind"`
	Params     map[string]model.Tensor `json:"params"`
}

func (m ModuleDoc) Name() string { return m.ModuleName }
func (m ModuleDoc) Kind() string { return m.ModuleKind }

func (m ModuleDoc) Parameters() map[string]model.Tensor {
	return m.Params
}

// Document is a trained network exported as JSON. It satisfies Network.
type Document struct {
	Name       string      `json:"name,omitempty"`
	ModuleDocs []ModuleDoc `json:"modules"`
}

func (d Document) Modules() []Module {
	out := make([]Module, len(d.ModuleDocs))
	for i := range d.ModuleDocs {
		out[i] = d.ModuleDocs[i]
	}
	return out
}

func DecodeDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode network document: %w", err)
	}
	if len(doc.ModuleDocs) == 0 {
		return Document{}, fmt.Errorf("network document has no modules")
	}
	return doc, nil
}

func LoadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	return DecodeDocument(data)
}

func EncodeDocument(doc Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}
