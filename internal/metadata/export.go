package metadata

import (
	"encoding/json"
	"fmt"
)

// ExportNode is one node of the diagnostic export tree: either an internal
// node holding children by name, or a leaf holding the fixed schema fields.
// The JSON form of an internal node is an object with one key per child; a
// leaf is an object with the fixed keys DataType, Encoding, Compressor,
// args, StorageGroup.
type ExportNode struct {
	children map[string]*ExportNode

	leaf         bool
	DataType     string
	Encoding     string
	Compressor   string
	Args         string
	StorageGroup string
}

// exportLeafJSON is the wire form of a leaf export node.
type exportLeafJSON struct {
	DataType     string `json:"DataType"`
	Encoding     string `json:"Encoding"`
	Compressor   string `json:"Compressor"`
	Args         string `json:"args"`
	StorageGroup string `json:"StorageGroup"`
}

// NewInternalExport creates an internal export node.
func NewInternalExport() *ExportNode {
	return &ExportNode{children: make(map[string]*ExportNode)}
}

// IsLeaf reports whether the export node carries schema fields.
func (e *ExportNode) IsLeaf() bool {
	return e.leaf
}

// Child returns the named child of an internal export node, or nil.
func (e *ExportNode) Child(name string) *ExportNode {
	return e.children[name]
}

// Children returns the child map of an internal export node.
func (e *ExportNode) Children() map[string]*ExportNode {
	return e.children
}

// AddChild attaches a child export node.
func (e *ExportNode) AddChild(name string, child *ExportNode) {
	if e.children == nil {
		e.children = make(map[string]*ExportNode)
	}
	e.children[name] = child
}

// MarshalJSON renders a leaf as the fixed-key object and an internal node as
// a name-to-child object.
func (e *ExportNode) MarshalJSON() ([]byte, error) {
	if e.leaf {
		return json.Marshal(exportLeafJSON{
			DataType:     e.DataType,
			Encoding:     e.Encoding,
			Compressor:   e.Compressor,
			Args:         e.Args,
			StorageGroup: e.StorageGroup,
		})
	}
	if e.children == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(e.children)
}

// UnmarshalJSON decodes either form. An object carrying a string-valued
// DataType key is a leaf; everything else is an internal node. (A naming
// node cannot be called DataType with a plain string below it, because
// children are themselves objects.)
func (e *ExportNode) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if dt, ok := raw["DataType"]; ok {
		var s string
		if err := json.Unmarshal(dt, &s); err == nil {
			var leaf exportLeafJSON
			if err := json.Unmarshal(data, &leaf); err != nil {
				return err
			}
			*e = ExportNode{
				leaf:         true,
				DataType:     leaf.DataType,
				Encoding:     leaf.Encoding,
				Compressor:   leaf.Compressor,
				Args:         leaf.Args,
				StorageGroup: leaf.StorageGroup,
			}
			return nil
		}
	}

	children := make(map[string]*ExportNode, len(raw))
	for name, childRaw := range raw {
		child := &ExportNode{}
		if err := json.Unmarshal(childRaw, child); err != nil {
			return fmt.Errorf("export: decoding child %q: %w", name, err)
		}
		children[name] = child
	}
	*e = ExportNode{children: children}
	return nil
}

// Export builds the diagnostic export tree: one top-level internal node
// whose single child is the root.
func (t *Tree) Export() *ExportNode {
	top := NewInternalExport()
	top.AddChild(t.root.Name(), exportSubtree(t.root))
	return top
}

func exportSubtree(node *Node) *ExportNode {
	if node.IsLeaf() {
		schema := node.Schema()
		args := "{}"
		if len(schema.Props) > 0 {
			if b, err := json.Marshal(schema.Props); err == nil {
				args = string(b)
			}
		}
		return &ExportNode{
			leaf:         true,
			DataType:     string(schema.DataType),
			Encoding:     string(schema.Encoding),
			Compressor:   string(schema.Compressor),
			Args:         args,
			StorageGroup: node.StorageGroupName(),
		}
	}
	out := NewInternalExport()
	for name, child := range node.Children() {
		out.AddChild(name, exportSubtree(child))
	}
	return out
}

// String renders the export tree as indented JSON.
func (t *Tree) String() string {
	b, err := json.MarshalIndent(t.Export(), "", "  ")
	if err != nil {
		return fmt.Sprintf("metadata: export failed: %v", err)
	}
	return string(b)
}

// ParseExport decodes an export tree from its JSON rendering.
func ParseExport(data []byte) (*ExportNode, error) {
	e := &ExportNode{}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return e, nil
}

// Combine structurally merges two export trees. Keys present in only one
// operand are kept; keys present in both recurse when both values are
// internal nodes and otherwise keep the first operand's value.
func Combine(a, b *ExportNode) *ExportNode {
	res := NewInternalExport()
	for name, av := range a.children {
		bv, shared := b.children[name]
		switch {
		case !shared:
			res.AddChild(name, av)
		case !av.leaf && !bv.leaf:
			res.AddChild(name, Combine(av, bv))
		default:
			res.AddChild(name, av)
		}
	}
	for name, bv := range b.children {
		if _, shared := a.children[name]; !shared {
			res.AddChild(name, bv)
		}
	}
	return res
}

// CombineAll folds a list of export trees left to right with Combine.
// Used to merge per-instance metadata snapshots in a clustered deployment.
func CombineAll(exports []*ExportNode) *ExportNode {
	if len(exports) == 0 {
		return NewInternalExport()
	}
	res := exports[0]
	for _, e := range exports[1:] {
		res = Combine(res, e)
	}
	return res
}
