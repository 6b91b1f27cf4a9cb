// Package metadata implements the in-memory metadata namespace of the
// database: a hierarchical tree mapping dotted paths to internal naming
// nodes or leaf nodes carrying a timeseries schema. One ancestor level is
// flagged as a storage group, the unit of physical data-file partitioning.
package metadata

import (
	"time"

	"github.com/LebronAl/incubator-iotdb/pkg/types"
)

// PathSeparator joins path segments in the dotted path format.
const PathSeparator = types.PathSeparator

// RootName is the fixed name of the tree root. The first segment of every
// from-root path must equal it.
const RootName = "root"

// Node is a single node of the metadata tree. A node is exclusively owned by
// its parent; the parent reference is a plain back-pointer used only for
// upward walks during deletion and storage-group-name propagation.
type Node struct {
	name             string
	parent           *Node
	children         map[string]*Node
	leaf             bool
	storageGroup     bool
	storageGroupName string
	dataTTL          time.Duration
	schema           *types.MeasurementSchema
}

// NewNode creates a plain internal node.
func NewNode(name string, parent *Node) *Node {
	return &Node{
		name:     name,
		parent:   parent,
		children: make(map[string]*Node),
	}
}

// NewLeafNode creates a leaf node carrying a timeseries schema. A leaf never
// acquires children.
func NewLeafNode(name string, parent *Node, schema *types.MeasurementSchema) *Node {
	return &Node{
		name:   name,
		parent: parent,
		leaf:   true,
		schema: schema,
	}
}

// Name returns the node's segment name.
func (n *Node) Name() string {
	return n.name
}

// Parent returns the parent node, or nil for the root.
func (n *Node) Parent() *Node {
	return n.parent
}

// IsLeaf reports whether the node carries a schema and can never have children.
func (n *Node) IsLeaf() bool {
	return n.leaf
}

// IsStorageGroup reports whether the node is a partition boundary.
func (n *Node) IsStorageGroup() bool {
	return n.storageGroup
}

// StorageGroupName returns the cached full path of the nearest storage-group
// ancestor (or of the node itself if it is one). Empty if none exists yet.
func (n *Node) StorageGroupName() string {
	return n.storageGroupName
}

// TTL returns the retention duration; meaningful only on storage-group nodes.
func (n *Node) TTL() time.Duration {
	return n.dataTTL
}

// Schema returns the leaf schema, or nil for internal nodes.
func (n *Node) Schema() *types.MeasurementSchema {
	return n.schema
}

// HasChild reports whether a child with the given name exists.
func (n *Node) HasChild(name string) bool {
	_, ok := n.children[name]
	return ok
}

// Child returns the child with the given name, or nil.
func (n *Node) Child(name string) *Node {
	return n.children[name]
}

// Children returns the child map. Callers must not mutate it directly.
func (n *Node) Children() map[string]*Node {
	return n.children
}

// HasChildren reports whether the node has at least one child.
func (n *Node) HasChildren() bool {
	return len(n.children) > 0
}

// AddChild attaches a child node under the given name, replacing nothing:
// sibling names are unique and callers check for conflicts first.
func (n *Node) AddChild(name string, child *Node) {
	if n.children == nil {
		n.children = make(map[string]*Node)
	}
	n.children[name] = child
}

// DeleteChild detaches the child with the given name.
func (n *Node) DeleteChild(name string) {
	delete(n.children, name)
}

// FullPath rebuilds the dotted path from the root to this node.
func (n *Node) FullPath() string {
	if n.parent == nil {
		return n.name
	}
	return n.parent.FullPath() + PathSeparator + n.name
}

func (n *Node) setStorageGroupName(name string) {
	n.storageGroupName = name
}

func (n *Node) setStorageGroup(ttl time.Duration) {
	n.storageGroup = true
	n.dataTTL = ttl
}
