package metadata

import (
	"strings"
	"time"

	"github.com/LebronAl/incubator-iotdb/internal/errors"
	"github.com/LebronAl/incubator-iotdb/pkg/types"
)

// Tree owns the root node and implements every mutation and traversal
// operation of the metadata namespace.
//
// The tree is not internally synchronized: callers serialize mutations and
// take a consistent read snapshot themselves. Manager is the synchronization
// boundary the rest of the system uses.
type Tree struct {
	root *Node
}

// NewTree creates a tree with a single root node of the given name.
func NewTree(rootName string) *Tree {
	return &Tree{root: NewNode(rootName, nil)}
}

// Root returns the root node.
func (t *Tree) Root() *Node {
	return t.root
}

// splitPath splits a dotted path into segments. Empty segments are illegal.
func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, errors.NewIllegalPath(path)
	}
	segments := strings.Split(path, PathSeparator)
	for _, s := range segments {
		if s == "" {
			return nil, errors.NewIllegalPath(path)
		}
	}
	return segments, nil
}

// checkFromRoot validates a from-root path: at least two segments and a
// correct root segment.
func (t *Tree) checkFromRoot(path string, segments []string) error {
	if len(segments) < 2 || segments[0] != t.root.Name() {
		return errors.NewIllegalPath(path)
	}
	return nil
}

// InsertSeries creates a leaf node carrying the given schema at the path,
// auto-creating missing internal nodes for all but the last segment. The
// nearest ancestor storage-group name is recorded on the way down for
// bookkeeping; a series may legally be created before its storage group is
// declared. Intermediate nodes created while walking toward a deeper failure
// are plain internal scaffolding and satisfy the invariants on their own.
func (t *Tree) InsertSeries(path string, dataType types.DataType, encoding types.Encoding,
	compressor types.Compressor, props map[string]string) error {
	segments, err := splitPath(path)
	if err != nil {
		return err
	}
	if err := t.checkFromRoot(path, segments); err != nil {
		return err
	}

	cur, err := t.parentForInsert(segments)
	if err != nil {
		return err
	}

	name := segments[len(segments)-1]
	if cur.IsLeaf() {
		return errors.NewPathAlreadyExists(cur.FullPath())
	}
	if cur.HasChild(name) {
		return errors.NewPathAlreadyExists(path)
	}

	schema := &types.MeasurementSchema{
		DataType:   dataType,
		Encoding:   encoding,
		Compressor: compressor,
	}
	if len(props) > 0 {
		schema.Props = make(map[string]string, len(props))
		for k, v := range props {
			schema.Props[k] = v
		}
	}

	leaf := NewLeafNode(name, cur, schema)
	leaf.setStorageGroupName(cur.StorageGroupName())
	cur.AddChild(name, leaf)
	return nil
}

// parentForInsert walks from the root to the parent position of the last
// segment, auto-creating missing internal nodes and refreshing the cached
// storage-group name on each node crossed.
func (t *Tree) parentForInsert(segments []string) (*Node, error) {
	cur := t.root
	sg := ""
	for i := 1; i < len(segments)-1; i++ {
		name := segments[i]
		if cur.IsStorageGroup() {
			sg = cur.StorageGroupName()
		}
		if !cur.HasChild(name) {
			if cur.IsLeaf() {
				return nil, errors.NewPathAlreadyExists(cur.FullPath())
			}
			cur.AddChild(name, NewNode(name, cur))
		}
		cur.setStorageGroupName(sg)
		cur = cur.Child(name)
		if sg == "" {
			sg = cur.StorageGroupName()
		}
	}
	if cur.IsStorageGroup() {
		sg = cur.StorageGroupName()
	}
	cur.setStorageGroupName(sg)
	return cur, nil
}

// EnsureDevice materializes the internal-node chain for a device path and
// returns the terminal node, creating missing segments as plain internal
// nodes. No schema is attached.
func (t *Tree) EnsureDevice(path string) (*Node, error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if err := t.checkFromRoot(path, segments); err != nil {
		return nil, err
	}
	sg := ""
	cur := t.root
	for i := 1; i < len(segments); i++ {
		name := segments[i]
		if cur.IsStorageGroup() {
			sg = cur.StorageGroupName()
		}
		if !cur.HasChild(name) {
			if cur.IsLeaf() {
				return nil, errors.NewPathAlreadyExists(cur.FullPath())
			}
			child := NewNode(name, cur)
			child.setStorageGroupName(sg)
			cur.AddChild(name, child)
		}
		cur = cur.Child(name)
	}
	return cur, nil
}

// SetStorageGroup marks the terminal node of the path as a storage group with
// the given TTL, auto-creating missing intermediates. Storage groups cannot
// nest: declaring at, under, or above an existing storage group fails. The
// storage-group name is propagated to every node already in the subtree.
func (t *Tree) SetStorageGroup(path string, ttl time.Duration) error {
	segments, err := splitPath(path)
	if err != nil {
		return err
	}
	if err := t.checkFromRoot(path, segments); err != nil {
		return err
	}

	cur := t.root
	for i := 1; i < len(segments)-1; i++ {
		child := cur.Child(segments[i])
		if child == nil {
			if cur.IsLeaf() {
				return errors.NewPathAlreadyExists(cur.FullPath())
			}
			child = NewNode(segments[i], cur)
			cur.AddChild(segments[i], child)
		} else if child.IsStorageGroup() {
			return errors.NewStorageGroupAlreadySet(child.FullPath())
		}
		cur = child
	}

	last := segments[len(segments)-1]
	if existing := cur.Child(last); existing != nil {
		if hasStorageGroupBelow(existing) {
			return errors.NewStorageGroupAlreadySet(existing.FullPath())
		}
		return errors.NewPathAlreadyExists(existing.FullPath())
	}
	if cur.IsLeaf() {
		return errors.NewPathAlreadyExists(cur.FullPath())
	}

	node := NewNode(last, cur)
	cur.AddChild(last, node)
	node.setStorageGroup(ttl)
	propagateStorageGroupName(node, path)
	return nil
}

// hasStorageGroupBelow reports whether the node or any descendant is a
// storage group.
func hasStorageGroupBelow(node *Node) bool {
	if node.IsStorageGroup() {
		return true
	}
	for _, child := range node.Children() {
		if hasStorageGroupBelow(child) {
			return true
		}
	}
	return false
}

// propagateStorageGroupName stamps the storage-group name on a whole subtree.
// The node is freshly created at declaration time, so the recursion normally
// visits only the node itself.
func propagateStorageGroupName(node *Node, name string) {
	node.setStorageGroupName(name)
	for _, child := range node.Children() {
		propagateStorageGroupName(child, name)
	}
}

// DeleteStorageGroup removes the storage-group node at the path, then walks
// upward detaching any ancestor left childless, stopping at the root.
func (t *Tree) DeleteStorageGroup(path string) error {
	cur, err := t.NodeByPath(path)
	if err != nil {
		return err
	}
	if !cur.IsStorageGroup() {
		return errors.NewStorageGroupNotSet(path)
	}
	cur.Parent().DeleteChild(cur.Name())
	cur = cur.Parent()
	for cur != nil && cur.Name() != t.root.Name() && !cur.HasChildren() {
		cur.Parent().DeleteChild(cur.Name())
		cur = cur.Parent()
	}
	return nil
}

// DeleteSeries removes the node at the path and prunes childless ancestors
// upward. It returns the name of the affected storage group: the resolved
// node's own name if it is a storage group (in which case nothing is removed;
// only DeleteStorageGroup removes those), the name of a storage-group node
// reached by pruning, or empty when pruning stops elsewhere.
func (t *Tree) DeleteSeries(path string) (string, error) {
	segments, err := splitPath(path)
	if err != nil {
		return "", err
	}
	if err := t.checkFromRoot(path, segments); err != nil {
		return "", err
	}

	cur := t.root
	for i := 1; i < len(segments); i++ {
		if !cur.HasChild(segments[i]) {
			return "", errors.NewPathNotExists(path)
		}
		cur = cur.Child(segments[i])
	}

	if cur.IsStorageGroup() {
		return cur.StorageGroupName(), nil
	}

	cur.Parent().DeleteChild(cur.Name())
	cur = cur.Parent()
	for cur != nil && cur.Name() != t.root.Name() && !cur.HasChildren() {
		if cur.IsStorageGroup() {
			return cur.StorageGroupName(), nil
		}
		cur.Parent().DeleteChild(cur.Name())
		cur = cur.Parent()
	}
	return "", nil
}

// NodeByPath resolves the path to its terminal node with a from-root walk.
func (t *Tree) NodeByPath(path string) (*Node, error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if err := t.checkFromRoot(path, segments); err != nil {
		return nil, err
	}
	cur := t.root
	for i := 1; i < len(segments); i++ {
		if !cur.HasChild(segments[i]) {
			return nil, errors.NewPathNotExists(path)
		}
		cur = cur.Child(segments[i])
	}
	return cur, nil
}

// NodeByPathWithStorageGroupCheck resolves the path and additionally requires
// that a storage-group node is crossed on the way. A walk that cannot
// continue before any storage group was seen fails with StorageGroupNotSet
// (taking priority over PathNotExists); a complete walk that never crossed a
// storage group also fails with StorageGroupNotSet.
func (t *Tree) NodeByPathWithStorageGroupCheck(path string) (*Node, error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if err := t.checkFromRoot(path, segments); err != nil {
		return nil, err
	}

	storageGroupChecked := false
	cur := t.root
	for i := 1; i < len(segments); i++ {
		if !cur.HasChild(segments[i]) {
			if !storageGroupChecked {
				return nil, errors.NewStorageGroupNotSet(path)
			}
			return nil, errors.NewPathNotExists(path)
		}
		cur = cur.Child(segments[i])
		if cur.IsStorageGroup() {
			storageGroupChecked = true
		}
	}
	if !storageGroupChecked {
		return nil, errors.NewStorageGroupNotSet(path)
	}
	return cur, nil
}

// PathExists reports whether the full path is present, where the path may be
// a prefix of deeper series.
func (t *Tree) PathExists(path string) bool {
	segments := strings.Split(path, PathSeparator)
	if len(segments) == 0 || segments[0] != t.root.Name() {
		return false
	}
	cur := t.root
	for i := 1; i < len(segments); i++ {
		if !cur.HasChild(segments[i]) {
			return false
		}
		cur = cur.Child(segments[i])
	}
	return true
}

// PathExistsFrom reports whether the relative path exists under the given
// node. An empty relative path trivially exists.
func (t *Tree) PathExistsFrom(node *Node, path string) bool {
	if path == "" {
		return true
	}
	cur := node
	for _, segment := range strings.Split(path, PathSeparator) {
		if !cur.HasChild(segment) {
			return false
		}
		cur = cur.Child(segment)
	}
	return true
}

// StorageGroupName walks the path segment by segment and returns the name of
// the first storage-group node encountered, which may be before the path's
// end. It fails with StorageGroupNotSet if the walk runs off the tree or
// completes without crossing one.
func (t *Tree) StorageGroupName(path string) (string, error) {
	segments, err := splitPath(path)
	if err != nil {
		return "", err
	}
	cur := t.root
	for i := 1; i < len(segments); i++ {
		if cur == nil {
			return "", errors.NewStorageGroupNotSet(path)
		}
		if cur.IsStorageGroup() {
			return cur.StorageGroupName(), nil
		}
		cur = cur.Child(segments[i])
	}
	if cur != nil && cur.IsStorageGroup() {
		return cur.StorageGroupName(), nil
	}
	return "", errors.NewStorageGroupNotSet(path)
}

// StorageGroupNameFrom is the node-relative form of StorageGroupName.
func (t *Tree) StorageGroupNameFrom(node *Node, path string) (string, error) {
	segments, err := splitPath(path)
	if err != nil {
		return "", err
	}
	cur := node.Child(segments[0])
	for i := 1; i < len(segments); i++ {
		if cur == nil {
			return "", errors.NewStorageGroupNotSet(path)
		}
		if cur.IsStorageGroup() {
			return cur.StorageGroupName(), nil
		}
		cur = cur.Child(segments[i])
	}
	if cur != nil && cur.IsStorageGroup() {
		return cur.StorageGroupName(), nil
	}
	return "", errors.NewStorageGroupNotSet(path)
}

// IsUnderStorageGroup reports whether a prefix of the path is a storage
// group, with no error on failure.
func (t *Tree) IsUnderStorageGroup(path string) bool {
	segments := strings.Split(path, PathSeparator)
	cur := t.root
	for i := 1; i < len(segments); i++ {
		if cur == nil {
			return false
		}
		if cur.IsStorageGroup() {
			return true
		}
		cur = cur.Child(segments[i])
	}
	return cur != nil && cur.IsStorageGroup()
}

// IsStorageGroup reports whether the whole path names a storage-group node.
func (t *Tree) IsStorageGroup(path string) bool {
	segments := strings.Split(path, PathSeparator)
	if len(segments) < 2 || segments[0] != t.root.Name() {
		return false
	}
	cur := t.root
	for i := 1; i < len(segments)-1; i++ {
		child := cur.Child(segments[i])
		if child == nil || child.IsStorageGroup() {
			return false
		}
		cur = child
	}
	last := cur.Child(segments[len(segments)-1])
	return last != nil && last.IsStorageGroup()
}

// LeafSchema resolves the path to a leaf and returns its schema. A resolved
// non-leaf node fails with PathNotExists.
func (t *Tree) LeafSchema(path string) (*types.MeasurementSchema, error) {
	cur, err := t.NodeByPath(path)
	if err != nil {
		return nil, err
	}
	if !cur.IsLeaf() {
		return nil, errors.NewPathNotExists(path)
	}
	return cur.Schema(), nil
}

// LeafSchemaWithCheck is the checked form of LeafSchema: the walk must also
// cross a storage-group node, failing with StorageGroupNotSet otherwise.
func (t *Tree) LeafSchemaWithCheck(path string) (*types.MeasurementSchema, error) {
	cur, err := t.NodeByPathWithStorageGroupCheck(path)
	if err != nil {
		return nil, err
	}
	if !cur.IsLeaf() {
		return nil, errors.NewPathNotExists(path)
	}
	return cur.Schema(), nil
}

// LeafSchemaFrom resolves a relative path under the given node to a leaf and
// returns its schema.
func (t *Tree) LeafSchemaFrom(node *Node, path string) (*types.MeasurementSchema, error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if !node.HasChild(segments[0]) {
		return nil, errors.NewIllegalPath(path)
	}
	cur := node.Child(segments[0])
	for i := 1; i < len(segments); i++ {
		if !cur.HasChild(segments[i]) {
			return nil, errors.NewPathNotExists(path)
		}
		cur = cur.Child(segments[i])
	}
	if !cur.IsLeaf() {
		return nil, errors.NewPathNotExists(path)
	}
	return cur.Schema(), nil
}

// LeafSchemaFromWithCheck is the checked form of LeafSchemaFrom. The storage
// group may lie above the starting node, in which case its cached name
// satisfies the check.
func (t *Tree) LeafSchemaFromWithCheck(node *Node, path string) (*types.MeasurementSchema, error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	storageGroupChecked := node.StorageGroupName() != "" || node.IsStorageGroup()
	cur := node
	for _, segment := range segments {
		if !cur.HasChild(segment) {
			if !storageGroupChecked {
				return nil, errors.NewStorageGroupNotSet(path)
			}
			return nil, errors.NewPathNotExists(path)
		}
		cur = cur.Child(segment)
		if cur.IsStorageGroup() {
			storageGroupChecked = true
		}
	}
	if !storageGroupChecked {
		return nil, errors.NewStorageGroupNotSet(path)
	}
	if !cur.IsLeaf() {
		return nil, errors.NewPathNotExists(path)
	}
	return cur.Schema(), nil
}
