package metadata

import (
	"strings"

	"github.com/LebronAl/incubator-iotdb/internal/errors"
	"github.com/LebronAl/incubator-iotdb/pkg/types"
)

// PathWildcard matches every child at its level in a pattern path. A pattern
// shorter than the tree depth is treated as padded with trailing wildcards,
// so a short prefix enumerates a whole subtree.
const PathWildcard = "*"

// patternSegment returns the pattern segment at idx, padding exhausted
// patterns with the wildcard.
func patternSegment(segments []string, idx int) string {
	if idx >= len(segments) {
		return PathWildcard
	}
	return segments[idx]
}

// quoteName wraps segment names that contain the raw separator character so
// emitted paths stay parseable. Quoting happens on output only, never on
// input.
func quoteName(name string) string {
	if strings.Contains(name, PathSeparator) {
		return `"` + name + `"`
	}
	return name
}

// TimeseriesRow is one row of the tabular series listing.
type TimeseriesRow struct {
	Path         string           `json:"path"`
	StorageGroup string           `json:"storage_group"`
	DataType     types.DataType   `json:"data_type"`
	Encoding     types.Encoding   `json:"encoding"`
	Compressor   types.Compressor `json:"compressor"`
}

// checkPattern validates a from-root pattern path.
func (t *Tree) checkPattern(pattern string) ([]string, error) {
	segments := strings.Split(pattern, PathSeparator)
	if len(segments) == 0 || segments[0] != t.root.Name() {
		return nil, errors.NewIllegalPath(pattern)
	}
	return segments, nil
}

// StorageGroupNamesForPattern returns the names of every storage group whose
// path matches the pattern. Descent stops at each storage-group node
// regardless of remaining pattern; storage groups cannot nest, so this is
// exhaustive.
func (t *Tree) StorageGroupNamesForPattern(pattern string) ([]string, error) {
	segments, err := t.checkPattern(pattern)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0)
	findStorageGroupNames(t.root, segments, 1, &names)
	return names, nil
}

func findStorageGroupNames(node *Node, segments []string, idx int, out *[]string) {
	if node.IsStorageGroup() {
		*out = append(*out, node.StorageGroupName())
		return
	}
	seg := patternSegment(segments, idx)
	if seg != PathWildcard {
		if node.HasChild(seg) {
			findStorageGroupNames(node.Child(seg), segments, idx+1, out)
		}
		return
	}
	for _, child := range node.Children() {
		findStorageGroupNames(child, segments, idx+1, out)
	}
}

// SeriesPathsGroupedByStorageGroup returns every full series path matching
// the pattern, grouped by the storage-group name the series belongs to. A
// series inserted before its storage group was declared groups under the
// empty name.
func (t *Tree) SeriesPathsGroupedByStorageGroup(pattern string) (map[string][]string, error) {
	segments, err := t.checkPattern(pattern)
	if err != nil {
		return nil, err
	}
	paths := make(map[string][]string)
	findSeriesPaths(t.root, segments, 1, "", paths)
	return paths, nil
}

func findSeriesPaths(node *Node, segments []string, idx int, parent string, out map[string][]string) {
	if node.IsLeaf() {
		if idx >= len(segments) {
			group := node.StorageGroupName()
			out[group] = append(out[group], parent+quoteName(node.Name()))
		}
		return
	}
	seg := patternSegment(segments, idx)
	if seg != PathWildcard {
		if node.HasChild(seg) {
			findSeriesPaths(node.Child(seg), segments, idx+1, parent+node.Name()+PathSeparator, out)
		}
		return
	}
	for _, child := range node.Children() {
		findSeriesPaths(child, segments, idx+1, parent+node.Name()+PathSeparator, out)
	}
}

// TimeseriesRows returns the tabular listing of every series matching the
// pattern: full path, storage group, data type, encoding, compressor.
func (t *Tree) TimeseriesRows(pattern string) ([]TimeseriesRow, error) {
	segments, err := t.checkPattern(pattern)
	if err != nil {
		return nil, err
	}
	rows := make([]TimeseriesRow, 0)
	findTimeseriesRows(t.root, segments, 1, "", &rows)
	return rows, nil
}

func findTimeseriesRows(node *Node, segments []string, idx int, parent string, out *[]TimeseriesRow) {
	if node.IsLeaf() {
		if idx >= len(segments) {
			schema := node.Schema()
			*out = append(*out, TimeseriesRow{
				Path:         parent + node.Name(),
				StorageGroup: node.StorageGroupName(),
				DataType:     schema.DataType,
				Encoding:     schema.Encoding,
				Compressor:   schema.Compressor,
			})
		}
		return
	}
	seg := patternSegment(segments, idx)
	if seg != PathWildcard {
		if node.HasChild(seg) {
			findTimeseriesRows(node.Child(seg), segments, idx+1, parent+node.Name()+PathSeparator, out)
		}
		return
	}
	for _, child := range node.Children() {
		findTimeseriesRows(child, segments, idx+1, parent+node.Name()+PathSeparator, out)
	}
}

// Devices returns the distinct device path prefixes matching the pattern. A
// device is a node with at least one leaf child; during a wildcard fan-out
// step, sibling leaves collapse into a single device entry for their parent.
func (t *Tree) Devices(pattern string) ([]string, error) {
	segments, err := t.checkPattern(pattern)
	if err != nil {
		return nil, err
	}
	devices := make([]string, 0)
	findDevices(t.root, segments, 1, "", &devices)
	return devices, nil
}

// AllDevices returns every device in the tree.
func (t *Tree) AllDevices() ([]string, error) {
	return t.Devices(t.root.Name())
}

func findDevices(node *Node, segments []string, idx int, parent string, out *[]string) {
	seg := patternSegment(segments, idx)
	if seg != PathWildcard {
		child := node.Child(seg)
		if child == nil {
			return
		}
		if child.IsLeaf() {
			*out = append(*out, parent+node.Name())
		} else {
			findDevices(child, segments, idx+1, parent+node.Name()+PathSeparator, out)
		}
		return
	}
	deviceAdded := false
	for _, child := range node.Children() {
		if child.IsLeaf() {
			if !deviceAdded {
				*out = append(*out, parent+node.Name())
				deviceAdded = true
			}
		} else {
			findDevices(child, segments, idx+1, parent+node.Name()+PathSeparator, out)
		}
	}
}

// NodesAtLevel returns the paths of every node at the given absolute tree
// depth under the exactly-resolved path. No wildcard support: the explicit
// segments must all resolve, then descent fans out through every child,
// leaves included.
func (t *Tree) NodesAtLevel(path string, level int) ([]string, error) {
	segments := strings.Split(path, PathSeparator)
	if len(segments) == 0 || segments[0] != t.root.Name() {
		return nil, errors.NewIllegalPath(path)
	}
	cur := t.root
	for i := 1; i < len(segments); i++ {
		child := cur.Child(segments[i])
		if child == nil {
			return nil, errors.NewPathNotExists(path)
		}
		cur = child
	}
	res := make([]string, 0)
	findNodesAtLevel(cur, path, level-(len(segments)-1), &res)
	return res, nil
}

func findNodesAtLevel(node *Node, path string, remaining int, out *[]string) {
	if remaining == 0 {
		*out = append(*out, path)
		return
	}
	for _, child := range node.Children() {
		findNodesAtLevel(child, path+PathSeparator+child.Name(), remaining-1, out)
	}
}

// ChildPaths returns the paths of the direct children of an exactly-resolved
// path. It fails with PathNotExists when the node has no children.
func (t *Tree) ChildPaths(path string) ([]string, error) {
	cur, err := t.resolvePrefix(path)
	if err != nil {
		return nil, err
	}
	if !cur.HasChildren() {
		return nil, errors.NewPathNotExists(path)
	}
	res := make([]string, 0, len(cur.Children()))
	for name := range cur.Children() {
		res = append(res, path+PathSeparator+name)
	}
	return res, nil
}

// LeafPaths returns the paths of the direct leaf children of an
// exactly-resolved path. It fails with PathNotExists when the node has no
// children at all.
func (t *Tree) LeafPaths(path string) ([]string, error) {
	cur, err := t.resolvePrefix(path)
	if err != nil {
		return nil, err
	}
	if !cur.HasChildren() {
		return nil, errors.NewPathNotExists(path)
	}
	res := make([]string, 0)
	for _, child := range cur.Children() {
		if child.IsLeaf() {
			res = append(res, path+PathSeparator+child.Name())
		}
	}
	return res, nil
}

// resolvePrefix resolves a from-root path that may be the bare root name.
func (t *Tree) resolvePrefix(path string) (*Node, error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if segments[0] != t.root.Name() {
		return nil, errors.NewIllegalPath(path)
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

// StorageGroupCount returns the number of storage-group nodes reachable
// under the given top-level child (a path of the form root.X). Recursion
// counts one per storage group, nothing for leaves.
func (t *Tree) StorageGroupCount(path string) (int, error) {
	segments := strings.Split(path, PathSeparator)
	if len(segments) != 2 || segments[0] != t.root.Name() {
		return 0, errors.NewIllegalPath(path)
	}
	child := t.root.Child(segments[1])
	if child == nil {
		return 0, errors.NewPathNotExists(path)
	}
	return countStorageGroups(child), nil
}

func countStorageGroups(node *Node) int {
	if node.IsStorageGroup() {
		return 1
	}
	if node.IsLeaf() {
		return 0
	}
	sum := 0
	for _, child := range node.Children() {
		sum += countStorageGroups(child)
	}
	return sum
}

// TopLevelNames returns the names of the root's direct children.
func (t *Tree) TopLevelNames() []string {
	res := make([]string, 0, len(t.root.Children()))
	for name := range t.root.Children() {
		res = append(res, name)
	}
	return res
}

// StorageGroupList returns the full paths of every storage group in the
// tree.
func (t *Tree) StorageGroupList() []string {
	res := make([]string, 0)
	findStorageGroupList(t.root, t.root.Name(), &res)
	return res
}

func findStorageGroupList(node *Node, path string, out *[]string) {
	if node.IsStorageGroup() {
		*out = append(*out, path)
		return
	}
	for _, child := range node.Children() {
		findStorageGroupList(child, path+PathSeparator+child.Name(), out)
	}
}

// StorageGroupNodes returns every storage-group node tree-wide using an
// explicit work stack that never descends past a storage-group boundary.
func (t *Tree) StorageGroupNodes() []*Node {
	res := make([]*Node, 0)
	stack := []*Node{t.root}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur.IsStorageGroup() {
			res = append(res, cur)
		} else if cur.HasChildren() {
			for _, child := range cur.Children() {
				stack = append(stack, child)
			}
		}
	}
	return res
}

// SchemasUnderTopLevel collects the distinct schemas of every series under a
// top-level child (a path of the form root.X), deduplicated by measurement
// name. Collection order is not guaranteed.
func (t *Tree) SchemasUnderTopLevel(path string) ([]*types.MeasurementSchema, error) {
	segments := strings.Split(path, PathSeparator)
	if len(segments) != 2 || segments[0] != t.root.Name() {
		return nil, errors.NewIllegalPath(path)
	}
	child := t.root.Child(segments[1])
	if child == nil {
		return nil, errors.NewPathNotExists(path)
	}
	leafMap := make(map[string]*types.MeasurementSchema)
	collectLeafSchemas(child, leafMap)
	res := make([]*types.MeasurementSchema, 0, len(leafMap))
	for _, schema := range leafMap {
		res = append(res, schema)
	}
	return res, nil
}

// SchemasUnderStorageGroup collects the distinct schemas of every series in
// a storage-group subtree, deduplicated by measurement name.
func (t *Tree) SchemasUnderStorageGroup(path string) ([]*types.MeasurementSchema, error) {
	cur, err := t.NodeByPath(path)
	if err != nil {
		return nil, err
	}
	leafMap := make(map[string]*types.MeasurementSchema)
	collectLeafSchemas(cur, leafMap)
	res := make([]*types.MeasurementSchema, 0, len(leafMap))
	for _, schema := range leafMap {
		res = append(res, schema)
	}
	return res, nil
}

func collectLeafSchemas(node *Node, leafMap map[string]*types.MeasurementSchema) {
	if node.IsLeaf() {
		if _, ok := leafMap[node.Name()]; !ok {
			leafMap[node.Name()] = node.Schema()
		}
		return
	}
	for _, child := range node.Children() {
		collectLeafSchemas(child, leafMap)
	}
}

// DevicesUnderTopLevel collects the distinct device paths under the named
// top-level child, deduplicated by the constructed path key.
func (t *Tree) DevicesUnderTopLevel(name string) ([]string, error) {
	child := t.root.Child(name)
	if child == nil {
		return nil, errors.NewPathNotExists(t.root.Name() + PathSeparator + name)
	}
	deviceSet := make(map[string]struct{})
	collectDevicePaths(t.root.Name(), child, deviceSet)
	res := make([]string, 0, len(deviceSet))
	for device := range deviceSet {
		res = append(res, device)
	}
	return res, nil
}

func collectDevicePaths(path string, node *Node, deviceSet map[string]struct{}) {
	if node.IsLeaf() {
		deviceSet[path] = struct{}{}
		return
	}
	next := path + PathSeparator + node.Name()
	for _, child := range node.Children() {
		collectDevicePaths(next, child, deviceSet)
	}
}
