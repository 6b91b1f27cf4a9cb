package metadata

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LebronAl/incubator-iotdb/internal/errors"
	"github.com/LebronAl/incubator-iotdb/pkg/types"
)

func mustInsert(t *testing.T, tree *Tree, path string) {
	t.Helper()
	require.NoError(t, tree.InsertSeries(path, types.DataTypeInt32, types.EncodingRLE,
		types.CompressorSnappy, nil))
}

func TestInsertSeriesAutoCreatesIntermediates(t *testing.T) {
	tree := NewTree(RootName)
	mustInsert(t, tree, "root.vehicle.d0.s0")

	node, err := tree.NodeByPath("root.vehicle.d0.s0")
	require.NoError(t, err)
	assert.True(t, node.IsLeaf())
	assert.Equal(t, "root.vehicle.d0.s0", node.FullPath())

	device, err := tree.NodeByPath("root.vehicle.d0")
	require.NoError(t, err)
	assert.False(t, device.IsLeaf())
}

func TestInsertSeriesRejectsIllegalPaths(t *testing.T) {
	tree := NewTree(RootName)
	for _, path := range []string{"", "root", "vehicle.d0.s0", "root..s0", "root.d0."} {
		err := tree.InsertSeries(path, types.DataTypeInt32, types.EncodingRLE,
			types.CompressorSnappy, nil)
		assert.True(t, stderrors.Is(err, errors.NewIllegalPath("")), "path %q: got %v", path, err)
	}
}

func TestInsertSeriesDuplicate(t *testing.T) {
	tree := NewTree(RootName)
	mustInsert(t, tree, "root.g.d.s")

	err := tree.InsertSeries("root.g.d.s", types.DataTypeFloat, types.EncodingPlain,
		types.CompressorUncompressed, nil)
	assert.True(t, stderrors.Is(err, errors.NewPathAlreadyExists("")))

	// The original schema is untouched
	schema, err := tree.LeafSchema("root.g.d.s")
	require.NoError(t, err)
	assert.Equal(t, types.DataTypeInt32, schema.DataType)
}

func TestEnsureDevice(t *testing.T) {
	tree := NewTree(RootName)
	require.NoError(t, tree.SetStorageGroup("root.g", 0))

	device, err := tree.EnsureDevice("root.g.d1")
	require.NoError(t, err)
	assert.Equal(t, "d1", device.Name())
	assert.False(t, device.IsLeaf())
	assert.Equal(t, "root.g", device.StorageGroupName())

	// Idempotent: a second call resolves the same node
	again, err := tree.EnsureDevice("root.g.d1")
	require.NoError(t, err)
	assert.Same(t, device, again)

	// Cannot extend past a leaf
	mustInsert(t, tree, "root.g.d1.s1")
	_, err = tree.EnsureDevice("root.g.d1.s1.deeper")
	assert.True(t, stderrors.Is(err, errors.NewPathAlreadyExists("")))
}

func TestInsertSeriesCannotExtendPastLeaf(t *testing.T) {
	tree := NewTree(RootName)
	mustInsert(t, tree, "root.g.d.s")

	err := tree.InsertSeries("root.g.d.s.deeper", types.DataTypeInt32, types.EncodingRLE,
		types.CompressorSnappy, nil)
	assert.True(t, stderrors.Is(err, errors.NewPathAlreadyExists("")))
}

func TestSetStorageGroupPropagatesName(t *testing.T) {
	tree := NewTree(RootName)
	require.NoError(t, tree.SetStorageGroup("root.vehicle", time.Hour))
	mustInsert(t, tree, "root.vehicle.d0.s0")

	node, err := tree.NodeByPath("root.vehicle.d0.s0")
	require.NoError(t, err)
	assert.Equal(t, "root.vehicle", node.StorageGroupName())

	device, err := tree.NodeByPath("root.vehicle.d0")
	require.NoError(t, err)
	assert.Equal(t, "root.vehicle", device.StorageGroupName())
}

func TestSeriesBeforeStorageGroupCarriesEmptyName(t *testing.T) {
	tree := NewTree(RootName)
	mustInsert(t, tree, "root.late.d0.s0")

	node, err := tree.NodeByPath("root.late.d0.s0")
	require.NoError(t, err)
	assert.Equal(t, "", node.StorageGroupName())

	_, err = tree.StorageGroupName("root.late.d0.s0")
	assert.True(t, stderrors.Is(err, errors.NewStorageGroupNotSet("")))
}

func TestStorageGroupsCannotNest(t *testing.T) {
	tree := NewTree(RootName)
	require.NoError(t, tree.SetStorageGroup("root.a.b", time.Hour))

	// Below an existing storage group
	err := tree.SetStorageGroup("root.a.b.c", time.Hour)
	assert.True(t, stderrors.Is(err, errors.NewStorageGroupAlreadySet("")))

	// Above an existing storage group
	err = tree.SetStorageGroup("root.a", time.Hour)
	assert.True(t, stderrors.Is(err, errors.NewStorageGroupAlreadySet("")))

	// At an existing storage group
	err = tree.SetStorageGroup("root.a.b", time.Hour)
	assert.True(t, stderrors.Is(err, errors.NewStorageGroupAlreadySet("")))
}

func TestSetStorageGroupOnExistingPlainNode(t *testing.T) {
	tree := NewTree(RootName)
	mustInsert(t, tree, "root.g.d.s")

	// root.g exists as a plain internal node with no storage group below
	err := tree.SetStorageGroup("root.g", time.Hour)
	assert.True(t, stderrors.Is(err, errors.NewPathAlreadyExists("")))
}

func TestDeleteSeriesPrunesUpToStorageGroup(t *testing.T) {
	tree := NewTree(RootName)
	require.NoError(t, tree.SetStorageGroup("root.g", time.Hour))
	mustInsert(t, tree, "root.g.d.s")

	group, err := tree.DeleteSeries("root.g.d.s")
	require.NoError(t, err)
	assert.Equal(t, "root.g", group)

	// The device chain is pruned, the storage group survives
	assert.False(t, tree.PathExists("root.g.d"))
	assert.True(t, tree.PathExists("root.g"))
	assert.True(t, tree.IsStorageGroup("root.g"))
}

func TestDeleteSeriesStopsAtPopulatedAncestor(t *testing.T) {
	tree := NewTree(RootName)
	require.NoError(t, tree.SetStorageGroup("root.g", time.Hour))
	mustInsert(t, tree, "root.g.d.s1")
	mustInsert(t, tree, "root.g.d.s2")

	group, err := tree.DeleteSeries("root.g.d.s1")
	require.NoError(t, err)
	assert.Equal(t, "", group)
	assert.True(t, tree.PathExists("root.g.d.s2"))
	assert.False(t, tree.PathExists("root.g.d.s1"))
}

func TestDeleteSeriesOnStorageGroupNodeIsNoop(t *testing.T) {
	tree := NewTree(RootName)
	require.NoError(t, tree.SetStorageGroup("root.g", time.Hour))
	mustInsert(t, tree, "root.g.d.s")

	group, err := tree.DeleteSeries("root.g")
	require.NoError(t, err)
	assert.Equal(t, "root.g", group)
	assert.True(t, tree.PathExists("root.g.d.s"))
}

func TestDeleteSeriesMissingPath(t *testing.T) {
	tree := NewTree(RootName)
	_, err := tree.DeleteSeries("root.g.d.s")
	assert.True(t, stderrors.Is(err, errors.NewPathNotExists("")))
}

func TestDeleteStorageGroup(t *testing.T) {
	tree := NewTree(RootName)
	require.NoError(t, tree.SetStorageGroup("root.a.b", time.Hour))

	require.NoError(t, tree.DeleteStorageGroup("root.a.b"))
	// root.a was left childless and pruned too
	assert.False(t, tree.PathExists("root.a"))

	err := tree.DeleteStorageGroup("root.a.b")
	assert.True(t, stderrors.Is(err, errors.NewPathNotExists("")))
}

func TestDeleteStorageGroupOnPlainNode(t *testing.T) {
	tree := NewTree(RootName)
	mustInsert(t, tree, "root.g.d.s")

	err := tree.DeleteStorageGroup("root.g.d")
	assert.True(t, stderrors.Is(err, errors.NewStorageGroupNotSet("")))
}

func TestNodeByPathWithStorageGroupCheck(t *testing.T) {
	tree := NewTree(RootName)
	require.NoError(t, tree.SetStorageGroup("root.g", time.Hour))
	mustInsert(t, tree, "root.g.d.s")
	mustInsert(t, tree, "root.nogroup.d.s")

	node, err := tree.NodeByPathWithStorageGroupCheck("root.g.d.s")
	require.NoError(t, err)
	assert.True(t, node.IsLeaf())

	// No storage group on the walk
	_, err = tree.NodeByPathWithStorageGroupCheck("root.nogroup.d.s")
	assert.True(t, stderrors.Is(err, errors.NewStorageGroupNotSet("")))

	// Walk fails before any storage group: StorageGroupNotSet takes priority
	_, err = tree.NodeByPathWithStorageGroupCheck("root.missing.d.s")
	assert.True(t, stderrors.Is(err, errors.NewStorageGroupNotSet("")))

	// Walk fails after crossing the storage group: PathNotExists
	_, err = tree.NodeByPathWithStorageGroupCheck("root.g.missing.s")
	assert.True(t, stderrors.Is(err, errors.NewPathNotExists("")))
}

func TestStorageGroupNameStopsAtFirstBoundary(t *testing.T) {
	tree := NewTree(RootName)
	require.NoError(t, tree.SetStorageGroup("root.g", time.Hour))
	mustInsert(t, tree, "root.g.d.s")

	name, err := tree.StorageGroupName("root.g.d.s")
	require.NoError(t, err)
	assert.Equal(t, "root.g", name)

	// Path ending exactly on the storage group
	name, err = tree.StorageGroupName("root.g")
	require.NoError(t, err)
	assert.Equal(t, "root.g", name)

	_, err = tree.StorageGroupName("root.other.d.s")
	assert.True(t, stderrors.Is(err, errors.NewStorageGroupNotSet("")))
}

func TestLeafSchema(t *testing.T) {
	tree := NewTree(RootName)
	require.NoError(t, tree.InsertSeries("root.g.d.s", types.DataTypeDouble,
		types.EncodingGorilla, types.CompressorSnappy, map[string]string{"unit": "celsius"}))

	schema, err := tree.LeafSchema("root.g.d.s")
	require.NoError(t, err)
	assert.Equal(t, types.DataTypeDouble, schema.DataType)
	assert.Equal(t, types.EncodingGorilla, schema.Encoding)
	assert.Equal(t, "celsius", schema.Props["unit"])

	// Internal nodes have no schema
	_, err = tree.LeafSchema("root.g.d")
	assert.True(t, stderrors.Is(err, errors.NewPathNotExists("")))
}

func TestLeafSchemaWithCheck(t *testing.T) {
	tree := NewTree(RootName)
	mustInsert(t, tree, "root.nogroup.d.s")
	require.NoError(t, tree.SetStorageGroup("root.g", 0))
	mustInsert(t, tree, "root.g.d.s")

	schema, err := tree.LeafSchemaWithCheck("root.g.d.s")
	require.NoError(t, err)
	assert.Equal(t, types.DataTypeInt32, schema.DataType)

	// A series declared outside any storage group fails the check
	_, err = tree.LeafSchemaWithCheck("root.nogroup.d.s")
	assert.True(t, stderrors.Is(err, errors.NewStorageGroupNotSet("")))
}

func TestLeafSchemaFromWithCheck(t *testing.T) {
	tree := NewTree(RootName)
	require.NoError(t, tree.SetStorageGroup("root.g", 0))
	mustInsert(t, tree, "root.g.d.s")

	// Starting below the storage group, the cached name satisfies the check
	device, err := tree.NodeByPath("root.g.d")
	require.NoError(t, err)
	schema, err := tree.LeafSchemaFromWithCheck(device, "s")
	require.NoError(t, err)
	assert.Equal(t, types.DataTypeInt32, schema.DataType)

	// Starting above it, the walk must cross the storage-group node
	schema, err = tree.LeafSchemaFromWithCheck(tree.Root(), "g.d.s")
	require.NoError(t, err)
	assert.Equal(t, types.DataTypeInt32, schema.DataType)

	mustInsert(t, tree, "root.nogroup.d.s")
	_, err = tree.LeafSchemaFromWithCheck(tree.Root(), "nogroup.d.s")
	assert.True(t, stderrors.Is(err, errors.NewStorageGroupNotSet("")))
}

func TestFailedInsertLeavesScaffoldingOnly(t *testing.T) {
	tree := NewTree(RootName)
	mustInsert(t, tree, "root.g.d.s")

	// Fails at the terminal, but the walk crossed no new territory
	err := tree.InsertSeries("root.g.d.s", types.DataTypeInt64, types.EncodingTS2Diff,
		types.CompressorSnappy, nil)
	require.Error(t, err)

	// Retrying a different terminal under the same device still works
	mustInsert(t, tree, "root.g.d.s2")
	assert.True(t, tree.PathExists("root.g.d.s2"))
}

func TestNodeRelativeWalks(t *testing.T) {
	tree := NewTree(RootName)
	require.NoError(t, tree.SetStorageGroup("root.g", 0))
	mustInsert(t, tree, "root.g.d.s")

	group, err := tree.NodeByPath("root.g")
	require.NoError(t, err)

	assert.True(t, tree.PathExistsFrom(group, "d.s"))
	assert.True(t, tree.PathExistsFrom(group, ""))
	assert.False(t, tree.PathExistsFrom(group, "d.missing"))

	name, err := tree.StorageGroupNameFrom(tree.Root(), "g.d.s")
	require.NoError(t, err)
	assert.Equal(t, "root.g", name)
	_, err = tree.StorageGroupNameFrom(tree.Root(), "other.d.s")
	assert.True(t, stderrors.Is(err, errors.NewStorageGroupNotSet("")))

	schema, err := tree.LeafSchemaFrom(group, "d.s")
	require.NoError(t, err)
	assert.Equal(t, types.DataTypeInt32, schema.DataType)
	_, err = tree.LeafSchemaFrom(group, "d")
	assert.True(t, stderrors.Is(err, errors.NewPathNotExists("")))
}

func TestIsUnderStorageGroup(t *testing.T) {
	tree := NewTree(RootName)
	require.NoError(t, tree.SetStorageGroup("root.g", time.Hour))

	assert.True(t, tree.IsUnderStorageGroup("root.g.d.s"))
	assert.True(t, tree.IsUnderStorageGroup("root.g"))
	assert.False(t, tree.IsUnderStorageGroup("root.other.d.s"))
}
