package metadata

import (
	"sort"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/LebronAl/incubator-iotdb/pkg/types"
)

// segmentGen generates short lowercase path segments.
func segmentGen() gopter.Gen {
	return gen.RegexMatch(`[a-z][a-z0-9]{0,3}`)
}

// TestProperty_InsertedSeriesAreFoundByWildcard validates that every inserted
// series path comes back from a full-wildcard enumeration, exactly once.
func TestProperty_InsertedSeriesAreFoundByWildcard(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("wildcard enumeration returns exactly the inserted set", prop.ForAll(
		func(devices []string, measurements []string) bool {
			tree := NewTree(RootName)
			if err := tree.SetStorageGroup("root.g", time.Hour); err != nil {
				return false
			}

			inserted := make(map[string]struct{})
			for _, d := range devices {
				for _, m := range measurements {
					path := "root.g." + d + "." + m
					if _, dup := inserted[path]; dup {
						continue
					}
					if err := tree.InsertSeries(path, types.DataTypeInt32,
						types.EncodingRLE, types.CompressorSnappy, nil); err != nil {
						return false
					}
					inserted[path] = struct{}{}
				}
			}

			grouped, err := tree.SeriesPathsGroupedByStorageGroup("root.g.*.*")
			if err != nil {
				return false
			}
			got := grouped["root.g"]
			if len(got) != len(inserted) {
				return false
			}
			for _, path := range got {
				if _, ok := inserted[path]; !ok {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(3, segmentGen()),
		gen.SliceOfN(3, segmentGen()),
	))

	properties.TestingRun(t)
}

// TestProperty_DeleteRestoresPreviousEnumeration validates that inserting a
// fresh series and deleting it leaves the enumerable series set unchanged.
func TestProperty_DeleteRestoresPreviousEnumeration(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("insert then delete is an identity on the series set", prop.ForAll(
		func(existing []string, d, m string) bool {
			tree := NewTree(RootName)
			if err := tree.SetStorageGroup("root.g", time.Hour); err != nil {
				return false
			}
			for _, name := range existing {
				path := "root.g.base" + name + ".s" + name
				if err := tree.InsertSeries(path, types.DataTypeInt64,
					types.EncodingTS2Diff, types.CompressorSnappy, nil); err != nil {
					return false
				}
			}

			before := enumerate(tree)

			path := "root.g.x" + d + ".y" + m
			if tree.PathExists(path) {
				return true
			}
			if err := tree.InsertSeries(path, types.DataTypeInt32,
				types.EncodingRLE, types.CompressorSnappy, nil); err != nil {
				return false
			}
			if _, err := tree.DeleteSeries(path); err != nil {
				return false
			}

			after := enumerate(tree)
			if len(before) != len(after) {
				return false
			}
			for i := range before {
				if before[i] != after[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(2, segmentGen()),
		segmentGen(),
		segmentGen(),
	))

	properties.TestingRun(t)
}

// TestProperty_FailedInsertIsIdempotent validates that a duplicate insert
// fails without changing the observable series set.
func TestProperty_FailedInsertIsIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("duplicate insert leaves the tree unchanged", prop.ForAll(
		func(d, m string) bool {
			tree := NewTree(RootName)
			if err := tree.SetStorageGroup("root.g", time.Hour); err != nil {
				return false
			}
			path := "root.g." + d + "." + m
			if err := tree.InsertSeries(path, types.DataTypeInt32,
				types.EncodingRLE, types.CompressorSnappy, nil); err != nil {
				return false
			}

			before := enumerate(tree)

			if err := tree.InsertSeries(path, types.DataTypeDouble,
				types.EncodingGorilla, types.CompressorUncompressed, nil); err == nil {
				return false
			}

			after := enumerate(tree)
			if len(before) != len(after) {
				return false
			}
			schema, err := tree.LeafSchema(path)
			return err == nil && schema.DataType == types.DataTypeInt32
		},
		segmentGen(),
		segmentGen(),
	))

	properties.TestingRun(t)
}

// enumerate returns the sorted list of all series paths in the tree.
func enumerate(tree *Tree) []string {
	grouped, err := tree.SeriesPathsGroupedByStorageGroup(RootName)
	if err != nil {
		return nil
	}
	var all []string
	for _, paths := range grouped {
		all = append(all, paths...)
	}
	sort.Strings(all)
	return all
}
