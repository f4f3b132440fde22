package category

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTable(t *testing.T) {
	table := DefaultTable()

	require.Equal(t, 8, table.Len())
	assert.Equal(t, []string{"pothole", "streetlight", "garbage", "water", "traffic", "noise", "safety", "other"}, table.Codes())

	info, ok := table.Lookup(3)
	assert.True(t, ok)
	assert.Equal(t, "water", info.Code)
	assert.Equal(t, PriorityHigh, info.Priority)
	assert.Equal(t, "Water Supply Department", info.Department)
}

func TestTableLookup_OutOfRangeFallsBackToOther(t *testing.T) {
	table := DefaultTable()

	for _, idx := range []int{-1, 8, 1000} {
		info, ok := table.Lookup(idx)
		assert.False(t, ok)
		assert.Equal(t, FallbackCode, info.Code)
		assert.Equal(t, FallbackDepartment, info.Department)
	}
}

func TestTableLookup_NoOtherEntry(t *testing.T) {
	table, err := NewTable([]Info{{Code: "pothole"}})
	require.NoError(t, err)

	info, ok := table.Lookup(5)
	assert.False(t, ok)
	assert.Equal(t, FallbackCode, info.Code)
	assert.Equal(t, "Municipal Corporation", info.Department)
}

func TestNewTable_Validation(t *testing.T) {
	_, err := NewTable(nil)
	assert.ErrorIs(t, err, ErrEmptyTable)

	_, err = NewTable([]Info{{Code: ""}})
	assert.Error(t, err)

	table, err := NewTable([]Info{{Code: "graffiti"}})
	require.NoError(t, err)
	info, _ := table.Lookup(0)
	assert.Equal(t, PriorityMedium, info.Priority)
	assert.Equal(t, FallbackDepartment, info.Department)
}

func TestLoadTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "categories.yaml")
	doc := `categories:
  - code: pothole
    priority: high
    department: Roads
    description: Potholes
  - code: other
    description: Anything else
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	table, err := LoadTable(path)
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())
	assert.Equal(t, map[string]Priority{"pothole": PriorityHigh, "other": PriorityMedium}, table.Priorities())
	assert.Equal(t, "Roads", table.Departments()["pothole"])
	assert.Equal(t, map[int]string{0: "pothole", 1: "other"}, table.Index())
	assert.True(t, table.Has("other"))
	assert.False(t, table.Has("water"))
}

func TestLoadTable_Errors(t *testing.T) {
	_, err := LoadTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("categories: [::"), 0o644))
	_, err = LoadTable(path)
	assert.Error(t, err)
}
