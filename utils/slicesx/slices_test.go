package slicesx

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap(t *testing.T) {
	got := Map([]int{3, 4}, func(v int, idx int) string { return strconv.Itoa(idx) + ":" + strconv.Itoa(v) })
	assert.Equal(t, []string{"0:3", "1:4"}, got)
}

func TestFilter(t *testing.T) {
	even := func(v int) bool { return v%2 == 0 }
	assert.Equal(t, []int{2, 4}, Filter([]int{1, 2, 3, 4}, even))
	assert.NotNil(t, Filter([]int{1, 3}, even))
	assert.Empty(t, Filter(nil, even))
}

func TestUnique(t *testing.T) {
	assert.Equal(t, []string{"/thanks", "/done"}, Unique([]string{"/thanks", "/done", "/thanks"}))
	assert.Empty(t, Unique[string](nil))
}
