package zoom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRange(t *testing.T) {
	tests := []struct {
		name    string
		min     int
		max     int
		wantErr bool
	}{
		{name: "single level", min: 5, max: 5},
		{name: "full range", min: 0, max: 14},
		{name: "negative min", min: -1, max: 3, wantErr: true},
		{name: "min greater than max", min: 7, max: 5, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewRange(tt.min, tt.max)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.min, got.Min)
			assert.Equal(t, tt.max, got.Max)
		})
	}
}

func TestFromList(t *testing.T) {
	tests := []struct {
		name    string
		levels  []int
		want    Range
		wantErr bool
	}{
		{name: "empty", levels: nil, wantErr: true},
		{name: "single", levels: []int{3}, want: Range{Min: 3, Max: 3}},
		{name: "pair", levels: []int{7, 2}, want: Range{Min: 2, Max: 7}},
		{name: "full sequence", levels: []int{4, 5, 6, 7}, want: Range{Min: 4, Max: 7}},
		{name: "gap", levels: []int{4, 6, 7}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromList(tt.levels)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSliceOrder(t *testing.T) {
	r := Range{Min: 3, Max: 6}
	assert.Equal(t, []int{3, 4, 5, 6}, r.Slice())
	assert.Equal(t, []int{6, 5, 4, 3}, r.Descend().Slice())
}

func TestIntersection(t *testing.T) {
	a := Range{Min: 0, Max: 7}
	b := Range{Min: 5, Max: 10}
	got, err := a.Intersection(b)
	require.NoError(t, err)
	assert.Equal(t, Range{Min: 5, Max: 7}, got)

	c := Range{Min: 8, Max: 9}
	_, err = a.Intersection(c)
	require.Error(t, err)
	assert.False(t, a.Intersects(c))
	assert.True(t, a.Intersects(b))
}

func TestContains(t *testing.T) {
	r := Range{Min: 2, Max: 4}
	assert.False(t, r.Contains(1))
	assert.True(t, r.Contains(2))
	assert.True(t, r.Contains(4))
	assert.False(t, r.Contains(5))
}
