// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package axes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	as, err := Parse("C=4")
	require.NoError(t, err)
	assert.Equal(t, 1, as.Rank())
	assert.Equal(t, 4, as.Size())
	assert.Equal(t, "C=4", as.String())

	as, err = Parse(" H = 2, W=3 ")
	require.NoError(t, err)
	assert.Equal(t, []string{"H", "W"}, as.Names())
	assert.Equal(t, []int{2, 3}, as.Dimensions())
	assert.Equal(t, 6, as.Size())
	assert.Equal(t, map[string]int{"H": 2, "W": 3}, as.Bindings())

	reparsed, err := Parse(as.String())
	require.NoError(t, err)
	assert.True(t, as.Equal(reparsed))

	colons, err := Parse("H:2,W:3")
	require.NoError(t, err)
	assert.True(t, as.Equal(colons))

	for _, spec := range []string{"", "C", "C=x", "C=0", "C=-1", "=3", "C=2,C=3", "C:=2"} {
		_, err = Parse(spec)
		require.ErrorIsf(t, err, ErrInvalidAxes, "spec %q should have failed", spec)
	}
}

func TestWith(t *testing.T) {
	features, err := Parse("C=4")
	require.NoError(t, err)
	batch, err := New("N", 128)
	require.NoError(t, err)

	inputs, err := features.With(batch)
	require.NoError(t, err)
	assert.Equal(t, "C=4,N=128", inputs.String())
	assert.Equal(t, 1, features.Rank(), "With must not change the original")

	shape := inputs.Shape(dtypes.Float32)
	assert.Equal(t, []int{4, 128}, shape.Dimensions)
	assert.Equal(t, dtypes.Float32, shape.DType)

	a, found := inputs.Lookup("N")
	require.True(t, found)
	assert.Equal(t, 128, a.Length)
	_, found = inputs.Lookup("missing")
	assert.False(t, found)

	_, err = inputs.With(Axis{Name: "C", Length: 1})
	require.ErrorIs(t, err, ErrInvalidAxes)
}

func TestEmptyAxes(t *testing.T) {
	as, err := Of()
	require.NoError(t, err)
	assert.Equal(t, 0, as.Size())
	_, err = New("", 3)
	require.ErrorIs(t, err, ErrInvalidAxes)
	_, err = New("a,b", 3)
	require.ErrorIs(t, err, ErrInvalidAxes)
}
