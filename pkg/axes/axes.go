// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package axes holds named axis configurations: an ordered list of (name, length) pairs that
// describe the shape of the features fed to a model.
//
// They are plain configuration values, created explicitly, e.g.:
//
//	features := must.M1(axes.Parse("C=4"))
//	batch := must.M1(axes.New("N", 128))
//	inputs := must.M1(features.With(batch))  // C=4,N=128
package axes

import (
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// ErrInvalidAxes is returned (wrapped) whenever an axis or a list of axes is malformed.
var ErrInvalidAxes = errors.New("invalid axes")

// Axis is a named dimension with a fixed positive length.
type Axis struct {
	Name   string
	Length int
}

// New creates an Axis, checking the name is not empty and the length is positive.
func New(name string, length int) (Axis, error) {
	a := Axis{Name: name, Length: length}
	if err := a.check(); err != nil {
		return Axis{}, err
	}
	return a, nil
}

func (a Axis) check() error {
	if a.Name == "" {
		return errors.Wrapf(ErrInvalidAxes, "axis with length %d has an empty name", a.Length)
	}
	if strings.ContainsAny(a.Name, "=:, \t") {
		return errors.Wrapf(ErrInvalidAxes, "axis name %q contains a reserved character", a.Name)
	}
	if a.Length <= 0 {
		return errors.Wrapf(ErrInvalidAxes, "axis %q must have a positive length, got %d", a.Name, a.Length)
	}
	return nil
}

// String implements fmt.Stringer.
func (a Axis) String() string {
	return a.Name + "=" + strconv.Itoa(a.Length)
}

// Axes is an ordered list of axes with unique names.
type Axes []Axis

// Of creates Axes from the given list, checking each axis and that names are unique.
// An empty list is valid (it describes a scalar), but see Axes.Size.
func Of(list ...Axis) (Axes, error) {
	seen := make(map[string]int, len(list))
	for ii, a := range list {
		if err := a.check(); err != nil {
			return nil, errors.WithMessagef(err, "axis #%d", ii)
		}
		if prev, found := seen[a.Name]; found {
			return nil, errors.Wrapf(ErrInvalidAxes, "axis name %q used twice (#%d and #%d)", a.Name, prev, ii)
		}
		seen[a.Name] = ii
	}
	return append(Axes(nil), list...), nil
}

// Parse a list of axes in the format "name1=length1,name2=length2,...". The separator ":" can be
// used instead of "=", e.g. "H:2,W:3", which is handy where "=" is already taken (like in
// the -set flag). Spaces around names and lengths are ignored.
func Parse(spec string) (Axes, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.Wrapf(ErrInvalidAxes, "empty axes specification")
	}
	parts := strings.Split(spec, ",")
	list := make([]Axis, 0, len(parts))
	for _, part := range parts {
		sep := strings.IndexAny(part, "=:")
		if sep < 0 {
			return nil, errors.Wrapf(ErrInvalidAxes, "axis %q is not in the format \"name=length\"", part)
		}
		name, lengthStr := part[:sep], part[sep+1:]
		length, err := strconv.Atoi(strings.TrimSpace(lengthStr))
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidAxes, "axis %q has an invalid length: %v", part, err)
		}
		list = append(list, Axis{Name: strings.TrimSpace(name), Length: length})
	}
	return Of(list...)
}

// Rank is the number of axes.
func (as Axes) Rank() int { return len(as) }

// Size is the product of the lengths: the number of elements of a tensor shaped by these axes.
// It returns 0 for an empty Axes.
func (as Axes) Size() int {
	if len(as) == 0 {
		return 0
	}
	size := 1
	for _, a := range as {
		size *= a.Length
	}
	return size
}

// Dimensions returns the lengths of the axes, in order.
func (as Axes) Dimensions() []int {
	dims := make([]int, len(as))
	for ii, a := range as {
		dims[ii] = a.Length
	}
	return dims
}

// Names returns the names of the axes, in order.
func (as Axes) Names() []string {
	names := make([]string, len(as))
	for ii, a := range as {
		names[ii] = a.Name
	}
	return names
}

// Lookup an axis by name.
func (as Axes) Lookup(name string) (Axis, bool) {
	for _, a := range as {
		if a.Name == name {
			return a, true
		}
	}
	return Axis{}, false
}

// With returns a new Axes with the extra axes appended at the end.
// Typically used to add the batch axis to the features axes.
func (as Axes) With(extra ...Axis) (Axes, error) {
	list := make([]Axis, 0, len(as)+len(extra))
	list = append(list, as...)
	list = append(list, extra...)
	return Of(list...)
}

// Bindings returns a map of axis name to length.
func (as Axes) Bindings() map[string]int {
	bindings := make(map[string]int, len(as))
	for _, a := range as {
		bindings[a.Name] = a.Length
	}
	return bindings
}

// Shape returns the shape for a tensor with the given dtype and these axes' dimensions.
func (as Axes) Shape(dtype dtypes.DType) shapes.Shape {
	return shapes.Make(dtype, as.Dimensions()...)
}

// Equal returns whether both have the same axes (names and lengths) in the same order.
func (as Axes) Equal(other Axes) bool {
	if len(as) != len(other) {
		return false
	}
	for ii := range as {
		if as[ii] != other[ii] {
			return false
		}
	}
	return true
}

// String returns the canonical representation "name1=length1,name2=length2", parseable by Parse.
func (as Axes) String() string {
	parts := make([]string, len(as))
	for ii, a := range as {
		parts[ii] = a.String()
	}
	return strings.Join(parts, ",")
}
