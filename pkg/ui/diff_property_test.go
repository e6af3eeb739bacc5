//go:build property
// +build property

package ui_test

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/getdoover/doover-go/pkg/ui"
)

func buildTree(values []float64, labels []string) *ui.Container {
	root := ui.NewContainer("", "")
	sub := ui.NewSubmodule("sub", "Sub")
	for i, v := range values {
		root.AddChildren(ui.NewNumericVariable(fmt.Sprintf("v%d", i), "V", ui.WithValue(v)))
	}
	for i, l := range labels {
		sub.AddChildren(ui.NewTextVariable(fmt.Sprintf("t%d", i), "T", ui.WithValue(l)))
	}
	options := make([]ui.UserOption, 0, len(labels))
	for _, l := range labels {
		options = append(options, ui.UserOption{Name: l, DisplayName: l})
	}
	root.AddChildren(ui.NewStateCommand("mode", "Mode", options))
	if len(labels) > 0 {
		sub.Status = labels[0]
		root.AddChildren(sub)
	}
	return root
}

// TestDiffApplyRoundTrip verifies applying a diff to the remote document
// reproduces the local document.
// Property: ApplyDiff(remote, GetDiff(remote)) == ToDict()
func TestDiffApplyRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("applying the diff reproduces the local tree", prop.ForAll(
		func(oldValues, newValues []float64, oldLabels, newLabels []string) bool {
			remote := buildTree(oldValues, oldLabels).ToDict()
			local := buildTree(newValues, newLabels)
			return ui.Equal(local.ToDict(), ui.ApplyDiff(remote, local.GetDiff(remote, true)))
		},
		gen.SliceOf(gen.Float64Range(-1e6, 1e6)),
		gen.SliceOf(gen.Float64Range(-1e6, 1e6)),
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("diff of an unchanged tree is nil", prop.ForAll(
		func(values []float64, labels []string) bool {
			tree := buildTree(values, labels)
			return tree.GetDiff(tree.ToDict(), true) == nil
		},
		gen.SliceOf(gen.Float64Range(-1e6, 1e6)),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
