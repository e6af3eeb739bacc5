package ui_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getdoover/doover-go/pkg/ui"
)

func TestContainerAutoPosition(t *testing.T) {
	a := ui.NewTextVariable("a", "A")
	b := ui.NewTextVariable("b", "B", ui.WithPosition(10))
	c := ui.NewTextVariable("c", "C")
	root := ui.NewContainer("root", "Root", ui.WithChildren(a, b, c))

	assert.Equal(t, 0, *a.Position)
	assert.Equal(t, 10, *b.Position)
	assert.Equal(t, 1, *c.Position)
	assert.Same(t, root, a.Parent())

	// Re-adding keeps the assigned position and insertion order.
	root.AddChildren(a)
	assert.Equal(t, 0, *a.Position)
	names := []string{}
	for _, e := range root.Children() {
		names = append(names, e.Metadata().Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestContainerRemoveAndClear(t *testing.T) {
	a := ui.NewTextVariable("a", "A")
	b := ui.NewTextVariable("b", "B")
	root := ui.NewContainer("root", "", ui.WithChildren(a, b))

	root.RemoveChildren(a, ui.NewTextVariable("missing", ""))
	assert.Nil(t, root.GetElement("a"))
	assert.Nil(t, a.Parent())
	assert.Len(t, root.Children(), 1)

	root.ClearChildren()
	assert.Empty(t, root.Children())
}

// TestGetElementSearchesSubtree verifies lookups reach nested containers.
func TestGetElementSearchesSubtree(t *testing.T) {
	deep := ui.NewNumericVariable("deep", "Deep")
	inner := ui.NewSubmodule("inner", "Inner", ui.WithChildren(deep))
	root := ui.NewContainer("root", "", ui.WithChildren(ui.NewContainer("outer", "", ui.WithChildren(inner))))

	assert.Same(t, deep, root.GetElement("deep").(*ui.Variable))
	assert.NotNil(t, root.GetElement("inner"))
	assert.Nil(t, root.GetElement("nope"))
}

// TestContainerNestedDiff verifies a change two levels down only reports the
// path to that change.
func TestContainerNestedDiff(t *testing.T) {
	temp := ui.NewNumericVariable("temp", "Temp", ui.WithValue(20))
	other := ui.NewTextVariable("label", "Label", ui.WithValue("x"))
	inner := ui.NewContainer("inner", "Inner", ui.WithChildren(temp))
	root := ui.NewContainer("root", "Root", ui.WithChildren(inner, other))

	remote := root.ToDict()
	temp.Update(21)

	want := ui.Document{
		"children": ui.Document{
			"inner": ui.Document{
				"children": ui.Document{
					"temp": ui.Document{"currentValue": 21},
				},
			},
		},
	}
	if diff := cmp.Diff(want, root.GetDiff(remote, true)); diff != "" {
		t.Fatalf("GetDiff mismatch (-want +got):\n%s", diff)
	}
}

func TestContainerDiffScenario(t *testing.T) {
	temp := ui.NewNumericVariable("temp", "Temp", ui.WithValue(21.4), ui.WithPrecision(0))
	root := ui.NewContainer("root", "", ui.WithChildren(temp))

	d := root.ToDict()
	assert.True(t, ui.Equal(21, d["children"].(ui.Document)["temp"].(ui.Document)["currentValue"]))

	remote := ui.ApplyDiff(d, ui.Document{"children": ui.Document{"temp": ui.Document{"currentValue": 20}}})
	got := root.GetDiff(remote, true)
	assert.True(t, ui.Equal(ui.Document{"children": ui.Document{"temp": ui.Document{"currentValue": 21}}}, got), "got %v", got)
}

func TestContainerDiffNewAndRemovedChildren(t *testing.T) {
	root := ui.NewContainer("root", "")
	remote := ui.Document{
		"name": "root",
		"type": "uiContainer",
		"children": ui.Document{
			"gone": ui.Document{"name": "gone", "type": "uiVariable"},
		},
	}
	fresh := ui.NewTextVariable("fresh", "Fresh")
	root.AddChildren(fresh)

	got := root.GetDiff(remote, true)
	require.NotNil(t, got)
	children := got["children"].(ui.Document)
	assert.Nil(t, children["gone"])
	assert.Contains(t, children, "gone")
	assert.Equal(t, fresh.ToDict(), children["fresh"], "new child is sent whole")

	kept := root.GetDiff(remote, false)
	assert.NotContains(t, kept["children"].(ui.Document), "gone")
}

func TestContainerDiffAgainstEmptyRemote(t *testing.T) {
	root := ui.NewContainer("", "", ui.WithChildren(ui.NewTextVariable("a", "A")))
	assert.Equal(t, root.ToDict(), ui.ApplyDiff(nil, root.GetDiff(nil, true)))
}

func TestSubmoduleDiffIncludesStatus(t *testing.T) {
	sub := ui.NewSubmodule("pump", "Pump")
	remote := sub.ToDict()
	sub.Status = "running"
	sub.StatusIcon = "ok"

	assert.Equal(t, ui.Document{"statusString": "running", "statusIcon": "ok"}, sub.GetDiff(remote, true))

	root := ui.NewContainer("", "", ui.WithChildren(sub))
	remoteRoot := root.ToDict()
	sub.Status = "stopped"
	assert.Equal(t,
		ui.Document{"children": ui.Document{"pump": ui.Document{"statusString": "stopped"}}},
		root.GetDiff(remoteRoot, true))
}

func TestDiffRoundTrip(t *testing.T) {
	a := ui.NewNumericVariable("a", "A", ui.WithValue(1))
	sub := ui.NewSubmodule("sub", "Sub", ui.WithChildren(a, ui.NewAction("go", "Go")))
	root := ui.NewContainer("", "", ui.WithChildren(sub, ui.NewTextVariable("t", "T")))
	remote := root.ToDict()

	a.Update(2)
	sub.Status = "busy"
	root.RemoveChildren(root.GetElement("t"))
	root.AddChildren(ui.NewBooleanVariable("flag", "Flag", ui.WithValue(true)))

	applied := ui.ApplyDiff(remote, root.GetDiff(remote, true))
	assert.True(t, ui.Equal(root.ToDict(), applied), "round trip mismatch:\n%s", cmp.Diff(root.ToDict(), applied))
}
