package browser

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefRoundTrip(t *testing.T) {
	ref := Ref("button[type='submit'] >> visible=true", 3)
	sel, i, err := ParseRef(ref)
	require.NoError(t, err)
	assert.Equal(t, "button[type='submit'] >> visible=true", sel)
	assert.Equal(t, 3, i)

	_, _, err = ParseRef("button.go")
	assert.Error(t, err)
	_, _, err = ParseRef("button >> nth=x")
	assert.Error(t, err)
}

func TestBoxManhattan(t *testing.T) {
	input := Box{X: 100, Y: 100, Width: 300, Height: 40}

	assert.Zero(t, input.Manhattan(Box{X: 350, Y: 110, Width: 80, Height: 20}), "overlapping")
	assert.Equal(t, 20.0, input.Manhattan(Box{X: 420, Y: 100, Width: 80, Height: 40}))
	assert.Equal(t, 70.0, input.Manhattan(Box{X: 420, Y: 190, Width: 80, Height: 40}))
	assert.Equal(t, input.Manhattan(Box{X: 0, Y: 0, Width: 10, Height: 10}), Box{X: 0, Y: 0, Width: 10, Height: 10}.Manhattan(input))
}

func TestBoxHelpers(t *testing.T) {
	b := Box{X: 10, Y: 20, Width: 100, Height: 50}
	x, y := b.Center()
	assert.Equal(t, 60.0, x)
	assert.Equal(t, 45.0, y)
	assert.True(t, b.Equal(Box{X: 10.2, Y: 20, Width: 100, Height: 50.3}))
	assert.False(t, b.Equal(Box{X: 12, Y: 20, Width: 100, Height: 50}))
	assert.True(t, Box{Width: 0, Height: 10}.Empty())
}

func TestNodeLabel(t *testing.T) {
	assert.Equal(t, `<button "Search">`, Node{Tag: "button", Text: "Search"}.Label())
	assert.Equal(t, `<input "Where to?">`, Node{Tag: "input", Attrs: map[string]string{"placeholder": "Where to?"}}.Label())
	assert.Equal(t, "<div>", Node{Tag: "div"}.Label())

	long := strings.Repeat("é", 39) + "ü" + "tail"
	label := Node{Tag: "h3", Text: long}.Label()
	assert.True(t, utf8.ValidString(label))
	assert.Equal(t, fmt.Sprintf("<h3 %q>", strings.Repeat("é", 39)+"ü"), label)
}

func TestNodesFromJS(t *testing.T) {
	raw := []interface{}{
		map[string]interface{}{
			"tag":        "button",
			"text":       "Cari",
			"attrs":      map[string]interface{}{"class": "btn btn-primary", "type": "submit"},
			"box":        map[string]interface{}{"x": 10.0, "y": 20.0, "width": 80.0, "height": 30.0},
			"visible":    true,
			"background": "rgb(0, 113, 194)",
			"form":       "form-0",
		},
		map[string]interface{}{
			"tag":     "span",
			"box":     map[string]interface{}{"x": 0.0, "y": 0.0, "width": 0.0, "height": 0.0},
			"visible": false,
		},
		"garbage",
	}

	nodes := nodesFromJS(raw, "button, span")
	require.Len(t, nodes, 2)

	btn := nodes[0]
	assert.Equal(t, Ref("button, span", 0), btn.Ref)
	assert.Equal(t, "Cari", btn.Text)
	assert.Equal(t, []string{"btn", "btn-primary"}, btn.Classes())
	assert.Equal(t, "form-0", btn.FormID)
	require.NotNil(t, btn.Box)
	assert.Equal(t, 80.0, btn.Box.Width)

	assert.Nil(t, nodes[1].Box, "zero-size boxes are dropped")
	assert.False(t, nodes[1].Visible)

	assert.Nil(t, nodesFromJS("nope", "x"))
}
