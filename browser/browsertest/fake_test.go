package browsertest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricetrail/browser"
)

const page = `<html><body>
<div id="banner" style="display: none"><button class="close">x</button></div>
<form id="search">
  <input name="q" value="" data-box="10,10,300,40">
  <button type="submit" data-box="320,10,80,40" data-bg="rgb(0,113,194)">Search</button>
</form>
<form id="newsletter"><input name="email"></form>
</body></html>`

func TestFindAllSnapshot(t *testing.T) {
	d := New(page)
	ctx := context.Background()

	nodes, err := d.FindAll(ctx, "button")
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	assert.False(t, nodes[0].Visible, "hidden by ancestor")
	assert.Equal(t, "x", nodes[0].Text)

	submit := nodes[1]
	assert.True(t, submit.Visible)
	assert.Equal(t, "Search", submit.Text)
	assert.Equal(t, "form-0", submit.FormID)
	assert.Equal(t, "rgb(0,113,194)", submit.Background)
	require.NotNil(t, submit.Box)
	assert.Equal(t, 320.0, submit.Box.X)

	inputs, err := d.FindAll(ctx, "input")
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	assert.Empty(t, inputs[0].Text)
	assert.Equal(t, "form-1", inputs[1].FormID)
}

func TestTypingMutatesValue(t *testing.T) {
	d := New(page)
	ctx := context.Background()
	ref := browser.Ref("input[name='q']", 0)

	require.NoError(t, d.Type(ctx, ref, "Grand", 0))
	require.NoError(t, d.Type(ctx, ref, " Hyatt", 0))
	assert.Equal(t, "Grand Hyatt", d.Value(ref))

	require.NoError(t, d.Clear(ctx, ref))
	require.NoError(t, d.Fill(ctx, ref, "Kempinski"))
	assert.Equal(t, "Kempinski", d.Value(ref))
}

func TestFailOnAndHooks(t *testing.T) {
	d := New(page)
	ctx := context.Background()
	ref := browser.Ref("button", 1)
	boom := errors.New("detached")
	d.FailOn["click"] = boom

	var fired []string
	d.OnAction = func(d *Driver, c Call) {
		fired = append(fired, c.Method)
		if c.Method == "dispatch" {
			d.SetHTML(`<div class="result">done</div>`)
		}
	}

	assert.ErrorIs(t, d.Click(ctx, ref), boom)
	require.NoError(t, d.DispatchClick(ctx, ref))
	assert.Equal(t, []string{"dispatch"}, fired)
	assert.Len(t, d.CallsFor("click"), 1)

	html, err := d.Content(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, "done")

	assert.ErrorIs(t, d.Click(ctx, browser.Ref("button", 0)), boom)
	delete(d.FailOn, "click")
	assert.ErrorIs(t, d.Click(ctx, browser.Ref("button", 5)), browser.ErrStale)
}

func TestSubmitFormRequiresForm(t *testing.T) {
	d := New(`<div><button>Go</button></div><form><input name="q"></form>`)
	ctx := context.Background()

	assert.ErrorIs(t, d.SubmitForm(ctx, browser.Ref("button", 0)), browser.ErrNoForm)
	assert.NoError(t, d.SubmitForm(ctx, browser.Ref("input", 0)))
}

func TestBoundingBoxUnstable(t *testing.T) {
	d := New(page)
	d.UnstableReads = 2
	ctx := context.Background()
	ref := browser.Ref("input[name='q']", 0)

	first, err := d.BoundingBox(ctx, ref)
	require.NoError(t, err)
	second, err := d.BoundingBox(ctx, ref)
	require.NoError(t, err)
	third, err := d.BoundingBox(ctx, ref)
	require.NoError(t, err)
	fourth, err := d.BoundingBox(ctx, ref)
	require.NoError(t, err)

	assert.False(t, first.Equal(*second))
	assert.True(t, third.Equal(*fourth))

	_, err = d.BoundingBox(ctx, browser.Ref("input[name='email']", 0))
	assert.ErrorIs(t, err, browser.ErrNoBox)
}

func TestNavigateRoutes(t *testing.T) {
	d := New("<p>blank</p>")
	d.Routes["https://site.test/search"] = `<input id="q">`
	ctx := context.Background()

	require.NoError(t, d.Navigate(ctx, "https://site.test/search"))
	assert.Equal(t, "https://site.test/search", d.URL())
	nodes, err := d.FindAll(ctx, "#q")
	require.NoError(t, err)
	assert.Len(t, nodes, 1)

	d.SetHTML("<p>changed</p>")
	require.NoError(t, d.Reload(ctx))
	nodes, err = d.FindAll(ctx, "#q")
	require.NoError(t, err)
	assert.Len(t, nodes, 1, "reload restores the routed page")

	require.NoError(t, d.Close())
	assert.True(t, d.Closed())
}
