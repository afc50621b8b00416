// Package browsertest provides an in-memory browser.Driver backed by a
// goquery document.
//
// Layout is declared in the fixture HTML: data-box="x,y,w,h" gives an
// element its bounding box and data-bg its computed background colour.
// Elements carrying the hidden attribute, data-hidden or an inline
// display:none (on themselves or an ancestor) are reported invisible.
package browsertest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"pricetrail/browser"
)

// Call is one recorded driver invocation.
type Call struct {
	Method string
	Ref    string
	Arg    string
}

// Driver is a fake browser.Driver. The exported fields may be set before use;
// once the driver is shared with the code under test, mutate them only from
// OnAction.
type Driver struct {
	// Routes maps URLs to the HTML served by Navigate.
	Routes map[string]string
	// FailOn makes the named method ("click", "mouse", "dispatch", "type",
	// "fill", "focus", "press", "dispatch_key", "submit", "navigate",
	// "reload", "content", "find", "screenshot", "evaluate") return the error.
	FailOn map[string]error
	// OnAction runs after every successful mutating call. It may call
	// SetHTML to model the page reacting.
	OnAction func(d *Driver, c Call)
	// UnstableReads makes that many BoundingBox calls return a shifted box.
	UnstableReads int
	// EvalResult is returned by Evaluate.
	EvalResult any

	mu     sync.Mutex
	doc    *goquery.Document
	url    string
	calls  []Call
	closed bool
}

// New returns a driver showing html at about:blank.
func New(html string) *Driver {
	d := &Driver{
		Routes: make(map[string]string),
		FailOn: make(map[string]error),
		url:    "about:blank",
	}
	d.SetHTML(html)
	return d
}

// SetHTML replaces the current document.
func (d *Driver) SetHTML(html string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		panic(fmt.Sprintf("browsertest: bad fixture: %v", err))
	}
	d.mu.Lock()
	d.doc = doc
	d.mu.Unlock()
}

// Calls returns a copy of every recorded call.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}

// CallsFor returns the recorded calls of one method.
func (d *Driver) CallsFor(method string) []Call {
	var out []Call
	for _, c := range d.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Value reads the current value attribute of the element behind ref.
func (d *Driver) Value(ref string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel, err := d.lookup(ref)
	if err != nil {
		return ""
	}
	v, _ := sel.Attr("value")
	return v
}

// record logs the call and returns the configured failure, if any.
func (d *Driver) record(ctx context.Context, c Call) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	d.calls = append(d.calls, c)
	err := d.FailOn[c.Method]
	d.mu.Unlock()
	return err
}

func (d *Driver) fire(c Call) {
	if d.OnAction != nil {
		d.OnAction(d, c)
	}
}

func (d *Driver) lookup(ref string) (*goquery.Selection, error) {
	selector, i, err := browser.ParseRef(ref)
	if err != nil {
		return nil, err
	}
	sel := d.doc.Find(selector).Eq(i)
	if sel.Length() == 0 {
		return nil, browser.ErrStale
	}
	return sel, nil
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	c := Call{Method: "navigate", Arg: url}
	if err := d.record(ctx, c); err != nil {
		return err
	}
	d.mu.Lock()
	d.url = url
	html, ok := d.Routes[url]
	d.mu.Unlock()
	if ok {
		d.SetHTML(html)
	}
	d.fire(c)
	return nil
}

func (d *Driver) Reload(ctx context.Context) error {
	c := Call{Method: "reload"}
	if err := d.record(ctx, c); err != nil {
		return err
	}
	d.mu.Lock()
	html, ok := d.Routes[d.url]
	d.mu.Unlock()
	if ok {
		d.SetHTML(html)
	}
	d.fire(c)
	return nil
}

func (d *Driver) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

func (d *Driver) Content(ctx context.Context) (string, error) {
	if err := d.record(ctx, Call{Method: "content"}); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Html()
}

func (d *Driver) FindAll(ctx context.Context, selector string) ([]browser.Node, error) {
	if err := d.record(ctx, Call{Method: "find", Arg: selector}); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	forms := d.doc.Find("form")
	var nodes []browser.Node
	d.doc.Find(selector).Each(func(i int, s *goquery.Selection) {
		nodes = append(nodes, snapshot(s, browser.Ref(selector, i), forms))
	})
	return nodes, nil
}

func (d *Driver) BoundingBox(ctx context.Context, ref string) (*browser.Box, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{Method: "box", Ref: ref})

	sel, err := d.lookup(ref)
	if err != nil {
		return nil, err
	}
	box := parseBox(sel)
	if box == nil {
		return nil, browser.ErrNoBox
	}
	if d.UnstableReads > 0 {
		box.Y += float64(d.UnstableReads) * 10
		d.UnstableReads--
	}
	return box, nil
}

func (d *Driver) act(ctx context.Context, method, ref, arg string, fn func(*goquery.Selection) error) error {
	c := Call{Method: method, Ref: ref, Arg: arg}
	if err := d.record(ctx, c); err != nil {
		return err
	}
	d.mu.Lock()
	sel, err := d.lookup(ref)
	if err == nil && fn != nil {
		err = fn(sel)
	}
	d.mu.Unlock()
	if err != nil {
		return err
	}
	d.fire(c)
	return nil
}

func (d *Driver) Click(ctx context.Context, ref string) error {
	return d.act(ctx, "click", ref, "", nil)
}

func (d *Driver) MouseClick(ctx context.Context, x, y float64) error {
	c := Call{Method: "mouse", Arg: fmt.Sprintf("%.0f,%.0f", x, y)}
	if err := d.record(ctx, c); err != nil {
		return err
	}
	d.fire(c)
	return nil
}

func (d *Driver) DispatchClick(ctx context.Context, ref string) error {
	return d.act(ctx, "dispatch", ref, "", nil)
}

func (d *Driver) Focus(ctx context.Context, ref string) error {
	return d.act(ctx, "focus", ref, "", nil)
}

func (d *Driver) Clear(ctx context.Context, ref string) error {
	return d.act(ctx, "clear", ref, "", func(s *goquery.Selection) error {
		s.SetAttr("value", "")
		return nil
	})
}

func (d *Driver) Type(ctx context.Context, ref, text string, _ time.Duration) error {
	return d.act(ctx, "type", ref, text, func(s *goquery.Selection) error {
		v, _ := s.Attr("value")
		s.SetAttr("value", v+text)
		return nil
	})
}

func (d *Driver) Fill(ctx context.Context, ref, text string) error {
	return d.act(ctx, "fill", ref, text, func(s *goquery.Selection) error {
		s.SetAttr("value", text)
		return nil
	})
}

func (d *Driver) Press(ctx context.Context, key string) error {
	c := Call{Method: "press", Arg: key}
	if err := d.record(ctx, c); err != nil {
		return err
	}
	d.fire(c)
	return nil
}

func (d *Driver) DispatchKey(ctx context.Context, ref, key string) error {
	return d.act(ctx, "dispatch_key", ref, key, nil)
}

func (d *Driver) SubmitForm(ctx context.Context, ref string) error {
	return d.act(ctx, "submit", ref, "", func(s *goquery.Selection) error {
		if goquery.NodeName(s) != "form" && s.Closest("form").Length() == 0 {
			return browser.ErrNoForm
		}
		return nil
	})
}

func (d *Driver) Evaluate(ctx context.Context, script string, _ any) (any, error) {
	if err := d.record(ctx, Call{Method: "evaluate", Arg: script}); err != nil {
		return nil, err
	}
	return d.EvalResult, nil
}

func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	if err := d.record(ctx, Call{Method: "screenshot"}); err != nil {
		return nil, err
	}
	return []byte("\x89PNG fake"), nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func snapshot(s *goquery.Selection, ref string, forms *goquery.Selection) browser.Node {
	n := browser.Node{
		Ref:        ref,
		Tag:        goquery.NodeName(s),
		Attrs:      make(map[string]string),
		Box:        parseBox(s),
		Visible:    visible(s),
		Background: s.AttrOr("data-bg", ""),
	}
	if n.Tag != "input" && n.Tag != "textarea" && n.Tag != "select" {
		n.Text = strings.Join(strings.Fields(s.Text()), " ")
	}
	for _, a := range s.Nodes[0].Attr {
		n.Attrs[a.Key] = a.Val
	}

	form := s
	if n.Tag != "form" {
		form = s.Closest("form")
	}
	if form.Length() > 0 {
		if idx := forms.IndexOfSelection(form); idx >= 0 {
			n.FormID = "form-" + strconv.Itoa(idx)
		}
	}
	return n
}

func visible(s *goquery.Selection) bool {
	for cur := s; cur.Length() > 0; cur = cur.Parent() {
		if _, ok := cur.Attr("hidden"); ok {
			return false
		}
		if _, ok := cur.Attr("data-hidden"); ok {
			return false
		}
		style := strings.ReplaceAll(strings.ToLower(cur.AttrOr("style", "")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

func parseBox(s *goquery.Selection) *browser.Box {
	raw, ok := s.Attr("data-box")
	if !ok {
		return nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return nil
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil
		}
		v[i] = f
	}
	return &browser.Box{X: v[0], Y: v[1], Width: v[2], Height: v[3]}
}
