// Package browser abstracts the page automation capability the engine
// needs. The resolver and executor only ever see a Driver, which keeps them
// testable against a fake DOM.
package browser

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNoBox  = errors.New("element has no bounding box")
	ErrNoForm = errors.New("element is not inside a form")
	ErrStale  = errors.New("element reference no longer resolves")
)

// Driver is one live page. Every method blocks until the page reports the
// effect or the context expires; implementations must honour ctx deadlines.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	URL() string
	Content(ctx context.Context) (string, error)

	// FindAll returns a read-only snapshot of every element matching a CSS
	// selector, in document order.
	FindAll(ctx context.Context, selector string) ([]Node, error)
	BoundingBox(ctx context.Context, ref string) (*Box, error)

	Click(ctx context.Context, ref string) error
	MouseClick(ctx context.Context, x, y float64) error
	DispatchClick(ctx context.Context, ref string) error

	Focus(ctx context.Context, ref string) error
	Clear(ctx context.Context, ref string) error
	Type(ctx context.Context, ref, text string, delay time.Duration) error
	Fill(ctx context.Context, ref, text string) error
	Press(ctx context.Context, key string) error
	DispatchKey(ctx context.Context, ref, key string) error
	SubmitForm(ctx context.Context, ref string) error

	Evaluate(ctx context.Context, script string, arg any) (any, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Launcher acquires a fresh Driver. A failing Launch is the one driver
// error that aborts a whole run.
type Launcher interface {
	Launch(ctx context.Context) (Driver, error)
}

// Box is an element's bounding box in CSS pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (b Box) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

func (b Box) Right() float64  { return b.X + b.Width }
func (b Box) Bottom() float64 { return b.Y + b.Height }

// Manhattan is the L1 gap between two boxes; overlapping or touching boxes
// are 0 apart.
func (b Box) Manhattan(o Box) float64 {
	dx := math.Max(0, math.Max(o.X-b.Right(), b.X-o.Right()))
	dy := math.Max(0, math.Max(o.Y-b.Bottom(), b.Y-o.Bottom()))
	return dx + dy
}

func (b Box) Equal(o Box) bool {
	const eps = 0.5
	return math.Abs(b.X-o.X) < eps && math.Abs(b.Y-o.Y) < eps &&
		math.Abs(b.Width-o.Width) < eps && math.Abs(b.Height-o.Height) < eps
}

func (b Box) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Node is a snapshot of one element taken by FindAll. Ref is the handle to
// pass back to the Driver when acting on it.
type Node struct {
	Ref        string            `json:"ref"`
	Tag        string            `json:"tag"`
	Text       string            `json:"text"`
	Attrs      map[string]string `json:"attrs"`
	Box        *Box              `json:"box"`
	Visible    bool              `json:"visible"`
	Background string            `json:"background"`
	FormID     string            `json:"form_id"`
}

func (n Node) Attr(name string) string {
	if n.Attrs == nil {
		return ""
	}
	return n.Attrs[name]
}

func (n Node) Classes() []string {
	return strings.Fields(n.Attr("class"))
}

// Label is the most human-readable description of the node, used in logs.
func (n Node) Label() string {
	for _, v := range []string{n.Text, n.Attr("aria-label"), n.Attr("title"), n.Attr("value"), n.Attr("placeholder")} {
		if v = strings.TrimSpace(v); v != "" {
			if r := []rune(v); len(r) > 40 {
				v = string(r[:40])
			}
			return fmt.Sprintf("<%s %q>", n.Tag, v)
		}
	}
	return fmt.Sprintf("<%s>", n.Tag)
}

const refSep = " >> nth="

// Ref builds the handle of the i-th match of selector. The format is the
// playwright nth selector chain, so it needs no marker in the page.
func Ref(selector string, i int) string {
	return selector + refSep + strconv.Itoa(i)
}

// ParseRef splits a handle built by Ref.
func ParseRef(ref string) (string, int, error) {
	idx := strings.LastIndex(ref, refSep)
	if idx < 0 {
		return "", 0, fmt.Errorf("malformed ref %q", ref)
	}
	n, err := strconv.Atoi(ref[idx+len(refSep):])
	if err != nil {
		return "", 0, fmt.Errorf("malformed ref %q: %w", ref, err)
	}
	return ref[:idx], n, nil
}
