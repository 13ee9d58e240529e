package render

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var droppedElements = map[atom.Atom]bool{
	atom.Button:   true,
	atom.Input:    true,
	atom.Select:   true,
	atom.Textarea: true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
}

// ScrubMarkup removes interactive and non-printable elements plus data-* and
// aria-* attributes from an HTML fragment.
func ScrubMarkup(fragment string) (string, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	for _, n := range nodes {
		if dropNode(n) {
			continue
		}
		scrubNode(n)
		if err := html.Render(&buf, n); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

func scrubNode(n *html.Node) {
	if n.Type == html.ElementNode {
		n.Attr = keepAttrs(n.Attr)
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if dropNode(c) {
			n.RemoveChild(c)
		} else {
			scrubNode(c)
		}
		c = next
	}
}

func dropNode(n *html.Node) bool {
	if n.Type == html.CommentNode {
		return true
	}
	if n.Type != html.ElementNode {
		return false
	}
	if droppedElements[n.DataAtom] {
		return true
	}
	for _, a := range n.Attr {
		if a.Key == "contenteditable" && !strings.EqualFold(a.Val, "false") {
			return true
		}
	}
	return false
}

func keepAttrs(attrs []html.Attribute) []html.Attribute {
	out := attrs[:0]
	for _, a := range attrs {
		if strings.HasPrefix(a.Key, "data-") || strings.HasPrefix(a.Key, "aria-") {
			continue
		}
		if strings.HasPrefix(a.Key, "on") {
			continue
		}
		out = append(out, a)
	}
	return out
}
