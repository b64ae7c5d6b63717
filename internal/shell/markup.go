// Package shell models the shell's UI surface: content slots, the chip
// affordance bar and transient notices. State changes are published as events.
package shell

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ElementIDs parses a markup fragment and returns the id attributes it declares, in document order.
func ElementIDs(markup string) ([]string, error) {
	ctx := &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"}
	nodes, err := html.ParseFragment(strings.NewReader(markup), ctx)
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}

	var ids []string
	seen := make(map[string]bool)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, a := range n.Attr {
				if a.Key == "id" && a.Val != "" && !seen[a.Val] {
					seen[a.Val] = true
					ids = append(ids, a.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return ids, nil
}

// HasContent reports whether markup contains anything but whitespace.
func HasContent(markup string) bool {
	return strings.TrimSpace(markup) != ""
}
