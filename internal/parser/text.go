package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const nbsp = "\u00a0"

// textFragments returns the trimmed, non-empty text nodes under sel in
// document order.
func textFragments(sel *goquery.Selection) []string {
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(strings.ReplaceAll(n.Data, nbsp, " ")); t != "" {
				out = append(out, t)
			}
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return out
}

// strippedText concatenates the trimmed text nodes under sel.
func strippedText(sel *goquery.Selection) string {
	return strings.Join(textFragments(sel), "")
}
