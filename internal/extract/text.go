package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// NextText возвращает первый непустой текстовый узел после n.
// Пустые узлы и комментарии пропускаются; следующий элемент означает, что текста нет.
func NextText(n *html.Node) (string, bool) {
	if n == nil {
		return "", false
	}
	for sib := n.NextSibling; sib != nil; sib = sib.NextSibling {
		switch sib.Type {
		case html.TextNode:
			if t := strings.TrimSpace(sib.Data); t != "" {
				return t, true
			}
		case html.CommentNode:
			continue
		default:
			return "", false
		}
	}
	return "", false
}

// NodeText собирает текст всех потомков узла
func NodeText(node *html.Node) string {
	var buffer bytes.Buffer
	nodeTextRecursive(node, &buffer)
	return buffer.String()
}

func nodeTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		nodeTextRecursive(child, buffer)
	}
}

// CollectTags возвращает подписи строки в порядке разметки; без меток возвращает пустой срез, не nil
func CollectTags(row *goquery.Selection, selector string) []string {
	tags := []string{}
	if selector == "" {
		return tags
	}
	row.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(NodeText(s.Nodes[0])); t != "" {
			tags = append(tags, t)
		}
	})
	return tags
}
