package bundle

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrMalformed = errors.New("bundle: malformed document")

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "\n", "&#10;", "\t", "&#9;")
)

// Node is one element of the bundle table of contents. Text is the character
// data before the first child; Tail is the character data after the closing
// tag, up to the next sibling.
type Node struct {
	Name     string
	Attrs    []xml.Attr
	Text     string
	Tail     string
	Children []*Node
}

// Document is the parsed table of contents of a bundle container.
type Document struct {
	Prolog []xml.ProcInst
	Root   *Node
}

func NewNode(name, text string) *Node {
	return &Node{Name: name, Text: text}
}

// Attr returns the value of the named attribute.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if attrName(a.Name) == name {
			return a.Value, true
		}
	}
	return "", false
}

// Child returns the first direct child with the given name.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns every direct child with the given name, in order.
func (n *Node) ChildrenNamed(name string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Find walks a slash separated path of child names and returns the first match.
func (n *Node) Find(path string) *Node {
	all := n.FindAll(path)
	if len(all) == 0 {
		return nil
	}
	return all[0]
}

// FindAll walks a slash separated path of child names and returns every match
// in document order.
func (n *Node) FindAll(path string) []*Node {
	current := []*Node{n}
	for _, step := range strings.Split(strings.Trim(path, "/"), "/") {
		if step == "" || step == "." {
			continue
		}
		var next []*Node
		for _, node := range current {
			next = append(next, node.ChildrenNamed(step)...)
		}
		current = next
	}
	return current
}

// RemoveChildren drops every direct child for which match is true and
// reports how many were removed. Order of the remaining children is kept.
func (n *Node) RemoveChildren(match func(*Node) bool) int {
	kept := n.Children[:0]
	removed := 0
	for _, c := range n.Children {
		if match(c) {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(n.Children); i++ {
		n.Children[i] = nil
	}
	n.Children = kept
	return removed
}

func (n *Node) AppendChild(c *Node) {
	n.Children = append(n.Children, c)
}

// Parse builds a Document from the XML table of contents.
func Parse(data []byte) (*Document, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	doc := &Document{}
	var stack []*Node
	var last *Node

	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		switch t := tok.(type) {
		case xml.ProcInst:
			if doc.Root == nil {
				doc.Prolog = append(doc.Prolog, t.Copy())
			}
		case xml.StartElement:
			node := &Node{Name: attrName(t.Name), Attrs: copyAttrs(t.Attr)}
			if len(stack) == 0 {
				if doc.Root != nil {
					return nil, fmt.Errorf("%w: multiple root elements", ErrMalformed)
				}
				doc.Root = node
			} else {
				stack[len(stack)-1].AppendChild(node)
			}
			stack = append(stack, node)
			last = nil
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("%w: unexpected </%s>", ErrMalformed, attrName(t.Name))
			}
			top := stack[len(stack)-1]
			if top.Name != attrName(t.Name) {
				return nil, fmt.Errorf("%w: </%s> closes <%s>", ErrMalformed, attrName(t.Name), top.Name)
			}
			stack = stack[:len(stack)-1]
			last = top
		case xml.CharData:
			if len(stack) == 0 {
				continue
			}
			text := string(t)
			if last != nil {
				last.Tail += text
			} else {
				stack[len(stack)-1].Text += text
			}
		}
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("%w: unclosed <%s>", ErrMalformed, stack[len(stack)-1].Name)
	}
	if doc.Root == nil {
		return nil, fmt.Errorf("%w: no root element", ErrMalformed)
	}
	return doc, nil
}

// Marshal serializes the document. The output depends only on the tree.
func Marshal(doc *Document) ([]byte, error) {
	if doc == nil || doc.Root == nil {
		return nil, fmt.Errorf("%w: empty document", ErrMalformed)
	}
	var buf bytes.Buffer
	for _, pi := range doc.Prolog {
		buf.WriteString("<?")
		buf.WriteString(pi.Target)
		if len(pi.Inst) > 0 {
			buf.WriteByte(' ')
			buf.Write(pi.Inst)
		}
		buf.WriteString("?>\n")
	}
	if err := writeNode(&buf, doc.Root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeNode(buf *bytes.Buffer, n *Node) error {
	buf.WriteByte('<')
	buf.WriteString(n.Name)
	for _, a := range n.Attrs {
		buf.WriteByte(' ')
		buf.WriteString(attrName(a.Name))
		buf.WriteString(`="`)
		buf.WriteString(attrEscaper.Replace(a.Value))
		buf.WriteByte('"')
	}
	if n.Text == "" && len(n.Children) == 0 {
		buf.WriteString(" />")
	} else {
		buf.WriteByte('>')
		buf.WriteString(textEscaper.Replace(n.Text))
		for _, c := range n.Children {
			if err := writeNode(buf, c); err != nil {
				return err
			}
		}
		buf.WriteString("</")
		buf.WriteString(n.Name)
		buf.WriteByte('>')
	}
	buf.WriteString(textEscaper.Replace(n.Tail))
	return nil
}

func attrName(name xml.Name) string {
	if name.Space == "" {
		return name.Local
	}
	return name.Space + ":" + name.Local
}

func copyAttrs(in []xml.Attr) []xml.Attr {
	if len(in) == 0 {
		return nil
	}
	out := make([]xml.Attr, len(in))
	copy(out, in)
	return out
}
