package protocol

import (
	"bytes"
	"encoding/xml"
	"strings"
)

// Element is a generic XML node. It is both the decode target for
// inbound stanzas and the builder for outbound packets.
//
// Names carry the resolved namespace URL in XMLName.Space; prefixes are
// not preserved. Serialization writes an xmlns attribute only where an
// element's namespace differs from its parent's, and elements in the
// streams namespace are written with the "stream:" prefix.
type Element struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Children []*Element `xml:",any"`
	Text     string     `xml:",chardata"`
}

// NewElement creates an element builder with the given local name and namespace.
func NewElement(name, ns string) *Element {
	return &Element{XMLName: xml.Name{Space: ns, Local: name}}
}

// Name returns the local name.
func (e *Element) Name() string {
	return e.XMLName.Local
}

// Namespace returns the resolved namespace URL.
func (e *Element) Namespace() string {
	return e.XMLName.Space
}

// Is reports whether the element has the given local name and namespace.
func (e *Element) Is(name, ns string) bool {
	return e != nil && e.XMLName.Local == name && e.XMLName.Space == ns
}

// WithAttr sets an unqualified attribute, replacing any existing value.
func (e *Element) WithAttr(name, value string) *Element {
	return e.WithNSAttr("", name, value)
}

// WithNSAttr sets a namespace-qualified attribute.
func (e *Element) WithNSAttr(ns, name, value string) *Element {
	for i := range e.Attrs {
		if e.Attrs[i].Name.Local == name && e.Attrs[i].Name.Space == ns {
			e.Attrs[i].Value = value
			return e
		}
	}
	e.Attrs = append(e.Attrs, xml.Attr{Name: xml.Name{Space: ns, Local: name}, Value: value})
	return e
}

// WithText sets the character data.
func (e *Element) WithText(text string) *Element {
	e.Text = text
	return e
}

// WithChild appends child elements.
func (e *Element) WithChild(children ...*Element) *Element {
	for _, c := range children {
		if c != nil {
			e.Children = append(e.Children, c)
		}
	}
	return e
}

// Attr returns the value of an unqualified attribute, or "" if absent.
func (e *Element) Attr(name string) string {
	v, _ := e.LookupAttr("", name)
	return v
}

// LookupAttr returns the value of an attribute and whether it was present.
func (e *Element) LookupAttr(ns, name string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name.Local == name && a.Name.Space == ns {
			return a.Value, true
		}
	}
	return "", false
}

// Child returns the first child with the given name and namespace.
// An empty namespace matches any namespace.
func (e *Element) Child(name, ns string) *Element {
	for _, c := range e.Children {
		if c.XMLName.Local == name && (ns == "" || c.XMLName.Space == ns) {
			return c
		}
	}
	return nil
}

// FirstChild returns the first child element, or nil.
func (e *Element) FirstChild() *Element {
	if len(e.Children) == 0 {
		return nil
	}
	return e.Children[0]
}

// TrimmedText returns the character data without surrounding whitespace.
func (e *Element) TrimmedText() string {
	return strings.TrimSpace(e.Text)
}

// StripNamespaceDecls removes xmlns declarations left over by the decoder.
// The resolved namespace is already held in XMLName.Space.
func (e *Element) StripNamespaceDecls() {
	attrs := e.Attrs[:0]
	for _, a := range e.Attrs {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		attrs = append(attrs, a)
	}
	e.Attrs = attrs
	for _, c := range e.Children {
		c.StripNamespaceDecls()
	}
}

// String serializes the element as a top-level child of a jabber:client stream.
func (e *Element) String() string {
	return string(e.Bytes())
}

// Bytes serializes the element as a top-level child of a jabber:client stream.
func (e *Element) Bytes() []byte {
	var buf bytes.Buffer
	e.WriteTo(&buf, NSClient)
	return buf.Bytes()
}

// WriteTo serializes the element into buf. parentNS is the default
// namespace in scope at the insertion point.
func (e *Element) WriteTo(buf *bytes.Buffer, parentNS string) {
	ns := e.XMLName.Space
	scope := parentNS

	buf.WriteByte('<')
	if ns == NSStream {
		buf.WriteString(StreamPrefix)
		buf.WriteByte(':')
	}
	buf.WriteString(e.XMLName.Local)
	if ns != NSStream && ns != "" && ns != parentNS {
		writeAttr(buf, "xmlns", ns)
		scope = ns
	}
	for _, a := range e.Attrs {
		name := a.Name.Local
		switch a.Name.Space {
		case "":
		case NSXML, "xml":
			name = "xml:" + name
		case "xmlns":
			continue
		}
		if name == "xmlns" {
			continue
		}
		writeAttr(buf, name, a.Value)
	}

	if len(e.Children) == 0 && e.Text == "" {
		buf.WriteString("/>")
		return
	}
	buf.WriteByte('>')
	if e.Text != "" {
		_ = xml.EscapeText(buf, []byte(e.Text))
	}
	for _, c := range e.Children {
		c.WriteTo(buf, scope)
	}
	buf.WriteString("</")
	if ns == NSStream {
		buf.WriteString(StreamPrefix)
		buf.WriteByte(':')
	}
	buf.WriteString(e.XMLName.Local)
	buf.WriteByte('>')
}

func writeAttr(buf *bytes.Buffer, name, value string) {
	buf.WriteByte(' ')
	buf.WriteString(name)
	buf.WriteString(`="`)
	_ = xml.EscapeText(buf, []byte(value))
	buf.WriteByte('"')
}
