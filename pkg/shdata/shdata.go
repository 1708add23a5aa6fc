// Package shdata turns the Sh-Data XML document returned by the HSS into the
// flat variable set injected into call sessions.
package shdata

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Node is one element of the parsed document. Children keep document order;
// lookups by name return the first occurrence, so repeated sibling tags
// collapse to their first value. All the fixed profile fields are
// single-valued scalars, which is why the collapse is acceptable here.
type Node struct {
	Name     string
	Text     string
	Children []*Node
}

// Child returns the first child element with the given local name, or nil.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ParseError reports a malformed XML payload. The dispatcher aborts the one
// event and keeps running.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse profile data: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse builds the element tree of the document. Namespaces are dropped;
// field paths address local names only.
func Parse(s string) (*Node, error) {
	dec := xml.NewDecoder(strings.NewReader(s))
	var root *Node
	var stack []*Node
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ParseError{Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Name: t.Name.Local}
			if len(stack) == 0 {
				if root != nil {
					return nil, &ParseError{Err: fmt.Errorf("multiple document elements")}
				}
				root = n
			} else {
				top := stack[len(stack)-1]
				top.Children = append(top.Children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}
	if root == nil {
		return nil, &ParseError{Err: fmt.Errorf("no document element")}
	}
	return root, nil
}

// Variable is one entry of the flattened profile record.
type Variable struct {
	Name  string
	Value string
}

// Record is the flat profile, in the fixed injection order.
type Record []Variable

// Get returns the value of the named variable, empty if absent.
func (r Record) Get(name string) string {
	for _, v := range r {
		if v.Name == name {
			return v.Value
		}
	}
	return ""
}

type field struct {
	name string
	path []string
}

// The fixed field set, addressed by path under the Sh-Data root. Order here
// is the injection order.
var fields = []field{
	{"SERVING_MME", []string{"Extension", "EPSLocationInformation", "MMEName"}},
	{"MSISDN", []string{"PublicIdentifiers", "MSISDN"}},
	{"SCSCF", []string{"Sh-IMS-Data", "S-CSCFName"}},
	{"CF_ACTIVE", []string{"Sh-IMS-Data", "CallForwardActive"}},
	{"CF_UNCONDITIONAL", []string{"Sh-IMS-Data", "CallForwardUnconditional"}},
	{"CF_NOREG", []string{"Sh-IMS-Data", "CallForwardNotRegistered"}},
	{"CF_BUSY", []string{"Sh-IMS-Data", "CallForwardBusy"}},
	{"CF_NOANSWER", []string{"Sh-IMS-Data", "CallForwardNoAnswer"}},
	{"CF_NOTREACHABLE", []string{"Sh-IMS-Data", "CallForwardNotReachable"}},
	{"CF_NOREPLYTIMER", []string{"Sh-IMS-Data", "CallForwardNoReplyTimer"}},
	{"INBOUND_BARRED", []string{"Sh-IMS-Data", "InboundCommunicationBarred"}},
	{"OUTBOUND_BARRED", []string{"Sh-IMS-Data", "OutboundCommunicationBarred"}},
	{"IMS_PUBLICIDENT", []string{"PublicIdentifiers", "IMSPublicIdentity"}},
	{"IMS_PRIVATEIDENT", []string{"IMSPrivateUserIdentity"}},
}

// Flatten extracts the fixed field set from a parsed document. Missing path
// segments resolve to the empty string; Flatten is total over any tree Parse
// produced. A document whose root is not Sh-Data yields all-empty values.
func Flatten(root *Node) Record {
	base := root
	if base == nil || base.Name != "Sh-Data" {
		base = nil
	}
	rec := make(Record, 0, len(fields))
	for _, f := range fields {
		n := base
		for _, seg := range f.path {
			n = n.Child(seg)
		}
		value := ""
		if n != nil {
			value = strings.TrimSpace(n.Text)
		}
		rec = append(rec, Variable{Name: f.name, Value: value})
	}
	return rec
}
