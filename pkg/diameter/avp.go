package diameter

import (
	"github.com/fiorix/go-diameter/v4/diam"
	"github.com/fiorix/go-diameter/v4/diam/datatype"
)

// AVP is a name/value pair appended to an outbound request. Value is either a
// scalar (string, int, []byte) or, for grouped AVPs, a []AVP whose order is
// preserved on the wire.
type AVP struct {
	Name  string
	Value interface{}
}

type avpMeta struct {
	code      uint32
	flag      uint8
	vendor    uint32
	converter func(interface{}) (datatype.Type, error)
}

// NewAVP builds a leaf AVP. No dictionary validation happens here; unknown
// names surface as ErrNotFound when the request is assembled.
func NewAVP(name string, value interface{}) AVP {
	return AVP{Name: name, Value: value}
}

// Group builds a grouped AVP from ordered children.
func Group(name string, avps ...AVP) AVP {
	return AVP{Name: name, Value: avps}
}

func (pair *AVP) modifyMessage(m *diam.Message) error {
	meta, ok := avpDict[pair.Name]
	if !ok {
		return &ErrNotFound{Name: pair.Name}
	}
	val, err := meta.converter(pair.Value)
	if err != nil {
		return err
	}
	_, err = m.NewAVP(meta.code, meta.flag, meta.vendor, val)
	return err
}

// appendAVPs adds each pair to the message in order. Ordering is significant
// for some peers, so the first conversion error aborts instead of skipping.
func appendAVPs(m *diam.Message, avps []AVP) error {
	for _, pair := range avps {
		if err := pair.modifyMessage(m); err != nil {
			return err
		}
	}
	return nil
}
