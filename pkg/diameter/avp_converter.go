package diameter

import (
	"github.com/fiorix/go-diameter/v4/diam"
	"github.com/fiorix/go-diameter/v4/diam/datatype"
)

func toGrouped(v interface{}) (datatype.Type, error) {
	val, ok := v.([]AVP)
	if !ok {
		return nil, &ErrInvalidType{Value: v, Want: "[]AVP"}
	}
	var members []*diam.AVP
	for _, pair := range val {
		meta, ok := avpDict[pair.Name]
		if !ok {
			return nil, &ErrNotFound{Name: pair.Name}
		}
		inner, err := meta.converter(pair.Value)
		if err != nil {
			return nil, err
		}
		members = append(members, diam.NewAVP(meta.code, meta.flag, meta.vendor, inner))
	}
	return &diam.GroupedAVP{AVP: members}, nil
}

func toUTF8String(v interface{}) (datatype.Type, error) {
	val, err := toString(v)
	if err != nil {
		return nil, err
	}
	return datatype.UTF8String(val), nil
}

func toOctetString(v interface{}) (datatype.Type, error) {
	val, err := toString(v)
	if err != nil {
		return nil, err
	}
	return datatype.OctetString(val), nil
}

func toDiameterIdentity(v interface{}) (datatype.Type, error) {
	val, err := toString(v)
	if err != nil {
		return nil, err
	}
	return datatype.DiameterIdentity(val), nil
}

func toEnumerated(v interface{}) (datatype.Type, error) {
	val, err := toInt64(v)
	if err != nil {
		return nil, err
	}
	return datatype.Enumerated(val), nil
}

func toUnsigned32(v interface{}) (datatype.Type, error) {
	val, err := toInt64(v)
	if err != nil {
		return nil, err
	}
	return datatype.Unsigned32(val), nil
}

func toString(v interface{}) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	default:
		return "", &ErrInvalidType{Value: v, Want: "string or []byte"}
	}
}

func toInt64(v interface{}) (int64, error) {
	switch val := v.(type) {
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int64:
		return val, nil
	case uint32:
		return int64(val), nil
	default:
		return 0, &ErrInvalidType{Value: v, Want: "integer"}
	}
}
