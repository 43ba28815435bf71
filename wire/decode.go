package wire

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// xmlValue mirrors the XML-RPC <value> grammar for unmarshaling via
// encoding/xml: every possible child element is an optional field, and the
// first non-nil one (or, absent any, the raw character data) determines
// the decoded Kind.
type xmlValue struct {
	String  *string    `xml:"string"`
	I4      *string    `xml:"i4"`
	Int     *string    `xml:"int"`
	Double  *string    `xml:"double"`
	Boolean *string    `xml:"boolean"`
	Base64  *string    `xml:"base64"`
	Nil     *struct{}  `xml:"nil"`
	Array   *xmlArray  `xml:"array"`
	Struct  *xmlStruct `xml:"struct"`
	Chars   string     `xml:",chardata"`
}

type xmlArray struct {
	Data struct {
		Values []xmlValue `xml:"value"`
	} `xml:"data"`
}

type xmlStruct struct {
	Members []xmlMember `xml:"member"`
}

type xmlMember struct {
	Name  string   `xml:"name"`
	Value xmlValue `xml:"value"`
}

type xmlParam struct {
	Value xmlValue `xml:"value"`
}

type xmlMethodResponse struct {
	XMLName xml.Name `xml:"methodResponse"`
	Params  *struct {
		Param []xmlParam `xml:"param"`
	} `xml:"params"`
	Fault *struct {
		Value xmlValue `xml:"value"`
	} `xml:"fault"`
}

func (x xmlValue) toValue() (Value, error) {
	switch {
	case x.String != nil:
		return String(*x.String), nil
	case x.I4 != nil:
		n, err := strconv.ParseInt(strings.TrimSpace(*x.I4), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("wire: malformed i4: %w", err)
		}
		return Int(n), nil
	case x.Int != nil:
		n, err := strconv.ParseInt(strings.TrimSpace(*x.Int), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("wire: malformed int: %w", err)
		}
		return Int(n), nil
	case x.Double != nil:
		f, err := strconv.ParseFloat(strings.TrimSpace(*x.Double), 64)
		if err != nil {
			return Value{}, fmt.Errorf("wire: malformed double: %w", err)
		}
		return Double(f), nil
	case x.Boolean != nil:
		return Bool(strings.TrimSpace(*x.Boolean) == "1"), nil
	case x.Base64 != nil:
		return Base64(strings.TrimSpace(*x.Base64)), nil
	case x.Nil != nil:
		return Nil(), nil
	case x.Array != nil:
		items := make([]Value, 0, len(x.Array.Data.Values))
		for _, v := range x.Array.Data.Values {
			iv, err := v.toValue()
			if err != nil {
				return Value{}, err
			}
			items = append(items, iv)
		}
		return Value{Kind: KindArray, Array: items}, nil
	case x.Struct != nil:
		members := make([]Member, 0, len(x.Struct.Members))
		for _, m := range x.Struct.Members {
			mv, err := m.Value.toValue()
			if err != nil {
				return Value{}, err
			}
			members = append(members, Member{Name: m.Name, Value: mv})
		}
		return Value{Kind: KindStruct, Struct: members}, nil
	default:
		// XML-RPC values with no type element default to string.
		return String(x.Chars), nil
	}
}

// DecodeMethodResponse parses a methodResponse document. If it contains a
// fault, Fault is populated and Result is the zero Value; otherwise Result
// holds the first <param><value>, decoded to the corresponding domain
// value.
func DecodeMethodResponse(body []byte) (MethodResponse, error) {
	var raw xmlMethodResponse
	if err := xml.Unmarshal(body, &raw); err != nil {
		return MethodResponse{}, &malformedXMLError{err}
	}

	if raw.Fault != nil {
		fv, err := raw.Fault.Value.toValue()
		if err != nil {
			return MethodResponse{}, err
		}
		if fv.Kind != KindStruct {
			return MethodResponse{}, &malformedXMLError{fmt.Errorf("fault value is not a struct")}
		}
		codeVal, ok := fv.StructGet("faultCode")
		if !ok {
			return MethodResponse{}, &malformedXMLError{fmt.Errorf("fault missing faultCode")}
		}
		strVal, ok := fv.StructGet("faultString")
		if !ok {
			return MethodResponse{}, &malformedXMLError{fmt.Errorf("fault missing faultString")}
		}
		return MethodResponse{Fault: &Fault{Code: int(codeVal.Int), Message: strVal.Str}}, nil
	}

	if raw.Params == nil || len(raw.Params.Param) == 0 {
		return MethodResponse{}, &malformedXMLError{fmt.Errorf("methodResponse has no params")}
	}

	result, err := raw.Params.Param[0].Value.toValue()
	if err != nil {
		return MethodResponse{}, err
	}

	return MethodResponse{Result: result}, nil
}

// malformedXMLError is a small local marker so rpcclient can recognize a
// decode failure and translate it to balerr.MalformedResponse without wire
// importing balerr (wire has no I/O and no business naming transport-level
// error kinds).
type malformedXMLError struct{ err error }

func (e *malformedXMLError) Error() string { return "wire: malformed response: " + e.err.Error() }
func (e *malformedXMLError) Unwrap() error { return e.err }

// IsMalformed reports whether err was produced by a decode failure in this
// package.
func IsMalformed(err error) bool {
	_, ok := err.(*malformedXMLError)
	return ok
}
