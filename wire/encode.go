package wire

import (
	"strconv"
	"strings"
)

// EncodeMethodCall renders a methodCall document for mc. Strings are
// XML-escaped; no other I/O or framing (HTTP headers, Content-Length) is
// performed here — that is rpcclient's job.
func EncodeMethodCall(mc MethodCall) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?>`)
	b.WriteString("<methodCall><methodName>")
	b.WriteString(escape(mc.MethodName))
	b.WriteString("</methodName><params>")
	for _, p := range mc.Params {
		b.WriteString("<param><value>")
		encodeValue(&b, p)
		b.WriteString("</value></param>")
	}
	b.WriteString("</params></methodCall>")
	return []byte(b.String())
}

func encodeValue(b *strings.Builder, v Value) {
	switch v.Kind {
	case KindString:
		b.WriteString("<string>")
		b.WriteString(escape(v.Str))
		b.WriteString("</string>")
	case KindInt:
		b.WriteString("<i4>")
		b.WriteString(strconv.FormatInt(v.Int, 10))
		b.WriteString("</i4>")
	case KindDouble:
		b.WriteString("<double>")
		b.WriteString(strconv.FormatFloat(v.Double, 'g', -1, 64))
		b.WriteString("</double>")
	case KindBool:
		b.WriteString("<boolean>")
		if v.Bool {
			b.WriteString("1")
		} else {
			b.WriteString("0")
		}
		b.WriteString("</boolean>")
	case KindBase64:
		b.WriteString("<base64>")
		b.WriteString(v.Str)
		b.WriteString("</base64>")
	case KindNil:
		b.WriteString("<nil/>")
	case KindArray:
		b.WriteString("<array><data>")
		for _, item := range v.Array {
			b.WriteString("<value>")
			encodeValue(b, item)
			b.WriteString("</value>")
		}
		b.WriteString("</data></array>")
	case KindStruct:
		b.WriteString("<struct>")
		for _, m := range v.Struct {
			b.WriteString("<member><name>")
			b.WriteString(escape(m.Name))
			b.WriteString("</name><value>")
			encodeValue(b, m.Value)
			b.WriteString("</value></member>")
		}
		b.WriteString("</struct>")
	}
}

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func escape(s string) string { return escaper.Replace(s) }
