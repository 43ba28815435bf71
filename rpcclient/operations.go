package rpcclient

import (
	"strings"

	"github.com/tabula17/satelles-balancer/balerr"
	"github.com/tabula17/satelles-balancer/wire"
)

// ConvertResult is the outcome of a successful Convert call: exactly one of
// Base64 (Stream mode, raw base64 text) or Path (FilePath mode,
// acknowledged output path) is set.
type ConvertResult struct {
	Base64 string
	Path   string
}

// Convert builds and sends the "convert" methodCall per §6 and interprets
// the response according to p.Mode. Any connect/send/recv failure, empty
// response, malformed XML, or fault is a terminal failure for this
// attempt — Convert itself never retries (§4.2 propagation policy).
func (c *Client) Convert(p wire.ConvertParams) (ConvertResult, error) {
	doc := wire.EncodeConvertCall(p)

	respBody, err := c.roundTrip(doc)
	if err != nil {
		return ConvertResult{}, err
	}

	resp, err := decode(respBody)
	if err != nil {
		return ConvertResult{}, err
	}

	if resp.Fault != nil {
		return ConvertResult{}, &balerr.UpstreamError{FaultCode: resp.Fault.Code, FaultString: resp.Fault.Message}
	}

	switch p.Mode {
	case wire.ModeStream:
		if resp.Result.Kind != wire.KindBase64 {
			return ConvertResult{}, &balerr.MalformedResponse{Reason: "stream mode response has no base64 value"}
		}
		return ConvertResult{Base64: resp.Result.Str}, nil
	case wire.ModeFilePath:
		// The acknowledgement is the configured outputPath echoed back; §4.2.
		return ConvertResult{Path: p.OutputPath}, nil
	default:
		return ConvertResult{}, &balerr.InvalidArgument{Reason: "unknown mode"}
	}
}

// Ping issues a lightweight probe call and reports true iff the HTTP status
// line indicates success and the response decodes without a fault. Every
// other failure (connect, I/O, timeout, parse, fault) is swallowed and
// reported as false — the health monitor never sees a probe error, only a
// boolean, per §4.2/§7.
func (c *Client) Ping() bool {
	doc := wire.EncodePingCall(c.cfg.PingMethod)

	ok, err := pingRoundTrip(c, doc)
	if err != nil {
		return false
	}
	return ok
}

// pingRoundTrip is split out from Ping so the status-line check (not needed
// by Convert/GetSupportedFormats, which only care about the XML body) lives
// next to the raw bytes.
func pingRoundTrip(c *Client, doc []byte) (bool, error) {
	raw, err := c.rawRoundTrip(doc)
	if err != nil {
		return false, err
	}

	if !strings.Contains(statusLine(raw), "200") {
		return false, nil
	}

	xmlBody, err := extractXMLBody(raw)
	if err != nil {
		return false, err
	}

	resp, err := decode(xmlBody)
	if err != nil {
		return false, err
	}

	return resp.Fault == nil, nil
}

// statusLine returns the first CRLF-terminated line of a raw HTTP response.
func statusLine(raw []byte) string {
	if i := indexCRLF(raw); i >= 0 {
		return string(raw[:i])
	}
	return string(raw)
}

// GetSupportedFormats decodes the first response parameter of a
// getSupportedFormats call, for diagnostics.
func (c *Client) GetSupportedFormats() (wire.Value, error) {
	doc := wire.EncodeMethodCall(wire.MethodCall{MethodName: "getSupportedFormats"})

	respBody, err := c.roundTrip(doc)
	if err != nil {
		return wire.Value{}, err
	}

	resp, err := decode(respBody)
	if err != nil {
		return wire.Value{}, err
	}
	if resp.Fault != nil {
		return wire.Value{}, &balerr.UpstreamError{FaultCode: resp.Fault.Code, FaultString: resp.Fault.Message}
	}
	return resp.Result, nil
}
