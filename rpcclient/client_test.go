package rpcclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabula17/satelles-balancer/balerr"
	"github.com/tabula17/satelles-balancer/internal/testutil"
	"github.com/tabula17/satelles-balancer/wire"
)

func testConfig() Config {
	return Config{
		ConnectTimeout: time.Second,
		WriteTimeout:   time.Second,
		ReadTimeout:    time.Second,
	}
}

// Scenario 1 from spec.md §8: happy path, Stream mode.
func TestConvertStreamModeHappyPath(t *testing.T) {
	fb, err := testutil.StartFakeBackend(func(body []byte) []byte {
		return testutil.Base64Response("SGVsbG8=")
	})
	require.NoError(t, err)
	defer fb.Close()

	host, port := fb.Addr()
	c := New(host, port, testConfig(), nil)

	res, err := c.Convert(wire.ConvertParams{
		Mode:         wire.ModeStream,
		InputBase64:  "SGVsbG8=",
		OutputFormat: "pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, "SGVsbG8=", res.Base64)
}

func TestConvertFilePathModeReturnsOutputPath(t *testing.T) {
	fb, err := testutil.StartFakeBackend(func(body []byte) []byte {
		return testutil.StringResponse("/a.pdf")
	})
	require.NoError(t, err)
	defer fb.Close()

	host, port := fb.Addr()
	c := New(host, port, testConfig(), nil)

	res, err := c.Convert(wire.ConvertParams{
		Mode:         wire.ModeFilePath,
		InputPath:    "/a.odt",
		OutputPath:   "/a.pdf",
		OutputFormat: "pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, "/a.pdf", res.Path)
}

// Scenario 2 from spec.md §8: fault surfaces as UpstreamError.
func TestConvertFaultSurfacesAsUpstreamError(t *testing.T) {
	fb, err := testutil.StartFakeBackend(func(body []byte) []byte {
		return testutil.FaultResponse(1, "bad")
	})
	require.NoError(t, err)
	defer fb.Close()

	host, port := fb.Addr()
	c := New(host, port, testConfig(), nil)

	_, err = c.Convert(wire.ConvertParams{Mode: wire.ModeStream, InputBase64: "x", OutputFormat: "pdf"})
	require.Error(t, err)

	var upErr *balerr.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, 1, upErr.FaultCode)
	assert.Equal(t, "bad", upErr.FaultString)
}

func TestConvertStreamModeMissingBase64IsMalformed(t *testing.T) {
	fb, err := testutil.StartFakeBackend(func(body []byte) []byte {
		return testutil.StringResponse("not-base64")
	})
	require.NoError(t, err)
	defer fb.Close()

	host, port := fb.Addr()
	c := New(host, port, testConfig(), nil)

	_, err = c.Convert(wire.ConvertParams{Mode: wire.ModeStream, InputBase64: "x", OutputFormat: "pdf"})
	require.Error(t, err)
	var malformed *balerr.MalformedResponse
	require.ErrorAs(t, err, &malformed)
}

func TestConvertConnectFailure(t *testing.T) {
	fb, err := testutil.StartFakeBackend(func(body []byte) []byte { return nil })
	require.NoError(t, err)
	host, port := fb.Addr()
	fb.Close() // nobody is listening anymore

	c := New(host, port, testConfig(), nil)
	_, err = c.Convert(wire.ConvertParams{Mode: wire.ModeStream, InputBase64: "x", OutputFormat: "pdf"})
	require.Error(t, err)
	var connErr *balerr.ConnectFailure
	require.ErrorAs(t, err, &connErr)
}

func TestPingSuccess(t *testing.T) {
	fb, err := testutil.StartFakeBackend(func(body []byte) []byte {
		doc := []byte(`<?xml version="1.0"?><methodResponse><params><param><value><boolean>1</boolean></value></param></params></methodResponse>`)
		return testutil.OKResponse(doc)
	})
	require.NoError(t, err)
	defer fb.Close()

	host, port := fb.Addr()
	c := New(host, port, testConfig(), nil)
	assert.True(t, c.Ping())
}

func TestPingFaultIsFalse(t *testing.T) {
	fb, err := testutil.StartFakeBackend(func(body []byte) []byte {
		return testutil.FaultResponse(2, "down")
	})
	require.NoError(t, err)
	defer fb.Close()

	host, port := fb.Addr()
	c := New(host, port, testConfig(), nil)
	assert.False(t, c.Ping())
}

func TestPingConnectFailureIsFalseNotError(t *testing.T) {
	fb, err := testutil.StartFakeBackend(func(body []byte) []byte { return nil })
	require.NoError(t, err)
	host, port := fb.Addr()
	fb.Close()

	c := New(host, port, testConfig(), nil)
	assert.False(t, c.Ping())
}

func TestGetSupportedFormats(t *testing.T) {
	fb, err := testutil.StartFakeBackend(func(body []byte) []byte {
		doc := []byte(`<?xml version="1.0"?><methodResponse><params><param><value><array><data>` +
			`<value><string>pdf</string></value><value><string>odt</string></value>` +
			`</data></array></value></param></params></methodResponse>`)
		return testutil.OKResponse(doc)
	})
	require.NoError(t, err)
	defer fb.Close()

	host, port := fb.Addr()
	c := New(host, port, testConfig(), nil)

	v, err := c.GetSupportedFormats()
	require.NoError(t, err)
	require.Equal(t, wire.KindArray, v.Kind)
	require.Len(t, v.Array, 2)
	assert.Equal(t, "pdf", v.Array[0].Str)
}
