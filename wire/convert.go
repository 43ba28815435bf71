package wire

// Mode selects whether a conversion request carries its input/output
// inline (Stream) or as backend-local file paths (FilePath).
type Mode int

const (
	ModeStream Mode = iota
	ModeFilePath
)

// ConvertParams is the set of values needed to build the convert
// methodCall's 8-parameter tuple, §6.
type ConvertParams struct {
	Mode          Mode
	InputPath     string // FilePath mode
	InputBase64   string // Stream mode, already base64-encoded text
	OutputFormat  string
	OutputPath    string // FilePath mode
	FilterOptions []Value
}

// EncodeConvertCall builds the "convert" methodCall per §6: params, in
// order, are inpath, indata, outpath, convert_to, a reserved nil,
// filter_options, a boolean transmitted as 1, and a second reserved nil.
func EncodeConvertCall(p ConvertParams) []byte {
	var inpath, indata, outpath Value

	switch p.Mode {
	case ModeStream:
		inpath = Nil()
		indata = Base64(p.InputBase64)
		outpath = Nil()
	case ModeFilePath:
		inpath = String(p.InputPath)
		indata = Nil()
		outpath = String(p.OutputPath)
	}

	filterOpts := p.FilterOptions
	if filterOpts == nil {
		filterOpts = []Value{}
	}

	return EncodeMethodCall(MethodCall{
		MethodName: "convert",
		Params: []Value{
			inpath,
			indata,
			outpath,
			String(p.OutputFormat),
			Nil(),
			Array(filterOpts...),
			Bool(true),
			Nil(),
		},
	})
}

// EncodePingCall builds a parameterless probe methodCall using the given
// method name ("info" or "ping" are both acceptable per §6).
func EncodePingCall(methodName string) []byte {
	return EncodeMethodCall(MethodCall{MethodName: methodName})
}
