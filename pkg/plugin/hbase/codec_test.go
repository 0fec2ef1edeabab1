package hbase

import (
	"encoding/base64"
	"testing"

	"github.com/getmockd/imposter/pkg/filter"
	"github.com/getmockd/imposter/pkg/scan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestRequestFormat(t *testing.T) {
	tests := map[string]Format{
		"application/x-protobuf":          FormatProtobuf,
		"application/protobuf":            FormatProtobuf,
		"text/xml; charset=utf-8":         FormatXML,
		"application/xml":                 FormatXML,
		"application/json":                FormatJSON,
		"":                                FormatJSON,
		"application/octet-stream":        FormatJSON,
		"Application/X-Protobuf":          FormatProtobuf,
		"application/vnd.example+json; x": FormatJSON,
	}
	for ct, want := range tests {
		assert.Equal(t, want, RequestFormat(ct), ct)
	}
}

func TestResponseFormat(t *testing.T) {
	tests := map[string]Format{
		"":                            FormatProtobuf,
		"*/*":                         FormatProtobuf,
		"application/x-protobuf":      FormatProtobuf,
		"application/json":            FormatJSON,
		"text/xml":                    FormatXML,
		"text/html, application/json": FormatJSON,
		"application/xml;q=0.9, */*":  FormatXML,
		"application/json, text/xml":  FormatJSON,
	}
	for accept, want := range tests {
		assert.Equal(t, want, ResponseFormat(accept), accept)
	}
}

func TestScannerRoundTrip(t *testing.T) {
	in := Scanner{
		StartRow: []byte("row-a"),
		EndRow:   []byte("row-z"),
		Batch:    10,
		Filter:   filter.PrefixFilter("abc"),
	}
	for _, f := range []Format{FormatProtobuf, FormatJSON, FormatXML} {
		t.Run(f.String(), func(t *testing.T) {
			data, err := EncodeScanner(f, in)
			require.NoError(t, err)

			out, err := DecodeScanner(f, data)
			require.NoError(t, err)
			assert.Equal(t, in, out)
		})
	}
}

func TestDecodeScanner_EmptyBody(t *testing.T) {
	for _, f := range []Format{FormatProtobuf, FormatJSON, FormatXML} {
		s, err := DecodeScanner(f, []byte("  \n"))
		require.NoError(t, err)
		assert.Empty(t, s.Filter)
	}
}

func TestDecodeScanner_SkipsUnknownProtoFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 5, protowire.VarintType) // startTime
	b = protowire.AppendVarint(b, 12345)
	b = protowire.AppendTag(b, 3, protowire.BytesType) // columns
	b = protowire.AppendString(b, "cf:a")
	b = protowire.AppendTag(b, scannerFilter, protowire.BytesType)
	b = protowire.AppendString(b, `{"type":"PrefixFilter","value":"eA=="}`)

	s, err := DecodeScanner(FormatProtobuf, b)
	require.NoError(t, err)
	prefix, err := filter.PrefixOf(s.Filter)
	require.NoError(t, err)
	require.NotNil(t, prefix)
	assert.Equal(t, "x", *prefix)
}

func TestDecodeScanner_Malformed(t *testing.T) {
	tests := []struct {
		format Format
		body   string
	}{
		{FormatJSON, `{"filter":`},
		{FormatJSON, `[1,2]`},
		{FormatXML, `<Scanner batch="abc"/>`},
		{FormatXML, `<Other/>`},
		{FormatProtobuf, "\x42\x10abc"},
	}
	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			_, err := DecodeScanner(tt.format, []byte(tt.body))
			var malformed *MalformedRequestError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, 400, malformed.StatusCode())
		})
	}
}

func TestDecodeScanner_XMLFilterAttribute(t *testing.T) {
	s, err := DecodeScanner(FormatXML, []byte(`<Scanner batch="5" filter="f"/>`))
	require.NoError(t, err)
	assert.Equal(t, Scanner{Batch: 5, Filter: "f"}, s)
}

var twoRows = scan.Envelope{Rows: []scan.Row{
	{Key: "rowKey1", Cells: []scan.Cell{{Column: "a", Value: "1"}, {Column: "b", Value: "x"}}},
	{Key: "rowKey2", Cells: []scan.Cell{{Column: "a", Value: "2"}}},
}}

func TestCellSetRoundTrip(t *testing.T) {
	for _, f := range []Format{FormatProtobuf, FormatJSON, FormatXML} {
		t.Run(f.String(), func(t *testing.T) {
			data, err := EncodeCellSet(f, twoRows)
			require.NoError(t, err)

			env, err := DecodeCellSet(f, data)
			require.NoError(t, err)
			assert.Equal(t, twoRows, env)
		})
	}
}

func TestEncodeCellSet_JSONShape(t *testing.T) {
	data, err := EncodeCellSet(FormatJSON, scan.Envelope{Rows: []scan.Row{
		{Key: "rowKey1", Cells: []scan.Cell{{Column: "a", Value: "1"}}},
	}})
	require.NoError(t, err)

	b64 := base64.StdEncoding.EncodeToString
	want := `{"Row":[{"key":"` + b64([]byte("rowKey1")) + `","Cell":[{"column":"` + b64([]byte("a")) + `","$":"` + b64([]byte("1")) + `"}]}]}`
	assert.JSONEq(t, want, string(data))
}

func TestEncodeCellSet_XMLShape(t *testing.T) {
	data, err := EncodeCellSet(FormatXML, scan.Envelope{Rows: []scan.Row{
		{Key: "k", Cells: []scan.Cell{{Column: "c", Value: "v"}}},
	}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `<CellSet><Row key="aw=="><Cell column="Yw==">dg==</Cell></Row></CellSet>`)
}

func TestEncodeCellSet_Empty(t *testing.T) {
	data, err := EncodeCellSet(FormatProtobuf, scan.Envelope{})
	require.NoError(t, err)
	assert.Empty(t, data)

	data, err = EncodeCellSet(FormatJSON, scan.Envelope{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Row":[]}`, string(data))
}

func TestEncodeCellSet_ProtoWireLayout(t *testing.T) {
	data, err := EncodeCellSet(FormatProtobuf, scan.Envelope{Rows: []scan.Row{
		{Key: "k", Cells: []scan.Cell{{Column: "c", Value: "v"}}},
	}})
	require.NoError(t, err)

	// CellSet{rows: Row{key: "k", values: Cell{column: "c", data: "v"}}}
	cell := []byte{0x12, 0x01, 'c', 0x22, 0x01, 'v'}
	row := append([]byte{0x0a, 0x01, 'k', 0x12, byte(len(cell))}, cell...)
	want := append([]byte{0x0a, byte(len(row))}, row...)
	assert.Equal(t, want, data)
}
