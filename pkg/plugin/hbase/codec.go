package hbase

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/beevik/etree"
	"github.com/getmockd/imposter/pkg/scan"
	"google.golang.org/protobuf/encoding/protowire"
)

// Media types understood by the codec.
const (
	MediaProtobuf = "application/x-protobuf"
	MediaJSON     = "application/json"
	MediaXML      = "text/xml"
)

// Format is a wire format for scanner descriptors and cell sets.
type Format int

const (
	FormatProtobuf Format = iota
	FormatJSON
	FormatXML
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatXML:
		return "xml"
	default:
		return "protobuf"
	}
}

// MediaType returns the Content-Type written for f.
func (f Format) MediaType() string {
	switch f {
	case FormatJSON:
		return MediaJSON
	case FormatXML:
		return MediaXML
	default:
		return MediaProtobuf
	}
}

// formatOf maps a media type to a Format. ok is false when the media type
// names none of them.
func formatOf(mediaType string) (Format, bool) {
	switch {
	case strings.Contains(mediaType, "protobuf"):
		return FormatProtobuf, true
	case strings.Contains(mediaType, "json"):
		return FormatJSON, true
	case strings.Contains(mediaType, "xml"):
		return FormatXML, true
	}
	return FormatProtobuf, false
}

// RequestFormat picks the descriptor format from a Content-Type header.
// Anything unrecognised is read as JSON.
func RequestFormat(contentType string) Format {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = contentType
	}
	if f, ok := formatOf(strings.ToLower(mt)); ok {
		return f
	}
	return FormatJSON
}

// ResponseFormat picks the cell set format from an Accept header: the
// first listed format that is supported, protobuf otherwise.
func ResponseFormat(accept string) Format {
	for _, part := range strings.Split(accept, ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if f, ok := formatOf(strings.ToLower(mt)); ok {
			return f
		}
	}
	return FormatProtobuf
}

// Scanner is a decoded scanner descriptor. Only the fields the mock uses
// are kept.
type Scanner struct {
	StartRow []byte
	EndRow   []byte
	Batch    int
	// Filter is the scan's filter expression, empty for none.
	Filter string
}

// Scanner message field numbers.
const (
	scannerStartRow protowire.Number = 1
	scannerEndRow   protowire.Number = 2
	scannerBatch    protowire.Number = 4
	scannerFilter   protowire.Number = 8
)

// CellSet message field numbers.
const (
	cellSetRows protowire.Number = 1
	rowKey      protowire.Number = 1
	rowValues   protowire.Number = 2
	cellColumn  protowire.Number = 2
	cellData    protowire.Number = 4
)

// DecodeScanner decodes a scanner descriptor. An empty body is a scan with
// no filter.
func DecodeScanner(f Format, body []byte) (Scanner, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Scanner{}, nil
	}

	var (
		s   Scanner
		err error
	)
	switch f {
	case FormatProtobuf:
		s, err = decodeScannerProto(body)
	case FormatXML:
		s, err = decodeScannerXML(body)
	default:
		s, err = decodeScannerJSON(body)
	}
	if err != nil {
		return Scanner{}, &MalformedRequestError{Reason: "invalid " + f.String() + " scanner", Err: err}
	}
	return s, nil
}

func decodeScannerProto(b []byte) (Scanner, error) {
	var s Scanner
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Scanner{}, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == scannerStartRow && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return Scanner{}, protowire.ParseError(m)
			}
			s.StartRow, n = append([]byte(nil), v...), m
		case num == scannerEndRow && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return Scanner{}, protowire.ParseError(m)
			}
			s.EndRow, n = append([]byte(nil), v...), m
		case num == scannerBatch && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return Scanner{}, protowire.ParseError(m)
			}
			s.Batch, n = int(int32(v)), m
		case num == scannerFilter && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return Scanner{}, protowire.ParseError(m)
			}
			s.Filter, n = v, m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Scanner{}, protowire.ParseError(n)
			}
		}
		b = b[n:]
	}
	return s, nil
}

func decodeScannerXML(body []byte) (Scanner, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return Scanner{}, err
	}
	root := doc.SelectElement("Scanner")
	if root == nil {
		return Scanner{}, errors.New("missing Scanner element")
	}

	var s Scanner
	if el := root.SelectElement("filter"); el != nil {
		s.Filter = strings.TrimSpace(el.Text())
	} else {
		s.Filter = root.SelectAttrValue("filter", "")
	}
	if v := root.SelectAttrValue("batch", ""); v != "" {
		if _, err := fmt.Sscan(v, &s.Batch); err != nil {
			return Scanner{}, fmt.Errorf("batch: %w", err)
		}
	}
	if v := root.SelectAttrValue("startRow", ""); v != "" {
		raw, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return Scanner{}, fmt.Errorf("startRow: %w", err)
		}
		s.StartRow = raw
	}
	if v := root.SelectAttrValue("endRow", ""); v != "" {
		raw, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return Scanner{}, fmt.Errorf("endRow: %w", err)
		}
		s.EndRow = raw
	}
	return s, nil
}

type jsonScanner struct {
	StartRow []byte `json:"startRow,omitempty"`
	EndRow   []byte `json:"endRow,omitempty"`
	Batch    int    `json:"batch,omitempty"`
	Filter   string `json:"filter,omitempty"`
}

func decodeScannerJSON(body []byte) (Scanner, error) {
	var js jsonScanner
	if err := json.Unmarshal(body, &js); err != nil {
		return Scanner{}, err
	}
	return Scanner(js), nil
}

// EncodeScanner encodes s. It is used by clients and tests.
func EncodeScanner(f Format, s Scanner) ([]byte, error) {
	switch f {
	case FormatProtobuf:
		var b []byte
		if len(s.StartRow) > 0 {
			b = protowire.AppendTag(b, scannerStartRow, protowire.BytesType)
			b = protowire.AppendBytes(b, s.StartRow)
		}
		if len(s.EndRow) > 0 {
			b = protowire.AppendTag(b, scannerEndRow, protowire.BytesType)
			b = protowire.AppendBytes(b, s.EndRow)
		}
		if s.Batch != 0 {
			b = protowire.AppendTag(b, scannerBatch, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(int64(s.Batch)))
		}
		if s.Filter != "" {
			b = protowire.AppendTag(b, scannerFilter, protowire.BytesType)
			b = protowire.AppendString(b, s.Filter)
		}
		return b, nil
	case FormatXML:
		doc := etree.NewDocument()
		root := doc.CreateElement("Scanner")
		if s.Batch != 0 {
			root.CreateAttr("batch", fmt.Sprint(s.Batch))
		}
		if len(s.StartRow) > 0 {
			root.CreateAttr("startRow", base64.StdEncoding.EncodeToString(s.StartRow))
		}
		if len(s.EndRow) > 0 {
			root.CreateAttr("endRow", base64.StdEncoding.EncodeToString(s.EndRow))
		}
		if s.Filter != "" {
			root.CreateElement("filter").SetText(s.Filter)
		}
		return doc.WriteToBytes()
	default:
		return json.Marshal(jsonScanner(s))
	}
}

type jsonCell struct {
	Column []byte `json:"column"`
	Value  []byte `json:"$"`
}

type jsonRow struct {
	Key   []byte     `json:"key"`
	Cells []jsonCell `json:"Cell"`
}

type jsonCellSet struct {
	Rows []jsonRow `json:"Row"`
}

// EncodeCellSet encodes env in format f.
func EncodeCellSet(f Format, env scan.Envelope) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch f {
	case FormatJSON:
		out, err = encodeCellSetJSON(env)
	case FormatXML:
		out, err = encodeCellSetXML(env)
	default:
		out = encodeCellSetProto(env)
	}
	if err != nil {
		return nil, &SerializationError{Format: f.String(), Err: err}
	}
	return out, nil
}

func encodeCellSetProto(env scan.Envelope) []byte {
	var out []byte
	for _, row := range env.Rows {
		var rb []byte
		rb = protowire.AppendTag(rb, rowKey, protowire.BytesType)
		rb = protowire.AppendString(rb, row.Key)
		for _, cell := range row.Cells {
			var cb []byte
			cb = protowire.AppendTag(cb, cellColumn, protowire.BytesType)
			cb = protowire.AppendString(cb, cell.Column)
			cb = protowire.AppendTag(cb, cellData, protowire.BytesType)
			cb = protowire.AppendString(cb, cell.Value)

			rb = protowire.AppendTag(rb, rowValues, protowire.BytesType)
			rb = protowire.AppendBytes(rb, cb)
		}
		out = protowire.AppendTag(out, cellSetRows, protowire.BytesType)
		out = protowire.AppendBytes(out, rb)
	}
	if out == nil {
		out = []byte{}
	}
	return out
}

func encodeCellSetJSON(env scan.Envelope) ([]byte, error) {
	set := jsonCellSet{Rows: make([]jsonRow, 0, len(env.Rows))}
	for _, row := range env.Rows {
		jr := jsonRow{Key: []byte(row.Key), Cells: make([]jsonCell, 0, len(row.Cells))}
		for _, cell := range row.Cells {
			jr.Cells = append(jr.Cells, jsonCell{Column: []byte(cell.Column), Value: []byte(cell.Value)})
		}
		set.Rows = append(set.Rows, jr)
	}
	return json.Marshal(set)
}

func encodeCellSetXML(env scan.Envelope) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8" standalone="yes"`)
	root := doc.CreateElement("CellSet")
	for _, row := range env.Rows {
		re := root.CreateElement("Row")
		re.CreateAttr("key", base64.StdEncoding.EncodeToString([]byte(row.Key)))
		for _, cell := range row.Cells {
			ce := re.CreateElement("Cell")
			ce.CreateAttr("column", base64.StdEncoding.EncodeToString([]byte(cell.Column)))
			ce.SetText(base64.StdEncoding.EncodeToString([]byte(cell.Value)))
		}
	}
	return doc.WriteToBytes()
}

// DecodeCellSet decodes a cell set produced by EncodeCellSet.
func DecodeCellSet(f Format, data []byte) (scan.Envelope, error) {
	switch f {
	case FormatJSON:
		var set jsonCellSet
		if err := json.Unmarshal(data, &set); err != nil {
			return scan.Envelope{}, err
		}
		env := scan.Envelope{Rows: make([]scan.Row, 0, len(set.Rows))}
		for _, jr := range set.Rows {
			row := scan.Row{Key: string(jr.Key)}
			for _, jc := range jr.Cells {
				row.Cells = append(row.Cells, scan.Cell{Column: string(jc.Column), Value: string(jc.Value)})
			}
			env.Rows = append(env.Rows, row)
		}
		return env, nil
	case FormatXML:
		return decodeCellSetXML(data)
	default:
		return decodeCellSetProto(data)
	}
}

func decodeCellSetXML(data []byte) (scan.Envelope, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return scan.Envelope{}, err
	}
	root := doc.SelectElement("CellSet")
	if root == nil {
		return scan.Envelope{}, errors.New("missing CellSet element")
	}
	env := scan.Envelope{Rows: []scan.Row{}}
	for _, re := range root.SelectElements("Row") {
		key, err := base64.StdEncoding.DecodeString(re.SelectAttrValue("key", ""))
		if err != nil {
			return scan.Envelope{}, err
		}
		row := scan.Row{Key: string(key)}
		for _, ce := range re.SelectElements("Cell") {
			col, err := base64.StdEncoding.DecodeString(ce.SelectAttrValue("column", ""))
			if err != nil {
				return scan.Envelope{}, err
			}
			val, err := base64.StdEncoding.DecodeString(ce.Text())
			if err != nil {
				return scan.Envelope{}, err
			}
			row.Cells = append(row.Cells, scan.Cell{Column: string(col), Value: string(val)})
		}
		env.Rows = append(env.Rows, row)
	}
	return env, nil
}

func decodeCellSetProto(b []byte) (scan.Envelope, error) {
	env := scan.Envelope{Rows: []scan.Row{}}
	err := walkMessage(b, func(num protowire.Number, v []byte) error {
		if num != cellSetRows {
			return nil
		}
		var row scan.Row
		err := walkMessage(v, func(num protowire.Number, v []byte) error {
			switch num {
			case rowKey:
				row.Key = string(v)
			case rowValues:
				var cell scan.Cell
				err := walkMessage(v, func(num protowire.Number, v []byte) error {
					switch num {
					case cellColumn:
						cell.Column = string(v)
					case cellData:
						cell.Value = string(v)
					}
					return nil
				})
				if err != nil {
					return err
				}
				row.Cells = append(row.Cells, cell)
			}
			return nil
		})
		if err != nil {
			return err
		}
		env.Rows = append(env.Rows, row)
		return nil
	})
	return env, err
}

// walkMessage calls fn for every length-delimited field of b, skipping
// fields of other wire types.
func walkMessage(b []byte, fn func(num protowire.Number, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		if err := fn(num, v); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
