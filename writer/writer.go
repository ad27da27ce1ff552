// Package writer serializes a raw.Document into a linear PDF byte stream:
// header, body objects in ascending number, classic xref table, trailer.
// Stream payloads are written exactly as stored; /Length is recomputed so the
// declared value always matches the bytes on the wire.
package writer

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/wudi/pagekit/ir/raw"
)

const defaultVersion = "1.7"

// binaryMarker follows the header so transfer tools treat the file as binary.
const binaryMarker = "%\xE2\xE3\xCF\xD3\n"

// Serialize renders doc as a complete PDF file.
func Serialize(doc *raw.Document) ([]byte, error) {
	if doc == nil || len(doc.Objects) == 0 {
		return nil, errors.New("document has no objects")
	}
	if raw.DictValue(doc.Trailer, "Root") == nil {
		return nil, errors.New("trailer missing /Root")
	}

	version := doc.Version
	if version == "" {
		version = defaultVersion
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%%PDF-%s\n", version)
	buf.WriteString(binaryMarker)

	ordered := make([]raw.ObjectRef, 0, len(doc.Objects))
	for ref := range doc.Objects {
		ordered = append(ordered, ref)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Num < ordered[j].Num })

	offsets := make(map[int]entry, len(ordered))
	for _, ref := range ordered {
		if ref.Num <= 0 {
			return nil, fmt.Errorf("invalid object number %d", ref.Num)
		}
		if _, dup := offsets[ref.Num]; dup {
			return nil, fmt.Errorf("duplicate object number %d", ref.Num)
		}
		offsets[ref.Num] = entry{offset: int64(buf.Len()), gen: ref.Gen}
		body, err := SerializeObject(ref, doc.Objects[ref])
		if err != nil {
			return nil, err
		}
		buf.Write(body)
	}

	xrefOffset := buf.Len()
	maxNum := ordered[len(ordered)-1].Num
	fmt.Fprintf(&buf, "xref\n0 %d\n", maxNum+1)
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= maxNum; i++ {
		if e, ok := offsets[i]; ok {
			fmt.Fprintf(&buf, "%010d %05d n \n", e.offset, e.gen)
		} else {
			buf.WriteString("0000000000 65535 f \n")
		}
	}

	trailer := raw.Dict()
	if doc.Trailer != nil {
		for _, k := range doc.Trailer.Keys() {
			switch k.Value() {
			case "Size", "Prev", "XRefStm":
				continue // stale after rewrite
			}
			if v, ok := doc.Trailer.Get(k); ok {
				trailer.Set(k, v)
			}
		}
	}
	trailer.Set(raw.NameLiteral("Size"), raw.NumberInt(int64(maxNum+1)))

	buf.WriteString("trailer\n")
	writePrimitive(&buf, trailer)
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes(), nil
}

type entry struct {
	offset int64
	gen    int
}

// SerializeObject renders one indirect object including its obj/endobj frame.
func SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error) {
	if obj == nil {
		return nil, fmt.Errorf("object %v is nil", ref)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
	writePrimitive(&buf, obj)
	buf.WriteString("\nendobj\n")
	return buf.Bytes(), nil
}

func writePrimitive(buf *bytes.Buffer, o raw.Object) {
	switch v := o.(type) {
	case raw.NameObj:
		writeName(buf, v.Val)
	case raw.NumberObj:
		if v.IsInteger() {
			buf.WriteString(strconv.FormatInt(v.Int(), 10))
		} else {
			buf.WriteString(strconv.FormatFloat(v.Float(), 'f', -1, 64))
		}
	case raw.BoolObj:
		if v.V {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case raw.NullObj, nil:
		buf.WriteString("null")
	case raw.StringObj:
		writeLiteralString(buf, v.Bytes)
	case raw.HexStringObj:
		buf.WriteByte('<')
		const digits = "0123456789ABCDEF"
		for _, b := range v.Bytes {
			buf.WriteByte(digits[b>>4])
			buf.WriteByte(digits[b&0xF])
		}
		buf.WriteByte('>')
	case raw.RefObj:
		fmt.Fprintf(buf, "%d %d R", v.R.Num, v.R.Gen)
	case *raw.ArrayObj:
		buf.WriteByte('[')
		for i, it := range v.Items {
			if i > 0 {
				buf.WriteByte(' ')
			}
			writePrimitive(buf, it)
		}
		buf.WriteByte(']')
	case *raw.DictObj:
		writeDict(buf, v)
	case *raw.StreamObj:
		writeStream(buf, v)
	default:
		buf.WriteString("null")
	}
}

func writeDict(buf *bytes.Buffer, d *raw.DictObj) {
	buf.WriteString("<<")
	for i, k := range d.Keys() {
		if i > 0 {
			buf.WriteByte(' ')
		}
		writeName(buf, k.Value())
		buf.WriteByte(' ')
		v, _ := d.Get(k)
		writePrimitive(buf, v)
	}
	buf.WriteString(">>")
}

func writeStream(buf *bytes.Buffer, st *raw.StreamObj) {
	dict := raw.Dict()
	if st.Dict != nil {
		for _, k := range st.Dict.Keys() {
			v, _ := st.Dict.Get(k)
			dict.Set(k, v)
		}
	}
	dict.Set(raw.NameLiteral("Length"), raw.NumberInt(int64(len(st.Data))))
	writeDict(buf, dict)
	buf.WriteString("\nstream\n")
	buf.Write(st.Data)
	buf.WriteString("\nendstream")
}

// writeName emits a name with #-escapes for delimiters and non-printables.
func writeName(buf *bytes.Buffer, name string) {
	buf.WriteByte('/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= ' ' || c > '~' || c == '#' || isDelimiterByte(c) {
			fmt.Fprintf(buf, "#%02X", c)
			continue
		}
		buf.WriteByte(c)
	}
}

func isDelimiterByte(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func writeLiteralString(buf *bytes.Buffer, data []byte) {
	buf.WriteByte('(')
	for _, c := range data {
		switch c {
		case '(', ')', '\\':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte(')')
}
