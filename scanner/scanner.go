// Package scanner tokenizes PDF syntax from an io.ReaderAt. It buffers the
// input in fixed-size windows so large documents are not copied eagerly.
package scanner

import (
	"bytes"
	"errors"
	"io"

	"github.com/wudi/pagekit/recovery"
)

type TokenType int

const (
	TokenDict    TokenType = iota // '<<'
	TokenArray                    // '['
	TokenName                     // '/Name'
	TokenString                   // literal or hex string
	TokenNumber                   // numeric value
	TokenBoolean                  // true/false
	TokenNull                     // null
	TokenRef                      // indirect ref '5 0 R'
	TokenStream                   // stream payload bytes
	TokenKeyword                  // other keywords (obj, endobj, >>, ], ...)
)

// Token is one lexical unit. Which fields are meaningful depends on Type:
// Str for names and keywords, Int/Float/IsInt for numbers, Int/Gen for
// references, Bytes for strings and stream payloads.
type Token struct {
	Type  TokenType
	Str   string
	Int   int64
	Float float64
	IsInt bool
	Bool  bool
	Gen   int
	IsHex bool
	Bytes []byte
	Pos   int64
}

type Scanner interface {
	Next() (Token, error)
	Position() int64
	SeekTo(offset int64) error
	SetNextStreamLength(n int64)
}

type Config struct {
	MaxStringLength int64
	MaxStreamLength int64
	MaxStreamScan   int64
	WindowSize      int64
	Recovery        recovery.Strategy
}

// pdfScanner incrementally buffers data from a ReaderAt in fixed-size windows.
type pdfScanner struct {
	reader        io.ReaderAt
	data          []byte
	pos           int64
	cfg           Config
	nextStreamLen int64
	chunkSize     int64
	eof           bool
	lastAction    recovery.Action
}

func New(r io.ReaderAt, cfg Config) Scanner {
	chunk := cfg.WindowSize
	if chunk <= 0 {
		chunk = 64 * 1024
	}
	if cfg.Recovery == nil {
		cfg.Recovery = recovery.Strict{}
	}
	return &pdfScanner{reader: r, cfg: cfg, nextStreamLen: -1, chunkSize: chunk}
}

func (s *pdfScanner) Position() int64 { return s.pos }

func (s *pdfScanner) SeekTo(offset int64) error {
	if offset < 0 {
		return errors.New("seek out of range")
	}
	if err := s.ensure(offset); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if offset > int64(len(s.data)) {
		return errors.New("seek out of range")
	}
	s.pos = offset
	return nil
}

func (s *pdfScanner) SetNextStreamLength(n int64) { s.nextStreamLen = n }

func (s *pdfScanner) Next() (Token, error) {
	if err := s.skipWSAndComments(); err != nil {
		return Token{}, err
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peekAhead(1) == '<' {
			s.pos += 2
			return Token{Type: TokenDict, Str: "<<", Pos: start}, nil
		}
		return s.scanHexString()
	case '>':
		if s.peekAhead(1) == '>' {
			s.pos += 2
			return Token{Type: TokenKeyword, Str: ">>", Pos: start}, nil
		}
		s.pos++
		return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
	case '[':
		s.pos++
		return Token{Type: TokenArray, Str: "[", Pos: start}, nil
	case ']':
		s.pos++
		return Token{Type: TokenKeyword, Str: "]", Pos: start}, nil
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	case '{', '}':
		s.pos++
		return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
	}
	if isNumberStart(c) {
		return s.scanNumberOrRef()
	}
	if isRegular(c) {
		return s.scanKeyword()
	}
	s.pos++
	return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
}

func (s *pdfScanner) recover(err error, component string) error {
	s.lastAction = s.cfg.Recovery.OnError(err, recovery.Location{
		ByteOffset: s.pos,
		Component:  component,
	})
	if s.lastAction == recovery.ActionFail {
		return err
	}
	return nil
}

func (s *pdfScanner) skipWSAndComments() error {
	for {
		if err := s.ensure(s.pos); err != nil {
			return err
		}
		if s.pos >= int64(len(s.data)) {
			return io.EOF
		}
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for {
				s.pos++
				if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				if s.pos >= int64(len(s.data)) {
					return io.EOF
				}
				if s.data[s.pos] == '\n' || s.data[s.pos] == '\r' {
					break
				}
			}
			continue
		}
		return nil
	}
}

func (s *pdfScanner) ensure(n int64) error {
	for int64(len(s.data)) <= n {
		if s.eof {
			return io.EOF
		}
		if err := s.loadMore(); err != nil {
			return err
		}
	}
	return nil
}

func (s *pdfScanner) loadMore() error {
	buf := make([]byte, s.chunkSize)
	off := int64(len(s.data))
	n, err := s.reader.ReadAt(buf, off)
	if n > 0 {
		s.data = append(s.data, buf[:n]...)
	}
	if errors.Is(err, io.EOF) || n == 0 {
		s.eof = true
		return nil
	}
	return err
}

func (s *pdfScanner) peekAhead(n int64) byte {
	if err := s.ensure(s.pos + n); err != nil {
		return 0
	}
	if s.pos+n >= int64(len(s.data)) {
		return 0
	}
	return s.data[s.pos+n]
}

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return isWhitespace(c)
}

func isRegular(c byte) bool { return !isDelimiter(c) }

func isNumberStart(c byte) bool {
	return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9')
}

func (s *pdfScanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // skip '/'
	var out bytes.Buffer
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		if c == '#' {
			s.pos++
			a := s.hexNibble()
			b := s.hexNibble()
			out.WriteByte((a << 4) | b)
			continue
		}
		out.WriteByte(c)
		s.pos++
	}
	return Token{Type: TokenName, Str: out.String(), Pos: start}, nil
}

func (s *pdfScanner) hexNibble() byte {
	if s.ensure(s.pos) != nil || s.pos >= int64(len(s.data)) {
		return 0
	}
	c := s.data[s.pos]
	s.pos++
	return fromHex(c)
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return c
	}
}

// scanLiteralString implements PDF 7.3.4.2 including nested parentheses,
// escapes, octal codes and line continuations.
func (s *pdfScanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // skip '('
	var buf bytes.Buffer
	depth := 1
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if c == '\\' {
			s.pos++
			if s.ensure(s.pos) != nil || s.pos >= int64(len(s.data)) {
				break
			}
			esc := s.data[s.pos]
			if esc == '\r' {
				s.pos++
				if s.ensure(s.pos) == nil && s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
					s.pos++
				}
				continue
			}
			if esc == '\n' {
				s.pos++
				continue
			}
			if esc >= '0' && esc <= '7' {
				val := int(esc - '0')
				s.pos++
				for k := 0; k < 2; k++ {
					if s.ensure(s.pos) != nil || s.pos >= int64(len(s.data)) {
						break
					}
					d := s.data[s.pos]
					if d < '0' || d > '7' {
						break
					}
					val = (val << 3) + int(d-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
				continue
			}
			buf.WriteByte(translateEscape(esc))
			s.pos++
			continue
		}
		if c == '(' {
			depth++
			buf.WriteByte(c)
			s.pos++
			continue
		}
		if c == ')' {
			depth--
			if depth == 0 {
				s.pos++
				break
			}
			buf.WriteByte(c)
			s.pos++
			continue
		}
		buf.WriteByte(c)
		s.pos++
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, errors.New("literal string too long")
		}
	}
	if depth != 0 {
		if err := s.recover(errors.New("unterminated literal string"), "literal"); err != nil {
			return Token{}, err
		}
	}
	return Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start}, nil
}

func (s *pdfScanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // skip '<'
	var hexbuf []byte
	closed := false
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if c == '>' {
			s.pos++
			closed = true
			break
		}
		if isWhitespace(c) {
			s.pos++
			continue
		}
		hexbuf = append(hexbuf, c)
		s.pos++
	}
	if !closed {
		if err := s.recover(errors.New("unterminated hex string"), "hex"); err != nil {
			return Token{}, err
		}
	}
	if len(hexbuf)%2 == 1 {
		hexbuf = append(hexbuf, '0') // odd nibble count pads with 0
	}
	if s.cfg.MaxStringLength > 0 && int64(len(hexbuf)/2) > s.cfg.MaxStringLength {
		return Token{}, errors.New("hex string too long")
	}
	out := make([]byte, 0, len(hexbuf)/2)
	for i := 0; i < len(hexbuf); i += 2 {
		out = append(out, (fromHex(hexbuf[i])<<4)|fromHex(hexbuf[i+1]))
	}
	return Token{Type: TokenString, Bytes: out, IsHex: true, Pos: start}, nil
}

// scanNumberOrRef reads a number and, when it is a non-negative integer,
// looks ahead for the "<num> <gen> R" indirect-reference form. The cursor is
// restored when the lookahead does not match.
func (s *pdfScanner) scanNumberOrRef() (Token, error) {
	start := s.pos
	tok, err := s.scanNumber()
	if err != nil {
		return Token{}, err
	}
	if !tok.IsInt || tok.Int < 0 {
		return tok, nil
	}
	save := s.pos
	if err := s.skipWSAndComments(); err != nil {
		s.pos = save
		return tok, nil
	}
	if s.pos >= int64(len(s.data)) || !isNumberStart(s.data[s.pos]) {
		s.pos = save
		return tok, nil
	}
	genTok, err := s.scanNumber()
	if err != nil || !genTok.IsInt || genTok.Int < 0 {
		s.pos = save
		return tok, nil
	}
	if err := s.skipWSAndComments(); err != nil {
		s.pos = save
		return tok, nil
	}
	if s.pos < int64(len(s.data)) && s.data[s.pos] == 'R' {
		next := s.peekAhead(1)
		if next == 0 || isDelimiter(next) {
			s.pos++
			return Token{Type: TokenRef, Int: tok.Int, Gen: int(genTok.Int), IsInt: true, Pos: start}, nil
		}
	}
	s.pos = save
	return tok, nil
}

func (s *pdfScanner) scanNumber() (Token, error) {
	start := s.pos
	var sign int64 = 1
	c := s.data[s.pos]
	if c == '+' || c == '-' {
		if c == '-' {
			sign = -1
		}
		s.pos++
	}
	var intPart int64
	var frac float64
	var fracScale float64 = 1
	isInt := true
	sawDigit := false
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if c >= '0' && c <= '9' {
			sawDigit = true
			if isInt {
				intPart = intPart*10 + int64(c-'0')
			} else {
				fracScale /= 10
				frac += float64(c-'0') * fracScale
			}
			s.pos++
			continue
		}
		if c == '.' && isInt {
			isInt = false
			s.pos++
			continue
		}
		break
	}
	if !sawDigit && isInt {
		// bare '+', '-' or '.' with no digits
		return Token{Type: TokenNumber, Int: 0, IsInt: true, Pos: start}, nil
	}
	if isInt {
		return Token{Type: TokenNumber, Int: sign * intPart, IsInt: true, Pos: start}, nil
	}
	val := float64(sign) * (float64(intPart) + frac)
	return Token{Type: TokenNumber, Float: val, Pos: start}, nil
}

func (s *pdfScanner) scanKeyword() (Token, error) {
	start := s.pos
	var out bytes.Buffer
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		out.WriteByte(c)
		s.pos++
	}
	word := out.String()
	switch word {
	case "true":
		return Token{Type: TokenBoolean, Bool: true, Pos: start}, nil
	case "false":
		return Token{Type: TokenBoolean, Bool: false, Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Pos: start}, nil
	case "stream":
		return s.scanStream(start)
	}
	return Token{Type: TokenKeyword, Str: word, Pos: start}, nil
}

// scanStream consumes the payload following a 'stream' keyword. When the
// caller supplied the declared /Length via SetNextStreamLength the payload is
// read exactly; otherwise the scanner falls back to searching for
// 'endstream'.
func (s *pdfScanner) scanStream(start int64) (Token, error) {
	if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
		return Token{}, err
	}
	// PDF 7.3.8: the stream keyword is followed by an EOL before the data.
	if s.pos < int64(len(s.data)) {
		if s.data[s.pos] == '\r' {
			s.pos++
			if s.ensure(s.pos) == nil && s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
				s.pos++
			}
		} else if s.data[s.pos] == '\n' {
			s.pos++
		} else if err := s.recover(errors.New("stream missing EOL before data"), "stream"); err != nil {
			return Token{}, err
		}
	}
	dataStart := s.pos

	length := s.nextStreamLen
	s.nextStreamLen = -1
	if length >= 0 {
		if s.cfg.MaxStreamLength > 0 && length > s.cfg.MaxStreamLength {
			return Token{}, errors.New("stream too long")
		}
		if length > 0 {
			if err := s.ensure(dataStart + length - 1); err != nil && !errors.Is(err, io.EOF) {
				return Token{}, err
			}
		}
		if dataStart+length > int64(len(s.data)) {
			if err := s.recover(errors.New("stream ended before declared length"), "stream"); err != nil {
				return Token{}, err
			}
			length = int64(len(s.data)) - dataStart
		}
		end := dataStart + length
		payload := append([]byte(nil), s.data[dataStart:end]...)
		s.pos = end
		s.skipEOL()
		// consume the trailing 'endstream'
		needle := []byte("endstream")
		s.ensure(s.pos + int64(len(needle)))
		if s.pos+int64(len(needle)) <= int64(len(s.data)) && bytes.Equal(s.data[s.pos:s.pos+int64(len(needle))], needle) {
			s.pos += int64(len(needle))
		} else if idx := bytes.Index(s.data[s.pos:], needle); idx >= 0 {
			s.pos += int64(idx + len(needle))
		}
		return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
	}

	// No length hint: scan forward for 'endstream'.
	needle := []byte("endstream")
	for {
		if s.eof {
			break
		}
		if err := s.loadMore(); err != nil {
			return Token{}, err
		}
		if s.cfg.MaxStreamScan > 0 && int64(len(s.data))-dataStart > s.cfg.MaxStreamScan {
			return Token{}, errors.New("endstream not found within scan limit")
		}
	}
	idx := bytes.Index(s.data[dataStart:], needle)
	if idx < 0 {
		if err := s.recover(errors.New("endstream not found"), "stream"); err != nil {
			return Token{}, err
		}
		idx = len(s.data) - int(dataStart)
	}
	end := dataStart + int64(idx)
	// the EOL before 'endstream' is not part of the data
	trimmed := s.data[dataStart:end]
	trimmed = bytes.TrimSuffix(trimmed, []byte("\n"))
	trimmed = bytes.TrimSuffix(trimmed, []byte("\r"))
	payload := append([]byte(nil), trimmed...)
	s.pos = end
	if s.pos+int64(len(needle)) <= int64(len(s.data)) {
		if rel := bytes.Index(s.data[s.pos:], needle); rel >= 0 {
			s.pos += int64(rel + len(needle))
		}
	}
	return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
}

func (s *pdfScanner) skipEOL() {
	if s.ensure(s.pos) != nil || s.pos >= int64(len(s.data)) {
		return
	}
	if s.data[s.pos] == '\r' {
		s.pos++
		if s.ensure(s.pos) == nil && s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
			s.pos++
		}
	} else if s.data[s.pos] == '\n' {
		s.pos++
	}
}
