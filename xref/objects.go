package xref

// Token-level object parsing scoped to what xref resolution needs: trailer
// dictionaries and xref stream dictionaries. The full object loader lives in
// the parser package.

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/wudi/pagekit/ir/raw"
	"github.com/wudi/pagekit/scanner"
)

func expectNumber(s scanner.Scanner) (scanner.Token, error) {
	tok, err := s.Next()
	if err != nil {
		return tok, err
	}
	if tok.Type != scanner.TokenNumber || !tok.IsInt {
		return tok, errors.New("expected integer")
	}
	return tok, nil
}

func expectKeyword(s scanner.Scanner, word string) error {
	tok, err := s.Next()
	if err != nil {
		return err
	}
	if tok.Type != scanner.TokenKeyword || tok.Str != word {
		return fmt.Errorf("expected %q keyword", word)
	}
	return nil
}

// parseDictAt parses a direct dictionary starting at offset.
func parseDictAt(data []byte, offset int64) (*raw.DictObj, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, errors.New("dictionary offset out of range")
	}
	s := scanner.New(bytes.NewReader(data[offset:]), scanner.Config{})
	obj, err := parseObject(s)
	if err != nil {
		return nil, err
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, errors.New("expected dictionary")
	}
	return dict, nil
}

func parseObject(s scanner.Scanner) (raw.Object, error) {
	tok, err := s.Next()
	if err != nil {
		return nil, err
	}
	return parseFromToken(s, tok)
}

func parseFromToken(s scanner.Scanner, tok scanner.Token) (raw.Object, error) {
	switch tok.Type {
	case scanner.TokenName:
		return raw.NameObj{Val: tok.Str}, nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return raw.NumberObj{I: tok.Int, IsInt: true}, nil
		}
		return raw.NumberObj{F: tok.Float}, nil
	case scanner.TokenBoolean:
		return raw.BoolObj{V: tok.Bool}, nil
	case scanner.TokenNull:
		return raw.NullObj{}, nil
	case scanner.TokenString:
		if tok.IsHex {
			return raw.HexStringObj{Bytes: tok.Bytes}, nil
		}
		return raw.StringObj{Bytes: tok.Bytes}, nil
	case scanner.TokenRef:
		return raw.Ref(int(tok.Int), tok.Gen), nil
	case scanner.TokenArray:
		arr := &raw.ArrayObj{}
		for {
			t, err := s.Next()
			if err != nil {
				return nil, err
			}
			if t.Type == scanner.TokenKeyword && t.Str == "]" {
				return arr, nil
			}
			item, err := parseFromToken(s, t)
			if err != nil {
				return nil, err
			}
			arr.Append(item)
		}
	case scanner.TokenDict:
		d := raw.Dict()
		for {
			t, err := s.Next()
			if err != nil {
				return nil, err
			}
			if t.Type == scanner.TokenKeyword && t.Str == ">>" {
				return d, nil
			}
			if t.Type != scanner.TokenName {
				return nil, errors.New("expected name key in dictionary")
			}
			val, err := parseObject(s)
			if err != nil {
				return nil, err
			}
			d.Set(raw.NameObj{Val: t.Str}, val)
		}
	}
	return nil, fmt.Errorf("unexpected token type %d", tok.Type)
}
