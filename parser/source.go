package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/wudi/pagekit/ir/raw"
)

// letterBox is the fallback media box for pages that carry none, directly or
// by inheritance.
var letterBox = [4]float64{0, 0, 612, 792}

// Page is one leaf of the page tree with inheritable attributes resolved.
type Page struct {
	Ref       raw.ObjectRef
	Dict      *raw.DictObj
	MediaBox  [4]float64
	Resources raw.Object
	Rotate    int
	Contents  raw.Object // ref, array of refs, or nil
}

// Width returns the media box horizontal extent.
func (p Page) Width() float64 { return p.MediaBox[2] - p.MediaBox[0] }

// Height returns the media box vertical extent.
func (p Page) Height() float64 { return p.MediaBox[3] - p.MediaBox[1] }

// Source is a parsed input document: the raw object graph plus the ordered
// page list. Read-only after Load.
type Source struct {
	doc   *raw.Document
	pages []Page
}

// Load parses buf with default configuration.
func Load(ctx context.Context, buf []byte) (*Source, error) {
	return LoadWith(ctx, buf, Config{})
}

// LoadWith parses buf and resolves its page tree.
func LoadWith(ctx context.Context, buf []byte, cfg Config) (*Source, error) {
	doc, err := NewDocumentParser(cfg).Parse(ctx, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	pages, err := collectPages(doc)
	if err != nil {
		return nil, err
	}
	return &Source{doc: doc, pages: pages}, nil
}

func (s *Source) Doc() *raw.Document { return s.doc }

func (s *Source) PageCount() int { return len(s.pages) }

func (s *Source) Page(i int) (Page, bool) {
	if i < 0 || i >= len(s.pages) {
		return Page{}, false
	}
	return s.pages[i], true
}

// Close drops the object graph so its memory can be reclaimed before the
// Source itself goes out of scope.
func (s *Source) Close() {
	if s.doc != nil {
		s.doc.Release()
	}
	s.pages = nil
}

type inherited struct {
	mediaBox  *[4]float64
	resources raw.Object
	rotate    *int
}

func collectPages(doc *raw.Document) ([]Page, error) {
	catalog, ok := doc.Resolve(raw.DictValue(doc.Trailer, "Root")).(*raw.DictObj)
	if !ok {
		return nil, errors.New("trailer /Root is not a catalog dictionary")
	}
	rootNode := raw.DictValue(catalog, "Pages")
	if rootNode == nil {
		return nil, errors.New("catalog missing /Pages")
	}

	var pages []Page
	visited := make(map[raw.ObjectRef]bool)
	if err := walkPageTree(doc, rootNode, inherited{}, visited, &pages, 0); err != nil {
		return nil, err
	}
	return pages, nil
}

func walkPageTree(doc *raw.Document, node raw.Object, inh inherited, visited map[raw.ObjectRef]bool, out *[]Page, depth int) error {
	if depth > 64 {
		return errors.New("page tree too deep")
	}

	var ref raw.ObjectRef
	if r, ok := node.(raw.RefObj); ok {
		if visited[r.R] {
			return fmt.Errorf("page tree cycle at %v", r.R)
		}
		visited[r.R] = true
		ref = r.R
	}
	dict, ok := doc.Resolve(node).(*raw.DictObj)
	if !ok {
		return errors.New("page tree node is not a dictionary")
	}

	if mb, ok := numberQuad(doc, raw.DictValue(dict, "MediaBox")); ok {
		inh.mediaBox = &mb
	}
	if res := raw.DictValue(dict, "Resources"); res != nil {
		inh.resources = res
	}
	if rot, ok := raw.IntValue(doc.Resolve(raw.DictValue(dict, "Rotate"))); ok {
		r := int(rot)
		inh.rotate = &r
	}

	var isPages bool
	if name, ok := raw.DictValue(dict, "Type").(raw.NameObj); ok {
		isPages = name.Val == "Pages"
	} else {
		isPages = raw.DictValue(dict, "Kids") != nil
	}

	if isPages {
		arr, ok := doc.Resolve(raw.DictValue(dict, "Kids")).(*raw.ArrayObj)
		if !ok {
			return errors.New("pages node missing /Kids array")
		}
		for _, kid := range arr.Items {
			if err := walkPageTree(doc, kid, inh, visited, out, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	page := Page{
		Ref:       ref,
		Dict:      dict,
		MediaBox:  letterBox,
		Resources: inh.resources,
		Contents:  raw.DictValue(dict, "Contents"),
	}
	if inh.mediaBox != nil {
		page.MediaBox = *inh.mediaBox
	}
	if inh.rotate != nil {
		page.Rotate = ((*inh.rotate % 360) + 360) % 360
	}
	*out = append(*out, page)
	return nil
}

// numberQuad resolves a 4-element numeric array, following references for the
// array itself and each element.
func numberQuad(doc *raw.Document, obj raw.Object) ([4]float64, bool) {
	arr, ok := doc.Resolve(obj).(*raw.ArrayObj)
	if !ok || arr.Len() != 4 {
		return [4]float64{}, false
	}
	var q [4]float64
	for i, it := range arr.Items {
		num, ok := doc.Resolve(it).(raw.NumberObj)
		if !ok {
			return [4]float64{}, false
		}
		q[i] = num.Float()
	}
	return q, true
}
