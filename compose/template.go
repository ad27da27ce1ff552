package compose

import (
	"fmt"

	"github.com/wudi/pagekit/ir/raw"
	"github.com/wudi/pagekit/parser"
)

// Template is a self-contained drawable snapshot of one source page: its
// physical dimensions plus the content and resource objects already
// translated into the output document's object space. Dimensions are
// immutable and decide which section the template can share.
type Template struct {
	Width    float64
	Height   float64
	MediaBox [4]float64
	Rotate   int

	// Contents and Resources reference objects living in the output
	// document. Content streams are carried byte-for-byte, never decoded.
	Contents  raw.Object
	Resources raw.Object
}

// copier translates one source document's objects into an output document.
// Each source object is copied at most once; repeated references resolve to
// the same output object, so duplicate page extraction stays cheap.
type copier struct {
	src   *raw.Document
	out   *outputDoc
	trans map[raw.ObjectRef]raw.ObjectRef
}

func newCopier(src *raw.Document, out *outputDoc) *copier {
	return &copier{src: src, out: out, trans: make(map[raw.ObjectRef]raw.ObjectRef)}
}

// extractTemplate snapshots page i of src into the copier's output document.
func extractTemplate(src *parser.Source, i int, c *copier) (Template, error) {
	page, ok := src.Page(i)
	if !ok {
		return Template{}, fmt.Errorf("page %d out of range", i)
	}
	contents, err := c.copy(page.Contents)
	if err != nil {
		return Template{}, fmt.Errorf("copy page %d contents: %w", i, err)
	}
	resources, err := c.copy(page.Resources)
	if err != nil {
		return Template{}, fmt.Errorf("copy page %d resources: %w", i, err)
	}
	return Template{
		Width:     page.Width(),
		Height:    page.Height(),
		MediaBox:  page.MediaBox,
		Rotate:    page.Rotate,
		Contents:  contents,
		Resources: resources,
	}, nil
}

// copy deep-copies obj into the output document, rewriting every indirect
// reference to its translated counterpart.
func (c *copier) copy(obj raw.Object) (raw.Object, error) {
	switch v := obj.(type) {
	case nil:
		return nil, nil
	case raw.RefObj:
		ref, err := c.copyRef(v.R)
		if err != nil {
			return nil, err
		}
		return raw.RefObj{R: ref}, nil
	case *raw.ArrayObj:
		out := &raw.ArrayObj{Items: make([]raw.Object, 0, len(v.Items))}
		for _, it := range v.Items {
			copied, err := c.copy(it)
			if err != nil {
				return nil, err
			}
			out.Append(copied)
		}
		return out, nil
	case *raw.DictObj:
		out := raw.Dict()
		for _, k := range v.Keys() {
			val, _ := v.Get(k)
			copied, err := c.copy(val)
			if err != nil {
				return nil, err
			}
			out.Set(k, copied)
		}
		return out, nil
	case *raw.StreamObj:
		dict, err := c.copy(v.Dict)
		if err != nil {
			return nil, err
		}
		// Payload bytes are shared: the source graph is read-only and the
		// writer never mutates stream data.
		return raw.NewStream(dict.(*raw.DictObj), v.Data), nil
	default:
		// Scalars are immutable values.
		return obj, nil
	}
}

// copyRef translates an indirect reference, copying its target on first use.
// The translation is recorded before the target is copied so reference
// cycles (e.g. Parent links) terminate.
func (c *copier) copyRef(ref raw.ObjectRef) (raw.ObjectRef, error) {
	if mapped, ok := c.trans[ref]; ok {
		return mapped, nil
	}
	target := c.out.allocRef()
	c.trans[ref] = target

	obj, ok := c.src.Objects[ref]
	if !ok {
		// Repair scans report generation 0 for reused slots.
		obj, ok = c.src.Objects[raw.ObjectRef{Num: ref.Num}]
	}
	if !ok {
		c.out.objects[target] = raw.NullObj{}
		return target, nil
	}
	copied, err := c.copy(obj)
	if err != nil {
		return raw.ObjectRef{}, err
	}
	c.out.objects[target] = copied
	return target, nil
}
