package compose

import (
	"errors"

	"github.com/wudi/pagekit/ir/raw"
)

// outputDoc is the in-progress composed document for one operation. Sections
// are realized natively as intermediate /Pages nodes: each carries the
// section media box, inherited by its leaf pages.
type outputDoc struct {
	objects  map[raw.ObjectRef]raw.Object
	nextNum  int
	sections []*section
}

type section struct {
	ref      raw.ObjectRef
	width    float64
	height   float64
	mediaBox [4]float64
	kids     []raw.ObjectRef
}

func newOutputDoc() *outputDoc {
	return &outputDoc{objects: make(map[raw.ObjectRef]raw.Object), nextNum: 1}
}

func (d *outputDoc) allocRef() raw.ObjectRef {
	ref := raw.ObjectRef{Num: d.nextNum}
	d.nextNum++
	return ref
}

func (d *outputDoc) newSection(t Template) *section {
	s := &section{
		ref:      d.allocRef(),
		width:    t.Width,
		height:   t.Height,
		mediaBox: t.MediaBox,
	}
	d.sections = append(d.sections, s)
	return s
}

// addPage places a page built from t into section s. The page inherits the
// section media box; a template whose box differs only in origin overrides
// it locally.
func (d *outputDoc) addPage(s *section, t Template) {
	page := raw.Dict()
	page.Set(raw.NameLiteral("Type"), raw.NameLiteral("Page"))
	page.Set(raw.NameLiteral("Parent"), raw.RefObj{R: s.ref})
	if t.MediaBox != s.mediaBox {
		page.Set(raw.NameLiteral("MediaBox"), quadArray(t.MediaBox))
	}
	if t.Contents != nil {
		page.Set(raw.NameLiteral("Contents"), t.Contents)
	}
	if t.Resources != nil {
		page.Set(raw.NameLiteral("Resources"), t.Resources)
	} else {
		page.Set(raw.NameLiteral("Resources"), raw.Dict())
	}
	if t.Rotate != 0 {
		page.Set(raw.NameLiteral("Rotate"), raw.NumberInt(int64(t.Rotate)))
	}

	ref := d.allocRef()
	d.objects[ref] = page
	s.kids = append(s.kids, ref)
}

// finalize assembles the page tree and catalog and returns the document
// ready for serialization.
func (d *outputDoc) finalize() (*raw.Document, error) {
	total := 0
	for _, s := range d.sections {
		total += len(s.kids)
	}
	if total == 0 {
		return nil, errors.New("output document has no pages")
	}

	rootRef := d.allocRef()
	rootKids := raw.NewArray()
	for _, s := range d.sections {
		node := raw.Dict()
		node.Set(raw.NameLiteral("Type"), raw.NameLiteral("Pages"))
		node.Set(raw.NameLiteral("Parent"), raw.RefObj{R: rootRef})
		node.Set(raw.NameLiteral("MediaBox"), quadArray(s.mediaBox))
		node.Set(raw.NameLiteral("Count"), raw.NumberInt(int64(len(s.kids))))
		kids := raw.NewArray()
		for _, k := range s.kids {
			kids.Append(raw.RefObj{R: k})
		}
		node.Set(raw.NameLiteral("Kids"), kids)
		d.objects[s.ref] = node
		rootKids.Append(raw.RefObj{R: s.ref})
	}

	root := raw.Dict()
	root.Set(raw.NameLiteral("Type"), raw.NameLiteral("Pages"))
	root.Set(raw.NameLiteral("Count"), raw.NumberInt(int64(total)))
	root.Set(raw.NameLiteral("Kids"), rootKids)
	d.objects[rootRef] = root

	catalogRef := d.allocRef()
	catalog := raw.Dict()
	catalog.Set(raw.NameLiteral("Type"), raw.NameLiteral("Catalog"))
	catalog.Set(raw.NameLiteral("Pages"), raw.RefObj{R: rootRef})
	d.objects[catalogRef] = catalog

	trailer := raw.Dict()
	trailer.Set(raw.NameLiteral("Root"), raw.RefObj{R: catalogRef})

	return &raw.Document{Objects: d.objects, Trailer: trailer, Version: "1.7"}, nil
}

func quadArray(q [4]float64) *raw.ArrayObj {
	arr := raw.NewArray()
	for _, v := range q {
		if v == float64(int64(v)) {
			arr.Append(raw.NumberInt(int64(v)))
		} else {
			arr.Append(raw.NumberFloat(v))
		}
	}
	return arr
}

// grouper appends templates to the open section while their dimensions match
// exactly, opening a new section on the first mismatch. Section creation is
// the expensive step, so maximal equal-size runs map to exactly one section.
type grouper struct {
	doc *outputDoc
	cur *section
}

func (g *grouper) place(t Template) {
	if g.cur == nil || g.cur.width != t.Width || g.cur.height != t.Height {
		g.cur = g.doc.newSection(t)
	}
	g.doc.addPage(g.cur, t)
}
