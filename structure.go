// Copyright © 2026, Taggedpdf Project Contributors. All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package tagtree

import (
	"golang.org/x/text/language"

	"github.com/taggedpdf/tagtree/logger"
)

// StructTreeRoot is the root of a tagged PDF's logical structure tree.
type StructTreeRoot struct {
	Kids []*StructElem
}

// StructElem is one node of the structure tree: a semantic role (Subtype,
// the value of /S) together with its children, each of which is either
// another StructElem or a MarkedContent leaf resolved against the owning
// page's content stream.
type StructElem struct {
	Subtype string
	Lang    language.Tag
	Page    Page
	Kids    []StructKid
}

// StructKid is one child of a StructElem: exactly one of Elem or
// MarkedContent is set.
type StructKid struct {
	Elem          *StructElem
	MarkedContent *MarkedContent
}

// Walk performs a depth-first traversal of the tree, visiting every
// StructElem and MarkedContent leaf. depth is 0 for the tree's top-level
// elements. leaf is non-nil only for MarkedContent visits, in which case
// subtype is the empty string.
func (t *StructTreeRoot) Walk(visit func(depth int, subtype string, leaf *MarkedContent)) {
	var walk func(e *StructElem, depth int)
	walk = func(e *StructElem, depth int) {
		visit(depth, e.Subtype, nil)
		for _, k := range e.Kids {
			switch {
			case k.Elem != nil:
				walk(k.Elem, depth+1)
			case k.MarkedContent != nil:
				visit(depth+1, "", k.MarkedContent)
			}
		}
	}
	for _, e := range t.Kids {
		walk(e, 0)
	}
}

// structAssembler carries the caches needed to assemble a structure tree:
// one keyed on object identity (breaking /Parent, /P, and /A cycles, and
// giving every StructElem instance identity the same way Reader.resolve
// gives Values identity), and one keyed on page identity (so a page's
// content stream is decoded into marked-content regions at most once no
// matter how many structure elements reference it).
type structAssembler struct {
	elems map[objptr]*StructElem
	mcids map[objptr]ContentMCIDMap
}

// resolveField fetches v's dictionary (or stream header) entry key without
// going through Value.Key, which propagates v's own object identity onto
// any value it returns — correct for an indirect reference, but wrong for a
// literal dictionary nested directly inside v: that nested dictionary would
// otherwise appear to share v's object number, and two distinct inline
// StructElem dictionaries under the same parent would collide in
// structAssembler.elems. Resolving the raw (pre-lookup) value starting from
// a zero objptr instead gives it its own identity when it is itself an
// indirect reference, and no identity at all — the correct outcome — when
// it is inline.
func resolveField(v Value, key string) Value {
	var raw interface{}
	switch d := v.data.(type) {
	case dict:
		raw = d[name(key)]
	case stream:
		raw = d.hdr[name(key)]
	}
	if raw == nil {
		return Value{}
	}
	return v.r.resolve(objptr{}, raw)
}

// resolveElem is resolveField's counterpart for array elements.
func resolveElem(v Value, i int) Value {
	arr, ok := v.data.(array)
	if !ok || i < 0 || i >= len(arr) {
		return Value{}
	}
	return v.r.resolve(objptr{}, arr[i])
}

// GetStructureTree assembles and returns the document's logical structure
// tree. It returns (nil, nil) for a well-formed PDF that has no
// /StructTreeRoot — i.e. an untagged document.
func (r *Reader) GetStructureTree() (tree *StructTreeRoot, err error) {
	defer recoverParseError(&err)

	strt := r.Trailer().Key("Root").Key("StructTreeRoot")
	if strt.Kind() != Dict {
		logger.Debug("document has no /StructTreeRoot — untagged PDF", true)
		return nil, nil
	}

	asm := &structAssembler{
		elems: map[objptr]*StructElem{},
		mcids: map[objptr]ContentMCIDMap{},
	}
	kids, kerr := asm.resolveKids(resolveField(strt, "K"), Page{})
	if kerr != nil {
		return nil, kerr
	}
	root := &StructTreeRoot{}
	for _, k := range kids {
		if k.Elem != nil {
			root.Kids = append(root.Kids, k.Elem)
		}
	}
	return root, nil
}

// resolveKids normalizes the many shapes /K can take — a bare integer, a
// single reference, or an array mixing both — into a flat list of children.
func (a *structAssembler) resolveKids(kv Value, page Page) ([]StructKid, error) {
	switch kv.Kind() {
	case Integer:
		return a.resolveScalarKid(kv, page)
	case Dict:
		return a.resolveDictKid(kv, page)
	case Array:
		var out []StructKid
		for i := 0; i < kv.Len(); i++ {
			ks, err := a.resolveArrayElemKid(resolveElem(kv, i), page)
			if err != nil {
				return nil, err
			}
			out = append(out, ks...)
		}
		return out, nil
	default:
		return nil, nil
	}
}

func (a *structAssembler) resolveArrayElemKid(kv Value, page Page) ([]StructKid, error) {
	switch kv.Kind() {
	case Integer:
		return a.resolveScalarKid(kv, page)
	case Dict:
		return a.resolveDictKid(kv, page)
	default:
		return nil, nil
	}
}

func (a *structAssembler) resolveScalarKid(kv Value, page Page) ([]StructKid, error) {
	mc, err := a.resolveMCID(page, int(kv.Int64()))
	if err != nil {
		return nil, err
	}
	return []StructKid{{MarkedContent: mc}}, nil
}

// resolveDictKid handles a /K entry that resolved to a dictionary: a nested
// /StructElem, an /OBJR (reference to a non-text object — ignored, per
// spec.md's data model), or an /MCR (an explicit marked-content reference,
// used when the referencing element isn't an immediate ancestor of the
// content).
func (a *structAssembler) resolveDictKid(kv Value, parentPage Page) ([]StructKid, error) {
	typ := kv.Key("Type").Name()
	switch typ {
	case "OBJR":
		logger.Debug("ignoring /OBJR structure child", true)
		return nil, nil
	case "", "StructElem", "MCR":
		// fall through below
	default:
		return nil, errUnknownType(typ)
	}

	page := parentPage
	if pg := resolveField(kv, "Pg"); pg.Kind() == Dict {
		page = Page{pg}
	}

	if typ == "MCR" {
		mc, err := a.resolveMCID(page, int(resolveField(kv, "MCID").Int64()))
		if err != nil {
			return nil, err
		}
		return []StructKid{{MarkedContent: mc}}, nil
	}

	elem, err := a.buildElem(kv, page)
	if err != nil {
		return nil, err
	}
	return []StructKid{{Elem: elem}}, nil
}

// buildElem resolves one /StructElem dictionary into a *StructElem, caching
// by object identity so repeated references — and any accidental cycle
// through /P or /A — resolve to the same instance instead of recursing
// forever.
func (a *structAssembler) buildElem(kv Value, parentPage Page) (*StructElem, error) {
	if kv.ptr != (objptr{}) {
		if existing, ok := a.elems[kv.ptr]; ok {
			return existing, nil
		}
	}

	elem := &StructElem{Subtype: kv.Key("S").Name()}
	if kv.ptr != (objptr{}) {
		a.elems[kv.ptr] = elem // register before recursing: breaks cycles
	}

	page := parentPage
	if pg := resolveField(kv, "Pg"); pg.Kind() == Dict {
		page = Page{pg}
	}
	elem.Page = page

	if langStr := kv.Key("Lang").Text(); langStr != "" {
		if tag, err := language.Parse(langStr); err == nil {
			elem.Lang = tag
		} else {
			logger.Debug("unparsable /Lang value: "+langStr, true)
		}
	}

	kids, err := a.resolveKids(resolveField(kv, "K"), page)
	if err != nil {
		return nil, err
	}
	elem.Kids = kids
	return elem, nil
}

// resolveMCID looks up (and caches) the owning page's marked-content map and
// returns the leaf for mcid.
func (a *structAssembler) resolveMCID(page Page, mcid int) (*MarkedContent, error) {
	if page.V.IsNull() {
		return nil, errMissingMCID(mcid)
	}
	m, ok := a.mcids[page.V.ptr]
	if !ok {
		var err error
		m, err = page.MarkedContent()
		if err != nil {
			return nil, err
		}
		a.mcids[page.V.ptr] = m
	}
	mc, ok := m[mcid]
	if !ok {
		return nil, errMissingMCID(mcid)
	}
	return mc, nil
}
