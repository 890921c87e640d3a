// Copyright © 2026, Taggedpdf Project Contributors. All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause
package tagtree

import (
	"bytes"
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cs(lo, hi string) byteRange { return byteRange{low: lo, high: hi} }

// Generated a cmap that hits all Decode branches.
func makeFullTestCMap() *cmap {
	return &cmap{
		space: [4][]byteRange{
			{ // 1-byte
				cs("\x01", "\x01"), // bfchar single-byte
				cs("\x05", "\x07"), // bfrange: 05–07
				cs("\x09", "\x09"), // bfchar surrogate pair (U+1F600)
				cs("\x7E", "\x7E"), // ASCII fallback
				cs("\xFF", "\xFF"), // invalid byte fallback
				cs("\x30", "\x30"), // '0' (overlap vs 2-byte 30 31)

			},
			{ // 2-byte
				cs("\x02\x03", "\x02\x03"), // bfchar 2-byte
				cs("\x30\x31", "\x30\x31"), // overlap with 1-byte 30 (shortest-match demo)
			},
			{ // 3-byte (non-overlapping)
				cs("\xAA\xBB\xCC", "\xAA\xBB\xCC"), // bfchar 漢
			},
			{ // 4-byte (non-overlapping)
				cs("\xFA\xFB\xFC\xFD", "\xFA\xFB\xFC\xFD"), // bfchar U+1F600
			},
		},
		bfchar: []bfchar{
			{orig: "\x01", repl: "\x00\x41"},                     // "A"
			{orig: "\x02\x03", repl: "\x00\xE9"},                 // "é"
			{orig: "\x09", repl: "\xD8\x3D\xDE\x00"},             // U+1F600
			{orig: "\xAA\xBB\xCC", repl: "\x6F\x22"},             // 漢 (UTF-16BE)
			{orig: "\xFA\xFB\xFC\xFD", repl: "\xD8\x3D\xDE\x00"}, // U+1F600
		},
		bfrange: []bfrange{
			{lo: "\x05", hi: "\x07", dst: Value{data: "\x00\x44"}}, // start at "D"
		},
	}
}

func TestFindNextCodespace(t *testing.T) {
	m := &cmap{
		space: [4][]byteRange{
			{cs("\x30", "\x30")},                         // 1-byte '0'
			{cs("\x30\x31", "\x30\x31")},                 // 2-byte "01"
			{cs("\xAA\xBB\xCC", "\xAA\xBB\xCC")},         // 3-byte
			{cs("\xFA\xFB\xFC\xFD", "\xFA\xFB\xFC\xFD")}, // 4-byte
		},
	}

	// 3-byte
	code, n := m.findNextCodespace("\xAA\xBB\xCC")
	assert.Equal(t, "\xAA\xBB\xCC", code)
	assert.Equal(t, 3, n)

	// 4-byte
	code, n = m.findNextCodespace("\xFA\xFB\xFC\xFD")
	assert.Equal(t, "\xFA\xFB\xFC\xFD", code)
	assert.Equal(t, 4, n)

	// no match → n == 0
	code, n = m.findNextCodespace("\x12")
	assert.Equal(t, "", code)
	assert.Equal(t, 0, n)
}

func TestResolveCodeMapping_bfchar(t *testing.T) {
	m := &cmap{
		bfchar: []bfchar{
			{orig: "\x01", repl: "\x00\x41"},     // "A"
			{orig: "\x02\x03", repl: "\x00\xE9"}, // "é"
		},
	}

	out, ok := m.resolveCodeMapping("\x01", 1)
	assert.True(t, ok)
	assert.Equal(t, "A", string(out))

	out, ok = m.resolveCodeMapping("\x02\x03", 2)
	assert.True(t, ok)
	assert.Equal(t, "é", string(out))

	_, ok = m.resolveCodeMapping("\xFF", 1)
	assert.False(t, ok)
}

func TestResolveCodeMapping_bfrangeString(t *testing.T) {
	m := &cmap{
		bfrange: []bfrange{
			{lo: "\x05", hi: "\x07", dst: Value{data: "\x00\x44"}}, // D..F
		},
	}
	// lo
	out, ok := m.resolveCodeMapping("\x05", 1)
	assert.True(t, ok)
	assert.Equal(t, "D", string(out))
	// middle
	out, ok = m.resolveCodeMapping("\x06", 1)
	assert.True(t, ok)
	assert.Equal(t, "E", string(out))
	// hi
	out, ok = m.resolveCodeMapping("\x07", 1)
	assert.True(t, ok)
	assert.Equal(t, "F", string(out))
}

func TestResolveBfrangeWithArray(t *testing.T) {
	//dst array contains strings
	brString := bfrange{
		lo: "\x05",
		hi: "\x07",
		dst: Value{
			data: array{
				"\x00\x44", // D
				"\x00\x45", // E
				"\x00\x46", // F
			},
		},
	}

	out := resolveBfrangeWithArray(brString, "\x05")
	assert.Equal(t, "D", string(out))

	out = resolveBfrangeWithArray(brString, "\x06")
	assert.Equal(t, "E", string(out))

	out = resolveBfrangeWithArray(brString, "\x07")
	assert.Equal(t, "F", string(out))

	// dst array contains non-string
	brNonString := bfrange{
		lo: "\x01",
		hi: "\x01",
		dst: Value{
			data: array{
				int64(123), // not a string
			},
		},
	}
	out = resolveBfrangeWithArray(brNonString, "\x01")
	assert.Nil(t, out)
}

func TestCmapDecode(t *testing.T) {
	m := makeFullTestCMap()

	type tc struct {
		name   string
		input  string
		expect string
		check  func(got string)
	}
	tests := []tc{
		// bfchar mappings
		{name: "bfchar-1byte", input: "\x01", expect: "A"},
		{name: "bfchar-2byte", input: "\x02\x03", expect: "é"},
		{name: "bfchar-3byte", input: "\xAA\xBB\xCC", expect: "漢"},
		{name: "bfchar-4byte", input: "\xFA\xFB\xFC\xFD", expect: string(rune(0x1F600))},
		// bfrange (string-dest in this cmap)
		{name: "bfrange-05", input: "\x05", expect: "D"},
		{name: "bfrange-06", input: "\x06", expect: "E"},
		{name: "bfrange-07", input: "\x07", expect: "F"},
		// fallbacks
		{name: "fallback-ascii", input: "\x7E", expect: "~"},
		{
			name:  "fallback-invalid-0xFF",
			input: "\xFF",
			check: func(got string) {
				// Exactly one valid rune (not RuneError)
				assert.Equal(t, 1, utf8.RuneCountInString(got))
				r := []rune(got)[0]
				assert.NotEqual(t, utf8.RuneError, r)
			},
		},
		// byte not in any codespace, then ASCII '0' inside a codespace but unmapped
		{name: "no-codespace-then-unmapped", input: "\x20\x30", expect: " 0"},
		// incomplete multi-byte at end → preserved 1 rune
		{
			name:  "incomplete-2byte",
			input: "\x02",
			check: func(got string) {
				assert.NotEmpty(t, got)
				assert.Equal(t, 1, utf8.RuneCountInString(got))
			},
		},
		{
			name:  "mixed-sequence",
			input: "\x01\x7E\x05\xFF", // A, ~, D, preserved from 0xFF
			check: func(got string) {
				assert.True(t, len(got) >= 4)
				assert.Equal(t, "A~D", got[:3])
				rs := []rune(got)
				last := rs[len(rs)-1]
				assert.NotEqual(t, utf8.RuneError, last)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Decode(tt.input)
			if tt.check != nil {
				tt.check(got)
				return
			}
			assert.Equal(t, tt.expect, got)
		})
	}
}

func TestDecode_MissingCodespace(t *testing.T) {
	// Mapping exists for 0x01 -> "A", but 0x01 is NOT in codespace.
	// hence, decode should NOT return "A".
	m := &cmap{
		space: [4][]byteRange{
			{cs("\x7E", "\x7E")}, // only '~' allowed; 0x01 excluded
		},
		bfchar: []bfchar{
			{orig: "\x01", repl: "\x00\x41"}, // would map to "A"
		},
	}
	got := m.Decode("\x01")
	assert.False(t, got == "A", "mapping should fail if codespace is missing")
}

func TestNopEncoderDecode(t *testing.T) {
	e := &nopEncoder{}
	assert.Equal(t, "raw\x00bytes", e.Decode("raw\x00bytes"))
}

func TestByteEncoderDecode(t *testing.T) {
	var tbl [256]rune
	for i := 0; i < 256; i++ {
		tbl[i] = rune(i) // identity map
	}
	tbl['H'] = 'H'
	tbl['i'] = 'i'
	tbl['!'] = '!'
	e := &byteEncoder{table: &tbl}

	got := e.Decode("Hi!")
	assert.Equal(t, "Hi!", got)
}

// PDF Name
func nameVal(n string) Value {
	return Value{data: name(n)}
}

// PDF Integer
func intVal(i int64) Value {
	return Value{data: i}
}

// PDF Dictionary
func dictVal(kvs map[string]Value) Value {
	d := dict{}
	for k, v := range kvs {
		d[name(k)] = v.data
	}
	return Value{data: d}
}

// PDF Array
func arrVal(vals ...Value) Value {
	a := make(array, len(vals))
	for i, v := range vals {
		a[i] = v.data
	}
	return Value{data: a}
}

// PDF Null
func nullVal() Value {
	return Value{} // zero Value is null
}

func TestGetEncoder(t *testing.T) {
	//WinAnsiEncoding → should decode 0x41 → "A"
	f1 := Font{V: dictVal(map[string]Value{"Encoding": nameVal("WinAnsiEncoding")})}
	enc1 := f1.getEncoder()
	got := enc1.Decode(string([]byte{0x41}))
	assert.Equal(t, "A", got)

	//MacRomanEncoding → should decode 0x41 → "A"
	f2 := Font{V: dictVal(map[string]Value{"Encoding": nameVal("MacRomanEncoding")})}
	enc2 := f2.getEncoder()
	got = enc2.Decode(string([]byte{0x41}))
	assert.Equal(t, "A", got)

	// Identity-H with no ToUnicode → falls back to pdfDocEncoding, ASCII passthrough
	f3 := Font{V: dictVal(map[string]Value{
		"Encoding":  nameVal("Identity-H"),
		"ToUnicode": nullVal(),
	})}
	enc3 := f3.getEncoder()
	got = enc3.Decode("ABC")
	assert.Equal(t, "ABC", got)

	// Dict with Differences → should produce a dictEncoder that alters mappings
	diff := arrVal(intVal(65), nameVal("A")) // map code 65 -> /A
	f4 := Font{V: dictVal(map[string]Value{
		"Encoding": dictVal(map[string]Value{"Differences": diff}),
	})}
	enc4 := f4.getEncoder()
	got = enc4.Decode(string([]byte{65}))
	require.NotEmpty(t, got)

	// Null encoding → falls back to charmapEncoding/pdfDocEncoding
	f5 := Font{V: dictVal(map[string]Value{
		"Encoding":  nullVal(),
		"ToUnicode": nullVal(),
	})}
	enc5 := f5.getEncoder()
	got = enc5.Decode("Test")
	assert.Equal(t, "Test", got)

	//Unknown encoding name → nopEncoder (passthrough)
	f6 := Font{V: dictVal(map[string]Value{"Encoding": nameVal("FooBar")})}
	enc6 := f6.getEncoder()
	got = enc6.Decode("XYZ")
	assert.Equal(t, "XYZ", got)
}

func TestPage(t *testing.T) {
	ra, size, done := openReaderAt(t, "pdf_test.pdf")
	defer done()
	r, err := NewReader(ra, size)
	if err != nil {
		t.Skipf("Skipping: cannot parse PDF sample: %v", err)
	}
	// Request first page (1-based)
	p := r.Page(1)
	if p.V.IsNull() {
		t.Skip("Skipping: could not locate page 1 (PDF may have unusual structure)")
	}
	// Basic assertion: page Type must be "Page"
	assert.Equal(t, "Page", p.V.Key("Type").Name(), "expected returned object's /Type to be Page")

	// Out-of-range page should return zero Page
	total := r.NumPage()
	p2 := r.Page(total + 1)
	assert.True(t, p2.V.IsNull(), "expected out-of-range page to be zero/empty Page")
}

func TestNumPage(t *testing.T) {
	//Trailer.Root.Pages.Count present
	r1 := &Reader{
		trailer: dict{
			name("Root"): dict{
				name("Pages"): dict{
					name("Count"): int64(5),
				},
			},
		},
	}
	assert.Equal(t, 5, r1.NumPage(), "should return the Count value when present")
	//Missing keys should default to 0
	r2 := &Reader{trailer: dict{}}
	assert.Equal(t, 0, r2.NumPage(), "should return 0 if Root/Pages/Count missing")
}

var minimalTwoPagePDF = []byte(`%PDF-1.4
1 0 obj
<< /Type /Catalog /Pages 2 0 R >>
endobj
2 0 obj
<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 >>
endobj
3 0 obj
<< /Type /Page /Parent 2 0 R /MediaBox [0 0 300 300]
   /Contents 5 0 R /Resources << /Font << /F1 6 0 R >> >> >>
endobj
4 0 obj
<< /Type /Page /Parent 2 0 R /MediaBox [0 0 300 300]
   /Contents 7 0 R /Resources << /Font << /F1 6 0 R >> >> >>
endobj
5 0 obj
<< /Length 44 >>
stream
BT /F1 12 Tf 72 200 Td (Hello ) Tj ET
endstream
endobj
7 0 obj
<< /Length 43 >>
stream
BT /F1 12 Tf 72 200 Td (World) Tj ET
endstream
endobj
6 0 obj
<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>
endobj
xref
0 8
0000000000 65535 f 
0000000009 00000 n 
0000000058 00000 n 
0000000121 00000 n 
0000000250 00000 n 
0000000379 00000 n 
0000000552 00000 n 
0000000466 00000 n 
trailer<< /Root 1 0 R /Size 8 >>
startxref
622
%%EOF
`)

// pad10 formats n as a 10-digit zero-padded string (xref format).
func pad10(n int) string {
	s := strconv.Itoa(n)
	if len(s) >= 10 {
		return s
	}
	return strings.Repeat("0", 10-len(s)) + s
}

func TestFontWidths(t *testing.T) {
	br := bytes.NewReader(minimalTwoPagePDF)
	r, err := NewReader(br, int64(len(minimalTwoPagePDF)))
	require.NoError(t, err, "NewReader should succeed")

	p := r.Page(1)
	require.False(t, p.V.IsNull(), "page 1 should exist")

	fontNames := p.Fonts()
	require.NotEmpty(t, fontNames, "expected at least one font name")

	f := p.Font(fontNames[0])
	widths := f.Widths()

	assert.Len(t, widths, 0, "expected no widths for font in minimalTwoPagePDF")
}

// asserts MarkedContent keys decoded text by MCID, and ignores text shown
// inside a non-MCID BMC span (e.g. a bare OC layer toggle).
func TestPage_MarkedContent(t *testing.T) {
	stream := "BT /F1 12 Tf\n" +
		"/P <</MCID 0>> BDC (Hello, ) Tj (world.) Tj EMC\n" +
		"/OC /MC0 BMC (hidden) Tj EMC\n" +
		"/Span <</MCID 1>> BDC [(Foo) -250 (Bar)] TJ (Baz) ' EMC\n" +
		"ET\n"

	var sb strings.Builder
	sb.WriteString("%PDF-1.4\n")

	offsets := map[int]int{}
	offsets[1] = sb.Len()
	sb.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	offsets[2] = sb.Len()
	sb.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	offsets[3] = sb.Len()
	sb.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] " +
		"/Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>\nendobj\n")
	offsets[4] = sb.Len()
	sb.WriteString("4 0 obj\n<< /Length ")
	sb.WriteString(strconv.Itoa(len(stream)))
	sb.WriteString(" >>\nstream\n")
	sb.WriteString(stream)
	if !strings.HasSuffix(stream, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("endstream\nendobj\n")
	offsets[5] = sb.Len()
	sb.WriteString("5 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")

	xrefStart := sb.Len()
	sb.WriteString("xref\n0 6\n")
	sb.WriteString(pad10(0) + " 65535 f \n")
	for i := 1; i <= 5; i++ {
		sb.WriteString(pad10(offsets[i]) + " 00000 n \n")
	}
	sb.WriteString("trailer\n<< /Root 1 0 R /Size 6 >>\n")
	sb.WriteString("startxref\n")
	sb.WriteString(strconv.Itoa(xrefStart))
	sb.WriteString("\n%%EOF\n")

	pdf := []byte(sb.String())
	br := bytes.NewReader(pdf)
	r, err := NewReader(br, int64(len(pdf)))
	require.NoError(t, err)

	page := r.Page(1)
	require.False(t, page.V.IsNull())

	mcids, err := page.MarkedContent()
	require.NoError(t, err)
	require.Len(t, mcids, 2, "should only key the two MCID-tagged regions")

	require.NotNil(t, mcids[0])
	assert.Equal(t, "Hello, world.", mcids[0].Text)

	require.NotNil(t, mcids[1])
	assert.Equal(t, "FooBarBaz", mcids[1].Text)
}

// asserts a page with no content stream returns an empty map, not an error.
func TestPage_MarkedContent_NoContent(t *testing.T) {
	var empty Page
	mcids, err := empty.MarkedContent()
	require.NoError(t, err)
	assert.Empty(t, mcids)
}

func TestPageContent(t *testing.T) {
	// content stream crafted to exercise: cm, re, q/Q, BT/ET, Tf, Tm, Tj, T*, Tc, TD, Td, TJ, TL, Tr, Ts, Tw, Tz
	// Note: numbers must appear *before* the operators that consume them (e.g. "10 -5 TD" not "TD 10 -5")
	stream := strings.Join([]string{

		"q 1 0 0 1 0 0 cm", // cm + q (save)
		"0 0 10 5 re",      // rectangle
		"Q",                // restore
		"BT /F1 12 Tf 1 0 0 1 100 200 Tm (A) Tj T* (B) Tj ET",                // simple Tj + T*
		"BT /F1 12 Tf 2 Tc 10 -5 TD 0 0 Td (C) Tj ET",                        // Tc, TD (10,-5), Td (0,0)
		"BT /F1 12 Tf [(D) -50 (E)] TJ ET",                                   // TJ array with number advance
		"BT /F1 12 Tf 3 TL 1 Tr 4 Ts 5 Tw 120 Tz 1 0 0 1 50 50 Tm (G) Tj ET", // TL,Tr,Ts,Tw,Tz,Tm
	}, "\n") + "\n"

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")

	offsets := map[int]int{}

	// obj 1: Catalog
	offsets[1] = b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	// obj 2: Pages
	offsets[2] = b.Len()
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")

	// obj 3: Page referencing contents 4 and font 5
	offsets[3] = b.Len()
	b.WriteString("3 0 obj\n")
	b.WriteString("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 300 300] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>\n")
	b.WriteString("endobj\n")

	// obj 4: contents stream
	offsets[4] = b.Len()
	b.WriteString("4 0 obj\n")
	b.WriteString("<< /Length ")
	b.WriteString(strconv.Itoa(len(stream)))
	b.WriteString(" >>\n")
	b.WriteString("stream\n")
	b.WriteString(stream)
	if !strings.HasSuffix(stream, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("endstream\nendobj\n")

	// obj 5: font
	offsets[5] = b.Len()
	b.WriteString("5 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")

	// xref + trailer
	xrefStart := b.Len()
	maxObj := 5
	b.WriteString("xref\n")
	b.WriteString("0 ")
	b.WriteString(strconv.Itoa(maxObj + 1))
	b.WriteString("\n")
	// obj 0
	b.WriteString(pad10(0))
	b.WriteString(" 65535 f \n")
	for i := 1; i <= maxObj; i++ {
		b.WriteString(pad10(offsets[i]))
		b.WriteString(" 00000 n \n")
	}
	b.WriteString("trailer\n")
	b.WriteString("<< /Root 1 0 R /Size ")
	b.WriteString(strconv.Itoa(maxObj + 1))
	b.WriteString(" >>\n")
	b.WriteString("startxref\n")
	b.WriteString(strconv.Itoa(xrefStart))
	b.WriteString("\n%%EOF\n")

	pdf := []byte(b.String())

	br := bytes.NewReader(pdf)
	r, err := NewReader(br, int64(len(pdf)))
	require.NoError(t, err, "NewReader should succeed")

	page := r.Page(1)
	require.False(t, page.V.IsNull(), "page must exist")

	c := page.Content()
	assert.NotEmpty(t, c.Text, "expected extracted text runs")
	assert.NotEmpty(t, c.Rect, "expected rectangle(s) from re operator")

	var sb strings.Builder
	for _, tx := range c.Text {
		sb.WriteString(tx.S)
	}
	combined := sb.String()

	assert.Contains(t, combined, "A", "expected 'A' from Tj")
	assert.Contains(t, combined, "B", "expected 'B' from T* Tj")
	assert.Contains(t, combined, "C", "expected 'C' from Td/Tj")
	assert.True(t, strings.Contains(combined, "D") || strings.Contains(combined, "E"), "expected 'D' or 'E' from TJ")
	assert.Contains(t, combined, "G", "expected 'G' from final Tm/Tj")

	// Verify rectangle coordinates (0,0)-(10,5) exists.
	found := false
	for _, rct := range c.Rect {
		if rct.Min.X == 0 && rct.Min.Y == 0 && rct.Max.X == 10 && rct.Max.Y == 5 {
			found = true
			break
		}
	}
	assert.True(t, found, "expected rectangle 0,0-10,5 present")
}

