// Copyright © 2026, Taggedpdf Project Contributors. All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package tagtree

import (
	"bufio"
	"io"
	"strconv"

	"github.com/taggedpdf/tagtree/logger"
)

// name is a PDF name object, such as /Type, with the leading slash removed.
type name string

// keyword is a bare PDF token that is neither a name, a number, nor a
// string: content-stream operators (Tf, TJ, BDC, ...), structural markers
// (obj, endobj, stream, xref, trailer, R, ...), and delimiters ("<<", "[", ...).
type keyword string

// dict is a PDF dictionary: name keys to arbitrary parsed values.
type dict map[name]interface{}

// array is a PDF array: an ordered, heterogeneous sequence of parsed values.
type array []interface{}

// objptr identifies an indirect object by number and generation. Lookup in
// Reader.resolve compares both against the xref entry: a reference whose
// generation differs from the entry's resolves to null.
type objptr struct {
	id  uint32
	gen uint16
}

// objdef is the result of parsing "id gen obj ... endobj".
type objdef struct {
	ptr objptr
	obj interface{}
}

// stream is a parsed stream object: its header dictionary plus the absolute
// byte offset (within the buffer's coordinate space) at which the raw,
// still-encoded stream data begins.
type stream struct {
	hdr    dict
	ptr    objptr
	offset int64
}

// object is any value that can come out of the tokenizer: nil, bool, int64,
// float64, string, name, keyword, dict, array, stream, objptr, or objdef.
type object = interface{}

const bufferLookahead = 8

// buffer is a forward-only tokenizer over a PDF byte stream. It is used both
// to parse PDF object syntax (readObject) and, via Interpret, to walk
// PostScript-like operator streams (content streams and CMap programs).
type buffer struct {
	r      *bufio.Reader
	offset int64 // absolute position of the next unread byte
	pos    int64 // mirrors offset; kept for parity with diagnostic logging

	// allowEOF, allowObjptr and allowStream are set by some callers but not
	// consulted by the tokenizer: readToken always returns nil at EOF,
	// "n g R" is always read as a reference, and a dictionary followed by
	// "stream" is always read as a stream.
	allowEOF    bool
	allowObjptr bool
	allowStream bool

	hasTok bool
	tok    object
}

func newBuffer(r io.Reader, offset int64) *buffer {
	return &buffer{r: bufio.NewReaderSize(r, 4096), offset: offset, pos: offset}
}

func (b *buffer) readByte() (byte, error) {
	c, err := b.r.ReadByte()
	if err == nil {
		b.offset++
		b.pos++
	}
	return c, err
}

func (b *buffer) unreadByte() {
	if err := b.r.UnreadByte(); err == nil {
		b.offset--
		b.pos--
	}
}

func (b *buffer) peekByte() (byte, bool) {
	p, err := b.r.Peek(1)
	if err != nil || len(p) == 0 {
		return 0, false
	}
	return p[0], true
}

// seekForward discards bytes until the buffer's absolute position reaches n.
// The underlying reader need not support random access: object streams and
// Interpret both drive buffer over a one-shot, already-decompressed reader.
func (b *buffer) seekForward(n int64) {
	if n <= b.offset {
		return
	}
	io.CopyN(io.Discard, b.r, n-b.offset)
	b.offset = n
	b.pos = n
}

// unreadToken pushes tok back; the next readToken call returns it again.
func (b *buffer) unreadToken(tok object) {
	b.tok = tok
	b.hasTok = true
}

func isPDFWhitespace(c byte) bool {
	switch c {
	case 0x00, 0x09, 0x0A, 0x0C, 0x0D, 0x20:
		return true
	}
	return false
}

func isDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (b *buffer) skipWhitespaceAndComments() {
	for {
		c, err := b.readByte()
		if err != nil {
			return
		}
		if c == '%' { // comment runs to end of line
			for {
				c, err := b.readByte()
				if err != nil || c == '\n' || c == '\r' {
					break
				}
			}
			continue
		}
		if !isPDFWhitespace(c) {
			b.unreadByte()
			return
		}
	}
}

// readToken returns the next lexical token: int64, float64, string (literal
// or hex, decoded to raw bytes), name, bool, nil (PDF null), or keyword.
func (b *buffer) readToken() object {
	if b.hasTok {
		tok := b.tok
		b.tok = nil
		b.hasTok = false
		return tok
	}

	b.skipWhitespaceAndComments()
	c, err := b.readByte()
	if err != nil {
		return nil
	}

	switch {
	case c == '/':
		return b.readName()
	case c == '(':
		return b.readLiteralString()
	case c == '<':
		if p, ok := b.peekByte(); ok && p == '<' {
			b.readByte()
			return keyword("<<")
		}
		return b.readHexString()
	case c == '>':
		if p, ok := b.peekByte(); ok && p == '>' {
			b.readByte()
			return keyword(">>")
		}
		return keyword(">")
	case c == '[', c == ']', c == '{', c == '}':
		return keyword(string(c))
	case c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9'):
		b.unreadByte()
		return b.readNumber()
	case c == ')':
		logger.Error("unexpected ) outside literal string")
		return keyword(")")
	default:
		b.unreadByte()
		return b.readKeyword()
	}
}

func (b *buffer) readName() name {
	var out []byte
	for {
		c, err := b.readByte()
		if err != nil || isPDFWhitespace(c) || isDelim(c) {
			if err == nil {
				b.unreadByte()
			}
			break
		}
		if c == '#' {
			h1, ok1 := b.readByte()
			h2, ok2 := b.readByte()
			if ok1 == nil && ok2 == nil {
				if v, err := strconv.ParseUint(string([]byte{h1, h2}), 16, 8); err == nil {
					out = append(out, byte(v))
					continue
				}
			}
			out = append(out, '#')
			continue
		}
		out = append(out, c)
	}
	return name(out)
}

func (b *buffer) readKeyword() object {
	var out []byte
	for {
		c, err := b.readByte()
		if err != nil || isPDFWhitespace(c) || isDelim(c) {
			if err == nil {
				b.unreadByte()
			}
			break
		}
		out = append(out, c)
	}
	s := string(out)
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	return keyword(s)
}

func (b *buffer) readNumber() object {
	var out []byte
	isReal := false
	for {
		c, err := b.readByte()
		if err != nil {
			break
		}
		if c >= '0' && c <= '9' {
			out = append(out, c)
			continue
		}
		if c == '.' {
			isReal = true
			out = append(out, c)
			continue
		}
		if (c == '+' || c == '-') && len(out) == 0 {
			out = append(out, c)
			continue
		}
		b.unreadByte()
		break
	}
	s := string(out)
	if !isReal {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		logger.Error("malformed number token: " + s)
		return int64(0)
	}
	return v
}

func (b *buffer) readLiteralString() string {
	var out []byte
	depth := 1
	for {
		c, err := b.readByte()
		if err != nil {
			logger.Error("unterminated literal string")
			break
		}
		switch c {
		case '\\':
			e, err := b.readByte()
			if err != nil {
				break
			}
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '(', ')', '\\':
				out = append(out, e)
			case '\n':
				// line continuation, emit nothing
			case '\r':
				if p, ok := b.peekByte(); ok && p == '\n' {
					b.readByte()
				}
			default:
				if e >= '0' && e <= '7' {
					digits := []byte{e}
					for i := 0; i < 2; i++ {
						p, ok := b.peekByte()
						if !ok || p < '0' || p > '7' {
							break
						}
						b.readByte()
						digits = append(digits, p)
					}
					if v, err := strconv.ParseUint(string(digits), 8, 16); err == nil {
						out = append(out, byte(v))
					}
				} else {
					out = append(out, e)
				}
			}
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return string(out)
			}
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

func (b *buffer) readHexString() string {
	var digits []byte
	for {
		c, err := b.readByte()
		if err != nil {
			logger.Error("unterminated hex string")
			break
		}
		if c == '>' {
			break
		}
		if isPDFWhitespace(c) {
			continue
		}
		digits = append(digits, c)
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, 0, len(digits)/2)
	for i := 0; i+1 < len(digits)+1 && i+1 < len(digits)+2 && i < len(digits); i += 2 {
		if i+1 >= len(digits) {
			break
		}
		v, err := strconv.ParseUint(string(digits[i:i+2]), 16, 8)
		if err != nil {
			continue
		}
		out = append(out, byte(v))
	}
	return string(out)
}

// readObject parses one PDF object, including the "id gen obj ... endobj"
// and "id gen R" shorthand forms that readToken alone cannot disambiguate
// without lookahead.
func (b *buffer) readObject() object {
	tok := b.readToken()
	num, ok := tok.(int64)
	if !ok {
		return b.finishToken(tok)
	}

	tok2 := b.readToken()
	gen, ok := tok2.(int64)
	if !ok {
		b.unreadToken(tok2)
		return num
	}

	tok3 := b.readToken()
	switch tok3 {
	case keyword("R"):
		return objptr{uint32(num), uint16(gen)}
	case keyword("obj"):
		ptr := objptr{uint32(num), uint16(gen)}
		obj := b.readObject()
		b.skipPastEndobj()
		return objdef{ptr, obj}
	}
	b.unreadToken(tok3)
	b.unreadToken(tok2)
	return num
}

func (b *buffer) finishToken(tok object) object {
	if kw, ok := tok.(keyword); ok {
		switch kw {
		case "<<":
			return b.readDictOrStream()
		case "[":
			return b.readArray()
		}
	}
	return tok
}

func (b *buffer) readDictOrStream() object {
	d := dict{}
	for {
		tok := b.readToken()
		if tok == nil || tok == keyword(">>") {
			break
		}
		key, ok := tok.(name)
		if !ok {
			logger.Error("malformed dictionary: expected /Name key")
			continue
		}
		d[key] = b.readObject()
	}

	tok := b.readToken()
	if tok != keyword("stream") {
		b.unreadToken(tok)
		return d
	}
	return b.readStream(d)
}

func (b *buffer) readStream(d dict) stream {
	// Per ISO 32000 the "stream" keyword is followed by CRLF or LF (not a
	// bare CR) before the raw data begins.
	c, err := b.readByte()
	if err == nil && c == '\r' {
		if p, ok := b.peekByte(); ok && p == '\n' {
			b.readByte()
		}
	} else if err == nil && c != '\n' {
		b.unreadByte()
	}

	start := b.offset
	if length, ok := d[name("Length")].(int64); ok && length >= 0 {
		b.seekForward(start + length)
	} else {
		b.scanToEndstream()
	}

	tok := b.readToken()
	if tok != keyword("endstream") {
		logger.Error("stream not terminated by endstream at expected offset; resyncing")
		b.scanToEndstream()
		b.readToken()
	}
	return stream{hdr: d, offset: start}
}

// scanToEndstream advances the buffer past the literal token "endstream" and
// pushes that token back, so the next readToken returns it; used when /Length
// is an indirect reference we cannot resolve mid-parse.
func (b *buffer) scanToEndstream() {
	const marker = "endstream"
	match := 0
	for {
		c, err := b.readByte()
		if err != nil {
			return
		}
		if c == marker[match] {
			match++
			if match == len(marker) {
				b.unreadToken(keyword(marker))
				return
			}
		} else {
			match = 0
			if c == marker[0] {
				match = 1
			}
		}
	}
}

func (b *buffer) skipPastEndobj() {
	for {
		tok := b.readToken()
		if tok == nil || tok == keyword("endobj") {
			return
		}
	}
}

func (b *buffer) readArray() array {
	var a array
	for {
		tok := b.readToken()
		if tok == nil || tok == keyword("]") {
			break
		}
		b.unreadToken(tok)
		a = append(a, b.readObject())
	}
	return a
}

// Stack is an operand stack used by Interpret: operators consume whatever
// values were pushed since the previous operator.
type Stack struct {
	v []Value
}

// Push pushes v onto the stack.
func (s *Stack) Push(v Value) { s.v = append(s.v, v) }

// Pop removes and returns the top of the stack, or the zero Value if empty.
func (s *Stack) Pop() Value {
	if len(s.v) == 0 {
		return Value{}
	}
	n := len(s.v) - 1
	v := s.v[n]
	s.v = s.v[:n]
	return v
}

// Len returns the number of values currently on the stack.
func (s *Stack) Len() int { return len(s.v) }

// newDict returns a placeholder dictionary Value, used by PostScript-style
// CMap interpretation (findresource/begincmap/...) where the dict's contents
// are never inspected, only its presence on the operand stack.
func newDict() Value {
	return Value{nil, objptr{}, dict{}}
}

// Interpret walks strm (expected to be a stream, either a content stream or
// a CMap's embedded PostScript program) as a sequence of operands and
// operators: non-keyword tokens are pushed onto a Stack, and every bare
// keyword token invokes do with the accumulated stack and the operator name.
func Interpret(strm Value, do func(stk *Stack, op string)) {
	if strm.Kind() != Stream {
		return
	}
	rd := strm.Reader()
	defer rd.Close()

	b := newBuffer(rd, 0)
	b.allowEOF = true
	var stk Stack
	for {
		tok := b.readToken()
		if tok == nil {
			return
		}
		kw, ok := tok.(keyword)
		if !ok {
			stk.Push(Value{strm.r, objptr{}, tok})
			continue
		}
		switch kw {
		case "<<":
			stk.Push(Value{strm.r, objptr{}, b.readDictOrStream()})
		case "[":
			stk.Push(Value{strm.r, objptr{}, b.readArray()})
		case "BI":
			skipInlineImage(b)
		default:
			do(&stk, string(kw))
		}
	}
}

// skipInlineImage discards a BI ... ID ... EI inline-image block. Inline
// images never carry structural metadata, so Interpret's callers never need
// their contents; we only need to not choke on the raw binary data between
// ID and EI.
func skipInlineImage(b *buffer) {
	for {
		tok := b.readToken()
		if tok == nil || tok == keyword("EI") {
			return
		}
	}
}
