// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/AleutianAI/flowstate/services/flowstate/flow"
)

// Expressions is the default Parser. It understands a deliberately small
// expression language:
//
//	~q          request without response or error
//	~s          has a response
//	~e          has an error
//	~i          intercepted
//	~m METHOD   request method, case-insensitive
//	~c CODE     response status code
//	~u REGEX    URL matches the RE2 regex
//	WORD        shorthand for ~u WORD
//	"WORD"      always a URL regex, even when it looks like an operator
//	!x  x & y  x | y  (x)
//
// Juxtaposition means &, and & binds tighter than |. Fields beyond the
// lifecycle markers are read through flow.Describer.
var Expressions Parser = ParserFunc(Parse)

type matcher func(flow.Flow) bool

// Parse compiles text with the default expression language.
func Parse(text string) (Predicate, error) {
	toks, err := tokenize(text)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("%w: empty expression", ErrParse)
	}

	p := &exprParser{toks: toks}
	m, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, fmt.Errorf("%w: unexpected %q", ErrParse, p.peek().text)
	}
	return New(text, m), nil
}

// token is one lexeme. Quoted tokens are literals and never act as
// operators or punctuation.
type token struct {
	text   string
	quoted bool
}

// is reports whether t is the unquoted operator or punctuation op.
func (t token) is(op string) bool { return !t.quoted && t.text == op }

func tokenize(text string) ([]token, error) {
	var toks []token
	rs := []rune(text)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(' || r == ')' || r == '!' || r == '&' || r == '|':
			toks = append(toks, token{text: string(r)})
			i++
		case r == '"' || r == '\'':
			end := i + 1
			for end < len(rs) && rs[end] != r {
				end++
			}
			if end >= len(rs) {
				return nil, fmt.Errorf("%w: unterminated quote", ErrParse)
			}
			toks = append(toks, token{text: string(rs[i+1 : end]), quoted: true})
			i = end + 1
		default:
			start := i
			for i < len(rs) && !unicode.IsSpace(rs[i]) && !strings.ContainsRune("()&|", rs[i]) {
				i++
			}
			toks = append(toks, token{text: string(rs[start:i])})
		}
	}
	return toks, nil
}

type exprParser struct {
	toks []token
	pos  int
}

func (p *exprParser) done() bool  { return p.pos >= len(p.toks) }
func (p *exprParser) peek() token { return p.toks[p.pos] }

func (p *exprParser) next() (token, error) {
	if p.done() {
		return token{}, fmt.Errorf("%w: unexpected end of expression", ErrParse)
	}
	t := p.toks[p.pos]
	p.pos++
	return t, nil
}

func (p *exprParser) parseOr() (matcher, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for !p.done() && p.peek().is("|") {
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l, r := left, right
		left = func(f flow.Flow) bool { return l(f) || r(f) }
	}
	return left, nil
}

func (p *exprParser) parseAnd() (matcher, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for !p.done() {
		tok := p.peek()
		if tok.is("|") || tok.is(")") {
			break
		}
		if tok.is("&") {
			p.pos++
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l, r := left, right
		left = func(f flow.Flow) bool { return l(f) && r(f) }
	}
	return left, nil
}

func (p *exprParser) parseUnary() (matcher, error) {
	tok, err := p.next()
	if err != nil {
		return nil, err
	}
	if tok.quoted {
		return urlMatcher(tok.text)
	}
	switch tok.text {
	case "!":
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return func(f flow.Flow) bool { return !inner(f) }, nil
	case "(":
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing, err := p.next(); err != nil || !closing.is(")") {
			return nil, fmt.Errorf("%w: missing )", ErrParse)
		}
		return inner, nil
	case ")", "&", "|":
		return nil, fmt.Errorf("%w: unexpected %q", ErrParse, tok.text)
	}
	return p.parseAtom(tok.text)
}

func (p *exprParser) parseAtom(tok string) (matcher, error) {
	switch tok {
	case "~q":
		return func(f flow.Flow) bool { return !f.HasResponse() && !f.HasError() }, nil
	case "~s":
		return func(f flow.Flow) bool { return f.HasResponse() }, nil
	case "~e":
		return func(f flow.Flow) bool { return f.HasError() }, nil
	case "~i":
		return describe(func(d flow.Describer) bool { return d.Intercepted() }), nil
	case "~m":
		arg, err := p.next()
		if err != nil {
			return nil, err
		}
		return describe(func(d flow.Describer) bool { return strings.EqualFold(d.Method(), arg.text) }), nil
	case "~c":
		arg, err := p.next()
		if err != nil {
			return nil, err
		}
		code, err := strconv.Atoi(arg.text)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid status code %q", ErrParse, arg.text)
		}
		return describe(func(d flow.Describer) bool { return d.StatusCode() == code }), nil
	case "~u":
		arg, err := p.next()
		if err != nil {
			return nil, err
		}
		return urlMatcher(arg.text)
	}
	if strings.HasPrefix(tok, "~") {
		return nil, fmt.Errorf("%w: unknown operator %q", ErrParse, tok)
	}
	return urlMatcher(tok)
}

func urlMatcher(expr string) (matcher, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return describe(func(d flow.Describer) bool { return re.MatchString(d.URL()) }), nil
}

func describe(fn func(flow.Describer) bool) matcher {
	return func(f flow.Flow) bool {
		d, ok := f.(flow.Describer)
		return ok && fn(d)
	}
}
