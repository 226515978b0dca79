// Copyright 2026 The e2factory Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"

	"github.com/emlix/e2factory/internal/e2err"
)

// Call is one parsed top-level builder invocation: the builder name and its
// captured argument (always either a single string literal, as in
// `env "relative/path"`, or a dict literal, as in `e2project { ... }`).
type Call struct {
	Builder string
	Arg     Value
	Line    int
}

// parser turns a token stream into exactly one Call, per §4.1's "each file
// may call exactly one top-level declarative builder" rule.
type parser struct {
	file string
	lex  *lexer
	tok  token
}

func newParser(file, src string) (*parser, error) {
	p := &parser{file: file, lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, p.wrap(err)
	}
	return p, nil
}

func (p *parser) wrap(err error) error {
	return e2err.At(e2err.New(e2err.Configuration, err.Error()), e2err.Location{File: p.file, Line: p.tok.line})
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) expect(k tokenKind, what string) error {
	if p.tok.kind != k {
		return fmt.Errorf("line %d: expected %s", p.tok.line, what)
	}
	return p.advance()
}

// ParseFile parses the entire content of a config file and returns its
// single top-level call. A second call in the same file, or trailing
// garbage after the first, is an error.
func ParseFile(file, src string) (*Call, error) {
	p, err := newParser(file, src)
	if err != nil {
		return nil, err
	}
	if p.tok.kind == tokEOF {
		return nil, e2err.At(e2err.New(e2err.Configuration, "empty configuration file"), e2err.Location{File: file})
	}
	call, err := p.parseCall()
	if err != nil {
		return nil, p.wrap(err)
	}
	if p.tok.kind != tokEOF {
		return nil, p.wrap(fmt.Errorf("line %d: a config file may declare exactly one top-level builder call", p.tok.line))
	}
	return call, nil
}

func (p *parser) parseCall() (*Call, error) {
	if p.tok.kind != tokIdent {
		return nil, fmt.Errorf("line %d: expected a builder name", p.tok.line)
	}
	name := p.tok.text
	line := p.tok.line
	if err := p.advance(); err != nil {
		return nil, err
	}
	var arg Value
	var err error
	switch p.tok.kind {
	case tokLBrace:
		arg, err = p.parseDict()
	case tokString:
		arg = Value{Kind: KindString, Str: p.tok.text}
		err = p.advance()
	case tokLParen:
		// e2rc() / extensions() style zero-arg call.
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, fmt.Errorf("line %d: only a dict or string literal argument is supported", p.tok.line)
		}
		arg = Value{Kind: KindDict, Dict: NewDict()}
		err = p.advance()
	default:
		return nil, fmt.Errorf("line %d: builder %q requires a {...} or string argument", p.tok.line, name)
	}
	if err != nil {
		return nil, err
	}
	return &Call{Builder: name, Arg: arg, Line: line}, nil
}

func (p *parser) parseValue() (Value, error) {
	switch p.tok.kind {
	case tokString:
		v := Value{Kind: KindString, Str: p.tok.text}
		return v, p.advance()
	case tokNumber:
		v := Value{Kind: KindNumber, Num: p.tok.num}
		return v, p.advance()
	case tokTrue:
		return Value{Kind: KindBool, Bool: true}, p.advance()
	case tokFalse:
		return Value{Kind: KindBool, Bool: false}, p.advance()
	case tokLBrace:
		return p.parseDict()
	case tokLBrack:
		return p.parseList()
	default:
		return Value{}, fmt.Errorf("line %d: expected a value", p.tok.line)
	}
}

func (p *parser) parseDict() (Value, error) {
	if err := p.expect(tokLBrace, "'{'"); err != nil {
		return Value{}, err
	}
	d := NewDict()
	for p.tok.kind != tokRBrace {
		if p.tok.kind != tokIdent && p.tok.kind != tokString {
			return Value{}, fmt.Errorf("line %d: expected a key name", p.tok.line)
		}
		key := p.tok.text
		if err := p.advance(); err != nil {
			return Value{}, err
		}
		if err := p.expect(tokEquals, "'='"); err != nil {
			return Value{}, err
		}
		val, err := p.parseValue()
		if err != nil {
			return Value{}, err
		}
		d.Set(key, val)
		if p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return Value{}, err
			}
			continue
		}
		break
	}
	if err := p.expect(tokRBrace, "'}'"); err != nil {
		return Value{}, err
	}
	return Value{Kind: KindDict, Dict: d}, nil
}

func (p *parser) parseList() (Value, error) {
	if err := p.expect(tokLBrack, "'['"); err != nil {
		return Value{}, err
	}
	var items []Value
	for p.tok.kind != tokRBrack {
		v, err := p.parseValue()
		if err != nil {
			return Value{}, err
		}
		items = append(items, v)
		if p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return Value{}, err
			}
			continue
		}
		break
	}
	if err := p.expect(tokRBrack, "']'"); err != nil {
		return Value{}, err
	}
	return Value{Kind: KindList, List: items}, nil
}
