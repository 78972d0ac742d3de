package scaleCodec

import (
	"fmt"
	"strconv"
	"strings"
)

type typeKind int

const (
	kindBool typeKind = iota
	kindUint
	kindInt
	kindCompact
	kindBytes
	kindStr
	kindVec
	kindOption
	kindTuple
	kindArray
	kindAccountId
	kindFixedHash
)

// typeNode is a parsed codec type expression such as "Vec<(AccountId32, Compact<u128>)>".
type typeNode struct {
	kind  typeKind
	bits  int // integer width, or byte length for fixed hashes
	inner *typeNode
	elems []*typeNode
	size  int // array length
}

var aliases = map[string]string{
	"Balance":     "u128",
	"BlockNumber": "u32",
	"AssetId":     "u128",
	"Moment":      "u64",
	"Index":       "u32",
	"Weight":      "u64",
	"String":      "Str",
	"Text":        "Str",
	"AccountId":   "AccountId32",
	"Address":     "AccountId32",
	"Hash":        "H256",
}

type typeParser struct {
	src string
	pos int
}

func parseTypeExpr(expr string) (*typeNode, error) {
	p := &typeParser{src: expr}
	node, err := p.parseType()
	if err != nil {
		return nil, fmt.Errorf("invalid type '%s': %w", expr, err)
	}
	p.skipSpaces()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("invalid type '%s': unexpected '%s'", expr, p.src[p.pos:])
	}
	return node, nil
}

func (p *typeParser) skipSpaces() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *typeParser) peek() byte {
	p.skipSpaces()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *typeParser) expect(c byte) error {
	if p.peek() != c {
		return fmt.Errorf("expected '%c' at offset %d", c, p.pos)
	}
	p.pos++
	return nil
}

func (p *typeParser) ident() string {
	p.skipSpaces()
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '<' || c == '>' || c == ',' || c == '(' || c == ')' || c == '[' || c == ']' || c == ';' || c == ' ' {
			break
		}
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *typeParser) parseType() (*typeNode, error) {
	switch p.peek() {
	case '(':
		return p.parseTuple()
	case '[':
		return p.parseArray()
	case 0:
		return nil, fmt.Errorf("unexpected end of type")
	}

	name := p.ident()
	if name == "" {
		return nil, fmt.Errorf("expected type name at offset %d", p.pos)
	}
	// path-qualified names like T::AccountId or sp_core::H256
	if idx := strings.LastIndex(name, "::"); idx >= 0 {
		name = name[idx+2:]
	}

	var args []*typeNode
	if p.peek() == '<' {
		p.pos++
		if name == "BoundedVec" || name == "WeakBoundedVec" {
			return p.parseBoundedVec()
		}
		for {
			arg, err := p.parseType()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek() == ',' {
				p.pos++
				continue
			}
			if err := p.expect('>'); err != nil {
				return nil, err
			}
			break
		}
	}
	return resolveNamed(name, args)
}

// parseBoundedVec reads "T, Bound>" where the bound is any type-level expression
// that does not affect the encoding.
func (p *typeParser) parseBoundedVec() (*typeNode, error) {
	inner, err := p.parseType()
	if err != nil {
		return nil, err
	}
	if p.peek() == ',' {
		p.pos++
		depth := 0
		for p.pos < len(p.src) {
			c := p.src[p.pos]
			if c == '<' {
				depth++
			} else if c == '>' {
				if depth == 0 {
					break
				}
				depth--
			}
			p.pos++
		}
	}
	if err := p.expect('>'); err != nil {
		return nil, err
	}
	return resolveNamed("Vec", []*typeNode{inner})
}

func (p *typeParser) parseTuple() (*typeNode, error) {
	p.pos++
	node := &typeNode{kind: kindTuple}
	if p.peek() == ')' {
		p.pos++
		return node, nil
	}
	for {
		elem, err := p.parseType()
		if err != nil {
			return nil, err
		}
		node.elems = append(node.elems, elem)
		if p.peek() == ',' {
			p.pos++
			continue
		}
		if err := p.expect(')'); err != nil {
			return nil, err
		}
		return node, nil
	}
}

func (p *typeParser) parseArray() (*typeNode, error) {
	p.pos++
	inner, err := p.parseType()
	if err != nil {
		return nil, err
	}
	if err := p.expect(';'); err != nil {
		return nil, err
	}
	sizeStr := p.ident()
	size, err := strconv.Atoi(sizeStr)
	if err != nil || size < 0 {
		return nil, fmt.Errorf("invalid array length '%s'", sizeStr)
	}
	if err := p.expect(']'); err != nil {
		return nil, err
	}
	return &typeNode{kind: kindArray, inner: inner, size: size}, nil
}

func resolveNamed(name string, args []*typeNode) (*typeNode, error) {
	if alias, ok := aliases[name]; ok && len(args) == 0 {
		return resolveNamed(alias, nil)
	}

	oneArg := func() (*typeNode, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%s expects 1 type argument, got %d", name, len(args))
		}
		return args[0], nil
	}

	switch name {
	case "bool":
		return &typeNode{kind: kindBool}, nil
	case "u8", "u16", "u32", "u64", "u128", "u256":
		bits, _ := strconv.Atoi(name[1:])
		return &typeNode{kind: kindUint, bits: bits}, nil
	case "i8", "i16", "i32", "i64", "i128", "i256":
		bits, _ := strconv.Atoi(name[1:])
		return &typeNode{kind: kindInt, bits: bits}, nil
	case "Str", "str":
		return &typeNode{kind: kindStr}, nil
	case "Bytes":
		return &typeNode{kind: kindBytes}, nil
	case "AccountId32":
		return &typeNode{kind: kindAccountId, bits: 32}, nil
	case "H160":
		return &typeNode{kind: kindFixedHash, bits: 20}, nil
	case "H256":
		return &typeNode{kind: kindFixedHash, bits: 32}, nil
	case "H512":
		return &typeNode{kind: kindFixedHash, bits: 64}, nil
	case "Compact":
		inner, err := oneArg()
		if err != nil {
			return nil, err
		}
		if inner.kind != kindUint {
			return nil, fmt.Errorf("Compact only supports unsigned integers")
		}
		return &typeNode{kind: kindCompact, inner: inner}, nil
	case "Vec":
		inner, err := oneArg()
		if err != nil {
			return nil, err
		}
		if inner.kind == kindUint && inner.bits == 8 {
			return &typeNode{kind: kindBytes}, nil
		}
		return &typeNode{kind: kindVec, inner: inner}, nil
	case "Option":
		inner, err := oneArg()
		if err != nil {
			return nil, err
		}
		return &typeNode{kind: kindOption, inner: inner}, nil
	case "Box":
		return oneArg()
	}
	return nil, fmt.Errorf("unsupported type '%s'", name)
}
