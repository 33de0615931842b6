package ir

import (
	"fmt"
	"strings"
)

// TypeKind identifies the shape of a Type.
type TypeKind uint8

const (
	KindNone TypeKind = iota
	KindUnreachable
	KindI32
	KindI64
	KindF32
	KindF64
	KindRef
)

// Type is a WebAssembly value type. Types have value semantics and are
// comparable with ==; reference types compare by heap type identity plus
// nullability.
type Type struct {
	heap     *HeapType
	kind     TypeKind
	nullable bool
}

// The non-reference types.
var (
	None        = Type{kind: KindNone}
	Unreachable = Type{kind: KindUnreachable}
	I32         = Type{kind: KindI32}
	I64         = Type{kind: KindI64}
	F32         = Type{kind: KindF32}
	F64         = Type{kind: KindF64}
)

// RefType returns the reference type (ref null? h).
func RefType(h *HeapType, nullable bool) Type {
	return Type{kind: KindRef, heap: h, nullable: nullable}
}

// Kind returns the type's kind.
func (t Type) Kind() TypeKind { return t.kind }

// IsRef reports whether t is a reference type.
func (t Type) IsRef() bool { return t.kind == KindRef }

// IsConcrete reports whether t is an actual value type, that is, neither none
// nor unreachable.
func (t Type) IsConcrete() bool { return t.kind != KindNone && t.kind != KindUnreachable }

// IsNullable reports whether t is a nullable reference type.
func (t Type) IsNullable() bool { return t.kind == KindRef && t.nullable }

// Heap returns the heap type of a reference type, or nil for non-references.
func (t Type) Heap() *HeapType { return t.heap }

// WithNullable returns t with its nullability replaced. t must be a reference.
func (t Type) WithNullable(nullable bool) Type {
	return Type{kind: KindRef, heap: t.heap, nullable: nullable}
}

// WithHeap returns t with its heap type replaced. t must be a reference.
func (t Type) WithHeap(h *HeapType) Type {
	return Type{kind: KindRef, heap: h, nullable: t.nullable}
}

func (t Type) String() string {
	switch t.kind {
	case KindNone:
		return "none"
	case KindUnreachable:
		return "unreachable"
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindRef:
		if t.nullable {
			return fmt.Sprintf("(ref null %s)", t.heap)
		}
		return fmt.Sprintf("(ref %s)", t.heap)
	}
	return "unknown"
}

// HeapKind identifies the shape of a heap type.
type HeapKind uint8

const (
	HeapStruct HeapKind = iota
	HeapArray
	HeapAny
	HeapEq
	HeapNone // bottom of the any hierarchy
	HeapFunc
	HeapExtern
)

// HeapType is a GC heap type. Heap types have identity semantics: two struct
// types with identical fields are distinct types unless they are the same
// *HeapType. Declared subtyping is expressed through Super.
type HeapType struct {
	// Super is the declared supertype, or nil.
	Super *HeapType
	// Desc is the heap type whose instances describe instances of this type,
	// or nil if the type has no custom descriptor.
	Desc *HeapType
	// Describes is the inverse of Desc.
	Describes *HeapType
	// Name is used for diagnostics and printing only.
	Name string
	// Fields holds the ordered fields of a struct heap type.
	Fields []Field
	// Element is the element of an array heap type.
	Element Field
	Kind    HeapKind
}

// The abstract heap types.
var (
	AnyHeap    = &HeapType{Kind: HeapAny, Name: "any"}
	EqHeap     = &HeapType{Kind: HeapEq, Name: "eq"}
	NoneHeap   = &HeapType{Kind: HeapNone, Name: "none"}
	FuncHeap   = &HeapType{Kind: HeapFunc, Name: "func"}
	ExternHeap = &HeapType{Kind: HeapExtern, Name: "extern"}
)

// StructHeapType returns a fresh struct heap type with the given fields.
func StructHeapType(name string, fields ...Field) *HeapType {
	return &HeapType{Kind: HeapStruct, Name: name, Fields: fields}
}

// ArrayHeapType returns a fresh array heap type with the given element.
func ArrayHeapType(name string, element Field) *HeapType {
	return &HeapType{Kind: HeapArray, Name: name, Element: element}
}

// IsStruct reports whether h is a struct heap type.
func (h *HeapType) IsStruct() bool { return h.Kind == HeapStruct }

// IsArray reports whether h is an array heap type.
func (h *HeapType) IsArray() bool { return h.Kind == HeapArray }

// IsBottom reports whether h is the bottom of its hierarchy.
func (h *HeapType) IsBottom() bool { return h.Kind == HeapNone }

// Bottom returns the bottom heap type of h's hierarchy. Struct and array
// types live in the any hierarchy.
func (h *HeapType) Bottom() *HeapType {
	switch h.Kind {
	case HeapFunc:
		return FuncHeap
	case HeapExtern:
		return ExternHeap
	}
	return NoneHeap
}

func (h *HeapType) String() string {
	if h.Name != "" {
		if h.Kind == HeapStruct || h.Kind == HeapArray {
			return "$" + h.Name
		}
		return h.Name
	}
	return fmt.Sprintf("$type@%p", h)
}

// inAnyHierarchy reports whether h belongs to the any hierarchy.
func (h *HeapType) inAnyHierarchy() bool {
	switch h.Kind {
	case HeapFunc, HeapExtern:
		return false
	}
	return true
}

// HeapIsSubType reports whether a is a (reflexive) subtype of b, considering
// abstract types, bottoms, and declared supertype chains.
func HeapIsSubType(a, b *HeapType) bool {
	if a == b {
		return true
	}
	switch b.Kind {
	case HeapAny:
		return a.inAnyHierarchy()
	case HeapEq:
		return a.Kind == HeapEq || a.Kind == HeapStruct || a.Kind == HeapArray ||
			a.Kind == HeapNone
	}
	if a.Kind == HeapNone {
		return b.inAnyHierarchy()
	}
	for super := a.Super; super != nil; super = super.Super {
		if super == b {
			return true
		}
	}
	return false
}

// IsSubType reports whether a is a (reflexive) subtype of b. Unreachable is
// the bottom value type and is a subtype of everything.
func IsSubType(a, b Type) bool {
	if a == b {
		return true
	}
	if a.kind == KindUnreachable {
		return true
	}
	if a.IsRef() && b.IsRef() {
		if a.nullable && !b.nullable {
			return false
		}
		return HeapIsSubType(a.heap, b.heap)
	}
	return false
}

// HeapLeastUpperBound returns the least common supertype of a and b.
func HeapLeastUpperBound(a, b *HeapType) *HeapType {
	if HeapIsSubType(a, b) {
		return b
	}
	if HeapIsSubType(b, a) {
		return a
	}
	supers := map[*HeapType]bool{}
	for h := a; h != nil; h = h.Super {
		supers[h] = true
	}
	for h := b; h != nil; h = h.Super {
		if supers[h] {
			return h
		}
	}
	if a.inAnyHierarchy() && b.inAnyHierarchy() {
		if (a.Kind == HeapStruct || a.Kind == HeapArray || a.Kind == HeapEq) &&
			(b.Kind == HeapStruct || b.Kind == HeapArray || b.Kind == HeapEq) {
			return EqHeap
		}
		return AnyHeap
	}
	return AnyHeap
}

// LeastUpperBound joins two types for refinalization. Unreachable is the
// identity; incompatible joins collapse to none.
func LeastUpperBound(a, b Type) Type {
	if a == b {
		return a
	}
	if a.kind == KindUnreachable {
		return b
	}
	if b.kind == KindUnreachable {
		return a
	}
	if a.IsRef() && b.IsRef() {
		return RefType(HeapLeastUpperBound(a.heap, b.heap), a.nullable || b.nullable)
	}
	return None
}

// Pack identifies a packed storage representation.
type Pack uint8

const (
	PackNone Pack = iota
	PackI8
	PackI16
)

// Bits returns the width of the packed representation.
func (p Pack) Bits() int {
	switch p {
	case PackI8:
		return 8
	case PackI16:
		return 16
	}
	return 0
}

// Field describes a struct field or array element: a storage type, which is
// either a value type or a packed integer, plus mutability.
type Field struct {
	Type    Type
	Packed  Pack
	Mutable bool
}

// FieldOf returns an immutable field of the given type.
func FieldOf(t Type) Field { return Field{Type: t} }

// MutField returns a mutable field of the given type.
func MutField(t Type) Field { return Field{Type: t, Mutable: true} }

// PackedField returns a mutable packed integer field.
func PackedField(p Pack) Field { return Field{Type: I32, Packed: p, Mutable: true} }

// IsPacked reports whether the field has a packed storage type.
func (f Field) IsPacked() bool { return f.Packed != PackNone }

// Unpacked returns the value type used to read and store the field in a
// local: i32 for packed fields, the field type otherwise.
func (f Field) Unpacked() Type {
	if f.IsPacked() {
		return I32
	}
	return f.Type
}

// CanHandleAsLocal reports whether a field's contents can be stored in a
// local of its unpacked type.
func CanHandleAsLocal(f Field) bool {
	return f.Unpacked().IsConcrete()
}

func typeListString(types []Type) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = t.String()
	}
	return strings.Join(parts, " ")
}
