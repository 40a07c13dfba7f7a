// Package interactions extracts metadata from Cadence transaction and script
// sources.
package interactions

import (
	"github.com/onflow/cadence/runtime/ast"
	"github.com/onflow/cadence/runtime/parser"
)

// Kind indicates what sort of interaction a piece of Cadence source defines.
type Kind int

// Kind values.
const (
	KindUnknown Kind = iota
	KindScript
	KindTransaction
)

func (k Kind) String() string {
	switch k {
	case KindScript:
		return "script"
	case KindTransaction:
		return "transaction"
	}
	return "unknown"
}

// TypeKind groups Cadence types into the categories relevant for rendering
// and binding argument values.
type TypeKind int

// TypeKind values.
const (
	TypeUnknown TypeKind = iota
	TypeAddress
	TypeArray
	TypeBoolean
	TypeDictionary
	TypeFixedPointNumber
	TypeIntegerNumber
	TypePath
	TypeTextual
)

func (k TypeKind) String() string {
	switch k {
	case TypeAddress:
		return "Address"
	case TypeArray:
		return "Array"
	case TypeBoolean:
		return "Boolean"
	case TypeDictionary:
		return "Dictionary"
	case TypeFixedPointNumber:
		return "FixedPointNumber"
	case TypeIntegerNumber:
		return "IntegerNumber"
	case TypePath:
		return "Path"
	case TypeTextual:
		return "Textual"
	}
	return "Unknown"
}

// ArrayType describes the element type of an array parameter. Size is -1 for
// variable-sized arrays.
type ArrayType struct {
	Element *Type `json:"element"`
	Size    int64 `json:"size"`
}

// DictionaryType describes the key and value types of a dictionary parameter.
type DictionaryType struct {
	Key   *Type `json:"key"`
	Value *Type `json:"value"`
}

// Type describes the declared Cadence type of a parameter.
type Type struct {
	Kind       TypeKind        `json:"kind"`
	Raw        string          `json:"rawType"`
	Optional   bool            `json:"optional"`
	Array      *ArrayType      `json:"array,omitempty"`
	Dictionary *DictionaryType `json:"dictionary,omitempty"`
}

// Parameter describes a single declared parameter of a transaction or script.
type Parameter struct {
	Identifier string `json:"identifier"`
	Type       *Type  `json:"type"`
}

// Interaction describes a parsed piece of Cadence source.
type Interaction struct {
	Kind            Kind         `json:"kind"`
	Parameters      []*Parameter `json:"parameters"`
	AuthorizerCount int          `json:"authorizerCount"`
	Error           string       `json:"error,omitempty"`
}

// Parse extracts the interaction metadata from the given Cadence source.
// Sources that fail to parse yield an unknown interaction carrying the parse
// error, never a Go error, since malformed scripts can legitimately appear
// on-chain inputs.
func Parse(source []byte) *Interaction {
	program, err := parser.ParseProgram(nil, source, parser.Config{})
	if err != nil {
		return &Interaction{
			Kind:  KindUnknown,
			Error: err.Error(),
		}
	}
	if txn := transactionDeclaration(program.Declarations()); txn != nil {
		authorizers := 0
		if txn.Prepare != nil {
			authorizers = len(txn.Prepare.FunctionDeclaration.ParameterList.Parameters)
		}
		return &Interaction{
			Kind:            KindTransaction,
			Parameters:      parameters(txn.ParameterList),
			AuthorizerCount: authorizers,
		}
	}
	if main := mainFunctionDeclaration(program.Declarations()); main != nil {
		return &Interaction{
			Kind:       KindScript,
			Parameters: parameters(main.ParameterList),
		}
	}
	return &Interaction{
		Kind: KindUnknown,
	}
}

func convertType(typ ast.Type) *Type {
	raw := typ.String()
	switch cast := typ.(type) {
	case *ast.OptionalType:
		inner := convertType(cast.Type)
		inner.Optional = true
		return inner
	case *ast.VariableSizedType:
		return &Type{
			Kind: TypeArray,
			Raw:  raw,
			Array: &ArrayType{
				Element: convertType(cast.Type),
				Size:    -1,
			},
		}
	case *ast.ConstantSizedType:
		return &Type{
			Kind: TypeArray,
			Raw:  raw,
			Array: &ArrayType{
				Element: convertType(cast.Type),
				Size:    cast.Size.Value.Int64(),
			},
		}
	case *ast.DictionaryType:
		return &Type{
			Kind: TypeDictionary,
			Raw:  raw,
			Dictionary: &DictionaryType{
				Key:   convertType(cast.KeyType),
				Value: convertType(cast.ValueType),
			},
		}
	}
	return &Type{
		Kind: simpleTypeKind(raw),
		Raw:  raw,
	}
}

func mainFunctionDeclaration(declarations []ast.Declaration) *ast.FunctionDeclaration {
	for _, declaration := range declarations {
		if declaration.ElementType() != ast.ElementTypeFunctionDeclaration {
			continue
		}
		fn := declaration.(*ast.FunctionDeclaration)
		if fn.Identifier.Identifier == "main" {
			return fn
		}
	}
	return nil
}

func parameters(list *ast.ParameterList) []*Parameter {
	if list == nil {
		return nil
	}
	params := []*Parameter{}
	for _, param := range list.Parameters {
		params = append(params, &Parameter{
			Identifier: param.Identifier.Identifier,
			Type:       convertType(param.TypeAnnotation.Type),
		})
	}
	return params
}

func simpleTypeKind(name string) TypeKind {
	switch name {
	case "Address":
		return TypeAddress
	case "Bool":
		return TypeBoolean
	case "String", "Character", "Bytes":
		return TypeTextual
	case "Path", "CapabilityPath", "StoragePath", "PublicPath", "PrivatePath":
		return TypePath
	case "Fix64", "UFix64", "FixedPoint", "SignedFixedPoint":
		return TypeFixedPointNumber
	case "Number", "SignedNumber", "Integer", "SignedInteger",
		"Int", "Int8", "Int16", "Int32", "Int64", "Int128", "Int256",
		"UInt", "UInt8", "UInt16", "UInt32", "UInt64", "UInt128", "UInt256",
		"Word8", "Word16", "Word32", "Word64":
		return TypeIntegerNumber
	}
	return TypeUnknown
}

func transactionDeclaration(declarations []ast.Declaration) *ast.TransactionDeclaration {
	for _, declaration := range declarations {
		if declaration.ElementType() == ast.ElementTypeTransactionDeclaration {
			return declaration.(*ast.TransactionDeclaration)
		}
	}
	return nil
}
