package interactions

import (
	"testing"
)

func TestParseUnknown(t *testing.T) {
	interaction := Parse([]byte("lorem ipsum"))
	if interaction.Kind != KindUnknown {
		t.Fatalf("got kind %s, want unknown", interaction.Kind)
	}
	if len(interaction.Parameters) != 0 {
		t.Fatalf("got %d parameters, want none", len(interaction.Parameters))
	}
}

func TestParseTransaction(t *testing.T) {
	interaction := Parse([]byte("transaction (addr: Address) {}"))
	if interaction.Kind != KindTransaction {
		t.Fatalf("got kind %s, want transaction", interaction.Kind)
	}
	if len(interaction.Parameters) != 1 {
		t.Fatalf("got %d parameters, want 1", len(interaction.Parameters))
	}
	param := interaction.Parameters[0]
	if param.Identifier != "addr" {
		t.Fatalf("got identifier %q, want addr", param.Identifier)
	}
	if param.Type.Kind != TypeAddress {
		t.Fatalf("got type kind %s, want Address", param.Type.Kind)
	}
	if param.Type.Optional {
		t.Fatalf("expected a required parameter")
	}
}

func TestParseScript(t *testing.T) {
	interaction := Parse([]byte("pub fun main(amount: UFix64): UFix64 { return amount }"))
	if interaction.Kind != KindScript {
		t.Fatalf("got kind %s, want script", interaction.Kind)
	}
	if len(interaction.Parameters) != 1 {
		t.Fatalf("got %d parameters, want 1", len(interaction.Parameters))
	}
	if interaction.Parameters[0].Type.Kind != TypeFixedPointNumber {
		t.Fatalf("got type kind %s, want FixedPointNumber", interaction.Parameters[0].Type.Kind)
	}
}

func TestParseOptionalNestedArray(t *testing.T) {
	interaction := Parse([]byte("transaction (addr: [Address?]?) {}"))
	param := interaction.Parameters[0]
	if param.Type.Kind != TypeArray {
		t.Fatalf("got type kind %s, want Array", param.Type.Kind)
	}
	if !param.Type.Optional {
		t.Fatalf("expected an optional parameter")
	}
	if param.Type.Array.Element.Kind != TypeAddress {
		t.Fatalf("got element kind %s, want Address", param.Type.Array.Element.Kind)
	}
	if !param.Type.Array.Element.Optional {
		t.Fatalf("expected an optional array element")
	}
	if param.Type.Array.Size != -1 {
		t.Fatalf("got size %d, want -1", param.Type.Array.Size)
	}
}

func TestParseConstantSizedArray(t *testing.T) {
	interaction := Parse([]byte("transaction (addresses: [Address; 3]) {}"))
	param := interaction.Parameters[0]
	if param.Type.Kind != TypeArray {
		t.Fatalf("got type kind %s, want Array", param.Type.Kind)
	}
	if param.Type.Array.Size != 3 {
		t.Fatalf("got size %d, want 3", param.Type.Array.Size)
	}
}

func TestParseDictionary(t *testing.T) {
	interaction := Parse([]byte("transaction (lookup: {String: Address}) {}"))
	param := interaction.Parameters[0]
	if param.Type.Kind != TypeDictionary {
		t.Fatalf("got type kind %s, want Dictionary", param.Type.Kind)
	}
	if param.Type.Dictionary.Key.Kind != TypeTextual {
		t.Fatalf("got key kind %s, want Textual", param.Type.Dictionary.Key.Kind)
	}
	if param.Type.Dictionary.Value.Kind != TypeAddress {
		t.Fatalf("got value kind %s, want Address", param.Type.Dictionary.Value.Kind)
	}
}

func TestParseAuthorizerCount(t *testing.T) {
	interaction := Parse([]byte("transaction { prepare(acct: AuthAccount) {} }"))
	if interaction.AuthorizerCount != 1 {
		t.Fatalf("got authorizer count %d, want 1", interaction.AuthorizerCount)
	}
}
