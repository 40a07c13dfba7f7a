package model

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// PayloadAddress extracts a required address field from a decoded event
// payload.
func PayloadAddress(data map[string]interface{}, key string) (string, error) {
	val, ok := data[key]
	if !ok || val == nil {
		return "", fmt.Errorf("model: missing %q field in event payload", key)
	}
	addr, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("model: unexpected type %T for %q field in event payload", val, key)
	}
	return addr, nil
}

// PayloadOptionalAddress extracts an address field that may be nil or absent
// from a decoded event payload, e.g. the source of a minting withdrawal.
func PayloadOptionalAddress(data map[string]interface{}, key string) (string, bool) {
	val, ok := data[key]
	if !ok || val == nil {
		return "", false
	}
	addr, ok := val.(string)
	if !ok {
		return "", false
	}
	return addr, true
}

// PayloadPublicKey extracts the hex-encoded public key from an account key
// event payload. Older networks emit the key bytes directly under the
// publicKey field, newer ones nest them inside a publicKey struct.
func PayloadPublicKey(data map[string]interface{}) (string, error) {
	val, ok := data["publicKey"]
	if !ok || val == nil {
		return "", fmt.Errorf("model: missing publicKey field in event payload")
	}
	if nested, ok := val.(map[string]interface{}); ok {
		val = nested["publicKey"]
	}
	raw, ok := val.([]interface{})
	if !ok {
		return "", fmt.Errorf("model: unexpected type %T for publicKey field in event payload", val)
	}
	key := make([]byte, len(raw))
	for i, elem := range raw {
		b, err := toByte(elem)
		if err != nil {
			return "", fmt.Errorf("model: invalid publicKey byte in event payload: %s", err)
		}
		key[i] = b
	}
	return hex.EncodeToString(key), nil
}

func toByte(val interface{}) (byte, error) {
	switch v := val.(type) {
	case uint8:
		return v, nil
	case uint64:
		return byte(v), nil
	case int:
		return byte(v), nil
	case float64:
		return byte(v), nil
	case json.Number:
		n, err := v.Int64()
		return byte(n), err
	}
	return 0, fmt.Errorf("unexpected type %T", val)
}
