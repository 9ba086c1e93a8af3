package attrschema

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/nsavage/zigbee-netmgr/pkg/zigbee"
)

func TestValidatorNoSchemaRegisteredAllowsAnyValue(t *testing.T) {
	v := NewValidator()
	if err := v.Validate(0x0008, 0x0000, []byte{0xFF}); err != nil {
		t.Fatalf("unregistered attribute should validate unconditionally, got %v", err)
	}
}

func TestValidatorRejectsOutOfRangeLevel(t *testing.T) {
	v := NewValidator()
	schema := []byte(`{"type": "integer", "minimum": 0, "maximum": 254}`)
	if err := v.Register(0x0008, 0x0000, schema); err != nil {
		t.Fatalf("Register: %v", err)
	}

	value := make([]byte, 1)
	value[0] = 255
	if err := v.Validate(0x0008, 0x0000, value); err == nil {
		t.Fatal("expected validation error for level 255 against maximum 254")
	}
}

func TestValidatorAcceptsInRangeLevel(t *testing.T) {
	v := NewValidator()
	schema := []byte(`{"type": "integer", "minimum": 0, "maximum": 254}`)
	if err := v.Register(0x0008, 0x0000, schema); err != nil {
		t.Fatalf("Register: %v", err)
	}

	value := make([]byte, 2)
	binary.LittleEndian.PutUint16(value, 128)
	if err := v.Validate(0x0008, 0x0000, value[:1]); err != nil {
		t.Fatalf("expected level 128 to validate, got %v", err)
	}
}

func TestValidatorReturnsWrappedValidationError(t *testing.T) {
	v := NewValidator()
	schema := []byte(`{"type": "integer", "maximum": 10}`)
	if err := v.Register(0x0006, 0x0000, schema); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := v.Validate(0x0006, 0x0000, []byte{200})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, zigbee.ErrValidation) {
		t.Fatalf("expected error to wrap zigbee.ErrValidation, got %v", err)
	}
}
