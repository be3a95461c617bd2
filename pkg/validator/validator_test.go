package validator

import (
	"errors"
	"testing"
)

type testPayload struct {
	Kind     string   `json:"kind" validate:"required,oneof=a b"`
	Latitude *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
}

func TestValidateStructSuccess(t *testing.T) {
	lat := 12.5
	if err := ValidateStruct(testPayload{Kind: "a", Latitude: &lat}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailuresUseJSONNames(t *testing.T) {
	lat := 91.0
	err := ValidateStruct(testPayload{Kind: "c", Latitude: &lat})

	var vErrs ValidationErrors
	if !errors.As(err, &vErrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(vErrs) != 2 {
		t.Fatalf("expected 2 validation errors, got %v", vErrs)
	}
	if vErrs[0].Field != "kind" || vErrs[0].Tag != "oneof" || vErrs[0].Param != "a b" {
		t.Fatalf("unexpected first failure %+v", vErrs[0])
	}
	if vErrs[1].Field != "latitude" || vErrs[1].Tag != "lte" {
		t.Fatalf("unexpected second failure %+v", vErrs[1])
	}

	if err := ValidateStruct(testPayload{Kind: "a"}); err == nil {
		t.Fatal("missing pointer field should fail required")
	}
	if got := (ValidationErrors{}).Error(); got != "validation failed" {
		t.Fatalf("empty Error()=%q", got)
	}
}
