package validate_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/adamwoolhether/resumable/internal/validate"
)

type sample struct {
	ChunkSize int64   `name:"chunk_size" validate:"gt=0"`
	Factor    float64 `validate:"gte=1"`
}

func TestStruct(t *testing.T) {
	testCases := []struct {
		name      string
		val       sample
		expFields []string
	}{
		{name: "valid", val: sample{ChunkSize: 1, Factor: 2}},
		{name: "bad chunk", val: sample{ChunkSize: 0, Factor: 2}, expFields: []string{"chunk_size"}},
		{name: "both bad", val: sample{ChunkSize: -1, Factor: 0.5}, expFields: []string{"chunk_size", "Factor"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validate.Struct(tc.val)
			if len(tc.expFields) == 0 {
				if err != nil {
					t.Fatalf("expected nil, got %v", err)
				}
				return
			}

			var fe validate.FieldErrors
			if !errors.As(err, &fe) {
				t.Fatalf("expected FieldErrors, got %T: %v", err, err)
			}
			if len(fe) != len(tc.expFields) {
				t.Fatalf("expected %d field errors, got %d: %v", len(tc.expFields), len(fe), fe)
			}
			for i, f := range tc.expFields {
				if fe[i].Field != f {
					t.Errorf("field %d: expected %q, got %q", i, f, fe[i].Field)
				}
				if !strings.Contains(fe[i].Err, f) {
					t.Errorf("field %d: expected translated message to mention %q, got %q", i, f, fe[i].Err)
				}
			}
		})
	}
}
