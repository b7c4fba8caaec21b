package errors

import (
	"strings"
	"testing"

	"github.com/matzehuels/aipgraph/pkg/nodeid"
)

func TestValidateNodeID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"fresh id", nodeid.New(), false},
		{"path", nodeid.Join(nodeid.New(), nodeid.New()), false},

		{"empty", "", true},
		{"short", "abc", true},
		{"wrong alphabet", strings.Repeat("+", nodeid.SegmentLen), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNodeID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateNodeID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !Is(err, ErrCodeInvalidInput) {
				t.Errorf("ValidateNodeID(%q) code = %v", tt.input, GetCode(err))
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "Archives", false},
		{"with spaces", "Fonds Marine 1914", false},
		{"with punctuation", "DUA-10y", false},
		{"apostrophe", "Archives d'Outre-mer", true},
		{"accented", "Série A", false},

		{"empty", "", true},
		{"blank", "   ", true},
		{"too long", strings.Repeat("a", 300), true},
		{"control char", "foo\x01bar", true},
		{"leading dash", "-foo", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateFieldName(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"title", false},
		{"created_at", false},
		{"", true},
		{"$where", true},
		{"a.b", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := ValidateFieldName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFieldName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
