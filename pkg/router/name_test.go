package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"router-200", true},
		{"r1", true},
		{"tenant_a.r1", true},
		{"", false},
		{"-router", false},
		{".router", false},
		{"router/200", false},
		{"router 200", false},
		{"router-2000000", false}, // kbr- + 14 chars > 15
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateName(tc.name, "kbr-")
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidName)
			}
		})
	}
}
