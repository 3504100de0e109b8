package httpx

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bindTarget struct {
	Name string `json:"name" validate:"required"`
}

func TestBind(t *testing.T) {
	v := validator.New()
	cases := []struct {
		name   string
		body   string
		errMsg string
	}{
		{"valid", `{"name":"ops"}`, ""},
		{"malformed", `{"name":`, "malformed request body"},
		{"unknown field", `{"name":"ops","role":"x"}`, "malformed request body"},
		{"missing field", `{}`, "Name required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var dst bindTarget
			err := Bind(httptest.NewRequest("POST", "/", strings.NewReader(tc.body)), v, &dst)
			if tc.errMsg == "" {
				require.NoError(t, err)
				assert.Equal(t, "ops", dst.Name)
				return
			}
			require.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}
