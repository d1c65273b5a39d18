package model_test

import (
	"errors"
	"testing"

	"github.com/raysh454/scanflow/internal/model"
)

func TestNormalizeTargetURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"example.com", "https://example.com"},
		{"  http://Example.com/path?q=1#frag ", "http://example.com/path?q=1"},
		{"https://example.com:8443/", "https://example.com:8443/"},
		{"bücher.example", "https://xn--bcher-kva.example"},
		{"http://localhost:3000", "http://localhost:3000"},
		{"http://[::1]:8080/x", "http://[::1]:8080/x"},
		{"[2001:db8::1]", "https://[2001:db8::1]"},
		{"http://127.0.0.1/", "http://127.0.0.1/"},
	}
	for _, tc := range cases {
		got, err := model.NormalizeTargetURL(tc.in)
		if err != nil {
			t.Errorf("%q: unexpected error %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%q: expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestNormalizeTargetURL_Rejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "   ", "ftp://example.com", "https://", "https://intranet", "http://exa mple.com"} {
		if _, err := model.NormalizeTargetURL(in); !errors.Is(err, model.ErrValidation) {
			t.Errorf("%q: expected validation error, got %v", in, err)
		}
	}
}
