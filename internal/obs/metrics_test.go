package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                            "/",
		"/metrics":                    "/metrics",
		"/v1/auth/login":              "/v1/auth/login",
		"/v1/auth/login?next=%2F":     "/v1/auth/login",
		"/v1/users/01H2XKQ8":          "/v1/users/:id",
		"/v1/users/01H2XKQ8/groups":   "/v1/users/:id/groups",
		"/v1/users/a/groups/b/extras": "/v1/users/a/groups/b/extras",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
