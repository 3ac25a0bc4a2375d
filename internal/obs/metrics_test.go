package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := []struct {
		input    string
		expected string
	}{
		{"", "/"},
		{"/", "/"},
		{"/metrics", "/metrics"},
		{"/v1/organisations", "/v1/organisations"},
		{"/v1/organisations/abc", "/v1/organisations/:id"},
		{"/v1/organisations/abc/invitations", "/v1/organisations/:id/invitations"},
		{"/v1/organisations/abc/connections/def/enrolments", "/v1/organisations/:id/connections/:id/enrolments"},
		{"/v1/organisations/abc/connections/def/person-role", "/v1/organisations/:id/connections/:id/person-role"},
		{"/v1/organisations/abc/enrolments/def/nomination/accept", "/v1/organisations/:id/enrolments/:id/nomination/accept"},
		{"/v1/organisations/abc/connections/def/enrolments?service=Packaging", "/v1/organisations/:id/connections/:id/enrolments"},
		{"/v1/users/activate", "/v1/users/activate"},
	}
	for _, tc := range cases {
		if got := CanonicalPath(tc.input); got != tc.expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", tc.input, got, tc.expected)
		}
	}
}
