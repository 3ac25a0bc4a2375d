package enrolment

import (
	"strings"
	"testing"
)

func TestCodeMapsAreTotalOverKnownValues(t *testing.T) {
	for role := range personRoleNames {
		name, err := PersonRoleName(role)
		if err != nil {
			t.Fatalf("PersonRoleName(%d): %v", role, err)
		}
		back, err := ParsePersonRole(name)
		if err != nil || back != role {
			t.Fatalf("ParsePersonRole(%q) = %d, %v", name, back, err)
		}
	}
	for status := range statusNames {
		name, err := StatusName(status)
		if err != nil {
			t.Fatalf("StatusName(%d): %v", status, err)
		}
		back, err := ParseStatus(name)
		if err != nil || back != status {
			t.Fatalf("ParseStatus(%q) = %d, %v", name, back, err)
		}
	}
}

func TestCodeErrorsNameTheOffendingValue(t *testing.T) {
	if _, err := StatusName(EnrolmentStatus(42)); err == nil || !strings.Contains(err.Error(), "42") {
		t.Fatalf("StatusName: %v", err)
	}
	if _, err := ParsePersonRole("Owner"); err == nil || !strings.Contains(err.Error(), `"Owner"`) {
		t.Fatalf("ParsePersonRole: %v", err)
	}
	if _, err := RelationshipName(RelationshipType(-1)); err == nil || !strings.Contains(err.Error(), "-1") {
		t.Fatalf("RelationshipName: %v", err)
	}
	if _, err := ParseRelationship("Franchise"); err == nil || !strings.Contains(err.Error(), `"Franchise"`) {
		t.Fatalf("ParseRelationship: %v", err)
	}
}
