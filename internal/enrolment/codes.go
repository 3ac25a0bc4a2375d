package enrolment

import "fmt"

// Wire-level names and internal numeric codes are mapped here and nowhere
// else. Every function is total over known values and returns an error
// naming the offending input otherwise; an unmapped value coming out of the
// store means corrupt data and must not be swallowed.

var personRoleNames = map[PersonRole]string{
	PersonRoleNotSet:   "NotSet",
	PersonRoleAdmin:    "Admin",
	PersonRoleEmployee: "Employee",
	PersonRoleMember:   "Member",
}

var statusNames = map[EnrolmentStatus]string{
	StatusNotSet:    "NotSet",
	StatusEnrolled:  "Enrolled",
	StatusPending:   "Pending",
	StatusApproved:  "Approved",
	StatusRejected:  "Rejected",
	StatusInvited:   "Invited",
	StatusOnHold:    "OnHold",
	StatusNominated: "Nominated",
}

var relationshipNames = map[RelationshipType]string{
	RelationshipNotSet:           "NotSet",
	RelationshipEmployment:       "Employment",
	RelationshipConsultancy:      "Consultancy",
	RelationshipComplianceScheme: "ComplianceScheme",
	RelationshipOther:            "Other",
}

var (
	personRoleCodes   = invert(personRoleNames)
	statusCodes       = invert(statusNames)
	relationshipCodes = invert(relationshipNames)
)

func invert[K comparable](names map[K]string) map[string]K {
	codes := make(map[string]K, len(names))
	for code, name := range names {
		codes[name] = code
	}
	return codes
}

// PersonRoleName maps a role code to its wire name.
func PersonRoleName(role PersonRole) (string, error) {
	name, ok := personRoleNames[role]
	if !ok {
		return "", fmt.Errorf("unknown person role code %d", int(role))
	}
	return name, nil
}

// ParsePersonRole maps a wire name to its role code.
func ParsePersonRole(name string) (PersonRole, error) {
	role, ok := personRoleCodes[name]
	if !ok {
		return PersonRoleNotSet, fmt.Errorf("unknown person role %q", name)
	}
	return role, nil
}

// StatusName maps a status code to its wire name.
func StatusName(status EnrolmentStatus) (string, error) {
	name, ok := statusNames[status]
	if !ok {
		return "", fmt.Errorf("unknown enrolment status code %d", int(status))
	}
	return name, nil
}

// ParseStatus maps a wire name to its status code.
func ParseStatus(name string) (EnrolmentStatus, error) {
	status, ok := statusCodes[name]
	if !ok {
		return StatusNotSet, fmt.Errorf("unknown enrolment status %q", name)
	}
	return status, nil
}

// RelationshipName maps a relationship type code to its wire name.
func RelationshipName(rel RelationshipType) (string, error) {
	name, ok := relationshipNames[rel]
	if !ok {
		return "", fmt.Errorf("unknown relationship type code %d", int(rel))
	}
	return name, nil
}

// ParseRelationship maps a wire name to its relationship type code.
func ParseRelationship(name string) (RelationshipType, error) {
	rel, ok := relationshipCodes[name]
	if !ok {
		return RelationshipNotSet, fmt.Errorf("unknown relationship type %q", name)
	}
	return rel, nil
}
