package enrolment

import (
	"errors"
	"time"
)

// PersonRole is the person's organisational role carried by a Connection.
type PersonRole int

const (
	PersonRoleNotSet   PersonRole = 0
	PersonRoleAdmin    PersonRole = 1
	PersonRoleEmployee PersonRole = 2
	PersonRoleMember   PersonRole = 3
)

// EnrolmentStatus tracks a Connection's standing for one service role.
type EnrolmentStatus int

const (
	StatusNotSet    EnrolmentStatus = 0
	StatusEnrolled  EnrolmentStatus = 1
	StatusPending   EnrolmentStatus = 2
	StatusApproved  EnrolmentStatus = 3
	StatusRejected  EnrolmentStatus = 4
	StatusInvited   EnrolmentStatus = 5
	StatusOnHold    EnrolmentStatus = 6
	StatusNominated EnrolmentStatus = 7
)

// RelationshipType describes how a nominated delegated person relates to the
// organisation they will act for.
type RelationshipType int

const (
	RelationshipNotSet           RelationshipType = 0
	RelationshipEmployment       RelationshipType = 1
	RelationshipConsultancy      RelationshipType = 2
	RelationshipComplianceScheme RelationshipType = 3
	RelationshipOther            RelationshipType = 4
)

// Organisation is created once and soft-deletable; identity is immutable.
type Organisation struct {
	ID                 string
	Name               string
	OrganisationType   int
	NationCode         string
	IsComplianceScheme bool
	IsDeleted          bool
	CreatedOn          time.Time
	LastUpdatedOn      time.Time
}

// Person is an individual; without a linked User it is invited but not yet
// activated.
type Person struct {
	ID            string
	FirstName     string
	LastName      string
	Email         string
	Telephone     string
	IsDeleted     bool
	CreatedOn     time.Time
	LastUpdatedOn time.Time
}

// User is the external login identity linked 1:1 to a Person.
type User struct {
	ID          string
	PersonID    string
	ExternalID  string
	Email       string
	InviteToken string
	CreatedOn   time.Time
}

// Connection links a Person to an Organisation. One person has at most one
// active connection per organisation; it owns zero or more enrolments.
type Connection struct {
	ID               string
	OrganisationID   string
	PersonID         string
	PersonRole       PersonRole
	OrganisationRole string
	JobTitle         string
	IsDeleted        bool
	CreatedOn        time.Time
	LastUpdatedOn    time.Time
}

// Enrolment is one (Connection, ServiceRole) row. Superseded rows are
// soft-deleted, never mutated in place, so history survives.
type Enrolment struct {
	ID             string
	ConnectionID   string
	ServiceRoleKey string
	Status         EnrolmentStatus
	IsDeleted      bool
	CreatedOn      time.Time
	LastUpdatedOn  time.Time
}

// ApprovedPersonEnrolment extends an Approved Person enrolment 1:1.
type ApprovedPersonEnrolment struct {
	EnrolmentID            string
	NomineeDeclaration     string
	NomineeDeclarationTime time.Time
	IsDeleted              bool
}

// DelegatedPersonEnrolment extends a Delegated Person enrolment 1:1. The
// nominator pair is written at nomination time, the nominee pair at
// acceptance. Relationship fields are stored as supplied; the request model
// does not force mutual exclusivity between them.
type DelegatedPersonEnrolment struct {
	EnrolmentID                  string
	NominatorEnrolmentID         string
	RelationshipType             RelationshipType
	ConsultancyName              string
	ComplianceSchemeName         string
	OtherOrganisationName        string
	OtherRelationshipDescription string
	NomineeJobTitle              string
	NominatorDeclaration         string
	NominatorDeclarationTime     time.Time
	NomineeDeclaration           string
	NomineeDeclarationTime       time.Time
	IsDeleted                    bool
}

// ServiceRoles is the fixed role catalog of one service.
type ServiceRoles struct {
	ServiceKey      string
	BasicUser       string
	ApprovedPerson  string
	DelegatedPerson string
}

// ServiceKeyPackaging is the packaging producer responsibility service.
const ServiceKeyPackaging = "Packaging"

const (
	ServiceRolePackagingBasicUser       = "Packaging.BasicUser"
	ServiceRolePackagingApprovedPerson  = "Packaging.ApprovedPerson"
	ServiceRolePackagingDelegatedPerson = "Packaging.DelegatedPerson"
)

var serviceCatalog = map[string]ServiceRoles{
	ServiceKeyPackaging: {
		ServiceKey:      ServiceKeyPackaging,
		BasicUser:       ServiceRolePackagingBasicUser,
		ApprovedPerson:  ServiceRolePackagingApprovedPerson,
		DelegatedPerson: ServiceRolePackagingDelegatedPerson,
	},
}

// RolesForService resolves a service key to its role catalog.
func RolesForService(serviceKey string) (ServiceRoles, bool) {
	roles, ok := serviceCatalog[serviceKey]
	return roles, ok
}

// tier orders a service's roles so the role-bearing enrolment can be picked
// when a connection holds several live rows (basic user + nominated
// delegated person coexist during a nomination).
func (sr ServiceRoles) tier(serviceRoleKey string) int {
	switch serviceRoleKey {
	case sr.DelegatedPerson:
		return 3
	case sr.ApprovedPerson:
		return 2
	case sr.BasicUser:
		return 1
	default:
		return 0
	}
}

// Contains reports whether the key belongs to this service's catalog.
func (sr ServiceRoles) Contains(serviceRoleKey string) bool {
	return sr.tier(serviceRoleKey) > 0
}

var (
	ErrNotFound     = errors.New("enrolment: not found")
	ErrConflict     = errors.New("enrolment: conflict")
	ErrInvalidInput = errors.New("enrolment: invalid input")
)
