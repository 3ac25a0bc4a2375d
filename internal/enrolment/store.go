package enrolment

import (
	"context"
	"time"
)

// Store describes the persistence operations the role management service
// needs. Reads return only non-deleted rows; soft-deleted history is
// invisible unless an implementation exposes it separately for audit.
// Multi-row transitions (SupersedeEnrolment, AcceptNomination) are atomic:
// an implementation either applies every row change or none, and must
// re-check the precondition state inside its transaction so concurrent
// writers cannot both act on the same "current" row.
type Store interface {
	CreateOrganisation(ctx context.Context, org *Organisation) error
	Organisation(ctx context.Context, id string) (*Organisation, error)

	// CreatePerson inserts a person together with its optional login
	// identity. user may be nil for an invited-but-not-activated person.
	CreatePerson(ctx context.Context, p *Person, u *User) error
	Person(ctx context.Context, id string) (*Person, error)

	// ActivateUser binds the external login identity to the user holding
	// the invite token and consumes the token.
	ActivateUser(ctx context.Context, inviteToken, externalID string, now time.Time) error

	CreateConnection(ctx context.Context, c *Connection) error
	// Connection resolves a connection by id scoped to an organisation.
	Connection(ctx context.Context, connectionID, organisationID string) (*Connection, error)
	// ConnectionForUser resolves the connection owned by the person linked
	// to the given external user id within an organisation.
	ConnectionForUser(ctx context.Context, userID, organisationID string) (*Connection, error)

	// CreateEnrolment inserts an enrolment with its optional extension rows
	// in one commit.
	CreateEnrolment(ctx context.Context, e *Enrolment, approved *ApprovedPersonEnrolment, delegated *DelegatedPersonEnrolment) error
	Enrolments(ctx context.Context, connectionID string) ([]*Enrolment, error)
	// Enrolment resolves an enrolment by id scoped to an organisation via
	// its owning connection.
	Enrolment(ctx context.Context, enrolmentID, organisationID string) (*Enrolment, error)
	DelegatedDetail(ctx context.Context, enrolmentID string) (*DelegatedPersonEnrolment, error)

	// SetConnectionRole updates the person role in place and bumps the
	// connection's LastUpdatedOn. Never called for a no-op role change.
	SetConnectionRole(ctx context.Context, connectionID string, role PersonRole, now time.Time) error

	// SupersedeEnrolment soft-deletes the old enrolment and its extension
	// rows, retires any live row occupying the replacement's service role
	// slot, inserts the replacement enrolment, and applies the person role
	// to the owning connection, all in one transaction. Returns ErrConflict
	// if the old enrolment was already superseded by a concurrent writer.
	SupersedeEnrolment(ctx context.Context, oldEnrolmentID string, replacement *Enrolment, role PersonRole, now time.Time) error

	// AcceptNomination transitions a Nominated enrolment to Pending and
	// applies the acceptance side effects (connection job title from the
	// stored nominee job title, person telephone, nominee declaration) in
	// one transaction. Returns ErrConflict if the enrolment is no longer
	// Nominated.
	AcceptNomination(ctx context.Context, enrolmentID, telephone, nomineeDeclaration string, now time.Time) error
}
