package enrolment

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service orchestrates the enrolment state machine: it reads current state
// through the Store, checks the transition preconditions, and delegates the
// row changes to the Store's atomic operations. No enrolment state is ever
// cached between calls; every operation re-reads before deciding.
type Service struct {
	store Store
	now   func() time.Time
}

// ServiceOption configures Service behaviour.
type ServiceOption func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs a Service over the given store.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("enrolment store is required")
	}
	svc := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// NominationRequest carries the nominator's half of a delegated person
// nomination. Relationship fields are stored as supplied for the chosen
// relationship type; fields that do not apply stay empty.
type NominationRequest struct {
	RelationshipType             RelationshipType `json:"relationshipType"`
	ConsultancyName              string           `json:"consultancyName,omitempty"`
	ComplianceSchemeName         string           `json:"complianceSchemeName,omitempty"`
	OtherOrganisationName        string           `json:"otherOrganisationName,omitempty"`
	OtherRelationshipDescription string           `json:"otherRelationshipDescription,omitempty"`
	NomineeJobTitle              string           `json:"nomineeJobTitle,omitempty"`
	NominatorDeclaration         string           `json:"nominatorDeclaration"`
}

// AcceptNominationRequest carries the nominee's half, supplied when the
// nominated person accepts.
type AcceptNominationRequest struct {
	Telephone          string `json:"telephone"`
	NomineeDeclaration string `json:"nomineeDeclaration"`
}

// RemovedServiceRole reports an enrolment superseded by a role update.
type RemovedServiceRole struct {
	ServiceRoleKey  string `json:"serviceRoleKey"`
	EnrolmentStatus string `json:"enrolmentStatus"`
}

// UpdatePersonRoleResponse is the result of a successful role update.
type UpdatePersonRoleResponse struct {
	RemovedServiceRoles []RemovedServiceRole `json:"removedServiceRoles"`
}

// EnrolmentView is one active enrolment in a connection query response.
type EnrolmentView struct {
	EnrolmentID    string `json:"enrolmentId"`
	ServiceRoleKey string `json:"serviceRoleKey"`
	Status         string `json:"status"`
}

// ConnectionWithEnrolmentsResponse is the connection query result. A missing
// or foreign-organisation connection yields a nil response instead; a
// connection with no matching enrolments yields an empty Enrolments list.
type ConnectionWithEnrolmentsResponse struct {
	PersonRole string          `json:"personRole"`
	Enrolments []EnrolmentView `json:"enrolments"`
}

// InvitePersonRequest creates a person, their connection and an Invited
// enrolment in one step.
type InvitePersonRequest struct {
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	Email            string `json:"email"`
	PersonRole       string `json:"personRole"`
	OrganisationRole string `json:"organisationRole"`
	JobTitle         string `json:"jobTitle,omitempty"`
	ServiceRoleKey   string `json:"serviceRoleKey"`
	// Declaration is required when inviting an approved person; it is
	// stored on the ApprovedPersonEnrolment extension.
	Declaration string `json:"declaration,omitempty"`
}

// InvitedPerson reports the rows created by InvitePerson.
type InvitedPerson struct {
	PersonID     string `json:"personId"`
	ConnectionID string `json:"connectionId"`
	EnrolmentID  string `json:"enrolmentId"`
	InviteToken  string `json:"inviteToken"`
}

// Statuses under which an approved person may manage a service's users.
var approverStatuses = map[EnrolmentStatus]bool{
	StatusEnrolled: true,
	StatusPending:  true,
	StatusApproved: true,
}

// Stricter set for managing delegated users: pending approvers are out.
var delegatedApproverStatuses = map[EnrolmentStatus]bool{
	StatusEnrolled: true,
	StatusApproved: true,
}

// Statuses considered active for the connection query.
var activeStatuses = map[EnrolmentStatus]bool{
	StatusEnrolled:  true,
	StatusPending:   true,
	StatusApproved:  true,
	StatusInvited:   true,
	StatusNominated: true,
}

// IsAuthorisedToManageUsers reports whether the user holds an approved
// person enrolment for the service on the organisation with status
// Enrolled, Pending or Approved. Absence of a connection, enrolment or
// organisation match is a normal false, never an error.
func (s *Service) IsAuthorisedToManageUsers(ctx context.Context, userID, organisationID, serviceKey string) (bool, error) {
	approver, err := s.approverEnrolment(ctx, userID, organisationID, serviceKey)
	if err != nil {
		return false, err
	}
	return approver != nil && approverStatuses[approver.Status], nil
}

// IsAuthorisedToManageDelegatedUsers is the stricter variant guarding
// delegated person management; a Pending approver does not qualify.
func (s *Service) IsAuthorisedToManageDelegatedUsers(ctx context.Context, userID, organisationID, serviceKey string) (bool, error) {
	approver, err := s.approverEnrolment(ctx, userID, organisationID, serviceKey)
	if err != nil {
		return false, err
	}
	return approver != nil && delegatedApproverStatuses[approver.Status], nil
}

// approverEnrolment locates the caller's own approved person enrolment for
// the service, or nil when any link in the chain is missing.
func (s *Service) approverEnrolment(ctx context.Context, userID, organisationID, serviceKey string) (*Enrolment, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil
	}
	roles, ok := RolesForService(serviceKey)
	if !ok {
		return nil, nil
	}
	conn, err := s.store.ConnectionForUser(ctx, userID, organisationID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	enrolments, err := s.store.Enrolments(ctx, conn.ID)
	if err != nil {
		return nil, err
	}
	for _, e := range enrolments {
		if e.ServiceRoleKey == roles.ApprovedPerson {
			return e, nil
		}
	}
	return nil, nil
}

// NominateToDelegatedPerson raises a delegated person enrolment in status
// Nominated on the target connection, recording the nominator's enrolment
// and declaration. The target's basic user enrolment is left untouched; the
// two rows coexist until the nomination is resolved.
func (s *Service) NominateToDelegatedPerson(ctx context.Context, connectionID, userID, organisationID, serviceKey string, req NominationRequest) (Result, error) {
	roles, ok := RolesForService(serviceKey)
	if !ok {
		return failed(MsgUnsupportedService(serviceKey)), nil
	}
	if _, err := RelationshipName(req.RelationshipType); err != nil {
		return Result{}, err
	}

	conn, err := s.store.Connection(ctx, connectionID, organisationID)
	if errors.Is(err, ErrNotFound) {
		return failed(MsgNotEnrolledNominate), nil
	}
	if err != nil {
		return Result{}, err
	}
	enrolments, err := s.store.Enrolments(ctx, conn.ID)
	if err != nil {
		return Result{}, err
	}
	var basic *Enrolment
	for _, e := range enrolments {
		switch e.ServiceRoleKey {
		case roles.BasicUser:
			basic = e
		case roles.DelegatedPerson:
			return failed(MsgAlreadyDelegated), nil
		}
	}
	if basic == nil {
		return failed(MsgNotEnrolledNominate), nil
	}
	switch basic.Status {
	case StatusInvited:
		return failed(MsgInvitedNominate), nil
	case StatusNotSet, StatusRejected:
		return failed(MsgNotEnrolledNominate), nil
	}

	// Nomination accepts pending approvers, unlike delegated management.
	approver, err := s.approverEnrolment(ctx, userID, organisationID, serviceKey)
	if err != nil {
		return Result{}, err
	}
	if approver == nil || !approverStatuses[approver.Status] {
		return failed(MsgNotAuthorisedToNominate), nil
	}

	now := s.now().UTC()
	e := &Enrolment{
		ID:             uuid.NewString(),
		ConnectionID:   conn.ID,
		ServiceRoleKey: roles.DelegatedPerson,
		Status:         StatusNominated,
		CreatedOn:      now,
		LastUpdatedOn:  now,
	}
	detail := &DelegatedPersonEnrolment{
		EnrolmentID:                  e.ID,
		NominatorEnrolmentID:         approver.ID,
		RelationshipType:             req.RelationshipType,
		ConsultancyName:              req.ConsultancyName,
		ComplianceSchemeName:         req.ComplianceSchemeName,
		OtherOrganisationName:        req.OtherOrganisationName,
		OtherRelationshipDescription: req.OtherRelationshipDescription,
		NomineeJobTitle:              req.NomineeJobTitle,
		NominatorDeclaration:         req.NominatorDeclaration,
		NominatorDeclarationTime:     now,
	}
	if err := s.store.CreateEnrolment(ctx, e, nil, detail); err != nil {
		if errors.Is(err, ErrConflict) {
			return failed(MsgAlreadyDelegated), nil
		}
		return Result{}, err
	}
	return succeeded(), nil
}

// AcceptNominationToDelegatedPerson moves a Nominated enrolment to Pending
// and applies the nominee's half: connection job title from the stored
// nominee job title, person telephone, nominee declaration. Every
// precondition failure collapses to the same result message so callers
// cannot probe other organisations' enrolment state.
func (s *Service) AcceptNominationToDelegatedPerson(ctx context.Context, enrolmentID, organisationID, userID, serviceKey string, req AcceptNominationRequest) (Result, error) {
	roles, ok := RolesForService(serviceKey)
	if !ok {
		return failed(MsgUnsupportedService(serviceKey)), nil
	}
	e, err := s.store.Enrolment(ctx, enrolmentID, organisationID)
	if errors.Is(err, ErrNotFound) {
		return failed(MsgNoMatchingNomination), nil
	}
	if err != nil {
		return Result{}, err
	}
	if e.ServiceRoleKey != roles.DelegatedPerson || e.Status != StatusNominated {
		return failed(MsgNoMatchingNomination), nil
	}
	conn, err := s.store.ConnectionForUser(ctx, userID, organisationID)
	if errors.Is(err, ErrNotFound) {
		return failed(MsgNoMatchingNomination), nil
	}
	if err != nil {
		return Result{}, err
	}
	if conn.ID != e.ConnectionID {
		return failed(MsgNoMatchingNomination), nil
	}

	err = s.store.AcceptNomination(ctx, e.ID, strings.TrimSpace(req.Telephone), req.NomineeDeclaration, s.now().UTC())
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return failed(MsgNoMatchingNomination), nil
	}
	if err != nil {
		return Result{}, err
	}
	return succeeded(), nil
}

// UpdatePersonRole changes the target connection's person role. Callers are
// expected to have run the authorisation predicates first; violations
// surface as *RoleManagementError. Demoting a delegated person supersedes
// the enrolment (soft-delete plus fresh basic user row) instead of editing
// it, so the fact a delegation existed stays on record. Re-applying the
// current role is a strict no-op: no timestamp moves.
func (s *Service) UpdatePersonRole(ctx context.Context, connectionID, userID, organisationID, serviceKey string, role PersonRole) (UpdatePersonRoleResponse, error) {
	var resp UpdatePersonRoleResponse
	if _, err := PersonRoleName(role); err != nil {
		return resp, err
	}
	if role == PersonRoleNotSet {
		return resp, fmt.Errorf("%w: person role is required", ErrInvalidInput)
	}
	roles, ok := RolesForService(serviceKey)
	if !ok {
		return resp, roleErr(MsgUnsupportedService(serviceKey))
	}

	conn, err := s.store.Connection(ctx, connectionID, organisationID)
	if errors.Is(err, ErrNotFound) {
		return resp, roleErr(MsgNoMatchingRecord)
	}
	if err != nil {
		return resp, err
	}

	enrolments, err := s.store.Enrolments(ctx, conn.ID)
	if err != nil {
		return resp, err
	}
	var target *Enrolment
	for _, e := range enrolments {
		if !roles.Contains(e.ServiceRoleKey) {
			continue
		}
		if target == nil || roles.tier(e.ServiceRoleKey) > roles.tier(target.ServiceRoleKey) {
			target = e
		}
	}
	if target == nil {
		return resp, roleErr(MsgNotEnrolledEdit)
	}
	if target.Status == StatusInvited {
		return resp, roleErr(MsgInvitedEdit)
	}
	if target.ServiceRoleKey == roles.ApprovedPerson {
		return resp, roleErr(MsgApprovedPersonEdit)
	}
	if target.ServiceRoleKey == roles.DelegatedPerson {
		allowed, err := s.IsAuthorisedToManageDelegatedUsers(ctx, userID, organisationID, serviceKey)
		if err != nil {
			return resp, err
		}
		if !allowed {
			return resp, roleErr(MsgDelegatedPersonEdit)
		}
	}
	own, err := s.store.ConnectionForUser(ctx, userID, organisationID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return resp, err
	}
	if own != nil && own.ID == conn.ID {
		return resp, roleErr(MsgOwnRecordEdit)
	}

	if target.ServiceRoleKey == roles.DelegatedPerson {
		priorStatus, err := StatusName(target.Status)
		if err != nil {
			return resp, err
		}
		now := s.now().UTC()
		replacement := &Enrolment{
			ID:             uuid.NewString(),
			ConnectionID:   conn.ID,
			ServiceRoleKey: roles.BasicUser,
			// The demoted user already held an approved standing; the
			// fresh basic user row mirrors it.
			Status:        StatusApproved,
			CreatedOn:     now,
			LastUpdatedOn: now,
		}
		if err := s.store.SupersedeEnrolment(ctx, target.ID, replacement, role, now); err != nil {
			return resp, err
		}
		resp.RemovedServiceRoles = []RemovedServiceRole{{
			ServiceRoleKey:  target.ServiceRoleKey,
			EnrolmentStatus: priorStatus,
		}}
		return resp, nil
	}

	if conn.PersonRole == role {
		return resp, nil
	}
	if err := s.store.SetConnectionRole(ctx, conn.ID, role, s.now().UTC()); err != nil {
		return resp, err
	}
	return resp, nil
}

// ConnectionWithEnrolments returns the connection's person role and its
// active enrolments for the service. A connection that does not exist or
// belongs to another organisation yields nil; a service or status mismatch
// yields an empty Enrolments list. The asymmetry is deliberate contract.
func (s *Service) ConnectionWithEnrolments(ctx context.Context, connectionID, organisationID, serviceKey string) (*ConnectionWithEnrolmentsResponse, error) {
	conn, err := s.store.Connection(ctx, connectionID, organisationID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	roleName, err := PersonRoleName(conn.PersonRole)
	if err != nil {
		return nil, err
	}
	resp := &ConnectionWithEnrolmentsResponse{
		PersonRole: roleName,
		Enrolments: []EnrolmentView{},
	}
	roles, ok := RolesForService(serviceKey)
	if !ok {
		return resp, nil
	}
	enrolments, err := s.store.Enrolments(ctx, conn.ID)
	if err != nil {
		return nil, err
	}
	for _, e := range enrolments {
		if !roles.Contains(e.ServiceRoleKey) || !activeStatuses[e.Status] {
			continue
		}
		statusName, err := StatusName(e.Status)
		if err != nil {
			return nil, err
		}
		resp.Enrolments = append(resp.Enrolments, EnrolmentView{
			EnrolmentID:    e.ID,
			ServiceRoleKey: e.ServiceRoleKey,
			Status:         statusName,
		})
	}
	return resp, nil
}

// CreateOrganisation registers a new organisation.
func (s *Service) CreateOrganisation(ctx context.Context, name string, organisationType int, nationCode string, isComplianceScheme bool) (Organisation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Organisation{}, fmt.Errorf("%w: organisation name is required", ErrInvalidInput)
	}
	now := s.now().UTC()
	org := Organisation{
		ID:                 uuid.NewString(),
		Name:               name,
		OrganisationType:   organisationType,
		NationCode:         strings.TrimSpace(nationCode),
		IsComplianceScheme: isComplianceScheme,
		CreatedOn:          now,
		LastUpdatedOn:      now,
	}
	if err := s.store.CreateOrganisation(ctx, &org); err != nil {
		return Organisation{}, err
	}
	return org, nil
}

// InvitePerson creates the person, their login identity carrying an invite
// token, the connection and an Invited enrolment in one step. Delegated
// person enrolments are only ever created through nomination.
func (s *Service) InvitePerson(ctx context.Context, organisationID, serviceKey string, req InvitePersonRequest) (InvitedPerson, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return InvitedPerson{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	personRole, err := ParsePersonRole(strings.TrimSpace(req.PersonRole))
	if err != nil {
		return InvitedPerson{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if personRole == PersonRoleNotSet {
		return InvitedPerson{}, fmt.Errorf("%w: person role is required", ErrInvalidInput)
	}
	roles, ok := RolesForService(serviceKey)
	if !ok {
		return InvitedPerson{}, fmt.Errorf("%w: unsupported service %q", ErrInvalidInput, serviceKey)
	}
	if !roles.Contains(req.ServiceRoleKey) || req.ServiceRoleKey == roles.DelegatedPerson {
		return InvitedPerson{}, fmt.Errorf("%w: unsupported service role %q", ErrInvalidInput, req.ServiceRoleKey)
	}
	if req.ServiceRoleKey == roles.ApprovedPerson && strings.TrimSpace(req.Declaration) == "" {
		return InvitedPerson{}, fmt.Errorf("%w: declaration is required for an approved person", ErrInvalidInput)
	}
	if _, err := s.store.Organisation(ctx, organisationID); err != nil {
		return InvitedPerson{}, err
	}

	token, err := newInviteToken()
	if err != nil {
		return InvitedPerson{}, err
	}
	now := s.now().UTC()
	person := &Person{
		ID:            uuid.NewString(),
		FirstName:     strings.TrimSpace(req.FirstName),
		LastName:      strings.TrimSpace(req.LastName),
		Email:         email,
		CreatedOn:     now,
		LastUpdatedOn: now,
	}
	user := &User{
		ID:          uuid.NewString(),
		PersonID:    person.ID,
		Email:       email,
		InviteToken: token,
		CreatedOn:   now,
	}
	if err := s.store.CreatePerson(ctx, person, user); err != nil {
		return InvitedPerson{}, err
	}
	conn := &Connection{
		ID:               uuid.NewString(),
		OrganisationID:   organisationID,
		PersonID:         person.ID,
		PersonRole:       personRole,
		OrganisationRole: strings.TrimSpace(req.OrganisationRole),
		JobTitle:         strings.TrimSpace(req.JobTitle),
		CreatedOn:        now,
		LastUpdatedOn:    now,
	}
	if err := s.store.CreateConnection(ctx, conn); err != nil {
		return InvitedPerson{}, err
	}
	e := &Enrolment{
		ID:             uuid.NewString(),
		ConnectionID:   conn.ID,
		ServiceRoleKey: req.ServiceRoleKey,
		Status:         StatusInvited,
		CreatedOn:      now,
		LastUpdatedOn:  now,
	}
	var approved *ApprovedPersonEnrolment
	if req.ServiceRoleKey == roles.ApprovedPerson {
		approved = &ApprovedPersonEnrolment{
			EnrolmentID:            e.ID,
			NomineeDeclaration:     strings.TrimSpace(req.Declaration),
			NomineeDeclarationTime: now,
		}
	}
	if err := s.store.CreateEnrolment(ctx, e, approved, nil); err != nil {
		return InvitedPerson{}, err
	}
	return InvitedPerson{
		PersonID:     person.ID,
		ConnectionID: conn.ID,
		EnrolmentID:  e.ID,
		InviteToken:  token,
	}, nil
}

// ActivateUser redeems an invite token, binding the invited person's login
// identity to the external user id the login provider assigned.
func (s *Service) ActivateUser(ctx context.Context, inviteToken, externalUserID string) error {
	inviteToken = strings.TrimSpace(inviteToken)
	externalUserID = strings.TrimSpace(externalUserID)
	if inviteToken == "" || externalUserID == "" {
		return fmt.Errorf("%w: invite token and user id are required", ErrInvalidInput)
	}
	return s.store.ActivateUser(ctx, inviteToken, externalUserID, s.now().UTC())
}

func newInviteToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
