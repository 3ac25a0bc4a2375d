package enrolment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. It backs
// unit tests and DSN-less development runs; production uses the Postgres
// store.
type InMemory struct {
	mu        sync.RWMutex
	orgs      map[string]*Organisation
	persons   map[string]*Person
	users     map[string]*User
	conns     map[string]*Connection
	enrols    map[string]*Enrolment
	approved  map[string]*ApprovedPersonEnrolment
	delegated map[string]*DelegatedPersonEnrolment
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		orgs:      make(map[string]*Organisation),
		persons:   make(map[string]*Person),
		users:     make(map[string]*User),
		conns:     make(map[string]*Connection),
		enrols:    make(map[string]*Enrolment),
		approved:  make(map[string]*ApprovedPersonEnrolment),
		delegated: make(map[string]*DelegatedPersonEnrolment),
	}
}

func (m *InMemory) CreateOrganisation(ctx context.Context, org *Organisation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orgs[org.ID]; ok {
		return ErrConflict
	}
	cp := *org
	m.orgs[org.ID] = &cp
	return nil
}

func (m *InMemory) Organisation(ctx context.Context, id string) (*Organisation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	org, ok := m.orgs[id]
	if !ok || org.IsDeleted {
		return nil, ErrNotFound
	}
	cp := *org
	return &cp, nil
}

func (m *InMemory) CreatePerson(ctx context.Context, p *Person, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.persons[p.ID]; ok {
		return ErrConflict
	}
	pc := *p
	m.persons[p.ID] = &pc
	if u != nil {
		if _, ok := m.users[u.ID]; ok {
			return ErrConflict
		}
		uc := *u
		m.users[u.ID] = &uc
	}
	return nil
}

func (m *InMemory) Person(ctx context.Context, id string) (*Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.persons[id]
	if !ok || p.IsDeleted {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *InMemory) ActivateUser(ctx context.Context, inviteToken, externalID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.InviteToken != "" && u.InviteToken == inviteToken {
			u.ExternalID = externalID
			u.InviteToken = ""
			return nil
		}
	}
	return ErrNotFound
}

func (m *InMemory) CreateConnection(ctx context.Context, c *Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[c.ID]; ok {
		return ErrConflict
	}
	if org, ok := m.orgs[c.OrganisationID]; !ok || org.IsDeleted {
		return ErrNotFound
	}
	if p, ok := m.persons[c.PersonID]; !ok || p.IsDeleted {
		return ErrNotFound
	}
	// One active connection per person per organisation.
	for _, other := range m.conns {
		if !other.IsDeleted && other.PersonID == c.PersonID && other.OrganisationID == c.OrganisationID {
			return ErrConflict
		}
	}
	cp := *c
	m.conns[c.ID] = &cp
	return nil
}

func (m *InMemory) Connection(ctx context.Context, connectionID, organisationID string) (*Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[connectionID]
	if !ok || c.IsDeleted || c.OrganisationID != organisationID {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *InMemory) ConnectionForUser(ctx context.Context, userID, organisationID string) (*Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var personID string
	for _, u := range m.users {
		if u.ExternalID != "" && u.ExternalID == userID {
			personID = u.PersonID
			break
		}
	}
	if personID == "" {
		return nil, ErrNotFound
	}
	for _, c := range m.conns {
		if !c.IsDeleted && c.PersonID == personID && c.OrganisationID == organisationID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *InMemory) CreateEnrolment(ctx context.Context, e *Enrolment, approved *ApprovedPersonEnrolment, delegated *DelegatedPersonEnrolment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertEnrolment(e, approved, delegated)
}

// insertEnrolment assumes the write lock is held.
func (m *InMemory) insertEnrolment(e *Enrolment, approved *ApprovedPersonEnrolment, delegated *DelegatedPersonEnrolment) error {
	if _, ok := m.enrols[e.ID]; ok {
		return ErrConflict
	}
	if c, ok := m.conns[e.ConnectionID]; !ok || c.IsDeleted {
		return ErrNotFound
	}
	// At most one live enrolment per (connection, service role).
	for _, other := range m.enrols {
		if !other.IsDeleted && other.ConnectionID == e.ConnectionID && other.ServiceRoleKey == e.ServiceRoleKey {
			return ErrConflict
		}
	}
	cp := *e
	m.enrols[e.ID] = &cp
	if approved != nil {
		ac := *approved
		m.approved[e.ID] = &ac
	}
	if delegated != nil {
		dc := *delegated
		m.delegated[e.ID] = &dc
	}
	return nil
}

func (m *InMemory) Enrolments(ctx context.Context, connectionID string) ([]*Enrolment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Enrolment
	for _, e := range m.enrols {
		if !e.IsDeleted && e.ConnectionID == connectionID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedOn.Equal(out[j].CreatedOn) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedOn.Before(out[j].CreatedOn)
	})
	return out, nil
}

func (m *InMemory) Enrolment(ctx context.Context, enrolmentID, organisationID string) (*Enrolment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.enrols[enrolmentID]
	if !ok || e.IsDeleted {
		return nil, ErrNotFound
	}
	c, ok := m.conns[e.ConnectionID]
	if !ok || c.IsDeleted || c.OrganisationID != organisationID {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *InMemory) DelegatedDetail(ctx context.Context, enrolmentID string) (*DelegatedPersonEnrolment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.delegated[enrolmentID]
	if !ok || d.IsDeleted {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *InMemory) SetConnectionRole(ctx context.Context, connectionID string, role PersonRole, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[connectionID]
	if !ok || c.IsDeleted {
		return ErrNotFound
	}
	c.PersonRole = role
	c.LastUpdatedOn = now
	return nil
}

func (m *InMemory) SupersedeEnrolment(ctx context.Context, oldEnrolmentID string, replacement *Enrolment, role PersonRole, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.enrols[oldEnrolmentID]
	if !ok {
		return ErrNotFound
	}
	if old.IsDeleted {
		// A concurrent writer already superseded this row.
		return ErrConflict
	}
	c, ok := m.conns[old.ConnectionID]
	if !ok || c.IsDeleted {
		return ErrNotFound
	}
	m.softDeleteEnrolment(old, now)
	// The replacement's slot may still hold the row the delegation grew out
	// of (basic user and nominated rows coexist); retire it too so the
	// one-live-row-per-slot invariant holds.
	for _, other := range m.enrols {
		if !other.IsDeleted && other.ConnectionID == old.ConnectionID && other.ServiceRoleKey == replacement.ServiceRoleKey {
			m.softDeleteEnrolment(other, now)
		}
	}
	if err := m.insertEnrolment(replacement, nil, nil); err != nil {
		return err
	}
	c.PersonRole = role
	c.LastUpdatedOn = now
	return nil
}

// softDeleteEnrolment assumes the write lock is held.
func (m *InMemory) softDeleteEnrolment(e *Enrolment, now time.Time) {
	e.IsDeleted = true
	e.LastUpdatedOn = now
	if d, ok := m.delegated[e.ID]; ok {
		d.IsDeleted = true
	}
	if a, ok := m.approved[e.ID]; ok {
		a.IsDeleted = true
	}
}

func (m *InMemory) AcceptNomination(ctx context.Context, enrolmentID, telephone, nomineeDeclaration string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrols[enrolmentID]
	if !ok || e.IsDeleted {
		return ErrNotFound
	}
	if e.Status != StatusNominated {
		return ErrConflict
	}
	d, ok := m.delegated[e.ID]
	if !ok || d.IsDeleted {
		return fmt.Errorf("%w: delegated detail missing for enrolment %s", ErrNotFound, e.ID)
	}
	c, ok := m.conns[e.ConnectionID]
	if !ok || c.IsDeleted {
		return ErrNotFound
	}
	p, ok := m.persons[c.PersonID]
	if !ok || p.IsDeleted {
		return ErrNotFound
	}

	e.Status = StatusPending
	e.LastUpdatedOn = now
	c.JobTitle = d.NomineeJobTitle
	c.LastUpdatedOn = now
	p.Telephone = telephone
	p.LastUpdatedOn = now
	d.NomineeDeclaration = nomineeDeclaration
	d.NomineeDeclarationTime = now
	return nil
}
