package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"enrolhub.org/internal/enrolment"
)

func (s *Store) CreateOrganisation(ctx context.Context, org *enrolment.Organisation) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		insert into organisations (id, name, organisation_type, nation_code, is_compliance_scheme, is_deleted, created_on, last_updated_on)
		values ($1, $2, $3, $4, $5, false, $6, $7)
	`, org.ID, org.Name, org.OrganisationType, nullIfEmpty(org.NationCode), org.IsComplianceScheme, org.CreatedOn, org.LastUpdatedOn)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return enrolment.ErrConflict
	}
	return err
}

func (s *Store) Organisation(ctx context.Context, id string) (*enrolment.Organisation, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var (
		org    enrolment.Organisation
		nation sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, organisation_type, nation_code, is_compliance_scheme, created_on, last_updated_on
		from organisations
		where id = $1 and not is_deleted
	`, id).Scan(&org.ID, &org.Name, &org.OrganisationType, &nation, &org.IsComplianceScheme, &org.CreatedOn, &org.LastUpdatedOn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, enrolment.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if nation.Valid {
		org.NationCode = nation.String
	}
	return &org, nil
}

func (s *Store) CreatePerson(ctx context.Context, p *enrolment.Person, u *enrolment.User) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into persons (id, first_name, last_name, email, telephone, is_deleted, created_on, last_updated_on)
		values ($1, $2, $3, $4, $5, false, $6, $7)
	`, p.ID, p.FirstName, p.LastName, p.Email, nullIfEmpty(p.Telephone), p.CreatedOn, p.LastUpdatedOn); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return enrolment.ErrConflict
		}
		return err
	}
	if u != nil {
		if _, err := tx.ExecContext(ctx, `
			insert into users (id, person_id, external_id, email, invite_token, created_on)
			values ($1, $2, $3, $4, $5, $6)
		`, u.ID, u.PersonID, nullIfEmpty(u.ExternalID), u.Email, nullIfEmpty(u.InviteToken), u.CreatedOn); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return enrolment.ErrConflict
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Person(ctx context.Context, id string) (*enrolment.Person, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var (
		p   enrolment.Person
		tel sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, first_name, last_name, email, telephone, created_on, last_updated_on
		from persons
		where id = $1 and not is_deleted
	`, id).Scan(&p.ID, &p.FirstName, &p.LastName, &p.Email, &tel, &p.CreatedOn, &p.LastUpdatedOn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, enrolment.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if tel.Valid {
		p.Telephone = tel.String
	}
	return &p, nil
}

func (s *Store) ActivateUser(ctx context.Context, inviteToken, externalID string, now time.Time) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update users
		set external_id = $2, invite_token = null
		where invite_token = $1
	`, inviteToken, externalID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return enrolment.ErrConflict
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return enrolment.ErrNotFound
	}
	return nil
}

func (s *Store) CreateConnection(ctx context.Context, c *enrolment.Connection) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from organisations where id = $1 and not is_deleted`, c.OrganisationID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return enrolment.ErrNotFound
		}
		return err
	}
	if err := tx.QueryRowContext(ctx, `select 1 from persons where id = $1 and not is_deleted`, c.PersonID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return enrolment.ErrNotFound
		}
		return err
	}

	// A partial unique index on (person_id, organisation_id) where not
	// is_deleted backs the one-active-connection rule.
	if _, err := tx.ExecContext(ctx, `
		insert into connections (id, organisation_id, person_id, person_role, organisation_role, job_title, is_deleted, created_on, last_updated_on)
		values ($1, $2, $3, $4, $5, $6, false, $7, $8)
	`, c.ID, c.OrganisationID, c.PersonID, int(c.PersonRole), nullIfEmpty(c.OrganisationRole), nullIfEmpty(c.JobTitle), c.CreatedOn, c.LastUpdatedOn); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return enrolment.ErrConflict
			case pgErrForeignKeyViolation:
				return enrolment.ErrNotFound
			}
		}
		return err
	}
	return tx.Commit()
}

const connectionColumns = `id, organisation_id, person_id, person_role, organisation_role, job_title, created_on, last_updated_on`

func scanConnection(row *sql.Row) (*enrolment.Connection, error) {
	var (
		c        enrolment.Connection
		role     int
		orgRole  sql.NullString
		jobTitle sql.NullString
	)
	err := row.Scan(&c.ID, &c.OrganisationID, &c.PersonID, &role, &orgRole, &jobTitle, &c.CreatedOn, &c.LastUpdatedOn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, enrolment.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.PersonRole = enrolment.PersonRole(role)
	if orgRole.Valid {
		c.OrganisationRole = orgRole.String
	}
	if jobTitle.Valid {
		c.JobTitle = jobTitle.String
	}
	return &c, nil
}

func (s *Store) Connection(ctx context.Context, connectionID, organisationID string) (*enrolment.Connection, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		select `+connectionColumns+`
		from connections
		where id = $1 and organisation_id = $2 and not is_deleted
	`, connectionID, organisationID)
	return scanConnection(row)
}

func (s *Store) ConnectionForUser(ctx context.Context, userID, organisationID string) (*enrolment.Connection, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		select c.id, c.organisation_id, c.person_id, c.person_role, c.organisation_role, c.job_title, c.created_on, c.last_updated_on
		from connections c
		join users u on u.person_id = c.person_id
		where u.external_id = $1 and c.organisation_id = $2 and not c.is_deleted
	`, userID, organisationID)
	return scanConnection(row)
}

func (s *Store) CreateEnrolment(ctx context.Context, e *enrolment.Enrolment, approved *enrolment.ApprovedPersonEnrolment, delegated *enrolment.DelegatedPersonEnrolment) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the connection so a concurrent supersede cannot slip a row into
	// the same service role slot between our check and insert.
	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from connections where id = $1 and not is_deleted for update`, e.ConnectionID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return enrolment.ErrNotFound
		}
		return err
	}

	if err := insertEnrolmentTx(ctx, tx, e, approved, delegated); err != nil {
		return err
	}
	return tx.Commit()
}

func insertEnrolmentTx(ctx context.Context, tx *sql.Tx, e *enrolment.Enrolment, approved *enrolment.ApprovedPersonEnrolment, delegated *enrolment.DelegatedPersonEnrolment) error {
	// A partial unique index on (connection_id, service_role_key) where not
	// is_deleted backs the one-live-row-per-slot rule.
	if _, err := tx.ExecContext(ctx, `
		insert into enrolments (id, connection_id, service_role_key, status, is_deleted, created_on, last_updated_on)
		values ($1, $2, $3, $4, false, $5, $6)
	`, e.ID, e.ConnectionID, e.ServiceRoleKey, int(e.Status), e.CreatedOn, e.LastUpdatedOn); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return enrolment.ErrConflict
			case pgErrForeignKeyViolation:
				return enrolment.ErrNotFound
			}
		}
		return err
	}
	if approved != nil {
		if _, err := tx.ExecContext(ctx, `
			insert into approved_person_enrolments (enrolment_id, nominee_declaration, nominee_declaration_time, is_deleted)
			values ($1, $2, $3, false)
		`, e.ID, approved.NomineeDeclaration, approved.NomineeDeclarationTime); err != nil {
			return err
		}
	}
	if delegated != nil {
		if _, err := tx.ExecContext(ctx, `
			insert into delegated_person_enrolments (
				enrolment_id, nominator_enrolment_id, relationship_type,
				consultancy_name, compliance_scheme_name, other_organisation_name, other_relationship_description,
				nominee_job_title, nominator_declaration, nominator_declaration_time,
				nominee_declaration, nominee_declaration_time, is_deleted)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, false)
		`, e.ID, delegated.NominatorEnrolmentID, int(delegated.RelationshipType),
			nullIfEmpty(delegated.ConsultancyName), nullIfEmpty(delegated.ComplianceSchemeName),
			nullIfEmpty(delegated.OtherOrganisationName), nullIfEmpty(delegated.OtherRelationshipDescription),
			nullIfEmpty(delegated.NomineeJobTitle), delegated.NominatorDeclaration, delegated.NominatorDeclarationTime,
			nullIfEmpty(delegated.NomineeDeclaration), nullIfZero(delegated.NomineeDeclarationTime)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Enrolments(ctx context.Context, connectionID string) ([]*enrolment.Enrolment, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, connection_id, service_role_key, status, created_on, last_updated_on
		from enrolments
		where connection_id = $1 and not is_deleted
		order by created_on, id
	`, connectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*enrolment.Enrolment
	for rows.Next() {
		var (
			e      enrolment.Enrolment
			status int
		)
		if err := rows.Scan(&e.ID, &e.ConnectionID, &e.ServiceRoleKey, &status, &e.CreatedOn, &e.LastUpdatedOn); err != nil {
			return nil, err
		}
		e.Status = enrolment.EnrolmentStatus(status)
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) Enrolment(ctx context.Context, enrolmentID, organisationID string) (*enrolment.Enrolment, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var (
		e      enrolment.Enrolment
		status int
	)
	err := s.db.QueryRowContext(ctx, `
		select e.id, e.connection_id, e.service_role_key, e.status, e.created_on, e.last_updated_on
		from enrolments e
		join connections c on c.id = e.connection_id
		where e.id = $1 and c.organisation_id = $2 and not e.is_deleted and not c.is_deleted
	`, enrolmentID, organisationID).Scan(&e.ID, &e.ConnectionID, &e.ServiceRoleKey, &status, &e.CreatedOn, &e.LastUpdatedOn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, enrolment.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Status = enrolment.EnrolmentStatus(status)
	return &e, nil
}

func (s *Store) DelegatedDetail(ctx context.Context, enrolmentID string) (*enrolment.DelegatedPersonEnrolment, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var (
		d           enrolment.DelegatedPersonEnrolment
		relType     int
		consultancy sql.NullString
		scheme      sql.NullString
		otherOrg    sql.NullString
		otherDesc   sql.NullString
		jobTitle    sql.NullString
		nomineeDecl sql.NullString
		nomineeTime sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select enrolment_id, nominator_enrolment_id, relationship_type,
		       consultancy_name, compliance_scheme_name, other_organisation_name, other_relationship_description,
		       nominee_job_title, nominator_declaration, nominator_declaration_time,
		       nominee_declaration, nominee_declaration_time
		from delegated_person_enrolments
		where enrolment_id = $1 and not is_deleted
	`, enrolmentID).Scan(&d.EnrolmentID, &d.NominatorEnrolmentID, &relType,
		&consultancy, &scheme, &otherOrg, &otherDesc,
		&jobTitle, &d.NominatorDeclaration, &d.NominatorDeclarationTime,
		&nomineeDecl, &nomineeTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, enrolment.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.RelationshipType = enrolment.RelationshipType(relType)
	if consultancy.Valid {
		d.ConsultancyName = consultancy.String
	}
	if scheme.Valid {
		d.ComplianceSchemeName = scheme.String
	}
	if otherOrg.Valid {
		d.OtherOrganisationName = otherOrg.String
	}
	if otherDesc.Valid {
		d.OtherRelationshipDescription = otherDesc.String
	}
	if jobTitle.Valid {
		d.NomineeJobTitle = jobTitle.String
	}
	if nomineeDecl.Valid {
		d.NomineeDeclaration = nomineeDecl.String
	}
	if nomineeTime.Valid {
		d.NomineeDeclarationTime = nomineeTime.Time
	}
	return &d, nil
}

func (s *Store) SetConnectionRole(ctx context.Context, connectionID string, role enrolment.PersonRole, now time.Time) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update connections
		set person_role = $2, last_updated_on = $3
		where id = $1 and not is_deleted
	`, connectionID, int(role), now)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return enrolment.ErrNotFound
	}
	return nil
}

func (s *Store) SupersedeEnrolment(ctx context.Context, oldEnrolmentID string, replacement *enrolment.Enrolment, role enrolment.PersonRole, now time.Time) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		connectionID string
		isDeleted    bool
	)
	err = tx.QueryRowContext(ctx, `
		select connection_id, is_deleted from enrolments where id = $1 for update
	`, oldEnrolmentID).Scan(&connectionID, &isDeleted)
	if errors.Is(err, sql.ErrNoRows) {
		return enrolment.ErrNotFound
	}
	if err != nil {
		return err
	}
	if isDeleted {
		// A concurrent writer already superseded this row.
		return enrolment.ErrConflict
	}

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from connections where id = $1 and not is_deleted for update`, connectionID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return enrolment.ErrNotFound
		}
		return err
	}

	// Retire the old row, its extensions, and any live row already occupying
	// the replacement's service role slot.
	if _, err := tx.ExecContext(ctx, `
		update approved_person_enrolments set is_deleted = true
		where enrolment_id in (
			select id from enrolments
			where id = $1 or (connection_id = $2 and service_role_key = $3 and not is_deleted))
	`, oldEnrolmentID, connectionID, replacement.ServiceRoleKey); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		update delegated_person_enrolments set is_deleted = true
		where enrolment_id in (
			select id from enrolments
			where id = $1 or (connection_id = $2 and service_role_key = $3 and not is_deleted))
	`, oldEnrolmentID, connectionID, replacement.ServiceRoleKey); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		update enrolments set is_deleted = true, last_updated_on = $4
		where id = $1 or (connection_id = $2 and service_role_key = $3 and not is_deleted)
	`, oldEnrolmentID, connectionID, replacement.ServiceRoleKey, now); err != nil {
		return err
	}

	if err := insertEnrolmentTx(ctx, tx, replacement, nil, nil); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		update connections set person_role = $2, last_updated_on = $3 where id = $1
	`, connectionID, int(role), now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) AcceptNomination(ctx context.Context, enrolmentID, telephone, nomineeDeclaration string, now time.Time) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		connectionID string
		status       int
	)
	err = tx.QueryRowContext(ctx, `
		select connection_id, status from enrolments where id = $1 and not is_deleted for update
	`, enrolmentID).Scan(&connectionID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return enrolment.ErrNotFound
	}
	if err != nil {
		return err
	}
	if enrolment.EnrolmentStatus(status) != enrolment.StatusNominated {
		return enrolment.ErrConflict
	}

	var personID string
	err = tx.QueryRowContext(ctx, `
		select person_id from connections where id = $1 and not is_deleted for update
	`, connectionID).Scan(&personID)
	if errors.Is(err, sql.ErrNoRows) {
		return enrolment.ErrNotFound
	}
	if err != nil {
		return err
	}

	var jobTitle sql.NullString
	err = tx.QueryRowContext(ctx, `
		select nominee_job_title from delegated_person_enrolments where enrolment_id = $1 and not is_deleted
	`, enrolmentID).Scan(&jobTitle)
	if errors.Is(err, sql.ErrNoRows) {
		return enrolment.ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		update enrolments set status = $2, last_updated_on = $3 where id = $1
	`, enrolmentID, int(enrolment.StatusPending), now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		update connections set job_title = $2, last_updated_on = $3 where id = $1
	`, connectionID, jobTitle, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		update persons set telephone = $2, last_updated_on = $3 where id = $1
	`, personID, nullIfEmpty(telephone), now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		update delegated_person_enrolments set nominee_declaration = $2, nominee_declaration_time = $3 where enrolment_id = $1
	`, enrolmentID, nomineeDeclaration, now); err != nil {
		return err
	}
	return tx.Commit()
}
