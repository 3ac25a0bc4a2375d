package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"enrolhub.org/internal/enrolment"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestOrganisationNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select id, name, organisation_type").WithArgs("org-1").WillReturnError(sql.ErrNoRows)

	if _, err := store.Organisation(context.Background(), "org-1"); !errors.Is(err, enrolment.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateEnrolmentSlotConflict(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from connections").WithArgs("conn-1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("insert into enrolments").
		WithArgs("enrol-1", "conn-1", enrolment.ServiceRolePackagingBasicUser, int(enrolment.StatusEnrolled), now, now).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectRollback()

	err := store.CreateEnrolment(context.Background(), &enrolment.Enrolment{
		ID:             "enrol-1",
		ConnectionID:   "conn-1",
		ServiceRoleKey: enrolment.ServiceRolePackagingBasicUser,
		Status:         enrolment.StatusEnrolled,
		CreatedOn:      now,
		LastUpdatedOn:  now,
	}, nil, nil)
	if !errors.Is(err, enrolment.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSupersedeEnrolmentDetectsConcurrentWriter(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select connection_id, is_deleted from enrolments").WithArgs("enrol-1").
		WillReturnRows(sqlmock.NewRows([]string{"connection_id", "is_deleted"}).AddRow("conn-1", true))
	mock.ExpectRollback()

	err := store.SupersedeEnrolment(context.Background(), "enrol-1", &enrolment.Enrolment{
		ID:             "enrol-2",
		ConnectionID:   "conn-1",
		ServiceRoleKey: enrolment.ServiceRolePackagingBasicUser,
		Status:         enrolment.StatusApproved,
	}, enrolment.PersonRoleMember, time.Now().UTC())
	if !errors.Is(err, enrolment.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSupersedeEnrolmentCommitsAllRowChanges(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("select connection_id, is_deleted from enrolments").WithArgs("enrol-1").
		WillReturnRows(sqlmock.NewRows([]string{"connection_id", "is_deleted"}).AddRow("conn-1", false))
	mock.ExpectQuery("select 1 from connections").WithArgs("conn-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("update approved_person_enrolments set is_deleted").
		WithArgs("enrol-1", "conn-1", enrolment.ServiceRolePackagingBasicUser).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("update delegated_person_enrolments set is_deleted").
		WithArgs("enrol-1", "conn-1", enrolment.ServiceRolePackagingBasicUser).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update enrolments set is_deleted").
		WithArgs("enrol-1", "conn-1", enrolment.ServiceRolePackagingBasicUser, now).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("insert into enrolments").
		WithArgs("enrol-2", "conn-1", enrolment.ServiceRolePackagingBasicUser, int(enrolment.StatusApproved), now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("update connections set person_role").
		WithArgs("conn-1", int(enrolment.PersonRoleMember), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.SupersedeEnrolment(context.Background(), "enrol-1", &enrolment.Enrolment{
		ID:             "enrol-2",
		ConnectionID:   "conn-1",
		ServiceRoleKey: enrolment.ServiceRolePackagingBasicUser,
		Status:         enrolment.StatusApproved,
		CreatedOn:      now,
		LastUpdatedOn:  now,
	}, enrolment.PersonRoleMember, now)
	if err != nil {
		t.Fatalf("SupersedeEnrolment: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAcceptNominationRequiresNominatedStatus(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select connection_id, status from enrolments").WithArgs("enrol-1").
		WillReturnRows(sqlmock.NewRows([]string{"connection_id", "status"}).AddRow("conn-1", int(enrolment.StatusPending)))
	mock.ExpectRollback()

	err := store.AcceptNomination(context.Background(), "enrol-1", "01234000000", "Jane Doe", time.Now().UTC())
	if !errors.Is(err, enrolment.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
