package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"church-recruit-backend/pkg/apperrors"
	"church-recruit-backend/pkg/logger"
	"church-recruit-backend/pkg/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRecruitmentID = "7d1f3c2a-5b8e-4c1d-9a6f-0e2b4d6f8a10"
	testApplicationID = "3b9e1a7c-2d4f-4e6a-8b0c-1d3f5a7c9e21"
)

var (
	recruitmentCols = []string{"id", "church_code", "title", "content", "capacity", "applied_count", "status", "created_at", "updated_at"}
	applicationCols = []string{"id", "recruitment_id", "contact", "contact_normalized", "name", "message", "created_at", "updated_at"}
)

func newMockDatabase(t *testing.T) (*PostgresDatabase, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	return NewPostgresFromDB(sqlx.NewDb(mockDB, "postgres"), logger.NewTestLogger(t)), mock
}

func recruitmentRow(status string, capacity, applied int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(recruitmentCols).
		AddRow(testRecruitmentID, "grace", "Choir", "Sunday choir", capacity, applied, status, now, now)
}

func applicationRow(contactNormalized string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(applicationCols).
		AddRow(testApplicationID, testRecruitmentID, "010-1234-5678", contactNormalized, "Kim", nil, now, now)
}

func countRow(n int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"count"}).AddRow(n)
}

func newSubmission() models.NewApplication {
	name := "Kim"
	return models.NewApplication{
		RecruitmentID:     testRecruitmentID,
		Contact:           "010-1234-5678",
		ContactNormalized: "01012345678",
		Name:              &name,
	}
}

func TestSubmitApplication_Success(t *testing.T) {
	db, mock := newMockDatabase(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM recruitments WHERE id = \$1 FOR UPDATE`).
		WithArgs(testRecruitmentID).
		WillReturnRows(recruitmentRow("open", 2, 0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM applications WHERE recruitment_id = \$1`).
		WithArgs(testRecruitmentID).
		WillReturnRows(countRow(0))
	mock.ExpectQuery(`INSERT INTO applications`).
		WithArgs(sqlmock.AnyArg(), testRecruitmentID, "010-1234-5678", "01012345678", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(applicationRow("01012345678"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM applications WHERE recruitment_id = \$1`).
		WithArgs(testRecruitmentID).
		WillReturnRows(countRow(1))
	mock.ExpectQuery(`UPDATE recruitments SET applied_count = \$2`).
		WithArgs(testRecruitmentID, 1).
		WillReturnRows(recruitmentRow("open", 2, 1))
	mock.ExpectCommit()

	app, rec, err := db.SubmitApplication(context.Background(), newSubmission())

	require.NoError(t, err)
	assert.Equal(t, testApplicationID, app.ID)
	assert.Equal(t, "01012345678", app.ContactNormalized)
	require.NotNil(t, app.Name)
	assert.Equal(t, "Kim", *app.Name)
	assert.Nil(t, app.Message)
	assert.Equal(t, 1, rec.AppliedCount)
	assert.Equal(t, models.StatusOpen, rec.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitApplication_RecruitmentNotFound(t *testing.T) {
	db, mock := newMockDatabase(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM recruitments WHERE id = \$1 FOR UPDATE`).
		WithArgs(testRecruitmentID).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, _, err := db.SubmitApplication(context.Background(), newSubmission())

	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitApplication_Closed(t *testing.T) {
	db, mock := newMockDatabase(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM recruitments WHERE id = \$1 FOR UPDATE`).
		WithArgs(testRecruitmentID).
		WillReturnRows(recruitmentRow("closed", 2, 0))
	mock.ExpectRollback()

	_, _, err := db.SubmitApplication(context.Background(), newSubmission())

	assert.True(t, errors.Is(err, apperrors.ErrClosed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitApplication_CapacityFullUsesRowCount(t *testing.T) {
	db, mock := newMockDatabase(t)

	// applied_count 列落后于真实行数时仍以 COUNT(*) 为准
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM recruitments WHERE id = \$1 FOR UPDATE`).
		WithArgs(testRecruitmentID).
		WillReturnRows(recruitmentRow("open", 2, 0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM applications WHERE recruitment_id = \$1`).
		WithArgs(testRecruitmentID).
		WillReturnRows(countRow(2))
	mock.ExpectRollback()

	_, _, err := db.SubmitApplication(context.Background(), newSubmission())

	assert.True(t, errors.Is(err, apperrors.ErrCapacityFull))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitApplication_UniqueViolationIsAlreadyApplied(t *testing.T) {
	db, mock := newMockDatabase(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM recruitments WHERE id = \$1 FOR UPDATE`).
		WithArgs(testRecruitmentID).
		WillReturnRows(recruitmentRow("open", 5, 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM applications WHERE recruitment_id = \$1`).
		WithArgs(testRecruitmentID).
		WillReturnRows(countRow(1))
	mock.ExpectQuery(`INSERT INTO applications`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_applications_recruitment_contact"})
	mock.ExpectRollback()

	_, _, err := db.SubmitApplication(context.Background(), newSubmission())

	assert.True(t, errors.Is(err, apperrors.ErrAlreadyApplied))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitApplication_StorageErrorRollsBack(t *testing.T) {
	db, mock := newMockDatabase(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM recruitments WHERE id = \$1 FOR UPDATE`).
		WithArgs(testRecruitmentID).
		WillReturnRows(recruitmentRow("open", 5, 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM applications WHERE recruitment_id = \$1`).
		WithArgs(testRecruitmentID).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, _, err := db.SubmitApplication(context.Background(), newSubmission())

	require.Error(t, err)
	assert.Equal(t, apperrors.CodeServerError, apperrors.CodeOf(err))
	assert.True(t, errors.Is(err, sql.ErrConnDone))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitApplication_BeginFails(t *testing.T) {
	db, mock := newMockDatabase(t)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, _, err := db.SubmitApplication(context.Background(), newSubmission())

	assert.Equal(t, apperrors.CodeServerError, apperrors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawApplication_Success(t *testing.T) {
	db, mock := newMockDatabase(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM applications WHERE id = \$1$`).
		WithArgs(testApplicationID).
		WillReturnRows(applicationRow("01012345678"))
	mock.ExpectQuery(`SELECT .+ FROM recruitments WHERE id = \$1 FOR UPDATE`).
		WithArgs(testRecruitmentID).
		WillReturnRows(recruitmentRow("open", 2, 1))
	mock.ExpectExec(`DELETE FROM applications WHERE id = \$1`).
		WithArgs(testApplicationID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM applications WHERE recruitment_id = \$1`).
		WithArgs(testRecruitmentID).
		WillReturnRows(countRow(0))
	mock.ExpectQuery(`UPDATE recruitments SET applied_count = \$2`).
		WithArgs(testRecruitmentID, 0).
		WillReturnRows(recruitmentRow("open", 2, 0))
	mock.ExpectCommit()

	rec, err := db.WithdrawApplication(context.Background(), testApplicationID, "01012345678")

	require.NoError(t, err)
	assert.Equal(t, 0, rec.AppliedCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawApplication_Forbidden(t *testing.T) {
	db, mock := newMockDatabase(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM applications WHERE id = \$1$`).
		WithArgs(testApplicationID).
		WillReturnRows(applicationRow("01012345678"))
	mock.ExpectRollback()

	_, err := db.WithdrawApplication(context.Background(), testApplicationID, "01099998888")

	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawApplication_ConcurrentDeleteIsNotFound(t *testing.T) {
	db, mock := newMockDatabase(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM applications WHERE id = \$1$`).
		WithArgs(testApplicationID).
		WillReturnRows(applicationRow("01012345678"))
	mock.ExpectQuery(`SELECT .+ FROM recruitments WHERE id = \$1 FOR UPDATE`).
		WithArgs(testRecruitmentID).
		WillReturnRows(recruitmentRow("open", 2, 1))
	mock.ExpectExec(`DELETE FROM applications WHERE id = \$1`).
		WithArgs(testApplicationID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := db.WithdrawApplication(context.Background(), testApplicationID, "01012345678")

	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateApplication_ClearsBlankFields(t *testing.T) {
	db, mock := newMockDatabase(t)
	empty := ""
	msg := "see you"

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM applications WHERE id = \$1 FOR UPDATE`).
		WithArgs(testApplicationID).
		WillReturnRows(applicationRow("01012345678"))
	mock.ExpectQuery(`UPDATE applications SET name = \$2, message = \$3, updated_at = NOW\(\) WHERE id = \$1`).
		WithArgs(testApplicationID, nil, "see you").
		WillReturnRows(sqlmock.NewRows(applicationCols).
			AddRow(testApplicationID, testRecruitmentID, "010-1234-5678", "01012345678", nil, "see you", time.Now(), time.Now()))
	mock.ExpectCommit()

	app, err := db.UpdateApplication(context.Background(), testApplicationID, "01012345678",
		models.ApplicationPatch{Name: &empty, Message: &msg})

	require.NoError(t, err)
	assert.Nil(t, app.Name)
	require.NotNil(t, app.Message)
	assert.Equal(t, "see you", *app.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateApplication_NotFound(t *testing.T) {
	db, mock := newMockDatabase(t)
	name := "Lee"

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM applications WHERE id = \$1 FOR UPDATE`).
		WithArgs(testApplicationID).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := db.UpdateApplication(context.Background(), testApplicationID, "01012345678",
		models.ApplicationPatch{Name: &name})

	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindApplication_NoRowsIsNil(t *testing.T) {
	db, mock := newMockDatabase(t)

	mock.ExpectQuery(`SELECT .+ FROM applications WHERE recruitment_id = \$1 AND contact_normalized = \$2`).
		WithArgs(testRecruitmentID, "01012345678").
		WillReturnError(sql.ErrNoRows)

	app, err := db.FindApplication(context.Background(), testRecruitmentID, "01012345678")

	assert.NoError(t, err)
	assert.Nil(t, app)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRecruitment_InvalidUUIDIsNotFound(t *testing.T) {
	db, mock := newMockDatabase(t)

	mock.ExpectQuery(`SELECT .+ FROM recruitments WHERE id = \$1`).
		WithArgs("not-a-uuid").
		WillReturnError(&pq.Error{Code: "22P02"})

	_, err := db.GetRecruitment(context.Background(), "not-a-uuid")

	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRecruitment_HasApplications(t *testing.T) {
	db, mock := newMockDatabase(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM recruitments WHERE id = \$1 FOR UPDATE`).
		WithArgs(testRecruitmentID).
		WillReturnRows(recruitmentRow("open", 2, 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM applications WHERE recruitment_id = \$1`).
		WithArgs(testRecruitmentID).
		WillReturnRows(countRow(1))
	mock.ExpectRollback()

	err := db.DeleteRecruitment(context.Background(), testRecruitmentID)

	assert.True(t, errors.Is(err, apperrors.ErrHasApplications))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRecruitment_Success(t *testing.T) {
	db, mock := newMockDatabase(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM recruitments WHERE id = \$1 FOR UPDATE`).
		WithArgs(testRecruitmentID).
		WillReturnRows(recruitmentRow("closed", 2, 0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM applications WHERE recruitment_id = \$1`).
		WithArgs(testRecruitmentID).
		WillReturnRows(countRow(0))
	mock.ExpectExec(`DELETE FROM recruitments WHERE id = \$1`).
		WithArgs(testRecruitmentID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assert.NoError(t, db.DeleteRecruitment(context.Background(), testRecruitmentID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRecruitment_BuildsPartialSet(t *testing.T) {
	db, mock := newMockDatabase(t)
	capacity := 10
	status := models.StatusClosed

	mock.ExpectQuery(`UPDATE recruitments SET capacity = \$2, status = \$3, updated_at = NOW\(\) WHERE id = \$1`).
		WithArgs(testRecruitmentID, 10, "closed").
		WillReturnRows(recruitmentRow("closed", 10, 3))

	rec, err := db.UpdateRecruitment(context.Background(), testRecruitmentID,
		models.RecruitmentPatch{Capacity: &capacity, Status: &status})

	require.NoError(t, err)
	assert.Equal(t, 10, rec.Capacity)
	assert.Equal(t, models.StatusClosed, rec.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeRecruitments(t *testing.T) {
	db, mock := newMockDatabase(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM applications WHERE recruitment_id = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM recruitments WHERE id = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	recs, apps, err := db.PurgeRecruitments(context.Background(), []string{"a", "b"})

	require.NoError(t, err)
	assert.Equal(t, 2, recs)
	assert.Equal(t, 3, apps)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListApplicationsByContact(t *testing.T) {
	db, mock := newMockDatabase(t)
	now := time.Now()

	mock.ExpectQuery(`FROM applications a\s+JOIN recruitments r ON r.id = a.recruitment_id`).
		WithArgs("foo@example.com").
		WillReturnRows(sqlmock.NewRows(append(append([]string{}, applicationCols...), "recruitment_title", "recruitment_status")).
			AddRow(testApplicationID, testRecruitmentID, "Foo@Example.com", "foo@example.com", nil, nil, now, now, "Choir", "open"))

	items, err := db.ListApplicationsByContact(context.Background(), "foo@example.com")

	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Choir", items[0].Recruitment.Title)
	assert.Equal(t, testRecruitmentID, items[0].Recruitment.ID)
	assert.Equal(t, models.StatusOpen, items[0].Recruitment.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertUser(t *testing.T) {
	db, mock := newMockDatabase(t)
	existingID := "0f0e0d0c-0b0a-4908-8706-050403020100"

	mock.ExpectQuery(`INSERT INTO users .+ ON CONFLICT \(church_code, name, phone_last4\)`).
		WithArgs(sqlmock.AnyArg(), "grace", "Kim", "5678").
		WillReturnRows(sqlmock.NewRows([]string{"id", "church_code", "name", "phone_last4", "created_at"}).
			AddRow(existingID, "grace", "Kim", "5678", time.Now()))

	u := &models.User{ChurchCode: "grace", Name: "Kim", PhoneLast4: "5678"}
	require.NoError(t, db.UpsertUser(context.Background(), u))
	assert.Equal(t, existingID, u.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
