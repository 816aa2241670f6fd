package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"church-recruit-backend/pkg/apperrors"
	"church-recruit-backend/pkg/database"
	"church-recruit-backend/pkg/logger"
	"church-recruit-backend/pkg/metrics"
	"church-recruit-backend/pkg/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db           *database.LocalDatabase
	metrics      *metrics.Metrics
	applications *ApplicationService
	recruitments *RecruitmentService
	identity     *IdentityService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewTestLogger(t)
	db := database.NewLocalDatabase("", log)
	m := metrics.New(prometheus.NewRegistry())
	return &fixture{
		db:           db,
		metrics:      m,
		applications: NewApplicationService(db, log, m),
		recruitments: NewRecruitmentService(db, log, m, true),
		identity:     NewIdentityService(db, log),
	}
}

func (f *fixture) posting(t *testing.T, capacity int) *models.Recruitment {
	t.Helper()
	r, err := f.recruitments.Create(context.Background(), "grace", models.CreateRecruitmentRequest{
		Title:       "Choir",
		Description: "Sunday choir",
		Capacity:    capacity,
	})
	require.NoError(t, err)
	return r
}

func phone(i int) string {
	return fmt.Sprintf("010-1234-%04d", i)
}

func strPtr(s string) *string { return &s }

func TestSubmit_CapacityFull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.posting(t, 3)

	for i := 0; i < 3; i++ {
		res, err := f.applications.Submit(ctx, models.SubmitApplicationRequest{RecruitmentID: r.ID, Contact: phone(i)})
		require.NoError(t, err)
		assert.Equal(t, i+1, res.AppliedCount)
		assert.Equal(t, 3, res.Capacity)
	}

	_, err := f.applications.Submit(ctx, models.SubmitApplicationRequest{RecruitmentID: r.ID, Contact: phone(99)})
	assert.True(t, errors.Is(err, apperrors.ErrCapacityFull))

	got, err := f.recruitments.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.AppliedCount)

	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.Submissions.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Submissions.WithLabelValues("capacity_full")))
}

func TestSubmit_DuplicateAcrossFormats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.posting(t, 5)

	res, err := f.applications.Submit(ctx, models.SubmitApplicationRequest{
		RecruitmentID: r.ID,
		Contact:       " 010-1234-5678 ",
		Name:          strPtr("  Kim "),
	})
	require.NoError(t, err)
	assert.Equal(t, "010-1234-5678", res.Application.Contact)
	assert.Equal(t, "01012345678", res.ContactNormalized)
	require.NotNil(t, res.Application.Name)
	assert.Equal(t, "Kim", *res.Application.Name)

	_, err = f.applications.Submit(ctx, models.SubmitApplicationRequest{RecruitmentID: r.ID, Contact: "(010) 1234 5678"})
	assert.True(t, errors.Is(err, apperrors.ErrAlreadyApplied))

	got, err := f.recruitments.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AppliedCount)
}

func TestSubmit_EmailCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.posting(t, 5)

	_, err := f.applications.Submit(ctx, models.SubmitApplicationRequest{RecruitmentID: r.ID, Contact: "Foo@Example.com"})
	require.NoError(t, err)
	_, err = f.applications.Submit(ctx, models.SubmitApplicationRequest{RecruitmentID: r.ID, Contact: "foo@example.COM"})
	assert.True(t, errors.Is(err, apperrors.ErrAlreadyApplied))
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.posting(t, 5)

	tests := []struct {
		name string
		req  models.SubmitApplicationRequest
		code apperrors.ErrorCode
	}{
		{"missing recruitment", models.SubmitApplicationRequest{Contact: phone(1)}, apperrors.CodeValidation},
		{"missing contact", models.SubmitApplicationRequest{RecruitmentID: r.ID, Contact: "  "}, apperrors.CodeValidation},
		{"short phone", models.SubmitApplicationRequest{RecruitmentID: r.ID, Contact: "123-4567"}, apperrors.CodeValidation},
		{"bad email", models.SubmitApplicationRequest{RecruitmentID: r.ID, Contact: "foo@bar"}, apperrors.CodeValidation},
		{"malformed id", models.SubmitApplicationRequest{RecruitmentID: "nope", Contact: phone(1)}, apperrors.CodeNotFound},
		{"unknown id", models.SubmitApplicationRequest{RecruitmentID: "7d0b8a52-3f8e-4a39-9a0f-3a1b2c3d4e5f", Contact: phone(1)}, apperrors.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.applications.Submit(ctx, tt.req)
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
		})
	}

	got, err := f.recruitments.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AppliedCount)
}

func TestSubmit_Closed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.posting(t, 5)

	_, err := f.recruitments.SetStatus(ctx, "grace", r.ID, models.StatusClosed)
	require.NoError(t, err)

	_, err = f.applications.Submit(ctx, models.SubmitApplicationRequest{RecruitmentID: r.ID, Contact: phone(1)})
	assert.True(t, errors.Is(err, apperrors.ErrClosed))
}

func TestSubmit_ConcurrentCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const capacity, attempts = 5, 40
	r := f.posting(t, capacity)

	var wg sync.WaitGroup
	var mu sync.Mutex
	outcomes := map[apperrors.ErrorCode]int{}

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.applications.Submit(ctx, models.SubmitApplicationRequest{RecruitmentID: r.ID, Contact: phone(i)})
			mu.Lock()
			outcomes[apperrors.CodeOf(err)]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, capacity, outcomes[""])
	assert.Equal(t, attempts-capacity, outcomes[apperrors.CodeCapacityFull])

	got, err := f.recruitments.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, capacity, got.AppliedCount)
}

func TestSubmit_ConcurrentSameContact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.posting(t, 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.applications.Submit(ctx, models.SubmitApplicationRequest{RecruitmentID: r.ID, Contact: phone(7)}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
}

func TestLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.posting(t, 5)

	app, err := f.applications.Lookup(ctx, r.ID, phone(1))
	require.NoError(t, err)
	assert.Nil(t, app)

	res, err := f.applications.Submit(ctx, models.SubmitApplicationRequest{RecruitmentID: r.ID, Contact: phone(1)})
	require.NoError(t, err)

	app, err = f.applications.Lookup(ctx, r.ID, "01012340001")
	require.NoError(t, err)
	require.NotNil(t, app)
	assert.Equal(t, res.Application.ID, app.ID)

	app, err = f.applications.Lookup(ctx, "not-a-uuid", phone(1))
	require.NoError(t, err)
	assert.Nil(t, app)

	_, err = f.applications.Lookup(ctx, r.ID, "")
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

func TestListForContact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.posting(t, 5)
	b := f.posting(t, 5)

	_, err := f.applications.Submit(ctx, models.SubmitApplicationRequest{RecruitmentID: a.ID, Contact: phone(1)})
	require.NoError(t, err)
	_, err = f.applications.Submit(ctx, models.SubmitApplicationRequest{RecruitmentID: b.ID, Contact: phone(1)})
	require.NoError(t, err)
	_, err = f.applications.Submit(ctx, models.SubmitApplicationRequest{RecruitmentID: b.ID, Contact: phone(2)})
	require.NoError(t, err)

	items, err := f.applications.ListForContact(ctx, "010 1234 0001")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, b.ID, items[0].Recruitment.ID, "newest first")
	assert.Equal(t, "Choir", items[0].Recruitment.Title)
	assert.Equal(t, a.ID, items[1].RecruitmentID)
}

func TestEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.posting(t, 5)

	res, err := f.applications.Submit(ctx, models.SubmitApplicationRequest{
		RecruitmentID: r.ID,
		Contact:       phone(1),
		Name:          strPtr("Kim"),
		Message:       strPtr("hello"),
	})
	require.NoError(t, err)
	id := res.Application.ID

	app, err := f.applications.Edit(ctx, id, models.EditApplicationRequest{Contact: phone(1), Name: strPtr("Lee")})
	require.NoError(t, err)
	assert.Equal(t, "Lee", *app.Name)
	require.NotNil(t, app.Message, "nil keeps the message")
	assert.Equal(t, "hello", *app.Message)

	app, err = f.applications.Edit(ctx, id, models.EditApplicationRequest{Contact: phone(1), Message: strPtr("   ")})
	require.NoError(t, err)
	assert.Nil(t, app.Message, "blank clears the message")

	_, err = f.applications.Edit(ctx, id, models.EditApplicationRequest{Contact: phone(2), Name: strPtr("Park")})
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))

	_, err = f.applications.Edit(ctx, "7d0b8a52-3f8e-4a39-9a0f-3a1b2c3d4e5f", models.EditApplicationRequest{Contact: phone(1)})
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LifecycleOps.WithLabelValues(OpEdit, "forbidden")))
}

func TestWithdrawThenResubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.posting(t, 1)

	res, err := f.applications.Submit(ctx, models.SubmitApplicationRequest{RecruitmentID: r.ID, Contact: phone(1)})
	require.NoError(t, err)

	_, err = f.applications.Withdraw(ctx, res.Application.ID, phone(2))
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))

	rec, err := f.applications.Withdraw(ctx, res.Application.ID, "01012340001")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.AppliedCount)

	_, err = f.applications.Withdraw(ctx, res.Application.ID, phone(1))
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	again, err := f.applications.Submit(ctx, models.SubmitApplicationRequest{RecruitmentID: r.ID, Contact: phone(1)})
	require.NoError(t, err)
	assert.Equal(t, 1, again.AppliedCount)
}

func TestSubmit_CancelledContext(t *testing.T) {
	f := newFixture(t)
	r := f.posting(t, 5)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, err := f.applications.Submit(ctx, models.SubmitApplicationRequest{RecruitmentID: r.ID, Contact: phone(1)})
	assert.Equal(t, apperrors.CodeServerError, apperrors.CodeOf(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Submissions.WithLabelValues("server_error")))
}

func TestRecruitment_CreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.recruitments.Create(ctx, "grace", models.CreateRecruitmentRequest{Title: " ", Description: "x", Capacity: 1})
	assert.Contains(t, apperrors.FieldsOf(err), "title")

	_, err = f.recruitments.Create(ctx, "grace", models.CreateRecruitmentRequest{Title: "t", Description: "x", Capacity: 0})
	assert.Contains(t, apperrors.FieldsOf(err), "capacity")

	_, err = f.recruitments.Create(ctx, "grace", models.CreateRecruitmentRequest{Title: "???", Description: "x", Capacity: 1})
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	r, err := f.recruitments.Create(ctx, "grace", models.CreateRecruitmentRequest{Title: " Choir ", Content: " body ", Capacity: 2})
	require.NoError(t, err)
	assert.Equal(t, "Choir", r.Title)
	assert.Equal(t, "body", r.Content)
	assert.Equal(t, models.StatusOpen, r.Status)
	assert.Equal(t, 0, r.AppliedCount)
}

func TestRecruitment_UpdateAndTenancy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.posting(t, 5)

	_, err := f.recruitments.Update(ctx, "grace", r.ID, models.UpdateRecruitmentRequest{})
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	_, err = f.recruitments.Update(ctx, "grace", r.ID, models.UpdateRecruitmentRequest{Title: strPtr("  ")})
	assert.Contains(t, apperrors.FieldsOf(err), "title")

	bad := "paused"
	_, err = f.recruitments.Update(ctx, "grace", r.ID, models.UpdateRecruitmentRequest{Status: &bad})
	assert.Contains(t, apperrors.FieldsOf(err), "status")

	capacity := 1
	updated, err := f.recruitments.Update(ctx, "grace", r.ID, models.UpdateRecruitmentRequest{Capacity: &capacity})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Capacity)
	assert.Equal(t, "Choir", updated.Title)

	_, err = f.recruitments.Update(ctx, "other", r.ID, models.UpdateRecruitmentRequest{Capacity: &capacity})
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))

	_, err = f.recruitments.AdminGet(ctx, "other", r.ID)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
}

func TestRecruitment_CapacityLoweredBelowCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.posting(t, 5)

	for i := 0; i < 3; i++ {
		_, err := f.applications.Submit(ctx, models.SubmitApplicationRequest{RecruitmentID: r.ID, Contact: phone(i)})
		require.NoError(t, err)
	}

	capacity := 2
	updated, err := f.recruitments.Update(ctx, "grace", r.ID, models.UpdateRecruitmentRequest{Capacity: &capacity})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.AppliedCount)
	assert.Equal(t, 0, updated.Remaining())

	_, err = f.applications.Submit(ctx, models.SubmitApplicationRequest{RecruitmentID: r.ID, Contact: phone(9)})
	assert.True(t, errors.Is(err, apperrors.ErrCapacityFull))
}

func TestRecruitment_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.posting(t, 5)

	res, err := f.applications.Submit(ctx, models.SubmitApplicationRequest{RecruitmentID: r.ID, Contact: phone(1)})
	require.NoError(t, err)

	err = f.recruitments.Delete(ctx, "grace", r.ID)
	assert.True(t, errors.Is(err, apperrors.ErrHasApplications))

	_, err = f.applications.Withdraw(ctx, res.Application.ID, phone(1))
	require.NoError(t, err)

	require.NoError(t, f.recruitments.Delete(ctx, "grace", r.ID))
	_, err = f.recruitments.Get(ctx, r.ID)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestRecruitment_ApplicationsAndExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.posting(t, 5)

	_, err := f.applications.Submit(ctx, models.SubmitApplicationRequest{RecruitmentID: r.ID, Contact: phone(1), Name: strPtr("Kim")})
	require.NoError(t, err)
	_, err = f.applications.Submit(ctx, models.SubmitApplicationRequest{RecruitmentID: r.ID, Contact: "a@b.co", Message: strPtr("hi, \"there\"")})
	require.NoError(t, err)

	items, err := f.recruitments.Applications(ctx, "grace", r.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a@b.co", items[0].Contact, "newest first")

	var buf bytes.Buffer
	require.NoError(t, f.recruitments.Export(ctx, "grace", r.ID, FormatCSV, &buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "contact,name,message,createdAt", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], `a@b.co,,"hi, ""there""",`))
	assert.True(t, strings.HasPrefix(lines[2], "010-1234-0001,Kim,,"))

	buf.Reset()
	require.NoError(t, f.recruitments.Export(ctx, "grace", r.ID, FormatTSV, &buf))
	assert.True(t, strings.HasPrefix(buf.String(), "contact\tname\tmessage\tcreatedAt\n"))

	err = f.recruitments.Export(ctx, "other", r.ID, FormatCSV, &buf)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
}

func TestParseExportFormat(t *testing.T) {
	got, err := ParseExportFormat(" TSV ")
	require.NoError(t, err)
	assert.Equal(t, FormatTSV, got)

	_, err = ParseExportFormat("xlsx")
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

func TestCleanupCorrupt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	good := f.posting(t, 5)

	// 模拟编码损坏的历史数据（绕过 Create 的校验）
	broken := &models.Recruitment{ChurchCode: "grace", Title: "??? ???", Content: "body", Capacity: 5}
	require.NoError(t, f.db.CreateRecruitment(ctx, broken))
	foreign := &models.Recruitment{ChurchCode: "other", Title: "???", Content: "body", Capacity: 5}
	require.NoError(t, f.db.CreateRecruitment(ctx, foreign))

	_, err := f.applications.Submit(ctx, models.SubmitApplicationRequest{RecruitmentID: broken.ID, Contact: phone(1)})
	require.NoError(t, err)

	res, err := f.recruitments.CleanupCorrupt(ctx, "grace")
	require.NoError(t, err)
	assert.Equal(t, []string{broken.ID}, res.CorruptedIDs)
	assert.Equal(t, 1, res.DeletedRecruitments)
	assert.Equal(t, 1, res.DeletedApplications)

	_, err = f.recruitments.Get(ctx, good.ID)
	assert.NoError(t, err)
	_, err = f.recruitments.Get(ctx, foreign.ID)
	assert.NoError(t, err, "other tenants are untouched")

	disabled := NewRecruitmentService(f.db, nil, f.metrics, false)
	_, err = disabled.CleanupCorrupt(ctx, "grace")
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
}

func TestIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.identity.Identify(ctx, models.IdentifyRequest{ChurchCode: "grace", Name: " Kim ", PhoneLast4: "5678"})
	require.NoError(t, err)
	assert.Equal(t, "Kim", u.Name)

	again, err := f.identity.Identify(ctx, models.IdentifyRequest{ChurchCode: "grace", Name: "Kim", PhoneLast4: "5678"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)

	_, err = f.identity.Identify(ctx, models.IdentifyRequest{ChurchCode: "grace", Name: "Kim", PhoneLast4: "56a8"})
	assert.Contains(t, apperrors.FieldsOf(err), "phoneLast4")

	me, err := f.identity.Me(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, me.ID)

	_, err = f.identity.Me(ctx, "7d0b8a52-3f8e-4a39-9a0f-3a1b2c3d4e5f")
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
}
