package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/phlaster/biokeeper-backend/internal/domain"
)

// kit of 5 -> activate without owner fails -> send -> activate -> open research -> submit QR #3 -> resubmit fails
func TestSampleScenario_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	kit, err := f.kits.CreateKit(ctx, CreateKitRequest{QRCount: 5, CreatorID: adminID})
	require.NoError(t, err)

	_, err = f.kits.ActivateKit(ctx, ActivateKitRequest{KitID: kit.ID, RequesterID: volunteerID})
	requireKind(t, err, domain.ErrForbidden)

	_, err = f.kits.SendKit(ctx, SendKitRequest{KitID: kit.ID, NewOwnerID: volunteerID, RequesterID: adminID})
	require.NoError(t, err)
	_, err = f.kits.ActivateKit(ctx, ActivateKitRequest{KitID: kit.ID, RequesterID: volunteerID})
	require.NoError(t, err)

	approval := false
	r, err := f.researches.CreateResearch(ctx, CreateResearchRequest{Name: "R", CreatorID: adminID, DayStart: f.now, ApprovalRequired: &approval})
	require.NoError(t, err)
	assert.Equal(t, domain.ResearchPending, r.Status)
	r, err = f.researches.StartResearch(ctx, r.ID, adminID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResearchOngoing, r.Status)

	qr3 := kit.QRCodes[2].UniqueHex
	sample, err := f.submit(qr3, r.ID, volunteerID)
	require.NoError(t, err)
	assert.Equal(t, domain.SampleCollected, sample.Status)

	qr, err := f.kits.GetQRInfo(ctx, qr3)
	require.NoError(t, err)
	assert.True(t, qr.IsUsed)

	user, err := f.users.GetUser(ctx, volunteerID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.SamplesCollected)

	info, err := f.researches.GetResearchInfo(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.SampleCount)

	_, err = f.submit(qr3, r.ID, volunteerID)
	requireKind(t, err, domain.ErrConflict)

	assert.Equal(t, []int64{sample.ID}, f.queue.ids)
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, EventCommitted, f.notifier.events[0].Event)
}

func TestSubmitSample_EveryQROnce(t *testing.T) {
	f := newFixture(t)
	kit := f.activatedKit(t, volunteerID, 4)
	r := f.ongoingResearch(t, "open", false)

	for _, qr := range kit.QRCodes {
		_, err := f.submit(qr.UniqueHex, r.ID, volunteerID)
		require.NoError(t, err)
	}
	for _, qr := range kit.QRCodes {
		_, err := f.submit(qr.UniqueHex, r.ID, volunteerID)
		requireKind(t, err, domain.ErrConflict)
	}

	samples, err := f.samples.ListSamples(context.Background(), domain.Caller{UserID: adminID, Role: domain.RoleAdmin}, SampleListFilter{ResearchID: r.ID})
	require.NoError(t, err)
	assert.Len(t, samples, 4)
}

func TestSubmitSample_Gates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	kit := f.activatedKit(t, volunteerID, 5)
	gated := f.ongoingResearch(t, "gated", true)
	open := f.ongoingResearch(t, "open", false)
	qr := kit.QRCodes[0].UniqueHex

	// 1. research
	_, err := f.submit(qr, 999, volunteerID)
	requireKind(t, err, domain.ErrNotFound)
	_, err = f.submit(qr, gated.ID, volunteerID)
	requireKind(t, err, domain.ErrForbidden)

	paused, err := f.researches.CreateResearch(ctx, CreateResearchRequest{Name: "pending", CreatorID: adminID, DayStart: f.now, ApprovalRequired: new(bool)})
	require.NoError(t, err)
	_, err = f.submit(qr, paused.ID, volunteerID)
	requireKind(t, err, domain.ErrConflict)

	// 2. qr
	_, err = f.submit("00000000000000000000", open.ID, volunteerID)
	requireKind(t, err, domain.ErrNotFound)
	loose := f.store.AddLooseQR("11111111111111111111")
	_, err = f.submit(loose.UniqueHex, open.ID, volunteerID)
	requireKind(t, err, domain.ErrConflict)

	// 3. kit
	_, err = f.submit(qr, open.ID, otherVolID)
	requireKind(t, err, domain.ErrForbidden)

	unsent, err := f.kits.CreateKit(ctx, CreateKitRequest{QRCount: 1, CreatorID: adminID})
	require.NoError(t, err)
	_, err = f.submit(unsent.QRCodes[0].UniqueHex, open.ID, volunteerID)
	requireKind(t, err, domain.ErrForbidden)

	sent, err := f.kits.CreateKit(ctx, CreateKitRequest{QRCount: 1, CreatorID: adminID})
	require.NoError(t, err)
	_, err = f.kits.SendKit(ctx, SendKitRequest{KitID: sent.ID, NewOwnerID: volunteerID, RequesterID: adminID})
	require.NoError(t, err)
	_, err = f.submit(sent.QRCodes[0].UniqueHex, open.ID, volunteerID)
	requireKind(t, err, domain.ErrConflict)

	// 4. gps
	_, err = f.samples.SubmitSample(ctx, SubmitSampleRequest{
		QRHex: qr, ResearchID: open.ID, SubmitterID: volunteerID,
		CollectedAt: f.now, GPS: domain.GPS{Latitude: 90.0001, Longitude: 0},
	})
	requireKind(t, err, domain.ErrInvalidInput)

	// none of the rejections consumed anything
	info, err := f.kits.GetQRInfo(ctx, qr)
	require.NoError(t, err)
	assert.False(t, info.IsUsed)
	user, err := f.users.GetUser(ctx, volunteerID)
	require.NoError(t, err)
	assert.Zero(t, user.SamplesCollected)
	assert.Empty(t, f.queue.ids)

	// boundary coordinate is accepted
	_, err = f.samples.SubmitSample(ctx, SubmitSampleRequest{
		QRHex: qr, ResearchID: open.ID, SubmitterID: volunteerID,
		CollectedAt: f.now, GPS: domain.GPS{Latitude: 90, Longitude: 180},
	})
	require.NoError(t, err)

	// participant of a gated research may submit
	require.NoError(t, f.researches.SendRequest(ctx, gated.ID, volunteerID))
	require.NoError(t, f.researches.ApproveRequest(ctx, gated.ID, volunteerID, adminID))
	_, err = f.submit(kit.QRCodes[1].UniqueHex, gated.ID, volunteerID)
	require.NoError(t, err)
}

func TestSubmitSample_DemotedOwnerForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	kit := f.activatedKit(t, volunteerID, 1)
	open := f.ongoingResearch(t, "open", false)

	_, err := f.users.SetRole(ctx, SetRoleRequest{UserID: volunteerID, Role: domain.RoleObserver, RequesterID: adminID})
	require.NoError(t, err)

	_, err = f.submit(kit.QRCodes[0].UniqueHex, open.ID, volunteerID)
	requireKind(t, err, domain.ErrForbidden)

	info, err := f.kits.GetQRInfo(ctx, kit.QRCodes[0].UniqueHex)
	require.NoError(t, err)
	assert.False(t, info.IsUsed)
	n, err := f.samples.CountSamples(ctx, "all")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubmitSample_ConcurrentSameQR(t *testing.T) {
	f := newFixture(t)
	kit := f.activatedKit(t, volunteerID, 1)
	r := f.ongoingResearch(t, "open", false)
	qr := kit.QRCodes[0].UniqueHex

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.submit(qr, r.ID, volunteerID)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.Is(err, domain.ErrConflict), err)
	}
	assert.Equal(t, 1, wins)

	user, err := f.users.GetUser(context.Background(), volunteerID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.SamplesCollected)
}

func TestSubmitSample_ConcurrentDistinctQRsCountersExact(t *testing.T) {
	f := newFixture(t)
	const k = 20
	kit := f.activatedKit(t, volunteerID, k)
	r := f.ongoingResearch(t, "open", false)

	var wg sync.WaitGroup
	for _, qr := range kit.QRCodes {
		wg.Add(1)
		go func(hex string) {
			defer wg.Done()
			_, err := f.submit(hex, r.ID, volunteerID)
			assert.NoError(t, err)
		}(qr.UniqueHex)
	}
	wg.Wait()

	user, err := f.users.GetUser(context.Background(), volunteerID)
	require.NoError(t, err)
	assert.Equal(t, int64(k), user.SamplesCollected)

	info, err := f.researches.GetResearchInfo(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(k), info.SampleCount)
}

func TestSubmitSample_EnqueueFailureIsNotReturned(t *testing.T) {
	f := newFixture(t)
	f.queue.err = errors.New("redis down")
	kit := f.activatedKit(t, volunteerID, 1)
	r := f.ongoingResearch(t, "open", false)

	sample, err := f.submit(kit.QRCodes[0].UniqueHex, r.ID, volunteerID)
	require.NoError(t, err)
	assert.NotZero(t, sample.ID)
}

func TestSampleChangeStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	kit := f.activatedKit(t, volunteerID, 1)
	r := f.ongoingResearch(t, "open", false)
	sample, err := f.submit(kit.QRCodes[0].UniqueHex, r.ID, volunteerID)
	require.NoError(t, err)

	_, err = f.samples.ChangeStatus(ctx, sample.ID, "lost")
	requireKind(t, err, domain.ErrNotFound)
	_, err = f.samples.ChangeStatus(ctx, 999, domain.SampleSent)
	requireKind(t, err, domain.ErrNotFound)

	got, err := f.samples.ChangeStatus(ctx, sample.ID, domain.SampleSent)
	require.NoError(t, err)
	assert.Equal(t, domain.SampleSent, got.Status)
	require.NotNil(t, got.SentToLabAt)

	again, err := f.samples.ChangeStatus(ctx, sample.ID, domain.SampleSent)
	require.NoError(t, err)
	assert.Equal(t, got.UpdatedAt, again.UpdatedAt)

	got, err = f.samples.ChangeStatus(ctx, sample.ID, domain.SampleDelivered)
	require.NoError(t, err)
	require.NotNil(t, got.DeliveredToLabAt)

	_, err = f.samples.ChangeStatus(ctx, sample.ID, domain.SampleCollected)
	requireKind(t, err, domain.ErrConflict)

	n, err := f.samples.CountSamples(ctx, domain.SampleDelivered)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var changes int
	for _, e := range f.notifier.events {
		if e.Event == EventStatusChanged {
			changes++
		}
	}
	assert.Equal(t, 2, changes)
}

func TestSamplePushesAndReads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	kit := f.activatedKit(t, volunteerID, 1)
	r := f.ongoingResearch(t, "open", false)
	sample, err := f.submit(kit.QRCodes[0].UniqueHex, r.ID, volunteerID)
	require.NoError(t, err)

	owner := domain.Caller{UserID: volunteerID, Role: domain.RoleVolunteer}
	admin := domain.Caller{UserID: adminID, Role: domain.RoleAdmin}
	stranger := domain.Caller{UserID: otherVolID, Role: domain.RoleVolunteer}
	observer := domain.Caller{UserID: observerID, Role: domain.RoleObserver}

	requireKind(t, f.samples.PushComment(ctx, 999, "x"), domain.ErrNotFound)
	require.NoError(t, f.samples.PushComment(ctx, sample.ID, "wet"))
	require.NoError(t, f.samples.PushComment(ctx, sample.ID, "wet"))
	require.NoError(t, f.samples.PushWeather(ctx, sample.ID, `{"t":1}`))
	require.NoError(t, f.samples.PushPhoto(ctx, sample.ID, []byte{0xff, 0xd8}))
	requireKind(t, f.samples.PushPhoto(ctx, sample.ID, nil), domain.ErrInvalidInput)

	got, err := f.samples.GetSampleInfo(ctx, sample.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, "wet", *got.Comment)
	assert.True(t, got.HasPhoto)

	_, err = f.samples.GetSampleInfo(ctx, sample.ID, stranger)
	requireKind(t, err, domain.ErrForbidden)
	_, err = f.samples.GetSampleInfo(ctx, sample.ID, observer)
	requireKind(t, err, domain.ErrForbidden)

	photo, err := f.samples.GetPhoto(ctx, sample.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, photo)

	weather, err := f.samples.GetWeather(ctx, sample.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, `{"t":1}`, weather)

	list, err := f.samples.ListSamples(ctx, stranger, SampleListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	_, err = f.samples.ListSamples(ctx, observer, SampleListFilter{})
	requireKind(t, err, domain.ErrForbidden)
	_, err = f.samples.ListSamples(ctx, stranger, SampleListFilter{OwnerID: volunteerID})
	requireKind(t, err, domain.ErrForbidden)
}

func TestExportResearchSamples(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	kit := f.activatedKit(t, volunteerID, 2)
	r := f.ongoingResearch(t, "open", false)
	for _, qr := range kit.QRCodes {
		_, err := f.submit(qr.UniqueHex, r.ID, volunteerID)
		require.NoError(t, err)
	}

	_, err := f.samples.ExportResearchSamples(ctx, r.ID, domain.Caller{UserID: volunteerID, Role: domain.RoleVolunteer})
	requireKind(t, err, domain.ErrForbidden)

	data, err := f.samples.ExportResearchSamples(ctx, r.ID, domain.Caller{UserID: adminID, Role: domain.RoleAdmin})
	require.NoError(t, err)

	book, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer book.Close()
	rows, err := book.GetRows(sampleSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, SampleExportHeader[0], rows[0][0])
	assert.Equal(t, domain.SampleCollected, rows[1][6])
	assert.Equal(t, f.now.Add(-time.Hour).Format(time.DateTime), rows[1][3])
}
