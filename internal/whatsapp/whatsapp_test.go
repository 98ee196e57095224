package whatsapp

import (
	"context"
	"testing"
	"time"

	"leadhub/internal/common"
	"leadhub/internal/jobs"
	"leadhub/internal/lead"
	"leadhub/internal/tenant"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const inboundBody = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "waba-1",
    "changes": [
      {"field": "messages", "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550001111", "phone_number_id": "pn-1"},
        "contacts": [{"wa_id": "4915112345678", "profile": {"name": "Ada"}}],
        "messages": [
          {"id": "wamid.1", "from": "4915112345678", "timestamp": "1772366400", "type": "text", "text": {"body": "Is this available?"}},
          {"id": "wamid.2", "from": "4915112345678", "timestamp": "1772366460", "type": "image"}
        ]
      }},
      {"field": "messages", "value": {
        "metadata": {"phone_number_id": "pn-other"},
        "messages": [{"id": "wamid.3", "from": "15559998888", "timestamp": "1772366400", "type": "text", "text": {"body": "hi"}}]
      }},
      {"field": "statuses", "value": {"statuses": [{"id": "wamid.0", "status": "read"}]}}
    ]
  }]
}`

func TestDecodeWebhook(t *testing.T) {
	messages, err := DecodeWebhook([]byte(inboundBody))
	require.NoError(t, err)
	require.Len(t, messages, 3)

	assert.Equal(t, InboundMessage{
		MessageID:     "wamid.1",
		PhoneNumberID: "pn-1",
		From:          "+4915112345678",
		Name:          "Ada",
		Text:          "Is this available?",
		Type:          "text",
		SentAt:        time.Unix(1772366400, 0).UTC(),
	}, messages[0])
	assert.Empty(t, messages[1].Text)
	assert.Equal(t, "pn-other", messages[2].PhoneNumberID)
	assert.Empty(t, messages[2].Name)

	empty, err := DecodeWebhook([]byte(`{"object":"whatsapp_business_account","entry":[]}`))
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = DecodeWebhook([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = DecodeWebhook([]byte(`{"object":"page"}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

type fixture struct {
	db    *gorm.DB
	leads *lead.Repository
	queue *jobs.Queue
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&tenant.WhatsAppCredential{}, &lead.Lead{}))

	creds := tenant.NewCredentialRepository(db, nil)
	require.NoError(t, creds.Create(asTenant("T1"), &tenant.WhatsAppCredential{
		ID: "cred-1", PhoneNumberID: "pn-1", AccessToken: "token", VerifyToken: "verify-me", IsActive: true,
	}))
	require.NoError(t, creds.Create(asTenant("T2"), &tenant.WhatsAppCredential{
		ID: "cred-2", PhoneNumberID: "pn-2", AccessToken: "token", VerifyToken: "other", IsActive: true,
	}))

	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	log := zaptest.NewLogger(t)
	queue := jobs.New(jobs.NewMemoryStore(), jobs.Config{}, jobs.WithClock(clk), jobs.WithLogger(log))

	leads := lead.NewRepository(db)
	svc := NewService(creds, leads, queue, clk, log)
	svc.Register(queue)
	return &fixture{db: db, leads: leads, queue: queue, svc: svc}
}

// asTenant mirrors the snapshot the webhook strategy installs: tenant only, no actor.
func asTenant(id string) context.Context {
	return tenant.WithSnapshot(context.Background(), tenant.Snapshot{TenantID: id})
}

func listAll() common.ListRequest {
	return common.ListRequest{PaginationRequest: common.PaginationRequest{Page: 1, PageSize: 100}}
}

func TestVerifyChallenge(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		ctx     context.Context
		cred    string
		query   ChallengeQuery
		want    string
		wantErr error
	}{
		{"ok", asTenant("T1"), "cred-1", ChallengeQuery{Mode: "subscribe", VerifyToken: "verify-me", Challenge: "12345"}, "12345", nil},
		{"wrong token", asTenant("T1"), "cred-1", ChallengeQuery{Mode: "subscribe", VerifyToken: "nope", Challenge: "12345"}, "", ErrChallengeRejected},
		{"wrong mode", asTenant("T1"), "cred-1", ChallengeQuery{Mode: "unsubscribe", VerifyToken: "verify-me", Challenge: "1"}, "", ErrChallengeRejected},
		{"other tenant credential", asTenant("T1"), "cred-2", ChallengeQuery{Mode: "subscribe", VerifyToken: "other", Challenge: "1"}, "", ErrChallengeRejected},
		{"no context", context.Background(), "cred-1", ChallengeQuery{Mode: "subscribe", VerifyToken: "verify-me", Challenge: "1"}, "", tenant.ErrMissingTenantFilter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.VerifyChallenge(tt.ctx, tt.cred, tt.query)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInboundCreatesLeadInCredentialTenant(t *testing.T) {
	f := newFixture(t)

	id, err := f.svc.Accept(asTenant("T1"), "cred-1", []byte(inboundBody))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = f.queue.Tick(context.Background())
	require.NoError(t, err)
	job, err := f.queue.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, job.Status, job.LastError)

	t1, total, err := f.leads.List(asTenant("T1"), listAll())
	require.NoError(t, err)
	require.EqualValues(t, 1, total, "message for a foreign phone number is dropped")
	assert.Equal(t, "+4915112345678", t1[0].Phone)
	assert.Equal(t, "Ada", t1[0].Name)
	assert.Equal(t, lead.SourceWhatsApp, t1[0].Source)
	assert.Equal(t, "[image]", t1[0].LastMessage)

	_, total, err = f.leads.List(asTenant("T2"), listAll())
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestInboundForeignCredentialIsPermanent(t *testing.T) {
	f := newFixture(t)

	id, err := f.svc.Accept(asTenant("T1"), "cred-2", []byte(inboundBody))
	require.NoError(t, err)
	_, err = f.queue.Tick(context.Background())
	require.NoError(t, err)

	job, err := f.queue.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, job.Status)

	var count int64
	require.NoError(t, f.db.Model(&lead.Lead{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestAcceptWithoutMessagesEnqueuesNothing(t *testing.T) {
	f := newFixture(t)

	id, err := f.svc.Accept(asTenant("T1"), "cred-1", []byte(`{"object":"whatsapp_business_account","entry":[]}`))
	require.NoError(t, err)
	assert.Empty(t, id)

	stats, err := f.queue.GetStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Total())

	_, err = f.svc.Accept(context.Background(), "cred-1", []byte(inboundBody))
	assert.ErrorIs(t, err, jobs.ErrMissingContext)
}
