package offline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/civicfix-service/internal/adapter/memory"
	"github.com/couchcryptid/civicfix-service/internal/domain"
	"github.com/couchcryptid/civicfix-service/internal/observability"
	"github.com/couchcryptid/civicfix-service/internal/offline"
)

// failingKV rejects reads and/or writes, like storage disabled by the user.
type failingKV struct {
	*memory.KV
	getErr error
	setErr error
}

func (f *failingKV) Get(ctx context.Context, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.KV.Get(ctx, key)
}

func (f *failingKV) Set(ctx context.Context, key string, value []byte) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.KV.Set(ctx, key, value)
}

func newQueue() *offline.Queue {
	return offline.NewQueue(memory.NewKV(), observability.NewMetricsForTesting())
}

func payload(title string) domain.IssuePayload {
	return domain.IssuePayload{Title: title, Category: domain.CategoryPothole, UserID: "u1"}
}

func TestQueue_QueueAndListInOrder(t *testing.T) {
	q := newQueue()
	ctx := context.Background()

	first, err := q.QueueDraft(ctx, payload("first"), nil, nil)
	require.NoError(t, err)
	second, err := q.QueueDraft(ctx, payload("second"), nil, nil)
	require.NoError(t, err)

	drafts, err := q.ListQueuedDrafts(ctx)
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, first.ID, drafts[0].ID)
	assert.Equal(t, second.ID, drafts[1].ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "second", drafts[1].Payload.Title)
}

func TestQueue_EmptyStorage(t *testing.T) {
	drafts, err := newQueue().ListQueuedDrafts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestQueue_AttachmentRoundTrip(t *testing.T) {
	q := newQueue()
	ctx := context.Background()
	photo := &domain.Attachment{Name: "pothole.jpg", ContentType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff, 0x00}}
	card := &domain.Attachment{Name: "card.png", ContentType: "image/png", Data: []byte("png-bytes")}

	draft, err := q.QueueDraft(ctx, payload("with files"), photo, card)
	require.NoError(t, err)
	assert.Equal(t, "data:image/jpeg;base64,/9j/AA==", draft.Image.DataURL)

	drafts, err := q.ListQueuedDrafts(ctx)
	require.NoError(t, err)

	gotPhoto, err := offline.Decode(drafts[0].Image)
	require.NoError(t, err)
	assert.Equal(t, photo, gotPhoto)

	gotCard, err := offline.Decode(drafts[0].IdentityImage)
	require.NoError(t, err)
	assert.Equal(t, card, gotCard)
}

func TestQueue_RemoveDraftIsIdempotent(t *testing.T) {
	q := newQueue()
	ctx := context.Background()
	a, _ := q.QueueDraft(ctx, payload("a"), nil, nil)
	b, _ := q.QueueDraft(ctx, payload("b"), nil, nil)

	require.NoError(t, q.RemoveDraft(ctx, a.ID))
	require.NoError(t, q.RemoveDraft(ctx, a.ID))
	require.NoError(t, q.RemoveDraft(ctx, "never-existed"))

	drafts, err := q.ListQueuedDrafts(ctx)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, b.ID, drafts[0].ID)
}

func TestQueue_WriteFailureIsSignalled(t *testing.T) {
	kv := &failingKV{KV: memory.NewKV(), setErr: errors.New("quota exceeded")}
	q := offline.NewQueue(kv, observability.NewMetricsForTesting())

	_, err := q.QueueDraft(context.Background(), payload("lost?"), nil, nil)

	var qerr *domain.OfflineQueueError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, "write", qerr.Op)
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestQueue_ReadFailureIsSignalled(t *testing.T) {
	kv := &failingKV{KV: memory.NewKV(), getErr: errors.New("disabled")}
	q := offline.NewQueue(kv, observability.NewMetricsForTesting())

	_, err := q.ListQueuedDrafts(context.Background())
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)

	_, err = q.QueueDraft(context.Background(), payload("x"), nil, nil)
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestQueue_CorruptDocument(t *testing.T) {
	kv := memory.NewKV()
	require.NoError(t, kv.Set(context.Background(), offline.StorageKey, []byte("{not json")))
	q := offline.NewQueue(kv, observability.NewMetricsForTesting())

	_, err := q.ListQueuedDrafts(context.Background())
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		in       domain.InlineFile
		wantType string
		wantName string
		wantErr  bool
	}{
		{
			name:     "type from prefix",
			in:       domain.InlineFile{DataURL: "data:image/png;base64,aGk="},
			wantType: "image/png",
			wantName: "attachment",
		},
		{
			name:     "stored type wins",
			in:       domain.InlineFile{Name: "a.jpg", Type: "image/jpeg", DataURL: "data:image/png;base64,aGk="},
			wantType: "image/jpeg",
			wantName: "a.jpg",
		},
		{
			name:     "no mime at all",
			in:       domain.InlineFile{DataURL: "data:;base64,aGk="},
			wantType: "application/octet-stream",
			wantName: "attachment",
		},
		{name: "missing comma", in: domain.InlineFile{DataURL: "data:image/png;base64"}, wantErr: true},
		{name: "bad base64", in: domain.InlineFile{DataURL: "data:image/png;base64,***"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			got, err := offline.Decode(&in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, got.ContentType)
			assert.Equal(t, tt.wantName, got.Name)
			assert.Equal(t, []byte("hi"), got.Data)
		})
	}
}
