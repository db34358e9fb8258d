package upload

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/pawdirectory/media/internal/middleware"
	"github.com/pawdirectory/media/internal/queue"
	"github.com/pawdirectory/media/internal/storage"
)

const testUserID = "6650b8f1c2a4e3d9f0a1b2c4"

var testURLs = storage.URLBuilder{Base: "https://media.test/upload", Bucket: "images", Project: "pawdir"}

// memLedger mirrors the conditional update semantics of the Postgres ledger.
type memLedger struct {
	mu   sync.Mutex
	jobs map[string]*Job
	now  func() time.Time

	// failTo makes transitions into that state fail with failErr.
	failTo  State
	failErr error
}

func newMemLedger() *memLedger {
	return &memLedger{jobs: make(map[string]*Job), now: time.Now}
}

func (l *memLedger) Create(ctx context.Context, job *Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, j := range l.jobs {
		if j.BlobID == job.BlobID {
			return errors.New("duplicate blob id")
		}
	}
	cp := *job
	cp.CreatedAt = l.now()
	cp.UpdatedAt = cp.CreatedAt
	l.jobs[job.ID] = &cp
	return nil
}

func (l *memLedger) Get(ctx context.Context, id string) (*Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	j, ok := l.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (l *memLedger) GetByBlob(ctx context.Context, blobID string) (*Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, j := range l.jobs {
		if j.BlobID == blobID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, ErrJobNotFound
}

func (l *memLedger) Transition(ctx context.Context, id string, from []State, to State, lastError string) (*Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failTo == to && l.failErr != nil {
		return nil, l.failErr
	}
	j, ok := l.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	allowed := false
	for _, s := range from {
		if j.State == s {
			allowed = true
		}
	}
	if !allowed {
		return nil, ErrInvalidTransition
	}
	j.State = to
	if lastError != "" {
		j.LastError = lastError
	}
	if to == StatePersisting {
		j.Attempts++
	}
	j.UpdatedAt = l.now()
	cp := *j
	return &cp, nil
}

func (l *memLedger) Touch(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	j, ok := l.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.UpdatedAt = l.now()
	return nil
}

func (l *memLedger) Stale(ctx context.Context, states []State, before time.Time, limit int) ([]*Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*Job
	for _, j := range l.jobs {
		if !j.UpdatedAt.Before(before) {
			continue
		}
		for _, s := range states {
			if j.State == s {
				cp := *j
				out = append(out, &cp)
				break
			}
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *memLedger) LiveBlobs(ctx context.Context, blobIDs []string) (map[string]bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	live := make(map[string]bool)
	for _, id := range blobIDs {
		for _, j := range l.jobs {
			if j.BlobID != id {
				continue
			}
			for _, s := range liveStates {
				if j.State == s {
					live[id] = true
				}
			}
		}
	}
	return live, nil
}

func (l *memLedger) state(t *testing.T, id string) State {
	t.Helper()
	j, err := l.Get(context.Background(), id)
	require.NoError(t, err)
	return j.State
}

func (l *memLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.jobs)
}

// age moves a job's UpdatedAt back by d.
func (l *memLedger) age(id string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jobs[id].UpdatedAt = l.jobs[id].UpdatedAt.Add(-d)
}

// fakeRecords keeps owner references in maps keyed by kind and record id.
type fakeRecords struct {
	mu        sync.Mutex
	images    map[string][]string
	attachErr error
	detachErr error
	// onAttach runs before an attach is applied.
	onAttach func()
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{images: make(map[string][]string)}
}

func recordKey(o Owner) string { return string(o.Kind()) + "/" + o.RecordID() }

func (f *fakeRecords) Attach(ctx context.Context, owner Owner, url string) error {
	if f.onAttach != nil {
		f.onAttach()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return f.attachErr
	}
	key := recordKey(owner)
	if owner.Kind() == KindProfile {
		f.images[key] = []string{url}
		return nil
	}
	for _, u := range f.images[key] {
		if u == url {
			return nil
		}
	}
	f.images[key] = append(f.images[key], url)
	return nil
}

func (f *fakeRecords) Detach(ctx context.Context, owner Owner, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detachErr != nil {
		return f.detachErr
	}
	key := recordKey(owner)
	kept := f.images[key][:0]
	for _, u := range f.images[key] {
		if u != url {
			kept = append(kept, u)
		}
	}
	f.images[key] = kept
	return nil
}

func (f *fakeRecords) of(o Owner) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.images[recordKey(o)]...)
}

// flakyStore fails Upload or Delete on demand.
type flakyStore struct {
	*storage.MemoryStorage
	uploadErr error
	deleteErr error
	uploads   int
}

func (s *flakyStore) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	s.uploads++
	if s.uploadErr != nil {
		return s.uploadErr
	}
	return s.MemoryStorage.Upload(ctx, key, r, size, contentType)
}

func (s *flakyStore) Delete(ctx context.Context, key string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.MemoryStorage.Delete(ctx, key)
}

// recordingQueue collects published job ids without delivering them.
type recordingQueue struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (q *recordingQueue) Publish(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, jobID)
	return nil
}

func (q *recordingQueue) Consume(ctx context.Context, h queue.Handler) error {
	<-ctx.Done()
	return nil
}

func (q *recordingQueue) Close() error { return nil }

func (q *recordingQueue) published() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.ids...)
}

type harness struct {
	store   *flakyStore
	ledger  *memLedger
	records *fakeRecords
	queue   *recordingQueue
	svc     *Service
	router  http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   &flakyStore{MemoryStorage: storage.NewMemoryStorage(testURLs)},
		ledger:  newMemLedger(),
		records: newFakeRecords(),
		queue:   &recordingQueue{},
	}
	h.svc = NewService(h.store, h.ledger, h.records, h.queue, nil, Options{StorageTimeout: time.Second})

	r := chi.NewRouter()
	NewHandler(h.svc, testURLs.Bucket, DefaultMaxBytes).Mount(r, fakeAuth)
	h.router = r
	return h
}

// fakeAuth trusts the X-Test-User header in place of a JWT.
func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Test-User")
		if id == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), middleware.UserIDKey, id)))
	})
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

// drain runs every published job through Persist.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	for _, id := range h.queue.published() {
		require.NoError(t, h.svc.Persist(context.Background(), id))
	}
	h.queue.mu.Lock()
	h.queue.ids = nil
	h.queue.mu.Unlock()
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// uploadRequest builds an authenticated multipart POST /upload/image.
// An empty fileName omits the file part.
func uploadRequest(t *testing.T, fields map[string]string, fileName string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		part, err := mw.CreateFormFile(FileField, fileName)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload/image", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Test-User", testUserID)
	return req
}
