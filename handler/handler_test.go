package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelly-nie213/rallycoachAIDemo/constant"
	"github.com/kelly-nie213/rallycoachAIDemo/entities"
	"github.com/kelly-nie213/rallycoachAIDemo/repository"
	"github.com/kelly-nie213/rallycoachAIDemo/service"
)

// --- fake service ---

type fakeService struct {
	jobs map[uint]*entities.Job
	next uint
}

func newFakeService() *fakeService {
	return &fakeService{jobs: map[uint]*entities.Job{}}
}

func (s *fakeService) Submit(ctx context.Context, sourcePath string) (*entities.Job, error) {
	if sourcePath == "" {
		return nil, service.ErrEmptySourcePath
	}
	s.next++
	job := &entities.Job{
		ID:         s.next,
		SourcePath: sourcePath,
		Analysis:   constant.EmptyAnalysis,
		Status:     constant.JobStatusPending,
		CreatedAt:  time.Now(),
	}
	s.jobs[job.ID] = job
	return job, nil
}

func (s *fakeService) Begin(ctx context.Context, id uint) (*entities.Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	if job.Status != constant.JobStatusPending {
		return nil, repository.ErrJobConflict
	}
	job.Status = constant.JobStatusProcessing
	return job, nil
}

func (s *fakeService) Get(ctx context.Context, id uint) (*entities.Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	return job, nil
}

// --- fake uploader ---

type fakeUploader struct {
	objects map[string][]byte
	err     error
}

func (u *fakeUploader) Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if u.objects == nil {
		u.objects = map[string][]byte{}
	}
	u.objects[objectName] = body
	return objectName, nil
}

// --- helpers ---

func newRouter(svc service.Service, uploads Uploader) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := New(svc, uploads)
	r := gin.New()
	r.POST("/api/videos", h.SubmitVideo)
	r.POST("/api/videos/upload", h.UploadVideo)
	r.POST("/api/videos/:id/process", h.ProcessVideo)
	r.GET("/api/videos/:id", h.GetVideo)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// --- tests ---

func TestSubmitVideo(t *testing.T) {
	svc := newFakeService()
	r := newRouter(svc, &fakeUploader{})

	rec := doJSON(t, r, http.MethodPost, "/api/videos", map[string]string{"sourcePath": "uploads/match.mp4"})
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "PENDING", body["status"])
	assert.Equal(t, "uploads/match.mp4", body["sourcePath"])
	assert.NotContains(t, body, "analysis")
	assert.NotContains(t, body, "annotatedPath")
}

func TestSubmitVideo_EmptySource(t *testing.T) {
	svc := newFakeService()
	r := newRouter(svc, &fakeUploader{})

	rec := doJSON(t, r, http.MethodPost, "/api/videos", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.jobs)
}

func TestUploadVideo(t *testing.T) {
	svc := newFakeService()
	uploads := &fakeUploader{}
	r := newRouter(svc, uploads)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("video", "rally.mp4")
	require.NoError(t, err)
	_, err = part.Write([]byte("fake video bytes"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/videos/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "PENDING", body["status"])
	assert.Contains(t, body["sourcePath"], "uploads/")
	assert.Contains(t, body["sourcePath"], "rally.mp4")
	require.Len(t, uploads.objects, 1)
}

func TestUploadVideo_MissingFile(t *testing.T) {
	r := newRouter(newFakeService(), &fakeUploader{})

	req := httptest.NewRequest(http.MethodPost, "/api/videos/upload", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessVideo(t *testing.T) {
	svc := newFakeService()
	r := newRouter(svc, &fakeUploader{})
	job, err := svc.Submit(context.Background(), "uploads/match.mp4")
	require.NoError(t, err)

	rec := doJSON(t, r, http.MethodPost, "/api/videos/1/process", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "PROCESSING", body["status"])
	assert.EqualValues(t, 2000, body["pollAfterMs"])
	assert.NotContains(t, body, "analysis")
	assert.Equal(t, constant.JobStatusProcessing, svc.jobs[job.ID].Status)
}

func TestProcessVideo_UnknownJob(t *testing.T) {
	r := newRouter(newFakeService(), &fakeUploader{})

	rec := doJSON(t, r, http.MethodPost, "/api/videos/99/process", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProcessVideo_DuplicateTrigger(t *testing.T) {
	svc := newFakeService()
	r := newRouter(svc, &fakeUploader{})
	_, err := svc.Submit(context.Background(), "uploads/match.mp4")
	require.NoError(t, err)

	first := doJSON(t, r, http.MethodPost, "/api/videos/1/process", nil)
	require.Equal(t, http.StatusAccepted, first.Code)

	second := doJSON(t, r, http.MethodPost, "/api/videos/1/process", nil)
	assert.Equal(t, http.StatusConflict, second.Code)
}

func TestProcessVideo_InvalidID(t *testing.T) {
	r := newRouter(newFakeService(), &fakeUploader{})

	rec := doJSON(t, r, http.MethodPost, "/api/videos/abc/process", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetVideo_PollingStates(t *testing.T) {
	svc := newFakeService()
	r := newRouter(svc, &fakeUploader{})
	job, err := svc.Submit(context.Background(), "uploads/match.mp4")
	require.NoError(t, err)

	// pending: no result fields, poll hint present
	rec := doJSON(t, r, http.MethodGet, "/api/videos/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "PENDING", body["status"])
	assert.EqualValues(t, 2000, body["pollAfterMs"])
	assert.NotContains(t, body, "analysis")
	assert.NotContains(t, body, "annotatedPath")

	// completed: result fields present, poll hint gone
	svc.jobs[job.ID].Status = constant.JobStatusCompleted
	svc.jobs[job.ID].AnnotatedPath = "a/b.mp4"
	svc.jobs[job.ID].Analysis = `{"x":1}`
	rec = doJSON(t, r, http.MethodGet, "/api/videos/1", nil)
	body = decodeBody(t, rec)
	assert.Equal(t, "COMPLETED", body["status"])
	assert.Equal(t, "a/b.mp4", body["annotatedPath"])
	assert.Equal(t, map[string]any{"x": float64(1)}, body["analysis"])
	assert.NotContains(t, body, "pollAfterMs")
}

func TestGetVideo_FailedHidesResultFields(t *testing.T) {
	svc := newFakeService()
	r := newRouter(svc, &fakeUploader{})
	job, err := svc.Submit(context.Background(), "uploads/match.mp4")
	require.NoError(t, err)
	svc.jobs[job.ID].Status = constant.JobStatusFailed

	rec := doJSON(t, r, http.MethodGet, "/api/videos/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "FAILED", body["status"])
	assert.NotContains(t, body, "analysis")
	assert.NotContains(t, body, "annotatedPath")
	assert.NotContains(t, body, "pollAfterMs")
}

func TestGetVideo_UnknownJob(t *testing.T) {
	r := newRouter(newFakeService(), &fakeUploader{})

	rec := doJSON(t, r, http.MethodGet, "/api/videos/7", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
