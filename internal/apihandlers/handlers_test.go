package apihandlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taxonomer/internal/app"
	"taxonomer/internal/models"
	"taxonomer/internal/services"
	"taxonomer/internal/store/local"
	"taxonomer/internal/vectorindex"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: no vector for %q", models.ErrEmbeddingProvider, text)
}

func (s *stubEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.EmbedText(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) EmbedMedia(_ context.Context, uri string) ([]float32, string, error) {
	if _, _, err := services.DetectMedia(uri); err != nil {
		return nil, "", err
	}
	return []float32{0, 0, 1}, "a folded shirt", nil
}

func (s *stubEmbedder) Dimension() int    { return 3 }
func (s *stubEmbedder) ModelName() string { return "stub" }

type mockJobClient struct {
	mock.Mock
}

func (m *mockJobClient) EnqueueIndexBuild(ctx context.Context, taskID uuid.UUID) error {
	return m.Called(ctx, taskID).Error(0)
}

func (m *mockJobClient) Close() error { return nil }

type testServer struct {
	app    *app.App
	jobs   *mockJobClient
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := local.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	jobs := &mockJobClient{}
	jobs.On("EnqueueIndexBuild", mock.Anything, mock.Anything).Return(nil)
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"laptop": {1, 0, 0},
		"pizza":  {0, 1, 0},
	}}
	index := vectorindex.New()
	tasks := services.NewTaskService(st)

	a := &app.App{
		Store:       st,
		JobClient:   jobs,
		Index:       index,
		TaskService: tasks,
		IndexingService: services.NewIndexingService(services.IndexingDeps{
			Tasks: tasks, Store: st, Jobs: jobs, Embedder: embedder, Index: index,
		}, services.IndexingConfig{}),
		ClassificationService: services.NewClassificationService(embedder, index, services.ClassificationConfig{}),
	}
	return &testServer{app: a, jobs: jobs, router: NewRouter(NewAPIHandler(a))}
}

func (s *testServer) publishTaxonomy(t *testing.T) uuid.UUID {
	t.Helper()
	promoted := time.Now()
	gen := &models.Generation{ID: uuid.New(), PromotedAt: &promoted}
	snap, err := vectorindex.NewSnapshot(gen, []models.Category{
		{Position: 0, Name: "Electronics", Embedding: []float32{1, 0, 0}},
		{Position: 1, Name: "Food", Embedding: []float32{0, 1, 0}},
		{Position: 2, Name: "Clothing", Embedding: []float32{0, 0, 1}},
	})
	require.NoError(t, err)
	require.True(t, s.app.Index.Publish(snap))
	return gen.ID
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) APIError {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestGenerateTaxonomy_Accepted(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/generate_taxonomy_embeddings",
		`{"spreadsheet_id":"sheet-1","worksheet_name":"Taxonomy","worksheet_col_index":"2","header":"False"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp GenerateTaxonomyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Generate Taxonomy Embeddings task sent in the background.", resp.Message)
	id, err := uuid.Parse(resp.TaskID)
	require.NoError(t, err)

	task, err := s.app.TaskService.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Equal(t, 2, task.Source.ColumnIndex)
	assert.False(t, task.Source.Header)
	s.jobs.AssertCalled(t, "EnqueueIndexBuild", mock.Anything, id)
}

func TestGenerateTaxonomy_HeaderDefaultsToTrue(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/generate_taxonomy_embeddings",
		`{"spreadsheet_id":"sheet-1","worksheet_name":"Taxonomy","worksheet_col_index":1}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp GenerateTaxonomyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	task, err := s.app.TaskService.GetStatus(context.Background(), uuid.MustParse(resp.TaskID))
	require.NoError(t, err)
	assert.True(t, task.Source.Header)
}

func TestGenerateTaxonomy_InvalidInput(t *testing.T) {
	s := newTestServer(t)
	for _, body := range []string{
		`{"worksheet_name":"Taxonomy","worksheet_col_index":1}`,
		`{"spreadsheet_id":"sheet-1","worksheet_name":"Taxonomy","worksheet_col_index":0}`,
		`{"spreadsheet_id":"sheet-1","worksheet_name":"Taxonomy","worksheet_col_index":"B"}`,
		`not json`,
	} {
		w := s.do(t, http.MethodPost, "/generate_taxonomy_embeddings", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, services.CodeInvalidInput, decodeError(t, w).Code, body)
	}
	s.jobs.AssertNotCalled(t, "EnqueueIndexBuild", mock.Anything, mock.Anything)
}

func TestTaskStatus(t *testing.T) {
	s := newTestServer(t)
	task, err := s.app.TaskService.CreateTask(context.Background(), models.SpreadsheetSource{SpreadsheetID: "x", WorksheetName: "y", ColumnIndex: 1})
	require.NoError(t, err)

	w := s.do(t, http.MethodGet, "/task_status/"+task.ID.String(), "")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, task.ID.String(), body["task_id"])
	assert.Equal(t, "PENDING", body["status"])
	assert.Contains(t, body, "created_time")
	assert.Contains(t, body, "updated_time")
	assert.Contains(t, body, "message")
	assert.Nil(t, body["message"])

	w = s.do(t, http.MethodGet, "/task_status/"+uuid.New().String(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, services.CodeNotFound, decodeError(t, w).Code)

	w = s.do(t, http.MethodGet, "/task_status/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListTasks(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/tasks", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	for i := 0; i < 3; i++ {
		_, err := s.app.TaskService.CreateTask(context.Background(), models.SpreadsheetSource{SpreadsheetID: "x", WorksheetName: "y", ColumnIndex: 1})
		require.NoError(t, err)
	}
	w = s.do(t, http.MethodGet, "/tasks?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var tasks []models.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tasks))
	assert.Len(t, tasks, 2)

	w = s.do(t, http.MethodGet, "/tasks?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClassify_IndexNotReady(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/classify", `{"text":"laptop"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, services.CodeIndexNotReady, decodeError(t, w).Code)
}

func TestClassify_RequiresInput(t *testing.T) {
	s := newTestServer(t)
	s.publishTaxonomy(t)
	for _, body := range []string{`{}`, `{"text":[],"media_uri":null}`, `{"text":42}`} {
		w := s.do(t, http.MethodPost, "/classify", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestClassify_TextsBeforeMediaWithInlineErrors(t *testing.T) {
	s := newTestServer(t)
	s.publishTaxonomy(t)

	w := s.do(t, http.MethodPost, "/classify",
		`{"media_uri":["gs://b/shirt.jpg","gs://b/notes.txt"],"text":["laptop","pizza"],"embeddings":"true"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var results []models.ClassificationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))
	require.Len(t, results, 4)

	assert.Equal(t, "laptop", results[0].QueryIdentifier)
	assert.Equal(t, "Electronics", results[0].Categories[0].Name)
	assert.Equal(t, []float32{1, 0, 0}, results[0].Embedding)
	assert.Equal(t, "pizza", results[1].QueryIdentifier)
	assert.Equal(t, "Food", results[1].Categories[0].Name)

	assert.Equal(t, "gs://b/shirt.jpg", results[2].QueryIdentifier)
	assert.Equal(t, "Clothing", results[2].Categories[0].Name)
	require.NotNil(t, results[2].MediaDescription)
	assert.Equal(t, "a folded shirt", *results[2].MediaDescription)

	assert.Equal(t, "gs://b/notes.txt", results[3].QueryIdentifier)
	require.NotNil(t, results[3].Error)
	assert.Equal(t, services.CodeUnsupportedMediaType, results[3].Error.Code)
	assert.Empty(t, results[3].Categories)
}

func TestClassify_SingleStringInput(t *testing.T) {
	s := newTestServer(t)
	s.publishTaxonomy(t)

	w := s.do(t, http.MethodPost, "/classify", `{"text":"pizza"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var results []models.ClassificationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Len(t, results[0].Categories, 3)
	assert.Nil(t, results[0].Embedding)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.GenerationID)

	id := s.publishTaxonomy(t)
	w = s.do(t, http.MethodGet, "/health", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.GenerationID)
	assert.Equal(t, id.String(), *resp.GenerationID)
	assert.Equal(t, 3, resp.Categories)
}
