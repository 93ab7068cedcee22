package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docvault/internal/auth"
	"docvault/internal/model"
	"docvault/internal/service"
	serviceMocks "docvault/internal/service/mocks"
)

const testCookie = "Authorization"

// newAuthedApp builds an app with all routes registered behind a real
// credential gate and returns a valid signed token for identity U1.
func newAuthedApp(t *testing.T, mockSvc *serviceMocks.MockDocumentService) (*fiber.App, string) {
	t.Helper()

	gate, err := auth.NewGate("handler-test-secret")
	require.NoError(t, err)

	token, err := gate.Issue(model.Identity{CustomID: "U1"}, time.Hour)
	require.NoError(t, err)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	RegisterRoutes(app, nil, mockSvc, gate, testCookie)
	return app, token
}

func withCookie(req *http.Request, token string) *http.Request {
	req.AddCookie(&http.Cookie{Name: testCookie, Value: token})
	return req
}

func multipartFile(t *testing.T, fileName string, content []byte, metadata string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	if metadata != "" {
		require.NoError(t, writer.WriteField("metadata", metadata))
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestHealthCheck(t *testing.T) {
	db, dbMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	app := fiber.New()
	app.Get("/health", HealthCheck(db))

	t.Run("healthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(nil)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("unhealthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(errors.New("db error"))

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		var body errorPayload
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "SERVICE_UNAVAILABLE", body.Error.Code)
	})
}

func TestLivenessProbe(t *testing.T) {
	app := fiber.New()
	app.Get("/healthz", LivenessProbe())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp, _ := app.Test(req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSubmitDocument(t *testing.T) {
	t.Run("success with verified identity", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockDocumentService)
		app, token := newAuthedApp(t, mockSvc)

		expectedDoc := &model.Document{
			ID:       uuid.New().String(),
			OwnerID:  "U1",
			FileName: "test.txt",
			Status:   model.StatusUploaded,
		}
		mockSvc.On("Submit", mock.Anything,
			mock.MatchedBy(func(id *model.Identity) bool { return id.CustomID == "U1" }),
			[]byte("abc"), "test.txt", mock.Anything,
			map[string]string{"purpose": "review"}, mock.Anything).
			Return(expectedDoc, nil).Once()

		body, ct := multipartFile(t, "test.txt", []byte("abc"), `{"purpose":"review"}`)
		req := withCookie(httptest.NewRequest(http.MethodPost, "/documents/", body), token)
		req.Header.Set("Content-Type", ct)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		var result model.Document
		json.NewDecoder(resp.Body).Decode(&result)
		assert.Equal(t, expectedDoc.ID, result.ID)
		assert.Equal(t, model.StatusUploaded, result.Status)
		mockSvc.AssertExpectations(t)
	})

	t.Run("unauthenticated request never reaches the service", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockDocumentService)
		app, _ := newAuthedApp(t, mockSvc)

		body, ct := multipartFile(t, "test.txt", []byte("abc"), "")
		req := httptest.NewRequest(http.MethodPost, "/documents/", body)
		req.Header.Set("Content-Type", ct)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "UNAUTHENTICATED", res.Error.Code)
		mockSvc.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("invalid credential", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockDocumentService)
		app, _ := newAuthedApp(t, mockSvc)

		body, ct := multipartFile(t, "test.txt", []byte("abc"), "")
		req := withCookie(httptest.NewRequest(http.MethodPost, "/documents/", body), "tampered.token.value")
		req.Header.Set("Content-Type", ct)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "INVALID_CREDENTIAL", res.Error.Code)
	})

	t.Run("no file", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockDocumentService)
		app, token := newAuthedApp(t, mockSvc)

		req := withCookie(httptest.NewRequest(http.MethodPost, "/documents/", nil), token)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "FILE_REQUIRED", res.Error.Code)
	})

	t.Run("invalid metadata", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockDocumentService)
		app, token := newAuthedApp(t, mockSvc)

		body, ct := multipartFile(t, "test.txt", []byte("abc"), "not-json")
		req := withCookie(httptest.NewRequest(http.MethodPost, "/documents/", body), token)
		req.Header.Set("Content-Type", ct)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "INVALID_METADATA", res.Error.Code)
	})

	t.Run("file too large maps to 400", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockDocumentService)
		app, token := newAuthedApp(t, mockSvc)

		mockSvc.On("Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, service.ErrFileTooLarge).Once()

		body, ct := multipartFile(t, "big.bin", []byte("way too big"), "")
		req := withCookie(httptest.NewRequest(http.MethodPost, "/documents/", body), token)
		req.Header.Set("Content-Type", ct)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "FILE_TOO_LARGE", res.Error.Code)
	})

	t.Run("storage failure maps to 500", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockDocumentService)
		app, token := newAuthedApp(t, mockSvc)

		mockSvc.On("Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, service.ErrStorageUpload).Once()

		body, ct := multipartFile(t, "test.txt", []byte("abc"), "")
		req := withCookie(httptest.NewRequest(http.MethodPost, "/documents/", body), token)
		req.Header.Set("Content-Type", ct)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "STORAGE_UPLOAD_FAILED", res.Error.Code)
	})
}

func TestApplyTransition(t *testing.T) {
	docID := uuid.New().String()

	postTransition := func(app *fiber.App, token, id, body string) *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/documents/"+id+"/transitions", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			withCookie(req, token)
		}
		resp, _ := app.Test(req)
		return resp
	}

	t.Run("accept success", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockDocumentService)
		app, token := newAuthedApp(t, mockSvc)

		expected := &model.Document{ID: docID, Status: model.StatusAccepted}
		mockSvc.On("Apply", mock.Anything,
			mock.MatchedBy(func(id *model.Identity) bool { return id.CustomID == "U1" }),
			docID, "accept", "", mock.Anything).
			Return(expected, nil).Once()

		resp := postTransition(app, token, docID, `{"action":"accept"}`)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var result model.Document
		json.NewDecoder(resp.Body).Decode(&result)
		assert.Equal(t, model.StatusAccepted, result.Status)
		mockSvc.AssertExpectations(t)
	})

	t.Run("reject with reason", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockDocumentService)
		app, token := newAuthedApp(t, mockSvc)

		expected := &model.Document{ID: docID, Status: model.StatusRejected}
		mockSvc.On("Apply", mock.Anything, mock.Anything, docID, "reject", "illegible scan", mock.Anything).
			Return(expected, nil).Once()

		resp := postTransition(app, token, docID, `{"action":"reject","reason":"illegible scan"}`)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})

	t.Run("invalid action", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockDocumentService)
		app, token := newAuthedApp(t, mockSvc)

		mockSvc.On("Apply", mock.Anything, mock.Anything, docID, "frobnicate", "", mock.Anything).
			Return(nil, service.ErrInvalidAction).Once()

		resp := postTransition(app, token, docID, `{"action":"frobnicate"}`)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "INVALID_ACTION", res.Error.Code)
	})

	t.Run("not found", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockDocumentService)
		app, token := newAuthedApp(t, mockSvc)

		mockSvc.On("Apply", mock.Anything, mock.Anything, docID, "accept", "", mock.Anything).
			Return(nil, service.ErrNotFound).Once()

		resp := postTransition(app, token, docID, `{"action":"accept"}`)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "NOT_FOUND", res.Error.Code)
	})

	t.Run("conflicting transition", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockDocumentService)
		app, token := newAuthedApp(t, mockSvc)

		mockSvc.On("Apply", mock.Anything, mock.Anything, docID, "reject", "", mock.Anything).
			Return(nil, service.ErrConflictingTransition).Once()

		resp := postTransition(app, token, docID, `{"action":"reject"}`)

		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "CONFLICTING_TRANSITION", res.Error.Code)
	})

	t.Run("invalid id", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockDocumentService)
		app, token := newAuthedApp(t, mockSvc)

		resp := postTransition(app, token, "not-a-uuid", `{"action":"accept"}`)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "INVALID_ID", res.Error.Code)
		mockSvc.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockDocumentService)
		app, _ := newAuthedApp(t, mockSvc)

		resp := postTransition(app, "", docID, `{"action":"accept"}`)

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestGetDocument(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app, token := newAuthedApp(t, mockSvc)

	t.Run("success", func(t *testing.T) {
		id := uuid.New().String()
		expectedDoc := &model.Document{ID: id, FileName: "test.txt"}
		mockSvc.On("Get", mock.Anything, id).Return(expectedDoc, nil).Once()

		req := withCookie(httptest.NewRequest(http.MethodGet, "/documents/"+id, nil), token)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result model.Document
		json.NewDecoder(resp.Body).Decode(&result)
		assert.Equal(t, id, result.ID)
		mockSvc.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		id := uuid.New().String()
		mockSvc.On("Get", mock.Anything, id).Return(nil, service.ErrNotFound).Once()

		req := withCookie(httptest.NewRequest(http.MethodGet, "/documents/"+id, nil), token)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "NOT_FOUND", res.Error.Code)
		mockSvc.AssertExpectations(t)
	})

	t.Run("invalid id", func(t *testing.T) {
		req := withCookie(httptest.NewRequest(http.MethodGet, "/documents/invalid-uuid", nil), token)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "INVALID_ID", res.Error.Code)
	})
}

func TestListDocuments(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app, token := newAuthedApp(t, mockSvc)

	t.Run("success", func(t *testing.T) {
		expectedRes := &service.DocumentListResult{
			Items: []model.Document{{ID: uuid.New().String(), FileName: "test.pdf"}},
			Total: 1,
		}
		mockSvc.On("List", mock.Anything, 10, 0).Return(expectedRes, nil).Once()

		req := withCookie(httptest.NewRequest(http.MethodGet, "/documents/?limit=10&offset=0", nil), token)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result service.DocumentListResult
		json.NewDecoder(resp.Body).Decode(&result)
		assert.Len(t, result.Items, 1)
		assert.Equal(t, 1, result.Total)
		mockSvc.AssertExpectations(t)
	})

	t.Run("invalid limit", func(t *testing.T) {
		req := withCookie(httptest.NewRequest(http.MethodGet, "/documents/?limit=abc", nil), token)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var body errorPayload
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "INVALID_LIMIT", body.Error.Code)
	})
}

func TestDocumentAudit(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app, token := newAuthedApp(t, mockSvc)

	t.Run("success", func(t *testing.T) {
		id := uuid.New().String()
		entries := []model.AuditEntry{
			{ID: uuid.New().String(), DocumentID: id, ActorID: "U1", Action: model.ActionUpload},
			{ID: uuid.New().String(), DocumentID: id, ActorID: "U1", Action: model.ActionAccepted},
		}
		mockSvc.On("AuditTrail", mock.Anything, id).Return(entries, nil).Once()

		req := withCookie(httptest.NewRequest(http.MethodGet, "/documents/"+id+"/audit", nil), token)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result struct {
			Data  []model.AuditEntry `json:"data"`
			Total int                `json:"total"`
		}
		json.NewDecoder(resp.Body).Decode(&result)
		assert.Len(t, result.Data, 2)
		assert.Equal(t, 2, result.Total)
		mockSvc.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		id := uuid.New().String()
		mockSvc.On("AuditTrail", mock.Anything, id).Return(nil, service.ErrNotFound).Once()

		req := withCookie(httptest.NewRequest(http.MethodGet, "/documents/"+id+"/audit", nil), token)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestDownloadDocument(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app, token := newAuthedApp(t, mockSvc)

	id := uuid.New().String()
	mockSvc.On("DownloadURL", mock.Anything, id).Return("https://store.example/presigned", nil).Once()

	req := withCookie(httptest.NewRequest(http.MethodGet, "/documents/"+id+"/download", nil), token)
	resp, _ := app.Test(req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]string
	json.NewDecoder(resp.Body).Decode(&result)
	assert.Equal(t, "https://store.example/presigned", result["url"])
	mockSvc.AssertExpectations(t)
}

func TestRouting(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app, _ := newAuthedApp(t, mockSvc)

	t.Run("not found route", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/non-existent", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "NOT_FOUND", res.Error.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		// Health endpoint only allows GET
		req := httptest.NewRequest(http.MethodPost, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "METHOD_NOT_ALLOWED", res.Error.Code)
	})
}
