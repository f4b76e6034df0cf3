package progress_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/forgefit/forgefit/internal/audit"
	"github.com/forgefit/forgefit/internal/program"
	"github.com/forgefit/forgefit/internal/progress"
	"github.com/forgefit/forgefit/internal/store"
	"github.com/forgefit/forgefit/internal/telemetry/metrics"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type progressHandlerSuite struct {
	router  *mux.Router
	metrics *metrics.Manager
	program *program.Program
}

func newProgressHandlerSuite(t *testing.T) *progressHandlerSuite {
	t.Helper()

	st := store.NewMemStore()
	programs := program.NewRepo(st)
	added, err := programs.Add(context.Background(), *mixedProgram())
	require.NoError(t, err)

	progressRepo := progress.NewRepo(st)
	completionsRepo := progress.NewCompletionsRepo(st)
	validator := progress.NewValidator(progressRepo, completionsRepo)
	auditor := audit.NewManager(st, audit.UserResolverFunc(func(context.Context) string {
		return "user-1"
	}))
	service := progress.NewService(st, programs, progressRepo, completionsRepo, validator, auditor)

	metricsManager := metrics.NewTestManager()
	handler := progress.NewHandler(service, metricsManager)
	router := mux.NewRouter()
	handler.SetupRoutes(router.PathPrefix("/progress").Subrouter())

	return &progressHandlerSuite{
		router:  router,
		metrics: metricsManager,
		program: added,
	}
}

func (s *progressHandlerSuite) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s *progressHandlerSuite) enroll(t *testing.T, userID string) {
	t.Helper()
	body := fmt.Sprintf(`{"programId":%q}`, s.program.ID)
	rr := s.do(t, "POST", "/progress/"+userID+"/enroll", body)
	require.Equal(t, http.StatusCreated, rr.Code)
}

func TestProgressHandler_Enroll(t *testing.T) {
	suite := newProgressHandlerSuite(t)

	body := fmt.Sprintf(`{"programId":%q}`, suite.program.ID)
	rr := suite.do(t, "POST", "/progress/user-1/enroll", body)
	require.Equal(t, http.StatusCreated, rr.Code)

	var up progress.UserProgress
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &up))
	assert.Equal(t, "user-1", up.UserID)
	assert.Equal(t, 0, up.CurrentMilestone)
	assert.Equal(t, 0, up.CurrentDay)

	// second enrollment is a conflict
	rr = suite.do(t, "POST", "/progress/user-1/enroll", body)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = suite.do(t, "POST", "/progress/user-2/enroll", `{"programId":"missing"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = suite.do(t, "POST", "/progress/user-2/enroll", `{"programId":""}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req := httptest.NewRequest("POST", "/progress/user-2/enroll", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/plain")
	recorder := httptest.NewRecorder()
	suite.router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestProgressHandler_Get(t *testing.T) {
	suite := newProgressHandlerSuite(t)

	rr := suite.do(t, "GET", "/progress/user-1", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	suite.enroll(t, "user-1")

	rr = suite.do(t, "GET", "/progress/user-1", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var overview progress.Overview
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &overview))
	assert.Equal(t, 0, overview.Progress.CurrentMilestone)
	assert.Equal(t, 3, overview.ProgramProgress.TotalDays)
	assert.True(t, overview.Consistency.IsValid)
}

func TestProgressHandler_UpdateCommitted(t *testing.T) {
	suite := newProgressHandlerSuite(t)
	suite.enroll(t, "user-1")

	now := time.Now().UTC().Format(time.RFC3339)
	body := fmt.Sprintf(
		`{"proposed":{"programId":%q,"currentDay":1,"totalWorkoutsCompleted":1,"lastWorkoutDate":%q}}`,
		suite.program.ID, now,
	)
	rr := suite.do(t, "PUT", "/progress/user-1", body)
	require.Equal(t, http.StatusOK, rr.Code)

	var res progress.UpdateResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.True(t, res.Committed)
	assert.Equal(t, 1, res.Progress.CurrentDay)
	assert.Equal(t, 1, res.Progress.TotalWorkoutsCompleted)

	assert.Equal(t, float64(1), testutil.ToFloat64(suite.metrics.CounterProgressUpdates))
	assert.Equal(t, float64(0), testutil.ToFloat64(suite.metrics.CounterProgressRejections))
}

func TestProgressHandler_UpdateRejected(t *testing.T) {
	suite := newProgressHandlerSuite(t)
	suite.enroll(t, "user-1")

	body := fmt.Sprintf(`{"proposed":{"programId":%q,"currentMilestone":5}}`, suite.program.ID)
	rr := suite.do(t, "PUT", "/progress/user-1", body)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	var res progress.UpdateResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.False(t, res.Committed)
	assert.False(t, res.Validation.IsValid)
	// stored progress is returned unchanged
	assert.Equal(t, 0, res.Progress.CurrentMilestone)

	assert.Equal(t, float64(1), testutil.ToFloat64(suite.metrics.CounterProgressRejections))
}

func TestProgressHandler_UpdateConflict(t *testing.T) {
	suite := newProgressHandlerSuite(t)
	suite.enroll(t, "user-1")

	// the expected snapshot disagrees with the stored record
	body := fmt.Sprintf(
		`{"expected":{"programId":%q,"currentMilestone":0,"currentDay":0,"totalWorkoutsCompleted":5},"proposed":{"programId":%q,"currentDay":1}}`,
		suite.program.ID, suite.program.ID,
	)
	rr := suite.do(t, "PUT", "/progress/user-1", body)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestProgressHandler_CompleteExercise(t *testing.T) {
	suite := newProgressHandlerSuite(t)
	suite.enroll(t, "user-1")

	body := fmt.Sprintf(`{"programId":%q,"exerciseId":"ex-1","milestone":0,"day":0}`, suite.program.ID)
	rr := suite.do(t, "POST", "/progress/user-1/exercise/complete", body)
	require.Equal(t, http.StatusCreated, rr.Code)

	var completion progress.ExerciseCompletion
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &completion))
	assert.Equal(t, "ex-1", completion.ExerciseID)
	assert.NotEmpty(t, completion.ID)

	rr = suite.do(t, "POST", "/progress/user-1/exercise/complete", `{"programId":"","exerciseId":""}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	assert.Equal(t, float64(1), testutil.ToFloat64(suite.metrics.CounterExerciseCompletions))
}

func TestProgressHandler_CompleteDay(t *testing.T) {
	suite := newProgressHandlerSuite(t)
	suite.enroll(t, "user-1")

	rr := suite.do(t, "POST", "/progress/user-1/day/complete", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var res progress.UpdateResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.True(t, res.Committed)
	assert.Equal(t, 1, res.Progress.CurrentDay)

	assert.Equal(t, float64(1), testutil.ToFloat64(suite.metrics.CounterDayCompletions))

	rr = suite.do(t, "POST", "/progress/user-missing/day/complete", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestProgressHandler_ValidateAndRepair(t *testing.T) {
	suite := newProgressHandlerSuite(t)
	suite.enroll(t, "user-1")

	rr := suite.do(t, "GET", "/progress/user-1/validate", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = suite.do(t, "POST", "/progress/user-1/repair", `{"action":"reset_to_start"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var up progress.UserProgress
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &up))
	assert.Equal(t, 0, up.CurrentMilestone)
	assert.Equal(t, 0, up.CurrentDay)
}
