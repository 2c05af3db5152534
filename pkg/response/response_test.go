package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-funding/internal/breakdown"
	"github.com/ksred/klear-funding/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func perform(method string, data interface{}, err error) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, "/", nil)
	Handle(c, data, err)
	return w
}

func TestHandleSuccess(t *testing.T) {
	w := perform(http.MethodGet, map[string]string{"campaign_id": "c1"}, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Nil(t, body.Error)

	w = perform(http.MethodPost, nil, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestHandleErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"campaign missing", types.ErrCampaignNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"wrapped settlement missing", fmt.Errorf("load: %w", types.ErrSettlementNotFound), http.StatusNotFound, ErrCodeNotFound},
		{"share configuration", fmt.Errorf("compute breakdown: %w", types.ErrInvalidShareConfiguration), http.StatusUnprocessableEntity, ErrCodeUnprocessable},
		{"negative net", types.ErrNegativeNetAmount, http.StatusUnprocessableEntity, ErrCodeUnprocessable},
		{"payout transition", types.ErrInvalidPayoutTransition, http.StatusConflict, ErrCodeInvalidTransition},
		{"campaign transition", types.ErrInvalidCampaignTransition, http.StatusConflict, ErrCodeInvalidTransition},
		{"invalid input", breakdown.ErrInvalidInput, http.StatusBadRequest, ErrCodeValidationFailed},
		{"storage", types.NewStorageError("lock campaign", errors.New("connection reset")), http.StatusInternalServerError, ErrCodeStorageUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := perform(http.MethodGet, nil, tt.err)
			assert.Equal(t, tt.status, w.Code)

			var body Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.False(t, body.Success)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}
