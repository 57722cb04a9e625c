package faceclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/verify", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "stu-1", body["user_id"])
		assert.Equal(t, "https://img.example/stu-1.jpg", body["image_url"])
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"user_id":    "stu-1",
			"verified":   true,
			"similarity": 0.83,
			"threshold":  0.7,
		})
	}))
	defer srv.Close()

	client := New(srv.URL, false, time.Second)
	res, err := client.Verify(context.Background(), "stu-1", "https://img.example/stu-1.jpg")
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.InDelta(t, 0.83, res.Similarity, 1e-9)
}

func TestClientVerifyServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no face", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := New(srv.URL, false, time.Second)
	_, err := client.Verify(context.Background(), "stu-1", "https://img.example/blank.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestClientSkipMode(t *testing.T) {
	client := New("http://unused", true, 0)
	res, err := client.Verify(context.Background(), "stu-9", "")
	require.NoError(t, err)
	assert.Equal(t, "stu-9", res.UserID)
	assert.NoError(t, client.Health(context.Background()))
}
