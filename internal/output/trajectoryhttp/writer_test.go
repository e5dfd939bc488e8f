package trajectoryhttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatbench/pkg/models"
)

func TestWriteEpisodesPostsBatch(t *testing.T) {
	var got []models.EpisodeRecord
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Get("Authorization")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	w, err := NewWriter(Config{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer t"}})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.WriteEpisodes([]*models.EpisodeRecord{{EpisodeID: "e1"}, {EpisodeID: "e2"}}))
	require.Len(t, got, 2)
	assert.Equal(t, "e2", got[1].EpisodeID)
	assert.Equal(t, "Bearer t", token)
}

func TestWriteEpisodesReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	w, err := NewWriter(Config{URL: srv.URL})
	require.NoError(t, err)
	assert.ErrorContains(t, w.WriteEpisodes([]*models.EpisodeRecord{{EpisodeID: "e1"}}), "502")
	assert.NoError(t, w.WriteEpisodes(nil))
}

func TestNewWriterRequiresURL(t *testing.T) {
	_, err := NewWriter(Config{})
	assert.Error(t, err)
}
