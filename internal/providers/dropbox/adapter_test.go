package dropbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warewatch/camsync/internal/interfaces"
	"github.com/warewatch/camsync/internal/models"
)

// staticTokens satisfies AccessTokenProvider with a fixed token.
type staticTokens struct {
	token        string
	forceCalls   int
	refreshToken string
}

func (s *staticTokens) GetValidAccessToken(context.Context, models.ProviderKind, string) (string, error) {
	return s.token, nil
}

func (s *staticTokens) ForceRefresh(context.Context, models.ProviderKind, string) (string, error) {
	s.forceCalls++
	if s.refreshToken == "" {
		return s.token, nil
	}
	return s.refreshToken, nil
}

func newAdapterForServer(srv *httptest.Server, tokens interfaces.AccessTokenProvider) *Adapter {
	return NewAdapter(tokens, "acct-1",
		WithBaseURLs(srv.URL, srv.URL),
		WithHTTPClient(srv.Client()),
		WithRateLimit(1000),
	)
}

func TestListContainersFollowsCursorPages(t *testing.T) {
	pageRequests := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/2/files/list_folder", func(w http.ResponseWriter, r *http.Request) {
		pageRequests++
		json.NewEncoder(w).Encode(map[string]any{
			"entries": []map[string]any{
				{".tag": "folder", "id": "id:1", "name": "cam-a", "path_lower": "/warehouse/cam-a"},
			},
			"cursor":   "cursor-1",
			"has_more": true,
		})
	})
	mux.HandleFunc("/2/files/list_folder/continue", func(w http.ResponseWriter, r *http.Request) {
		pageRequests++
		var req struct {
			Cursor string `json:"cursor"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		switch req.Cursor {
		case "cursor-1":
			json.NewEncoder(w).Encode(map[string]any{
				"entries": []map[string]any{
					{".tag": "folder", "id": "id:2", "name": "cam-b", "path_lower": "/warehouse/cam-b"},
				},
				"cursor":   "cursor-2",
				"has_more": true,
			})
		case "cursor-2":
			json.NewEncoder(w).Encode(map[string]any{
				"entries": []map[string]any{
					{".tag": "folder", "id": "id:3", "name": "cam-c", "path_lower": "/warehouse/cam-c"},
				},
				"has_more": false,
			})
		default:
			t.Errorf("unexpected cursor %q", req.Cursor)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	adapter := newAdapterForServer(srv, &staticTokens{token: "tok"})

	parent := &models.ContainerRef{Provider: models.ProviderDropbox, ID: "/warehouse"}
	containers, err := adapter.ListContainers(context.Background(), parent)
	require.NoError(t, err)
	require.Equal(t, 3, pageRequests)
	require.Len(t, containers, 3)
	require.Equal(t, "/warehouse/cam-a", containers[0].Ref.ID)
	require.Equal(t, "cam-c", containers[2].Name)
}

func TestSearchVideosFiltersByWindowInclusive(t *testing.T) {
	boundary := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc("/2/files/list_folder", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"entries": []map[string]any{
				{".tag": "file", "id": "id:on-start", "name": "a.mp4", "path_lower": "/f/a.mp4",
					"client_modified": boundary.Format(time.RFC3339), "size": 10},
				{".tag": "file", "id": "id:before", "name": "b.mp4", "path_lower": "/f/b.mp4",
					"client_modified": boundary.Add(-time.Second).Format(time.RFC3339), "size": 10},
				{".tag": "file", "id": "id:not-video", "name": "c.txt", "path_lower": "/f/c.txt",
					"client_modified": boundary.Add(time.Minute).Format(time.RFC3339), "size": 10},
				{".tag": "file", "id": "id:on-end", "name": "d.mp4", "path_lower": "/f/d.mp4",
					"client_modified": boundary.Add(time.Hour).Format(time.RFC3339), "size": 10},
			},
			"has_more": false,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	adapter := newAdapterForServer(srv, &staticTokens{token: "tok"})

	container := models.ContainerRef{Provider: models.ProviderDropbox, ID: "/f"}
	records, err := adapter.SearchVideos(context.Background(), container, boundary, boundary.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "id:on-start", records[0].ID)
	require.Equal(t, "id:on-end", records[1].ID)
	require.Nil(t, records[0].EndTime)
}

func TestSearchVideosEmptyWindowIsNotAnError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/2/files/list_folder", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"entries": []map[string]any{}, "has_more": false})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	adapter := newAdapterForServer(srv, &staticTokens{token: "tok"})

	container := models.ContainerRef{Provider: models.ProviderDropbox, ID: "/empty"}
	records, err := adapter.SearchVideos(context.Background(), container, time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	require.NotNil(t, records)
	require.Empty(t, records)
}

func TestOpenDownloadStream(t *testing.T) {
	payload := "video-bytes-payload"
	mux := http.NewServeMux()
	mux.HandleFunc("/2/files/download", func(w http.ResponseWriter, r *http.Request) {
		var arg struct {
			Path string `json:"path"`
		}
		require.NoError(t, json.Unmarshal([]byte(r.Header.Get("Dropbox-API-Arg")), &arg))
		require.Equal(t, "/f/a.mp4", arg.Path)
		fmt.Fprint(w, payload)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	adapter := newAdapterForServer(srv, &staticTokens{token: "tok"})

	rec := &models.VideoRecord{ID: "id:a", Provider: models.ProviderDropbox, Locator: "/f/a.mp4"}
	stream, size, err := adapter.OpenDownloadStream(context.Background(), rec)
	require.NoError(t, err)
	defer stream.Close()

	body, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.Equal(t, payload, string(body))
	require.Equal(t, int64(len(payload)), size)
}

func TestUnauthorizedTriggersOneForcedRefresh(t *testing.T) {
	attempts := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/2/files/list_folder", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if r.Header.Get("Authorization") != "Bearer refreshed" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"entries": []map[string]any{}, "has_more": false})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	tokens := &staticTokens{token: "stale", refreshToken: "refreshed"}
	adapter := NewAdapter(tokens, "acct-1",
		WithBaseURLs(srv.URL, srv.URL),
		WithHTTPClient(srv.Client()),
		WithRateLimit(1000),
		WithRefreshOnPermissionDenied(true),
	)

	_, err := adapter.ListContainers(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, tokens.forceCalls)
	require.Equal(t, 2, attempts)
}

func TestPermissionDeniedClassification(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/2/files/list_folder", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	adapter := newAdapterForServer(srv, &staticTokens{token: "tok"})

	_, err := adapter.ListContainers(context.Background(), nil)
	require.True(t, interfaces.IsProviderKind(err, interfaces.PermissionDenied))
}
