package imou

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warewatch/camsync/internal/interfaces"
	"github.com/warewatch/camsync/internal/models"
)

type staticTokens struct {
	token      string
	forceCalls int
}

func (s *staticTokens) GetValidAccessToken(context.Context, models.ProviderKind, string) (string, error) {
	return s.token, nil
}

func (s *staticTokens) ForceRefresh(context.Context, models.ProviderKind, string) (string, error) {
	s.forceCalls++
	return s.token, nil
}

func envelope(code string, data any) map[string]any {
	return map[string]any{"result": map[string]any{"code": code, "data": data}}
}

func newAdapterForServer(srv *httptest.Server) *Adapter {
	return NewAdapter(&staticTokens{token: "tok"}, "acct-1",
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithRateLimit(1000),
	)
}

func TestListContainersTwoLevels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/openapi/deviceList", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(envelope("0", map[string]any{
			"devices": []map[string]any{
				{
					"deviceId":   "dev-1",
					"deviceName": "Dock Camera",
					"channels": []map[string]any{
						{"channelId": "0", "channelName": "Main"},
						{"channelId": "1", "channelName": "Wide"},
					},
				},
				{"deviceId": "dev-2", "deviceName": "Gate Camera"},
			},
		}))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	adapter := newAdapterForServer(srv)
	ctx := context.Background()

	// Root level: devices
	devices, err := adapter.ListContainers(ctx, nil)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	require.Equal(t, "dev-1", devices[0].Ref.ID)
	require.True(t, devices[0].HasChildren)

	// Device level: channels
	parent := models.ContainerRef{Provider: models.ProviderImou, ID: "dev-1"}
	channels, err := adapter.ListContainers(ctx, &parent)
	require.NoError(t, err)
	require.Len(t, channels, 2)
	require.Equal(t, "dev-1/0", channels[0].Ref.ID)
	require.Equal(t, "Wide", channels[1].Name)
}

func TestSearchVideosAlwaysRequestsAllRecordTypes(t *testing.T) {
	var gotRecordType string
	mux := http.NewServeMux()
	mux.HandleFunc("/openapi/queryLocalRecords", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Params struct {
				RecordType string `json:"recordType"`
			} `json:"params"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotRecordType = req.Params.RecordType

		json.NewEncoder(w).Encode(envelope("0", map[string]any{
			"records": []map[string]any{
				{
					"recordId":    "rec-1",
					"beginTime":   "2024-01-01 00:10:00",
					"endTime":     "2024-01-01 00:15:00",
					"fileLength":  2048,
					"downloadUrl": "https://cloud.example.com/rec-1",
				},
			},
		}))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	adapter := newAdapterForServer(srv)

	container := models.ContainerRef{Provider: models.ProviderImou, ID: "dev-1/0"}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	records, err := adapter.SearchVideos(context.Background(), container, start, start.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "all", gotRecordType)
	require.Len(t, records, 1)
	require.Equal(t, "rec-1", records[0].ID)
	require.NotNil(t, records[0].EndTime)
	require.Equal(t, int64(2048), *records[0].SizeBytes)
	require.Equal(t, "https://cloud.example.com/rec-1", records[0].Locator)
}

func TestSearchVideosPaginatesQueryRange(t *testing.T) {
	var ranges []string
	mux := http.NewServeMux()
	mux.HandleFunc("/openapi/queryLocalRecords", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Params struct {
				QueryRange string `json:"queryRange"`
			} `json:"params"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		ranges = append(ranges, req.Params.QueryRange)

		count := recordPageSize
		if len(ranges) == 2 {
			count = 3 // short page ends pagination
		}
		recs := make([]map[string]any, count)
		for i := range recs {
			recs[i] = map[string]any{
				"recordId":  fmt.Sprintf("rec-%d-%d", len(ranges), i),
				"beginTime": "2024-01-01 00:10:00",
				"endTime":   "2024-01-01 00:15:00",
			}
		}
		json.NewEncoder(w).Encode(envelope("0", map[string]any{"records": recs}))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	adapter := newAdapterForServer(srv)

	container := models.ContainerRef{Provider: models.ProviderImou, ID: "dev-1/0"}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	records, err := adapter.SearchVideos(context.Background(), container, start, start.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, []string{"1-64", "65-128"}, ranges)
	require.Len(t, records, recordPageSize+3)
}

func TestSearchVideosEmptyIsNotAnError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/openapi/queryLocalRecords", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(envelope("0", map[string]any{"records": []any{}}))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	adapter := newAdapterForServer(srv)

	container := models.ContainerRef{Provider: models.ProviderImou, ID: "dev-1/0"}
	records, err := adapter.SearchVideos(context.Background(), container, time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestTokenExpiredCodeForcesOneRefresh(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/openapi/deviceList", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			json.NewEncoder(w).Encode(envelope("TK1002", nil))
			return
		}
		json.NewEncoder(w).Encode(envelope("0", map[string]any{"devices": []any{}}))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	tokens := &staticTokens{token: "tok"}
	adapter := NewAdapter(tokens, "acct-1",
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithRateLimit(1000),
	)

	_, err := adapter.ListContainers(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, tokens.forceCalls)
	require.Equal(t, 2, calls)
}

func TestPermissionCodeClassified(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/openapi/deviceList", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(envelope("OP1009", nil))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	adapter := newAdapterForServer(srv)

	_, err := adapter.ListContainers(context.Background(), nil)
	require.True(t, interfaces.IsProviderKind(err, interfaces.PermissionDenied))
}

func TestBadContainerID(t *testing.T) {
	adapter := NewAdapter(&staticTokens{token: "tok"}, "acct-1")
	container := models.ContainerRef{Provider: models.ProviderImou, ID: "no-channel"}
	_, err := adapter.SearchVideos(context.Background(), container, time.Now(), time.Now())
	require.Error(t, err)
}
