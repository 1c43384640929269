package catalog_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/atmogrid/raster-ingest/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func granulePage(tag string, from, n int) []catalog.Granule {
	page := make([]catalog.Granule, n)
	for i := range page {
		page[i] = catalog.Granule{
			ID:          fmt.Sprintf("g-%d", from+i),
			Name:        fmt.Sprintf("OR_GLM_%013d.nc", 1714089600000+int64(from+i)*60000),
			DownloadURL: fmt.Sprintf("https://archive.example/g-%d", from+i),
			Tag:         tag,
		}
	}
	return page
}

func TestGranules_WalksAllPages(t *testing.T) {
	const total = 5
	var pagesServed []int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
		require.Equal(t, "GLM-L2-GLMF", r.URL.Query().Get("tag"))
		require.Equal(t, "NOAA", r.URL.Query().Get("provider"))
		pagesServed = append(pagesServed, page)

		from := (page - 1) * size
		n := min(size, total-from)
		w.Header().Set(catalog.TotalHitsHeader, strconv.Itoa(total))
		json.NewEncoder(w).Encode(map[string]any{
			"granules": granulePage("GLM-L2-GLMF", from, n),
		})
	}))
	defer srv.Close()

	c := catalog.NewClient(srv.URL, "NOAA", 2, time.Second)
	granules, err := c.Granules(context.Background(), "GLM-L2-GLMF",
		time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)

	assert.Len(t, granules, total)
	assert.Equal(t, []int{1, 2, 3}, pagesServed)
}

func TestGranules_FiltersForeignTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mixed := append(granulePage("GLM-L2-GLMF", 0, 2), granulePage("GLM-L2-GLMF-EXT", 2, 1)...)
		w.Header().Set(catalog.TotalHitsHeader, "3")
		json.NewEncoder(w).Encode(map[string]any{"granules": mixed})
	}))
	defer srv.Close()

	c := catalog.NewClient(srv.URL, "NOAA", 10, time.Second)
	granules, err := c.Granules(context.Background(), "GLM-L2-GLMF",
		time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Len(t, granules, 2)
}

func TestGranules_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "catalog unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := catalog.NewClient(srv.URL, "NOAA", 10, time.Second)
	_, err := c.Granules(context.Background(), "GLM-L2-GLMF",
		time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestGranules_MissingHitCountHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"granules": []catalog.Granule{}})
	}))
	defer srv.Close()

	c := catalog.NewClient(srv.URL, "NOAA", 10, time.Second)
	_, err := c.Granules(context.Background(), "GLM-L2-GLMF",
		time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), catalog.TotalHitsHeader)
}
