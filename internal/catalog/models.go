package catalog

import (
	"net/url"
	"strconv"
	"time"
)

// Granule describes one remote minute-resolution file listed by the catalog.
type Granule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"` // filename, encodes the acquisition instant
	DownloadURL string    `json:"url"`
	Start       time.Time `json:"start"`
	Tag         string    `json:"tag"`
}

// Query selects granules for one sensor product within a time window.
type Query struct {
	Tag      string
	Provider string
	Start    time.Time
	End      time.Time
	Page     int // 1-based
	PageSize int
}

// ToQueryString renders the query as catalog URL parameters.
func (q Query) ToQueryString() string {
	v := url.Values{}
	v.Set("tag", q.Tag)
	v.Set("provider", q.Provider)
	v.Set("start", q.Start.UTC().Format(time.RFC3339))
	v.Set("end", q.End.UTC().Format(time.RFC3339))
	v.Set("page", strconv.Itoa(q.Page))
	v.Set("page_size", strconv.Itoa(q.PageSize))
	return v.Encode()
}

// response is the catalog's paginated granule listing.
type response struct {
	Granules []Granule `json:"granules"`
}
