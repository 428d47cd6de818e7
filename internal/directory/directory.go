// Package directory resolves the set of routers to probe.
//
// A host is trusted only when it appears in both published membership lists
// and its name contains the primary-router marker.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gluk-w/pingmatrix/internal/model"
)

// ErrUnavailable wraps every failure to obtain a roster. Callers keep the
// previous roster and retry on the next refresh.
var ErrUnavailable = errors.New("host directory unavailable")

// Source produces a fresh roster.
type Source interface {
	Refresh(ctx context.Context) ([]model.HostID, error)
}

// Filter selects trusted primary routers from the two lists.
type Filter struct {
	ListA  string
	ListB  string
	Marker string
}

// Apply intersects lists[ListA] and lists[ListB], keeps names containing
// Marker (case-insensitive) and returns them sorted without duplicates.
func (f Filter) Apply(lists map[string][]string) ([]model.HostID, error) {
	a, ok := lists[f.ListA]
	if !ok {
		return nil, fmt.Errorf("%w: list %q missing", ErrUnavailable, f.ListA)
	}
	b, ok := lists[f.ListB]
	if !ok {
		return nil, fmt.Errorf("%w: list %q missing", ErrUnavailable, f.ListB)
	}

	inB := make(map[string]struct{}, len(b))
	for _, h := range b {
		inB[h] = struct{}{}
	}
	marker := strings.ToLower(f.Marker)
	seen := make(map[string]struct{})
	var hosts []model.HostID
	for _, h := range a {
		if _, ok := inB[h]; !ok {
			continue
		}
		if !strings.Contains(strings.ToLower(h), marker) {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts, nil
}

// HTTPDirectory fetches a JSON object whose fields are lists of host names,
// e.g. {"mikrotik": [...], "HamWAN": [...]}.
type HTTPDirectory struct {
	URL    string
	Filter Filter
	Client *http.Client
}

func NewHTTPDirectory(url string, f Filter) *HTTPDirectory {
	return &HTTPDirectory{URL: url, Filter: f, Client: &http.Client{Timeout: 30 * time.Second}}
}

func (d *HTTPDirectory) Refresh(ctx context.Context) ([]model.HostID, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrUnavailable, d.URL, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode roster: %v", ErrUnavailable, err)
	}
	lists := make(map[string][]string, 2)
	for _, name := range []string{d.Filter.ListA, d.Filter.ListB} {
		msg, ok := raw[name]
		if !ok {
			continue
		}
		var hosts []string
		if err := json.Unmarshal(msg, &hosts); err != nil {
			return nil, fmt.Errorf("%w: list %q: %v", ErrUnavailable, name, err)
		}
		lists[name] = hosts
	}
	return d.Filter.Apply(lists)
}

// FileDirectory reads the same list shape from a YAML file:
//
//	mikrotik:
//	  - r1.baldi.hamwan.net
//	HamWAN:
//	  - r1.baldi.hamwan.net
type FileDirectory struct {
	Path   string
	Filter Filter
}

func (d *FileDirectory) Refresh(ctx context.Context) ([]model.HostID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(d.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var lists map[string][]string
	if err := yaml.Unmarshal(data, &lists); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrUnavailable, d.Path, err)
	}
	return d.Filter.Apply(lists)
}
