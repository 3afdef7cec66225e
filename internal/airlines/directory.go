// Package airlines resolves carrier codes to display names using two
// reference lists fetched once at startup: a 3-letter ICAO CSV and a
// 2-letter IATA JSON map.
package airlines

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/yeonjoon13/nearby-flights/internal/logging"
)

// Directory is safe for concurrent use. Until Load succeeds every lookup misses.
type Directory struct {
	client         *http.Client
	twoLetterURL   string
	threeLetterURL string

	mu    sync.RWMutex
	two   map[string]string
	three map[string]string
}

func NewDirectory(client *http.Client, twoLetterURL, threeLetterURL string) *Directory {
	if client == nil {
		client = http.DefaultClient
	}
	return &Directory{
		client:         client,
		twoLetterURL:   twoLetterURL,
		threeLetterURL: threeLetterURL,
		two:            map[string]string{},
		three:          map[string]string{},
	}
}

// Resolve returns the airline name for code, trying the 3-letter list
// before the 2-letter one. It returns "" when neither knows the code.
func (d *Directory) Resolve(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return ""
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if name, ok := d.three[code]; ok {
		return name
	}
	return d.two[code]
}

// Len reports the number of entries in each list.
func (d *Directory) Len() (two, three int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.two), len(d.three)
}

// Load fetches both lists. A list that fails keeps its previous contents;
// the other one is still applied.
func (d *Directory) Load(ctx context.Context) error {
	var errs []error

	if d.threeLetterURL != "" {
		m, err := d.fetch(ctx, d.threeLetterURL, ParseThreeLetter)
		if err != nil {
			errs = append(errs, fmt.Errorf("3-letter list: %w", err))
		} else {
			d.mu.Lock()
			d.three = m
			d.mu.Unlock()
			logging.Info().Int("entries", len(m)).Msg("3-letter airline map loaded")
		}
	}

	if d.twoLetterURL != "" {
		m, err := d.fetch(ctx, d.twoLetterURL, ParseTwoLetter)
		if err != nil {
			errs = append(errs, fmt.Errorf("2-letter list: %w", err))
		} else {
			d.mu.Lock()
			d.two = m
			d.mu.Unlock()
			logging.Info().Int("entries", len(m)).Msg("airline map loaded")
		}
	}

	return errors.Join(errs...)
}

func (d *Directory) fetch(ctx context.Context, url string, parse func(io.Reader) (map[string]string, error)) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parse(resp.Body)
}

// ParseThreeLetter reads the ICAO airline CSV: company name in column 0,
// 3-letter code in column 3. Short rows and rows missing either value are skipped.
func ParseThreeLetter(r io.Reader) (map[string]string, error) {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	out := make(map[string]string)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 4 {
			continue
		}
		company := strings.TrimSpace(rec[0])
		code := strings.ToUpper(strings.TrimSpace(rec[3]))
		if company != "" && code != "" {
			out[code] = company
		}
	}
	return out, nil
}

// ParseTwoLetter reads a JSON object keyed by carrier code. Values may be a
// plain name or an object carrying a "name" field.
func ParseTwoLetter(r io.Reader) (map[string]string, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for code, v := range raw {
		var name string
		if err := json.Unmarshal(v, &name); err != nil {
			var obj struct {
				Name string `json:"name"`
			}
			if json.Unmarshal(v, &obj) != nil {
				continue
			}
			name = obj.Name
		}
		code = strings.ToUpper(strings.TrimSpace(code))
		if name = strings.TrimSpace(name); code != "" && name != "" {
			out[code] = name
		}
	}
	return out, nil
}
