package fred

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Dan9191/lender-rates/internal/config"
	"github.com/beevik/etree"
	"github.com/sirupsen/logrus"
)

// FRED series for the Freddie Mac Primary Mortgage Market Survey
const (
	Series30yr = "MORTGAGE30US"
	Series15yr = "MORTGAGE15US"
	SeriesARM  = "MORTGAGE5US"
)

// demoAPIKey is sent when no key is configured; FRED accepts it with lower rate limits
const demoAPIKey = "abcdefghijklmnopqrstuvwxyz012345"

// maxResponseBytes bounds how much of a response body is read
const maxResponseBytes = 256 << 10

// ErrNoData is returned when the latest observation is missing or the "." placeholder
var ErrNoData = errors.New("no observation data")

// Client handles integration with the FRED series observations API
type Client struct {
	url    string
	apiKey string
	client *http.Client
	log    *logrus.Logger
}

// NewClient initializes a new FRED client
func NewClient(cfg *config.Config, log *logrus.Logger) *Client {
	return &Client{
		url:    cfg.FREDURL,
		apiKey: cfg.FREDAPIKey,
		client: &http.Client{
			Timeout: cfg.FetchTimeout,
		},
		log: log,
	}
}

// buildRequestURL creates the observations query for the most recent value of a series
func (c *Client) buildRequestURL(seriesID string) string {
	key := c.apiKey
	if key == "" {
		key = demoAPIKey
	}
	params := url.Values{}
	params.Set("series_id", seriesID)
	params.Set("sort_order", "desc")
	params.Set("limit", "1")
	params.Set("file_type", "xml")
	params.Set("api_key", key)
	return c.url + "?" + params.Encode()
}

// sendRequest sends the observations request to FRED
func (c *Client) sendRequest(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/xml")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if msg := errorMessage(body); msg != "" {
			return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	c.log.Debugf("FRED XML response: %s", string(body))

	return body, nil
}

// parseXMLResponse extracts the value of the first observation
func parseXMLResponse(rawBody []byte) (float64, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(rawBody); err != nil {
		return 0, fmt.Errorf("failed to parse XML: %w", err)
	}

	obs := doc.FindElement("//observations/observation")
	if obs == nil {
		return 0, ErrNoData
	}

	value := strings.TrimSpace(obs.SelectAttrValue("value", "."))
	if value == "." || value == "" {
		return 0, ErrNoData
	}

	rate, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse observation value %q: %w", value, err)
	}
	// ParseFloat accepts NaN and Inf spellings
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0, ErrNoData
	}
	return rate, nil
}

func errorMessage(body []byte) string {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return ""
	}
	if e := doc.FindElement("//error"); e != nil {
		return e.SelectAttrValue("message", "")
	}
	return ""
}

// LatestObservation retrieves the most recent observation of a series
func (c *Client) LatestObservation(ctx context.Context, seriesID string) (float64, error) {
	body, err := c.sendRequest(ctx, c.buildRequestURL(seriesID))
	if err != nil {
		return 0, fmt.Errorf("series %s: %w", seriesID, err)
	}

	rate, err := parseXMLResponse(body)
	if err != nil {
		return 0, fmt.Errorf("series %s: %w", seriesID, err)
	}

	c.log.WithFields(logrus.Fields{"series": seriesID, "value": rate}).Info("Retrieved FRED observation")
	return rate, nil
}
