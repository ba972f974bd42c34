package seller

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// Client is the seller API surface the pipeline depends on.
type Client interface {
	// CreateReport asks the remote side to start building an export and
	// returns the opaque job code to poll.
	CreateReport(ctx context.Context, kind ReportKind, params map[string]string) (string, error)

	// ReportStatus fetches the current state of a report job.
	ReportStatus(ctx context.Context, jobCode string) (ReportStatus, error)

	// DownloadCSV fetches a finished report artifact and parses it into rows.
	DownloadCSV(ctx context.Context, fileURL string) ([]Row, error)

	// ListPostings returns one page of sales postings.
	ListPostings(ctx context.Context, q PostingsQuery) (PostingsPage, error)
}

// statusSchema pins the shape of the report-info response. A response that
// does not validate is a protocol violation, not a transient failure.
const statusSchema = `{
  "type": "object",
  "required": ["result"],
  "properties": {
    "result": {
      "type": "object",
      "required": ["status"],
      "properties": {
        "status": {"type": "string"},
        "file": {"type": "string"},
        "error": {"type": "string"}
      }
    }
  }
}`

// HTTPClient implements Client against a JSON-over-HTTP seller API.
type HTTPClient struct {
	baseURL  string
	clientID string
	apiKey   string
	http     *http.Client
	schema   *gojsonschema.Schema
}

// NewHTTPClient builds a client for the given API endpoint and credentials.
func NewHTTPClient(baseURL, clientID, apiKey string) (*HTTPClient, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(statusSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile status schema: %w", err)
	}
	return &HTTPClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 60 * time.Second},
		schema:   schema,
	}, nil
}

type createReportRequest struct {
	ReportType string            `json:"report_type"`
	Params     map[string]string `json:"params,omitempty"`
}

type createReportResponse struct {
	Result struct {
		Code string `json:"code"`
	} `json:"result"`
}

func (c *HTTPClient) CreateReport(ctx context.Context, kind ReportKind, params map[string]string) (string, error) {
	body, err := c.postJSON(ctx, "/v1/report/create", createReportRequest{
		ReportType: string(kind),
		Params:     params,
	})
	if err != nil {
		return "", err
	}

	var resp createReportResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &ProtocolError{Message: "unparseable report/create response", Cause: err}
	}
	if resp.Result.Code == "" {
		return "", &ProtocolError{Message: "report/create response is missing the job code"}
	}
	return resp.Result.Code, nil
}

type reportInfoRequest struct {
	Code string `json:"code"`
}

type reportInfoResponse struct {
	Result struct {
		Status string `json:"status"`
		File   string `json:"file"`
		Error  string `json:"error"`
	} `json:"result"`
}

func (c *HTTPClient) ReportStatus(ctx context.Context, jobCode string) (ReportStatus, error) {
	body, err := c.postJSON(ctx, "/v1/report/info", reportInfoRequest{Code: jobCode})
	if err != nil {
		return ReportStatus{}, err
	}

	result, err := c.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return ReportStatus{}, &ProtocolError{Message: "report/info response is not valid JSON", Cause: err}
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			details = append(details, re.String())
		}
		return ReportStatus{}, &ProtocolError{
			Message: fmt.Sprintf("report/info response failed schema validation: %s", strings.Join(details, "; ")),
		}
	}

	var resp reportInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ReportStatus{}, &ProtocolError{Message: "unparseable report/info response", Cause: err}
	}
	return ReportStatus{
		Status:  strings.ToLower(resp.Result.Status),
		FileURL: resp.Result.File,
		Error:   resp.Result.Error,
	}, nil
}

func (c *HTTPClient) DownloadCSV(ctx context.Context, fileURL string) ([]Row, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download report artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ProtocolError{Message: fmt.Sprintf("artifact download returned HTTP %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read report artifact: %w", err)
	}
	return ParseCSV(data)
}

type listPostingsRequest struct {
	Since  string `json:"since"`
	To     string `json:"to"`
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit"`
}

type listPostingsResponse struct {
	Result struct {
		Postings []struct {
			PostingNumber string `json:"posting_number"`
			Status        string `json:"status"`
			CreatedAt     string `json:"created_at"`
			Products      []struct {
				OfferID  string `json:"offer_id"`
				Quantity int    `json:"quantity"`
				Price    string `json:"price"`
			} `json:"products"`
		} `json:"postings"`
		NextCursor string `json:"next_cursor"`
	} `json:"result"`
}

// ListPostings flattens the nested posting/product response into one row per
// posting line, which is the grain the sales table stores.
func (c *HTTPClient) ListPostings(ctx context.Context, q PostingsQuery) (PostingsPage, error) {
	body, err := c.postJSON(ctx, "/v2/posting/list", listPostingsRequest{
		Since:  q.Since.UTC().Format(time.RFC3339),
		To:     q.To.UTC().Format(time.RFC3339),
		Cursor: q.Cursor,
		Limit:  q.PageSize,
	})
	if err != nil {
		return PostingsPage{}, err
	}

	var resp listPostingsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return PostingsPage{}, &ProtocolError{Message: "unparseable posting/list response", Cause: err}
	}

	page := PostingsPage{NextCursor: resp.Result.NextCursor}
	for _, p := range resp.Result.Postings {
		for _, prod := range p.Products {
			page.Items = append(page.Items, Row{
				"Posting number": p.PostingNumber,
				"Offer ID":       prod.OfferID,
				"Status":         p.Status,
				"Quantity":       fmt.Sprintf("%d", prod.Quantity),
				"Price":          prod.Price,
				"Created at":     p.CreatedAt,
			})
		}
	}
	return page, nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Client-Id", c.clientID)
	req.Header.Set("Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProtocolError{Message: fmt.Sprintf("%s returned HTTP %d: %s", path, resp.StatusCode, truncate(string(body), 200))}
	}
	return body, nil
}

// ParseCSV decodes a report artifact into rows keyed by header column.
// The delimiter is sniffed from the header line; exports have shipped with
// both comma and semicolon separators.
func ParseCSV(data []byte) ([]Row, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, &ProtocolError{Message: "failed to parse report CSV", Cause: err}
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := records[0]
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	rows := make([]Row, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(Row, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = strings.TrimSpace(record[i])
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func sniffDelimiter(data []byte) rune {
	line := data
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		line = data[:idx]
	}
	if bytes.Count(line, []byte{';'}) > bytes.Count(line, []byte{','}) {
		return ';'
	}
	return ','
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
