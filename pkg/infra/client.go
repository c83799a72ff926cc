package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/simbachain/simba-go/pkg/comm"
)

// Transport is the remote side of the pipeline
type Transport interface {
	// RequestTransaction asks the service for an unsigned transaction for method
	RequestTransaction(ctx context.Context, method string, params map[string]interface{}, attachments []Attachment) (*Descriptor, error)
	// SubmitSigned posts a signed payload. A stale nonce yields *ConflictError.
	SubmitSigned(ctx context.Context, id, signedPayload string) error
	// FetchTransaction reads the current record of a transaction
	FetchTransaction(ctx context.Context, id string) (*Record, error)
}

const timestampLayout = "2006-01-02T15:04:05.999999"

// HTTPTransport talks to the SIMBA REST API of a single application
type HTTPTransport struct {
	client *comm.Client
	app    string

	mu       sync.Mutex
	metadata *AppMetadata
}

func NewHTTPTransport(client *comm.Client, app string) (*HTTPTransport, error) {
	app = strings.Trim(strings.TrimSpace(app), "/")
	if client == nil {
		return nil, errors.New("http client is required")
	}
	if app == "" {
		return nil, errors.New("application name is required")
	}
	return &HTTPTransport{client: client, app: app}, nil
}

func (t *HTTPTransport) RequestTransaction(ctx context.Context, method string, params map[string]interface{}, attachments []Attachment) (*Descriptor, error) {
	path := fmt.Sprintf("%s/%s/", t.app, method)

	var resp signingTransaction
	var err error
	if len(attachments) == 0 {
		body := params
		if body == nil {
			body = map[string]interface{}{}
		}
		err = t.client.PostJSON(ctx, path, body, &resp)
	} else {
		fields := make(map[string]string, len(params))
		for k, v := range params {
			fields[k], err = formValue(v)
			if err != nil {
				return nil, errors.Wrapf(err, "fail to encode parameter %s", k)
			}
		}
		files := make([]comm.File, len(attachments))
		for i, a := range attachments {
			files[i] = comm.File{
				Field:    fmt.Sprintf("file_%d", i),
				Name:     a.Name,
				MimeType: a.MimeType,
				Content:  a.Content,
			}
		}
		err = t.client.PostMultipart(ctx, path, fields, files, &resp)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "fail to request transaction for %s", method)
	}
	if resp.ID == "" {
		return nil, errors.Errorf("service returned no transaction id for %s", method)
	}
	return resp.descriptor(), nil
}

func (t *HTTPTransport) SubmitSigned(ctx context.Context, id, signedPayload string) error {
	path := fmt.Sprintf("%s/transaction/%s/", t.app, id)
	err := t.client.PostJSON(ctx, path, map[string]string{"payload": signedPayload}, nil)
	if err == nil {
		return nil
	}

	var httpErr *comm.HTTPError
	if errors.As(err, &httpErr) && httpErr.IsConflict() {
		return &ConflictError{
			Message:        httpErr.Message,
			SuggestedNonce: suggestedNonce(httpErr.Extra),
			Status:         httpErr.Status,
		}
	}
	return errors.Wrapf(err, "fail to submit signed transaction %s", id)
}

func (t *HTTPTransport) FetchTransaction(ctx context.Context, id string) (*Record, error) {
	var tx fullTransaction
	if err := t.client.Get(ctx, fmt.Sprintf("%s/transaction/%s", t.app, id), &tx); err != nil {
		return nil, errors.Wrapf(err, "fail to fetch transaction %s", id)
	}
	return tx.record(), nil
}

// Page is one page of a transaction listing
type Page struct {
	Count    int
	Next     string
	Previous string
	Results  []*Record
}

// ListTransactions lists the transactions of method, or of the whole
// application when method is empty, filtered by query
func (t *HTTPTransport) ListTransactions(ctx context.Context, method string, query *comm.Query) (*Page, error) {
	path := fmt.Sprintf("%s/transaction/", t.app)
	if method != "" {
		path = fmt.Sprintf("%s/%s/", t.app, method)
	}
	return t.getPage(ctx, path+query.Encode())
}

// NextPage returns nil when page is the last one
func (t *HTTPTransport) NextPage(ctx context.Context, page *Page) (*Page, error) {
	if page == nil || page.Next == "" {
		return nil, nil
	}
	return t.getPage(ctx, page.Next)
}

// PrevPage returns nil when page is the first one
func (t *HTTPTransport) PrevPage(ctx context.Context, page *Page) (*Page, error) {
	if page == nil || page.Previous == "" {
		return nil, nil
	}
	return t.getPage(ctx, page.Previous)
}

func (t *HTTPTransport) getPage(ctx context.Context, path string) (*Page, error) {
	var resp pagedTransactions
	if err := t.client.Get(ctx, path, &resp); err != nil {
		return nil, errors.Wrap(err, "fail to list transactions")
	}

	page := &Page{
		Count:    resp.Count,
		Next:     resp.Next,
		Previous: resp.Previous,
		Results:  make([]*Record, len(resp.Results)),
	}
	for i := range resp.Results {
		page.Results[i] = resp.Results[i].record()
	}
	return page, nil
}

// looseString accepts a JSON string, number or null
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*s = ""
	case len(b) > 0 && b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
	default:
		*s = looseString(b)
	}
	return nil
}

type rawTransaction struct {
	Nonce    looseString `json:"nonce"`
	GasPrice looseString `json:"gasPrice"`
	GasLimit looseString `json:"gasLimit"`
	Value    looseString `json:"value"`
	To       string      `json:"to"`
	From     string      `json:"from"`
	Data     string      `json:"data"`
}

type transactionPayload struct {
	Raw    rawTransaction         `json:"raw"`
	Inputs map[string]interface{} `json:"inputs"`
}

type signingTransaction struct {
	ID      string             `json:"id"`
	Payload transactionPayload `json:"payload"`
}

func (s *signingTransaction) descriptor() *Descriptor {
	raw := s.Payload.Raw
	return &Descriptor{
		ID:       s.ID,
		Nonce:    string(raw.Nonce),
		GasPrice: string(raw.GasPrice),
		GasLimit: string(raw.GasLimit),
		To:       raw.To,
		Value:    string(raw.Value),
		Data:     raw.Data,
		From:     raw.From,
	}
}

type fullTransaction struct {
	ID              string                 `json:"id"`
	Method          string                 `json:"method"`
	Payload         transactionPayload     `json:"payload"`
	Receipt         map[string]interface{} `json:"receipt"`
	TransactionHash string                 `json:"transaction_hash"`
	Error           string                 `json:"error"`
	ErrorDetails    interface{}            `json:"error_details"`
	Status          string                 `json:"status"`
	Timestamp       string                 `json:"timestamp"`
}

func (tx *fullTransaction) state() State {
	switch strings.ToUpper(tx.Status) {
	case "DEPLOYED", "COMPLETED":
		return StateCompleted
	case "FAILED":
		return StateFailed
	case "SUBMITTED":
		if tx.Error == "" {
			return StateSubmitted
		}
	}
	if tx.Error != "" {
		return StateFailed
	}
	if tx.Receipt == nil {
		return StateInitialized
	}
	return StateCompleted
}

func (tx *fullTransaction) record() *Record {
	r := &Record{
		ID:     tx.ID,
		Method: tx.Method,
		Sender: tx.Payload.Raw.From,
		TxHash: tx.TransactionHash,
		Inputs: tx.Payload.Inputs,
		State:  tx.state(),
		Error:  tx.Error,
	}
	if block, ok := tx.Receipt["blockNumber"]; ok && block != nil {
		r.Block = formatNumber(block)
	}
	r.CreatedAt = parseTimestamp(tx.Timestamp)
	return r
}

// formatNumber renders JSON numbers in plain decimal
func formatNumber(v interface{}) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{timestampLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

type pagedTransactions struct {
	Count    int               `json:"count"`
	Next     string            `json:"next"`
	Previous string            `json:"previous"`
	Results  []fullTransaction `json:"results"`
}

// formValue renders a parameter as a multipart field. Scalars are written
// as text, everything else as JSON.
func formValue(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case fmt.Stringer:
		return val.String(), nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(val), nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func suggestedNonce(extra map[string]interface{}) string {
	for _, key := range []string{"suggested_nonce", "nonce"} {
		v, ok := extra[key]
		if !ok || v == nil {
			continue
		}
		if n := formatNumber(v); n != "" {
			return n
		}
	}
	return ""
}
