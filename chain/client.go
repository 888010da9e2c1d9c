// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
)

const (
	// defaultHTTPTimeout bounds each REST request independently of the
	// caller's context.
	defaultHTTPTimeout = 30 * time.Second

	// maxResponseBytes bounds how much of any response body is read.
	maxResponseBytes = 1 << 20

	// maxErrBodyLen bounds how much of an error response body is kept
	// in the returned APIError message.
	maxErrBodyLen = 256
)

// Client is a REST client of the payment network API.  Methods perform
// a single request with no internal retries, leaving retry policy to
// the caller.  All methods are safe for concurrent use.
type Client struct {
	apiURL string
	http   *http.Client
}

// NewClient returns a client of the API rooted at apiURL.
func NewClient(apiURL string) *Client {
	return &Client{
		apiURL: strings.TrimRight(apiURL, "/"),
		http:   &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// UnspentOutput is one spendable output of a funding address as
// reported by the unspent endpoint.
type UnspentOutput struct {
	// Txid is the funding transaction id in the usual big endian
	// display order.
	Txid string

	// Vout is the output index within the funding transaction.
	Vout uint32

	// Value is the output amount.
	Value btcutil.Amount

	// PkScript is the raw output script.
	PkScript []byte

	// Confirmations is the depth of the funding transaction.
	Confirmations int64
}

// RawAddr returns the most recent transactions involving addr, newest
// first, up to limit.  Confirmation counts are not populated; the
// summaries report what the address index knows without a tip lookup.
func (c *Client) RawAddr(ctx context.Context, addr string, limit int) ([]TxSummary, error) {
	path := "/rawaddr/" + url.PathEscape(addr) + "?limit=" +
		strconv.Itoa(limit)

	var resp serviceAddr
	if err := c.getJSON(ctx, "rawaddr", path, &resp); err != nil {
		return nil, err
	}

	summaries := make([]TxSummary, 0, len(resp.Txs))
	for i := range resp.Txs {
		summaries = append(summaries, resp.Txs[i].summary())
	}
	return summaries, nil
}

// RawTx returns a single transaction by id.  When the transaction has
// been mined the confirmation count is derived from the current block
// count.  If the tip lookup fails the summary reports a single
// confirmation, the floor implied by a mined transaction.
func (c *Client) RawTx(ctx context.Context, txid string) (*TxSummary, error) {
	var tx serviceTx
	path := "/rawtx/" + url.PathEscape(txid)
	if err := c.getJSON(ctx, "rawtx", path, &tx); err != nil {
		return nil, err
	}

	summary := tx.summary()
	if tx.BlockHeight > 0 {
		tip, err := c.BlockCount(ctx)
		switch {
		case err != nil:
			log.Debugf("Block count lookup failed, reporting "+
				"floor confirmations for %v: %v", txid, err)
			summary.Confirmations = 1
		case tip >= tx.BlockHeight:
			summary.Confirmations = tip - tx.BlockHeight + 1
		default:
			summary.Confirmations = 1
		}
	}
	return &summary, nil
}

// Unspent returns the spendable outputs of the given addresses.  An
// address set with nothing to spend returns an empty slice rather than
// an error.
func (c *Client) Unspent(ctx context.Context, addrs []string) ([]UnspentOutput, error) {
	query := url.Values{"active": {strings.Join(addrs, "|")}}
	path := "/unspent?" + query.Encode()

	var resp serviceUnspent
	if err := c.getJSON(ctx, "unspent", path, &resp); err != nil {
		// The service reports an empty output set as an error with a
		// recognizable message instead of an empty listing.
		var apiErr *APIError
		if errors.As(err, &apiErr) && strings.Contains(
			strings.ToLower(apiErr.Message), "no free outputs") {

			return nil, nil
		}
		return nil, err
	}

	utxos := make([]UnspentOutput, 0, len(resp.Outputs))
	for _, out := range resp.Outputs {
		script, err := hex.DecodeString(out.Script)
		if err != nil {
			return nil, &APIError{
				Op:      "unspent",
				Message: "malformed output script: " + err.Error(),
			}
		}
		utxos = append(utxos, UnspentOutput{
			Txid:          out.TxHashBE,
			Vout:          out.N,
			Value:         btcutil.Amount(out.Value),
			PkScript:      script,
			Confirmations: out.Confirmations,
		})
	}
	return utxos, nil
}

// PushTx broadcasts a serialized transaction.  A response indicating
// the service already knows the transaction maps to ErrTxAlreadyKnown.
func (c *Client) PushTx(ctx context.Context, rawTx []byte) error {
	form := url.Values{"tx": {hex.EncodeToString(rawTx)}}
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.apiURL+"/pushtx",
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do("pushtx", req)
	if err != nil {
		if isAlreadyKnown(string(body)) {
			return ErrTxAlreadyKnown
		}
		return err
	}
	return nil
}

// BlockCount returns the current block height of the service's chain
// view.
func (c *Client) BlockCount(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, c.apiURL+"/q/getblockcount", nil,
	)
	if err != nil {
		return 0, err
	}

	body, err := c.do("getblockcount", req)
	if err != nil {
		return 0, err
	}

	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, &APIError{
			Op:      "getblockcount",
			Message: "malformed height: " + truncateBody(body),
		}
	}
	return height, nil
}

// getJSON performs a GET request and decodes the JSON response into
// out.
func (c *Client) getJSON(ctx context.Context, op, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, c.apiURL+path, nil,
	)
	if err != nil {
		return err
	}

	body, err := c.do(op, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &APIError{
			Op:      op,
			Message: "malformed response: " + err.Error(),
		}
	}
	return nil
}

// do executes the request and returns the response body.  Non-OK
// statuses produce an APIError; the body is returned alongside it so
// callers can inspect service-specific error text.
func (c *Client) do(op string, req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return body, &APIError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    truncateBody(body),
		}
	}
	return body, nil
}

// truncateBody renders a response body as a bounded single line error
// detail.
func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrBodyLen {
		s = s[:maxErrBodyLen]
	}
	return s
}
