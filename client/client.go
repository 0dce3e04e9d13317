package client

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"Provenance/internal/address"
	"Provenance/internal/chain"
	"Provenance/internal/ledger"
	"Provenance/internal/txn"
)

const (
	// defaultWait is the long-poll window when ctx carries no deadline.
	defaultWait = 10 * time.Second

	// maxPoll is the longest single long poll. It stays under the node's
	// 30s cap and requestTimeout.
	maxPoll = 25 * time.Second

	// requestTimeout bounds a single request, long polls included.
	requestTimeout = 35 * time.Second
)

// ErrRejected is returned when the node refuses a transaction.
var ErrRejected = errors.New("transaction rejected")

// Client talks to a ledger node over HTTP.
type Client struct {
	base string        // base is the node URL, e.g. "http://127.0.0.1:8080"
	http *http.Client  // http carries the requests
	poll time.Duration // poll is the window of one /wait request
}

// Status is the node's /status response.
type Status struct {
	Program string `json:"program"`
	Version uint64 `json:"version"`
	Pending int    `json:"pending"`
	Records uint64 `json:"records"`
}

// New creates a client for nodeAddr. A bare host:port gets an http scheme.
func New(nodeAddr string) *Client {
	base := strings.TrimRight(nodeAddr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	return &Client{
		base: base,
		http: &http.Client{Timeout: requestTimeout},
		poll: maxPoll,
	}
}

// Submit posts a signed transaction and returns its hash.
func (c *Client) Submit(ctx context.Context, tx *txn.Tx) (txn.Hash, error) {
	var resp struct {
		Hash string `json:"hash"`
	}

	if err := c.httpPost(ctx, "/tx", txn.Encode(tx), &resp); err != nil {
		return txn.Hash{}, submitError(err)
	}

	hash, err := txn.ParseHash(resp.Hash)
	if err != nil {
		return txn.Hash{}, fmt.Errorf("node returned bad hash:\n%w", err)
	}

	return hash, nil
}

// submitError maps rejections onto chain sentinels where possible.
func submitError(err error) error {
	var se *statusError
	if !errors.As(err, &se) {
		return err
	}

	switch se.Code {
	case http.StatusConflict:
		return fmt.Errorf("%w: %w: %s", ErrRejected, chain.ErrSequence, se.Message)
	default:
		return fmt.Errorf("%w: %s", ErrRejected, se.Error())
	}
}

// Receipt fetches the receipt of a committed transaction.
func (c *Client) Receipt(ctx context.Context, hash txn.Hash) (*txn.Receipt, error) {
	var r txn.Receipt
	if err := c.httpGet(ctx, "/tx/"+hash.String(), &r); err != nil {
		return nil, receiptError(err)
	}

	return &r, nil
}

// Wait long-polls until hash commits. The wait window is ctx's deadline,
// or defaultWait without one; longer windows are split into several polls.
func (c *Client) Wait(ctx context.Context, hash txn.Hash) (*txn.Receipt, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultWait)
		defer cancel()
	}

	deadline, _ := ctx.Deadline()

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: %s", chain.ErrTimeout, hash)
		}

		q := url.Values{"timeout": {min(remaining, c.poll).String()}}

		var r txn.Receipt
		err := c.httpGet(ctx, "/tx/"+hash.String()+"/wait?"+q.Encode(), &r)
		if err == nil {
			return &r, nil
		}

		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", chain.ErrTimeout, hash)
		}

		err = receiptError(err)
		if !errors.Is(err, chain.ErrTimeout) {
			return nil, err
		}
	}
}

// receiptError maps lookup failures onto chain sentinels.
func receiptError(err error) error {
	var se *statusError
	if !errors.As(err, &se) {
		return err
	}

	switch se.Code {
	case http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", chain.ErrTimeout, se.Message)
	case http.StatusNotFound:
		if strings.Contains(se.Message, chain.ErrPending.Error()) {
			return fmt.Errorf("%w: %s", chain.ErrPending, se.Message)
		}

		return fmt.Errorf("%w: %s", chain.ErrUnknownTx, se.Message)
	default:
		return err
	}
}

// View calls a read-only program function. Aborts come back as ledger sentinels.
func (c *Client) View(ctx context.Context, fn string, args []byte) ([]byte, error) {
	var resp struct {
		Result string `json:"result"`
	}

	if err := c.httpPost(ctx, "/view/"+url.PathEscape(fn), args, &resp); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.VMStatus != "" {
			return nil, fmt.Errorf("view %s: %w", fn, ledger.ErrorForStatus(se.VMStatus))
		}

		return nil, fmt.Errorf("view %s:\n%w", fn, err)
	}

	raw, err := hex.DecodeString(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("decode view result:\n%w", err)
	}

	return raw, nil
}

// AccountSequence returns the next sequence the node accepts from addr.
func (c *Client) AccountSequence(ctx context.Context, addr address.Address) (uint64, error) {
	var resp struct {
		Sequence uint64 `json:"sequence"`
	}

	if err := c.httpGet(ctx, "/accounts/"+addr.String(), &resp); err != nil {
		return 0, fmt.Errorf("get account:\n%w", err)
	}

	return resp.Sequence, nil
}

// Events returns ledger events with Seq >= from.
func (c *Client) Events(ctx context.Context, from uint64) ([]ledger.Event, error) {
	var events []ledger.Event
	if err := c.httpGet(ctx, "/events?from="+strconv.FormatUint(from, 10), &events); err != nil {
		return nil, fmt.Errorf("get events:\n%w", err)
	}

	return events, nil
}

// Snapshot downloads the node's compressed ledger snapshot.
func (c *Client) Snapshot(ctx context.Context) ([]byte, error) {
	var data []byte
	if err := c.httpGet(ctx, "/snapshot", &data); err != nil {
		return nil, fmt.Errorf("get snapshot:\n%w", err)
	}

	return data, nil
}

// Status returns the node status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var s Status
	if err := c.httpGet(ctx, "/status", &s); err != nil {
		return nil, fmt.Errorf("get status:\n%w", err)
	}

	return &s, nil
}

// Health reports whether the node answers /health.
func (c *Client) Health(ctx context.Context) error {
	return c.httpGet(ctx, "/health", nil)
}
