// Package ovsdb speaks the OVSDB JSON-RPC wire protocol directly over a
// Unix domain socket. No JSON-RPC-over-Unix-socket client for this schema
// exists anywhere in the retrieval pack, so this client is hand-rolled on
// top of encoding/json and net — the one adapter in this module without a
// third-party transport library behind it.
package ovsdb

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hostctl/hostctl/internal/errs"
)

// OVSDBOp is one operation of an OVSDB "transact" request: insert, select,
// update, mutate, delete, wait, commit, abort, comment, or assert.
type OVSDBOp struct {
	Op        string          `json:"op"`
	Table     string          `json:"table,omitempty"`
	Row       json.RawMessage `json:"row,omitempty"`
	Rows      json.RawMessage `json:"rows,omitempty"`
	Columns   []string        `json:"columns,omitempty"`
	Where     json.RawMessage `json:"where,omitempty"`
	Mutations json.RawMessage `json:"mutations,omitempty"`
	UUIDName  string          `json:"uuid-name,omitempty"`
	Comment   string          `json:"comment,omitempty"`
}

// OVSDBResult is one result row of a transact reply: either {rows:[...]}
// / {count:n} / {uuid:[...]} on success, or {error,details} on failure.
type OVSDBResult struct {
	Rows    []map[string]json.RawMessage `json:"rows,omitempty"`
	Count   *int                         `json:"count,omitempty"`
	UUID    json.RawMessage              `json:"uuid,omitempty"`
	Error   string                       `json:"error,omitempty"`
	Details string                       `json:"details,omitempty"`
}

type request struct {
	Method string `json:"method"`
	Params any    `json:"params"`
	ID     uint64 `json:"id"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
	ID     uint64          `json:"id"`
}

// Client is a synchronous OVSDB JSON-RPC client over one Unix socket
// connection. Concurrent Transact/ListDatabases/GetSchema calls are
// serialized by mu; OVSDB servers process one request per connection at a
// time in practice, and this module never needs concurrent transactions
// against the same database.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	nextID atomic.Uint64
}

// Dial connects to an OVSDB server listening on a Unix domain socket
// (conventionally /var/run/openvswitch/db.sock).
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, errs.Newf(errs.KindProtocolUnavailable, "ovsdb: dial %s: %v", socketPath, err)
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// Close closes the underlying socket.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID.Add(1)
	req := request{Method: method, Params: params, ID: id}
	enc, err := json.Marshal(req)
	if err != nil {
		return nil, errs.Newf(errs.KindInternal, "ovsdb: encode request: %v", err)
	}

	var deadline time.Time
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)

	if _, err := c.conn.Write(enc); err != nil {
		return nil, errs.Newf(errs.KindProtocolUnavailable, "ovsdb: write: %v", err)
	}

	dec := json.NewDecoder(c.reader)
	var resp response
	if err := dec.Decode(&resp); err != nil {
		return nil, errs.Newf(errs.KindProtocolUnavailable, "ovsdb: decode response: %v", err)
	}
	if resp.ID != id {
		return nil, errs.Newf(errs.KindInternal, "ovsdb: response id %d does not match request id %d", resp.ID, id)
	}
	if len(resp.Error) > 0 && string(resp.Error) != "null" {
		return nil, errs.Newf(errs.KindProtocolUnavailable, "ovsdb: rpc error: %s", resp.Error)
	}
	return resp.Result, nil
}

// ListDatabases returns the names of databases the server exports.
func (c *Client) ListDatabases(ctx context.Context) ([]string, error) {
	result, err := c.call(ctx, "list_dbs", []any{})
	if err != nil {
		return nil, err
	}
	var dbs []string
	if err := json.Unmarshal(result, &dbs); err != nil {
		return nil, errs.Newf(errs.KindInternal, "ovsdb: decode list_dbs result: %v", err)
	}
	return dbs, nil
}

// GetSchema returns the raw JSON schema document for db.
func (c *Client) GetSchema(ctx context.Context, db string) (json.RawMessage, error) {
	result, err := c.call(ctx, "get_schema", []any{db})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Transact submits a batch of operations against db, returning one result
// per operation in the order submitted.
func (c *Client) Transact(ctx context.Context, db string, ops []OVSDBOp) ([]OVSDBResult, error) {
	params := make([]any, 0, len(ops)+1)
	params = append(params, db)
	for _, op := range ops {
		params = append(params, op)
	}
	result, err := c.call(ctx, "transact", params)
	if err != nil {
		return nil, err
	}
	var results []OVSDBResult
	if err := json.Unmarshal(result, &results); err != nil {
		return nil, errs.Newf(errs.KindInternal, "ovsdb: decode transact result: %v", err)
	}
	for _, r := range results {
		if r.Error != "" {
			return results, errs.Newf(errs.KindValidation, "ovsdb: transact op failed: %s: %s", r.Error, r.Details)
		}
	}
	return results, nil
}
