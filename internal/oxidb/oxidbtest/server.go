// Package oxidbtest runs an in-process oxidb-server stand-in for tests. It
// speaks the same length-prefixed JSON protocol and implements the subset of
// commands the client exposes, backed by in-memory collections.
package oxidbtest

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

type Server struct {
	ln net.Listener

	mu          sync.Mutex
	collections map[string][]map[string]any
	unique      map[string][]string
	nextID      int
	failures    map[string]string
	failOnce    map[string]string
	latency     time.Duration
	commands    []string
	conns       map[net.Conn]struct{}
	closed      bool
}

// Start launches a server on a random local port and stops it when the test ends.
func Start(t testing.TB) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("oxidbtest: listen: %v", err)
	}
	s := &Server{
		ln:          ln,
		collections: make(map[string][]map[string]any),
		unique:      make(map[string][]string),
		failures:    make(map[string]string),
		failOnce:    make(map[string]string),
		conns:       make(map[net.Conn]struct{}),
	}
	go s.accept()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Host() string {
	return s.ln.Addr().(*net.TCPAddr).IP.String()
}

func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Close stops accepting and drops every open connection.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.ln.Close()
}

// Fail makes every subsequent cmd return msg as a server error.
// An empty msg clears the failure.
func (s *Server) Fail(cmd, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg == "" {
		delete(s.failures, cmd)
		return
	}
	s.failures[cmd] = msg
}

// FailOnce makes the next cmd return msg as a server error.
func (s *Server) FailOnce(cmd, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOnce[cmd] = msg
}

// SetLatency delays every response by d.
func (s *Server) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// Commands returns the cmd names received so far, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Docs returns a copy of the documents stored in collection.
func (s *Server) Docs(collection string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneDocs(s.collections[collection])
}

// Seed inserts docs directly, bypassing the protocol.
func (s *Server) Seed(collection string, docs ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		s.insertLocked(collection, normalize(d))
	}
}

func (s *Server) accept() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	var snapshot map[string][]map[string]any
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			return
		}
		payload := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}
		var req map[string]any
		if err := json.Unmarshal(payload, &req); err != nil {
			return
		}

		s.mu.Lock()
		latency := s.latency
		s.mu.Unlock()
		if latency > 0 {
			time.Sleep(latency)
		}

		data, err := s.handle(req, &snapshot)
		resp := map[string]any{"ok": true, "data": data}
		if err != nil {
			resp = map[string]any{"ok": false, "error": err.Error()}
		}
		out, _ := json.Marshal(resp)
		frame := make([]byte, 4+len(out))
		binary.LittleEndian.PutUint32(frame, uint32(len(out)))
		copy(frame[4:], out)
		if _, err := conn.Write(frame); err != nil {
			return
		}
	}
}

func (s *Server) handle(req map[string]any, snapshot *map[string][]map[string]any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, _ := req["cmd"].(string)
	s.commands = append(s.commands, cmd)
	msg, failed := s.failures[cmd]
	if once, ok := s.failOnce[cmd]; ok {
		delete(s.failOnce, cmd)
		msg, failed = once, true
	}
	if failed {
		// A failed commit aborts the transaction.
		if cmd == "commit_tx" && *snapshot != nil {
			s.collections = *snapshot
			*snapshot = nil
		}
		return nil, fmt.Errorf("%s", msg)
	}
	coll, _ := req["collection"].(string)
	query, _ := req["query"].(map[string]any)

	switch cmd {
	case "ping":
		return "pong", nil
	case "create_index", "create_composite_index":
		return "ok", nil
	case "create_unique_index":
		field, _ := req["field"].(string)
		s.unique[coll] = append(s.unique[coll], field)
		return "ok", nil
	case "insert":
		doc, _ := req["doc"].(map[string]any)
		id, err := s.insertLocked(coll, doc)
		if err != nil {
			return nil, err
		}
		if *snapshot != nil {
			return "buffered", nil
		}
		return map[string]any{"id": id}, nil
	case "insert_many":
		docs, _ := req["docs"].([]any)
		ids := make([]any, 0, len(docs))
		for _, d := range docs {
			doc, _ := d.(map[string]any)
			id, err := s.insertLocked(coll, doc)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	case "find":
		return cloneDocs(s.findLocked(coll, query, req)), nil
	case "find_one":
		for _, d := range s.collections[coll] {
			if matches(d, query) {
				return normalize(d), nil
			}
		}
		return nil, nil
	case "count":
		n := 0
		for _, d := range s.collections[coll] {
			if matches(d, query) {
				n++
			}
		}
		return map[string]any{"count": n}, nil
	case "update_one":
		update, _ := req["update"].(map[string]any)
		set, _ := update["$set"].(map[string]any)
		for _, d := range s.collections[coll] {
			if matches(d, query) {
				for k, v := range set {
					d[k] = v
				}
				return map[string]any{"modified": 1}, nil
			}
		}
		return map[string]any{"modified": 0}, nil
	case "delete_one":
		docs := s.collections[coll]
		for i, d := range docs {
			if matches(d, query) {
				s.collections[coll] = append(docs[:i], docs[i+1:]...)
				return map[string]any{"deleted": 1}, nil
			}
		}
		return map[string]any{"deleted": 0}, nil
	case "begin_tx":
		if *snapshot != nil {
			return nil, fmt.Errorf("transaction already active")
		}
		*snapshot = make(map[string][]map[string]any, len(s.collections))
		for name, docs := range s.collections {
			(*snapshot)[name] = cloneDocs(docs)
		}
		return map[string]any{"tx_id": 1}, nil
	case "commit_tx":
		if *snapshot == nil {
			return nil, fmt.Errorf("no active transaction")
		}
		*snapshot = nil
		return "committed", nil
	case "rollback_tx":
		if *snapshot == nil {
			return nil, fmt.Errorf("no active transaction")
		}
		s.collections = *snapshot
		*snapshot = nil
		return "rolled back", nil
	}
	return nil, fmt.Errorf("unknown command: %s", cmd)
}

func (s *Server) insertLocked(coll string, doc map[string]any) (float64, error) {
	for _, field := range s.unique[coll] {
		v, ok := lookup(doc, field)
		if !ok {
			continue
		}
		for _, existing := range s.collections[coll] {
			if ev, ok := lookup(existing, field); ok && equal(ev, v) {
				return 0, fmt.Errorf("unique constraint violated on %s", field)
			}
		}
	}
	s.nextID++
	stored := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		stored[k] = v
	}
	stored["_id"] = float64(s.nextID)
	s.collections[coll] = append(s.collections[coll], stored)
	return float64(s.nextID), nil
}

func (s *Server) findLocked(coll string, query, req map[string]any) []map[string]any {
	var out []map[string]any
	for _, d := range s.collections[coll] {
		if matches(d, query) {
			out = append(out, d)
		}
	}
	if sortSpec, ok := req["sort"].(map[string]any); ok {
		for field, dir := range sortSpec {
			desc := dir == float64(-1)
			sort.SliceStable(out, func(i, j int) bool {
				a, _ := lookup(out[i], field)
				b, _ := lookup(out[j], field)
				if desc {
					return less(b, a)
				}
				return less(a, b)
			})
		}
	}
	if skip, ok := req["skip"].(float64); ok {
		if int(skip) >= len(out) {
			out = nil
		} else {
			out = out[int(skip):]
		}
	}
	if limit, ok := req["limit"].(float64); ok && int(limit) < len(out) {
		out = out[:int(limit)]
	}
	if out == nil {
		out = []map[string]any{}
	}
	return out
}

func matches(doc, query map[string]any) bool {
	for key, want := range query {
		if key == "$and" {
			clauses, _ := want.([]any)
			for _, c := range clauses {
				sub, _ := c.(map[string]any)
				if !matches(doc, sub) {
					return false
				}
			}
			continue
		}
		got, ok := lookup(doc, key)
		if ops, isOps := want.(map[string]any); isOps && hasOperator(ops) {
			if !matchOps(got, ok, ops) {
				return false
			}
			continue
		}
		if !ok || !equal(got, want) {
			return false
		}
	}
	return true
}

func hasOperator(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func matchOps(got any, present bool, ops map[string]any) bool {
	for op, arg := range ops {
		switch op {
		case "$in":
			list, _ := arg.([]any)
			found := false
			for _, v := range list {
				if present && equal(got, v) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case "$ne":
			if present && equal(got, arg) {
				return false
			}
		case "$gte":
			if !present || less(got, arg) {
				return false
			}
		case "$lte":
			if !present || less(arg, got) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func equal(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func less(a, b any) bool {
	switch av := a.(type) {
	case float64:
		bv, _ := b.(float64)
		return av < bv
	case string:
		bv, _ := b.(string)
		return av < bv
	}
	return false
}

// normalize round-trips v through JSON so numbers compare as float64.
func normalize[T any](v T) T {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func cloneDocs(docs []map[string]any) []map[string]any {
	out := make([]map[string]any, len(docs))
	for i, d := range docs {
		out[i] = normalize(d)
	}
	return out
}
