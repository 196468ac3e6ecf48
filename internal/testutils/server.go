package testutils

import (
	"bufio"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"testing"
)

// Item is a value stored in a FakeServer.
type Item struct {
	Key    string
	Flags  uint32
	Expiry int32
	Value  []byte
}

// FakeServer is a loopback memcached speaking just enough of the text protocol
// for a dump: "lru_crawler metadump all" and multi-key "get".
type FakeServer struct {
	ln net.Listener
	wg sync.WaitGroup

	mu           sync.Mutex
	items        map[string]Item
	order        []string
	evicted      map[string]bool
	listingReply string
	fragment     int
	commands     []string
	conns        []net.Conn
}

// NewFakeServer starts a server on 127.0.0.1 that is stopped with the test.
func NewFakeServer(t testing.TB) *FakeServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &FakeServer{
		ln:      ln,
		items:   make(map[string]Item),
		evicted: make(map[string]bool),
	}
	s.wg.Add(1)
	go s.accept()
	t.Cleanup(s.Close)
	return s
}

// Addr returns the ip:port the server listens on.
func (s *FakeServer) Addr() string {
	return s.ln.Addr().String()
}

// Set stores an item. Items are listed in insertion order.
func (s *FakeServer) Set(item Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.Key]; !ok {
		s.order = append(s.order, item.Key)
	}
	s.items[item.Key] = item
}

// Evict keeps key in the listing but leaves it out of every get response.
func (s *FakeServer) Evict(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evicted[key] = true
}

// SetListingReply replaces the listing with a raw reply such as a BUSY line.
func (s *FakeServer) SetListingReply(reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listingReply = reply
}

// SetFragment makes the server write every response in pieces of at most n
// bytes. Zero writes whole responses.
func (s *FakeServer) SetFragment(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragment = n
}

// Commands returns the command lines received so far, without CRLF.
func (s *FakeServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Close stops the server and closes every client connection.
func (s *FakeServer) Close() {
	_ = s.ln.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *FakeServer) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *FakeServer) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")

		s.mu.Lock()
		s.commands = append(s.commands, line)
		var resp string
		switch {
		case line == "lru_crawler metadump all":
			resp = s.listing()
		case strings.HasPrefix(line, "get "):
			resp = s.get(strings.Fields(line)[1:])
		default:
			resp = "ERROR\r\n"
		}
		fragment := s.fragment
		s.mu.Unlock()

		if fragment <= 0 {
			fragment = len(resp)
		}
		for _, chunk := range Fragment(resp, fragment) {
			if _, err := conn.Write([]byte(chunk)); err != nil {
				return
			}
		}
	}
}

func (s *FakeServer) listing() string {
	if s.listingReply != "" {
		return s.listingReply
	}
	var b strings.Builder
	for i, key := range s.order {
		item := s.items[key]
		fmt.Fprintf(&b, "key=%s exp=%d la=%d cas=%d fetch=no cls=1 size=%d\n",
			url.QueryEscape(key), item.Expiry, 1700000000+i, i+1, len(item.Value))
	}
	b.WriteString("END\r\n")
	return b.String()
}

func (s *FakeServer) get(keys []string) string {
	var b strings.Builder
	for _, key := range keys {
		item, ok := s.items[key]
		if !ok || s.evicted[key] {
			continue
		}
		fmt.Fprintf(&b, "VALUE %s %d %d\r\n", key, item.Flags, len(item.Value))
		b.Write(item.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("END\r\n")
	return b.String()
}
