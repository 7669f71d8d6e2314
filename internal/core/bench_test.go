package core

import (
	"context"
	"fmt"
	"testing"

	"github.com/vovakirdan/wirechat-p2p/internal/log"
)

// sinkConn accepts every write and signals the benchmark through delivered.
type sinkConn struct {
	remote    string
	delivered chan struct{}
	closed    chan struct{}
}

func (s *sinkConn) RemoteID() string { return s.remote }

func (s *sinkConn) Read(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *sinkConn) Write(context.Context, []byte) error {
	if s.delivered != nil {
		s.delivered <- struct{}{}
	}
	return nil
}

func (s *sinkConn) Close() error { return nil }

func benchmarkRelay(b *testing.B, recipients int) {
	r := NewRegistry(nil, nil, log.Nop())

	delivered := make(chan struct{}, recipients)
	conns := make([]*Connection, 0, recipients+1)

	sender := newConnection(&sinkConn{remote: "sender"}, true, 64, log.Nop())
	r.Add(sender)
	conns = append(conns, sender)

	for i := range recipients {
		sink := &sinkConn{remote: fmt.Sprintf("guest-%d", i), delivered: delivered}
		c := newConnection(sink, true, 64, log.Nop())
		r.Add(c)
		conns = append(conns, c)
		go c.writeLoop()
	}
	defer func() {
		for _, c := range conns {
			c.close()
		}
	}()

	payload := []byte(`{"type":"CHAT","msg":{"from":"sender","content":"payload"}}`)

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		n := r.Relay(payload, "sender")
		for range n {
			<-delivered
		}
	}
}

func BenchmarkRelay_10(b *testing.B)  { benchmarkRelay(b, 10) }
func BenchmarkRelay_100(b *testing.B) { benchmarkRelay(b, 100) }
func BenchmarkRelay_500(b *testing.B) { benchmarkRelay(b, 500) }
