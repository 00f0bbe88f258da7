package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/imgdl/internal/protocol/dict"
	"github.com/danmuck/imgdl/internal/testutil/testlog"
	"github.com/danmuck/imgdl/internal/testutil/tlstest"
)

func TestTLSConfigValidation(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name   string
		cfg    TLSConfig
		server error
		client error
	}{
		{"disabled", TLSConfig{}, nil, nil},
		{"mutual without tls", TLSConfig{Mutual: true}, ErrTLSRequired, ErrTLSRequired},
		{"server missing cert", TLSConfig{Enabled: true, CAFile: "ca"}, ErrTLSCertFileRequired, nil},
		{"server missing key", TLSConfig{Enabled: true, CertFile: "c", CAFile: "ca"}, ErrTLSKeyFileRequired, nil},
		{"client missing ca", TLSConfig{Enabled: true, CertFile: "c", KeyFile: "k"}, nil, ErrTLSCAFileRequired},
		{"client skip verify", TLSConfig{Enabled: true, CertFile: "c", KeyFile: "k", InsecureSkipVerify: true}, nil, nil},
		{"mutual skip verify", TLSConfig{Enabled: true, Mutual: true, CertFile: "c", KeyFile: "k", CAFile: "ca", InsecureSkipVerify: true}, nil, ErrTLSInsecureSkipNotAllow},
		{"mutual server missing ca", TLSConfig{Enabled: true, Mutual: true, CertFile: "c", KeyFile: "k"}, ErrTLSCAFileRequired, ErrTLSCAFileRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.ValidateServer(); !errors.Is(err, tc.server) {
				t.Fatalf("server: got %v want %v", err, tc.server)
			}
			if err := tc.cfg.ValidateClient(); !errors.Is(err, tc.client) {
				t.Fatalf("client: got %v want %v", err, tc.client)
			}
		})
	}
}

func TestMutualTLSLinkDeliversMessages(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewAuthority(t, "imgdl-test-ca")
	serverCert, serverKey := ca.Receiver(t, "receiver")
	clientCert, clientKey := ca.Companion(t, "companion")

	serverTLS, err := TLSConfig{
		Enabled: true, Mutual: true,
		CertFile: serverCert, KeyFile: serverKey, CAFile: ca.CAFile(),
	}.ServerTLS()
	if err != nil {
		t.Fatalf("server tls: %v", err)
	}
	clientTLS, err := TLSConfig{
		Enabled: true, Mutual: true,
		CertFile: clientCert, KeyFile: clientKey, CAFile: ca.CAFile(),
		ServerName: "localhost",
	}.ClientTLS()
	if err != nil {
		t.Fatalf("client tls: %v", err)
	}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverTLS)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := newRecorder()
	accepted := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		ep := NewEndpoint(NewStreamLink(conn, time.Second), DefaultConfig())
		if _, err := ep.Subscribe(rec); err != nil {
			return
		}
		close(accepted)
		_ = ep.Run(ctx)
	}()

	conn, err := (&tls.Dialer{Config: clientTLS}).DialContext(ctx, "tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	client := NewEndpoint(NewStreamLink(conn, time.Second), CompanionConfig())
	go func() { _ = client.Run(ctx) }()
	defer client.Close()

	select {
	case <-accepted:
	case <-ctx.Done():
		t.Fatalf("server never accepted")
	}
	if err := client.SendWait(ctx, dict.Dictionary{dict.NewUint8(1, 7)}); err != nil {
		t.Fatalf("send over tls: %v", err)
	}
	rec.wait(t)
}

func TestMutualTLSRejectsAnonymousCompanion(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewAuthority(t, "imgdl-test-ca")
	serverCert, serverKey := ca.Receiver(t, "receiver")
	serverTLS, err := TLSConfig{
		Enabled: true, Mutual: true,
		CertFile: serverCert, KeyFile: serverKey, CAFile: ca.CAFile(),
	}.ServerTLS()
	if err != nil {
		t.Fatalf("server tls: %v", err)
	}
	clientTLS, err := TLSConfig{Enabled: true, CAFile: ca.CAFile(), ServerName: "localhost"}.ClientTLS()
	if err != nil {
		t.Fatalf("client tls: %v", err)
	}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverTLS)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_ = conn.(*tls.Conn).Handshake()
		_ = conn.Close()
	}()

	raw, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn := tls.Client(raw, clientTLS)
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	// TLS 1.3 reports a missing client certificate on the first read.
	if err := conn.Handshake(); err == nil {
		if _, err = conn.Read(make([]byte, 1)); err == nil {
			t.Fatalf("expected the receiver to reject a companion without a certificate")
		}
	}
}
