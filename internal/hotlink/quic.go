package hotlink

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"
)

const (
	quicALPN          = "syftbox-hotlink"
	quicDialTimeout   = 1500 * time.Millisecond
	quicAcceptTimeout = 2500 * time.Millisecond
	handshakeMagic    = "HLQ1"
)

// quicEndpoint is the lazily-established QUIC side of one hotlink session,
// shared shape for both the offering (inbound) and answering (outbound)
// peer: a connection, a single bidirectional stream, and a ready signal
// that fires once (success or failure, recorded in err).
type quicEndpoint struct {
	listener *quic.Listener // offering side only
	conn     *quic.Conn
	stream   *quic.Stream

	ready     chan struct{}
	readyOnce sync.Once
	mu        sync.Mutex
	err       error
}

func newQuicEndpoint() *quicEndpoint {
	return &quicEndpoint{ready: make(chan struct{})}
}

func (q *quicEndpoint) resolve(conn *quic.Conn, stream *quic.Stream, err error) {
	q.mu.Lock()
	q.conn, q.stream, q.err = conn, stream, err
	q.mu.Unlock()
	q.readyOnce.Do(func() { close(q.ready) })
}

func (q *quicEndpoint) snapshot() (*quic.Stream, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stream, q.err
}

// offerQUIC binds a UDP socket, starts a QUIC listener on it, probes STUN
// for a reflexive address, and returns the candidate addresses to offer a
// peer plus the endpoint that will resolve once a peer dials in.
func offerQUIC(sessionID string) (*quicEndpoint, []string, error) {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("hotlink: quic tls setup: %w", err)
	}

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, nil, fmt.Errorf("hotlink: quic udp bind: %w", err)
	}

	transport := &quic.Transport{Conn: udpConn}
	listener, err := transport.Listen(tlsConf, nil)
	if err != nil {
		_ = udpConn.Close()
		return nil, nil, fmt.Errorf("hotlink: quic listen: %w", err)
	}

	localAddr := udpConn.LocalAddr().String()
	stunAddr, _ := discoverMappedAddr(udpConn)

	endpoint := &quicEndpoint{listener: listener, ready: make(chan struct{})}
	go acceptQUIC(endpoint, sessionID)

	return endpoint, offerAddrs(localAddr, stunAddr), nil
}

func offerAddrs(local, stunAddr string) []string {
	addrs := []string{}
	if host, port, err := net.SplitHostPort(local); err == nil {
		if host == "" || host == "0.0.0.0" || host == "::" {
			addrs = append(addrs, "127.0.0.1:"+port)
		} else {
			addrs = append(addrs, local)
		}
	}
	if stunAddr != "" {
		addrs = appendUnique(addrs, stunAddr)
	}
	if len(addrs) == 0 {
		addrs = append(addrs, local)
	}
	return addrs
}

func appendUnique(addrs []string, addr string) []string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return addrs
	}
	for _, a := range addrs {
		if strings.EqualFold(a, addr) {
			return addrs
		}
	}
	return append(addrs, addr)
}

func acceptQUIC(endpoint *quicEndpoint, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), quicAcceptTimeout)
	defer cancel()

	conn, err := endpoint.listener.Accept(ctx)
	if err != nil {
		endpoint.resolve(nil, nil, err)
		return
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		endpoint.resolve(nil, nil, err)
		return
	}
	reader := bufio.NewReader(stream)
	if err := readHandshake(reader, sessionID); err != nil {
		_ = stream.Close()
		endpoint.resolve(nil, nil, err)
		return
	}
	endpoint.resolve(conn, stream, nil)
}

// answerQUIC dials each candidate address in turn and returns the first
// successful connection's peer address, or an error if none connected.
func answerQUIC(ctx context.Context, sessionID string, candidates []string) (*quicEndpoint, string, error) {
	if len(candidates) == 0 {
		return nil, "", fmt.Errorf("hotlink: quic offer carried no addresses")
	}

	tlsConf := clientTLSConfig()
	var lastErr error
	for _, addr := range candidates {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}

		dialCtx, cancel := context.WithTimeout(ctx, quicDialTimeout)
		conn, err := quic.DialAddr(dialCtx, addr, tlsConf, nil)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}

		streamCtx, cancel := context.WithTimeout(ctx, quicDialTimeout)
		stream, err := conn.OpenStreamSync(streamCtx)
		cancel()
		if err != nil {
			lastErr = err
			_ = conn.CloseWithError(0, "stream error")
			continue
		}

		if err := writeHandshake(stream, sessionID); err != nil {
			lastErr = err
			_ = stream.Close()
			_ = conn.CloseWithError(0, "handshake error")
			continue
		}

		endpoint := &quicEndpoint{ready: make(chan struct{})}
		endpoint.resolve(conn, stream, nil)
		return endpoint, addr, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("hotlink: quic dial exhausted candidates")
	}
	return nil, "", lastErr
}

func writeHandshake(stream *quic.Stream, sessionID string) error {
	if err := tooLong(sessionID); err != nil {
		return err
	}
	buf := bytes.NewBuffer(nil)
	buf.WriteString(handshakeMagic)
	_ = binary.Write(buf, binary.BigEndian, uint16(len(sessionID)))
	buf.WriteString(sessionID)
	_, err := stream.Write(buf.Bytes())
	return err
}

func readHandshake(r *bufio.Reader, sessionID string) error {
	magic := make([]byte, len(handshakeMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return err
	}
	if string(magic) != handshakeMagic {
		return fmt.Errorf("hotlink: bad quic handshake magic")
	}

	var l uint16
	if err := binary.Read(r, binary.BigEndian, &l); err != nil {
		return err
	}
	if l == 0 {
		return fmt.Errorf("hotlink: empty quic handshake session id")
	}

	buf := make([]byte, l)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	if string(buf) != sessionID {
		return fmt.Errorf("hotlink: quic handshake session mismatch")
	}
	return nil
}

func serverTLSConfig() (*tls.Config, error) {
	cert, err := selfSignedCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{quicALPN}}, nil
}

func clientTLSConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true, NextProtos: []string{quicALPN}}
}

// selfSignedCert mints an ephemeral, unverified certificate: hotlink peers
// authenticate each other via the session id handshake carried inside the
// encrypted QUIC stream, not via the TLS certificate chain.
func selfSignedCert() (tls.Certificate, error) {
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return tls.Certificate{}, err
	}
	template := x509.Certificate{
		SerialNumber: serial,
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := &bytes.Buffer{}
	keyPEM := &bytes.Buffer{}
	if err := pem.Encode(certPEM, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		return tls.Certificate{}, err
	}
	if err := pem.Encode(keyPEM, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}); err != nil {
		return tls.Certificate{}, err
	}
	return tls.X509KeyPair(certPEM.Bytes(), keyPEM.Bytes())
}
