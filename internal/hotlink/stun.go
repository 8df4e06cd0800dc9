package hotlink

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

const (
	stunServerEnv     = "SYFTBOX_HOTLINK_STUN_SERVER"
	defaultStunServer = "stun.l.google.com:19302"
	stunProbeTimeout  = 1200 * time.Millisecond

	stunBindingRequest  uint16 = 0x0001
	stunBindingResponse uint16 = 0x0101
	stunMagicCookie     uint32 = 0x2112A442
	stunAttrMappedAddr  uint16 = 0x0001
	stunAttrXorMapped   uint16 = 0x0020
)

// discoverMappedAddr sends a single STUN binding request over conn and
// returns the server-observed public address, or "" if STUN is disabled
// or the probe fails. There is no third-party STUN client in the module's
// dependency set, so this implements just enough of RFC 5389 (a bare
// binding request/response, XOR-MAPPED-ADDRESS preferred over
// MAPPED-ADDRESS) to learn one reflexive address for a QUIC offer.
func discoverMappedAddr(conn *net.UDPConn) (string, error) {
	server := strings.TrimSpace(os.Getenv(stunServerEnv))
	if server == "" {
		server = defaultStunServer
	}
	if server == "0" || strings.EqualFold(server, "off") || strings.EqualFold(server, "disabled") {
		return "", nil
	}

	serverAddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return "", fmt.Errorf("stun: resolve %s: %w", server, err)
	}

	var txID [12]byte
	if _, err := rand.Read(txID[:]); err != nil {
		return "", err
	}

	req := make([]byte, 20)
	binary.BigEndian.PutUint16(req[0:2], stunBindingRequest)
	binary.BigEndian.PutUint16(req[2:4], 0)
	binary.BigEndian.PutUint32(req[4:8], stunMagicCookie)
	copy(req[8:], txID[:])

	defer conn.SetDeadline(time.Time{})

	_ = conn.SetWriteDeadline(time.Now().Add(stunProbeTimeout))
	if _, err := conn.WriteToUDP(req, serverAddr); err != nil {
		return "", err
	}

	resp := make([]byte, 1024)
	_ = conn.SetReadDeadline(time.Now().Add(stunProbeTimeout))
	n, _, err := conn.ReadFromUDP(resp)
	if err != nil {
		return "", err
	}

	addr, err := parseMappedAddr(resp[:n], txID)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

func parseMappedAddr(msg []byte, txID [12]byte) (*net.UDPAddr, error) {
	if len(msg) < 20 {
		return nil, fmt.Errorf("stun: response too short")
	}
	if binary.BigEndian.Uint16(msg[0:2]) != stunBindingResponse {
		return nil, fmt.Errorf("stun: unexpected message type")
	}
	if binary.BigEndian.Uint32(msg[4:8]) != stunMagicCookie {
		return nil, fmt.Errorf("stun: bad magic cookie")
	}
	if !bytes.Equal(msg[8:20], txID[:]) {
		return nil, fmt.Errorf("stun: transaction id mismatch")
	}

	msgLen := int(binary.BigEndian.Uint16(msg[2:4]))
	limit := 20 + msgLen
	if limit > len(msg) {
		limit = len(msg)
	}

	offset := 20
	for offset+4 <= limit {
		typ := binary.BigEndian.Uint16(msg[offset : offset+2])
		l := int(binary.BigEndian.Uint16(msg[offset+2 : offset+4]))
		offset += 4
		if offset+l > limit {
			break
		}
		value := msg[offset : offset+l]

		switch typ {
		case stunAttrXorMapped:
			if addr, err := parseAddrAttr(value, txID, true); err == nil {
				return addr, nil
			}
		case stunAttrMappedAddr:
			if addr, err := parseAddrAttr(value, txID, false); err == nil {
				return addr, nil
			}
		}

		offset += l
		if rem := offset % 4; rem != 0 {
			offset += 4 - rem
		}
	}
	return nil, fmt.Errorf("stun: no mapped-address attribute present")
}

func parseAddrAttr(value []byte, txID [12]byte, xor bool) (*net.UDPAddr, error) {
	if len(value) < 8 {
		return nil, fmt.Errorf("stun: address attribute too short")
	}
	family := value[1]
	port := binary.BigEndian.Uint16(value[2:4])

	switch family {
	case 0x01:
		ip := make(net.IP, net.IPv4len)
		copy(ip, value[4:8])
		if xor {
			port ^= uint16(stunMagicCookie >> 16)
			ip[0] ^= byte(stunMagicCookie >> 24)
			ip[1] ^= byte(stunMagicCookie >> 16)
			ip[2] ^= byte(stunMagicCookie >> 8)
			ip[3] ^= byte(stunMagicCookie)
		}
		return &net.UDPAddr{IP: ip, Port: int(port)}, nil

	case 0x02:
		if len(value) < 20 {
			return nil, fmt.Errorf("stun: ipv6 attribute too short")
		}
		ip := make(net.IP, net.IPv6len)
		copy(ip, value[4:20])
		if xor {
			port ^= uint16(stunMagicCookie >> 16)
			mask := make([]byte, 16)
			binary.BigEndian.PutUint32(mask[0:4], stunMagicCookie)
			copy(mask[4:16], txID[:])
			for i := range ip {
				ip[i] ^= mask[i]
			}
		}
		return &net.UDPAddr{IP: ip, Port: int(port)}, nil

	default:
		return nil, fmt.Errorf("stun: unsupported address family %d", family)
	}
}
