package transport

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// STUN protocol constants as defined in RFC 5389
const (
	stunMagicCookie = 0x2112A442
	stunHeaderSize  = 20

	// STUN message types
	stunBindingRequest  = 0x0001
	stunBindingResponse = 0x0101
	stunBindingError    = 0x0111

	// STUN attribute types
	stunAttrMappedAddress    = 0x0001
	stunAttrXorMappedAddress = 0x0020

	stunFamilyIPv4 = 0x01

	// DefaultSTUNTimeout bounds the wait for the binding response.
	DefaultSTUNTimeout = time.Second
)

// ProbeResult is the advisory outcome of a STUN probe.
type ProbeResult struct {
	Server string
	Mapped netip.AddrPort // Public address/port of the probed socket
	Err    error
}

// OK reports whether the probe produced a mapping.
func (r ProbeResult) OK() bool {
	return r.Err == nil && r.Mapped.IsValid()
}

func (r ProbeResult) String() string {
	if r.OK() {
		return fmt.Sprintf("public mapping %s (via %s)", r.Mapped, r.Server)
	}
	return fmt.Sprintf("STUN probe via %s failed: %v", r.Server, r.Err)
}

// STUNClient sends a single binding request and reports the mapped address.
type STUNClient struct {
	server  string
	timeout time.Duration
}

// NewSTUNClient creates a client for server ("host:port"). A zero timeout
// selects DefaultSTUNTimeout.
func NewSTUNClient(server string, timeout time.Duration) *STUNClient {
	if timeout <= 0 {
		timeout = DefaultSTUNTimeout
	}
	return &STUNClient{
		server:  server,
		timeout: timeout,
	}
}

// Server returns the configured server address.
func (sc *STUNClient) Server() string {
	return sc.server
}

// Probe sends the binding request from conn, so the reported mapping is the
// one peers see for that socket, and waits at most the configured timeout
// for the answer. A datagram from any other source ends the wait and stays
// queued on conn for its owner. Failures never block the caller beyond the
// timeout.
func (sc *STUNClient) Probe(ctx context.Context, conn *net.UDPConn) ProbeResult {
	result := ProbeResult{Server: sc.server}

	if sc.server == "" {
		result.Err = ErrNoSTUNServer
		return result
	}

	if err := checkContextCancellation(ctx); err != nil {
		result.Err = err
		return result
	}

	serverAddr, err := sc.resolveServer(ctx)
	if err != nil {
		result.Err = err
		return result
	}

	transactionID, err := generateTransactionID()
	if err != nil {
		result.Err = err
		return result
	}

	if _, err := conn.WriteToUDPAddrPort(sc.buildBindingRequest(transactionID), serverAddr); err != nil {
		result.Err = fmt.Errorf("failed to send STUN request: %w", err)
		return result
	}

	sc.setConnectionDeadline(ctx, conn)
	defer conn.SetReadDeadline(time.Time{})

	result.Mapped, result.Err = sc.receiveBindingResponse(conn, serverAddr, transactionID)

	fields := logrus.Fields{
		"function": "STUNClient.Probe",
		"server":   sc.server,
	}
	if result.OK() {
		fields["mapped"] = result.Mapped.String()
		logrus.WithFields(fields).Info("STUN probe succeeded")
	} else {
		fields["error"] = result.Err.Error()
		logrus.WithFields(fields).Warn("STUN probe failed")
	}

	return result
}

// checkContextCancellation verifies the context is not cancelled before proceeding.
func checkContextCancellation(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// resolveServer resolves the server host to an IPv4 endpoint.
func (sc *STUNClient) resolveServer(ctx context.Context) (netip.AddrPort, error) {
	host, portStr, err := net.SplitHostPort(sc.server)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid STUN server %q: %w", sc.server, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid STUN server port %q: %w", portStr, err)
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("failed to resolve STUN server %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return netip.AddrPort{}, fmt.Errorf("no IPv4 address for STUN server %s", host)
	}

	return netip.AddrPortFrom(addrs[0].Unmap(), uint16(port)), nil
}

// setConnectionDeadline sets the read deadline from the context or the client timeout.
func (sc *STUNClient) setConnectionDeadline(ctx context.Context, conn *net.UDPConn) {
	deadline := time.Now().Add(sc.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)
}

// generateTransactionID creates a random 96-bit transaction ID for STUN.
func generateTransactionID() ([]byte, error) {
	transactionID := make([]byte, 12)
	if _, err := rand.Read(transactionID); err != nil {
		return nil, fmt.Errorf("failed to generate transaction ID: %w", err)
	}
	return transactionID, nil
}

// receiveBindingResponse waits for the server's answer until the deadline
// passes. Only the server's datagram is consumed.
func (sc *STUNClient) receiveBindingResponse(conn *net.UDPConn, server netip.AddrPort, transactionID []byte) (netip.AddrPort, error) {
	response := make([]byte, 1024)
	for {
		_, from, err := PeekWait(conn, response)
		if err == nil && !SameAddr(from, server) {
			logrus.WithFields(logrus.Fields{
				"function": "STUNClient.receiveBindingResponse",
				"from":     from.String(),
			}).Info("Datagram from another peer arrived before the STUN response")
			return netip.AddrPort{}, fmt.Errorf("%w from %s", ErrSTUNInterrupted, from)
		}
		if err != nil && !IsTimeout(err) {
			// Errors such as ECONNREFUSED are queued on the socket; a
			// read clears them.
			logrus.WithFields(logrus.Fields{
				"function": "STUNClient.receiveBindingResponse",
				"error":    err.Error(),
			}).Debug("Peek failed, reading")
		}

		n, from, err := conn.ReadFromUDPAddrPort(response)
		if err != nil {
			if IsTimeout(err) {
				return netip.AddrPort{}, errors.New("STUN server timeout")
			}
			return netip.AddrPort{}, fmt.Errorf("failed to read STUN response: %w", err)
		}
		if !SameAddr(from, server) {
			// Only when another reader shares conn; it cannot be put back.
			logrus.WithFields(logrus.Fields{
				"function": "STUNClient.receiveBindingResponse",
				"from":     from.String(),
				"size":     n,
			}).Debug("Discarding datagram received during STUN probe")
			continue
		}

		return sc.parseBindingResponse(response[:n], transactionID)
	}
}

// buildBindingRequest constructs a STUN binding request packet
func (sc *STUNClient) buildBindingRequest(transactionID []byte) []byte {
	packet := make([]byte, stunHeaderSize)

	binary.BigEndian.PutUint16(packet[0:2], stunBindingRequest)
	// Message length stays 0, a basic request has no attributes.
	binary.BigEndian.PutUint32(packet[4:8], stunMagicCookie)
	copy(packet[8:20], transactionID)

	return packet
}

// parseBindingResponse parses a STUN binding response and extracts the mapped address
func (sc *STUNClient) parseBindingResponse(response, expectedTransactionID []byte) (netip.AddrPort, error) {
	if err := sc.validateResponseLength(response); err != nil {
		return netip.AddrPort{}, err
	}

	if err := sc.validateMessageType(response); err != nil {
		return netip.AddrPort{}, err
	}

	if err := sc.validateMagicCookie(response); err != nil {
		return netip.AddrPort{}, err
	}

	if err := sc.validateTransactionID(response, expectedTransactionID); err != nil {
		return netip.AddrPort{}, err
	}

	return sc.extractAndParseAttributes(response)
}

// validateResponseLength checks if the response has minimum required length.
func (sc *STUNClient) validateResponseLength(response []byte) error {
	if len(response) < stunHeaderSize {
		return errors.New("STUN response too short")
	}
	return nil
}

// validateMessageType verifies the STUN message type is a binding response.
func (sc *STUNClient) validateMessageType(response []byte) error {
	messageType := binary.BigEndian.Uint16(response[0:2])
	if messageType == stunBindingError {
		return errors.New("STUN server returned error response")
	}
	if messageType != stunBindingResponse {
		return fmt.Errorf("unexpected STUN message type: 0x%04x", messageType)
	}
	return nil
}

// validateMagicCookie checks if the magic cookie matches expected value.
func (sc *STUNClient) validateMagicCookie(response []byte) error {
	if binary.BigEndian.Uint32(response[4:8]) != stunMagicCookie {
		return errors.New("invalid STUN magic cookie")
	}
	return nil
}

// validateTransactionID verifies the transaction ID matches expected value.
func (sc *STUNClient) validateTransactionID(response, expectedTransactionID []byte) error {
	responseTransactionID := response[8:20]
	for i := 0; i < 12; i++ {
		if responseTransactionID[i] != expectedTransactionID[i] {
			return errors.New("STUN transaction ID mismatch")
		}
	}
	return nil
}

// extractAndParseAttributes extracts attributes section and parses it.
func (sc *STUNClient) extractAndParseAttributes(response []byte) (netip.AddrPort, error) {
	messageLength := binary.BigEndian.Uint16(response[2:4])
	if messageLength == 0 {
		return netip.AddrPort{}, errors.New("no attributes in STUN response")
	}

	attributesEnd := stunHeaderSize + int(messageLength)
	if len(response) < attributesEnd {
		return netip.AddrPort{}, errors.New("STUN response truncated")
	}

	return sc.parseAttributes(response[stunHeaderSize:attributesEnd])
}

// parseAttributes walks the attribute list looking for an IPv4 mapped
// address. Mappings of other families are skipped; the signaling socket is
// IPv4.
func (sc *STUNClient) parseAttributes(attributes []byte) (netip.AddrPort, error) {
	offset := 0

	for offset+4 <= len(attributes) {
		attrType := binary.BigEndian.Uint16(attributes[offset : offset+2])
		attrLength := int(binary.BigEndian.Uint16(attributes[offset+2 : offset+4]))
		offset += 4

		if offset+attrLength > len(attributes) {
			break
		}

		attrValue := attributes[offset : offset+attrLength]

		switch attrType {
		case stunAttrXorMappedAddress, stunAttrMappedAddress:
			if len(attrValue) < 2 || binary.BigEndian.Uint16(attrValue[0:2]) != stunFamilyIPv4 {
				logrus.WithFields(logrus.Fields{
					"function":  "STUNClient.parseAttributes",
					"attribute": fmt.Sprintf("0x%04x", attrType),
				}).Debug("Skipping non-IPv4 mapped address")
				break
			}
			if attrType == stunAttrXorMappedAddress {
				return sc.parseXorMappedAddress(attrValue)
			}
			return sc.parseMappedAddress(attrValue)
		}

		// Attributes are padded to a 4-byte boundary.
		offset += attrLength
		if offset%4 != 0 {
			offset += 4 - (offset % 4)
		}
	}

	return netip.AddrPort{}, ErrNoMappedAddress
}

// parseXorMappedAddress parses an IPv4 XOR-MAPPED-ADDRESS attribute
func (sc *STUNClient) parseXorMappedAddress(attrValue []byte) (netip.AddrPort, error) {
	if len(attrValue) < 8 {
		return netip.AddrPort{}, errors.New("XOR-mapped address too short")
	}

	port := binary.BigEndian.Uint16(attrValue[2:4]) ^ uint16(stunMagicCookie>>16)
	var ip [4]byte
	binary.BigEndian.PutUint32(ip[:], binary.BigEndian.Uint32(attrValue[4:8])^stunMagicCookie)
	return netip.AddrPortFrom(netip.AddrFrom4(ip), port), nil
}

// parseMappedAddress parses an IPv4 MAPPED-ADDRESS attribute (legacy)
func (sc *STUNClient) parseMappedAddress(attrValue []byte) (netip.AddrPort, error) {
	if len(attrValue) < 8 {
		return netip.AddrPort{}, errors.New("mapped address too short")
	}

	port := binary.BigEndian.Uint16(attrValue[2:4])
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte(attrValue[4:8])), port), nil
}
