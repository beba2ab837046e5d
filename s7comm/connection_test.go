package s7comm

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/icsguard/honeypot/memimage"
)

// buildCR assembles a TPKT+COTP Connection Request requesting slot,
// mirroring what a real S7 client sends (spec §4.6).
func buildCR(srcRef uint16, slot byte) []byte {
	body := []byte{
		cotpCR,
		0x00, 0x00, // dst-ref
		0x00, 0x00, // src-ref, filled below
		0x00,                         // class
		0xC2, 0x02, 0x01, slot & 0x1F, // Called TSAP param
	}
	binary.BigEndian.PutUint16(body[3:5], srcRef)
	cotp := append([]byte{byte(len(body))}, body...)
	return buildTPKT(cotp)
}

func buildReadVarItem(area byte, dbNum uint16, byteAddr uint32, transportType byte, length uint16) []byte {
	item := make([]byte, 12)
	item[0] = 0x12
	item[1] = 0x0A
	item[2] = 0x10
	item[3] = transportType
	binary.BigEndian.PutUint16(item[4:6], length)
	binary.BigEndian.PutUint16(item[6:8], dbNum)
	item[8] = area
	addr := byteAddr << 3
	item[9] = byte(addr >> 16)
	item[10] = byte(addr >> 8)
	item[11] = byte(addr)
	return item
}

func buildJobPDU(pduRef uint16, param, data []byte) []byte {
	h := make([]byte, 10)
	h[0] = s7ProtoID
	h[1] = rosctrJob
	binary.BigEndian.PutUint16(h[4:6], pduRef)
	binary.BigEndian.PutUint16(h[6:8], uint16(len(param)))
	binary.BigEndian.PutUint16(h[8:10], uint16(len(data)))
	out := append(h, param...)
	out = append(out, data...)
	return buildTPKT(buildCOTPDataHeader(out))
}

func buildUserDataPDU(pduRef uint16, szlID, szlIndex uint16) []byte {
	param := []byte{0x00, 0x01, 0x12, 0x04, 0x11, 0x44, 0x01, 0x00}
	data := make([]byte, 8)
	binary.BigEndian.PutUint16(data[4:6], szlID)
	binary.BigEndian.PutUint16(data[6:8], szlIndex)
	return buildTPKT(buildCOTPDataHeader(buildUserData(pduRef, param, data)))
}

func startTestConn(t *testing.T, model ModelProfile) (client net.Conn, wait func()) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	c := &conn{tcp: serverSide, img: memimage.NewS7Image(), model: model}
	done := make(chan struct{})
	go func() {
		c.serve()
		close(done)
	}()
	return clientSide, func() { <-done }
}

// TestWrongSlotRejected reproduces spec.md §8 scenario 5: an S7-300
// rejects a CR requesting slot 1 (valid only for S7-1200/1500).
func TestWrongSlotRejected(t *testing.T) {
	client, wait := startTestConn(t, ModelByName("S7-300"))
	defer wait()

	cr := buildCR(0x1234, 1)
	if _, err := client.Write(cr); err != nil {
		t.Fatalf("write CR: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := readTPKTFrame(client)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	cotp := resp[tpktHdrLen:]
	if cotp[1] != cotpDR {
		t.Errorf("got COTP pdu type %x want DR (0x80)", cotp[1])
	}
	client.Close()
}

// TestReadSZLOverRealConnection confirms a ROSCTR=UserData (0x07) Read-SZL
// request reaches handleUserData through the real connection path, not
// just in isolation: real S7 clients send Read-SZL as UserData rather
// than Job (spec.md §4.6's SZL response is itself ROSCTR=0x07).
func TestReadSZLOverRealConnection(t *testing.T) {
	model := ModelByName("S7-1500")
	client, wait := startTestConn(t, model)
	defer wait()

	client.Write(buildCR(0x1234, 1))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readTPKTFrame(client); err != nil {
		t.Fatalf("read CC: %v", err)
	}

	client.Write(buildUserDataPDU(1, szlCommunication, 0))
	resp, err := readTPKTFrame(client)
	if err != nil {
		t.Fatalf("read SZL response: %v", err)
	}
	s7pdu, err := parseCOTPData(resp[tpktHdrLen:])
	if err != nil {
		t.Fatalf("parse SZL response COTP: %v", err)
	}
	header, body, err := parseS7Header(s7pdu)
	if err != nil {
		t.Fatalf("parse SZL response S7 header: %v", err)
	}
	if header.rosctr != rosctrUserData {
		t.Errorf("got rosctr %x want UserData (0x07)", header.rosctr)
	}
	data := body[header.paramLen:]
	maxPDU := binary.BigEndian.Uint16(data[8:10])
	if maxPDU != model.MaxPDU {
		t.Errorf("got max_pdu %d want %d", maxPDU, model.MaxPDU)
	}

	client.Close()
}

// TestSetupAndReadWriteDB reproduces spec.md §8 scenario 6.
func TestSetupAndReadWriteDB(t *testing.T) {
	model := ModelByName("S7-1200")
	client, wait := startTestConn(t, model)
	defer wait()

	cr := buildCR(0x1234, 1)
	client.Write(cr)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	cc, err := readTPKTFrame(client)
	if err != nil {
		t.Fatalf("read CC: %v", err)
	}
	if cc[tpktHdrLen+1] != cotpCC {
		t.Fatalf("got COTP pdu type %x want CC (0xD0)", cc[tpktHdrLen+1])
	}

	setup := buildJobPDU(1, []byte{fnSetupCommunication, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00}, nil)
	client.Write(setup)
	resp, err := readTPKTFrame(client)
	if err != nil {
		t.Fatalf("read setup response: %v", err)
	}
	s7pdu, err := parseCOTPData(resp[tpktHdrLen:])
	if err != nil {
		t.Fatalf("parse setup response COTP: %v", err)
	}
	gotMaxPDU := binary.BigEndian.Uint16(s7pdu[18:20])
	if gotMaxPDU != model.MaxPDU {
		t.Errorf("got max_pdu %d want %d", gotMaxPDU, model.MaxPDU)
	}

	writeItem := buildReadVarItem(0x84, 1, 0, 0x02, 4)
	writeParam := append([]byte{fnWriteVar, 1}, writeItem...)
	writeData := []byte{0x00, 0x02, 0x00, 0x20, 0xDE, 0xAD, 0xBE, 0xEF}
	writePDU := buildJobPDU(2, writeParam, writeData)
	client.Write(writePDU)
	if _, err := readTPKTFrame(client); err != nil {
		t.Fatalf("read write response: %v", err)
	}

	readItem := buildReadVarItem(0x84, 1, 0, 0x02, 10)
	readParam := append([]byte{fnReadVar, 1}, readItem...)
	readPDU := buildJobPDU(3, readParam, nil)
	client.Write(readPDU)
	resp, err = readTPKTFrame(client)
	if err != nil {
		t.Fatalf("read read-var response: %v", err)
	}
	s7pdu, err = parseCOTPData(resp[tpktHdrLen:])
	if err != nil {
		t.Fatalf("parse read-var response COTP: %v", err)
	}
	header, body, err := parseS7Header(s7pdu)
	if err != nil {
		t.Fatalf("parse read-var S7 header: %v", err)
	}
	respData := body[header.paramLen:]
	// response item: return-code, transport, length-bits(2), data...
	got := respData[4:8]
	want := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if !bytes.Equal(got, want) {
		t.Errorf("got data %x want %x", got, want)
	}

	client.Close()
}
