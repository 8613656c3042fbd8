package channel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	smpp "github.com/CodeMonkeyKevin/smpp34"
	"github.com/dchest/uniuri"
	"github.com/dilshat/wa-broadcast/model"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const (
	SENDER = "Awesome"
	PHONE  = "996777123456"
)

type mockTransceiver struct {
	mu          sync.Mutex
	seq         uint32
	submitted   [][]byte
	params      []smpp.Params
	submitErr   error
	readErr     error
	packets     chan packet
	deliverResp []uint32
	unbound     bool
	closed      bool
}

func newMockTransceiver() *mockTransceiver {
	return &mockTransceiver{packets: make(chan packet, 10)}
}

func (m *mockTransceiver) Unbind() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unbound = true
	return nil
}

func (m *mockTransceiver) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *mockTransceiver) Read() (packet, error) {
	if m.readErr != nil {
		return packet{}, m.readErr
	}
	return <-m.packets, nil
}

func (m *mockTransceiver) SubmitSmEncoded(sourceAddr, destinationAddr string, shortMessage []byte, params *smpp.Params) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return 0, m.submitErr
	}
	m.seq++
	m.submitted = append(m.submitted, shortMessage)
	m.params = append(m.params, *params)
	return m.seq, nil
}

func (m *mockTransceiver) DeliverSmResp(seq uint32, status smpp.CMDStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliverResp = append(m.deliverResp, seq)
	return nil
}

func (m *mockTransceiver) submittedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submitted)
}

type mockFactory struct {
	tr  TransceiverWrapper
	err error
}

func (f mockFactory) GetTransceiver(host string, port int, eli int, bindParams smpp.Params) (TransceiverWrapper, error) {
	return f.tr, f.err
}

func newTestChannel(tr *mockTransceiver, timeout time.Duration) *SmppChannel {
	c := NewSmppChannel("127.0.0.1", 2775, "id", "pwd", SENDER, 30, 100, timeout)
	c.rateLimiter = rate.NewLimiter(rate.Inf, 1)
	c.transceiverFactory = mockFactory{tr: tr}
	return c
}

type sendResult struct {
	id  string
	err error
}

func sendAsync(c *SmppChannel, text string) chan sendResult {
	done := make(chan sendResult, 1)
	go func() {
		id, err := c.Send(context.Background(), PHONE, text)
		done <- sendResult{id: id, err: err}
	}()
	return done
}

func TestSmppChannel_Connect(t *testing.T) {
	tr := newMockTransceiver()
	c := newTestChannel(tr, time.Second)

	require.NoError(t, c.Connect())
	require.True(t, c.IsConnected())

	c.Disconnect()

	require.False(t, c.IsConnected())
	require.True(t, tr.unbound)
	require.True(t, tr.closed)

	c.transceiverFactory = mockFactory{err: errors.New("refused")}

	require.Error(t, c.Connect())
	require.False(t, c.IsConnected())
}

func TestSmppChannel_Send(t *testing.T) {
	tr := newMockTransceiver()
	c := newTestChannel(tr, 2*time.Second)
	require.NoError(t, c.Connect())

	done := sendAsync(c, "hello")
	require.Eventually(t, func() bool { return tr.submittedCount() == 1 }, time.Second, 5*time.Millisecond)
	tr.packets <- packet{Id: smpp.SUBMIT_SM_RESP, Sequence: 1, Status: 0, MessageId: "1203837180"}

	require.NoError(t, c.ReadPacket())

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, "1203837180", res.id)
	require.Equal(t, "hello", string(tr.submitted[0]))
	require.Equal(t, smpp.ESM_CLASS_GSMFEAT_NONE, tr.params[0][smpp.ESM_CLASS])
	require.Equal(t, 1, tr.params[0][smpp.REGISTERED_DELIVERY])
}

func TestSmppChannel_SendRejected(t *testing.T) {
	tr := newMockTransceiver()
	c := newTestChannel(tr, 2*time.Second)
	require.NoError(t, c.Connect())

	done := sendAsync(c, "hello")
	require.Eventually(t, func() bool { return tr.submittedCount() == 1 }, time.Second, 5*time.Millisecond)
	tr.packets <- packet{Id: smpp.SUBMIT_SM_RESP, Sequence: 1, Status: 0x0B}
	require.NoError(t, c.ReadPacket())

	res := <-done
	require.Error(t, res.err)
	require.True(t, IsPermanent(res.err))
}

func TestSmppChannel_SendTimeout(t *testing.T) {
	tr := newMockTransceiver()
	c := newTestChannel(tr, 50*time.Millisecond)
	require.NoError(t, c.Connect())

	_, err := c.Send(context.Background(), PHONE, "hello")

	require.Error(t, err)
	require.False(t, IsPermanent(err))
	require.Empty(t, c.waiters)
}

func TestSmppChannel_SendNotConnected(t *testing.T) {
	c := newTestChannel(newMockTransceiver(), time.Second)

	_, err := c.Send(context.Background(), PHONE, "hello")

	require.Error(t, err)
	require.False(t, IsPermanent(err))
}

func TestSmppChannel_SendMultipart(t *testing.T) {
	tr := newMockTransceiver()
	c := newTestChannel(tr, 2*time.Second)
	require.NoError(t, c.Connect())

	//130 cyrillic chars encode to 260 ucs2 bytes
	done := sendAsync(c, strings.Repeat("ж", 130))
	require.Eventually(t, func() bool { return tr.submittedCount() == 2 }, time.Second, 5*time.Millisecond)
	tr.packets <- packet{Id: smpp.SUBMIT_SM_RESP, Sequence: 1, MessageId: "501"}
	tr.packets <- packet{Id: smpp.SUBMIT_SM_RESP, Sequence: 2, MessageId: "502"}
	require.NoError(t, c.ReadPacket())
	require.NoError(t, c.ReadPacket())

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, "502", res.id)

	first, second := tr.submitted[0], tr.submitted[1]
	require.Len(t, first, 6+134)
	require.Len(t, second, 6+126)
	require.Equal(t, []byte{0x05, 0x00, 0x03}, first[:3])
	require.Equal(t, first[3], second[3])
	require.Equal(t, []byte{2, 1}, first[4:6])
	require.Equal(t, []byte{2, 2}, second[4:6])
	for i, params := range tr.params {
		require.Equal(t, smpp.ESM_CLASS_GSMFEAT_UDHI, params[smpp.ESM_CLASS])
		require.Equal(t, smpp.ENCODING_ISO10646, params[smpp.DATA_CODING])
		require.Equal(t, i, params[smpp.REGISTERED_DELIVERY])
	}
	require.Empty(t, c.waiters)
}

func TestSmppChannel_SendMultipartRejected(t *testing.T) {
	tr := newMockTransceiver()
	c := newTestChannel(tr, 2*time.Second)
	require.NoError(t, c.Connect())

	done := sendAsync(c, uniuri.NewLen(200))
	require.Eventually(t, func() bool { return tr.submittedCount() == 2 }, time.Second, 5*time.Millisecond)
	tr.packets <- packet{Id: smpp.SUBMIT_SM_RESP, Sequence: 1, MessageId: "501"}
	tr.packets <- packet{Id: smpp.SUBMIT_SM_RESP, Sequence: 2, Status: 0x45}
	require.NoError(t, c.ReadPacket())
	require.NoError(t, c.ReadPacket())

	res := <-done
	require.Error(t, res.err)
	require.True(t, IsPermanent(res.err))
	require.Contains(t, res.err.Error(), "part 2/2")
}

func TestSmppChannel_SendTooManyParts(t *testing.T) {
	tr := newMockTransceiver()
	c := newTestChannel(tr, time.Second)
	require.NoError(t, c.Connect())

	_, err := c.Send(context.Background(), PHONE, uniuri.NewLen(153*255+1))

	require.Error(t, err)
	require.True(t, IsPermanent(err))
	require.Equal(t, 0, tr.submittedCount())
}

func TestSmppChannel_SendSubmitError(t *testing.T) {
	tr := newMockTransceiver()
	tr.submitErr = errors.New("broken pipe")
	c := newTestChannel(tr, time.Second)
	require.NoError(t, c.Connect())

	_, err := c.Send(context.Background(), PHONE, "hello")

	require.Error(t, err)
	require.Contains(t, err.Error(), "broken pipe")
}

func TestSmppChannel_SendUcs2(t *testing.T) {
	tr := newMockTransceiver()
	c := newTestChannel(tr, 2*time.Second)
	require.NoError(t, c.Connect())

	done := sendAsync(c, "привет")
	require.Eventually(t, func() bool { return tr.submittedCount() == 1 }, time.Second, 5*time.Millisecond)
	tr.packets <- packet{Id: smpp.SUBMIT_SM_RESP, Sequence: 1, MessageId: "77"}
	require.NoError(t, c.ReadPacket())

	res := <-done
	require.NoError(t, res.err)
	require.Len(t, tr.submitted[0], 12)
	require.Equal(t, []byte{0x04, 0x3F}, tr.submitted[0][:2])
	require.Equal(t, smpp.ENCODING_ISO10646, tr.params[0][smpp.DATA_CODING])
}

func TestSmppChannel_DisconnectFailsWaiters(t *testing.T) {
	tr := newMockTransceiver()
	c := newTestChannel(tr, 5*time.Second)
	require.NoError(t, c.Connect())

	done := sendAsync(c, "hello")
	require.Eventually(t, func() bool { return tr.submittedCount() == 1 }, time.Second, 5*time.Millisecond)

	c.Disconnect()

	res := <-done
	require.Error(t, res.err)
	require.Contains(t, res.err.Error(), "connection lost")
}

func TestSmppChannel_ReadPacket(t *testing.T) {
	tr := newMockTransceiver()
	tr.readErr = errors.New("blablabla")
	c := newTestChannel(tr, time.Second)
	require.NoError(t, c.Connect())

	err := c.ReadPacket()

	require.Error(t, err)
	require.False(t, c.IsConnected())
}

func TestSmppChannel_DeliverSm(t *testing.T) {
	tr := newMockTransceiver()
	c := newTestChannel(tr, time.Second)
	require.NoError(t, c.Connect())
	receipts := make(chan Receipt, 1)
	c.BindReceiptHandler(func(deliverId, status string) {
		receipts <- Receipt{DeliverId: deliverId, Status: status}
	})

	tr.packets <- packet{Id: smpp.DELIVER_SM, Sequence: 9,
		ShortMessage: "id:1203837180 sub:001 dlvrd:1 submit date:1911251537 done date:1911251537 stat:DELIVRD err:000 TEXT:a message"}
	require.NoError(t, c.ReadPacket())

	select {
	case receipt := <-receipts:
		require.Equal(t, Receipt{DeliverId: "1203837180", Status: model.DELIVERED}, receipt)
	case <-time.After(time.Second):
		t.Fatal("receipt handler was not called")
	}
	require.Equal(t, []uint32{9}, tr.deliverResp)

	tr.packets <- packet{Id: smpp.DELIVER_SM, Sequence: 10,
		ShortMessage: "id:1203837181 sub:001 dlvrd:0 submit date:1911251537 done date:1911251537 stat:UNDELIV err:001"}
	require.NoError(t, c.ReadPacket())

	select {
	case receipt := <-receipts:
		t.Fatalf("unexpected receipt %+v", receipt)
	case <-time.After(50 * time.Millisecond):
	}
}
