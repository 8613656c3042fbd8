package channel

import (
	"context"
	"crypto/rand"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	smpp "github.com/CodeMonkeyKevin/smpp34"
	"github.com/CodeMonkeyKevin/smpp34/gsmutil"
	"github.com/dilshat/wa-broadcast/model"
	"github.com/dilshat/wa-broadcast/util"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	maxParts = 255
)

var (
	dlvRctRx = regexp.MustCompile(`(?s)id:(\S+) .*stat:([A-Z]+)`)
)

// packet is the part of a PDU the channel cares about.
type packet struct {
	Id           smpp.CMDId
	Sequence     uint32
	Status       uint32
	MessageId    string
	ShortMessage string
}

type TransceiverWrapper interface {
	Unbind() error
	Close()
	Read() (packet, error)
	SubmitSmEncoded(sourceAddr, destinationAddr string, shortMessage []byte, params *smpp.Params) (seq uint32, err error)
	DeliverSmResp(seq uint32, status smpp.CMDStatus) error
}

type TransceiverWrapperFactory interface {
	GetTransceiver(host string, port int, eli int, bindParams smpp.Params) (TransceiverWrapper, error)
}

type transceiverWrapperFactory struct {
}

type transceiverWrapper struct {
	tr *smpp.Transceiver
}

func (t *transceiverWrapper) Unbind() error {
	return t.tr.Unbind()
}

func (t *transceiverWrapper) Close() {
	t.tr.Close()
}

func (t *transceiverWrapper) Read() (packet, error) {
	pdu, err := t.tr.Read() // This is blocking
	if err != nil {
		return packet{}, err
	}
	header := pdu.GetHeader()
	p := packet{Id: header.Id, Sequence: header.Sequence, Status: uint32(header.Status)}
	switch header.Id {
	case smpp.SUBMIT_SM_RESP:
		if f := pdu.GetField("message_id"); f != nil {
			p.MessageId = f.String()
		}
	case smpp.DELIVER_SM:
		if f := pdu.GetField("short_message"); f != nil {
			p.ShortMessage = f.String()
		}
	}
	return p, nil
}

func (t *transceiverWrapper) SubmitSmEncoded(sourceAddr, destinationAddr string, shortMessage []byte, params *smpp.Params) (uint32, error) {
	return t.tr.SubmitSmEncoded(sourceAddr, destinationAddr, shortMessage, params)
}

func (t *transceiverWrapper) DeliverSmResp(seq uint32, status smpp.CMDStatus) error {
	return t.tr.DeliverSmResp(seq, status)
}

func (t *transceiverWrapperFactory) GetTransceiver(host string, port int, eli int, bindParams smpp.Params) (TransceiverWrapper, error) {
	tr, err := smpp.NewTransceiver(host, port, eli, bindParams)
	if err != nil {
		return nil, err
	}
	return &transceiverWrapper{tr: tr}, nil
}

type submitResult struct {
	status    uint32
	messageId string
	err       error
}

// SmppChannel sends messages as SMS over an SMPP transceiver bind.
// Send blocks until the SMSC answers the submit_sm, deliver_sm receipts go to the bound ReceiptHandler.
type SmppChannel struct {
	smscIp           string
	smscPort         int
	smscAccount      string
	smscPassword     string
	smscEnqLnkIntrvl int
	sender           string
	submitTimeout    time.Duration

	connected int32

	//sendMu serializes writes and waiter registration so a response never beats its waiter
	sendMu  sync.Mutex
	waiters map[uint32]chan submitResult

	transceiver        TransceiverWrapper
	transceiverFactory TransceiverWrapperFactory
	rateLimiter        RateLimiter
	receiptHandler     ReceiptHandler
	stop               chan struct{}
}

func NewSmppChannel(smscIp string, smscPort int, smscAccount, smscPassword, sender string, smscEnqLnkIntrvl, tps int, submitTimeout time.Duration) *SmppChannel {
	return &SmppChannel{
		smscIp:             smscIp,
		smscPort:           smscPort,
		smscAccount:        smscAccount,
		smscPassword:       smscPassword,
		smscEnqLnkIntrvl:   smscEnqLnkIntrvl,
		sender:             sender,
		submitTimeout:      submitTimeout,
		waiters:            map[uint32]chan submitResult{},
		rateLimiter:        rate.NewLimiter(rate.Limit(tps), 1),
		transceiverFactory: &transceiverWrapperFactory{},
		stop:               make(chan struct{}),
	}
}

func (c *SmppChannel) BindReceiptHandler(handler ReceiptHandler) {
	c.receiptHandler = handler
}

// Start binds to the SMSC and runs the read and reconnect loops until Stop.
func (c *SmppChannel) Start() error {
	err := c.Connect()
	if err != nil {
		return err
	}

	go c.readPackets()
	go c.checkConnection()

	return nil
}

func (c *SmppChannel) Stop() {
	close(c.stop)
	c.Disconnect()
}

func (c *SmppChannel) Connect() error {
	defer func() {
		r := recover()
		if r != nil {
			zap.L().Error("Recovered in Connect", zap.Any("panic", r))
			atomic.StoreInt32(&c.connected, 0)
		}
	}()

	zap.L().Info("Connecting to SMSC", zap.String("ip", c.smscIp), zap.Int("port", c.smscPort))

	tr, err := c.transceiverFactory.GetTransceiver(
		c.smscIp,
		c.smscPort,
		c.smscEnqLnkIntrvl,
		smpp.Params{
			"system_id": c.smscAccount,
			"password":  c.smscPassword,
		},
	)

	if err != nil {
		atomic.StoreInt32(&c.connected, 0)
		zap.L().Error("Connection failed", zap.Error(err))
		return err
	}

	c.sendMu.Lock()
	c.transceiver = tr
	c.sendMu.Unlock()
	atomic.StoreInt32(&c.connected, 1)
	zap.L().Info("Connection succeeded")

	return nil
}

func (c *SmppChannel) Disconnect() {
	defer func() {
		r := recover()
		if r != nil {
			zap.L().Error("Recovered in Disconnect", zap.Any("panic", r))
		}
		atomic.StoreInt32(&c.connected, 0)
	}()

	zap.L().Info("Disconnecting from SMSC")

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	//nobody will answer the outstanding submits on this bind
	for seq, waiter := range c.waiters {
		waiter <- submitResult{err: NewDeliveryError("smsc connection lost", false)}
		delete(c.waiters, seq)
	}

	if c.transceiver != nil {
		_ = c.transceiver.Unbind()
		c.transceiver.Close()
	}
}

func (c *SmppChannel) Reconnect() error {
	c.Disconnect()
	return c.Connect()
}

func (c *SmppChannel) IsConnected() bool {
	return atomic.LoadInt32(&c.connected) == 1
}

// Send submits the text, split into concatenated parts when it does not fit one SM,
// and returns the message id of the last part, which is the one that asks for a receipt.
func (c *SmppChannel) Send(ctx context.Context, phone, text string) (string, error) {
	if !c.IsConnected() {
		return "", NewDeliveryError("smsc is not connected", false)
	}

	coding, parts, err := segment(text)
	if err != nil {
		return "", err
	}

	var seqs []uint32
	defer func() {
		for _, seq := range seqs {
			c.forget(seq)
		}
	}()

	waiters := make([]chan submitResult, 0, len(parts))
	for _, part := range parts {
		//impose tps limit, every part is a submit_sm of its own
		if err = c.rateLimiter.Wait(ctx); err != nil {
			return "", err
		}
		waiter, seq, err := c.submit(phone, part, coding)
		if err != nil {
			return "", NewDeliveryError(err.Error(), false)
		}
		seqs = append(seqs, seq)
		waiters = append(waiters, waiter)
	}

	timer := time.NewTimer(c.submitTimeout)
	defer timer.Stop()

	var messageId string
	for i, waiter := range waiters {
		select {
		case res := <-waiter:
			if res.err != nil {
				return "", res.err
			}
			if res.status != 0 {
				return "", NewDeliveryError(fmt.Sprintf("submit_sm of part %d/%d rejected with status 0x%08X", i+1, len(waiters), res.status), true)
			}
			messageId = res.messageId
		case <-timer.C:
			return "", NewDeliveryError("submit_sm_resp timeout", false)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return messageId, nil
}

type smPart struct {
	body               []byte
	esmClass           int
	registeredDelivery int
}

// segment encodes the text and splits it into parts carrying a concatenation UDH when it is too long for one SM.
func segment(text string) (int, []smPart, error) {
	//determine encoding
	coding := smpp.ENCODING_DEFAULT
	textBytes := []byte(text)
	partLength := 153
	maxLength := 160
	if !util.IsASCII(text) {
		coding = smpp.ENCODING_ISO10646
		textBytes = gsmutil.EncodeUcs2(text)
		partLength = 134
		maxLength = 140
	}

	if len(textBytes) <= maxLength {
		return coding, []smPart{{body: textBytes, esmClass: smpp.ESM_CLASS_GSMFEAT_NONE, registeredDelivery: 1}}, nil
	}

	partsCount := (len(textBytes) + partLength - 1) / partLength
	if partsCount > maxParts {
		return 0, nil, NewDeliveryError(fmt.Sprintf("message needs %d parts, at most %d allowed", partsCount, maxParts), true)
	}

	commonId := make([]byte, 1)
	if _, err := rand.Read(commonId); err != nil {
		zap.L().Warn("Error generating common id", zap.Error(err))
	}

	parts := make([]smPart, 0, partsCount)
	for i := 1; i <= partsCount; i++ {
		end := i * partLength
		if end > len(textBytes) {
			end = len(textBytes)
		}
		body := []byte{0x05, 0x00, 0x03, commonId[0], byte(partsCount), byte(i)}
		body = append(body, textBytes[(i-1)*partLength:end]...)

		//only the final part asks for a delivery receipt
		registeredDelivery := 0
		if i == partsCount {
			registeredDelivery = 1
		}
		parts = append(parts, smPart{body: body, esmClass: smpp.ESM_CLASS_GSMFEAT_UDHI, registeredDelivery: registeredDelivery})
	}

	return coding, parts, nil
}

func (c *SmppChannel) submit(phone string, part smPart, coding int) (chan submitResult, uint32, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	var (
		seq uint32
		err error
	)
	func() {
		defer func() {
			r := recover()
			if r != nil {
				atomic.StoreInt32(&c.connected, 0)
				err = fmt.Errorf("submit_sm panicked: %v", r)
			}
		}()
		seq, err = c.transceiver.SubmitSmEncoded(c.sender, phone, part.body, &smpp.Params{
			smpp.SOURCE_ADDR_TON:     5,
			smpp.SOURCE_ADDR_NPI:     1,
			smpp.DEST_ADDR_TON:       1,
			smpp.DEST_ADDR_NPI:       1,
			smpp.ESM_CLASS:           part.esmClass,
			smpp.REGISTERED_DELIVERY: part.registeredDelivery,
			smpp.DATA_CODING:         coding,
		})
	}()
	if err != nil {
		return nil, 0, err
	}

	waiter := make(chan submitResult, 1)
	c.waiters[seq] = waiter
	return waiter, seq, nil
}

func (c *SmppChannel) forget(seq uint32) {
	c.sendMu.Lock()
	delete(c.waiters, seq)
	c.sendMu.Unlock()
}

func (c *SmppChannel) readPackets() {
	for {
		select {
		case <-c.stop:
			return
		default:
		}
		if c.IsConnected() {
			_ = c.ReadPacket()
		} else {
			time.Sleep(100 * time.Millisecond)
		}
	}
}

func (c *SmppChannel) checkConnection() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.IsConnected() {
				err := c.Reconnect()
				if err != nil {
					zap.L().Warn("Reconnect failed", zap.Error(err))
				}
			}
		}
	}
}

func (c *SmppChannel) ReadPacket() error {
	defer func() {
		r := recover()
		if r != nil {
			atomic.StoreInt32(&c.connected, 0)
			zap.L().Error("Recovered in ReadPacket", zap.Any("panic", r))
		}
	}()

	p, err := c.transceiver.Read()
	if err != nil {
		if _, ok := err.(smpp.SmppErr); ok {
			zap.L().Warn("Error reading packet", zap.Error(err))
		} else {
			//set connected to false
			atomic.StoreInt32(&c.connected, 0)
			zap.L().Error("Error reading packet", zap.Error(err))
		}
		return err
	}

	// Transceiver auto handles EnquireLinks
	switch p.Id {
	case smpp.SUBMIT_SM_RESP:
		c.processSubmitSmResp(p)

	case smpp.DELIVER_SM:
		err = c.transceiver.DeliverSmResp(p.Sequence, smpp.ESME_ROK)
		if err != nil {
			zap.L().Error("DeliverSmResp failed", zap.Error(err))
		}

		c.processDeliverSm(p)

	default:
		zap.L().Debug("Unhandled PDU", zap.Uint32("id", uint32(p.Id)))
	}

	return nil
}

func (c *SmppChannel) processSubmitSmResp(p packet) {
	c.sendMu.Lock()
	waiter, ok := c.waiters[p.Sequence]
	delete(c.waiters, p.Sequence)
	c.sendMu.Unlock()

	if !ok {
		zap.L().Warn("Unexpected submit_sm_resp", zap.Uint32("seq", p.Sequence))
		return
	}
	waiter <- submitResult{status: p.Status, messageId: p.MessageId}

	zap.L().Debug("SubmitSmResp", zap.Uint32("seq", p.Sequence), zap.String("smscId", p.MessageId), zap.Uint32("status", p.Status))
}

func (c *SmppChannel) processDeliverSm(p packet) {
	res := dlvRctRx.FindStringSubmatch(p.ShortMessage)
	if len(res) != 3 {
		zap.L().Error("Failed to parse deliver_sm", zap.String("short_message", p.ShortMessage))
		return
	}
	smscId, stat := res[1], res[2]

	zap.L().Debug("DeliverSm", zap.String("smscId", smscId), zap.String("stat", stat))

	//SMS receipts only confirm delivery, there is no read state
	if stat != "DELIVRD" || c.receiptHandler == nil {
		return
	}
	go c.receiptHandler(smscId, model.DELIVERED)
}
