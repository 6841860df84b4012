package bb16

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultReadTimeout bounds PacketStream.Read when the caller has no better
// deadline.
const DefaultReadTimeout = 60 * time.Second

// settleDelay gives the peripheral quiet time after a notification
// subscription before any traffic starts. Shortened in tests.
var settleDelay = time.Second

// rxQueueDepth bounds how many decoded messages may sit unread. The
// protocol is lock-stepped, so anything beyond a handful means the reader
// has stalled.
const rxQueueDepth = 64

// PacketStream owns one GATT characteristic: it reassembles notification
// chunks into frames, decodes them and hands out typed messages in
// lock-step with the per-characteristic sequence id. Both ends carry the
// same 4-bit counter and advance it only after a successful read+ack, so a
// sid mismatch means loss or reordering.
type PacketStream struct {
	transport Transport
	charUUID  string

	msgCh chan Message

	mu       sync.Mutex
	seq      byte
	rxBuf    []byte
	writeErr error // deferred ack failure, surfaced on the next write
}

// OpenStream subscribes to notifications on the characteristic and waits
// out the hardware settle time.
func OpenStream(t Transport, charUUID string) (*PacketStream, error) {
	s := &PacketStream{
		transport: t,
		charUUID:  charUUID,
		msgCh:     make(chan Message, rxQueueDepth),
	}
	if err := t.StartNotify(charUUID, s.onNotify); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", charUUID, err)
	}
	time.Sleep(settleDelay)
	return s, nil
}

func (s *PacketStream) onNotify(data []byte) {
	log.Debugf("RX(%s): %s", s.charUUID, hex.EncodeToString(data))
	if err := s.onBytes(data); err != nil {
		log.Errorf("RX(%s): dropping frame: %v", s.charUUID, err)
	}
}

// onBytes appends a notification chunk to the reassembly buffer. A frame is
// complete when the newest byte is the end delimiter; payload occurrences
// of that byte are escaped, so no scanning is needed.
func (s *PacketStream) onBytes(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rxBuf = append(s.rxBuf, chunk...)
	if s.rxBuf[0] != frameStart {
		s.rxBuf = nil
		return &FramingError{Reason: "frame does not start with 0x7e"}
	}
	if s.rxBuf[len(s.rxBuf)-1] != frameEnd {
		return nil // frame still in flight
	}

	msg, err := Decode(s.rxBuf)
	s.rxBuf = nil
	if err != nil {
		return err
	}

	select {
	case s.msgCh <- msg:
		return nil
	default:
		return fmt.Errorf("rx queue full on %s, dropping %T", s.charUUID, msg)
	}
}

// Read waits for the next non-ack message, validates its sid against the stream
// counter, acknowledges it and advances the counter. A failed ack does not
// suppress the message; the error surfaces on the next Write.
func (s *PacketStream) Read(timeout time.Duration) (Message, error) {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var msg Message
	for msg == nil {
		select {
		case m := <-s.msgCh:
			// Peer acks carry the acked sid and take no part in the
			// lock-step: they are neither validated nor returned.
			if m.Trans() != TransAck {
				msg = m
			}
		case <-timer.C:
			return nil, ErrTimeout
		}
	}

	s.mu.Lock()
	expected := s.seq
	s.mu.Unlock()

	if msg.Sid() != expected {
		return nil, &ProtocolError{
			Kind:   ViolationSequenceSkew,
			Detail: fmt.Sprintf("expected sid %d, got %d", expected, msg.Sid()),
		}
	}

	// The ack carries the just-received sid, not the post-increment value.
	if err := s.send(AckFor(msg), msg.Sid()); err != nil {
		s.mu.Lock()
		s.writeErr = fmt.Errorf("ack for sid %d failed: %w", msg.Sid(), err)
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.seq = (s.seq + 1) & 0x0F
	s.mu.Unlock()

	return msg, nil
}

// Write transmits a message stamped with the stream's current sid.
func (s *PacketStream) Write(m Message) error {
	s.mu.Lock()
	if err := s.writeErr; err != nil {
		s.writeErr = nil
		s.mu.Unlock()
		return err
	}
	sid := s.seq
	s.mu.Unlock()

	return s.send(m, sid)
}

func (s *PacketStream) send(m Message, sid byte) error {
	data, err := Encode(m, sid)
	if err != nil {
		return err
	}
	log.Debugf("TX(%s): %s", s.charUUID, hex.EncodeToString(data))
	if err := s.transport.WriteCharacteristic(s.charUUID, data); err != nil {
		return fmt.Errorf("failed to write to %s: %w", s.charUUID, err)
	}
	return nil
}

// Clear drops the reassembly buffer, any queued messages and any deferred
// write error. Used after error recovery.
func (s *PacketStream) Clear() {
	s.mu.Lock()
	s.rxBuf = nil
	s.writeErr = nil
	s.mu.Unlock()

	for {
		select {
		case <-s.msgCh:
		default:
			return
		}
	}
}

// Close releases the characteristic subscription.
func (s *PacketStream) Close() error {
	return s.transport.StopNotify(s.charUUID)
}
