package media

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
)

func newTestEngine(t *testing.T) *MemoryEngine {
	t.Helper()
	e, err := NewMemoryEngine()
	if err != nil {
		t.Fatalf("NewMemoryEngine: %v", err)
	}
	return e
}

func TestCreateTransportParameters(t *testing.T) {
	e := newTestEngine(t)

	info, err := e.CreateTransport(context.Background(), DirectionSend)
	if err != nil {
		t.Fatalf("CreateTransport: %v", err)
	}

	if info.ID == "" {
		t.Error("transport has no id")
	}
	if info.Direction != DirectionSend {
		t.Errorf("direction = %q, want send", info.Direction)
	}
	if info.ICEParameters.UsernameFragment == "" || info.ICEParameters.Password == "" {
		t.Error("ICE parameters are incomplete")
	}
	if len(info.ICECandidates) == 0 {
		t.Error("no ICE candidates")
	}
	if len(info.DTLSParameters.Fingerprints) == 0 {
		t.Error("no DTLS fingerprints")
	}
	if err := info.DTLSParameters.Validate(); err != nil {
		t.Errorf("engine-generated DTLS parameters fail validation: %v", err)
	}
}

func TestConnectTransportValidatesParameters(t *testing.T) {
	e := newTestEngine(t)
	info, err := e.CreateTransport(context.Background(), DirectionSend)
	if err != nil {
		t.Fatalf("CreateTransport: %v", err)
	}

	cases := []struct {
		name   string
		params DTLSParameters
	}{
		{"missing role", DTLSParameters{Fingerprints: info.DTLSParameters.Fingerprints}},
		{"missing fingerprints", DTLSParameters{Role: DTLSRoleClient}},
		{"empty fingerprint value", DTLSParameters{
			Role:         DTLSRoleClient,
			Fingerprints: []webrtc.DTLSFingerprint{{Algorithm: "sha-256"}},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := e.ConnectTransport(context.Background(), info.ID, tc.params)
			if !errors.Is(err, ErrInvalidHandshake) {
				t.Errorf("err = %v, want ErrInvalidHandshake", err)
			}
		})
	}

	good := DTLSParameters{Role: DTLSRoleClient, Fingerprints: info.DTLSParameters.Fingerprints}
	if err := e.ConnectTransport(context.Background(), info.ID, good); err != nil {
		t.Errorf("ConnectTransport with valid params: %v", err)
	}
	if err := e.ConnectTransport(context.Background(), "nope", good); !errors.Is(err, ErrTransportNotFound) {
		t.Errorf("unknown transport err = %v, want ErrTransportNotFound", err)
	}
}

func TestProduceRequiresSendTransport(t *testing.T) {
	e := newTestEngine(t)
	recv, _ := e.CreateTransport(context.Background(), DirectionRecv)

	_, err := e.Produce(context.Background(), recv.ID, KindAudio, DefaultAudioCodec())
	if !errors.Is(err, ErrInvalidDirection) {
		t.Errorf("err = %v, want ErrInvalidDirection", err)
	}

	_, err = e.Produce(context.Background(), recv.ID, Kind("screen"), DefaultAudioCodec())
	if !errors.Is(err, ErrInvalidKind) {
		t.Errorf("err = %v, want ErrInvalidKind", err)
	}
}

func TestConsume(t *testing.T) {
	e := newTestEngine(t)
	send, _ := e.CreateTransport(context.Background(), DirectionSend)
	recv, _ := e.CreateTransport(context.Background(), DirectionRecv)

	producerID, err := e.Produce(context.Background(), send.ID, KindVideo, DefaultVideoCodec())
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}

	caps := []webrtc.RTPCodecCapability{DefaultAudioCodec(), DefaultVideoCodec()}

	if !e.CanConsume(producerID, caps) {
		t.Error("CanConsume = false for matching capabilities")
	}
	if e.CanConsume(producerID, []webrtc.RTPCodecCapability{DefaultAudioCodec()}) {
		t.Error("CanConsume = true for audio-only capabilities against video producer")
	}
	if e.CanConsume("nope", caps) {
		t.Error("CanConsume = true for unknown producer")
	}

	_, err = e.Consume(context.Background(), recv.ID, "nope", caps)
	if !errors.Is(err, ErrProducerNotFound) {
		t.Errorf("unknown producer err = %v, want ErrProducerNotFound", err)
	}

	_, err = e.Consume(context.Background(), send.ID, producerID, caps)
	if !errors.Is(err, ErrInvalidDirection) {
		t.Errorf("send-transport consume err = %v, want ErrInvalidDirection", err)
	}

	info, err := e.Consume(context.Background(), recv.ID, producerID, caps)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if info.ProducerID != producerID {
		t.Errorf("consumer bound to %q, want %q", info.ProducerID, producerID)
	}
	if info.Kind != KindVideo {
		t.Errorf("consumer kind = %q, want video", info.Kind)
	}

	if err := e.ResumeConsumer(context.Background(), info.ID); err != nil {
		t.Errorf("ResumeConsumer: %v", err)
	}
	if err := e.ResumeConsumer(context.Background(), "nope"); !errors.Is(err, ErrConsumerNotFound) {
		t.Errorf("unknown consumer err = %v, want ErrConsumerNotFound", err)
	}
}

func TestCloseProducerCascadesToConsumers(t *testing.T) {
	e := newTestEngine(t)
	send, _ := e.CreateTransport(context.Background(), DirectionSend)
	recv, _ := e.CreateTransport(context.Background(), DirectionRecv)

	producerID, _ := e.Produce(context.Background(), send.ID, KindAudio, DefaultAudioCodec())
	info, err := e.Consume(context.Background(), recv.ID, producerID, e.RouterCapabilities())
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	var closed []closedEvent
	e.OnClosed(func(kind ResourceKind, id string) {
		closed = append(closed, closedEvent{kind, id})
	})

	if err := e.CloseProducer(producerID); err != nil {
		t.Fatalf("CloseProducer: %v", err)
	}

	want := map[closedEvent]bool{
		{ResourceProducer, producerID}: true,
		{ResourceConsumer, info.ID}:    true,
	}
	if len(closed) != len(want) {
		t.Fatalf("closed events = %v, want producer and consumer", closed)
	}
	for _, ev := range closed {
		if !want[ev] {
			t.Errorf("unexpected closed event %v", ev)
		}
	}

	// A closed producer must not be consumable again.
	_, err = e.Consume(context.Background(), recv.ID, producerID, e.RouterCapabilities())
	if !errors.Is(err, ErrProducerNotFound) {
		t.Errorf("consume after close err = %v, want ErrProducerNotFound", err)
	}
}

func TestCloseTransportTearsDownAttachedResources(t *testing.T) {
	e := newTestEngine(t)
	send, _ := e.CreateTransport(context.Background(), DirectionSend)
	recv, _ := e.CreateTransport(context.Background(), DirectionRecv)

	producerID, _ := e.Produce(context.Background(), send.ID, KindAudio, DefaultAudioCodec())
	if _, err := e.Consume(context.Background(), recv.ID, producerID, e.RouterCapabilities()); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	if err := e.CloseTransport(send.ID); err != nil {
		t.Fatalf("CloseTransport: %v", err)
	}

	transports, producers, consumers := e.CountResources()
	if transports != 1 || producers != 0 || consumers != 0 {
		t.Errorf("resources after close = (%d,%d,%d), want (1,0,0)", transports, producers, consumers)
	}

	// Idempotent on unknown ids.
	if err := e.CloseTransport(send.ID); err != nil {
		t.Errorf("second CloseTransport: %v", err)
	}
}

func TestFailFiresDiedOnce(t *testing.T) {
	e := newTestEngine(t)

	var calls int
	e.OnDied(func(err error) { calls++ })

	e.Fail(errors.New("worker exited"))
	e.Fail(errors.New("worker exited again"))

	if calls != 1 {
		t.Errorf("died callbacks = %d, want 1", calls)
	}

	if _, err := e.CreateTransport(context.Background(), DirectionSend); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("create after death err = %v, want ErrEngineClosed", err)
	}
}

func TestDeviceLoad(t *testing.T) {
	e := newTestEngine(t)
	d, err := NewDevice()
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}

	if len(d.RecvCapabilities()) != 0 {
		t.Error("unloaded device advertises capabilities")
	}

	d.Load(e.RouterCapabilities())
	caps := d.RecvCapabilities()
	if len(caps) != 2 {
		t.Fatalf("loaded capabilities = %d, want 2", len(caps))
	}

	params := d.DTLSParameters(DTLSRoleClient)
	if err := params.Validate(); err != nil {
		t.Errorf("device DTLS parameters fail validation: %v", err)
	}
}

func TestDeviceReloadDuringReads(t *testing.T) {
	e := newTestEngine(t)
	d, err := NewDevice()
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	d.Load(e.RouterCapabilities())

	// A reconnect reloads the device while consumes read it.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if len(d.RecvCapabilities()) != 2 {
					t.Error("reader saw a partially loaded device")
					return
				}
				_ = d.DTLSParameters(DTLSRoleClient)
			}
		}()
	}
	for i := 0; i < 100; i++ {
		d.Load(e.RouterCapabilities())
	}
	wg.Wait()
}
