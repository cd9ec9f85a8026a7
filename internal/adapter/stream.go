package adapter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LoginFunc builds the login frame sent first on every (re)connect of a
// private stream.
type LoginFunc func(now time.Time) (string, error)

type streamSub struct {
	sub      Subscription
	symbolID string
	frame    string
}

// Stream binds a ProtocolAdapter to a WSClient. It turns Subscriptions into
// frames, replays them after every reconnect, and parses inbound frames into
// Events. Market depth is folded into a DepthBook and published as
// BookUpdates, so a Stream can be registered with a Broadcaster.
type Stream struct {
	pa   ProtocolAdapter
	ws   *WSClient
	raw  <-chan []byte
	book *DepthBook
	log  *zap.Logger

	login LoginFunc

	mu         sync.Mutex
	subs       map[string]streamSub // keyed by correlation ID
	connected  bool
	authorized bool

	events  chan Event
	updates chan BookUpdate

	nowFunc func() time.Time
}

// NewStream creates a Stream over ws. It must be created before ws.Connect
// so that the initial connect replays subscriptions.
func NewStream(pa ProtocolAdapter, ws *WSClient, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Stream{
		pa:      pa,
		ws:      ws,
		raw:     ws.Subscribe(),
		book:    NewDepthBook(DefaultBookDepth),
		log:     logger.With(zap.String("exchange", string(pa.Exchange()))),
		subs:    make(map[string]streamSub),
		events:  make(chan Event, 256),
		updates: make(chan BookUpdate, 256),
		nowFunc: time.Now,
	}
	ws.OnConnect(s.onConnect)
	return s
}

// SetLogin makes the stream authenticate on every connect. Subscriptions
// are held back until the session is authorized.
func (s *Stream) SetLogin(fn LoginFunc) {
	s.mu.Lock()
	s.login = fn
	s.mu.Unlock()
}

// SetBookDepth changes how many levels per side BookUpdates carry. Call it
// before Run.
func (s *Stream) SetBookDepth(depth int) {
	s.mu.Lock()
	s.book = NewDepthBook(depth)
	s.mu.Unlock()
}

// Events returns the channel of parsed events. It is closed when Run returns.
func (s *Stream) Events() <-chan Event { return s.events }

// Updates implements UpdatesProvider.
func (s *Stream) Updates() <-chan BookUpdate { return s.updates }

// Subscribe registers sub and sends its frame when the connection is ready.
// It returns the correlation ID attached to every message for the
// subscribed instrument; one is generated when sub carries none. A
// correlation ID already in use is rejected with ErrDuplicateSubscription.
func (s *Stream) Subscribe(sub Subscription, symbolID string) (string, error) {
	frame, err := s.pa.TranslateSubscription(sub, s.nowFunc(), symbolID)
	if err != nil {
		return "", err
	}

	id := sub.CorrelationID
	if id == "" {
		id = uuid.NewString()
		sub.CorrelationID = id
	}

	s.mu.Lock()
	if _, exists := s.subs[id]; exists {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDuplicateSubscription, id)
	}
	s.subs[id] = streamSub{sub: sub, symbolID: symbolID, frame: frame}
	ready := s.readyLocked()
	s.mu.Unlock()

	if ready {
		s.ws.Send([]byte(frame))
	}
	return id, nil
}

// Unsubscribe cancels the subscription with the given correlation ID.
func (s *Stream) Unsubscribe(correlationID string) error {
	s.mu.Lock()
	entry, ok := s.subs[correlationID]
	if ok {
		delete(s.subs, correlationID)
	}
	lastDepth := ok && entry.sub.Field == FieldMarketDepth && !s.hasDepthLocked(instrumentOf(entry))
	ready := s.readyLocked()
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSubscription, correlationID)
	}
	if lastDepth {
		s.book.Reset(s.pa.Exchange(), instrumentOf(entry))
	}

	u, canUnsub := s.pa.(Unsubscriber)
	if !canUnsub || !ready {
		return nil
	}
	frame, err := u.UnsubscribeMessage(entry.sub, entry.symbolID)
	if err != nil {
		return err
	}
	s.ws.Send([]byte(frame))
	return nil
}

// Subscriptions lists active correlation IDs in sorted order.
func (s *Stream) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subs))
	for id := range s.subs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Run parses inbound frames until ctx is cancelled or the WSClient closes.
func (s *Stream) Run(ctx context.Context) {
	defer close(s.events)
	defer close(s.updates)

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-s.raw:
			if !ok {
				return
			}
			s.handle(ctx, raw, s.nowFunc())
		}
	}
}

func (s *Stream) handle(ctx context.Context, raw []byte, receivedAt time.Time) {
	for _, ev := range s.pa.ParseMessage(raw, receivedAt) {
		if ev.Type == EventSessionStatus {
			s.onSession(ev)
		}

		for i := range ev.Messages {
			msg := &ev.Messages[i]
			msg.CorrelationIDs = s.correlationIDs(msg.InstrumentID)

			if update, ok := s.book.Apply(ev.Exchange, *msg); ok {
				select {
				case s.updates <- update:
				default:
					s.log.Debug("stream: dropping book update for slow consumer",
						zap.String("instrument", update.MarketID))
				}
			}
		}

		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// onConnect runs after every dial. Without a login the stored frames are
// replayed at once; otherwise they wait for the authorization event.
func (s *Stream) onConnect() {
	s.mu.Lock()
	s.connected = true
	s.authorized = false
	login := s.login
	s.mu.Unlock()

	if login == nil {
		s.replay()
		return
	}

	frame, err := login(s.nowFunc())
	if err != nil {
		s.log.Error("stream: cannot build login frame", zap.Error(err))
		return
	}
	s.ws.Send([]byte(frame))
}

func (s *Stream) onSession(ev Event) {
	for _, msg := range ev.Messages {
		switch msg.Type {
		case MsgSessionAuthorized:
			s.mu.Lock()
			s.authorized = true
			s.mu.Unlock()
			s.log.Info("stream: session authorized")
			s.replay()
		case MsgSessionAuthorizationFailure:
			s.log.Error("stream: session authorization failed", zap.Any("detail", msg.Elements))
		}
	}
}

func (s *Stream) replay() {
	s.mu.Lock()
	frames := make([]string, 0, len(s.subs))
	for _, entry := range s.subs {
		frames = append(frames, entry.frame)
	}
	s.mu.Unlock()

	sort.Strings(frames)
	for _, f := range frames {
		s.ws.Send([]byte(f))
	}
}

// hasDepthLocked reports whether any market depth subscription remains for
// instrumentID. Caller must hold s.mu.
func (s *Stream) hasDepthLocked(instrumentID string) bool {
	for _, entry := range s.subs {
		if entry.sub.Field == FieldMarketDepth && instrumentOf(entry) == instrumentID {
			return true
		}
	}
	return false
}

func (s *Stream) readyLocked() bool {
	return s.connected && s.ws.Circuit() == CircuitClosed && (s.login == nil || s.authorized)
}

func (s *Stream) correlationIDs(instrumentID string) []string {
	if instrumentID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, entry := range s.subs {
		if instrumentOf(entry) == instrumentID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func instrumentOf(entry streamSub) string {
	if entry.symbolID != "" {
		return entry.symbolID
	}
	return entry.sub.InstrumentID
}
