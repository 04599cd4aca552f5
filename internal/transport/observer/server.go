package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"agrosim.ai/internal/observerproto"
	"agrosim.ai/internal/sim/effects"
	"agrosim.ai/internal/sim/encoding"
	"agrosim.ai/internal/sim/grid"
	"agrosim.ai/internal/sim/tile"
	"agrosim.ai/internal/sim/world"
)

// World is the read side of the runtime the observer needs.
type World interface {
	ID() string
	RunID() string
	CurrentDay() uint64
	Grid() tile.Grid
}

type Server struct {
	world World
	log   *log.Logger

	// AllowRemote serves non-loopback clients too.
	AllowRemote bool

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	out chan []byte

	mu    sync.Mutex
	layer string
	scale float64
}

func (s *session) settings() (string, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layer, s.scale
}

func (s *session) update(sub observerproto.SubscribeMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layer, s.scale = sub.Layer, sub.Scale
}

func NewServer(w World, logger *log.Logger) *Server {
	return &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sessions: map[string]*session{},
	}
}

// Register mounts the observer routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/observer/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/v1/observer/tile", s.TileHandler())
	mux.HandleFunc("/v1/observer/ws", s.WSHandler())
}

func (s *Server) allowed(rw http.ResponseWriter, r *http.Request) bool {
	if s.AllowRemote || isLoopbackRemote(r.RemoteAddr) {
		return true
	}
	http.Error(rw, "forbidden", http.StatusForbidden)
	return false
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(rw, r) {
			return
		}
		g := s.world.Grid()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			WorldID:         s.world.ID(),
			RunID:           s.world.RunID(),
			Day:             s.world.CurrentDay(),
			Rows:            g.Rows(),
			Cols:            g.Cols(),
			Layers:          grid.LayerNames(g),
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) TileHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(rw, r) {
			return
		}
		row, err1 := strconv.Atoi(r.URL.Query().Get("row"))
		col, err2 := strconv.Atoi(r.URL.Query().Get("col"))
		if err1 != nil || err2 != nil {
			http.Error(rw, "row and col must be integers", http.StatusBadRequest)
			return
		}
		day := s.world.CurrentDay()
		t := s.world.Grid().At(row, col)
		if t == nil {
			http.Error(rw, "tile not found", http.StatusNotFound)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(observerproto.TileResponse{
			ProtocolVersion: observerproto.Version,
			Day:             day,
			Tile:            t,
		})
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(rw, r) {
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := parseSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}
		first, err := s.layerMsg(sub, s.world.CurrentDay(), s.world.Grid())
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		sess := &session{out: make(chan []byte, 16)}
		sess.update(sub)
		if first != nil {
			sess.out <- first
		}
		s.mu.Lock()
		s.sessions[sid] = sess
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.sessions, sid)
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, ok := parseSubscribe(msg)
			if !ok {
				continue
			}
			if sub.Layer != "" {
				if _, _, err := effects.ParseRef(sub.Layer); err != nil {
					continue
				}
			}
			sess.update(sub)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// WriteTick fans a completed day out to every session: a TICK message, then the session's layer.
func (s *Server) WriteTick(entry world.TickLogEntry) error {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	if len(sessions) == 0 {
		return nil
	}

	tick, err := json.Marshal(observerproto.TickMsg{
		Type:            observerproto.TypeTick,
		ProtocolVersion: observerproto.Version,
		Day:             entry.Day,
		Digest:          entry.Digest,
		Path:            entry.Path,
		Units:           entry.Units,
		Tiles:           entry.Tiles,
		Applied:         entry.Applied,
		Skipped:         entry.Skipped,
		FallbackReason:  entry.FallbackReason,
	})
	if err != nil {
		return err
	}
	g := s.world.Grid()
	for _, sess := range sessions {
		sendLatest(sess.out, tick)
		layer, scale := sess.settings()
		b, err := s.layerMsg(observerproto.SubscribeMsg{Layer: layer, Scale: scale}, entry.Day, g)
		if err != nil {
			if s.log != nil {
				s.log.Printf("observer: layer %q: %v", layer, err)
			}
			continue
		}
		if b != nil {
			sendLatest(sess.out, b)
		}
	}
	return nil
}

// layerMsg renders the subscribed layer; nil when no layer is requested.
func (s *Server) layerMsg(sub observerproto.SubscribeMsg, day uint64, g tile.Grid) ([]byte, error) {
	if sub.Layer == "" {
		return nil, nil
	}
	vals, err := grid.Layer(g, sub.Layer)
	if err != nil {
		return nil, err
	}
	q := encoding.QuantizeLayer(vals, sub.Scale)
	return json.Marshal(observerproto.LayerMsg{
		Type:            observerproto.TypeLayer,
		ProtocolVersion: observerproto.Version,
		Day:             day,
		Layer:           sub.Layer,
		Rows:            g.Rows(),
		Cols:            g.Cols(),
		Min:             q.Min,
		Scale:           q.Scale,
		NoData:          encoding.NoData,
		Encoding:        observerproto.EncodingRLE,
		Data:            encoding.EncodeRLE(q.IDs),
	})
}

func parseSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	if sub.Scale < 0 {
		sub.Scale = 0
	}
	return sub, true
}

// sendLatest enqueues b, discarding the oldest queued message when the client is behind.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
