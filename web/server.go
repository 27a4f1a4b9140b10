// Package web serves a live view of a training run: scalar series as JSON
// and SVG plots, the latest visualization images and a websocket stream of
// new points.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/tsawler/go-agrnn/training"
)

const (
	writeWait  = time.Second
	sendBuffer = 64 // queued messages per websocket client
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Message is pushed to websocket clients for every recorded value
type Message struct {
	Type  string  `json:"type"` // "scalar" or "image"
	Tag   string  `json:"tag"`
	Step  int     `json:"step"`
	Value float64 `json:"value,omitempty"`
}

// SeriesInfo summarizes one scalar series
type SeriesInfo struct {
	Tag    string          `json:"tag"`
	Points int             `json:"points"`
	Last   *training.Point `json:"last,omitempty"`
}

// client is one websocket connection with its own writer goroutine
type client struct {
	conn *websocket.Conn
	send chan Message
}

type snapshot struct {
	step int
	png  []byte
}

// Server records the run and serves it over HTTP. It implements the
// training summary sink.
type Server struct {
	mu     sync.Mutex
	series map[string][]training.Point
	images map[string]snapshot
	conns  map[*client]struct{}

	router *mux.Router
	auth   *Credentials
	srv    *http.Server

	PlotWidth, PlotHeight int
}

// NewServer builds the router. auth may be nil.
func NewServer(auth *Credentials) *Server {
	s := &Server{
		series:     make(map[string][]training.Point),
		images:     make(map[string]snapshot),
		conns:      make(map[*client]struct{}),
		auth:       auth,
		PlotWidth:  640,
		PlotHeight: 400,
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/scalars", s.listScalars).Methods(http.MethodGet)
	r.HandleFunc("/api/scalars/{tag:.+}", s.getScalars).Methods(http.MethodGet)
	r.HandleFunc("/plot/{tag:.+}.svg", s.plot).Methods(http.MethodGet)
	r.HandleFunc("/images/{tag:.+}.png", s.serveImage).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.stream)
	if auth != nil {
		r.Use(auth.Middleware)
	}
	s.router = r
	s.srv = &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on ln until Close is called
func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// AddScalar records one point
func (s *Server) AddScalar(tag string, value float64, step int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[tag] = append(s.series[tag], training.Point{Step: step, Value: value})
	s.broadcast(Message{Type: "scalar", Tag: tag, Step: step, Value: value})
	return nil
}

// AddScalars records each value under mainTag/key
func (s *Server) AddScalars(mainTag string, values map[string]float64, step int) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := s.AddScalar(mainTag+"/"+k, values[k], step); err != nil {
			return err
		}
	}
	return nil
}

// AddImage keeps the latest image of tag as PNG
func (s *Server) AddImage(tag string, img image.Image, step int) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("failed to encode %s: %w", tag, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[tag] = snapshot{step: step, png: buf.Bytes()}
	s.broadcast(Message{Type: "image", Tag: tag, Step: step})
	return nil
}

// Close disconnects websocket clients and stops serving
func (s *Server) Close() error {
	s.mu.Lock()
	for c := range s.conns {
		s.drop(c)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// Clients returns the number of connected websocket clients
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// broadcast queues msg for every client without blocking; a client whose
// queue is full is dropped. mu must be held.
func (s *Server) broadcast(msg Message) {
	for c := range s.conns {
		select {
		case c.send <- msg:
		default:
			log.Println("monitor: dropping slow websocket client")
			s.drop(c)
		}
	}
}

// drop disconnects c once. mu must be held.
func (s *Server) drop(c *client) {
	if _, ok := s.conns[c]; !ok {
		return
	}
	delete(s.conns, c)
	close(c.send)
	c.conn.Close()
}

func (s *Server) writePump(c *client) {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			log.Println("monitor: dropping websocket client:", err)
			s.mu.Lock()
			s.drop(c)
			s.mu.Unlock()
			return
		}
	}
}

// collect returns the exact series and any grouped series under tag/
func (s *Server) collect(tag string) map[string][]training.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]training.Point)
	for name, pts := range s.series {
		if name == tag || strings.HasPrefix(name, tag+"/") {
			out[name] = append([]training.Point(nil), pts...)
		}
	}
	return out
}

func (s *Server) listScalars(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	infos := make([]SeriesInfo, 0, len(s.series))
	for tag, pts := range s.series {
		info := SeriesInfo{Tag: tag, Points: len(pts)}
		if len(pts) > 0 {
			last := pts[len(pts)-1]
			info.Last = &last
		}
		infos = append(infos, info)
	}
	s.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Tag < infos[j].Tag })
	writeJSON(w, infos)
}

func (s *Server) getScalars(w http.ResponseWriter, r *http.Request) {
	tag := mux.Vars(r)["tag"]
	series := s.collect(tag)
	if len(series) == 0 {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, series)
}

func (s *Server) plot(w http.ResponseWriter, r *http.Request) {
	tag := mux.Vars(r)["tag"]
	series := s.collect(tag)
	if len(series) == 0 {
		http.NotFound(w, r)
		return
	}
	svg, err := renderSVG(tag, series, s.PlotWidth, s.PlotHeight)
	if err != nil {
		logError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Write(svg)
}

func (s *Server) serveImage(w http.ResponseWriter, r *http.Request) {
	tag := mux.Vars(r)["tag"]
	s.mu.Lock()
	snap, ok := s.images[tag]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Step", fmt.Sprint(snap.step))
	w.Write(snap.png)
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("monitor: websocket upgrade failed:", err)
		return
	}
	c := &client{conn: conn, send: make(chan Message, sendBuffer)}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	go s.writePump(c)

	// drain client frames so close messages are noticed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.mu.Lock()
				s.drop(c)
				s.mu.Unlock()
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Println("monitor:", err)
	}
}

func logError(w http.ResponseWriter, err error) {
	log.Println("monitor:", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
