//////////////////////////////////////////////////////////////////////////////
//
// Websocket preview of captured frame sets
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package preview

import (
	"bytes"
	"encoding/json"
	"image/png"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/lanikai/camhal/internal/camera"
	"github.com/lanikai/camhal/internal/frame"
	"github.com/lanikai/camhal/internal/logging"
)

var log = logging.DefaultLogger.WithTag("preview")

// Pending sets per subscriber before the oldest is dropped.
const subscriberCapacity = 2

// A Server broadcasts the sets it is given to websocket clients. Each set is
// sent as a JSON text message describing all channels, followed by a binary
// message holding one channel as PNG.
type Server struct {
	cam camera.Driver

	subscribers []*subscriber
	closed      bool

	sync.Mutex
}

type subscriber struct {
	sets   chan *frame.Set
	missed int
}

// Header is the JSON message sent ahead of each image.
type Header struct {
	Seq        int         `json:"seq"`
	Count      int         `json:"count"`
	DeviceTime float64     `json:"deviceTime"`
	Channel    int         `json:"channel"`
	Images     []ImageInfo `json:"images"`
}

type ImageInfo struct {
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Type      int     `json:"type"`
	Format    string  `json:"format"`
	Timestamp float64 `json:"timestamp"`
	Path      string  `json:"path,omitempty"`
}

// New returns a server previewing sets captured from cam.
func New(cam camera.Driver) *Server {
	return &Server{cam: cam}
}

// Handler serves the websocket at /ws. The channel to stream is chosen with
// the query parameter "channel" (default 0).
func (srv *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.handleWebsocket)
	return mux
}

// Publish offers s to every subscriber. Slow subscribers lose their oldest
// pending set.
func (srv *Server) Publish(s *frame.Set) {
	srv.Lock()
	defer srv.Unlock()

	for _, sub := range srv.subscribers {
		select {
		case sub.sets <- s:
		default:
			// Drop oldest set, add newest.
			select {
			case <-sub.sets:
			default:
			}
			sub.sets <- s
			sub.missed++
			log.Debug("subscriber missed a set (%d total)", sub.missed)
		}
	}
}

// Subscribers returns the number of connected clients.
func (srv *Server) Subscribers() int {
	srv.Lock()
	defer srv.Unlock()
	return len(srv.subscribers)
}

// Close disconnects every client.
func (srv *Server) Close() {
	srv.Lock()
	defer srv.Unlock()

	srv.closed = true
	for _, sub := range srv.subscribers {
		close(sub.sets)
	}
	srv.subscribers = nil
}

func (srv *Server) subscribe() (*subscriber, error) {
	srv.Lock()
	defer srv.Unlock()

	if srv.closed {
		return nil, errors.New("preview server closed")
	}
	sub := &subscriber{sets: make(chan *frame.Set, subscriberCapacity)}
	srv.subscribers = append(srv.subscribers, sub)
	return sub, nil
}

func (srv *Server) unsubscribe(sub *subscriber) {
	srv.Lock()
	defer srv.Unlock()

	// See https://github.com/golang/go/wiki/SliceTricks
	for i, s := range srv.subscribers {
		if s == sub {
			subs := srv.subscribers
			close(subs[i].sets)
			subs[len(subs)-1], subs[i] = subs[i], subs[len(subs)-1]
			srv.subscribers = subs[:len(subs)-1]
			break
		}
	}
}

func (srv *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	channel := 0
	if v := r.URL.Query().Get("channel"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n >= srv.cam.NumChannels() {
			http.Error(w, "invalid channel", http.StatusBadRequest)
			return
		}
		channel = n
	}

	// Upgrade websocket connection
	ws, err := new(websocket.Upgrader).Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade: %v", err)
		return
	}
	defer ws.Close()

	sub, err := srv.subscribe()
	if err != nil {
		ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()))
		return
	}
	defer srv.unsubscribe(sub)
	log.Info("%s subscribed to channel %d", r.RemoteAddr, channel)

	// Clients only ever close; a read error means they went away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case s, ok := <-sub.sets:
			if !ok {
				ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := send(ws, s, channel); err != nil {
				log.Warn("Failed to send set %d: %v", s.Seq, err)
				return
			}
		}
	}
}

// send writes the header and PNG of one set.
func send(ws *websocket.Conn, s *frame.Set, channel int) error {
	hdr := Header{
		Seq:        s.Seq,
		Count:      s.Count,
		DeviceTime: s.DeviceTime,
		Channel:    channel,
	}
	for _, img := range s.Images {
		hdr.Images = append(hdr.Images, ImageInfo{
			Width:     img.Width,
			Height:    img.Height,
			Type:      int(img.Type),
			Format:    img.Format.String(),
			Timestamp: img.Timestamp,
			Path:      img.Path,
		})
	}
	msg, err := json.Marshal(hdr)
	if err != nil {
		return err
	}
	if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		return err
	}

	data, err := Encode(s, channel)
	if err != nil {
		return err
	}
	return ws.WriteMessage(websocket.BinaryMessage, data)
}

// Encode renders one channel of s as PNG.
func Encode(s *frame.Set, channel int) ([]byte, error) {
	if channel < 0 || channel >= len(s.Images) {
		return nil, errors.Errorf("set has no channel %d", channel)
	}
	img := s.Images[channel].ToImage()
	if img == nil {
		return nil, errors.Errorf("channel %d: %s images of type %d cannot be encoded",
			channel, s.Images[channel].Format, s.Images[channel].Type)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
