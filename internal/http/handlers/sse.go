package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// eventStream writes server-sent events, flushing after each one.
type eventStream struct {
	w   http.ResponseWriter
	rc  *http.ResponseController
	log *zap.Logger
}

// openStream sends the event-stream headers. It returns false when the
// connection cannot be flushed.
func openStream(w http.ResponseWriter, log *zap.Logger) (*eventStream, bool) {
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		log.Debug("write deadline not cleared", zap.Error(err))
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		log.Warn("streaming unsupported", zap.Error(err))
		return nil, false
	}
	return &eventStream{w: w, rc: rc, log: log}, true
}

func (s *eventStream) send(event string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		s.log.Error("encode event", zap.String("event", event), zap.Error(err))
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	return s.rc.Flush()
}

// fail reports a terminal error to the client.
func (s *eventStream) fail(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(s.w, "event: error\ndata: %q\n\n", err.Error())
	_ = s.rc.Flush()
}
