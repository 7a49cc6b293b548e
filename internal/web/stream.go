package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vadiminshakov/fxdesk/internal/domain"
	"github.com/vadiminshakov/fxdesk/internal/events"
	"github.com/vadiminshakov/fxdesk/internal/storage/journal"
	"go.uber.org/zap"
)

func (s *Server) handleWalletStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.WalletJournal == nil {
		unavailable(w, "wallet journal")
		return
	}
	streamJournal(s, w, r, "wallet", s.deps.WalletJournal.After, s.deps.WalletUpdates)
}

func (s *Server) handleTradeStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.TradeJournal == nil {
		unavailable(w, "trade journal")
		return
	}
	streamJournal(s, w, r, "trade", s.deps.TradeJournal.After, s.deps.TradeUpdates)
}

func startSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return flusher, true
}

// streamJournal replays records after Last-Event-ID and then follows the
// journal. updates only wakes the loop early, the journal stays the source.
func streamJournal[T, N any](
	s *Server,
	w http.ResponseWriter,
	r *http.Request,
	event string,
	after func(uint64) ([]journal.Record[T], error),
	updates *events.Broadcaster[N],
) {
	// load before writing headers so a broken journal is still a 500
	lastIndex := parseLastEventID(r.Header.Get("Last-Event-ID"), r.URL.Query().Get("last_event_id"))
	backlog, err := after(lastIndex)
	if err != nil {
		s.logger.Error("stream initial load failed", zap.String("event", event), zap.Error(err))
		http.Error(w, "failed to load "+event+" journal", http.StatusInternalServerError)
		return
	}

	flusher, ok := startSSE(w)
	if !ok {
		return
	}

	send := func(records []journal.Record[T]) {
		for _, record := range records {
			payload, err := json.Marshal(record.Value)
			if err != nil {
				s.logger.Warn("skip unencodable record", zap.Uint64("index", record.Index), zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "id: %d\n", record.Index)
			fmt.Fprintf(w, "event: %s\n", event)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			lastIndex = record.Index
		}
		flusher.Flush()
	}
	poll := func() {
		records, err := after(lastIndex)
		if err != nil {
			s.logger.Warn("stream poll failed", zap.String("event", event), zap.Error(err))
			return
		}
		if len(records) > 0 {
			send(records)
		}
	}

	send(backlog)

	var wake chan N
	if updates != nil {
		wake = updates.Subscribe()
		defer updates.Unsubscribe(wake)
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(journalPollInterval)
	defer pollTicker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case _, open := <-wake:
			if !open {
				wake = nil
				continue
			}
			poll()
		case <-pollTicker.C:
			poll()
		}
	}
}

type barEvent struct {
	domain.Bar
	Final bool `json:"final"`
}

// handleBarStream serves GET /bars/stream?symbol=EURUSD&interval=1m.
func (s *Server) handleBarStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bars == nil {
		unavailable(w, "market data")
		return
	}

	q := r.URL.Query()
	vendor, ok := s.deps.Bars.NormalizeSymbol(q.Get("symbol"))
	if !ok {
		s.writeError(w, domain.Validationf("unsupported symbol %q", q.Get("symbol")))
		return
	}
	interval := domain.Interval1m
	if raw := q.Get("interval"); raw != "" {
		parsed, err := domain.ParseInterval(raw)
		if err != nil {
			s.writeError(w, err)
			return
		}
		interval = parsed
	}

	bars := make(chan barEvent, 16)
	stream, err := s.deps.Bars.ConnectBarStream(r.Context(), vendor, interval, func(bar domain.Bar, final bool) {
		select {
		case bars <- barEvent{Bar: bar, Final: final}:
		default:
			// slow client, the next update carries the same bar
		}
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer stream.Close()

	flusher, ok := startSSE(w)
	if !ok {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case ev := <-bars:
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: bar\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func parseLastEventID(headerVal, queryVal string) uint64 {
	idStr := strings.TrimSpace(headerVal)
	if idStr == "" {
		idStr = strings.TrimSpace(queryVal)
	}
	if idStr == "" {
		return 0
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
