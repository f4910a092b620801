package realtime

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/tidwall/gjson"

	"github.com/agape-platform/realtime/internal"
	"github.com/agape-platform/realtime/pubsub"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

type server struct {
	chain []func(next http.Handler) http.Handler
	final http.Handler
}

func (s *server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h := s.final
	for i := range s.chain {
		h = s.chain[len(s.chain)-1-i](h)
	}
	h.ServeHTTP(w, req)
}

func allowCORS(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, Authorization")
		if req.Method == "OPTIONS" {
			w.WriteHeader(200)
			return
		}
		next.ServeHTTP(w, req)
	}
}

// requireHookSecret gates the internal hook endpoints behind the shared
// bearer secret the REST layer was provisioned with. Constant-time compare.
func requireHookSecret(secret string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		token := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
		if secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			w.WriteHeader(401)
			return
		}
		next(w, req)
	}
}

func writeHookError(w http.ResponseWriter, herr *internal.HandlerError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(herr.StatusCode)
	w.Write(herr.JSON())
}

// hookHandler translates an internal REST-layer POST into a pubsub payload.
// Publishing can fail only if the bus is wedged; that is a 500 the REST layer
// retries.
func hookHandler(n pubsub.Notifier, build func(body gjson.Result) pubsub.Payload) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(405)
			return
		}
		raw, err := io.ReadAll(http.MaxBytesReader(w, req.Body, 1<<20))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeHookError(w, &internal.HandlerError{StatusCode: 413, Kind: internal.KindValidation, Err: err})
				return
			}
			writeHookError(w, internal.NewValidationError("failed to read hook body: %s", err))
			return
		}
		if !gjson.ValidBytes(raw) {
			writeHookError(w, internal.NewValidationError("hook body is not valid JSON"))
			return
		}
		p := build(gjson.ParseBytes(raw))
		if p == nil {
			writeHookError(w, internal.NewValidationError("hook body is missing required fields"))
			return
		}
		if err := n.Notify(pubsub.ChanHooks, p); err != nil {
			logger.Error().Err(err).Str("hook", req.URL.Path).Msg("failed to publish hook")
			writeHookError(w, internal.NewStoreError(err))
			return
		}
		w.WriteHeader(202)
	}
}

// RunRealtimeServer is the main entry point to the server. wsHandler
// terminates websocket sessions; hookNotifier carries REST-originated domain
// events onto the hub's stream; hookSecret guards the internal endpoints.
func RunRealtimeServer(wsHandler http.Handler, bindAddr string, hookNotifier pubsub.Notifier, hookSecret string) {
	// HTTP path routing
	r := mux.NewRouter()
	r.Handle("/live", allowCORS(wsHandler))
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("{}"))
	})

	r.HandleFunc("/_agape/hooks/meeting_lifecycle", requireHookSecret(hookSecret,
		hookHandler(hookNotifier, func(body gjson.Result) pubsub.Payload {
			action := body.Get("action").Str
			if action == "" {
				return nil
			}
			return &pubsub.HookMeetingLifecycle{
				MeetingID:    body.Get("meeting_id").Str,
				HostID:       body.Get("host_id").Str,
				Action:       action,
				RecordingURL: body.Get("recording_url").Str,
			}
		})))
	r.HandleFunc("/_agape/hooks/meeting_event", requireHookSecret(hookSecret,
		hookHandler(hookNotifier, func(body gjson.Result) pubsub.Payload {
			return &pubsub.HookMeetingEvent{
				MeetingID: body.Get("meeting_id").Str,
				ActorID:   body.Get("actor_id").Str,
				Event:     body.Get("event").Str,
			}
		})))
	r.HandleFunc("/_agape/hooks/prayer_event", requireHookSecret(hookSecret,
		hookHandler(hookNotifier, func(body gjson.Result) pubsub.Payload {
			return &pubsub.HookPrayerEvent{
				RequestID: body.Get("request_id").Str,
				CampID:    body.Get("camp_id").Str,
				ActorID:   body.Get("actor_id").Str,
				Event:     body.Get("event").Str,
				Title:     body.Get("title").Str,
				Body:      body.Get("body").Str,
			}
		})))
	r.HandleFunc("/_agape/hooks/notifications_read", requireHookSecret(hookSecret,
		hookHandler(hookNotifier, func(body gjson.Result) pubsub.Payload {
			userID := body.Get("user_id").Str
			if userID == "" {
				return nil
			}
			return &pubsub.HookNotificationsRead{UserID: userID}
		})))

	srv := &server{
		chain: []func(next http.Handler) http.Handler{
			hlog.NewHandler(logger),
			hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
				if r.URL.Path == "/healthz" {
					return
				}
				hlog.FromRequest(r).Info().
					Str("method", r.Method).
					Int("status", status).
					Int("size", size).
					Dur("duration", duration).
					Str("path", r.URL.Path).
					Msg("")
			}),
			hlog.RemoteAddrHandler("ip"),
		},
		final: r,
	}

	// Block forever
	logger.Info().Msgf("listening on %s", bindAddr)
	if err := http.ListenAndServe(bindAddr, srv); err != nil {
		logger.Fatal().Err(err).Msg("failed to listen and serve")
	}
}
