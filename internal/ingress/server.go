package ingress

import (
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/eidaws/federator-go/internal/config"
	"github.com/eidaws/federator-go/internal/ferrors"
	"github.com/eidaws/federator-go/internal/gateway"
	"github.com/eidaws/federator-go/internal/routing"
)

// Server is the client-facing HTTP surface for one service id (spec
// §4.3 "client -> [Ingress]"). One Server is built per running
// federator process: a process serves exactly one of station-xml,
// station-text, wfcatalog-json, availability-text or
// dataselect-miniseed (SPEC_FULL §6).
type Server struct {
	router *httprouter.Router

	ac         *config.AppContext
	desc       gateway.ServiceDescriptor
	level      routing.Level
	noDataCode int
	log        *logrus.Entry
}

// NewServer wires the query endpoint for desc under path (typically
// "/fdsnws/<service>/1/query"). level is the aggregation granularity
// this service always requests (station-xml defaults to
// routing.LevelStation, the other services to routing.LevelChannel) unless
// the client overrides it with ?level=.
func NewServer(ac *config.AppContext, desc gateway.ServiceDescriptor, path string, level routing.Level) *Server {
	s := &Server{
		router:     httprouter.New(),
		ac:         ac,
		desc:       desc,
		level:      level,
		noDataCode: ac.Config.NoDataCode,
		log:        ac.Log,
	}

	s.router.GET(path, s.handleQuery)
	s.router.POST(path, s.handleQuery)
	s.router.GET("/ready", s.handleReady)

	return s
}

// ServeHTTP lets Server stand in directly as an http.Handler, wrapping
// every request with the CORS policy of SPEC_FULL §C.8 before handing
// off to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.router.ServeHTTP(w, r)
}

// applyCORS mirrors the request Origin rather than emitting a static
// "*" (SPEC_FULL §C.8): the original aiohttp_cors configuration grants
// a concrete allowed-origin resource per request with credentials
// disabled, which this reproduces by reflecting whatever Origin the
// client sent.
func applyCORS(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
	w.Header().Set("Access-Control-Allow-Credentials", "false")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST")
	w.Header().Set("Access-Control-Allow-Headers", "*")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
}

// handleQuery parses the request, enforces client_max_size, and hands
// the selection to a RequestProcessor (spec §4.3).
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	log := s.log.WithField("method", r.Method).WithField("service", s.desc.ServiceID)

	sel, queryParams, noDataCode, err := s.parseRequest(r)
	if err != nil {
		s.writeError(w, log, err)
		return
	}
	sel.Method = s.ac.Config.EndpointRequestMethod

	// A fresh descriptor per request gives text formats their own
	// header-dedup state.
	desc, ok := gateway.Descriptor(s.desc.ServiceID)
	if !ok {
		desc = s.desc
	}
	processor := gateway.NewRequestProcessor(s.ac, desc)
	processor.NoDataCode = noDataCode

	if err := processor.Process(r.Context(), w, sel, queryParams); err != nil {
		s.writeError(w, log, err)
		return
	}
}

// parseRequest enforces client_max_size independently of the
// EpochSplitter's duration ceilings (SPEC_FULL §C.9) before parsing
// either the query string (GET) or body (POST).
func (s *Server) parseRequest(r *http.Request) (routing.Selection, map[string]string, int, error) {
	if r.Method == http.MethodPost {
		limit := s.ac.Config.ClientMaxSize
		if limit > 0 && r.ContentLength > limit {
			return routing.Selection{}, nil, 0, ferrors.New(ferrors.KindPayloadTooLarge, "request body exceeds client_max_size")
		}
		body := r.Body
		if limit > 0 {
			body = http.MaxBytesReader(nil, body, limit)
		}
		sel, qp, nd, err := parsePOST(body, s.desc.ServiceID, s.level, s.noDataCode)
		if err != nil {
			return routing.Selection{}, nil, 0, translateBodyErr(err)
		}
		return sel, qp, nd, nil
	}
	return parseGET(r, s.desc.ServiceID, s.level, s.noDataCode)
}

// translateBodyErr promotes the MaxBytesReader overflow (surfaced by
// bufio.Scanner as a generic read error) to KindPayloadTooLarge rather
// than KindValidation, since it reflects a body-size violation, not a
// malformed selection (SPEC_FULL §C.9).
func translateBodyErr(err error) error {
	if strings.Contains(err.Error(), "http: request body too large") {
		return ferrors.New(ferrors.KindPayloadTooLarge, "request body exceeds client_max_size")
	}
	fe, ok := ferrors.As(err)
	if !ok {
		return ferrors.Wrap(ferrors.KindValidation, "parsing request", err)
	}
	return fe
}

// writeError renders a *ferrors.Error as the machine-readable error
// body from spec §7; any other error is treated as internal.
func (s *Server) writeError(w http.ResponseWriter, log *logrus.Entry, err error) {
	fe, ok := ferrors.As(err)
	if !ok {
		fe = ferrors.Wrap(ferrors.KindInternal, "unexpected error", err)
	}

	if fe.Kind == ferrors.KindNoData {
		w.WriteHeader(fe.HTTPStatus())
		return
	}

	log.WithError(fe).Warn("request failed")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(fe.HTTPStatus())
	body, _ := fe.MarshalJSON()
	_, _ = w.Write(body)
}
