package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/OdyseeTeam/powchain/blockchain"
	"github.com/OdyseeTeam/powchain/hashing"
	"github.com/OdyseeTeam/powchain/storage"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

const maxBodySize = 32 << 20

type Server struct {
	chain *blockchain.Chain
	index *storage.Index
	http  *http.Server
}

// New builds the HTTP surface over chain. index may be nil, which disables /sql.
func New(chain *blockchain.Chain, index *storage.Index) *Server {
	return &Server{chain: chain, index: index}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/blockchain", method(http.MethodGet, s.getChain()))
	mux.Handle("/blockchain/length", method(http.MethodGet, s.getLength()))
	mux.Handle("/blockchain/range", method(http.MethodGet, s.getRange()))
	mux.Handle("/blockchain/mine", method(http.MethodPost, s.mine()))
	mux.Handle("/blockchain/replace", method(http.MethodPost, s.replace()))
	if s.index != nil {
		mux.Handle("/sql", s.query())
	}
	return mux
}

// Start serves on addr in the background.
func (s *Server) Start(addr string, readTimeout, writeTimeout time.Duration) {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	go func() {
		logrus.Infof("api listening on %s", addr)
		err := s.http.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Error(err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return errors.WithStack(s.http.Shutdown(ctx))
}

func method(m string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != m {
			w.Header().Set("Allow", m)
			writeError(w, http.StatusMethodNotAllowed, errors.Newf("method %s not allowed", r.Method))
			return
		}
		h.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

type errorResponse struct {
	Error string `json:"error"`
	Index *int   `json:"index,omitempty"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	if i, ok := blockchain.FailedIndex(err); ok {
		resp.Index = &i
	}
	writeJSON(w, status, resp)
}

func (s *Server) getChain() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.chain)
	})
}

func (s *Server) getLength() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"length": s.chain.Len()})
	})
}

func (s *Server) getRange() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start, err := strconv.Atoi(r.FormValue("start"))
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.Wrap(err, "start"))
			return
		}
		end, err := strconv.Atoi(r.FormValue("end"))
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.Wrap(err, "end"))
			return
		}
		writeJSON(w, http.StatusOK, s.chain.Range(start, end))
	})
}

func (s *Server) mine() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		data := blockchain.Payload{}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &data); err != nil {
				writeError(w, http.StatusBadRequest, errors.Wrap(err, "payload must be a JSON array"))
				return
			}
		}

		block, err := s.chain.Append(r.Context(), data)
		if err != nil {
			switch {
			case errors.Is(err, context.Canceled):
				logrus.Debug("client went away while mining")
			case errors.Is(err, blockchain.ErrLedgerViolation), errors.Is(err, hashing.ErrSerialization):
				writeError(w, http.StatusBadRequest, err)
			default:
				writeError(w, http.StatusInternalServerError, err)
			}
			return
		}
		writeJSON(w, http.StatusCreated, block)
	})
}

func (s *Server) replace() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		blocks, err := blockchain.DecodeChain(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		err = s.chain.Replace(blocks)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]int{"length": len(blocks)})
		case errors.Is(err, blockchain.ErrChainNotLonger):
			writeError(w, http.StatusConflict, err)
		case errors.Is(err, blockchain.ErrInvalidChain):
			logrus.Infof("rejected chain: %v", err)
			writeError(w, http.StatusBadRequest, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
	})
}

func (s *Server) query() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.FormValue("query")
		if q == "" {
			writeError(w, http.StatusBadRequest, errors.New("query is required"))
			return
		}
		results, err := s.index.Query(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, results)
	})
}
