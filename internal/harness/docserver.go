package harness

import (
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/michaelbrown/proctor/internal/backend"
	"github.com/michaelbrown/proctor/internal/bridge"
)

// docServer serves assembled documents to the browser over loopback and
// hosts the bridge endpoint on the same origin. Same-origin is what lets the
// shim's synchronous XHR through without any cross-origin handling.
type docServer struct {
	addr string
	port int
	srv  *http.Server

	mu   sync.RWMutex
	docs map[string]string
}

func newDocServer(exec backend.Executor) (*docServer, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &docServer{
		addr: ln.Addr().String(),
		port: ln.Addr().(*net.TCPAddr).Port,
		docs: make(map[string]string),
	}

	r := chi.NewRouter()
	r.Get("/run/{token}/doc", s.serveDoc)
	r.Post(bridge.Path, bridge.Handler(exec))
	s.srv = &http.Server{Handler: r}

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("document server stopped")
		}
	}()
	return s, nil
}

func (s *docServer) serveDoc(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	s.mu.RLock()
	doc, ok := s.docs[token]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(doc))
}

func (s *docServer) register(html string) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.docs[token] = html
	s.mu.Unlock()
	return token
}

func (s *docServer) unregister(token string) {
	s.mu.Lock()
	delete(s.docs, token)
	s.mu.Unlock()
}

func (s *docServer) Close() {
	s.srv.Close()
}
