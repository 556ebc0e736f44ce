package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gravitas-games/forge/internal/config"
	"github.com/gravitas-games/forge/internal/craft"
	"github.com/gravitas-games/forge/internal/inventory"
	"github.com/gravitas-games/forge/internal/ledger"
	"github.com/gravitas-games/forge/internal/network"
	"github.com/gravitas-games/forge/internal/synth"
	"github.com/gravitas-games/forge/pkg/models"
)

// Deps are the collaborators a Server routes requests to. The caller owns
// their lifetimes.
type Deps struct {
	Engine *craft.Engine
	Ledger ledger.Ledger
	// Forge answers stateless synthesis calls on POST /api/craft.
	Forge   synth.Synthesizer
	Catalog *inventory.Catalog
	// EnforceCatalog rejects grants of materials the catalog does not know.
	EnforceCatalog bool
	Auth           Authenticator
	Logger         *zap.Logger
}

// Server exposes the crafting engine over HTTP and websockets
type Server struct {
	config   *config.Config
	engine   *craft.Engine
	ledger   ledger.Ledger
	forge    synth.Synthesizer
	catalog  *inventory.Catalog
	enforce  bool
	auth     Authenticator
	hub      *Hub
	logger   *zap.Logger
	upgrader websocket.Upgrader
	httpSrv  *http.Server

	// Shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new server instance
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Engine == nil || deps.Ledger == nil || deps.Forge == nil || deps.Auth == nil {
		return nil, errors.New("server: engine, ledger, forge and auth are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := &Server{
		config:  cfg,
		engine:  deps.Engine,
		ledger:  deps.Ledger,
		forge:   deps.Forge,
		catalog: deps.Catalog,
		enforce: deps.EnforceCatalog,
		auth:    deps.Auth,
		hub:     NewHub(),
		logger:  logger.Named("server"),
		ctx:     ctx,
		cancel:  cancel,
	}
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    []string{"access_token"},
		CheckOrigin:     srv.checkOrigin,
	}
	return srv, nil
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/craft-request", s.authenticated(s.handleCraftRequest))
	mux.HandleFunc("GET /api/inventory", s.authenticated(s.handleInventory))
	mux.HandleFunc("POST /api/admin/grant", s.authenticated(s.handleGrant))
	mux.HandleFunc("POST /api/craft", s.handleSynthesis)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Start begins listening for connections
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("listening",
		zap.String("websocket", fmt.Sprintf("ws://%s/ws", addr)),
		zap.String("health", fmt.Sprintf("http://%s/health", addr)),
	)

	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones until ctx is
// done, then closes websocket connections.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	s.hub.CloseAll()
	s.cancel()
	return err
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.config.Server.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.config.Server.AllowedOrigins, r.Header.Get("Origin"))
}

type authedHandler func(w http.ResponseWriter, r *http.Request, player *models.Player)

func (s *Server) authenticated(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		player, err := s.auth.ValidateToken(r.Context(), extractToken(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next(w, r, player)
	}
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", network.ErrInvalidRequest, err)
	}
	return body, nil
}

// craft parses a craft request body and executes it for player.
func (s *Server) craft(ctx context.Context, player *models.Player, body []byte) (network.CraftResult, error) {
	req, err := network.DecodeCraft(body)
	if err != nil {
		return network.CraftResult{}, err
	}
	out, err := s.engine.Execute(ctx, player.Owner(), req)
	if err != nil {
		return network.CraftResult{}, err
	}
	return network.CraftResult{
		Success:       true,
		TransactionID: out.TxID.String(),
		Weapon:        out.Item,
		Consumed:      out.Consumed,
		Remaining:     out.Remaining,
	}, nil
}

func (s *Server) inventory(ctx context.Context, owner inventory.OwnerID) (network.InventoryPayload, error) {
	counts, err := s.ledger.Balance(ctx, owner)
	if err != nil {
		return network.InventoryPayload{}, err
	}
	return network.BuildInventory(counts, s.catalog), nil
}

func (s *Server) handleCraftRequest(w http.ResponseWriter, r *http.Request, player *models.Player) {
	body, err := s.readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.craft(r.Context(), player, body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request, player *models.Player) {
	payload, err := s.inventory(r.Context(), player.Owner())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleGrant credits materials to any owner. It is the only way materials
// enter a ledger through the server.
func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request, player *models.Player) {
	if !player.HasPermission(s.config.JWT.AdminPermission) {
		writeJSON(w, http.StatusForbidden, network.ErrorBody{Error: network.ErrorPayload{
			Code:    network.CodeForbidden,
			Message: "admin permission required",
		}})
		return
	}

	body, err := s.readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, items, err := network.DecodeGrant(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.enforce {
		if missing := s.catalog.Missing(items); len(missing) > 0 {
			s.writeError(w, r, &craft.UnknownMaterialError{Materials: missing})
			return
		}
	}

	balance, err := s.ledger.Credit(r.Context(), owner, items)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("materials granted",
		zap.String("owner", string(owner)),
		zap.String("by", player.ID),
		zap.Stringer("items", items),
	)

	payload := network.BuildInventory(balance, s.catalog)
	s.hub.SendToOwner(owner, &network.ServerMessage{Type: network.MsgTypeInventory, Payload: payload})
	writeJSON(w, http.StatusOK, map[string]any{"owner": owner, "inventory": payload.Inventory})
}

// handleSynthesis is the stateless synthesis endpoint remote synthesizers call.
func (s *Server) handleSynthesis(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := network.DecodeSynthesis(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	item, err := s.forge.Synthesize(r.Context(), req.Category, req.Materials)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, synth.Response{Success: true, Weapon: &item})
}

// handleWebSocket handles WebSocket connection requests
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	player, err := s.auth.ValidateToken(r.Context(), extractToken(r))
	if err != nil {
		s.logger.Debug("websocket rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		s.writeError(w, r, err)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	player.ConnectedAt = time.Now()
	conn := NewConnection(ws, s, player)
	s.hub.Add(conn)
	s.logger.Info("websocket connected", zap.String("player", player.ID), zap.String("remote", r.RemoteAddr))

	conn.Handle()

	s.hub.Remove(conn)
	s.logger.Info("websocket closed", zap.String("player", player.ID))
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.hub.Count(),
		"crafts":      s.engine.Stats(),
	})
}
